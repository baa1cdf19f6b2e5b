package repository

import (
	"context"
	"testing"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
)

func setupLedgerRepo(t *testing.T) (context.Context, *miniredis.Miniredis, LedgerRepository) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return context.Background(), mr, NewLedgerRepository(rdb, "fs", 0)
}

func seedRequest(t *testing.T, ctx context.Context, repo LedgerRepository, now time.Time) *domain.Request {
	t.Helper()
	if _, err := repo.Deposit(ctx, "0xauthor", domain.NewAmount(100)); err != nil {
		t.Fatalf("Deposit: %v", err)
	}
	req, err := domain.NewRequest("0xauthor", domain.CreateRequestInput{
		Description:     "need a pdf",
		AcceptedFormats: []string{"pdf"},
		Reward:          domain.NewAmount(40),
		ExpirationDate:  now.Add(time.Hour),
	}, now)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	out, err := repo.Create(ctx, req, req.EscrowTransfer())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return out
}

func TestLedgerRepositoryKeyLayout(t *testing.T) {
	ctx, mr, repo := setupLedgerRepo(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := seedRequest(t, ctx, repo, now)

	if got, _ := mr.Get("fs:req:seq"); got != "1" {
		t.Fatalf("expected seq 1, got %q", got)
	}
	if !mr.Exists("fs:req:0") {
		t.Fatal("request key missing")
	}
	members, err := mr.ZMembers("fs:req:active")
	if err != nil || len(members) != 1 || members[0] != "0" {
		t.Fatalf("unexpected active set %v (err=%v)", members, err)
	}
	if got := mr.HGet("fs:balances", "0xauthor"); got != "60" {
		t.Fatalf("expected author balance 60, got %q", got)
	}
	if got := mr.HGet("fs:balances", string(domain.EscrowAccount)); got != "40" {
		t.Fatalf("expected escrow balance 40, got %q", got)
	}
	list, err := mr.List("fs:author:0xauthor")
	if err != nil || len(list) != 1 || list[0] != "0" {
		t.Fatalf("unexpected author index %v (err=%v)", list, err)
	}

	closed, err := repo.CloseExpired(ctx, req.ExpirationDate.Add(time.Second))
	if err != nil {
		t.Fatalf("CloseExpired: %v", err)
	}
	if len(closed) != 1 || closed[0] != 0 {
		t.Fatalf("unexpected closed ids %v", closed)
	}
	if members, _ := mr.ZMembers("fs:req:active"); len(members) != 0 {
		t.Fatalf("closed request still in active set: %v", members)
	}
}

func TestLedgerRepositoryCloseExpiredRechecksDeadline(t *testing.T) {
	ctx, _, repo := setupLedgerRepo(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := seedRequest(t, ctx, repo, now)

	// the active index has millisecond precision; the deadline itself has not passed
	closed, err := repo.CloseExpired(ctx, req.ExpirationDate)
	if err != nil {
		t.Fatalf("CloseExpired: %v", err)
	}
	if len(closed) != 0 {
		t.Fatalf("request closed at its deadline: %v", closed)
	}
	got, err := repo.Get(ctx, req.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.IsDone {
		t.Fatal("request should still be active")
	}
}

func TestLedgerRepositoryWithdrawMovesFunds(t *testing.T) {
	ctx, mr, repo := setupLedgerRepo(t)
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	req := seedRequest(t, ctx, repo, now)
	after := req.ExpirationDate.Add(time.Minute)

	withdraw := func(r *domain.Request) (*domain.Transfer, error) {
		r.CloseIfExpired(after)
		tr, err := r.Withdraw("0xauthor")
		if err != nil {
			return nil, err
		}
		return &tr, nil
	}
	got, err := repo.Mutate(ctx, req.ID, withdraw)
	if err != nil {
		t.Fatalf("Mutate: %v", err)
	}
	if !got.RewardWithdrawn || !got.IsDone {
		t.Fatalf("unexpected request state %+v", got)
	}
	if bal := mr.HGet("fs:balances", "0xauthor"); bal != "100" {
		t.Fatalf("expected refunded balance 100, got %q", bal)
	}
	if bal := mr.HGet("fs:balances", string(domain.EscrowAccount)); bal != "0" {
		t.Fatalf("expected empty escrow, got %q", bal)
	}

	if _, err := repo.Mutate(ctx, req.ID, withdraw); err == nil {
		t.Fatal("second withdraw should fail")
	} else if kind, _ := domain.KindOf(err); kind != domain.KindAlreadyWithdraw {
		t.Fatalf("expected AlreadyWithdraw, got %v", err)
	}
	if bal := mr.HGet("fs:balances", "0xauthor"); bal != "100" {
		t.Fatalf("balance changed after rejected withdraw: %q", bal)
	}
}

func TestLedgerRepositoryCorruptRecord(t *testing.T) {
	ctx, mr, repo := setupLedgerRepo(t)
	if err := mr.Set("fs:req:0", "{not json"); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if _, err := repo.Get(ctx, 0); err == nil {
		t.Fatal("expected decode error")
	}
}
