// Package storetest holds the behavioural suite every persistence backend
// must pass.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"
)

// Factory returns a fresh, empty backend.
type Factory func(t *testing.T) persistence.PluginPersistence

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

const (
	author  domain.Address = "0xauthor"
	solver  domain.Address = "0xsolver"
	solver2 domain.Address = "0xsolver2"
)

// Run executes the full suite against backends produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, p persistence.PluginPersistence)
	}{
		{"CreateAssignsDenseIDs", testCreateAssignsDenseIDs},
		{"CreateInsufficientFundsConsumesNoID", testCreateInsufficientFunds},
		{"GetUnknown", testGetUnknown},
		{"MutateErrorWritesNothing", testMutateErrorWritesNothing},
		{"MutatePersistsSubmissions", testMutatePersistsSubmissions},
		{"TransferIsAtomicWithWrite", testTransferAtomic},
		{"CloseExpired", testCloseExpired},
		{"ListOrderAndFilter", testList},
		{"ListByAuthor", testListByAuthor},
		{"ConcurrentSubmissions", testConcurrentSubmissions},
		{"ConcurrentCreates", testConcurrentCreates},
		{"ConcurrentWinner", testConcurrentWinner},
		{"ConcurrentWithdraw", testConcurrentWithdraw},
		{"Balances", testBalances},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newStore(t)
			t.Cleanup(func() { _ = p.Close() })
			tt.fn(t, p)
		})
	}
}

func fund(t *testing.T, p persistence.PluginPersistence, addr domain.Address, units int64) {
	t.Helper()
	_, err := p.AccountStorage().Deposit(context.Background(), addr, domain.NewAmount(units))
	require.NoError(t, err)
}

func newRequest(t *testing.T, who domain.Address, reward int64, created time.Time, ttl time.Duration) *domain.Request {
	t.Helper()
	req, err := domain.NewRequest(who, domain.CreateRequestInput{
		Description:     "need a file",
		AcceptedFormats: []string{"pdf", "doc"},
		Reward:          domain.NewAmount(reward),
		ExpirationDate:  created.Add(ttl),
	}, created)
	require.NoError(t, err)
	return req
}

func create(t *testing.T, p persistence.PluginPersistence, who domain.Address, reward int64, created time.Time, ttl time.Duration) *domain.Request {
	t.Helper()
	req := newRequest(t, who, reward, created, ttl)
	out, err := p.LedgerStorage().Create(context.Background(), req, req.EscrowTransfer())
	require.NoError(t, err)
	return out
}

func submit(id int64, who domain.Address, at time.Time) persistence.MutateFunc {
	return func(req *domain.Request) (*domain.Transfer, error) {
		req.CloseIfExpired(at)
		_, err := req.AddSubmission(who, domain.SubmissionInput{FileName: "f.pdf", Format: "pdf", Description: "file", ContentAddress: "cid"}, at)
		return nil, err
	}
}

func testCreateAssignsDenseIDs(t *testing.T, p persistence.PluginPersistence) {
	fund(t, p, author, 100)
	for i := int64(0); i < 3; i++ {
		req := create(t, p, author, 10, base, time.Hour)
		require.Equal(t, i, req.ID)
		require.False(t, req.IsDone)
		require.Equal(t, 0, req.FilesCount())
	}
	got, err := p.LedgerStorage().Get(context.Background(), 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), got.ID)
	require.Equal(t, author, got.Author)
	require.Equal(t, []string{"doc", "pdf"}, got.AcceptedFormats)
	require.True(t, got.Reward.Equal(domain.NewAmount(10)))
	require.True(t, got.ExpirationDate.Equal(base.Add(time.Hour)))
	require.True(t, got.CreationDate.Equal(base))
}

func testCreateInsufficientFunds(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 5)
	req := newRequest(t, author, 10, base, time.Hour)
	_, err := p.LedgerStorage().Create(ctx, req, req.EscrowTransfer())
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)

	bal, err := p.AccountStorage().Balance(ctx, author)
	require.NoError(t, err)
	require.True(t, bal.Equal(domain.NewAmount(5)))

	ok := create(t, p, author, 5, base, time.Hour)
	require.Equal(t, int64(0), ok.ID)

	stats, err := p.LedgerStorage().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), stats.Requests)
	require.True(t, stats.Escrowed.Equal(domain.NewAmount(5)))
}

func testGetUnknown(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	_, err := p.LedgerStorage().Get(ctx, 0)
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
	_, err = p.LedgerStorage().Get(ctx, -1)
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
	_, err = p.LedgerStorage().Mutate(ctx, 7, submit(7, solver, base))
	require.ErrorIs(t, err, domain.ErrRequestNotFound)
}

func testMutateErrorWritesNothing(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 10)
	req := create(t, p, author, 10, base, time.Hour)

	boom := errors.New("boom")
	_, err := p.LedgerStorage().Mutate(ctx, req.ID, func(r *domain.Request) (*domain.Transfer, error) {
		r.Description = "changed"
		r.IsDone = true
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	got, err := p.LedgerStorage().Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, "need a file", got.Description)
	require.False(t, got.IsDone)
}

func testMutatePersistsSubmissions(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 10)
	req := create(t, p, author, 10, base, time.Hour)

	_, err := p.LedgerStorage().Mutate(ctx, req.ID, submit(req.ID, solver, base.Add(time.Minute)))
	require.NoError(t, err)
	_, err = p.LedgerStorage().Mutate(ctx, req.ID, submit(req.ID, solver, base.Add(2*time.Minute)))
	require.ErrorIs(t, err, domain.ErrAlreadyParticipated)

	got, err := p.LedgerStorage().Get(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, 1)
	f := got.Files[0]
	require.Equal(t, 0, f.ID)
	require.Equal(t, solver, f.Author)
	require.Equal(t, "f.pdf", f.FileName)
	require.Equal(t, "pdf", f.Format)
	require.Equal(t, "cid", f.ContentAddress)
	require.True(t, f.CreationDate.Equal(base.Add(time.Minute)))
	require.True(t, got.HasParticipated(solver))
	require.False(t, got.HasParticipated(solver2))
}

func testTransferAtomic(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 10)
	req := create(t, p, author, 10, base, time.Hour)
	_, err := p.LedgerStorage().Mutate(ctx, req.ID, submit(req.ID, solver, base.Add(time.Minute)))
	require.NoError(t, err)

	after := base.Add(2 * time.Hour)
	choose := func(r *domain.Request) (*domain.Transfer, error) {
		r.CloseIfExpired(after)
		tr, err := r.SelectWinner(author, 0)
		if err != nil {
			return nil, err
		}
		return &tr, nil
	}
	got, err := p.LedgerStorage().Mutate(ctx, req.ID, choose)
	require.NoError(t, err)
	require.Equal(t, solver, got.Winner)
	require.Equal(t, domain.StatusPaid, got.Status())

	bal, err := p.AccountStorage().Balance(ctx, solver)
	require.NoError(t, err)
	require.True(t, bal.Equal(domain.NewAmount(10)), "winner balance %s", bal)
	escrow, err := p.AccountStorage().Balance(ctx, domain.EscrowAccount)
	require.NoError(t, err)
	require.True(t, escrow.IsZero(), "escrow balance %s", escrow)

	// a transfer the escrow cannot cover leaves the request untouched
	_, err = p.LedgerStorage().Mutate(ctx, req.ID, func(r *domain.Request) (*domain.Transfer, error) {
		r.RewardWithdrawn = true
		return &domain.Transfer{From: domain.EscrowAccount, To: author, Amount: r.Reward}, nil
	})
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	got, err = p.LedgerStorage().Get(ctx, req.ID)
	require.NoError(t, err)
	require.False(t, got.RewardWithdrawn)

	_, err = p.LedgerStorage().Mutate(ctx, req.ID, choose)
	require.ErrorIs(t, err, domain.ErrAlreadyHaveAWinner)
	bal, err = p.AccountStorage().Balance(ctx, solver)
	require.NoError(t, err)
	require.True(t, bal.Equal(domain.NewAmount(10)))
}

func testCloseExpired(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 100)
	create(t, p, author, 1, base, time.Minute)
	create(t, p, author, 1, base, time.Hour)
	create(t, p, author, 1, base, 2*time.Minute)

	// a deadline equal to now has not passed yet
	closed, err := p.LedgerStorage().CloseExpired(ctx, base.Add(time.Minute))
	require.NoError(t, err)
	require.Empty(t, closed)

	closed, err = p.LedgerStorage().CloseExpired(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2}, closed)

	closed, err = p.LedgerStorage().CloseExpired(ctx, base.Add(10*time.Minute))
	require.NoError(t, err)
	require.Empty(t, closed)

	stats, err := p.LedgerStorage().Stats(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(3), stats.Requests)
	require.Equal(t, int64(1), stats.Active)

	got, err := p.LedgerStorage().Get(ctx, 0)
	require.NoError(t, err)
	require.True(t, got.IsDone)
	got, err = p.LedgerStorage().Get(ctx, 1)
	require.NoError(t, err)
	require.False(t, got.IsDone)
}

func ids(list []*domain.Request) []int64 {
	out := make([]int64, 0, len(list))
	for _, r := range list {
		out = append(out, r.ID)
	}
	return out
}

func testList(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 100)
	for i := 0; i < 4; i++ {
		create(t, p, author, 1, base.Add(time.Duration(i)*time.Second), time.Duration(i+1)*time.Minute)
	}
	_, err := p.LedgerStorage().CloseExpired(ctx, base.Add(150*time.Second))
	require.NoError(t, err)

	all, err := p.LedgerStorage().List(ctx, domain.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2, 3}, ids(all))

	open, err := p.LedgerStorage().List(ctx, domain.ListQuery{ExcludeClosed: true})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 3}, ids(open))

	page, err := p.LedgerStorage().List(ctx, domain.ListQuery{Order: domain.OrderDesc, Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, ids(page))
}

func testListByAuthor(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 100)
	fund(t, p, solver, 100)
	create(t, p, author, 1, base, time.Hour)
	create(t, p, solver, 1, base, time.Hour)
	create(t, p, author, 1, base, time.Hour)

	mine, err := p.LedgerStorage().ListByAuthor(ctx, author, domain.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 2}, ids(mine))

	none, err := p.LedgerStorage().ListByAuthor(ctx, "0xnobody", domain.ListQuery{})
	require.NoError(t, err)
	require.Empty(t, none)
}

func testConcurrentSubmissions(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 10)
	req := create(t, p, author, 10, base, time.Hour)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*2)
	for i := 0; i < workers; i++ {
		who := domain.Address("0xsolver-" + string(rune('a'+i)))
		for j := 0; j < 2; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := p.LedgerStorage().Mutate(ctx, req.ID, submit(req.ID, who, base.Add(time.Minute)))
				errs <- err
			}()
		}
	}
	wg.Wait()
	close(errs)

	var ok, dup int
	for err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, domain.ErrAlreadyParticipated):
			dup++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	require.Equal(t, workers, ok)
	require.Equal(t, workers, dup)

	got, err := p.LedgerStorage().Get(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, got.Files, workers)
	for i, f := range got.Files {
		require.Equal(t, i, f.ID)
	}
}

func testConcurrentCreates(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 5)

	const attempts = 10
	reqs := make([]*domain.Request, attempts)
	for i := range reqs {
		reqs[i] = newRequest(t, author, 1, base, time.Hour)
	}
	var wg sync.WaitGroup
	results := make(chan error, attempts)
	for _, req := range reqs {
		wg.Add(1)
		go func(req *domain.Request) {
			defer wg.Done()
			_, err := p.LedgerStorage().Create(ctx, req, req.EscrowTransfer())
			results <- err
		}(req)
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	}
	require.Equal(t, 5, ok)

	all, err := p.LedgerStorage().List(ctx, domain.ListQuery{})
	require.NoError(t, err)
	require.Equal(t, []int64{0, 1, 2, 3, 4}, ids(all))

	bal, err := p.AccountStorage().Balance(ctx, author)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

// raceSettlement runs settle from many goroutines against one closed request
// and checks that exactly one payout lands and every loser sees loserErr.
func raceSettlement(t *testing.T, p persistence.PluginPersistence, id int64, settle persistence.MutateFunc, loserErr error) {
	t.Helper()
	ctx := context.Background()

	const workers = 16
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.LedgerStorage().Mutate(ctx, id, settle)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var ok int
	for err := range results {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, loserErr)
	}
	require.Equal(t, 1, ok)

	escrow, err := p.AccountStorage().Balance(ctx, domain.EscrowAccount)
	require.NoError(t, err)
	require.True(t, escrow.IsZero(), "escrow balance %s", escrow)
}

func testConcurrentWinner(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 10)
	req := create(t, p, author, 10, base, time.Hour)
	_, err := p.LedgerStorage().Mutate(ctx, req.ID, submit(req.ID, solver, base.Add(time.Minute)))
	require.NoError(t, err)
	_, err = p.LedgerStorage().Mutate(ctx, req.ID, submit(req.ID, solver2, base.Add(2*time.Minute)))
	require.NoError(t, err)

	after := base.Add(2 * time.Hour)
	raceSettlement(t, p, req.ID, func(r *domain.Request) (*domain.Transfer, error) {
		r.CloseIfExpired(after)
		tr, err := r.SelectWinner(author, 1)
		if err != nil {
			return nil, err
		}
		return &tr, nil
	}, domain.ErrAlreadyHaveAWinner)

	bal, err := p.AccountStorage().Balance(ctx, solver2)
	require.NoError(t, err)
	require.True(t, bal.Equal(domain.NewAmount(10)), "winner balance %s", bal)
	bal, err = p.AccountStorage().Balance(ctx, solver)
	require.NoError(t, err)
	require.True(t, bal.IsZero())
}

func testConcurrentWithdraw(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	fund(t, p, author, 10)
	req := create(t, p, author, 10, base, time.Hour)

	after := base.Add(2 * time.Hour)
	raceSettlement(t, p, req.ID, func(r *domain.Request) (*domain.Transfer, error) {
		r.CloseIfExpired(after)
		tr, err := r.Withdraw(author)
		if err != nil {
			return nil, err
		}
		return &tr, nil
	}, domain.ErrAlreadyWithdraw)

	bal, err := p.AccountStorage().Balance(ctx, author)
	require.NoError(t, err)
	require.True(t, bal.Equal(domain.NewAmount(10)), "refund balance %s", bal)
}

func testBalances(t *testing.T, p persistence.PluginPersistence) {
	ctx := context.Background()
	bal, err := p.AccountStorage().Balance(ctx, "0xunknown")
	require.NoError(t, err)
	require.True(t, bal.IsZero())

	_, err = p.AccountStorage().Deposit(ctx, author, domain.NewAmount(0))
	require.ErrorIs(t, err, domain.ErrAmountLessThanZero)

	million, err := domain.ParseEther("1000000")
	require.NoError(t, err)
	_, err = p.AccountStorage().Deposit(ctx, author, million)
	require.NoError(t, err)
	bal, err = p.AccountStorage().Deposit(ctx, author, million)
	require.NoError(t, err)
	require.Equal(t, "2000000000000000000000000", bal.String())

	require.NoError(t, p.Health(ctx))
}
