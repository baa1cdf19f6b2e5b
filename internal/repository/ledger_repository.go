package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/falconandrea/FileSolvers/internal/backoff"
	"github.com/falconandrea/FileSolvers/internal/metrics"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/go-redis/redis/v8"
)

// MutateFunc edits a request and optionally returns the custody transfer
// committed with it. It may run more than once when a transaction retries.
type MutateFunc func(req *domain.Request) (*domain.Transfer, error)

type LedgerRepository interface {
	Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error)
	Get(ctx context.Context, id int64) (*domain.Request, error)
	Mutate(ctx context.Context, id int64, fn MutateFunc) (*domain.Request, error)
	CloseExpired(ctx context.Context, now time.Time) ([]int64, error)
	List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error)
	ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error)
	Stats(ctx context.Context) (domain.LedgerStats, error)

	Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error)
	Balance(ctx context.Context, addr domain.Address) (domain.Amount, error)
}

type ledgerRedisRepo struct {
	rdb        *redis.Client
	prefix     string
	maxRetries int
	// pause spreads out writers that lost a WATCH race
	pause backoff.Policy
}

func NewLedgerRepository(rdb *redis.Client, prefix string, maxRetries int) LedgerRepository {
	if prefix == "" {
		prefix = "filesolvers"
	}
	if maxRetries <= 0 {
		maxRetries = 16
	}
	return &ledgerRedisRepo{
		rdb:        rdb,
		prefix:     prefix,
		maxRetries: maxRetries,
		pause:      backoff.Policy{Kind: backoff.FullJitter, Base: time.Millisecond, Max: 25 * time.Millisecond},
	}
}

// ===== Keys =====
func (r *ledgerRedisRepo) keySeq() string                   { return r.prefix + ":req:seq" }    // STRING: number of requests
func (r *ledgerRedisRepo) keyRequest(id int64) string       { return fmt.Sprintf("%s:req:%d", r.prefix, id) }
func (r *ledgerRedisRepo) keyActive() string                { return r.prefix + ":req:active" } // ZSET: member=id, score=expiration (epoch ms)
func (r *ledgerRedisRepo) keyAuthor(a domain.Address) string { return fmt.Sprintf("%s:author:%s", r.prefix, a) }
func (r *ledgerRedisRepo) keyBalances() string              { return r.prefix + ":balances" } // HASH: address -> base units

// ===== Helpers =====

func notFound(id int64) error {
	return domain.Errorf(domain.KindRequestNotFound, "request %d not found", id)
}

func decodeRequest(raw string) (*domain.Request, error) {
	var req domain.Request
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, fmt.Errorf("decode request: %w", err)
	}
	if req.Files == nil {
		req.Files = []domain.Submission{}
	}
	return &req, nil
}

func readBalance(ctx context.Context, c redis.Cmdable, key string, addr domain.Address) (domain.Amount, error) {
	raw, err := c.HGet(ctx, key, string(addr)).Result()
	if err == redis.Nil {
		return domain.Amount{}, nil
	}
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.ParseAmount(raw)
}

// stageTransfer checks the sender's balance inside a watched transaction
// and queues the balance updates on pipe.
func (r *ledgerRedisRepo) stageTransfer(ctx context.Context, tx *redis.Tx, t domain.Transfer) (func(redis.Pipeliner), error) {
	from, err := readBalance(ctx, tx, r.keyBalances(), t.From)
	if err != nil {
		return nil, err
	}
	if t.Amount.Sign() < 0 {
		return nil, domain.Errorf(domain.KindAmountLessThanZero, "negative transfer")
	}
	if from.Cmp(t.Amount) < 0 {
		return nil, domain.Errorf(domain.KindInsufficientFunds, "%s holds %s, needs %s", t.From, from, t.Amount)
	}
	if t.From == t.To {
		return func(redis.Pipeliner) {}, nil
	}
	to, err := readBalance(ctx, tx, r.keyBalances(), t.To)
	if err != nil {
		return nil, err
	}
	return func(pipe redis.Pipeliner) {
		pipe.HSet(ctx, r.keyBalances(), string(t.From), from.Sub(t.Amount).String(), string(t.To), to.Add(t.Amount).String())
	}, nil
}

// retry runs an optimistic transaction until it commits or the budget runs out.
func (r *ledgerRedisRepo) retry(ctx context.Context, op string, fn func(*redis.Tx) error, keys ...string) error {
	for i := 0; i < r.maxRetries; i++ {
		err := r.rdb.Watch(ctx, fn, keys...)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
		metrics.StoreConflictsTotal.WithLabelValues("redis", op).Inc()
		if err := backoff.Wait(ctx, r.pause.Delay(i, nil)); err != nil {
			return err
		}
	}
	return fmt.Errorf("%s: %w", op, persistence.ErrConflict)
}

// ===== Ledger =====

func (r *ledgerRedisRepo) Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error) {
	var stored *domain.Request
	err := r.retry(ctx, "create", func(tx *redis.Tx) error {
		n, err := tx.Get(ctx, r.keySeq()).Int64()
		if err != nil && err != redis.Nil {
			return err
		}
		apply, err := r.stageTransfer(ctx, tx, escrow)
		if err != nil {
			return err
		}
		stored = req.Clone()
		stored.ID = n
		b, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.keySeq(), n+1, 0)
			pipe.Set(ctx, r.keyRequest(n), b, 0)
			pipe.RPush(ctx, r.keyAuthor(stored.Author), n)
			if !stored.IsDone {
				pipe.ZAdd(ctx, r.keyActive(), &redis.Z{Score: float64(stored.ExpirationDate.UnixMilli()), Member: n})
			}
			apply(pipe)
			return nil
		})
		return err
	}, r.keySeq(), r.keyBalances())
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (r *ledgerRedisRepo) Get(ctx context.Context, id int64) (*domain.Request, error) {
	if id < 0 {
		return nil, notFound(id)
	}
	raw, err := r.rdb.Get(ctx, r.keyRequest(id)).Result()
	if err == redis.Nil {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, err
	}
	return decodeRequest(raw)
}

func (r *ledgerRedisRepo) Mutate(ctx context.Context, id int64, fn MutateFunc) (*domain.Request, error) {
	if id < 0 {
		return nil, notFound(id)
	}
	var out *domain.Request
	err := r.retry(ctx, "mutate", func(tx *redis.Tx) error {
		raw, err := tx.Get(ctx, r.keyRequest(id)).Result()
		if err == redis.Nil {
			return notFound(id)
		}
		if err != nil {
			return err
		}
		req, err := decodeRequest(raw)
		if err != nil {
			return err
		}
		transfer, err := fn(req)
		if err != nil {
			return err
		}
		var apply func(redis.Pipeliner)
		if transfer != nil {
			// balances join the watch set only when money moves
			if err := tx.Watch(ctx, r.keyBalances()).Err(); err != nil {
				return err
			}
			if apply, err = r.stageTransfer(ctx, tx, *transfer); err != nil {
				if _, isDomain := domain.KindOf(err); isDomain {
					// fn may have seen a request another writer already settled
					if current, gerr := tx.Get(ctx, r.keyRequest(id)).Result(); gerr == nil && current != raw {
						return redis.TxFailedErr
					}
				}
				return err
			}
		}
		req.ID = id
		b, err := json.Marshal(req)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, r.keyRequest(id), b, 0)
			if req.IsDone {
				pipe.ZRem(ctx, r.keyActive(), id)
			}
			if apply != nil {
				apply(pipe)
			}
			return nil
		})
		if err != nil {
			return err
		}
		out = req
		return nil
	}, r.keyRequest(id))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (r *ledgerRedisRepo) CloseExpired(ctx context.Context, now time.Time) ([]int64, error) {
	members, err := r.rdb.ZRangeByScore(ctx, r.keyActive(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	closed := make([]int64, 0, len(ids))
	for _, id := range ids {
		var flipped bool
		_, err := r.Mutate(ctx, id, func(req *domain.Request) (*domain.Transfer, error) {
			flipped = req.CloseIfExpired(now)
			return nil, nil
		})
		if err != nil {
			return closed, err
		}
		if flipped {
			closed = append(closed, id)
		}
	}
	return closed, nil
}

func (r *ledgerRedisRepo) load(ctx context.Context, ids []int64) ([]*domain.Request, error) {
	out := make([]*domain.Request, 0, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.keyRequest(id)
	}
	vals, err := r.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	for _, v := range vals {
		s, ok := v.(string)
		if !ok {
			continue
		}
		req, err := decodeRequest(s)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, nil
}

func (r *ledgerRedisRepo) List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error) {
	n, err := r.rdb.Get(ctx, r.keySeq()).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	ids := make([]int64, n)
	for i := range ids {
		ids[i] = int64(i)
	}
	list, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(list, q), nil
}

func (r *ledgerRedisRepo) ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error) {
	members, err := r.rdb.LRange(ctx, r.keyAuthor(author), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		id, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	list, err := r.load(ctx, ids)
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(list, q), nil
}

func (r *ledgerRedisRepo) Stats(ctx context.Context) (domain.LedgerStats, error) {
	pipe := r.rdb.Pipeline()
	seq := pipe.Get(ctx, r.keySeq())
	active := pipe.ZCard(ctx, r.keyActive())
	escrow := pipe.HGet(ctx, r.keyBalances(), string(domain.EscrowAccount))
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.LedgerStats{}, err
	}
	var stats domain.LedgerStats
	stats.Requests, _ = seq.Int64()
	stats.Active = active.Val()
	if raw, err := escrow.Result(); err == nil {
		amt, err := domain.ParseAmount(raw)
		if err != nil {
			return domain.LedgerStats{}, err
		}
		stats.Escrowed = amt
	}
	return stats, nil
}

// ===== Accounts =====

func (r *ledgerRedisRepo) Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error) {
	if amount.Sign() <= 0 {
		return domain.Amount{}, domain.Errorf(domain.KindAmountLessThanZero, "deposit must be greater than zero")
	}
	var bal domain.Amount
	err := r.retry(ctx, "deposit", func(tx *redis.Tx) error {
		cur, err := readBalance(ctx, tx, r.keyBalances(), addr)
		if err != nil {
			return err
		}
		bal = cur.Add(amount)
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, r.keyBalances(), string(addr), bal.String())
			return nil
		})
		return err
	}, r.keyBalances())
	if err != nil {
		return domain.Amount{}, err
	}
	return bal, nil
}

func (r *ledgerRedisRepo) Balance(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	return readBalance(ctx, r.rdb, r.keyBalances(), addr)
}
