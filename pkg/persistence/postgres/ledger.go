package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	insertColumns  = `id, author, description, accepted_formats, reward, creation_date, expiration_date,
	is_done, winner, winner_file_id, reward_withdrawn`
	requestColumns = `id, author, description, accepted_formats, reward::text, creation_date, expiration_date,
	is_done, winner, winner_file_id, reward_withdrawn`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func scanRequest(row pgx.Row) (*domain.Request, error) {
	var (
		req              domain.Request
		author, winner   string
		reward           string
		created, expires int64
	)
	if err := row.Scan(&req.ID, &author, &req.Description, &req.AcceptedFormats, &reward, &created, &expires,
		&req.IsDone, &winner, &req.WinnerFileID, &req.RewardWithdrawn); err != nil {
		return nil, err
	}
	amt, err := domain.ParseAmount(reward)
	if err != nil {
		return nil, fmt.Errorf("decode reward of request %d: %w", req.ID, err)
	}
	req.Author = domain.Address(author)
	req.Winner = domain.Address(winner)
	req.Reward = amt
	req.CreationDate = fromNanos(created)
	req.ExpirationDate = fromNanos(expires)
	req.Files = []domain.Submission{}
	return &req, nil
}

func loadSubmissions(ctx context.Context, q querier, where string, args ...any) (map[int64][]domain.Submission, error) {
	rows, err := q.Query(ctx, `
SELECT request_id, id, author, file_name, format, description, content_address, creation_date
FROM submissions `+where+`
ORDER BY request_id, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]domain.Submission)
	for rows.Next() {
		var (
			reqID, created int64
			author         string
			s              domain.Submission
		)
		if err := rows.Scan(&reqID, &s.ID, &author, &s.FileName, &s.Format, &s.Description, &s.ContentAddress, &created); err != nil {
			return nil, err
		}
		s.Author = domain.Address(author)
		s.CreationDate = fromNanos(created)
		out[reqID] = append(out[reqID], s)
	}
	return out, rows.Err()
}

func getRequest(ctx context.Context, q querier, id int64, lock bool) (*domain.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM requests WHERE id = $1`
	if lock {
		query += ` FOR UPDATE`
	}
	req, err := scanRequest(q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.Errorf(domain.KindRequestNotFound, "request %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	subs, err := loadSubmissions(ctx, q, `WHERE request_id = $1`, id)
	if err != nil {
		return nil, err
	}
	if files := subs[id]; files != nil {
		req.Files = files
	}
	return req, nil
}

func listRequests(ctx context.Context, q querier, where string, args ...any) ([]*domain.Request, error) {
	rows, err := q.Query(ctx, `SELECT `+requestColumns+` FROM requests `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	var list []*domain.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		list = append(list, req)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subWhere := ""
	if where != "" {
		subWhere = `WHERE request_id IN (SELECT id FROM requests ` + where + `)`
	} else {
		args = nil
	}
	subs, err := loadSubmissions(ctx, q, subWhere, args...)
	if err != nil {
		return nil, err
	}
	for _, req := range list {
		if files := subs[req.ID]; files != nil {
			req.Files = files
		}
	}
	return list, nil
}

// lockBalances creates missing rows and locks them in address order so that
// concurrent transfers never deadlock.
func lockBalances(ctx context.Context, tx pgx.Tx, addrs ...domain.Address) (map[domain.Address]domain.Amount, error) {
	keys := make([]string, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	for _, a := range addrs {
		if !seen[string(a)] {
			seen[string(a)] = true
			keys = append(keys, string(a))
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, err := tx.Exec(ctx, `INSERT INTO balances (address, amount) VALUES ($1, 0) ON CONFLICT (address) DO NOTHING`, k); err != nil {
			return nil, err
		}
	}
	rows, err := tx.Query(ctx, `SELECT address, amount::text FROM balances WHERE address = ANY($1) ORDER BY address FOR UPDATE`, keys)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[domain.Address]domain.Amount, len(keys))
	for rows.Next() {
		var addr, raw string
		if err := rows.Scan(&addr, &raw); err != nil {
			return nil, err
		}
		amt, err := domain.ParseAmount(raw)
		if err != nil {
			return nil, err
		}
		out[domain.Address(addr)] = amt
	}
	return out, rows.Err()
}

func applyTransfer(ctx context.Context, tx pgx.Tx, t domain.Transfer) error {
	bal, err := lockBalances(ctx, tx, t.From, t.To)
	if err != nil {
		return err
	}
	if err := persistence.CheckFunds(t, bal[t.From]); err != nil {
		return err
	}
	if t.From == t.To {
		return nil
	}
	if _, err := tx.Exec(ctx, `UPDATE balances SET amount = amount - $2::numeric WHERE address = $1`, string(t.From), t.Amount.String()); err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `UPDATE balances SET amount = amount + $2::numeric WHERE address = $1`, string(t.To), t.Amount.String())
	return err
}

func readBalance(ctx context.Context, q querier, addr domain.Address) (domain.Amount, error) {
	var raw string
	err := q.QueryRow(ctx, `SELECT amount::text FROM balances WHERE address = $1`, string(addr)).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Amount{}, nil
	}
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.ParseAmount(raw)
}

type ledgerStorage struct {
	pool *pgxpool.Pool
}

func (s *ledgerStorage) Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error) {
	stored := req.Clone()
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, `SELECT next_id FROM ledger_seq WHERE singleton FOR UPDATE`).Scan(&stored.ID); err != nil {
			return err
		}
		if err := applyTransfer(ctx, tx, escrow); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `INSERT INTO requests (`+insertColumns+`) VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9, $10, $11)`,
			stored.ID, string(stored.Author), stored.Description, stored.AcceptedFormats, stored.Reward.String(),
			stored.CreationDate.UnixNano(), stored.ExpirationDate.UnixNano(),
			stored.IsDone, string(stored.Winner), stored.WinnerFileID, stored.RewardWithdrawn); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `UPDATE ledger_seq SET next_id = next_id + 1 WHERE singleton`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *ledgerStorage) Get(ctx context.Context, id int64) (*domain.Request, error) {
	return getRequest(ctx, s.pool, id, false)
}

func (s *ledgerStorage) Mutate(ctx context.Context, id int64, fn persistence.MutateFunc) (*domain.Request, error) {
	var out *domain.Request
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		req, err := getRequest(ctx, tx, id, true)
		if err != nil {
			return err
		}
		before := len(req.Files)
		transfer, err := fn(req)
		if err != nil {
			return err
		}
		if transfer != nil {
			if err := applyTransfer(ctx, tx, *transfer); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `
UPDATE requests SET is_done = $2, winner = $3, winner_file_id = $4, reward_withdrawn = $5
WHERE id = $1`, id, req.IsDone, string(req.Winner), req.WinnerFileID, req.RewardWithdrawn); err != nil {
			return err
		}
		for _, f := range req.Files[before:] {
			if _, err := tx.Exec(ctx, `
INSERT INTO submissions (request_id, id, author, file_name, format, description, content_address, creation_date)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`, id, f.ID, string(f.Author), f.FileName, f.Format, f.Description, f.ContentAddress, f.CreationDate.UnixNano()); err != nil {
				return fmt.Errorf("insert submission %d of request %d: %w", f.ID, id, err)
			}
		}
		req.ID = id
		out = req
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *ledgerStorage) CloseExpired(ctx context.Context, now time.Time) ([]int64, error) {
	rows, err := s.pool.Query(ctx, `
UPDATE requests SET is_done = TRUE
WHERE NOT is_done AND expiration_date < $1
RETURNING id`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *ledgerStorage) List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error) {
	list, err := listRequests(ctx, s.pool, "")
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(list, q), nil
}

func (s *ledgerStorage) ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error) {
	list, err := listRequests(ctx, s.pool, `WHERE author = $1`, string(author))
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(list, q), nil
}

func (s *ledgerStorage) Stats(ctx context.Context) (domain.LedgerStats, error) {
	var stats domain.LedgerStats
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*), COUNT(*) FILTER (WHERE NOT is_done) FROM requests`).Scan(&stats.Requests, &stats.Active)
	if err != nil {
		return domain.LedgerStats{}, err
	}
	stats.Escrowed, err = readBalance(ctx, s.pool, domain.EscrowAccount)
	if err != nil {
		return domain.LedgerStats{}, err
	}
	return stats, nil
}

type accountStorage struct {
	pool *pgxpool.Pool
}

func (s *accountStorage) Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error) {
	if amount.Sign() <= 0 {
		return domain.Amount{}, domain.Errorf(domain.KindAmountLessThanZero, "deposit must be greater than zero")
	}
	var raw string
	err := s.pool.QueryRow(ctx, `
INSERT INTO balances (address, amount) VALUES ($1, $2::numeric)
ON CONFLICT (address) DO UPDATE SET amount = balances.amount + excluded.amount
RETURNING amount::text`, string(addr), amount.String()).Scan(&raw)
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.ParseAmount(raw)
}

func (s *accountStorage) Balance(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	return readBalance(ctx, s.pool, addr)
}
