package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"
)

const requestColumns = `id, author, description, accepted_formats, reward, creation_date, expiration_date,
	is_done, winner, winner_file_id, reward_withdrawn`

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func scanRequest(row scanner) (*domain.Request, error) {
	var (
		req               domain.Request
		author, winner    string
		formats, reward   string
		created, expires  int64
		isDone, withdrawn bool
	)
	if err := row.Scan(&req.ID, &author, &req.Description, &formats, &reward, &created, &expires,
		&isDone, &winner, &req.WinnerFileID, &withdrawn); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(formats), &req.AcceptedFormats); err != nil {
		return nil, fmt.Errorf("decode accepted formats of request %d: %w", req.ID, err)
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
	req.IsDone = isDone
	req.RewardWithdrawn = withdrawn
	req.Files = []domain.Submission{}
	return &req, nil
}

func loadSubmissions(ctx context.Context, q queryer, where string, args ...any) (map[int64][]domain.Submission, error) {
	rows, err := q.QueryContext(ctx, `
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

func getRequest(ctx context.Context, q queryer, id int64) (*domain.Request, error) {
	req, err := scanRequest(q.QueryRowContext(ctx, `SELECT `+requestColumns+` FROM requests WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.Errorf(domain.KindRequestNotFound, "request %d not found", id)
	}
	if err != nil {
		return nil, err
	}
	subs, err := loadSubmissions(ctx, q, `WHERE request_id = ?`, id)
	if err != nil {
		return nil, err
	}
	if files := subs[id]; files != nil {
		req.Files = files
	}
	return req, nil
}

func listRequests(ctx context.Context, q queryer, where string, args ...any) ([]*domain.Request, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+requestColumns+` FROM requests `+where+` ORDER BY id`, args...)
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

	subWhere, subArgs := "", []any(nil)
	if where != "" {
		subWhere = `WHERE request_id IN (SELECT id FROM requests ` + where + `)`
		subArgs = args
	}
	subs, err := loadSubmissions(ctx, q, subWhere, subArgs...)
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

func readBalance(ctx context.Context, q queryer, addr domain.Address) (domain.Amount, error) {
	var raw string
	err := q.QueryRowContext(ctx, `SELECT amount FROM balances WHERE address = ?`, string(addr)).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Amount{}, nil
	}
	if err != nil {
		return domain.Amount{}, err
	}
	return domain.ParseAmount(raw)
}

func writeBalance(ctx context.Context, q queryer, addr domain.Address, amt domain.Amount) error {
	_, err := q.ExecContext(ctx, `
INSERT INTO balances (address, amount) VALUES (?, ?)
ON CONFLICT (address) DO UPDATE SET amount = excluded.amount`, string(addr), amt.String())
	return err
}

func applyTransfer(ctx context.Context, q queryer, t domain.Transfer) error {
	from, err := readBalance(ctx, q, t.From)
	if err != nil {
		return err
	}
	if err := persistence.CheckFunds(t, from); err != nil {
		return err
	}
	if t.From == t.To {
		return nil
	}
	to, err := readBalance(ctx, q, t.To)
	if err != nil {
		return err
	}
	if err := writeBalance(ctx, q, t.From, from.Sub(t.Amount)); err != nil {
		return err
	}
	return writeBalance(ctx, q, t.To, to.Add(t.Amount))
}

func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

type ledgerStorage struct {
	db *sql.DB
}

func (s *ledgerStorage) Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error) {
	stored := req.Clone()
	formats, err := json.Marshal(stored.AcceptedFormats)
	if err != nil {
		return nil, err
	}
	err = inTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := applyTransfer(ctx, tx, escrow); err != nil {
			return err
		}
		if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(id) + 1, 0) FROM requests`).Scan(&stored.ID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT INTO requests (`+requestColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			stored.ID, string(stored.Author), stored.Description, string(formats), stored.Reward.String(),
			stored.CreationDate.UnixNano(), stored.ExpirationDate.UnixNano(),
			stored.IsDone, string(stored.Winner), stored.WinnerFileID, stored.RewardWithdrawn)
		return err
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

func (s *ledgerStorage) Get(ctx context.Context, id int64) (*domain.Request, error) {
	return getRequest(ctx, s.db, id)
}

func (s *ledgerStorage) Mutate(ctx context.Context, id int64, fn persistence.MutateFunc) (*domain.Request, error) {
	var out *domain.Request
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		req, err := getRequest(ctx, tx, id)
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
		if _, err := tx.ExecContext(ctx, `
UPDATE requests SET is_done = ?, winner = ?, winner_file_id = ?, reward_withdrawn = ?
WHERE id = ?`, req.IsDone, string(req.Winner), req.WinnerFileID, req.RewardWithdrawn, id); err != nil {
			return err
		}
		for _, f := range req.Files[before:] {
			if _, err := tx.ExecContext(ctx, `
INSERT INTO submissions (request_id, id, author, file_name, format, description, content_address, creation_date)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, id, f.ID, string(f.Author), f.FileName, f.Format, f.Description, f.ContentAddress, f.CreationDate.UnixNano()); err != nil {
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
	rows, err := s.db.QueryContext(ctx, `
UPDATE requests SET is_done = 1
WHERE is_done = 0 AND expiration_date < ?
RETURNING id`, now.UnixNano())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (s *ledgerStorage) List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error) {
	list, err := listRequests(ctx, s.db, "")
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(list, q), nil
}

func (s *ledgerStorage) ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error) {
	list, err := listRequests(ctx, s.db, `WHERE author = ?`, string(author))
	if err != nil {
		return nil, err
	}
	return domain.ApplyQuery(list, q), nil
}

func (s *ledgerStorage) Stats(ctx context.Context) (domain.LedgerStats, error) {
	var stats domain.LedgerStats
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(CASE WHEN is_done = 0 THEN 1 ELSE 0 END), 0) FROM requests`).Scan(&stats.Requests, &stats.Active)
	if err != nil {
		return domain.LedgerStats{}, err
	}
	stats.Escrowed, err = readBalance(ctx, s.db, domain.EscrowAccount)
	if err != nil {
		return domain.LedgerStats{}, err
	}
	return stats, nil
}

type accountStorage struct {
	db *sql.DB
}

func (s *accountStorage) Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error) {
	if amount.Sign() <= 0 {
		return domain.Amount{}, domain.Errorf(domain.KindAmountLessThanZero, "deposit must be greater than zero")
	}
	var bal domain.Amount
	err := inTx(ctx, s.db, func(tx *sql.Tx) error {
		cur, err := readBalance(ctx, tx, addr)
		if err != nil {
			return err
		}
		bal = cur.Add(amount)
		return writeBalance(ctx, tx, addr, bal)
	})
	if err != nil {
		return domain.Amount{}, err
	}
	return bal, nil
}

func (s *accountStorage) Balance(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	return readBalance(ctx, s.db, addr)
}
