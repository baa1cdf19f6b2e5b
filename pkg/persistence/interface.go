package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"
)

// ErrConflict is returned when an optimistic write lost a race too many times
var ErrConflict = errors.New("concurrent modification")

// PluginPersistence provides storage operations for persistence plugins.
// This is the main interface that all persistence backends must implement.
type PluginPersistence interface {
	// LedgerStorage returns the request ledger implementation
	LedgerStorage() LedgerStorage

	// AccountStorage returns the custody balance implementation
	AccountStorage() AccountStorage

	// Health checks if the persistence backend is healthy
	Health(ctx context.Context) error

	// Close releases resources held by the persistence backend
	Close() error
}

// MutateFunc edits a request in place and optionally returns a transfer
// that must be applied together with the write. It must not have side
// effects outside req because a backend may call it more than once.
type MutateFunc func(req *domain.Request) (*domain.Transfer, error)

// LedgerStorage defines persistence operations for requests.
//
// Every write is serialized per request and applied atomically with the
// custody transfer it carries: either both become visible or neither does.
type LedgerStorage interface {
	// Create assigns the next dense id to req, debits the escrow transfer
	// and stores the request. A failed create consumes no id.
	Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error)

	// Get returns a snapshot of the request or domain.ErrRequestNotFound.
	Get(ctx context.Context, id int64) (*domain.Request, error)

	// Mutate loads the request, runs fn under the per-request lock and
	// persists the result. When fn returns an error nothing is written and
	// the error is returned unchanged.
	Mutate(ctx context.Context, id int64, fn MutateFunc) (*domain.Request, error)

	// CloseExpired closes every active request whose deadline has passed at
	// now and returns their ids in ascending order.
	CloseExpired(ctx context.Context, now time.Time) ([]int64, error)

	// List returns requests in creation order.
	List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error)

	// ListByAuthor returns the requests created by author in creation order.
	ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error)

	// Stats returns ledger-wide counters.
	Stats(ctx context.Context) (domain.LedgerStats, error)
}

// AccountStorage defines persistence operations for custody balances.
type AccountStorage interface {
	// Deposit credits addr and returns the new balance.
	Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error)

	// Balance returns the balance of addr; unknown accounts hold zero.
	Balance(ctx context.Context, addr domain.Address) (domain.Amount, error)
}
