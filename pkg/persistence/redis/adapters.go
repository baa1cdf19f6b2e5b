package redis

import (
	"context"
	"time"

	"github.com/falconandrea/FileSolvers/internal/repository"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"
)

// ledgerStorageAdapter adapts repository.LedgerRepository to persistence.LedgerStorage
type ledgerStorageAdapter struct {
	repo repository.LedgerRepository
}

func (a *ledgerStorageAdapter) Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error) {
	return a.repo.Create(ctx, req, escrow)
}

func (a *ledgerStorageAdapter) Get(ctx context.Context, id int64) (*domain.Request, error) {
	return a.repo.Get(ctx, id)
}

func (a *ledgerStorageAdapter) Mutate(ctx context.Context, id int64, fn persistence.MutateFunc) (*domain.Request, error) {
	return a.repo.Mutate(ctx, id, repository.MutateFunc(fn))
}

func (a *ledgerStorageAdapter) CloseExpired(ctx context.Context, now time.Time) ([]int64, error) {
	return a.repo.CloseExpired(ctx, now)
}

func (a *ledgerStorageAdapter) List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error) {
	return a.repo.List(ctx, q)
}

func (a *ledgerStorageAdapter) ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error) {
	return a.repo.ListByAuthor(ctx, author, q)
}

func (a *ledgerStorageAdapter) Stats(ctx context.Context) (domain.LedgerStats, error) {
	return a.repo.Stats(ctx)
}

// accountStorageAdapter adapts repository.LedgerRepository to persistence.AccountStorage
type accountStorageAdapter struct {
	repo repository.LedgerRepository
}

func (a *accountStorageAdapter) Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error) {
	return a.repo.Deposit(ctx, addr, amount)
}

func (a *accountStorageAdapter) Balance(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	return a.repo.Balance(ctx, addr)
}
