package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"
)

// Plugin implements PluginPersistence for in-memory storage.
// State is lost on restart; it backs tests and single-process dev servers.
type Plugin struct {
	mu       sync.RWMutex
	requests []*domain.Request
	byAuthor map[domain.Address][]int64
	active   map[int64]struct{}
	balances map[domain.Address]domain.Amount

	// per-request write locks, indexed by id
	locks []*sync.Mutex
}

// NewPlugin creates a new in-memory persistence plugin
func NewPlugin(config persistence.PluginConfig) (persistence.PluginPersistence, error) {
	return &Plugin{
		byAuthor: make(map[domain.Address][]int64),
		active:   make(map[int64]struct{}),
		balances: make(map[domain.Address]domain.Amount),
	}, nil
}

// LedgerStorage returns the request ledger implementation
func (p *Plugin) LedgerStorage() persistence.LedgerStorage {
	return &ledgerStorage{plugin: p}
}

// AccountStorage returns the custody balance implementation
func (p *Plugin) AccountStorage() persistence.AccountStorage {
	return &accountStorage{plugin: p}
}

// Health always returns nil for in-memory storage
func (p *Plugin) Health(ctx context.Context) error {
	return nil
}

// Close is a no-op for in-memory storage
func (p *Plugin) Close() error {
	return nil
}

func init() {
	persistence.RegisterProvider("memory", NewPlugin)
}

// applyLocked moves funds; callers hold p.mu for writing.
func (p *Plugin) applyLocked(t domain.Transfer) error {
	if err := persistence.CheckFunds(t, p.balances[t.From]); err != nil {
		return err
	}
	p.balances[t.From] = p.balances[t.From].Sub(t.Amount)
	p.balances[t.To] = p.balances[t.To].Add(t.Amount)
	return nil
}

type ledgerStorage struct {
	plugin *Plugin
}

func (s *ledgerStorage) Create(ctx context.Context, req *domain.Request, escrow domain.Transfer) (*domain.Request, error) {
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.applyLocked(escrow); err != nil {
		return nil, err
	}
	stored := req.Clone()
	stored.ID = int64(len(p.requests))
	p.requests = append(p.requests, stored)
	p.locks = append(p.locks, &sync.Mutex{})
	p.byAuthor[stored.Author] = append(p.byAuthor[stored.Author], stored.ID)
	if !stored.IsDone {
		p.active[stored.ID] = struct{}{}
	}
	return stored.Clone(), nil
}

func (s *ledgerStorage) Get(ctx context.Context, id int64) (*domain.Request, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()

	if id < 0 || id >= int64(len(p.requests)) {
		return nil, domain.Errorf(domain.KindRequestNotFound, "request %d not found", id)
	}
	return p.requests[id].Clone(), nil
}

func (s *ledgerStorage) lock(id int64) (*sync.Mutex, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	if id < 0 || id >= int64(len(p.locks)) {
		return nil, domain.Errorf(domain.KindRequestNotFound, "request %d not found", id)
	}
	return p.locks[id], nil
}

func (s *ledgerStorage) Mutate(ctx context.Context, id int64, fn persistence.MutateFunc) (*domain.Request, error) {
	l, err := s.lock(id)
	if err != nil {
		return nil, err
	}
	l.Lock()
	defer l.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p := s.plugin
	p.mu.RLock()
	working := p.requests[id].Clone()
	p.mu.RUnlock()

	transfer, err := fn(working)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if transfer != nil {
		if err := p.applyLocked(*transfer); err != nil {
			return nil, err
		}
	}
	working.ID = id
	p.requests[id] = working
	if working.IsDone {
		delete(p.active, id)
	}
	return working.Clone(), nil
}

func (s *ledgerStorage) CloseExpired(ctx context.Context, now time.Time) ([]int64, error) {
	p := s.plugin
	p.mu.RLock()
	candidates := make([]int64, 0, len(p.active))
	for id := range p.active {
		if p.requests[id].Expired(now) {
			candidates = append(candidates, id)
		}
	}
	p.mu.RUnlock()
	sort.Slice(candidates, func(i, j int) bool { return candidates[i] < candidates[j] })

	closed := make([]int64, 0, len(candidates))
	for _, id := range candidates {
		var flipped bool
		_, err := s.Mutate(ctx, id, func(req *domain.Request) (*domain.Transfer, error) {
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

func (s *ledgerStorage) List(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error) {
	p := s.plugin
	p.mu.RLock()
	out := make([]*domain.Request, 0, len(p.requests))
	for _, r := range p.requests {
		out = append(out, r.Clone())
	}
	p.mu.RUnlock()
	return domain.ApplyQuery(out, q), nil
}

func (s *ledgerStorage) ListByAuthor(ctx context.Context, author domain.Address, q domain.ListQuery) ([]*domain.Request, error) {
	p := s.plugin
	p.mu.RLock()
	ids := p.byAuthor[author]
	out := make([]*domain.Request, 0, len(ids))
	for _, id := range ids {
		out = append(out, p.requests[id].Clone())
	}
	p.mu.RUnlock()
	return domain.ApplyQuery(out, q), nil
}

func (s *ledgerStorage) Stats(ctx context.Context) (domain.LedgerStats, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	return domain.LedgerStats{
		Requests: int64(len(p.requests)),
		Active:   int64(len(p.active)),
		Escrowed: p.balances[domain.EscrowAccount],
	}, nil
}

type accountStorage struct {
	plugin *Plugin
}

func (s *accountStorage) Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error) {
	if amount.Sign() <= 0 {
		return domain.Amount{}, domain.Errorf(domain.KindAmountLessThanZero, "deposit must be greater than zero")
	}
	p := s.plugin
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[addr] = p.balances[addr].Add(amount)
	return p.balances[addr], nil
}

func (s *accountStorage) Balance(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	p := s.plugin
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.balances[addr], nil
}
