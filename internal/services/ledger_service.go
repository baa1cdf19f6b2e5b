package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/falconandrea/FileSolvers/internal/metrics"
	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/falconandrea/FileSolvers/pkg/persistence"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// EventPublisher receives ledger events after the store has committed them.
type EventPublisher interface {
	Publish(ctx context.Context, ev domain.Event)
}

type LedgerService interface {
	CreateRequest(ctx context.Context, author domain.Address, in domain.CreateRequestInput) (*domain.Request, error)
	SendFile(ctx context.Context, submitter domain.Address, id int64, in domain.SubmissionInput) (*domain.Submission, error)
	CloseExpired(ctx context.Context) ([]int64, error)
	ChooseWinner(ctx context.Context, caller domain.Address, id int64, fileID int) (*domain.Request, error)
	WithdrawReward(ctx context.Context, caller domain.Address, id int64) (*domain.Request, error)

	GetRequest(ctx context.Context, id int64) (*domain.Request, error)
	GetRequests(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error)
	GetMyRequests(ctx context.Context, caller domain.Address, q domain.ListQuery) ([]*domain.Request, error)

	Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error)
	Balance(ctx context.Context, addr domain.Address) (domain.Amount, error)
	Escrowed(ctx context.Context) (domain.Amount, error)
	Stats(ctx context.Context) (domain.LedgerStats, error)
}

type ledgerService struct {
	ledger    persistence.LedgerStorage
	accounts  persistence.AccountStorage
	publisher EventPublisher
	logger    *slog.Logger
	now       func() time.Time
}

func NewLedgerService(store persistence.PluginPersistence, publisher EventPublisher, logger *slog.Logger, now func() time.Time) LedgerService {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &ledgerService{
		ledger:    store.LedgerStorage(),
		accounts:  store.AccountStorage(),
		publisher: publisher,
		logger:    logger,
		now:       now,
	}
}

var tracer = otel.Tracer("filesolvers/ledger")

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "filesolvers.ledger."+name, trace.WithAttributes(attrs...))
}

// fail records err on the span and counts domain rejections.
func fail(span trace.Span, operation string, err error) error {
	span.RecordError(err)
	if kind, ok := domain.KindOf(err); ok {
		span.SetStatus(codes.Error, string(kind))
		metrics.OperationRejectedTotal.WithLabelValues(operation, string(kind)).Inc()
	} else {
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *ledgerService) publish(ctx context.Context, ev domain.Event) {
	if s.publisher == nil {
		return
	}
	ev.ID = uuid.NewString()
	s.publisher.Publish(ctx, ev)
}

// mutate runs op against request id after applying the expiry closure. A
// closure performed here is committed even when op rejects, so the reported
// state always matches the stored state.
func (s *ledgerService) mutate(ctx context.Context, id int64, now time.Time, op func(req *domain.Request) (*domain.Transfer, error)) (*domain.Request, error) {
	var (
		opErr  error
		closed bool
	)
	out, err := s.ledger.Mutate(ctx, id, func(req *domain.Request) (*domain.Transfer, error) {
		opErr = nil
		closed = req.CloseIfExpired(now)
		tr, err := op(req)
		if err != nil {
			if closed {
				opErr = err
				return nil, nil
			}
			return nil, err
		}
		return tr, nil
	})
	if err != nil {
		return nil, err
	}
	if closed {
		metrics.RequestClosedTotal.WithLabelValues("lazy").Inc()
		s.logger.Info("request closed on access", "request_id", id)
		s.publish(ctx, domain.RequestEvent(domain.EventRequestClosed, id, "", now))
	}
	return out, opErr
}

func (s *ledgerService) CreateRequest(ctx context.Context, author domain.Address, in domain.CreateRequestInput) (*domain.Request, error) {
	ctx, span := startSpan(ctx, "create_request",
		attribute.String("filesolvers.author", string(author)),
		attribute.String("filesolvers.reward", in.Reward.String()),
	)
	defer span.End()

	now := s.now()
	req, err := domain.NewRequest(author, in, now)
	if err != nil {
		return nil, fail(span, "create_request", err)
	}
	stored, err := s.ledger.Create(ctx, req, req.EscrowTransfer())
	if err != nil {
		return nil, fail(span, "create_request", err)
	}
	span.SetAttributes(attribute.Int64("filesolvers.request_id", stored.ID))

	metrics.RequestCreatedTotal.Inc()
	s.logger.Info("request created", "request_id", stored.ID, "author", author, "reward", stored.Reward.String(), "expires", stored.ExpirationDate)
	ev := domain.RequestEvent(domain.EventRequestCreated, stored.ID, author, now)
	reward := stored.Reward
	ev.Amount = &reward
	s.publish(ctx, ev)
	return stored, nil
}

func (s *ledgerService) SendFile(ctx context.Context, submitter domain.Address, id int64, in domain.SubmissionInput) (*domain.Submission, error) {
	ctx, span := startSpan(ctx, "send_file",
		attribute.Int64("filesolvers.request_id", id),
		attribute.String("filesolvers.submitter", string(submitter)),
		attribute.String("filesolvers.format", in.Format),
	)
	defer span.End()

	now := s.now()
	var sub *domain.Submission
	_, err := s.mutate(ctx, id, now, func(req *domain.Request) (*domain.Transfer, error) {
		added, err := req.AddSubmission(submitter, in, now)
		if err != nil {
			return nil, err
		}
		sub = added
		return nil, nil
	})
	if err != nil {
		return nil, fail(span, "send_file", err)
	}
	span.SetAttributes(attribute.Int("filesolvers.file_id", sub.ID))

	metrics.FileSubmittedTotal.WithLabelValues(sub.Format).Inc()
	s.logger.Info("file submitted", "request_id", id, "file_id", sub.ID, "submitter", submitter, "format", sub.Format)
	ev := domain.RequestEvent(domain.EventFileSubmitted, id, submitter, now)
	fileID := sub.ID
	ev.FileID = &fileID
	s.publish(ctx, ev)
	return sub, nil
}

func (s *ledgerService) CloseExpired(ctx context.Context) ([]int64, error) {
	ctx, span := startSpan(ctx, "close_expired")
	defer span.End()

	started := time.Now()
	now := s.now()
	ids, err := s.ledger.CloseExpired(ctx, now)
	metrics.SweepDurationSeconds.Observe(time.Since(started).Seconds())
	if err != nil {
		return nil, fail(span, "close_expired", err)
	}
	span.SetAttributes(attribute.Int("filesolvers.closed", len(ids)))
	if len(ids) == 0 {
		return ids, nil
	}

	metrics.RequestClosedTotal.WithLabelValues("sweep").Add(float64(len(ids)))
	s.logger.Info("expired requests closed", "count", len(ids), "ids", ids)
	for _, id := range ids {
		s.publish(ctx, domain.RequestEvent(domain.EventRequestClosed, id, "", now))
	}
	return ids, nil
}

func (s *ledgerService) ChooseWinner(ctx context.Context, caller domain.Address, id int64, fileID int) (*domain.Request, error) {
	ctx, span := startSpan(ctx, "choose_winner",
		attribute.Int64("filesolvers.request_id", id),
		attribute.Int("filesolvers.file_id", fileID),
	)
	defer span.End()

	now := s.now()
	out, err := s.mutate(ctx, id, now, func(req *domain.Request) (*domain.Transfer, error) {
		tr, err := req.SelectWinner(caller, fileID)
		if err != nil {
			return nil, err
		}
		return &tr, nil
	})
	if err != nil {
		return nil, fail(span, "choose_winner", err)
	}

	metrics.RewardSettledTotal.WithLabelValues("paid").Inc()
	metrics.RequestLifetimeSeconds.WithLabelValues("paid").Observe(now.Sub(out.CreationDate).Seconds())
	s.logger.Info("winner chosen", "request_id", id, "file_id", fileID, "winner", out.Winner, "reward", out.Reward.String())
	ev := domain.RequestEvent(domain.EventWinnerChosen, id, caller, now)
	ev.FileID = &fileID
	ev.Winner = out.Winner
	reward := out.Reward
	ev.Amount = &reward
	s.publish(ctx, ev)
	return out, nil
}

func (s *ledgerService) WithdrawReward(ctx context.Context, caller domain.Address, id int64) (*domain.Request, error) {
	ctx, span := startSpan(ctx, "withdraw_reward", attribute.Int64("filesolvers.request_id", id))
	defer span.End()

	now := s.now()
	out, err := s.mutate(ctx, id, now, func(req *domain.Request) (*domain.Transfer, error) {
		tr, err := req.Withdraw(caller)
		if err != nil {
			return nil, err
		}
		return &tr, nil
	})
	if err != nil {
		return nil, fail(span, "withdraw_reward", err)
	}

	metrics.RewardSettledTotal.WithLabelValues("refunded").Inc()
	metrics.RequestLifetimeSeconds.WithLabelValues("refunded").Observe(now.Sub(out.CreationDate).Seconds())
	s.logger.Info("reward withdrawn", "request_id", id, "author", out.Author, "reward", out.Reward.String())
	ev := domain.RequestEvent(domain.EventRewardWithdrawn, id, out.Author, now)
	reward := out.Reward
	ev.Amount = &reward
	s.publish(ctx, ev)
	return out, nil
}

func (s *ledgerService) GetRequest(ctx context.Context, id int64) (*domain.Request, error) {
	return s.ledger.Get(ctx, id)
}

func (s *ledgerService) GetRequests(ctx context.Context, q domain.ListQuery) ([]*domain.Request, error) {
	return s.ledger.List(ctx, q)
}

func (s *ledgerService) GetMyRequests(ctx context.Context, caller domain.Address, q domain.ListQuery) ([]*domain.Request, error) {
	if caller.IsZero() {
		return []*domain.Request{}, nil
	}
	return s.ledger.ListByAuthor(ctx, caller, q)
}

func (s *ledgerService) Deposit(ctx context.Context, addr domain.Address, amount domain.Amount) (domain.Amount, error) {
	ctx, span := startSpan(ctx, "deposit", attribute.String("filesolvers.account", string(addr)))
	defer span.End()

	if addr.IsZero() {
		return domain.Amount{}, fail(span, "deposit", domain.Errorf(domain.KindMissingParams, "account is required"))
	}
	bal, err := s.accounts.Deposit(ctx, addr, amount)
	if err != nil {
		return domain.Amount{}, fail(span, "deposit", err)
	}
	s.logger.Info("account funded", "account", addr, "amount", amount.String(), "balance", bal.String())
	ev := domain.Event{Type: domain.EventAccountDeposited, Actor: addr, Amount: &amount, OccurredAt: s.now().UTC()}
	s.publish(ctx, ev)
	return bal, nil
}

func (s *ledgerService) Balance(ctx context.Context, addr domain.Address) (domain.Amount, error) {
	return s.accounts.Balance(ctx, addr)
}

func (s *ledgerService) Escrowed(ctx context.Context) (domain.Amount, error) {
	return s.accounts.Balance(ctx, domain.EscrowAccount)
}

func (s *ledgerService) Stats(ctx context.Context) (domain.LedgerStats, error) {
	return s.ledger.Stats(ctx)
}
