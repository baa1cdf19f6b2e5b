package services

import (
	"context"
	"log/slog"
	"time"
)

// SweeperService periodically closes expired requests. The sweep is the same
// operation exposed to callers; running it here only bounds how long an
// expired request can stay active without traffic.
type SweeperService interface {
	Start(ctx context.Context)
	SweepOnce(ctx context.Context) int
}

type sweeperService struct {
	ledger   LedgerService
	logger   *slog.Logger
	interval time.Duration
}

func NewSweeperService(ledger LedgerService, logger *slog.Logger, intervalSeconds int) SweeperService {
	if intervalSeconds <= 0 {
		intervalSeconds = 60
	}
	return &sweeperService{
		ledger:   ledger,
		logger:   logger,
		interval: time.Duration(intervalSeconds) * time.Second,
	}
}

func (s *sweeperService) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)
		}
	}
}

func (s *sweeperService) SweepOnce(ctx context.Context) int {
	ids, err := s.ledger.CloseExpired(ctx)
	if err != nil {
		s.logger.Warn("expiry sweep failed", "err", err)
		return 0
	}
	if len(ids) > 0 {
		s.logger.Debug("expiry sweep closed requests", "count", len(ids))
	}
	return len(ids)
}
