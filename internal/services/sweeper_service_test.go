package services

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestSweepOnceClosesExpired(t *testing.T) {
	svc, _, clock, _ := setupLedger(t)
	ctx := context.Background()
	createTestRequest(t, svc, clock, alice)
	createTestRequest(t, svc, clock, bob)

	sweeper := NewSweeperService(svc, slog.Default(), 0)
	if n := sweeper.SweepOnce(ctx); n != 0 {
		t.Fatalf("expected nothing to close, got %d", n)
	}

	clock.Advance(2 * time.Hour)
	if n := sweeper.SweepOnce(ctx); n != 2 {
		t.Fatalf("expected 2 closed, got %d", n)
	}
	if n := sweeper.SweepOnce(ctx); n != 0 {
		t.Fatalf("second sweep should be a no-op, got %d", n)
	}
}

func TestSweeperStopsOnCancel(t *testing.T) {
	svc, _, _, _ := setupLedger(t)
	sweeper := NewSweeperService(svc, slog.Default(), 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
}
