package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/falconandrea/FileSolvers/internal/backoff"
	"github.com/falconandrea/FileSolvers/internal/ratelimit"
	"github.com/falconandrea/FileSolvers/pkg/domain"
)

type fakeNATS struct {
	mu       sync.Mutex
	subjects []string
	fail     bool
}

func (f *fakeNATS) Publish(subject string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("nats: connection closed")
	}
	f.subjects = append(f.subjects, subject)
	return nil
}

func newTestNotifier(cfg NotifierConfig, nats MessagePublisher) *notifierService {
	if cfg.Retry.Base == 0 {
		cfg.Retry = backoff.Policy{Kind: backoff.Fixed, Base: time.Millisecond, Max: time.Millisecond}
	}
	return NewNotifierService(cfg, nats, slog.Default()).(*notifierService)
}

func testEvent(t domain.EventType) domain.Event {
	return domain.RequestEvent(t, 7, alice, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
}

func TestNotifierDefaults(t *testing.T) {
	n := NewNotifierService(NotifierConfig{}, nil, slog.Default()).(*notifierService)
	want := backoff.Policy{Kind: backoff.FullJitter, Base: 2 * time.Second, Max: time.Minute}
	if n.cfg.MaxAttempts != 5 || n.cfg.Retry != want {
		t.Fatalf("unexpected retry defaults: %+v", n.cfg)
	}
	if n.cfg.SubjectPrefix != "filesolvers" {
		t.Fatalf("unexpected subject prefix %q", n.cfg.SubjectPrefix)
	}
}

func TestNotifierPublishWithoutSinksIsNoop(t *testing.T) {
	n := newTestNotifier(NotifierConfig{QueueSize: 1}, nil)
	n.Publish(context.Background(), testEvent(domain.EventRequestCreated))
	if len(n.queue) != 0 {
		t.Fatalf("expected empty queue, got %d", len(n.queue))
	}
}

func TestNotifierDropsWhenQueueFull(t *testing.T) {
	n := newTestNotifier(NotifierConfig{QueueSize: 1}, &fakeNATS{})
	n.Publish(context.Background(), testEvent(domain.EventRequestCreated))
	n.Publish(context.Background(), testEvent(domain.EventFileSubmitted))
	if len(n.queue) != 1 {
		t.Fatalf("expected one queued event, got %d", len(n.queue))
	}
}

func TestNotifierWebhookSignature(t *testing.T) {
	const secret = "s3cret"
	var (
		mu  sync.Mutex
		got []domain.Event
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		ts, err := strconv.ParseInt(r.Header.Get("X-FileSolvers-Timestamp"), 10, 64)
		if err != nil {
			t.Errorf("missing timestamp header: %v", err)
		}
		if sig := r.Header.Get("X-FileSolvers-Signature"); sig != SignPayload(secret, ts, body) {
			t.Errorf("signature mismatch: %s", sig)
		}
		if r.Header.Get("X-FileSolvers-Event") != string(domain.EventWinnerChosen) {
			t.Errorf("unexpected event header %q", r.Header.Get("X-FileSolvers-Event"))
		}
		var ev domain.Event
		if err := json.Unmarshal(body, &ev); err != nil {
			t.Errorf("decode body: %v", err)
		}
		mu.Lock()
		got = append(got, ev)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{Webhooks: []Webhook{{URL: srv.URL}}, Secret: secret}, nil)
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventWinnerChosen)})

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0].RequestID == nil || *got[0].RequestID != 7 {
		t.Fatalf("unexpected deliveries: %+v", got)
	}
}

func TestNotifierWebhookRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{
		Webhooks:    []Webhook{{URL: srv.URL}},
		MaxAttempts: 4,
	}, nil)
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventRequestCreated)})

	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestNotifierWebhookRetrySpacing(t *testing.T) {
	var (
		mu    sync.Mutex
		stamp []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamp = append(stamp, time.Now())
		mu.Unlock()
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{
		Webhooks:    []Webhook{{URL: srv.URL}},
		MaxAttempts: 3,
		Retry:       backoff.Policy{Kind: backoff.Linear, Base: 20 * time.Millisecond, Max: time.Second},
	}, nil)
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventRewardWithdrawn)})

	mu.Lock()
	defer mu.Unlock()
	if len(stamp) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stamp))
	}
	// linear: 20ms before the second attempt, 20ms before the third
	for i := 1; i < len(stamp); i++ {
		if gap := stamp[i].Sub(stamp[i-1]); gap < 20*time.Millisecond {
			t.Fatalf("attempt %d came %s after the previous one", i+1, gap)
		}
	}
}

func TestNotifierWebhookStopsOnCancel(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{
		Webhooks:    []Webhook{{URL: srv.URL}},
		MaxAttempts: 5,
		Retry:       backoff.Policy{Kind: backoff.Fixed, Base: time.Hour},
	}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	n.deliver(ctx, envelope{event: testEvent(domain.EventRequestCreated)})

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", got)
	}
}

func TestNotifierWebhookGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{
		Webhooks:    []Webhook{{URL: srv.URL}},
		MaxAttempts: 2,
	}, nil)
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventRequestCreated)})

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestNotifierWebhookEventFilter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{
		Webhooks: []Webhook{{URL: srv.URL, Events: []domain.EventType{domain.EventWinnerChosen}}},
	}, nil)
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventFileSubmitted)})
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventWinnerChosen)})

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("expected only the filtered event, got %d calls", got)
	}
}

func TestNotifierPublishesToNATS(t *testing.T) {
	nc := &fakeNATS{}
	n := newTestNotifier(NotifierConfig{SubjectPrefix: "ledger"}, nc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		n.Start(ctx)
		close(done)
	}()
	n.Publish(ctx, testEvent(domain.EventRequestClosed))

	deadline := time.Now().Add(2 * time.Second)
	for {
		nc.mu.Lock()
		count := len(nc.subjects)
		nc.mu.Unlock()
		if count == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("event was not published")
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	<-done

	if nc.subjects[0] != "ledger.request.closed" {
		t.Fatalf("unexpected subject %q", nc.subjects[0])
	}
}

type denyOnceLimiter struct {
	calls int32
}

func (l *denyOnceLimiter) Allow(ctx context.Context, scope, subject string, bucket ratelimit.Bucket) (ratelimit.Decision, error) {
	if atomic.AddInt32(&l.calls, 1) == 1 {
		return ratelimit.Decision{Allowed: false, RetryAfter: time.Millisecond}, nil
	}
	return ratelimit.Decision{Allowed: true}, nil
}

func TestNotifierWaitsForRateLimit(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	limiter := &denyOnceLimiter{}
	n := newTestNotifier(NotifierConfig{
		Webhooks: []Webhook{{URL: srv.URL}},
		Limiter:  limiter,
		Bucket:   ratelimit.Bucket{RequestsPerMinute: 60, BurstSize: 1},
	}, nil)
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventRequestCreated)})

	if atomic.LoadInt32(&limiter.calls) != 2 {
		t.Fatalf("expected limiter to be consulted twice, got %d", limiter.calls)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected one delivery, got %d", calls)
	}
}

func TestNotifierNATSFailureStillDeliversWebhook(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	}))
	defer srv.Close()

	n := newTestNotifier(NotifierConfig{Webhooks: []Webhook{{URL: srv.URL}}}, &fakeNATS{fail: true})
	n.deliver(context.Background(), envelope{event: testEvent(domain.EventRewardWithdrawn)})

	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected webhook delivery despite nats failure, got %d", calls)
	}
}
