package services

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/falconandrea/FileSolvers/internal/backoff"
	"github.com/falconandrea/FileSolvers/internal/metrics"
	"github.com/falconandrea/FileSolvers/internal/ratelimit"
	"github.com/falconandrea/FileSolvers/internal/tracing"
	"github.com/falconandrea/FileSolvers/pkg/domain"
)

// MessagePublisher is the subset of *nats.Conn the notifier needs.
type MessagePublisher interface {
	Publish(subject string, data []byte) error
}

type Webhook struct {
	URL string
	// Events filters deliveries; empty means every event.
	Events []domain.EventType
}

func (w Webhook) wants(t domain.EventType) bool {
	if len(w.Events) == 0 {
		return true
	}
	for _, e := range w.Events {
		if e == t {
			return true
		}
	}
	return false
}

type NotifierConfig struct {
	Webhooks    []Webhook
	Secret      string
	MaxAttempts int
	// Retry spaces out failed webhook deliveries.
	Retry     backoff.Policy
	QueueSize int

	// SubjectPrefix is prepended to the event type when publishing to NATS.
	SubjectPrefix string

	Limiter ratelimit.Limiter
	Bucket  ratelimit.Bucket
}

// NotifierService delivers committed ledger events to webhooks and NATS.
// Publish never blocks the caller; delivery happens on the Start loop.
type NotifierService interface {
	EventPublisher
	Start(ctx context.Context)
}

type envelope struct {
	event       domain.Event
	traceParent string
	traceState  string
}

type notifierService struct {
	cfg    NotifierConfig
	nats   MessagePublisher
	client *http.Client
	logger *slog.Logger
	queue  chan envelope
}

func NewNotifierService(cfg NotifierConfig, nats MessagePublisher, logger *slog.Logger) NotifierService {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Retry.Base <= 0 {
		cfg.Retry.Base = 2 * time.Second
	}
	if cfg.Retry.Max <= 0 {
		cfg.Retry.Max = time.Minute
	}
	if cfg.Retry.Kind == "" {
		cfg.Retry.Kind = backoff.FullJitter
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if strings.TrimSpace(cfg.SubjectPrefix) == "" {
		cfg.SubjectPrefix = "filesolvers"
	}
	return &notifierService{
		cfg:    cfg,
		nats:   nats,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
		queue:  make(chan envelope, cfg.QueueSize),
	}
}

func (n *notifierService) Publish(ctx context.Context, ev domain.Event) {
	if len(n.cfg.Webhooks) == 0 && n.nats == nil {
		return
	}
	tp, ts := tracing.TraceContextStrings(ctx)
	select {
	case n.queue <- envelope{event: ev, traceParent: tp, traceState: ts}:
	default:
		metrics.WebhookDeliveriesTotal.WithLabelValues("queue", string(ev.Type), "dropped").Inc()
		n.logger.Warn("event queue full, dropping event", "event", ev.Type, "event_id", ev.ID)
	}
}

func (n *notifierService) Start(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env := <-n.queue:
			n.deliver(ctx, env)
		}
	}
}

func (n *notifierService) deliver(ctx context.Context, env envelope) {
	body, err := json.Marshal(env.event)
	if err != nil {
		n.logger.Error("encode event failed", "event", env.event.Type, "err", err)
		return
	}
	ctx = tracing.ContextWithRemoteParent(ctx, env.traceParent, env.traceState)

	if n.nats != nil {
		subject := n.cfg.SubjectPrefix + "." + string(env.event.Type)
		if err := n.nats.Publish(subject, body); err != nil {
			metrics.WebhookDeliveriesTotal.WithLabelValues("nats", string(env.event.Type), "failure").Inc()
			n.logger.Warn("nats publish failed", "subject", subject, "err", err)
		} else {
			metrics.WebhookDeliveriesTotal.WithLabelValues("nats", string(env.event.Type), "success").Inc()
		}
	}

	for _, hook := range n.cfg.Webhooks {
		if !hook.wants(env.event.Type) {
			continue
		}
		n.sendWithRetry(ctx, hook.URL, env.event.Type, body)
	}
}

func (n *notifierService) sendWithRetry(ctx context.Context, url string, evType domain.EventType, body []byte) {
	for attempt := 1; attempt <= n.cfg.MaxAttempts; attempt++ {
		if !n.waitForToken(ctx, url) {
			return
		}
		if n.post(ctx, url, evType, body) {
			metrics.WebhookDeliveriesTotal.WithLabelValues("webhook", string(evType), "success").Inc()
			return
		}
		if attempt == n.cfg.MaxAttempts {
			break
		}
		if backoff.Wait(ctx, n.cfg.Retry.Delay(attempt-1, nil)) != nil {
			return
		}
	}
	metrics.WebhookDeliveriesTotal.WithLabelValues("webhook", string(evType), "failure").Inc()
	n.logger.Warn("webhook delivery failed", "url", url, "event", evType, "attempts", n.cfg.MaxAttempts)
}

// waitForToken blocks until the limiter admits a delivery to url. Limiter
// errors fail open.
func (n *notifierService) waitForToken(ctx context.Context, url string) bool {
	if n.cfg.Limiter == nil || !n.cfg.Bucket.Enabled() {
		return true
	}
	for {
		dec, err := n.cfg.Limiter.Allow(ctx, "webhook", url, n.cfg.Bucket)
		if err != nil || dec.Allowed {
			return true
		}
		metrics.RateLimitHitsTotal.WithLabelValues("webhook", "event").Inc()
		if backoff.Wait(ctx, dec.RetryAfter) != nil {
			return false
		}
	}
}

func (n *notifierService) post(ctx context.Context, url string, evType domain.EventType, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		n.logger.Warn("build webhook request failed", "url", url, "err", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-FileSolvers-Event", string(evType))
	n.addSignature(req, body)
	tracing.InjectHeaders(ctx, req.Header)

	resp, err := n.client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

func (n *notifierService) addSignature(req *http.Request, body []byte) {
	if strings.TrimSpace(n.cfg.Secret) == "" {
		return
	}
	ts := time.Now().UTC().Unix()
	req.Header.Set("X-FileSolvers-Timestamp", fmt.Sprintf("%d", ts))
	req.Header.Set("X-FileSolvers-Signature", SignPayload(n.cfg.Secret, ts, body))
}

// SignPayload returns the hex HMAC-SHA256 of "<ts>.<body>" under secret.
func SignPayload(secret string, ts int64, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write([]byte(fmt.Sprintf("%d.", ts)))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
