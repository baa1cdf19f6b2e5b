package metrics

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/falconandrea/FileSolvers/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatsSource reports ledger-wide counters at scrape time.
type StatsSource interface {
	Stats(ctx context.Context) (domain.LedgerStats, error)
}

type ledgerCollector struct {
	src    StatsSource
	logger *slog.Logger

	requestsDesc *prometheus.Desc
	activeDesc   *prometheus.Desc
	escrowDesc   *prometheus.Desc
}

func newLedgerCollector(src StatsSource, logger *slog.Logger) *ledgerCollector {
	if logger == nil {
		logger = slog.Default()
	}
	return &ledgerCollector{
		src:    src,
		logger: logger,
		requestsDesc: prometheus.NewDesc(
			"filesolvers_requests",
			"Current number of requests in the ledger.",
			nil, nil,
		),
		activeDesc: prometheus.NewDesc(
			"filesolvers_requests_active",
			"Current number of requests still accepting submissions.",
			nil, nil,
		),
		escrowDesc: prometheus.NewDesc(
			"filesolvers_escrow_balance",
			"Current escrow balance in whole coins.",
			nil, nil,
		),
	}
}

func (c *ledgerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requestsDesc
	ch <- c.activeDesc
	ch <- c.escrowDesc
}

func (c *ledgerCollector) Collect(ch chan<- prometheus.Metric) {
	if c.src == nil {
		return
	}

	// Keep store reads bounded so scrapes do not hang.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	stats, err := c.src.Stats(ctx)
	if err != nil {
		c.logger.Warn("prometheus ledger collector failed", "err", err)
		return
	}
	emitGauge(ch, c.requestsDesc, float64(stats.Requests))
	emitGauge(ch, c.activeDesc, float64(stats.Active))
	emitGauge(ch, c.escrowDesc, stats.Escrowed.Float64())
}

func emitGauge(ch chan<- prometheus.Metric, desc *prometheus.Desc, v float64, labelValues ...string) {
	m, err := prometheus.NewConstMetric(desc, prometheus.GaugeValue, v, labelValues...)
	if err != nil {
		return
	}
	ch <- m
}

// NewLedgerRegistry returns a registry holding the scrape-time ledger gauges
// for src. Each Application owns one, so several ledgers in one process never
// report each other's stats.
func NewLedgerRegistry(src StatsSource, logger *slog.Logger) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(newLedgerCollector(src, logger))
	return reg
}

// Handler serves the process-wide counters together with reg.
func Handler(reg prometheus.Gatherer) http.Handler {
	gatherers := prometheus.Gatherers{prometheus.DefaultGatherer}
	if reg != nil {
		gatherers = append(gatherers, reg)
	}
	return promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{})
}
