package dashboard

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
)

// metricsCollector refreshes the ledger's aggregate reads on every scrape
// rather than caching them, since scrape intervals are typically minutes
// apart and the ledger is a local SQLite file. Grounded on the vjache-cie
// pack repo's direct use of client_golang — rezkam-mono has no metrics
// endpoint of its own to generalize from.
type metricsCollector struct {
	store  store
	logger *slog.Logger

	stateCount *prometheus.Desc
	retrySum   *prometheus.Desc
	totalCount *prometheus.Desc
	dbSizeKB   *prometheus.Desc
}

func newMetricsCollector(st store, logger *slog.Logger) *metricsCollector {
	return &metricsCollector{
		store:  st,
		logger: logger,
		stateCount: prometheus.NewDesc(
			"premiumarr_jobs_by_state", "Number of ledger jobs currently in each state.",
			[]string{"state"}, nil),
		retrySum: prometheus.NewDesc(
			"premiumarr_retry_total", "Sum of a retry counter across every ledger job.",
			[]string{"counter"}, nil),
		totalCount: prometheus.NewDesc(
			"premiumarr_jobs_total", "Total number of jobs ever recorded in the ledger.",
			nil, nil),
		dbSizeKB: prometheus.NewDesc(
			"premiumarr_ledger_size_kb", "Size of the ledger database file, in kilobytes.",
			nil, nil),
	}
}

func (c *metricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.stateCount
	ch <- c.retrySum
	ch <- c.totalCount
	ch <- c.dbSizeKB
}

func (c *metricsCollector) Collect(ch chan<- prometheus.Metric) {
	ctx := context.Background()

	counts, err := c.store.CountsByState(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "metrics: loading state counts failed", "error", err)
	} else {
		for state, n := range counts {
			ch <- prometheus.MustNewConstMetric(c.stateCount, prometheus.GaugeValue, float64(n), string(state))
		}
	}

	dlRetry, stateRetry, moveRetry, err := c.store.RetrySums(ctx)
	if err != nil {
		c.logger.ErrorContext(ctx, "metrics: loading retry sums failed", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.retrySum, prometheus.GaugeValue, float64(dlRetry), "dl_retry_count")
		ch <- prometheus.MustNewConstMetric(c.retrySum, prometheus.GaugeValue, float64(stateRetry), "state_retry_count")
		ch <- prometheus.MustNewConstMetric(c.retrySum, prometheus.GaugeValue, float64(moveRetry), "cld_dl_move_retry")
	}

	if total, err := c.store.TotalCount(ctx); err != nil {
		c.logger.ErrorContext(ctx, "metrics: loading total count failed", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.totalCount, prometheus.GaugeValue, float64(total))
	}

	if sizeKB, err := c.store.SizeKB(ctx); err != nil {
		c.logger.ErrorContext(ctx, "metrics: loading db size failed", "error", err)
	} else {
		ch <- prometheus.MustNewConstMetric(c.dbSizeKB, prometheus.GaugeValue, sizeKB)
	}
}
