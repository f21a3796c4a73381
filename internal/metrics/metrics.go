// Package metrics exposes Prometheus metrics for the command pipeline.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nerrad567/periphctl/internal/dispatch"
)

const namespace = "periphctl"

// StatsSource supplies cumulative dispatcher counters.
type StatsSource interface {
	Stats() dispatch.Stats
}

// Metrics holds the collectors and the registry they are registered in.
// It implements dispatch.Observer.
type Metrics struct {
	registry *prometheus.Registry

	commands *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

// New creates the collectors on a private registry together with the Go
// runtime and process collectors. When stats is non-nil the batch counters
// are exported as well.
func New(stats StatsSource) *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Executed commands by module, command and status (ok/error).",
		}, []string{"module", "command", "status"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution time in seconds.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}, []string{"module", "command"}),
	}

	m.registry.MustRegister(
		m.commands,
		m.duration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	if stats != nil {
		m.registry.MustRegister(newBatchCollector(stats))
	}
	return m
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}

// CommandExecuted implements dispatch.Observer.
func (m *Metrics) CommandExecuted(_ context.Context, rec dispatch.Record) {
	m.commands.WithLabelValues(rec.Module, rec.Command, rec.Status()).Inc()
	m.duration.WithLabelValues(rec.Module, rec.Command).Observe(rec.Duration.Seconds())
}

// batchCollector reads dispatcher counters at scrape time.
type batchCollector struct {
	stats    StatsSource
	batches  *prometheus.Desc
	rejected *prometheus.Desc
}

func newBatchCollector(stats StatsSource) *batchCollector {
	return &batchCollector{
		stats: stats,
		batches: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_total"),
			"Accepted command batches.", nil, nil),
		rejected: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "batches_rejected_total"),
			"Batches rejected for malformed JSON or a bad api_key.", nil, nil),
	}
}

func (c *batchCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.batches
	ch <- c.rejected
}

func (c *batchCollector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats.Stats()
	ch <- prometheus.MustNewConstMetric(c.batches, prometheus.CounterValue, float64(s.Batches))
	ch <- prometheus.MustNewConstMetric(c.rejected, prometheus.CounterValue, float64(s.Rejected))
}
