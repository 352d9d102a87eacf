// Package prompush is a metrics.Backend that keeps sheetetl metrics in a
// private Prometheus registry and pushes them to a Pushgateway, the usual
// route for batch jobs that exit before a scrape.
package prompush

import (
	"fmt"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"sheetetl/internal/metrics"
)

type Options struct {
	URL      string            // Pushgateway base URL
	Job      string            // defaults to "sheetetl"
	Grouping map[string]string // extra grouping labels, e.g. run_id
}

type Backend struct {
	pusher *push.Pusher

	steps     *prometheus.CounterVec
	durations *prometheus.HistogramVec
	rows      *prometheus.CounterVec
	dates     *prometheus.CounterVec
}

func NewBackend(opts Options) (*Backend, error) {
	if strings.TrimSpace(opts.URL) == "" {
		return nil, fmt.Errorf("prompush: missing pushgateway url")
	}
	job := opts.Job
	if job == "" {
		job = "sheetetl"
	}

	b := &Backend{
		steps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline steps by outcome",
		}, []string{"step", "status"}),
		durations: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    metrics.StepDurationSeconds,
			Help:    "Duration of pipeline steps",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~82s
		}, []string{"step", "status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RowsTotal,
			Help: "Rows inserted per table",
		}, []string{"table"}),
		dates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.DimensionDatesTotal,
			Help: "Dimension dates looked up, by cache outcome",
		}, []string{"status"}),
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(b.steps, b.durations, b.rows, b.dates)

	b.pusher = push.New(opts.URL, job).Gatherer(reg)
	for k, v := range opts.Grouping {
		b.pusher = b.pusher.Grouping(k, v)
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, labels metrics.Labels) {
	if delta <= 0 {
		return
	}
	switch name {
	case metrics.StepTotal:
		b.steps.WithLabelValues(labels["step"], labels["status"]).Add(delta)
	case metrics.RowsTotal:
		b.rows.WithLabelValues(labels["table"]).Add(delta)
	case metrics.DimensionDatesTotal:
		b.dates.WithLabelValues(labels["status"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, labels metrics.Labels) {
	if name != metrics.StepDurationSeconds || value < 0 {
		return
	}
	b.durations.WithLabelValues(labels["step"], labels["status"]).Observe(value)
}

// Flush replaces the job's metric group on the gateway.
func (b *Backend) Flush() error {
	if err := b.pusher.Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}

func (b *Backend) Close() error { return b.Flush() }

var _ metrics.Backend = (*Backend)(nil)
