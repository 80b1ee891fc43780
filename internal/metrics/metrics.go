// Package metrics exposes batch results as Prometheus gauges and pushes them
// to a Pushgateway at the end of each run.
package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/oilwatch/priceintel/internal/aggregate"
)

const namespace = "priceintel"

// BatchMetrics holds the gauges written after every aggregation batch.
// Labels are level (zip, county) and fuel type.
type BatchMetrics struct {
	registry *prometheus.Registry

	Updated         *prometheus.GaugeVec
	Skipped         *prometheus.GaugeVec
	Failed          *prometheus.GaugeVec
	Total           *prometheus.GaugeVec
	MissingRef      *prometheus.GaugeVec
	Duration        *prometheus.GaugeVec
	LastSuccess     *prometheus.GaugeVec
	ValidationFails *prometheus.GaugeVec

	// nowFunc allows test injection of time.
	nowFunc func() time.Time
}

// NewBatchMetrics registers the batch gauges on a private registry.
func NewBatchMetrics() *BatchMetrics {
	labels := []string{"level", "fuel_type"}
	gauge := func(name, help string, l []string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "aggregate",
			Name:      name,
			Help:      help,
		}, l)
	}

	m := &BatchMetrics{
		registry:        prometheus.NewRegistry(),
		Updated:         gauge("partitions_updated", "Partitions written by the last batch.", labels),
		Skipped:         gauge("partitions_skipped", "Partitions skipped by the last batch.", labels),
		Failed:          gauge("partitions_failed", "Partitions that failed in the last batch.", labels),
		Total:           gauge("partitions_total", "Partitions considered by the last batch.", labels),
		MissingRef:      gauge("zips_missing_reference", "ZIP codes excluded from county rollups for lack of reference data.", labels),
		Duration:        gauge("duration_seconds", "Wall time of the last batch.", labels),
		LastSuccess:     gauge("last_success_timestamp_seconds", "Unix time of the last batch without failures.", labels),
		ValidationFails: gauge("validation_mismatches", "County aggregates that disagreed with a recompute.", []string{"fuel_type"}),
		nowFunc:         func() time.Time { return time.Now().UTC() },
	}
	m.registry.MustRegister(m.Updated, m.Skipped, m.Failed, m.Total, m.MissingRef,
		m.Duration, m.LastSuccess, m.ValidationFails)
	return m
}

// Registry returns the registry the gauges live on.
func (m *BatchMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Observe records one batch summary.
func (m *BatchMetrics) Observe(s *aggregate.Summary) {
	l := prometheus.Labels{"level": string(s.Level), "fuel_type": string(s.FuelType)}
	m.Updated.With(l).Set(float64(s.Updated))
	m.Skipped.With(l).Set(float64(s.Skipped))
	m.Failed.With(l).Set(float64(s.Failed))
	m.Total.With(l).Set(float64(s.Total))
	m.MissingRef.With(l).Set(float64(s.MissingReference))
	m.Duration.With(l).Set(float64(s.DurationMs) / 1000)
	if !s.Partial() {
		m.LastSuccess.With(l).Set(float64(m.nowFunc().Unix()))
	}
}

// ObserveValidation records the outcome of a validation pass.
func (m *BatchMetrics) ObserveValidation(r *aggregate.ValidationReport) {
	m.ValidationFails.WithLabelValues(string(r.FuelType)).Set(float64(len(r.Mismatches)))
}

// Pusher sends gathered metrics to a Pushgateway.
type Pusher struct {
	url string
	job string
}

// NewPusher returns a Pusher, or nil when url is empty.
func NewPusher(url, job string) *Pusher {
	if url == "" {
		return nil
	}
	if job == "" {
		job = namespace
	}
	return &Pusher{url: url, job: job}
}

// Push replaces the job's metric group with the current values. A nil Pusher
// is a no-op.
func (p *Pusher) Push(ctx context.Context, m *BatchMetrics, command string) error {
	if p == nil {
		return nil
	}
	start := time.Now()
	err := push.New(p.url, p.job).
		Gatherer(m.registry).
		Grouping("command", command).
		PushContext(ctx)
	if err != nil {
		return eris.Wrapf(err, "metrics: push to %s", p.url)
	}
	zap.L().Debug("metrics pushed",
		zap.String("component", "metrics"),
		zap.String("job", p.job),
		zap.String("command", command),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
