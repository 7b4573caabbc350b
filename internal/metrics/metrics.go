// Package metrics exposes Prometheus instruments for sync attempts and the
// central store API.
//
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"strconv"
	"time"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "estimator"

// Metrics holds every registered collector.
type Metrics struct {
	syncAttempts  *prometheus.CounterVec
	syncSkipped   *prometheus.CounterVec
	syncDuration  *prometheus.HistogramVec
	syncRecords   *prometheus.CounterVec
	syncConflicts prometheus.Counter
	pending       prometheus.Gauge
	upserts       *prometheus.CounterVec
	fetches       *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		syncAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "attempts_total",
			Help:      "Sync attempts by trigger and outcome.",
		}, []string{"trigger", "success"}),
		syncSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "skipped_total",
			Help:      "Sync triggers that did not start an attempt.",
		}, []string{"trigger", "reason"}),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "duration_seconds",
			Help:      "Duration of sync attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"trigger"}),
		syncRecords: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Records moved by sync attempts.",
		}, []string{"direction"}),
		syncConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "conflicts_total",
			Help:      "Local edits replaced by a newer remote copy.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "pending_changes",
			Help:      "Changes waiting in the sync queue.",
		}),
		upserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "central",
			Name:      "upserts_total",
			Help:      "Record writes received by the central store.",
		}, []string{"table", "applied"}),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "central",
			Name:      "fetched_records_total",
			Help:      "Records served by the central store.",
		}, []string{"table"}),
	}

	reg.MustRegister(
		m.syncAttempts,
		m.syncSkipped,
		m.syncDuration,
		m.syncRecords,
		m.syncConflicts,
		m.pending,
		m.upserts,
		m.fetches,
	)
	return m
}

// ObserveSync records a completed attempt.
func (m *Metrics) ObserveSync(trigger string, result *types.SyncResult, elapsed time.Duration) {
	if m == nil || result == nil {
		return
	}
	m.syncAttempts.WithLabelValues(trigger, strconv.FormatBool(result.Success)).Inc()
	m.syncDuration.WithLabelValues(trigger).Observe(elapsed.Seconds())
	m.syncRecords.WithLabelValues("push").Add(float64(result.RecordsPushed))
	m.syncRecords.WithLabelValues("pull").Add(float64(result.RecordsPulled))
	m.syncConflicts.Add(float64(result.Conflicts))
}

// ObserveSkip records a trigger that was dropped.
func (m *Metrics) ObserveSkip(trigger, reason string) {
	if m == nil {
		return
	}
	m.syncSkipped.WithLabelValues(trigger, reason).Inc()
}

// SetPending sets the pending change gauge.
func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

// ObserveUpsert records one central write.
func (m *Metrics) ObserveUpsert(table string, applied bool) {
	if m == nil {
		return
	}
	m.upserts.WithLabelValues(table, strconv.FormatBool(applied)).Inc()
}

// ObserveFetch records records served for one table.
func (m *Metrics) ObserveFetch(table string, n int) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(table).Add(float64(n))
}
