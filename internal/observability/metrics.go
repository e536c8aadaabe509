package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the marketplace's prometheus collectors. A nil *Metrics is
// valid and records nothing, so components can run without a registry.
type Metrics struct {
	referralDetections *prometheus.CounterVec
	bonusOutcomes      *prometheus.CounterVec
	bonusPaid          prometheus.Counter
	engagementBackfill *prometheus.CounterVec
	interactions       *prometheus.CounterVec
	moderation         *prometheus.CounterVec
	withdrawals        *prometheus.CounterVec
	malformed          *prometheus.CounterVec
	lostUpdates        *prometheus.CounterVec
	storeRetries       *prometheus.CounterVec
	reconcileRuns      *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics registered on the default
// prometheus registerer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// New builds a metrics set and registers it on reg. Tests pass a fresh
// prometheus.NewRegistry() to avoid duplicate registration.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		referralDetections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "referral", Name: "detections_total",
			Help: "Referral codes resolved, segmented by where the code came from.",
		}, []string{"source"}),
		bonusOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "referral", Name: "bonus_attempts_total",
			Help: "Bonus credit attempts segmented by outcome.",
		}, []string{"outcome"}),
		bonusPaid: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "referral", Name: "bonus_paid_units_total",
			Help: "Bonus currency units credited to referrers.",
		}),
		engagementBackfill: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "engagement", Name: "backfilled_fields_total",
			Help: "Synthetic engagement fields generated for listings that lacked them.",
		}, []string{"field"}),
		interactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "engagement", Name: "interactions_total",
			Help: "Buyer interactions applied to listings.",
		}, []string{"kind"}),
		moderation: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "moderation", Name: "actions_total",
			Help: "Moderation actions applied to listings.",
		}, []string{"action"}),
		withdrawals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "withdrawal", Name: "events_total",
			Help: "Withdrawal requests and decisions segmented by stage and outcome.",
		}, []string{"stage", "outcome"}),
		malformed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "records", Name: "malformed_total",
			Help: "Stored records skipped because they failed validation.",
		}, []string{"collection"}),
		lostUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "records", Name: "lost_updates_total",
			Help: "Read-modify-write adjustments overwritten by a concurrent writer.",
		}, []string{"collection", "field"}),
		storeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "store", Name: "retries_total",
			Help: "Store operations retried after a transient failure.",
		}, []string{"operation"}),
		reconcileRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "jobs", Name: "reconcile_runs_total",
			Help: "Reconciliation sweeps segmented by outcome.",
		}, []string{"outcome"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "channelhub", Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests segmented by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "channelhub", Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP handler latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.referralDetections, m.bonusOutcomes, m.bonusPaid,
			m.engagementBackfill, m.interactions, m.moderation,
			m.withdrawals, m.malformed, m.lostUpdates, m.storeRetries,
			m.reconcileRuns, m.httpRequests, m.httpLatency,
		)
	}
	return m
}

func (m *Metrics) ReferralDetected(source string) {
	if m == nil {
		return
	}
	m.referralDetections.WithLabelValues(source).Inc()
}

// BonusOutcome records one engine run; amount is added to the paid total
// only when outcome is "credited".
func (m *Metrics) BonusOutcome(outcome string, amount int64) {
	if m == nil {
		return
	}
	m.bonusOutcomes.WithLabelValues(outcome).Inc()
	if outcome == "credited" && amount > 0 {
		m.bonusPaid.Add(float64(amount))
	}
}

func (m *Metrics) FieldBackfilled(field string) {
	if m == nil {
		return
	}
	m.engagementBackfill.WithLabelValues(field).Inc()
}

func (m *Metrics) Interaction(kind string) {
	if m == nil {
		return
	}
	m.interactions.WithLabelValues(kind).Inc()
}

func (m *Metrics) ModerationAction(action string) {
	if m == nil {
		return
	}
	m.moderation.WithLabelValues(action).Inc()
}

func (m *Metrics) Withdrawal(stage, outcome string) {
	if m == nil {
		return
	}
	m.withdrawals.WithLabelValues(stage, outcome).Inc()
}

func (m *Metrics) MalformedRecord(collection string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(collection).Inc()
}

func (m *Metrics) LostUpdate(collection, field string) {
	if m == nil {
		return
	}
	m.lostUpdates.WithLabelValues(collection, field).Inc()
}

func (m *Metrics) StoreRetry(op string) {
	if m == nil {
		return
	}
	m.storeRetries.WithLabelValues(op).Inc()
}

func (m *Metrics) ReconcileRun(outcome string) {
	if m == nil {
		return
	}
	m.reconcileRuns.WithLabelValues(outcome).Inc()
}

// ObserveHTTP records a finished request. route should be the route
// template, not the raw path, to keep label cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(d.Seconds())
}
