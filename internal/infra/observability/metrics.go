package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	dto "github.com/prometheus/client_model/go"

	"github.com/tabhq/tab-billing/internal/domain"
)

// Metrics holds all Prometheus metrics for the billing engine.
type Metrics struct {
	// Registry is the Prometheus registry that owns these metrics.
	// Exposed so the /metrics endpoint can use it.
	Registry *prometheus.Registry

	requestDuration   *prometheus.HistogramVec
	assignmentsTotal  *prometheus.CounterVec
	ruleEvaluations   *prometheus.CounterVec
	balanceRecomputes prometheus.Counter
	webhookErrors     prometheus.Counter
	cacheHits         *prometheus.CounterVec
	cacheMisses       *prometheus.CounterVec
}

// NewMetrics creates a dedicated Prometheus registry and registers all
// application metrics in it. Using a private registry avoids "duplicate
// collector" panics when NewMetrics is called more than once (e.g. in tests).
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,

		requestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tab_request_duration_seconds",
				Help:    "Duration of requests by operation.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		assignmentsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tab_assignments_total",
				Help: "Line item assignments by mode and outcome.",
			},
			[]string{"mode", "outcome"},
		),
		ruleEvaluations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tab_rule_evaluations_total",
				Help: "Rule evaluations by result (matched, fallback).",
			},
			[]string{"result"},
		),
		balanceRecomputes: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tab_balance_recomputes_total",
				Help: "Full balance re-derivations performed.",
			},
		),
		webhookErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "tab_webhook_errors_total",
				Help: "Failed webhook event deliveries.",
			},
		),
		cacheHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tab_cache_hits_total",
				Help: "Total cache hits.",
			},
			[]string{"cache"},
		),
		cacheMisses: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tab_cache_misses_total",
				Help: "Total cache misses.",
			},
			[]string{"cache"},
		),
	}
}

// RecordRequestDuration records the duration of an operation.
func (m *Metrics) RecordRequestDuration(operation string, d time.Duration) {
	m.requestDuration.WithLabelValues(operation).Observe(d.Seconds())
}

// IncrAssignment counts one assignment decision.
func (m *Metrics) IncrAssignment(mode, outcome string) {
	m.assignmentsTotal.WithLabelValues(mode, outcome).Inc()
}

// IncrRuleEvaluation counts one evaluator run by result.
func (m *Metrics) IncrRuleEvaluation(result string) {
	m.ruleEvaluations.WithLabelValues(result).Inc()
}

// IncrBalanceRecompute counts one full balance re-derivation.
func (m *Metrics) IncrBalanceRecompute() {
	m.balanceRecomputes.Inc()
}

// IncrWebhookError counts one failed event delivery.
func (m *Metrics) IncrWebhookError() {
	m.webhookErrors.Inc()
}

// IncrCacheHit increments the cache hit counter.
func (m *Metrics) IncrCacheHit(cache string) {
	m.cacheHits.WithLabelValues(cache).Inc()
}

// IncrCacheMiss increments the cache miss counter.
func (m *Metrics) IncrCacheMiss(cache string) {
	m.cacheMisses.WithLabelValues(cache).Inc()
}

// GetEngineSnapshot returns a snapshot of engine metrics for the
// GET /v1/metrics/engine endpoint.
func (m *Metrics) GetEngineSnapshot() *domain.EngineMetrics {
	manual := counterValue(m.assignmentsTotal, "manual", "assigned")
	automatic := counterValue(m.assignmentsTotal, "automatic", "assigned")
	rejections := counterValue(m.assignmentsTotal, "automatic", "rejected")
	approvals := counterValue(m.assignmentsTotal, "automatic", "approval_required")

	matches := counterValue(m.ruleEvaluations, "matched")
	fallbacks := counterValue(m.ruleEvaluations, "fallback")

	hits := counterValue(m.cacheHits, "rules")
	misses := counterValue(m.cacheMisses, "rules")
	hitRate := float64(0)
	if hits+misses > 0 {
		hitRate = hits / (hits + misses)
	}

	return &domain.EngineMetrics{
		AssignmentsTotal:    int64(manual + automatic),
		ManualOverrides:     int64(manual),
		RuleMatches:         int64(matches),
		FallbackAssignments: int64(fallbacks),
		Rejections:          int64(rejections),
		ApprovalsRequested:  int64(approvals),
		BalanceRecomputes:   int64(plainCounterValue(m.balanceRecomputes)),
		WebhookErrors:       int64(plainCounterValue(m.webhookErrors)),
		RuleCacheHitRate:    hitRate,
		Period:              "all_time",
	}
}

// counterValue extracts the current value from a CounterVec for given labels.
func counterValue(cv *prometheus.CounterVec, labels ...string) float64 {
	counter := cv.WithLabelValues(labels...)
	m := &dto.Metric{}
	if err := counter.(prometheus.Metric).Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}

func plainCounterValue(c prometheus.Counter) float64 {
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		return 0
	}
	if m.Counter != nil && m.Counter.Value != nil {
		return *m.Counter.Value
	}
	return 0
}
