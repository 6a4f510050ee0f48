package domain

// EngineMetrics is the aggregate view served by GET /v1/metrics/engine.
// Values are cumulative since process start.
type EngineMetrics struct {
	AssignmentsTotal    int64   `json:"assignments_total"`
	ManualOverrides     int64   `json:"manual_overrides"`
	RuleMatches         int64   `json:"rule_matches"`
	FallbackAssignments int64   `json:"fallback_assignments"`
	Rejections          int64   `json:"rejections"`
	ApprovalsRequested  int64   `json:"approvals_requested"`
	BalanceRecomputes   int64   `json:"balance_recomputes"`
	WebhookErrors       int64   `json:"webhook_errors"`
	RuleCacheHitRate    float64 `json:"rule_cache_hit_rate"`
	Period              string  `json:"period"`
}
