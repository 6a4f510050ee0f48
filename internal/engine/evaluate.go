// Package engine holds the billing-group rule engine: pure functions that
// evaluate prioritized rules against line items and decide assignments.
// Nothing in this package touches persistence or the system clock; callers
// supply state and the evaluation time.
package engine

import (
	"slices"
	"strings"
	"time"

	"github.com/tabhq/tab-billing/internal/domain"
)

// Evaluate runs the item against the pooled active rules of every billing
// group on the tab and returns the first match in priority order, or nil
// when no rule matches.
//
// Rules are sorted ascending by priority (lower value wins). Equal-priority
// rules are ordered by creation time, then ID, so evaluation is
// deterministic.
func Evaluate(item *domain.LineItem, rules []domain.BillingGroupRule, now time.Time) *domain.BillingGroupRule {
	candidates := make([]domain.BillingGroupRule, 0, len(rules))
	for _, r := range rules {
		if r.IsActive {
			candidates = append(candidates, r)
		}
	}

	slices.SortStableFunc(candidates, func(a, b domain.BillingGroupRule) int {
		if a.Priority != b.Priority {
			return a.Priority - b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			if a.CreatedAt.Before(b.CreatedAt) {
				return -1
			}
			return 1
		}
		return strings.Compare(a.ID, b.ID)
	})

	for i := range candidates {
		if Matches(item, &candidates[i].Conditions, now) {
			return &candidates[i]
		}
	}
	return nil
}

// Matches reports whether every present condition dimension holds for the
// item at the given wall-clock time. Absent dimensions are "don't care".
func Matches(item *domain.LineItem, c *domain.RuleConditions, now time.Time) bool {
	if len(c.Categories) > 0 && !slices.Contains(c.Categories, item.Category()) {
		return false
	}
	if c.Amount != nil {
		if c.Amount.MinCents != nil && item.TotalCents < *c.Amount.MinCents {
			return false
		}
		if c.Amount.MaxCents != nil && item.TotalCents > *c.Amount.MaxCents {
			return false
		}
	}
	if c.Time != nil && !inTimeWindow(c.Time, now) {
		return false
	}
	if len(c.DaysOfWeek) > 0 && !slices.Contains(c.DaysOfWeek, int(now.Weekday())) {
		return false
	}
	for k, want := range c.Metadata {
		if got, ok := item.Metadata[k]; !ok || got != want {
			return false
		}
	}
	return true
}

// inTimeWindow checks now against an HH:MM window. Windows with start > end
// wrap past midnight. Bounds already validated at rule creation; a malformed
// bound that slips through fails closed.
func inTimeWindow(tc *domain.TimeCondition, now time.Time) bool {
	minutes := now.Hour()*60 + now.Minute()

	start := 0
	if tc.Start != "" {
		v, err := domain.ParseClock(tc.Start)
		if err != nil {
			return false
		}
		start = v
	}
	end := 24*60 - 1
	if tc.End != "" {
		v, err := domain.ParseClock(tc.End)
		if err != nil {
			return false
		}
		end = v
	}

	if start <= end {
		return minutes >= start && minutes <= end
	}
	// Wrapped window, e.g. 22:00-02:00.
	return minutes >= start || minutes <= end
}
