package engine_test

import (
	"testing"
	"time"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/engine"
)

func cents(v int64) *int64 { return &v }

// A Tuesday at 12:30.
var noon = time.Date(2025, 3, 11, 12, 30, 0, 0, time.UTC)

func item(totalCents int64, meta map[string]string) *domain.LineItem {
	return &domain.LineItem{
		ID:         "item-1",
		TabID:      "tab-1",
		TotalCents: totalCents,
		Metadata:   meta,
	}
}

func rule(id string, priority int, createdAt time.Time, cond domain.RuleConditions) domain.BillingGroupRule {
	return domain.BillingGroupRule{
		ID:         id,
		GroupID:    "group-" + id,
		TabID:      "tab-1",
		Name:       "rule " + id,
		Priority:   priority,
		Action:     domain.ActionAutoAssign,
		Conditions: cond,
		IsActive:   true,
		CreatedAt:  createdAt,
	}
}

func TestEvaluate_PriorityOrdering(t *testing.T) {
	it := item(2500, map[string]string{"category": "food"})
	cond := domain.RuleConditions{Categories: []string{"food"}}

	rules := []domain.BillingGroupRule{
		rule("r10", 10, noon, cond),
		rule("r5", 5, noon, cond),
	}

	got := engine.Evaluate(it, rules, noon)
	if got == nil {
		t.Fatal("expected a match, got nil")
	}
	if got.ID != "r5" {
		t.Errorf("expected lower-priority-value rule r5, got %s", got.ID)
	}
}

func TestEvaluate_EqualPriorityTieBreakByCreation(t *testing.T) {
	it := item(2500, map[string]string{"category": "food"})
	cond := domain.RuleConditions{Categories: []string{"food"}}

	older := rule("r-old", 10, noon.Add(-time.Hour), cond)
	newer := rule("r-new", 10, noon, cond)

	// Present newer first to prove order of input does not matter.
	got := engine.Evaluate(it, []domain.BillingGroupRule{newer, older}, noon)
	if got == nil || got.ID != "r-old" {
		t.Fatalf("expected older rule to win the tie, got %v", got)
	}
}

func TestEvaluate_ConjunctiveConditions(t *testing.T) {
	// category matches but amount does not: no match.
	it := item(6000, map[string]string{"category": "food"})
	r := rule("r1", 10, noon, domain.RuleConditions{
		Categories: []string{"food"},
		Amount:     &domain.AmountCondition{MaxCents: cents(5000)},
	})

	if got := engine.Evaluate(it, []domain.BillingGroupRule{r}, noon); got != nil {
		t.Errorf("expected no match when one dimension fails, got %s", got.ID)
	}
}

func TestEvaluate_InactiveRulesSkipped(t *testing.T) {
	it := item(2500, map[string]string{"category": "food"})
	r := rule("r1", 1, noon, domain.RuleConditions{Categories: []string{"food"}})
	r.IsActive = false

	if got := engine.Evaluate(it, []domain.BillingGroupRule{r}, noon); got != nil {
		t.Errorf("expected inactive rule to be skipped, got %s", got.ID)
	}
}

func TestEvaluate_NoMatch(t *testing.T) {
	it := item(2500, map[string]string{"category": "spa"})
	r := rule("r1", 10, noon, domain.RuleConditions{Categories: []string{"food"}})

	if got := engine.Evaluate(it, []domain.BillingGroupRule{r}, noon); got != nil {
		t.Errorf("expected no match, got %s", got.ID)
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		name string
		item *domain.LineItem
		cond domain.RuleConditions
		now  time.Time
		want bool
	}{
		{
			name: "empty conditions match everything",
			item: item(100, nil),
			cond: domain.RuleConditions{},
			now:  noon,
			want: true,
		},
		{
			name: "category member",
			item: item(100, map[string]string{"category": "drinks"}),
			cond: domain.RuleConditions{Categories: []string{"food", "drinks"}},
			now:  noon,
			want: true,
		},
		{
			name: "category absent on item",
			item: item(100, nil),
			cond: domain.RuleConditions{Categories: []string{"food"}},
			now:  noon,
			want: false,
		},
		{
			name: "amount within open-min range",
			item: item(4999, nil),
			cond: domain.RuleConditions{Amount: &domain.AmountCondition{MaxCents: cents(5000)}},
			now:  noon,
			want: true,
		},
		{
			name: "amount below min",
			item: item(999, nil),
			cond: domain.RuleConditions{Amount: &domain.AmountCondition{MinCents: cents(1000)}},
			now:  noon,
			want: false,
		},
		{
			name: "amount at inclusive bounds",
			item: item(1000, nil),
			cond: domain.RuleConditions{Amount: &domain.AmountCondition{MinCents: cents(1000), MaxCents: cents(1000)}},
			now:  noon,
			want: true,
		},
		{
			name: "time window contains now",
			item: item(100, nil),
			cond: domain.RuleConditions{Time: &domain.TimeCondition{Start: "11:00", End: "14:00"}},
			now:  noon,
			want: true,
		},
		{
			name: "time window excludes now",
			item: item(100, nil),
			cond: domain.RuleConditions{Time: &domain.TimeCondition{Start: "18:00", End: "22:00"}},
			now:  noon,
			want: false,
		},
		{
			name: "wrapped time window spans midnight",
			item: item(100, nil),
			cond: domain.RuleConditions{Time: &domain.TimeCondition{Start: "22:00", End: "02:00"}},
			now:  time.Date(2025, 3, 11, 23, 30, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "wrapped time window early morning",
			item: item(100, nil),
			cond: domain.RuleConditions{Time: &domain.TimeCondition{Start: "22:00", End: "02:00"}},
			now:  time.Date(2025, 3, 11, 1, 30, 0, 0, time.UTC),
			want: true,
		},
		{
			name: "day of week member",
			item: item(100, nil),
			cond: domain.RuleConditions{DaysOfWeek: []int{2}}, // Tuesday
			now:  noon,
			want: true,
		},
		{
			name: "day of week non-member",
			item: item(100, nil),
			cond: domain.RuleConditions{DaysOfWeek: []int{0, 6}}, // weekend
			now:  noon,
			want: false,
		},
		{
			name: "metadata exact match",
			item: item(100, map[string]string{"guest": "alice", "room": "204"}),
			cond: domain.RuleConditions{Metadata: map[string]string{"guest": "alice"}},
			now:  noon,
			want: true,
		},
		{
			name: "metadata value mismatch",
			item: item(100, map[string]string{"guest": "bob"}),
			cond: domain.RuleConditions{Metadata: map[string]string{"guest": "alice"}},
			now:  noon,
			want: false,
		},
		{
			name: "metadata key missing",
			item: item(100, nil),
			cond: domain.RuleConditions{Metadata: map[string]string{"guest": "alice"}},
			now:  noon,
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := engine.Matches(tt.item, &tt.cond, tt.now); got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}
