package engine

import (
	"time"

	"github.com/tabhq/tab-billing/internal/domain"
)

// Assignment outcomes produced by Resolve.
const (
	OutcomeAssigned         = "assigned"
	OutcomeApprovalRequired = "approval_required"
	OutcomeNotified         = "notified"
	OutcomeRejected         = "rejected"
)

// Resolution is the decision for one automatic assignment. GroupID is set
// only for OutcomeAssigned. MatchedRule is nil when the decision came from
// the default-group fallback.
type Resolution struct {
	Outcome     string
	GroupID     string
	MatchedRule *domain.BillingGroupRule
}

// Resolve decides the automatic assignment for an item: rule match first,
// default-group fallback otherwise. Actions other than auto_assign never
// mutate anything here; the caller owns the approval/notify/reject paths.
func Resolve(item *domain.LineItem, groups []domain.BillingGroup, rules []domain.BillingGroupRule, now time.Time) (*Resolution, error) {
	if matched := Evaluate(item, rules, now); matched != nil {
		switch matched.Action {
		case domain.ActionAutoAssign:
			return &Resolution{Outcome: OutcomeAssigned, GroupID: matched.GroupID, MatchedRule: matched}, nil
		case domain.ActionRequireApproval:
			return &Resolution{Outcome: OutcomeApprovalRequired, MatchedRule: matched}, nil
		case domain.ActionNotify:
			return &Resolution{Outcome: OutcomeNotified, MatchedRule: matched}, nil
		case domain.ActionReject:
			return &Resolution{Outcome: OutcomeRejected, MatchedRule: matched}, nil
		}
	}

	fallback, err := DefaultGroup(item.TabID, groups)
	if err != nil {
		return nil, err
	}
	return &Resolution{Outcome: OutcomeAssigned, GroupID: fallback.ID}, nil
}

// DefaultGroup is the named fallback policy for unmatched items: prefer an
// active personal-type group; otherwise the first active group by creation
// order; error when the tab has no usable group at all.
func DefaultGroup(tabID string, groups []domain.BillingGroup) (*domain.BillingGroup, error) {
	older := func(a, b *domain.BillingGroup) bool {
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.GroupNumber < b.GroupNumber
	}

	var personal, first *domain.BillingGroup
	for i := range groups {
		g := &groups[i]
		if g.Status != domain.GroupStatusActive {
			continue
		}
		if g.Type == domain.GroupTypePersonal && (personal == nil || older(g, personal)) {
			personal = g
		}
		if first == nil || older(g, first) {
			first = g
		}
	}
	if personal != nil {
		return personal, nil
	}
	if first == nil {
		return nil, &domain.ErrNoBillingGroups{TabID: tabID}
	}
	return first, nil
}
