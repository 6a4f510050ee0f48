package domain

import (
	"fmt"
	"time"
)

// ============================================================
// Billing Groups
// ============================================================

// Group types are open strings; these are the well-known values.
const (
	GroupTypePersonal  = "personal"
	GroupTypeStandard  = "standard"
	GroupTypeCorporate = "corporate"
	GroupTypeDeposit   = "deposit"
	GroupTypeCredit    = "credit"
)

// Group statuses.
const (
	GroupStatusActive = "active"
	GroupStatusClosed = "closed"
)

// BillingGroup is one payer bucket within a tab. CurrentBalanceCents is
// derived from the items pointing at the group and is re-derived in full on
// every assignment change, never trusted incrementally.
type BillingGroup struct {
	ID          string `json:"id"`
	TabID       string `json:"tab_id"`
	GroupNumber int    `json:"group_number"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Status      string `json:"status"`

	// Payer identity: at most one of email / organization is canonical.
	PayerEmail string `json:"payer_email,omitempty"`
	PayerOrgID string `json:"payer_org_id,omitempty"`

	CreditLimitCents    *int64 `json:"credit_limit_cents,omitempty"`
	DepositCents        *int64 `json:"deposit_cents,omitempty"`
	DepositAppliedCents int64  `json:"deposit_applied_cents"`
	CurrentBalanceCents int64  `json:"current_balance_cents"`

	CreatedAt time.Time `json:"created_at"`
}

// DepositRemainingCents returns the undrawn deposit capacity, or 0 when the
// group carries no deposit.
func (g *BillingGroup) DepositRemainingCents() int64 {
	if g.DepositCents == nil {
		return 0
	}
	return *g.DepositCents - g.DepositAppliedCents
}

// CreditAvailableCents returns creditLimit - currentBalance, or nil when the
// group has no credit limit. Derived, never stored.
func (g *BillingGroup) CreditAvailableCents() *int64 {
	if g.CreditLimitCents == nil {
		return nil
	}
	avail := *g.CreditLimitCents - g.CurrentBalanceCents
	return &avail
}

// ============================================================
// Rules
// ============================================================

// Rule actions.
const (
	ActionAutoAssign      = "auto_assign"
	ActionRequireApproval = "require_approval"
	ActionNotify          = "notify"
	ActionReject          = "reject"
)

var knownActions = map[string]bool{
	ActionAutoAssign:      true,
	ActionRequireApproval: true,
	ActionNotify:          true,
	ActionReject:          true,
}

// AmountCondition bounds the item total. Either bound may be omitted for an
// open range.
type AmountCondition struct {
	MinCents *int64 `json:"min_cents,omitempty"`
	MaxCents *int64 `json:"max_cents,omitempty"`
}

// TimeCondition is a wall-clock window in "HH:MM". A window with Start > End
// wraps past midnight (e.g. 22:00–02:00).
type TimeCondition struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// RuleConditions are the optional dimensions of a rule. All present
// dimensions must match (logical AND); an absent dimension means
// "don't care", not "must be absent".
type RuleConditions struct {
	Categories []string          `json:"categories,omitempty"`
	Amount     *AmountCondition  `json:"amount,omitempty"`
	Time       *TimeCondition    `json:"time,omitempty"`
	DaysOfWeek []int             `json:"days_of_week,omitempty"` // 0 = Sunday
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// Validate rejects malformed conditions at rule-creation time.
func (c *RuleConditions) Validate() error {
	if c.Amount != nil {
		if c.Amount.MinCents != nil && *c.Amount.MinCents < 0 {
			return &ErrValidation{Field: "conditions.amount.min_cents", Message: "must not be negative"}
		}
		if c.Amount.MaxCents != nil && *c.Amount.MaxCents < 0 {
			return &ErrValidation{Field: "conditions.amount.max_cents", Message: "must not be negative"}
		}
		if c.Amount.MinCents != nil && c.Amount.MaxCents != nil && *c.Amount.MinCents > *c.Amount.MaxCents {
			return &ErrValidation{Field: "conditions.amount", Message: "min exceeds max"}
		}
	}
	if c.Time != nil {
		if c.Time.Start != "" {
			if _, err := ParseClock(c.Time.Start); err != nil {
				return &ErrValidation{Field: "conditions.time.start", Message: err.Error()}
			}
		}
		if c.Time.End != "" {
			if _, err := ParseClock(c.Time.End); err != nil {
				return &ErrValidation{Field: "conditions.time.end", Message: err.Error()}
			}
		}
	}
	for _, d := range c.DaysOfWeek {
		if d < 0 || d > 6 {
			return &ErrValidation{Field: "conditions.days_of_week", Message: fmt.Sprintf("day %d out of range 0-6", d)}
		}
	}
	return nil
}

// ParseClock parses "HH:MM" into minutes since midnight. Trailing input
// after the minutes is rejected.
func ParseClock(s string) (int, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// BillingGroupRule is a named, prioritized condition→action mapping scoped to
// one billing group. Lower priority value means evaluated first.
type BillingGroupRule struct {
	ID         string            `json:"id"`
	GroupID    string            `json:"group_id"`
	TabID      string            `json:"tab_id"`
	Name       string            `json:"name"`
	Priority   int               `json:"priority"`
	Action     string            `json:"action"`
	Conditions RuleConditions    `json:"conditions"`
	IsActive   bool              `json:"is_active"`
	Metadata   map[string]string `json:"metadata,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

// Validate rejects malformed rules at creation/update time.
func (r *BillingGroupRule) Validate() error {
	if r.Name == "" {
		return &ErrValidation{Field: "name", Message: "required"}
	}
	if !knownActions[r.Action] {
		return &ErrValidation{Field: "action", Message: fmt.Sprintf("unknown action %q", r.Action)}
	}
	return r.Conditions.Validate()
}

// ============================================================
// Overrides
// ============================================================

// BillingGroupOverride is the append-only audit record of a manual
// assignment. BypassedRuleID is the rule that would otherwise have applied.
type BillingGroupOverride struct {
	ID              string    `json:"id"`
	TabID           string    `json:"tab_id"`
	LineItemID      string    `json:"line_item_id"`
	OriginalGroupID *string   `json:"original_group_id,omitempty"`
	NewGroupID      string    `json:"new_group_id"`
	BypassedRuleID  *string   `json:"bypassed_rule_id,omitempty"`
	Reason          string    `json:"reason,omitempty"`
	ActorID         string    `json:"actor_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// ============================================================
// Assignment
// ============================================================

// Assignment modes.
const (
	AssignModeAutomatic = "automatic"
	AssignModeManual    = "manual"
)

// AssignmentChange is one item→group pointer mutation, applied atomically by
// the store together with its sibling changes and any override records.
type AssignmentChange struct {
	ItemID  string
	GroupID string
}

// AssignmentResult is the outcome of a single assignment operation.
// GroupID is empty unless the outcome is "assigned".
type AssignmentResult struct {
	Outcome       string `json:"outcome"` // assigned, approval_required, notified, rejected
	GroupID       string `json:"group_id,omitempty"`
	MatchedRuleID string `json:"matched_rule_id,omitempty"`
	OverrideID    string `json:"override_id,omitempty"`
}

// ============================================================
// Side-channel events
// ============================================================

// RuleEvent is published to the webhook notifier when a matched rule's action
// is require_approval or notify. The engine never mutates the item for these.
type RuleEvent struct {
	Type       string    `json:"type"` // approval_required, notified
	TabID      string    `json:"tab_id"`
	LineItemID string    `json:"line_item_id"`
	RuleID     string    `json:"rule_id"`
	GroupID    string    `json:"group_id"`
	At         time.Time `json:"at"`
}

// ============================================================
// Templates
// ============================================================

// GroupTemplateSpec is one group in a named starter set.
type GroupTemplateSpec struct {
	Name string
	Type string
}

// GroupTemplates are the named starter sets for enableBillingGroups.
// The default template is a single personal "General" group.
var GroupTemplates = map[string][]GroupTemplateSpec{
	"hotel": {
		{Name: "Room", Type: GroupTypePersonal},
		{Name: "Restaurant", Type: GroupTypeStandard},
		{Name: "Minibar", Type: GroupTypeStandard},
		{Name: "Incidentals", Type: GroupTypeDeposit},
	},
	"restaurant": {
		{Name: "Food", Type: GroupTypePersonal},
		{Name: "Drinks", Type: GroupTypeStandard},
		{Name: "Shared", Type: GroupTypeStandard},
	},
	"corporate": {
		{Name: "Business", Type: GroupTypeCorporate},
		{Name: "Personal", Type: GroupTypePersonal},
	},
	"": {
		{Name: "General", Type: GroupTypePersonal},
	},
}

// ============================================================
// Summary
// ============================================================

// GroupSummary is the per-group slice of a tab billing summary.
type GroupSummary struct {
	GroupID               string `json:"group_id"`
	Name                  string `json:"name"`
	Type                  string `json:"type"`
	Status                string `json:"status"`
	ItemCount             int    `json:"item_count"`
	TotalCents            int64  `json:"total_cents"`
	DepositRemainingCents int64  `json:"deposit_remaining_cents"`
	CreditAvailableCents  *int64 `json:"credit_available_cents,omitempty"`
}

// TabBillingSummary is the aggregated per-tab view: per-group totals, the
// unassigned remainder and the grand total across all items.
type TabBillingSummary struct {
	TabID                string         `json:"tab_id"`
	Groups               []GroupSummary `json:"groups"`
	UnassignedItemCount  int            `json:"unassigned_item_count"`
	UnassignedTotalCents int64          `json:"unassigned_total_cents"`
	GrandTotalCents      int64          `json:"grand_total_cents"`
}
