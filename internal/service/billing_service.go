package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/engine"
	"github.com/tabhq/tab-billing/internal/infra/observability"
	"github.com/tabhq/tab-billing/internal/port"
)

var billingTracer = otel.Tracer("service/billing")

// EnableGroupsRequest is the body for POST /v1/tabs/{tabID}/billing-groups/enable.
type EnableGroupsRequest struct {
	Template string             `json:"template,omitempty"`
	Groups   []GroupSetupConfig `json:"groups,omitempty"`
}

// GroupSetupConfig overrides or extends a template group at enable time.
type GroupSetupConfig struct {
	Name             string `json:"name"`
	Type             string `json:"type"`
	PayerEmail       string `json:"payer_email,omitempty"`
	PayerOrgID       string `json:"payer_org_id,omitempty"`
	CreditLimitCents *int64 `json:"credit_limit_cents,omitempty"`
	DepositCents     *int64 `json:"deposit_cents,omitempty"`
}

// AssignRequest is the body for POST /v1/tabs/{tabID}/items/{itemID}/assign.
// Mode "manual" requires GroupID and ActorID; mode "automatic" takes neither.
type AssignRequest struct {
	Mode    string `json:"mode"`
	GroupID string `json:"group_id,omitempty"`
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// BulkAssignPair is one explicit item→group pair in a manual bulk run.
type BulkAssignPair struct {
	ItemID  string `json:"item_id"`
	GroupID string `json:"group_id"`
}

// BulkAssignRequest is the body for POST /v1/tabs/{tabID}/items/assign-bulk.
// Mode "manual" takes explicit Assignments and one ActorID; mode "automatic"
// (the default) runs the rule engine over ItemIDs.
type BulkAssignRequest struct {
	Mode        string           `json:"mode,omitempty"`
	ItemIDs     []string         `json:"item_ids,omitempty"`
	Assignments []BulkAssignPair `json:"assignments,omitempty"`
	ActorID     string           `json:"actor_id,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

// BulkAssignResponse reports the per-item outcomes of a bulk run. Applied is
// the number of pointer mutations that committed.
type BulkAssignResponse struct {
	Results map[string]domain.AssignmentResult `json:"results"`
	Applied int                                `json:"applied"`
}

// DepositRequest is the body for POST /v1/tabs/{tabID}/billing-groups/{groupID}/deposit.
type DepositRequest struct {
	AmountCents int64 `json:"amount_cents"`
}

// BillingService orchestrates group setup, item assignment, the balance
// ledger and summaries.
type BillingService struct {
	store    port.BillingStore
	rules    *RulesService
	notifier port.Notifier
	metrics  *observability.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

// NewBillingService creates a new billing service.
func NewBillingService(store port.BillingStore, rules *RulesService, notifier port.Notifier, metrics *observability.Metrics, logger *zap.Logger) *BillingService {
	return &BillingService{
		store:    store,
		rules:    rules,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      time.Now,
	}
}

// EnableBillingGroups materializes a named template (or an explicit group
// list) on a tab. Enabling twice is a conflict.
func (s *BillingService) EnableBillingGroups(ctx context.Context, merchantID, tabID string, req *EnableGroupsRequest) ([]domain.BillingGroup, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.EnableBillingGroups")
	defer span.End()
	span.SetAttributes(attribute.String("tab.id", tabID), attribute.String("template", req.Template))

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}

	existing, err := s.store.ListBillingGroups(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if len(existing) > 0 {
		return nil, &domain.ErrConflict{Message: "billing groups already enabled for tab"}
	}

	var configs []GroupSetupConfig
	if len(req.Groups) > 0 {
		configs = req.Groups
	} else {
		specs, ok := domain.GroupTemplates[req.Template]
		if !ok {
			return nil, &domain.ErrValidation{Field: "template", Message: "unknown template " + req.Template}
		}
		for _, spec := range specs {
			configs = append(configs, GroupSetupConfig{Name: spec.Name, Type: spec.Type})
		}
	}

	now := s.now()
	groups := make([]domain.BillingGroup, 0, len(configs))
	for i, c := range configs {
		if c.Name == "" {
			return nil, &domain.ErrValidation{Field: "groups.name", Message: "required"}
		}
		typ := c.Type
		if typ == "" {
			typ = domain.GroupTypeStandard
		}
		groups = append(groups, domain.BillingGroup{
			ID:               uuid.NewString(),
			TabID:            tabID,
			GroupNumber:      i + 1,
			Name:             c.Name,
			Type:             typ,
			Status:           domain.GroupStatusActive,
			PayerEmail:       c.PayerEmail,
			PayerOrgID:       c.PayerOrgID,
			CreditLimitCents: c.CreditLimitCents,
			DepositCents:     c.DepositCents,
			CreatedAt:        now.Add(time.Duration(i) * time.Microsecond),
		})
	}

	if err := s.store.CreateBillingGroups(ctx, groups); err != nil {
		return nil, err
	}

	s.logger.Info("billing groups enabled",
		zap.String("tab_id", tabID),
		zap.String("template", req.Template),
		zap.Int("count", len(groups)),
	)
	return groups, nil
}

// AssignLineItem assigns one item. Manual mode always succeeds against any
// active group of the tab and leaves an override audit record; automatic mode
// runs the rule engine.
func (s *BillingService) AssignLineItem(ctx context.Context, merchantID, tabID, itemID string, req *AssignRequest) (*domain.AssignmentResult, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.AssignLineItem")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID), attribute.String("mode", req.Mode))

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	item, err := s.store.GetLineItem(ctx, tabID, itemID)
	if err != nil {
		return nil, err
	}

	switch req.Mode {
	case domain.AssignModeManual:
		return s.assignManual(ctx, tabID, item, req)
	case domain.AssignModeAutomatic, "":
		return s.assignAutomatic(ctx, tabID, item)
	default:
		return nil, &domain.ErrValidation{Field: "mode", Message: "must be manual or automatic"}
	}
}

func (s *BillingService) assignManual(ctx context.Context, tabID string, item *domain.LineItem, req *AssignRequest) (*domain.AssignmentResult, error) {
	if req.GroupID == "" {
		return nil, &domain.ErrValidation{Field: "group_id", Message: "required for manual assignment"}
	}
	if req.ActorID == "" {
		return nil, &domain.ErrValidation{Field: "actor_id", Message: "required for manual assignment"}
	}

	// Record which rule the operator is overriding, if any.
	var bypassedRuleID *string
	rules, err := s.rules.ActiveRules(ctx, tabID)
	if err != nil {
		return nil, err
	}
	if matched := engine.Evaluate(item, rules, s.now()); matched != nil && matched.GroupID != req.GroupID {
		bypassedRuleID = &matched.ID
	}

	override := domain.BillingGroupOverride{
		ID:              uuid.NewString(),
		TabID:           tabID,
		LineItemID:      item.ID,
		OriginalGroupID: item.BillingGroupID,
		NewGroupID:      req.GroupID,
		BypassedRuleID:  bypassedRuleID,
		Reason:          req.Reason,
		ActorID:         req.ActorID,
		CreatedAt:       s.now(),
	}

	changes := []domain.AssignmentChange{{ItemID: item.ID, GroupID: req.GroupID}}
	if err := s.store.ApplyAssignments(ctx, tabID, changes, []domain.BillingGroupOverride{override}); err != nil {
		return nil, err
	}
	s.metrics.IncrAssignment(domain.AssignModeManual, engine.OutcomeAssigned)
	s.metrics.IncrBalanceRecompute()

	s.logger.Info("line item manually assigned",
		zap.String("tab_id", tabID),
		zap.String("item_id", item.ID),
		zap.String("group_id", req.GroupID),
		zap.String("actor_id", req.ActorID),
	)

	return &domain.AssignmentResult{
		Outcome:    engine.OutcomeAssigned,
		GroupID:    req.GroupID,
		OverrideID: override.ID,
	}, nil
}

func (s *BillingService) assignAutomatic(ctx context.Context, tabID string, item *domain.LineItem) (*domain.AssignmentResult, error) {
	groups, err := s.store.ListBillingGroups(ctx, tabID)
	if err != nil {
		return nil, err
	}
	rules, err := s.rules.ActiveRules(ctx, tabID)
	if err != nil {
		return nil, err
	}

	res, err := engine.Resolve(item, groups, rules, s.now())
	if err != nil {
		return nil, err
	}
	s.recordResolution(res)

	result := &domain.AssignmentResult{Outcome: res.Outcome}
	if res.MatchedRule != nil {
		result.MatchedRuleID = res.MatchedRule.ID
	}

	switch res.Outcome {
	case engine.OutcomeAssigned:
		changes := []domain.AssignmentChange{{ItemID: item.ID, GroupID: res.GroupID}}
		if err := s.store.ApplyAssignments(ctx, tabID, changes, nil); err != nil {
			return nil, err
		}
		s.metrics.IncrBalanceRecompute()
		result.GroupID = res.GroupID

		s.logger.Info("line item auto-assigned",
			zap.String("tab_id", tabID),
			zap.String("item_id", item.ID),
			zap.String("group_id", res.GroupID),
			zap.String("matched_rule_id", result.MatchedRuleID),
		)

	case engine.OutcomeApprovalRequired, engine.OutcomeNotified:
		s.publishRuleEvent(ctx, tabID, item.ID, res)

	case engine.OutcomeRejected:
		s.logger.Info("line item rejected by rule",
			zap.String("tab_id", tabID),
			zap.String("item_id", item.ID),
			zap.String("rule_id", result.MatchedRuleID),
		)
	}

	return result, nil
}

// BulkAssign assigns a set of items in one transaction; if any item fails
// validation the whole batch rolls back. Manual mode applies explicit
// item→group pairs under one actor, automatic mode runs the rule engine.
func (s *BillingService) BulkAssign(ctx context.Context, merchantID, tabID string, req *BulkAssignRequest) (*BulkAssignResponse, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.BulkAssign")
	defer span.End()
	span.SetAttributes(attribute.String("tab.id", tabID), attribute.String("mode", req.Mode))

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}

	switch req.Mode {
	case domain.AssignModeManual:
		return s.bulkAssignManual(ctx, tabID, req)
	case domain.AssignModeAutomatic, "":
		return s.bulkAssignAutomatic(ctx, tabID, req)
	default:
		return nil, &domain.ErrValidation{Field: "mode", Message: "must be manual or automatic"}
	}
}

// bulkAssignManual applies explicit pairs as independent manual assignments
// committed together, each leaving its own override record.
func (s *BillingService) bulkAssignManual(ctx context.Context, tabID string, req *BulkAssignRequest) (*BulkAssignResponse, error) {
	if len(req.Assignments) == 0 {
		return nil, &domain.ErrValidation{Field: "assignments", Message: "required for manual bulk assignment"}
	}
	if req.ActorID == "" {
		return nil, &domain.ErrValidation{Field: "actor_id", Message: "required for manual bulk assignment"}
	}

	rules, err := s.rules.ActiveRules(ctx, tabID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	results := make(map[string]domain.AssignmentResult, len(req.Assignments))
	changes := make([]domain.AssignmentChange, 0, len(req.Assignments))
	overrides := make([]domain.BillingGroupOverride, 0, len(req.Assignments))

	for _, pair := range req.Assignments {
		if pair.ItemID == "" || pair.GroupID == "" {
			return nil, &domain.ErrValidation{Field: "assignments", Message: "item_id and group_id are required on every pair"}
		}
		item, err := s.store.GetLineItem(ctx, tabID, pair.ItemID)
		if err != nil {
			return nil, err
		}

		var bypassedRuleID *string
		if matched := engine.Evaluate(item, rules, now); matched != nil && matched.GroupID != pair.GroupID {
			bypassedRuleID = &matched.ID
		}

		override := domain.BillingGroupOverride{
			ID:              uuid.NewString(),
			TabID:           tabID,
			LineItemID:      pair.ItemID,
			OriginalGroupID: item.BillingGroupID,
			NewGroupID:      pair.GroupID,
			BypassedRuleID:  bypassedRuleID,
			Reason:          req.Reason,
			ActorID:         req.ActorID,
			CreatedAt:       now,
		}
		changes = append(changes, domain.AssignmentChange{ItemID: pair.ItemID, GroupID: pair.GroupID})
		overrides = append(overrides, override)
		results[pair.ItemID] = domain.AssignmentResult{
			Outcome:    engine.OutcomeAssigned,
			GroupID:    pair.GroupID,
			OverrideID: override.ID,
		}
	}

	if err := s.store.ApplyAssignments(ctx, tabID, changes, overrides); err != nil {
		return nil, err
	}
	for range changes {
		s.metrics.IncrAssignment(domain.AssignModeManual, engine.OutcomeAssigned)
	}
	s.metrics.IncrBalanceRecompute()

	s.logger.Info("manual bulk assignment applied",
		zap.String("tab_id", tabID),
		zap.String("actor_id", req.ActorID),
		zap.Int("applied", len(changes)),
	)

	return &BulkAssignResponse{Results: results, Applied: len(changes)}, nil
}

func (s *BillingService) bulkAssignAutomatic(ctx context.Context, tabID string, req *BulkAssignRequest) (*BulkAssignResponse, error) {
	if len(req.ItemIDs) == 0 {
		return nil, &domain.ErrValidation{Field: "item_ids", Message: "required"}
	}

	groups, err := s.store.ListBillingGroups(ctx, tabID)
	if err != nil {
		return nil, err
	}
	rules, err := s.rules.ActiveRules(ctx, tabID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	results := make(map[string]domain.AssignmentResult, len(req.ItemIDs))
	var changes []domain.AssignmentChange
	var events []*domain.RuleEvent

	for _, itemID := range req.ItemIDs {
		item, err := s.store.GetLineItem(ctx, tabID, itemID)
		if err != nil {
			return nil, err
		}

		res, err := engine.Resolve(item, groups, rules, now)
		if err != nil {
			return nil, err
		}
		s.recordResolution(res)

		result := domain.AssignmentResult{Outcome: res.Outcome}
		if res.MatchedRule != nil {
			result.MatchedRuleID = res.MatchedRule.ID
		}
		if res.Outcome == engine.OutcomeAssigned {
			result.GroupID = res.GroupID
			changes = append(changes, domain.AssignmentChange{ItemID: itemID, GroupID: res.GroupID})
		}
		if res.Outcome == engine.OutcomeApprovalRequired || res.Outcome == engine.OutcomeNotified {
			events = append(events, s.buildRuleEvent(tabID, itemID, res))
		}
		results[itemID] = result
	}

	if err := s.store.ApplyAssignments(ctx, tabID, changes, nil); err != nil {
		return nil, err
	}
	if len(changes) > 0 {
		s.metrics.IncrBalanceRecompute()
	}

	// Side-channel events go out only after the batch committed.
	for _, ev := range events {
		s.publish(ctx, ev)
	}

	s.logger.Info("bulk assignment applied",
		zap.String("tab_id", tabID),
		zap.Int("requested", len(req.ItemIDs)),
		zap.Int("applied", len(changes)),
	)

	return &BulkAssignResponse{Results: results, Applied: len(changes)}, nil
}

// RecomputeBalance forces a full re-derivation of one group's balance.
func (s *BillingService) RecomputeBalance(ctx context.Context, merchantID, tabID, groupID string) (*domain.BillingGroup, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.RecomputeBalance")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID))

	group, err := s.groupOnTab(ctx, merchantID, tabID, groupID)
	if err != nil {
		return nil, err
	}

	balance, err := s.store.RecomputeBalance(ctx, groupID)
	if err != nil {
		return nil, err
	}
	s.metrics.IncrBalanceRecompute()

	group.CurrentBalanceCents = balance
	return group, nil
}

// ApplyDeposit draws against a deposit group's capacity.
func (s *BillingService) ApplyDeposit(ctx context.Context, merchantID, tabID, groupID string, req *DepositRequest) (*domain.BillingGroup, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ApplyDeposit")
	defer span.End()
	span.SetAttributes(attribute.String("group.id", groupID), attribute.Int64("amount_cents", req.AmountCents))

	if _, err := s.groupOnTab(ctx, merchantID, tabID, groupID); err != nil {
		return nil, err
	}

	group, err := s.store.ApplyDeposit(ctx, groupID, req.AmountCents)
	if err != nil {
		return nil, err
	}

	s.logger.Info("deposit applied",
		zap.String("group_id", groupID),
		zap.Int64("amount_cents", req.AmountCents),
		zap.Int64("remaining_cents", group.DepositRemainingCents()),
	)
	return group, nil
}

// CloseGroup marks a billing group closed.
func (s *BillingService) CloseGroup(ctx context.Context, merchantID, tabID, groupID string) error {
	ctx, span := billingTracer.Start(ctx, "BillingService.CloseGroup")
	defer span.End()

	if _, err := s.groupOnTab(ctx, merchantID, tabID, groupID); err != nil {
		return err
	}
	if err := s.store.CloseBillingGroup(ctx, groupID); err != nil {
		return err
	}
	s.logger.Info("billing group closed", zap.String("group_id", groupID))
	return nil
}

// ListGroups returns the tab's billing groups.
func (s *BillingService) ListGroups(ctx context.Context, merchantID, tabID string) ([]domain.BillingGroup, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListGroups")
	defer span.End()

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	return s.store.ListBillingGroups(ctx, tabID)
}

// ListOverrides returns the manual-assignment audit trail for a tab.
func (s *BillingService) ListOverrides(ctx context.Context, merchantID, tabID string, page, pageSize int) ([]domain.BillingGroupOverride, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.ListOverrides")
	defer span.End()

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	return s.store.ListOverrides(ctx, tabID, page, pageSize)
}

// TabBillingSummary aggregates the tab: per-group totals, the unassigned
// remainder and the grand total. Groups and items are fetched concurrently.
func (s *BillingService) TabBillingSummary(ctx context.Context, merchantID, tabID string) (*domain.TabBillingSummary, error) {
	ctx, span := billingTracer.Start(ctx, "BillingService.TabBillingSummary")
	defer span.End()
	span.SetAttributes(attribute.String("tab.id", tabID))

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}

	var groups []domain.BillingGroup
	var items []domain.LineItem

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		groups, err = s.store.ListBillingGroups(gctx, tabID)
		return err
	})
	g.Go(func() error {
		var err error
		items, err = s.store.ListLineItems(gctx, tabID)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	type bucket struct {
		count int
		total int64
	}
	byGroup := make(map[string]bucket, len(groups))
	summary := &domain.TabBillingSummary{TabID: tabID}

	for _, item := range items {
		summary.GrandTotalCents += item.TotalCents
		if item.BillingGroupID == nil {
			summary.UnassignedItemCount++
			summary.UnassignedTotalCents += item.TotalCents
			continue
		}
		b := byGroup[*item.BillingGroupID]
		b.count++
		b.total += item.TotalCents
		byGroup[*item.BillingGroupID] = b
	}

	summary.Groups = make([]domain.GroupSummary, 0, len(groups))
	for _, grp := range groups {
		b := byGroup[grp.ID]
		gs := domain.GroupSummary{
			GroupID:               grp.ID,
			Name:                  grp.Name,
			Type:                  grp.Type,
			Status:                grp.Status,
			ItemCount:             b.count,
			TotalCents:            b.total,
			DepositRemainingCents: grp.DepositRemainingCents(),
		}
		// Credit exposure is derived from the item totals just computed, not
		// from the possibly stale stored balance.
		if grp.CreditLimitCents != nil {
			avail := *grp.CreditLimitCents - b.total
			gs.CreditAvailableCents = &avail
		}
		summary.Groups = append(summary.Groups, gs)
	}

	return summary, nil
}

func (s *BillingService) groupOnTab(ctx context.Context, merchantID, tabID, groupID string) (*domain.BillingGroup, error) {
	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	group, err := s.store.GetBillingGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.TabID != tabID {
		return nil, &domain.ErrTabMismatch{GroupID: groupID, TabID: tabID}
	}
	return group, nil
}

func (s *BillingService) recordResolution(res *engine.Resolution) {
	if res.MatchedRule != nil {
		s.metrics.IncrRuleEvaluation("matched")
	} else {
		s.metrics.IncrRuleEvaluation("fallback")
	}
	s.metrics.IncrAssignment(domain.AssignModeAutomatic, res.Outcome)
}

func (s *BillingService) buildRuleEvent(tabID, itemID string, res *engine.Resolution) *domain.RuleEvent {
	return &domain.RuleEvent{
		Type:       res.Outcome,
		TabID:      tabID,
		LineItemID: itemID,
		RuleID:     res.MatchedRule.ID,
		GroupID:    res.MatchedRule.GroupID,
		At:         s.now(),
	}
}

func (s *BillingService) publishRuleEvent(ctx context.Context, tabID, itemID string, res *engine.Resolution) {
	s.publish(ctx, s.buildRuleEvent(tabID, itemID, res))
}

// publish delivers a side-channel event. Failures are logged and counted but
// never fail the assignment that produced them.
func (s *BillingService) publish(ctx context.Context, ev *domain.RuleEvent) {
	if err := s.notifier.Publish(ctx, ev); err != nil {
		s.metrics.IncrWebhookError()
		s.logger.Warn("failed to publish rule event",
			zap.String("event_type", ev.Type),
			zap.String("tab_id", ev.TabID),
			zap.String("item_id", ev.LineItemID),
			zap.Error(err),
		)
	}
}
