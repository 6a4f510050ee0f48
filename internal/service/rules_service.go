package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/engine"
	"github.com/tabhq/tab-billing/internal/infra/observability"
	"github.com/tabhq/tab-billing/internal/port"
)

var rulesTracer = otel.Tracer("service/rules")

// CreateRuleRequest is the body for POST /v1/tabs/{tabID}/rules.
type CreateRuleRequest struct {
	GroupID    string                `json:"group_id"`
	Name       string                `json:"name"`
	Priority   int                   `json:"priority"`
	Action     string                `json:"action"`
	Conditions domain.RuleConditions `json:"conditions"`
	IsActive   *bool                 `json:"is_active,omitempty"`
	Metadata   map[string]string     `json:"metadata,omitempty"`
}

// UpdateRuleRequest is the body for PUT /v1/tabs/{tabID}/rules/{ruleID}.
// Pointer fields distinguish "absent" from zero values.
type UpdateRuleRequest struct {
	Name       *string                `json:"name,omitempty"`
	Priority   *int                   `json:"priority,omitempty"`
	Action     *string                `json:"action,omitempty"`
	Conditions *domain.RuleConditions `json:"conditions,omitempty"`
	IsActive   *bool                  `json:"is_active,omitempty"`
	Metadata   map[string]string      `json:"metadata,omitempty"`
}

// EvaluateResponse is the dry-run result for one item against the tab's rules.
type EvaluateResponse struct {
	Matched       bool   `json:"matched"`
	RuleID        string `json:"rule_id,omitempty"`
	RuleName      string `json:"rule_name,omitempty"`
	GroupID       string `json:"group_id,omitempty"`
	Action        string `json:"action,omitempty"`
	FallbackGroup string `json:"fallback_group_id,omitempty"`
}

// RulesService manages billing group rules and runs dry-run evaluations.
// The active rule set of each tab is cached; every mutation invalidates it.
type RulesService struct {
	store   port.BillingStore
	cache   port.Cache[[]domain.BillingGroupRule]
	metrics *observability.Metrics
	logger  *zap.Logger
	now     func() time.Time
}

// NewRulesService creates a new rules service.
func NewRulesService(store port.BillingStore, cache port.Cache[[]domain.BillingGroupRule], metrics *observability.Metrics, logger *zap.Logger) *RulesService {
	return &RulesService{store: store, cache: cache, metrics: metrics, logger: logger, now: time.Now}
}

// CreateRule validates and stores a rule on one of the tab's groups.
func (s *RulesService) CreateRule(ctx context.Context, merchantID, tabID string, req *CreateRuleRequest) (*domain.BillingGroupRule, error) {
	ctx, span := rulesTracer.Start(ctx, "RulesService.CreateRule")
	defer span.End()
	span.SetAttributes(attribute.String("tab.id", tabID))

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}

	group, err := s.store.GetBillingGroup(ctx, req.GroupID)
	if err != nil {
		return nil, err
	}
	if group.TabID != tabID {
		return nil, &domain.ErrTabMismatch{GroupID: req.GroupID, TabID: tabID}
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}

	rule := &domain.BillingGroupRule{
		ID:         uuid.NewString(),
		GroupID:    req.GroupID,
		TabID:      tabID,
		Name:       req.Name,
		Priority:   req.Priority,
		Action:     req.Action,
		Conditions: req.Conditions,
		IsActive:   active,
		Metadata:   req.Metadata,
		CreatedAt:  s.now(),
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.cache.Delete(tabID)

	s.logger.Info("rule created",
		zap.String("tab_id", tabID),
		zap.String("rule_id", rule.ID),
		zap.String("action", rule.Action),
		zap.Int("priority", rule.Priority),
	)
	return rule, nil
}

// UpdateRule applies a partial update to an existing rule.
func (s *RulesService) UpdateRule(ctx context.Context, merchantID, tabID, ruleID string, req *UpdateRuleRequest) (*domain.BillingGroupRule, error) {
	ctx, span := rulesTracer.Start(ctx, "RulesService.UpdateRule")
	defer span.End()

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}

	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	if rule.TabID != tabID {
		return nil, &domain.ErrNotFound{Resource: "rule", ID: ruleID}
	}

	if req.Name != nil {
		rule.Name = *req.Name
	}
	if req.Priority != nil {
		rule.Priority = *req.Priority
	}
	if req.Action != nil {
		rule.Action = *req.Action
	}
	if req.Conditions != nil {
		rule.Conditions = *req.Conditions
	}
	if req.IsActive != nil {
		rule.IsActive = *req.IsActive
	}
	if req.Metadata != nil {
		rule.Metadata = req.Metadata
	}
	if err := rule.Validate(); err != nil {
		return nil, err
	}

	if err := s.store.UpdateRule(ctx, rule); err != nil {
		return nil, err
	}
	s.cache.Delete(tabID)

	s.logger.Info("rule updated", zap.String("tab_id", tabID), zap.String("rule_id", ruleID))
	return rule, nil
}

// DeleteRule removes a rule.
func (s *RulesService) DeleteRule(ctx context.Context, merchantID, tabID, ruleID string) error {
	ctx, span := rulesTracer.Start(ctx, "RulesService.DeleteRule")
	defer span.End()

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return err
	}

	rule, err := s.store.GetRule(ctx, ruleID)
	if err != nil {
		return err
	}
	if rule.TabID != tabID {
		return &domain.ErrNotFound{Resource: "rule", ID: ruleID}
	}

	if err := s.store.DeleteRule(ctx, ruleID); err != nil {
		return err
	}
	s.cache.Delete(tabID)

	s.logger.Info("rule deleted", zap.String("tab_id", tabID), zap.String("rule_id", ruleID))
	return nil
}

// ListRules returns every rule on the tab, active or not.
func (s *RulesService) ListRules(ctx context.Context, merchantID, tabID string) ([]domain.BillingGroupRule, error) {
	ctx, span := rulesTracer.Start(ctx, "RulesService.ListRules")
	defer span.End()

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	return s.store.ListTabRules(ctx, tabID, false)
}

// ActiveRules returns the tab's active rules, served from cache when warm.
func (s *RulesService) ActiveRules(ctx context.Context, tabID string) ([]domain.BillingGroupRule, error) {
	if rules, ok := s.cache.Get(tabID); ok {
		s.metrics.IncrCacheHit("rules")
		return rules, nil
	}
	s.metrics.IncrCacheMiss("rules")

	rules, err := s.store.ListTabRules(ctx, tabID, true)
	if err != nil {
		return nil, err
	}
	s.cache.Set(tabID, rules)
	return rules, nil
}

// EvaluateItem runs the evaluator for one existing item without mutating
// anything. It reports the winning rule, or the fallback group the item would
// land in.
func (s *RulesService) EvaluateItem(ctx context.Context, merchantID, tabID, itemID string) (*EvaluateResponse, error) {
	ctx, span := rulesTracer.Start(ctx, "RulesService.EvaluateItem")
	defer span.End()
	span.SetAttributes(attribute.String("item.id", itemID))

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	item, err := s.store.GetLineItem(ctx, tabID, itemID)
	if err != nil {
		return nil, err
	}
	rules, err := s.ActiveRules(ctx, tabID)
	if err != nil {
		return nil, err
	}

	if matched := engine.Evaluate(item, rules, s.now()); matched != nil {
		return &EvaluateResponse{
			Matched:  true,
			RuleID:   matched.ID,
			RuleName: matched.Name,
			GroupID:  matched.GroupID,
			Action:   matched.Action,
		}, nil
	}

	groups, err := s.store.ListBillingGroups(ctx, tabID)
	if err != nil {
		return nil, err
	}
	fallback, err := engine.DefaultGroup(tabID, groups)
	if err != nil {
		return nil, err
	}
	return &EvaluateResponse{Matched: false, FallbackGroup: fallback.ID}, nil
}
