package service_test

import (
	"context"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/infra/observability"
	"github.com/tabhq/tab-billing/internal/service"
)

func newRulesService(store *mockStore) (*service.RulesService, *mockCache[[]domain.BillingGroupRule]) {
	cache := newMockCache[[]domain.BillingGroupRule]()
	return service.NewRulesService(store, cache, observability.NewMetrics(), zap.NewNop()), cache
}

func TestCreateRule_ValidatesAndScopes(t *testing.T) {
	store := &mockStore{
		getBillingGroupFn: func(_ context.Context, groupID string) (*domain.BillingGroup, error) {
			return &domain.BillingGroup{ID: groupID, TabID: "tab-1", Status: domain.GroupStatusActive}, nil
		},
	}
	svc, _ := newRulesService(store)

	rule, err := svc.CreateRule(context.Background(), "m-1", "tab-1", &service.CreateRuleRequest{
		GroupID:    "g-1",
		Name:       "lunch to restaurant",
		Priority:   10,
		Action:     domain.ActionAutoAssign,
		Conditions: domain.RuleConditions{Time: &domain.TimeCondition{Start: "11:00", End: "14:00"}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rule.ID == "" || !rule.IsActive {
		t.Errorf("rule not initialized: %+v", rule)
	}
}

func TestCreateRule_UnknownAction(t *testing.T) {
	svc, _ := newRulesService(&mockStore{
		getBillingGroupFn: func(_ context.Context, groupID string) (*domain.BillingGroup, error) {
			return &domain.BillingGroup{ID: groupID, TabID: "tab-1"}, nil
		},
	})

	_, err := svc.CreateRule(context.Background(), "m-1", "tab-1", &service.CreateRuleRequest{
		GroupID: "g-1",
		Name:    "bad",
		Action:  "explode",
	})
	var validation *domain.ErrValidation
	if !errors.As(err, &validation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestCreateRule_GroupOnOtherTab(t *testing.T) {
	svc, _ := newRulesService(&mockStore{
		getBillingGroupFn: func(_ context.Context, groupID string) (*domain.BillingGroup, error) {
			return &domain.BillingGroup{ID: groupID, TabID: "other-tab"}, nil
		},
	})

	_, err := svc.CreateRule(context.Background(), "m-1", "tab-1", &service.CreateRuleRequest{
		GroupID: "g-1",
		Name:    "cross-tab",
		Action:  domain.ActionAutoAssign,
	})
	var mismatch *domain.ErrTabMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrTabMismatch, got %v", err)
	}
}

func TestActiveRules_CachesAndInvalidates(t *testing.T) {
	listCalls := 0
	store := &mockStore{
		listTabRulesFn: func(_ context.Context, _ string, activeOnly bool) ([]domain.BillingGroupRule, error) {
			if !activeOnly {
				t.Error("ActiveRules must request active rules only")
			}
			listCalls++
			return []domain.BillingGroupRule{{ID: "r-1", TabID: "tab-1", IsActive: true}}, nil
		},
		getBillingGroupFn: func(_ context.Context, groupID string) (*domain.BillingGroup, error) {
			return &domain.BillingGroup{ID: groupID, TabID: "tab-1"}, nil
		},
	}
	svc, _ := newRulesService(store)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.ActiveRules(ctx, "tab-1"); err != nil {
			t.Fatalf("active rules failed: %v", err)
		}
	}
	if listCalls != 1 {
		t.Errorf("expected 1 store hit with warm cache, got %d", listCalls)
	}

	// A rule mutation drops the cached set.
	_, err := svc.CreateRule(ctx, "m-1", "tab-1", &service.CreateRuleRequest{
		GroupID: "g-1", Name: "new", Action: domain.ActionNotify,
	})
	if err != nil {
		t.Fatalf("create rule failed: %v", err)
	}

	if _, err := svc.ActiveRules(ctx, "tab-1"); err != nil {
		t.Fatalf("active rules failed: %v", err)
	}
	if listCalls != 2 {
		t.Errorf("expected cache refill after mutation, got %d store hits", listCalls)
	}
}

func TestUpdateRule_PartialUpdate(t *testing.T) {
	stored := &domain.BillingGroupRule{
		ID: "r-1", TabID: "tab-1", GroupID: "g-1",
		Name: "old name", Priority: 50, Action: domain.ActionAutoAssign, IsActive: true,
	}
	var updated *domain.BillingGroupRule
	store := &mockStore{
		getRuleFn: func(context.Context, string) (*domain.BillingGroupRule, error) {
			cp := *stored
			return &cp, nil
		},
		updateRuleFn: func(_ context.Context, rule *domain.BillingGroupRule) error {
			updated = rule
			return nil
		},
	}
	svc, _ := newRulesService(store)

	inactive := false
	newPriority := 5
	got, err := svc.UpdateRule(context.Background(), "m-1", "tab-1", "r-1", &service.UpdateRuleRequest{
		Priority: &newPriority,
		IsActive: &inactive,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Priority != 5 || got.IsActive {
		t.Errorf("update not applied: %+v", got)
	}
	if got.Name != "old name" || got.Action != domain.ActionAutoAssign {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if updated == nil {
		t.Fatal("store update not called")
	}
}

func TestDeleteRule_WrongTab(t *testing.T) {
	svc, _ := newRulesService(&mockStore{
		getRuleFn: func(_ context.Context, ruleID string) (*domain.BillingGroupRule, error) {
			return &domain.BillingGroupRule{ID: ruleID, TabID: "other-tab"}, nil
		},
	})

	err := svc.DeleteRule(context.Background(), "m-1", "tab-1", "r-1")
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestEvaluateItem_DryRun(t *testing.T) {
	store := &mockStore{
		getLineItemFn: func(_ context.Context, tabID, itemID string) (*domain.LineItem, error) {
			return &domain.LineItem{ID: itemID, TabID: tabID, Metadata: map[string]string{"category": "food"}}, nil
		},
		listTabRulesFn: func(context.Context, string, bool) ([]domain.BillingGroupRule, error) {
			return []domain.BillingGroupRule{{
				ID: "r-food", TabID: "tab-1", GroupID: "g-restaurant", Name: "food",
				Action: domain.ActionAutoAssign, IsActive: true,
				Conditions: domain.RuleConditions{Categories: []string{"food"}},
			}}, nil
		},
	}
	svc, _ := newRulesService(store)

	got, err := svc.EvaluateItem(context.Background(), "m-1", "tab-1", "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Matched || got.RuleID != "r-food" || got.GroupID != "g-restaurant" {
		t.Errorf("unexpected evaluation: %+v", got)
	}
}

func TestEvaluateItem_FallbackReported(t *testing.T) {
	store := &mockStore{
		getLineItemFn: func(_ context.Context, tabID, itemID string) (*domain.LineItem, error) {
			return &domain.LineItem{ID: itemID, TabID: tabID, Metadata: map[string]string{"category": "spa"}}, nil
		},
		listBillingGroupsFn: func(context.Context, string) ([]domain.BillingGroup, error) {
			return []domain.BillingGroup{{ID: "g-room", TabID: "tab-1", Type: domain.GroupTypePersonal, Status: domain.GroupStatusActive}}, nil
		},
	}
	svc, _ := newRulesService(store)

	got, err := svc.EvaluateItem(context.Background(), "m-1", "tab-1", "item-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Matched || got.FallbackGroup != "g-room" {
		t.Errorf("unexpected evaluation: %+v", got)
	}
}
