package service_test

import (
	"context"
	"sync"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/port"
)

// mockStore implements port.BillingStore with overridable function fields.
// Unset fields return zero values.
type mockStore struct {
	createTabFn           func(ctx context.Context, tab *domain.Tab) error
	getTabFn              func(ctx context.Context, merchantID, tabID string) (*domain.Tab, error)
	createLineItemFn      func(ctx context.Context, item *domain.LineItem) error
	getLineItemFn         func(ctx context.Context, tabID, itemID string) (*domain.LineItem, error)
	listLineItemsFn       func(ctx context.Context, tabID string) ([]domain.LineItem, error)
	createBillingGroupsFn func(ctx context.Context, groups []domain.BillingGroup) error
	listBillingGroupsFn   func(ctx context.Context, tabID string) ([]domain.BillingGroup, error)
	getBillingGroupFn     func(ctx context.Context, groupID string) (*domain.BillingGroup, error)
	closeBillingGroupFn   func(ctx context.Context, groupID string) error
	createRuleFn          func(ctx context.Context, rule *domain.BillingGroupRule) error
	getRuleFn             func(ctx context.Context, ruleID string) (*domain.BillingGroupRule, error)
	updateRuleFn          func(ctx context.Context, rule *domain.BillingGroupRule) error
	deleteRuleFn          func(ctx context.Context, ruleID string) error
	listTabRulesFn        func(ctx context.Context, tabID string, activeOnly bool) ([]domain.BillingGroupRule, error)
	applyAssignmentsFn    func(ctx context.Context, tabID string, changes []domain.AssignmentChange, overrides []domain.BillingGroupOverride) error
	listOverridesFn       func(ctx context.Context, tabID string, page, pageSize int) ([]domain.BillingGroupOverride, error)
	recomputeBalanceFn    func(ctx context.Context, groupID string) (int64, error)
	applyDepositFn        func(ctx context.Context, groupID string, amountCents int64) (*domain.BillingGroup, error)
}

var _ port.BillingStore = (*mockStore)(nil)

func (m *mockStore) CreateTab(ctx context.Context, tab *domain.Tab) error {
	if m.createTabFn != nil {
		return m.createTabFn(ctx, tab)
	}
	return nil
}

func (m *mockStore) GetTab(ctx context.Context, merchantID, tabID string) (*domain.Tab, error) {
	if m.getTabFn != nil {
		return m.getTabFn(ctx, merchantID, tabID)
	}
	return &domain.Tab{ID: tabID, MerchantID: merchantID, Status: "open"}, nil
}

func (m *mockStore) CreateLineItem(ctx context.Context, item *domain.LineItem) error {
	if m.createLineItemFn != nil {
		return m.createLineItemFn(ctx, item)
	}
	return nil
}

func (m *mockStore) GetLineItem(ctx context.Context, tabID, itemID string) (*domain.LineItem, error) {
	if m.getLineItemFn != nil {
		return m.getLineItemFn(ctx, tabID, itemID)
	}
	return &domain.LineItem{ID: itemID, TabID: tabID}, nil
}

func (m *mockStore) ListLineItems(ctx context.Context, tabID string) ([]domain.LineItem, error) {
	if m.listLineItemsFn != nil {
		return m.listLineItemsFn(ctx, tabID)
	}
	return nil, nil
}

func (m *mockStore) CreateBillingGroups(ctx context.Context, groups []domain.BillingGroup) error {
	if m.createBillingGroupsFn != nil {
		return m.createBillingGroupsFn(ctx, groups)
	}
	return nil
}

func (m *mockStore) ListBillingGroups(ctx context.Context, tabID string) ([]domain.BillingGroup, error) {
	if m.listBillingGroupsFn != nil {
		return m.listBillingGroupsFn(ctx, tabID)
	}
	return nil, nil
}

func (m *mockStore) GetBillingGroup(ctx context.Context, groupID string) (*domain.BillingGroup, error) {
	if m.getBillingGroupFn != nil {
		return m.getBillingGroupFn(ctx, groupID)
	}
	return &domain.BillingGroup{ID: groupID, Status: domain.GroupStatusActive}, nil
}

func (m *mockStore) CloseBillingGroup(ctx context.Context, groupID string) error {
	if m.closeBillingGroupFn != nil {
		return m.closeBillingGroupFn(ctx, groupID)
	}
	return nil
}

func (m *mockStore) CreateRule(ctx context.Context, rule *domain.BillingGroupRule) error {
	if m.createRuleFn != nil {
		return m.createRuleFn(ctx, rule)
	}
	return nil
}

func (m *mockStore) GetRule(ctx context.Context, ruleID string) (*domain.BillingGroupRule, error) {
	if m.getRuleFn != nil {
		return m.getRuleFn(ctx, ruleID)
	}
	return &domain.BillingGroupRule{ID: ruleID}, nil
}

func (m *mockStore) UpdateRule(ctx context.Context, rule *domain.BillingGroupRule) error {
	if m.updateRuleFn != nil {
		return m.updateRuleFn(ctx, rule)
	}
	return nil
}

func (m *mockStore) DeleteRule(ctx context.Context, ruleID string) error {
	if m.deleteRuleFn != nil {
		return m.deleteRuleFn(ctx, ruleID)
	}
	return nil
}

func (m *mockStore) ListTabRules(ctx context.Context, tabID string, activeOnly bool) ([]domain.BillingGroupRule, error) {
	if m.listTabRulesFn != nil {
		return m.listTabRulesFn(ctx, tabID, activeOnly)
	}
	return nil, nil
}

func (m *mockStore) ApplyAssignments(ctx context.Context, tabID string, changes []domain.AssignmentChange, overrides []domain.BillingGroupOverride) error {
	if m.applyAssignmentsFn != nil {
		return m.applyAssignmentsFn(ctx, tabID, changes, overrides)
	}
	return nil
}

func (m *mockStore) ListOverrides(ctx context.Context, tabID string, page, pageSize int) ([]domain.BillingGroupOverride, error) {
	if m.listOverridesFn != nil {
		return m.listOverridesFn(ctx, tabID, page, pageSize)
	}
	return nil, nil
}

func (m *mockStore) RecomputeBalance(ctx context.Context, groupID string) (int64, error) {
	if m.recomputeBalanceFn != nil {
		return m.recomputeBalanceFn(ctx, groupID)
	}
	return 0, nil
}

func (m *mockStore) ApplyDeposit(ctx context.Context, groupID string, amountCents int64) (*domain.BillingGroup, error) {
	if m.applyDepositFn != nil {
		return m.applyDepositFn(ctx, groupID, amountCents)
	}
	return &domain.BillingGroup{ID: groupID}, nil
}

// mockCache is a plain map-backed cache with no TTL.
type mockCache[T any] struct {
	mu    sync.Mutex
	items map[string]T
}

var _ port.Cache[int] = (*mockCache[int])(nil)

func newMockCache[T any]() *mockCache[T] {
	return &mockCache[T]{items: make(map[string]T)}
}

func (c *mockCache[T]) Get(key string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.items[key]
	return v, ok
}

func (c *mockCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = value
}

func (c *mockCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, key)
}

// mockNotifier records published events.
type mockNotifier struct {
	mu     sync.Mutex
	events []*domain.RuleEvent
	err    error
}

var _ port.Notifier = (*mockNotifier)(nil)

func (n *mockNotifier) Publish(_ context.Context, ev *domain.RuleEvent) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.events = append(n.events, ev)
	return nil
}

func (n *mockNotifier) published() []*domain.RuleEvent {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*domain.RuleEvent(nil), n.events...)
}
