// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the domain/service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/tabhq/tab-billing/internal/domain"
)

// BillingStore defines all data operations for tabs, billing groups, rules,
// assignments and the balance ledger. Implemented by the SQLite adapter (or
// any other persistence layer).
//
// ApplyAssignments is the transactional heart of the store: pointer
// mutations, override records and the balance recomputation of every
// affected group happen in one transaction, all-or-nothing.
type BillingStore interface {
	// Tabs & line items
	CreateTab(ctx context.Context, tab *domain.Tab) error
	GetTab(ctx context.Context, merchantID, tabID string) (*domain.Tab, error)
	CreateLineItem(ctx context.Context, item *domain.LineItem) error
	GetLineItem(ctx context.Context, tabID, itemID string) (*domain.LineItem, error)
	ListLineItems(ctx context.Context, tabID string) ([]domain.LineItem, error)

	// Billing groups
	CreateBillingGroups(ctx context.Context, groups []domain.BillingGroup) error
	ListBillingGroups(ctx context.Context, tabID string) ([]domain.BillingGroup, error)
	GetBillingGroup(ctx context.Context, groupID string) (*domain.BillingGroup, error)
	CloseBillingGroup(ctx context.Context, groupID string) error

	// Rules
	CreateRule(ctx context.Context, rule *domain.BillingGroupRule) error
	GetRule(ctx context.Context, ruleID string) (*domain.BillingGroupRule, error)
	UpdateRule(ctx context.Context, rule *domain.BillingGroupRule) error
	DeleteRule(ctx context.Context, ruleID string) error
	ListTabRules(ctx context.Context, tabID string, activeOnly bool) ([]domain.BillingGroupRule, error)

	// Assignment & overrides
	ApplyAssignments(ctx context.Context, tabID string, changes []domain.AssignmentChange, overrides []domain.BillingGroupOverride) error
	ListOverrides(ctx context.Context, tabID string, page, pageSize int) ([]domain.BillingGroupOverride, error)

	// Ledger
	RecomputeBalance(ctx context.Context, groupID string) (int64, error)
	ApplyDeposit(ctx context.Context, groupID string, amountCents int64) (*domain.BillingGroup, error)
}

// AuthStore defines merchant and API-key persistence.
type AuthStore interface {
	CreateMerchant(ctx context.Context, m *domain.Merchant) error
	GetMerchantByEmail(ctx context.Context, email string) (*domain.Merchant, error)
	GetMerchantByID(ctx context.Context, id string) (*domain.Merchant, error)
	CreateAPIKey(ctx context.Context, key *domain.APIKey) error
	GetAPIKeyByHash(ctx context.Context, keyHash string) (*domain.APIKey, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}

// Notifier publishes rule side-channel events (approval required, notify)
// to an external consumer.
type Notifier interface {
	Publish(ctx context.Context, event *domain.RuleEvent) error
}
