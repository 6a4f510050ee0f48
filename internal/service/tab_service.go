package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/tabhq/tab-billing/internal/domain"
	"github.com/tabhq/tab-billing/internal/port"
)

var tabTracer = otel.Tracer("service/tab")

// CreateTabRequest is the body for POST /v1/tabs.
type CreateTabRequest struct {
	CustomerName string `json:"customer_name"`
	Currency     string `json:"currency"`
}

// CreateLineItemRequest is the body for POST /v1/tabs/{tabID}/items.
type CreateLineItemRequest struct {
	Description    string            `json:"description"`
	Quantity       int64             `json:"quantity"`
	UnitPriceCents int64             `json:"unit_price_cents"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

// TabService manages tabs and their line items.
type TabService struct {
	store  port.BillingStore
	logger *zap.Logger
	now    func() time.Time
}

// NewTabService creates a new tab service.
func NewTabService(store port.BillingStore, logger *zap.Logger) *TabService {
	return &TabService{store: store, logger: logger, now: time.Now}
}

// CreateTab opens a new tab for the merchant.
func (s *TabService) CreateTab(ctx context.Context, merchantID string, req *CreateTabRequest) (*domain.Tab, error) {
	ctx, span := tabTracer.Start(ctx, "TabService.CreateTab")
	defer span.End()

	currency := req.Currency
	if currency == "" {
		currency = "USD"
	}
	if len(currency) != 3 {
		return nil, &domain.ErrValidation{Field: "currency", Message: "must be a 3-letter code"}
	}

	tab := &domain.Tab{
		ID:           uuid.NewString(),
		MerchantID:   merchantID,
		CustomerName: req.CustomerName,
		Currency:     currency,
		Status:       "open",
		CreatedAt:    s.now(),
	}
	if err := s.store.CreateTab(ctx, tab); err != nil {
		return nil, err
	}

	s.logger.Info("tab created",
		zap.String("merchant_id", merchantID),
		zap.String("tab_id", tab.ID),
	)
	return tab, nil
}

// GetTab fetches one tab scoped to the merchant.
func (s *TabService) GetTab(ctx context.Context, merchantID, tabID string) (*domain.Tab, error) {
	ctx, span := tabTracer.Start(ctx, "TabService.GetTab")
	defer span.End()
	span.SetAttributes(attribute.String("tab.id", tabID))

	return s.store.GetTab(ctx, merchantID, tabID)
}

// AddLineItem appends an item to a tab. The item starts unassigned; the
// billing service decides where it lands.
func (s *TabService) AddLineItem(ctx context.Context, merchantID, tabID string, req *CreateLineItemRequest) (*domain.LineItem, error) {
	ctx, span := tabTracer.Start(ctx, "TabService.AddLineItem")
	defer span.End()
	span.SetAttributes(attribute.String("tab.id", tabID))

	if req.Description == "" {
		return nil, &domain.ErrValidation{Field: "description", Message: "required"}
	}
	if req.UnitPriceCents < 0 {
		return nil, &domain.ErrValidation{Field: "unit_price_cents", Message: "must not be negative"}
	}
	qty := req.Quantity
	if qty == 0 {
		qty = 1
	}
	if qty < 0 {
		return nil, &domain.ErrValidation{Field: "quantity", Message: "must be positive"}
	}

	tab, err := s.store.GetTab(ctx, merchantID, tabID)
	if err != nil {
		return nil, err
	}
	if tab.Status != "open" {
		return nil, &domain.ErrConflict{Message: "tab is closed"}
	}

	item := &domain.LineItem{
		ID:             uuid.NewString(),
		TabID:          tabID,
		Description:    req.Description,
		Quantity:       qty,
		UnitPriceCents: req.UnitPriceCents,
		TotalCents:     qty * req.UnitPriceCents,
		Metadata:       req.Metadata,
		CreatedAt:      s.now(),
	}
	if err := s.store.CreateLineItem(ctx, item); err != nil {
		return nil, err
	}

	s.logger.Info("line item added",
		zap.String("tab_id", tabID),
		zap.String("item_id", item.ID),
		zap.Int64("total_cents", item.TotalCents),
	)
	return item, nil
}

// ListLineItems returns all items on a tab.
func (s *TabService) ListLineItems(ctx context.Context, merchantID, tabID string) ([]domain.LineItem, error) {
	ctx, span := tabTracer.Start(ctx, "TabService.ListLineItems")
	defer span.End()

	if _, err := s.store.GetTab(ctx, merchantID, tabID); err != nil {
		return nil, err
	}
	return s.store.ListLineItems(ctx, tabID)
}
