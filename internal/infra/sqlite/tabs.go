package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tabhq/tab-billing/internal/domain"
)

// CreateTab inserts a new tab.
func (s *Store) CreateTab(ctx context.Context, tab *domain.Tab) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tabs (id, merchant_id, customer_name, currency, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		tab.ID, tab.MerchantID, tab.CustomerName, tab.Currency, tab.Status, fmtTime(tab.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create tab: %w", err)
	}
	return nil
}

// GetTab returns the tab only when it belongs to the merchant; a foreign tab
// is indistinguishable from a missing one.
func (s *Store) GetTab(ctx context.Context, merchantID, tabID string) (*domain.Tab, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, merchant_id, customer_name, currency, status, created_at
		FROM tabs WHERE id = ? AND merchant_id = ?`, tabID, merchantID)
	return scanTab(row)
}

func scanTab(row *sql.Row) (*domain.Tab, error) {
	var t domain.Tab
	var createdAt string
	err := row.Scan(&t.ID, &t.MerchantID, &t.CustomerName, &t.Currency, &t.Status, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "tab"}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tab: %w", err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &t, nil
}

// CreateLineItem inserts a new line item. The billing-group pointer starts out
// however the caller set it (normally nil until assignment).
func (s *Store) CreateLineItem(ctx context.Context, item *domain.LineItem) error {
	meta, err := marshalJSON(item.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO line_items (id, tab_id, description, quantity, unit_price_cents, total_cents, billing_group_id, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.TabID, item.Description, item.Quantity, item.UnitPriceCents,
		item.TotalCents, nullStr(item.BillingGroupID), meta, fmtTime(item.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create line item: %w", err)
	}
	return nil
}

// GetLineItem fetches one item scoped to its tab.
func (s *Store) GetLineItem(ctx context.Context, tabID, itemID string) (*domain.LineItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tab_id, description, quantity, unit_price_cents, total_cents, billing_group_id, metadata, created_at
		FROM line_items WHERE id = ? AND tab_id = ?`, itemID, tabID)

	item, err := scanLineItem(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "line item", ID: itemID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get line item: %w", err)
	}
	return item, nil
}

// ListLineItems returns all items on a tab in creation order.
func (s *Store) ListLineItems(ctx context.Context, tabID string) ([]domain.LineItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tab_id, description, quantity, unit_price_cents, total_cents, billing_group_id, metadata, created_at
		FROM line_items WHERE tab_id = ? ORDER BY created_at, id`, tabID)
	if err != nil {
		return nil, fmt.Errorf("failed to list line items: %w", err)
	}
	defer rows.Close()

	var items []domain.LineItem
	for rows.Next() {
		item, err := scanLineItem(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan line item: %w", err)
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanLineItem(scan func(...any) error) (*domain.LineItem, error) {
	var item domain.LineItem
	var groupID sql.NullString
	var meta, createdAt string
	if err := scan(&item.ID, &item.TabID, &item.Description, &item.Quantity,
		&item.UnitPriceCents, &item.TotalCents, &groupID, &meta, &createdAt); err != nil {
		return nil, err
	}
	item.BillingGroupID = strPtr(groupID)
	if err := unmarshalJSON(meta, &item.Metadata); err != nil {
		return nil, err
	}
	var err error
	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &item, nil
}
