package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tabhq/tab-billing/internal/domain"
)

const ruleColumns = `id, group_id, tab_id, name, priority, action, conditions, is_active, metadata, created_at`

// CreateRule inserts a new rule. Conditions are stored as a JSON blob so new
// condition dimensions never need a schema change.
func (s *Store) CreateRule(ctx context.Context, rule *domain.BillingGroupRule) error {
	cond, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(rule.Metadata)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO billing_group_rules (id, group_id, tab_id, name, priority, action, conditions, is_active, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rule.ID, rule.GroupID, rule.TabID, rule.Name, rule.Priority, rule.Action,
		cond, rule.IsActive, meta, fmtTime(rule.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to create rule: %w", err)
	}
	return nil
}

// GetRule fetches one rule by id.
func (s *Store) GetRule(ctx context.Context, ruleID string) (*domain.BillingGroupRule, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+ruleColumns+` FROM billing_group_rules WHERE id = ?`, ruleID)

	r, err := scanRule(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "rule", ID: ruleID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}
	return r, nil
}

// UpdateRule rewrites a rule's mutable fields.
func (s *Store) UpdateRule(ctx context.Context, rule *domain.BillingGroupRule) error {
	cond, err := marshalJSON(rule.Conditions)
	if err != nil {
		return err
	}
	meta, err := marshalJSON(rule.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE billing_group_rules
		SET name = ?, priority = ?, action = ?, conditions = ?, is_active = ?, metadata = ?
		WHERE id = ?`,
		rule.Name, rule.Priority, rule.Action, cond, rule.IsActive, meta, rule.ID)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "rule", ID: rule.ID}
	}
	return nil
}

// DeleteRule removes a rule permanently. Deactivation via UpdateRule is the
// softer alternative.
func (s *Store) DeleteRule(ctx context.Context, ruleID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM billing_group_rules WHERE id = ?`, ruleID)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "rule", ID: ruleID}
	}
	return nil
}

// ListTabRules returns the rules of every group on the tab in evaluation
// order (priority, then creation time, then id), optionally only the active
// ones.
func (s *Store) ListTabRules(ctx context.Context, tabID string, activeOnly bool) ([]domain.BillingGroupRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM billing_group_rules WHERE tab_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority, created_at, id`
	rows, err := s.db.QueryContext(ctx, query, tabID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.BillingGroupRule
	for rows.Next() {
		r, err := scanRule(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, *r)
	}
	return rules, rows.Err()
}

func scanRule(scan func(...any) error) (*domain.BillingGroupRule, error) {
	var r domain.BillingGroupRule
	var cond, meta, createdAt string
	if err := scan(&r.ID, &r.GroupID, &r.TabID, &r.Name, &r.Priority, &r.Action,
		&cond, &r.IsActive, &meta, &createdAt); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(cond, &r.Conditions); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(meta, &r.Metadata); err != nil {
		return nil, err
	}
	var err error
	if r.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &r, nil
}
