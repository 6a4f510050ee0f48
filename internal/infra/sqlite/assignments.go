package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tabhq/tab-billing/internal/domain"
)

// ApplyAssignments moves line items between billing groups atomically.
// Pointer updates, override audit records and the full balance recompute of
// every affected group (losing and winning) commit together; any failure
// rolls the whole batch back.
func (s *Store) ApplyAssignments(ctx context.Context, tabID string, changes []domain.AssignmentChange, overrides []domain.BillingGroupOverride) error {
	if len(changes) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	affected := make(map[string]bool)
	for _, ch := range changes {
		var current sql.NullString
		err := tx.QueryRowContext(ctx,
			`SELECT billing_group_id FROM line_items WHERE id = ? AND tab_id = ?`,
			ch.ItemID, tabID).Scan(&current)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "line item", ID: ch.ItemID}
		}
		if err != nil {
			return fmt.Errorf("failed to load line item %s: %w", ch.ItemID, err)
		}

		var groupTab, status string
		err = tx.QueryRowContext(ctx,
			`SELECT tab_id, status FROM billing_groups WHERE id = ?`, ch.GroupID).Scan(&groupTab, &status)
		if errors.Is(err, sql.ErrNoRows) {
			return &domain.ErrNotFound{Resource: "billing group", ID: ch.GroupID}
		}
		if err != nil {
			return fmt.Errorf("failed to load billing group %s: %w", ch.GroupID, err)
		}
		if groupTab != tabID {
			return &domain.ErrTabMismatch{GroupID: ch.GroupID, TabID: tabID}
		}
		if status != domain.GroupStatusActive {
			return &domain.ErrConflict{Message: fmt.Sprintf("billing group %s is closed", ch.GroupID)}
		}

		if _, err := tx.ExecContext(ctx,
			`UPDATE line_items SET billing_group_id = ? WHERE id = ?`,
			ch.GroupID, ch.ItemID); err != nil {
			return fmt.Errorf("failed to assign line item %s: %w", ch.ItemID, err)
		}

		if current.Valid {
			affected[current.String] = true
		}
		affected[ch.GroupID] = true
	}

	for _, ov := range overrides {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO billing_group_overrides (id, tab_id, line_item_id, original_group_id,
				new_group_id, bypassed_rule_id, reason, actor_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ov.ID, ov.TabID, ov.LineItemID, nullStr(ov.OriginalGroupID),
			ov.NewGroupID, nullStr(ov.BypassedRuleID), ov.Reason, ov.ActorID,
			fmtTime(ov.CreatedAt)); err != nil {
			return fmt.Errorf("failed to record override: %w", err)
		}
	}

	ids := make([]string, 0, len(affected))
	for id := range affected {
		ids = append(ids, id)
	}
	if _, err := recomputeBalances(ctx, tx, ids); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit assignments: %w", err)
	}
	return nil
}

// ListOverrides returns the override audit trail for a tab, newest first,
// paginated. Page numbers start at 1.
func (s *Store) ListOverrides(ctx context.Context, tabID string, page, pageSize int) ([]domain.BillingGroupOverride, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tab_id, line_item_id, original_group_id, new_group_id, bypassed_rule_id, reason, actor_id, created_at
		FROM billing_group_overrides WHERE tab_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, tabID, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var out []domain.BillingGroupOverride
	for rows.Next() {
		var ov domain.BillingGroupOverride
		var origGroup, bypassed sql.NullString
		var createdAt string
		if err := rows.Scan(&ov.ID, &ov.TabID, &ov.LineItemID, &origGroup,
			&ov.NewGroupID, &bypassed, &ov.Reason, &ov.ActorID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan override: %w", err)
		}
		ov.OriginalGroupID = strPtr(origGroup)
		ov.BypassedRuleID = strPtr(bypassed)
		if ov.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		out = append(out, ov)
	}
	return out, rows.Err()
}
