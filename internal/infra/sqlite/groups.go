package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tabhq/tab-billing/internal/domain"
)

const groupColumns = `id, tab_id, group_number, name, group_type, status,
	payer_email, payer_org_id, credit_limit_cents, deposit_cents,
	deposit_applied_cents, current_balance_cents, created_at`

// CreateBillingGroups inserts a set of groups in one transaction, so a
// template either materializes completely or not at all.
func (s *Store) CreateBillingGroups(ctx context.Context, groups []domain.BillingGroup) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, g := range groups {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO billing_groups (id, tab_id, group_number, name, group_type, status,
				payer_email, payer_org_id, credit_limit_cents, deposit_cents,
				deposit_applied_cents, current_balance_cents, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			g.ID, g.TabID, g.GroupNumber, g.Name, g.Type, g.Status,
			g.PayerEmail, g.PayerOrgID, nullInt(g.CreditLimitCents), nullInt(g.DepositCents),
			g.DepositAppliedCents, g.CurrentBalanceCents, fmtTime(g.CreatedAt))
		if err != nil {
			return fmt.Errorf("failed to create billing group %s: %w", g.Name, err)
		}
	}
	return tx.Commit()
}

// ListBillingGroups returns all groups on a tab ordered by group number.
func (s *Store) ListBillingGroups(ctx context.Context, tabID string) ([]domain.BillingGroup, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM billing_groups WHERE tab_id = ? ORDER BY group_number`, tabID)
	if err != nil {
		return nil, fmt.Errorf("failed to list billing groups: %w", err)
	}
	defer rows.Close()

	var groups []domain.BillingGroup
	for rows.Next() {
		g, err := scanGroup(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan billing group: %w", err)
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// GetBillingGroup fetches one group by id.
func (s *Store) GetBillingGroup(ctx context.Context, groupID string) (*domain.BillingGroup, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM billing_groups WHERE id = ?`, groupID)

	g, err := scanGroup(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "billing group", ID: groupID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing group: %w", err)
	}
	return g, nil
}

// CloseBillingGroup marks a group closed. Closed groups keep their balance and
// items but stop accepting assignments.
func (s *Store) CloseBillingGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE billing_groups SET status = ? WHERE id = ?`, domain.GroupStatusClosed, groupID)
	if err != nil {
		return fmt.Errorf("failed to close billing group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check close result: %w", err)
	}
	if n == 0 {
		return &domain.ErrNotFound{Resource: "billing group", ID: groupID}
	}
	return nil
}

func scanGroup(scan func(...any) error) (*domain.BillingGroup, error) {
	var g domain.BillingGroup
	var creditLimit, deposit sql.NullInt64
	var createdAt string
	if err := scan(&g.ID, &g.TabID, &g.GroupNumber, &g.Name, &g.Type, &g.Status,
		&g.PayerEmail, &g.PayerOrgID, &creditLimit, &deposit,
		&g.DepositAppliedCents, &g.CurrentBalanceCents, &createdAt); err != nil {
		return nil, err
	}
	g.CreditLimitCents = intPtr(creditLimit)
	g.DepositCents = intPtr(deposit)
	var err error
	if g.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &g, nil
}

// RecomputeBalance re-derives a group's balance from its assigned items and
// persists it, returning the fresh value. Full aggregation, never incremental.
func (s *Store) RecomputeBalance(ctx context.Context, groupID string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	balance, err := recomputeBalances(ctx, tx, []string{groupID})
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit balance recompute: %w", err)
	}
	return balance, nil
}

// recomputeBalances rewrites current_balance_cents for the given groups from a
// full SUM over their items, inside the caller's transaction. Returns the new
// balance of the last group in the list.
func recomputeBalances(ctx context.Context, tx *sql.Tx, groupIDs []string) (int64, error) {
	var last int64
	for _, id := range groupIDs {
		res, err := tx.ExecContext(ctx, `
			UPDATE billing_groups
			SET current_balance_cents = (
				SELECT COALESCE(SUM(total_cents), 0) FROM line_items WHERE billing_group_id = billing_groups.id
			)
			WHERE id = ?`, id)
		if err != nil {
			return 0, fmt.Errorf("failed to recompute balance for group %s: %w", id, err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to check recompute result: %w", err)
		}
		if n == 0 {
			return 0, &domain.ErrNotFound{Resource: "billing group", ID: id}
		}
		if err := tx.QueryRowContext(ctx,
			`SELECT current_balance_cents FROM billing_groups WHERE id = ?`, id).Scan(&last); err != nil {
			return 0, fmt.Errorf("failed to read recomputed balance: %w", err)
		}
	}
	return last, nil
}

// ApplyDeposit draws amountCents from a deposit group's capacity. The check
// and the draw happen in one transaction; exceeding the remaining capacity
// fails the whole call, it never clamps.
func (s *Store) ApplyDeposit(ctx context.Context, groupID string, amountCents int64) (*domain.BillingGroup, error) {
	if amountCents <= 0 {
		return nil, &domain.ErrValidation{Field: "amount_cents", Message: "must be positive"}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM billing_groups WHERE id = ?`, groupID)
	g, err := scanGroup(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &domain.ErrNotFound{Resource: "billing group", ID: groupID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get billing group: %w", err)
	}

	if g.DepositCents == nil {
		return nil, &domain.ErrValidation{Field: "group_id", Message: "group carries no deposit"}
	}
	remaining := g.DepositRemainingCents()
	if amountCents > remaining {
		return nil, &domain.ErrDepositExhausted{
			GroupID:        groupID,
			RemainingCents: remaining,
			RequestedCents: amountCents,
		}
	}

	g.DepositAppliedCents += amountCents
	if _, err := tx.ExecContext(ctx,
		`UPDATE billing_groups SET deposit_applied_cents = ? WHERE id = ?`,
		g.DepositAppliedCents, groupID); err != nil {
		return nil, fmt.Errorf("failed to apply deposit: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit deposit: %w", err)
	}
	return g, nil
}
