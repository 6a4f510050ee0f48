package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tabhq/tab-billing/internal/domain"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// seedTab creates a merchant, a tab and two active groups (one personal, one
// standard) and returns their ids.
func seedTab(t *testing.T, s *Store) (tabID, personalID, standardID string) {
	t.Helper()
	ctx := context.Background()
	now := time.Now()

	merchant := &domain.Merchant{ID: uuid.NewString(), Name: "Grand Hotel", Email: uuid.NewString() + "@example.com", PasswordHash: "x", CreatedAt: now}
	if err := s.CreateMerchant(ctx, merchant); err != nil {
		t.Fatalf("failed to seed merchant: %v", err)
	}

	tab := &domain.Tab{ID: uuid.NewString(), MerchantID: merchant.ID, Currency: "USD", Status: "open", CreatedAt: now}
	if err := s.CreateTab(ctx, tab); err != nil {
		t.Fatalf("failed to seed tab: %v", err)
	}

	personal := domain.BillingGroup{ID: uuid.NewString(), TabID: tab.ID, GroupNumber: 1, Name: "Room", Type: domain.GroupTypePersonal, Status: domain.GroupStatusActive, CreatedAt: now}
	standard := domain.BillingGroup{ID: uuid.NewString(), TabID: tab.ID, GroupNumber: 2, Name: "Restaurant", Type: domain.GroupTypeStandard, Status: domain.GroupStatusActive, CreatedAt: now.Add(time.Millisecond)}
	if err := s.CreateBillingGroups(ctx, []domain.BillingGroup{personal, standard}); err != nil {
		t.Fatalf("failed to seed groups: %v", err)
	}
	return tab.ID, personal.ID, standard.ID
}

func seedItem(t *testing.T, s *Store, tabID string, totalCents int64) string {
	t.Helper()
	item := &domain.LineItem{
		ID:             uuid.NewString(),
		TabID:          tabID,
		Description:    "item",
		Quantity:       1,
		UnitPriceCents: totalCents,
		TotalCents:     totalCents,
		CreatedAt:      time.Now(),
	}
	if err := s.CreateLineItem(context.Background(), item); err != nil {
		t.Fatalf("failed to seed item: %v", err)
	}
	return item.ID
}

func groupBalance(t *testing.T, s *Store, groupID string) int64 {
	t.Helper()
	g, err := s.GetBillingGroup(context.Background(), groupID)
	if err != nil {
		t.Fatalf("failed to get group: %v", err)
	}
	return g.CurrentBalanceCents
}

func TestApplyAssignments_RecomputesBothGroups(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, standardID := seedTab(t, s)
	itemID := seedItem(t, s, tabID, 2500)

	// Assign to personal, then move to standard. After the move the losing
	// group must be back at zero and the winning group must hold the total.
	if err := s.ApplyAssignments(ctx, tabID, []domain.AssignmentChange{{ItemID: itemID, GroupID: personalID}}, nil); err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	if got := groupBalance(t, s, personalID); got != 2500 {
		t.Errorf("personal balance after assign = %d, want 2500", got)
	}

	if err := s.ApplyAssignments(ctx, tabID, []domain.AssignmentChange{{ItemID: itemID, GroupID: standardID}}, nil); err != nil {
		t.Fatalf("reassignment failed: %v", err)
	}
	if got := groupBalance(t, s, personalID); got != 0 {
		t.Errorf("personal balance after move = %d, want 0", got)
	}
	if got := groupBalance(t, s, standardID); got != 2500 {
		t.Errorf("standard balance after move = %d, want 2500", got)
	}
}

func TestApplyAssignments_BulkRollsBackOnFailure(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, _ := seedTab(t, s)
	item1 := seedItem(t, s, tabID, 1000)

	changes := []domain.AssignmentChange{
		{ItemID: item1, GroupID: personalID},
		{ItemID: "missing-item", GroupID: personalID},
	}
	err := s.ApplyAssignments(ctx, tabID, changes, nil)
	var notFound *domain.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	// The valid first change must not have stuck.
	item, err := s.GetLineItem(ctx, tabID, item1)
	if err != nil {
		t.Fatalf("failed to reload item: %v", err)
	}
	if item.BillingGroupID != nil {
		t.Error("partial bulk assignment leaked through rollback")
	}
	if got := groupBalance(t, s, personalID); got != 0 {
		t.Errorf("balance after rollback = %d, want 0", got)
	}
}

func TestApplyAssignments_RejectsClosedGroup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, _ := seedTab(t, s)
	itemID := seedItem(t, s, tabID, 1000)

	if err := s.CloseBillingGroup(ctx, personalID); err != nil {
		t.Fatalf("failed to close group: %v", err)
	}

	err := s.ApplyAssignments(ctx, tabID, []domain.AssignmentChange{{ItemID: itemID, GroupID: personalID}}, nil)
	var conflict *domain.ErrConflict
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict for closed group, got %v", err)
	}
}

func TestApplyAssignments_RejectsForeignGroup(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, _, _ := seedTab(t, s)
	_, otherPersonal, _ := seedTab(t, s)
	itemID := seedItem(t, s, tabID, 1000)

	err := s.ApplyAssignments(ctx, tabID, []domain.AssignmentChange{{ItemID: itemID, GroupID: otherPersonal}}, nil)
	var mismatch *domain.ErrTabMismatch
	if !errors.As(err, &mismatch) {
		t.Fatalf("expected ErrTabMismatch, got %v", err)
	}
}

func TestApplyAssignments_RecordsOverrides(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, _ := seedTab(t, s)
	itemID := seedItem(t, s, tabID, 1000)

	ov := domain.BillingGroupOverride{
		ID:         uuid.NewString(),
		TabID:      tabID,
		LineItemID: itemID,
		NewGroupID: personalID,
		Reason:     "guest request",
		ActorID:    "staff-7",
		CreatedAt:  time.Now(),
	}
	if err := s.ApplyAssignments(ctx, tabID, []domain.AssignmentChange{{ItemID: itemID, GroupID: personalID}}, []domain.BillingGroupOverride{ov}); err != nil {
		t.Fatalf("assignment with override failed: %v", err)
	}

	got, err := s.ListOverrides(ctx, tabID, 1, 50)
	if err != nil {
		t.Fatalf("failed to list overrides: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 override, got %d", len(got))
	}
	if got[0].Reason != "guest request" || got[0].ActorID != "staff-7" {
		t.Errorf("override round trip mismatch: %+v", got[0])
	}
	if got[0].OriginalGroupID != nil {
		t.Error("first assignment must record a nil original group")
	}
}

func TestRecomputeBalance_Idempotent(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, _ := seedTab(t, s)
	itemID := seedItem(t, s, tabID, 3200)

	if err := s.ApplyAssignments(ctx, tabID, []domain.AssignmentChange{{ItemID: itemID, GroupID: personalID}}, nil); err != nil {
		t.Fatalf("assignment failed: %v", err)
	}

	for i := 0; i < 3; i++ {
		got, err := s.RecomputeBalance(ctx, personalID)
		if err != nil {
			t.Fatalf("recompute %d failed: %v", i, err)
		}
		if got != 3200 {
			t.Errorf("recompute %d = %d, want 3200", i, got)
		}
	}
}

func TestApplyDeposit(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, _, _ := seedTab(t, s)

	deposit := int64(10000)
	g := domain.BillingGroup{
		ID: uuid.NewString(), TabID: tabID, GroupNumber: 3, Name: "Incidentals",
		Type: domain.GroupTypeDeposit, Status: domain.GroupStatusActive,
		DepositCents: &deposit, CreatedAt: time.Now(),
	}
	if err := s.CreateBillingGroups(ctx, []domain.BillingGroup{g}); err != nil {
		t.Fatalf("failed to create deposit group: %v", err)
	}

	got, err := s.ApplyDeposit(ctx, g.ID, 6000)
	if err != nil {
		t.Fatalf("first draw failed: %v", err)
	}
	if got.DepositRemainingCents() != 4000 {
		t.Errorf("remaining after draw = %d, want 4000", got.DepositRemainingCents())
	}

	// Over-drawing fails outright; it must not clamp to the remainder.
	_, err = s.ApplyDeposit(ctx, g.ID, 4001)
	var exhausted *domain.ErrDepositExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ErrDepositExhausted, got %v", err)
	}
	if exhausted.RemainingCents != 4000 || exhausted.RequestedCents != 4001 {
		t.Errorf("exhausted detail = %+v", exhausted)
	}

	fresh, err := s.GetBillingGroup(ctx, g.ID)
	if err != nil {
		t.Fatalf("failed to reload group: %v", err)
	}
	if fresh.DepositRemainingCents() != 4000 {
		t.Errorf("failed draw mutated the deposit: remaining = %d", fresh.DepositRemainingCents())
	}

	// Exact remainder drains to zero.
	if _, err := s.ApplyDeposit(ctx, g.ID, 4000); err != nil {
		t.Fatalf("exact draw failed: %v", err)
	}
}

func TestRules_RoundTripAndActiveFilter(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, _ := seedTab(t, s)

	min := int64(1000)
	active := domain.BillingGroupRule{
		ID: uuid.NewString(), GroupID: personalID, TabID: tabID,
		Name: "big food", Priority: 10, Action: domain.ActionAutoAssign,
		Conditions: domain.RuleConditions{
			Categories: []string{"food"},
			Amount:     &domain.AmountCondition{MinCents: &min},
			Time:       &domain.TimeCondition{Start: "11:00", End: "14:00"},
		},
		IsActive: true, CreatedAt: time.Now(),
	}
	inactive := domain.BillingGroupRule{
		ID: uuid.NewString(), GroupID: personalID, TabID: tabID,
		Name: "disabled", Priority: 5, Action: domain.ActionNotify,
		IsActive: false, CreatedAt: time.Now(),
	}
	for _, r := range []domain.BillingGroupRule{active, inactive} {
		if err := s.CreateRule(ctx, &r); err != nil {
			t.Fatalf("failed to create rule: %v", err)
		}
	}

	got, err := s.GetRule(ctx, active.ID)
	if err != nil {
		t.Fatalf("failed to get rule: %v", err)
	}
	if len(got.Conditions.Categories) != 1 || got.Conditions.Categories[0] != "food" {
		t.Errorf("conditions categories lost in round trip: %+v", got.Conditions)
	}
	if got.Conditions.Amount == nil || *got.Conditions.Amount.MinCents != 1000 {
		t.Errorf("amount condition lost in round trip: %+v", got.Conditions.Amount)
	}
	if got.Conditions.Time == nil || got.Conditions.Time.Start != "11:00" {
		t.Errorf("time condition lost in round trip: %+v", got.Conditions.Time)
	}

	onlyActive, err := s.ListTabRules(ctx, tabID, true)
	if err != nil {
		t.Fatalf("failed to list active rules: %v", err)
	}
	if len(onlyActive) != 1 || onlyActive[0].ID != active.ID {
		t.Errorf("active filter returned %d rules", len(onlyActive))
	}

	all, err := s.ListTabRules(ctx, tabID, false)
	if err != nil {
		t.Fatalf("failed to list all rules: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("expected 2 rules, got %d", len(all))
	}
}

func TestListTabRules_EvaluationOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	tabID, personalID, _ := seedTab(t, s)

	base := time.Now()
	rules := []domain.BillingGroupRule{
		{ID: "r-late", GroupID: personalID, TabID: tabID, Name: "late low prio",
			Priority: 10, Action: domain.ActionAutoAssign, IsActive: true, CreatedAt: base},
		{ID: "r-winner", GroupID: personalID, TabID: tabID, Name: "high prio",
			Priority: 5, Action: domain.ActionAutoAssign, IsActive: true, CreatedAt: base.Add(time.Second)},
		{ID: "r-tie", GroupID: personalID, TabID: tabID, Name: "tied prio, created later",
			Priority: 5, Action: domain.ActionNotify, IsActive: true, CreatedAt: base.Add(2 * time.Second)},
	}
	for _, r := range rules {
		if err := s.CreateRule(ctx, &r); err != nil {
			t.Fatalf("failed to create rule: %v", err)
		}
	}

	// Inserted in creation order r-late, r-winner, r-tie; listed in
	// evaluation order: priority ascending, ties by creation time.
	got, err := s.ListTabRules(ctx, tabID, false)
	if err != nil {
		t.Fatalf("failed to list rules: %v", err)
	}
	want := []string{"r-winner", "r-tie", "r-late"}
	if len(got) != len(want) {
		t.Fatalf("expected %d rules, got %d", len(want), len(got))
	}
	for i, id := range want {
		if got[i].ID != id {
			t.Errorf("position %d: got %s, want %s", i, got[i].ID, id)
		}
	}
}

func TestAuthStore_MerchantAndAPIKey(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	m := &domain.Merchant{ID: uuid.NewString(), Name: "Cafe", Email: "owner@cafe.test", PasswordHash: "hash", CreatedAt: time.Now()}
	if err := s.CreateMerchant(ctx, m); err != nil {
		t.Fatalf("failed to create merchant: %v", err)
	}

	dup := &domain.Merchant{ID: uuid.NewString(), Name: "Copy", Email: "owner@cafe.test", PasswordHash: "hash", CreatedAt: time.Now()}
	var conflict *domain.ErrConflict
	if err := s.CreateMerchant(ctx, dup); !errors.As(err, &conflict) {
		t.Fatalf("expected ErrConflict for duplicate email, got %v", err)
	}

	byEmail, err := s.GetMerchantByEmail(ctx, "owner@cafe.test")
	if err != nil || byEmail.ID != m.ID {
		t.Fatalf("lookup by email failed: %v", err)
	}

	key := &domain.APIKey{ID: uuid.NewString(), MerchantID: m.ID, KeyHash: "abc123", Label: "pos", CreatedAt: time.Now()}
	if err := s.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("failed to create api key: %v", err)
	}
	byHash, err := s.GetAPIKeyByHash(ctx, "abc123")
	if err != nil || byHash.MerchantID != m.ID {
		t.Fatalf("lookup by hash failed: %v", err)
	}

	var notFound *domain.ErrNotFound
	if _, err := s.GetAPIKeyByHash(ctx, "nope"); !errors.As(err, &notFound) {
		t.Fatalf("expected ErrNotFound for unknown hash, got %v", err)
	}
}
