package sqlite

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
)

func setupStore(t *testing.T) (*SQLiteStore, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "store-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	return store, func() {
		store.Close()
		os.Remove(tmpFile.Name())
	}
}

func testGroup(maxMembers int) *models.Group {
	return &models.Group{
		Name:               "Lunch Circle",
		ContributionAmount: decimal.RequireFromString("25.00"),
		Frequency:          models.FrequencyMonthly,
		MaxMembers:         maxMembers,
		Status:             models.GroupOpen,
		JoinCode:           "ABCD2345",
		PayoutRule:         models.PayoutSequential,
		CreatorID:          "creator-1",
	}
}

func TestCreateAndGetGroup(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	group := testGroup(3)
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.ID == "" {
		t.Fatal("expected assigned group ID")
	}

	got, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.Name != "Lunch Circle" || got.MaxMembers != 3 {
		t.Errorf("round trip mismatch: %+v", got)
	}
	if !got.ContributionAmount.Equal(decimal.RequireFromString("25.00")) {
		t.Errorf("amount = %s, want 25.00", got.ContributionAmount)
	}
}

func TestGetGroupByJoinCodeCaseInsensitive(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	group := testGroup(3)
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	got, err := store.GetGroupByJoinCode(ctx, " abcd2345 ")
	if err != nil {
		t.Fatalf("lowercase lookup failed: %v", err)
	}
	if got.ID != group.ID {
		t.Errorf("resolved wrong group")
	}

	if _, err := store.GetGroupByJoinCode(ctx, "ZZZZ9999"); fault.KindOf(err) != fault.NotFound {
		t.Errorf("unknown code: expected not_found, got %v", err)
	}
}

func TestAdmitMemberAssignsJoinOrderPositions(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	group := testGroup(3)
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	for i, userID := range []string{"u1", "u2", "u3"} {
		updated, err := store.AdmitMember(ctx, group.ID, models.Member{UserID: userID, Name: userID}, nil)
		if err != nil {
			t.Fatalf("admit %s failed: %v", userID, err)
		}
		if updated.MemberCount != i+1 {
			t.Errorf("after %s: count = %d, want %d", userID, updated.MemberCount, i+1)
		}
		if pos := updated.Member(userID).PayoutPosition; pos != i+1 {
			t.Errorf("%s position = %d, want %d", userID, pos, i+1)
		}
	}

	got, _ := store.GetGroup(ctx, group.ID)
	if got.Status != models.GroupFilled {
		t.Errorf("status = %s, want filled", got.Status)
	}
	if got.FilledAt == nil {
		t.Error("filled_at not set")
	}
}

func TestAdmitMemberRejectsDuplicateAndOverflow(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	group := testGroup(2)
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := store.AdmitMember(ctx, group.ID, models.Member{UserID: "u1"}, nil); err != nil {
		t.Fatalf("first admit failed: %v", err)
	}
	if _, err := store.AdmitMember(ctx, group.ID, models.Member{UserID: "u1"}, nil); fault.KindOf(err) != fault.AlreadyMember {
		t.Errorf("duplicate: expected already_member, got %v", err)
	}
	if _, err := store.AdmitMember(ctx, group.ID, models.Member{UserID: "u2"}, nil); err != nil {
		t.Fatalf("second admit failed: %v", err)
	}
	// Group is now filled; a third join fails on capacity.
	if _, err := store.AdmitMember(ctx, group.ID, models.Member{UserID: "u3"}, nil); fault.KindOf(err) != fault.GroupFull {
		t.Errorf("join after fill: expected group_full, got %v", err)
	}
}

func TestAdmitMemberFinalizesRandomRule(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	group := testGroup(3)
	group.PayoutRule = models.PayoutRandom
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	// Reversed assignment makes the overwrite observable.
	finalize := func(n int) []int {
		positions := make([]int, n)
		for i := range positions {
			positions[i] = n - i
		}
		return positions
	}

	for _, userID := range []string{"u1", "u2", "u3"} {
		if _, err := store.AdmitMember(ctx, group.ID, models.Member{UserID: userID}, finalize); err != nil {
			t.Fatalf("admit %s failed: %v", userID, err)
		}
	}

	got, _ := store.GetGroup(ctx, group.ID)
	wantPositions := map[string]int{"u1": 3, "u2": 2, "u3": 1}
	for userID, want := range wantPositions {
		if pos := got.Member(userID).PayoutPosition; pos != want {
			t.Errorf("%s position = %d, want %d", userID, pos, want)
		}
	}
}

func TestSetGroupStatusValidatesTransition(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	group := testGroup(3)
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if _, err := store.SetGroupStatus(ctx, group.ID, models.GroupCompleted); fault.KindOf(err) != fault.InvalidState {
		t.Errorf("open -> completed: expected invalid_state, got %v", err)
	}
	if _, err := store.SetGroupStatus(ctx, group.ID, models.GroupCancelled); err != nil {
		t.Fatalf("open -> cancelled failed: %v", err)
	}
	if _, err := store.SetGroupStatus(ctx, group.ID, models.GroupCancelled); fault.KindOf(err) != fault.InvalidState {
		t.Errorf("cancelled -> cancelled: expected invalid_state, got %v", err)
	}
}

func TestLedgerEntriesAreImmutableAtTheSchemaLevel(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user := models.NewUser("a@example.com", "A", "x")
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	wallet := &models.Wallet{UserID: user.ID}
	if err := store.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	entry, err := store.AppendEntry(ctx, wallet.ID, func(w *models.Wallet) (*models.LedgerEntry, error) {
		amount := decimal.RequireFromString("10.00")
		e := &models.LedgerEntry{
			UserID:        user.ID,
			Type:          models.EntryRefund,
			Amount:        amount,
			BalanceBefore: w.Balance,
			EscrowBefore:  w.Escrow,
		}
		w.Balance = w.Balance.Add(amount)
		w.Available = w.Available.Add(amount)
		e.BalanceAfter = w.Balance
		e.EscrowAfter = w.Escrow
		return e, nil
	})
	if err != nil {
		t.Fatalf("AppendEntry failed: %v", err)
	}

	if _, err := store.db.ExecContext(ctx,
		"UPDATE ledger_entries SET amount = '99.99' WHERE id = ?", entry.ID,
	); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("update should trip the immutability trigger, got %v", err)
	}
	if _, err := store.db.ExecContext(ctx,
		"DELETE FROM ledger_entries WHERE id = ?", entry.ID,
	); err == nil || !strings.Contains(err.Error(), "immutable") {
		t.Errorf("delete should trip the immutability trigger, got %v", err)
	}
}

func TestWalletRoundTrip(t *testing.T) {
	store, cleanup := setupStore(t)
	defer cleanup()
	ctx := context.Background()

	user := models.NewUser("w@example.com", "W", "x")
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	wallet := &models.Wallet{UserID: user.ID}
	if err := store.CreateWallet(ctx, wallet); err != nil {
		t.Fatalf("CreateWallet failed: %v", err)
	}

	got, err := store.GetWalletByUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetWalletByUser failed: %v", err)
	}
	if got.ID != wallet.ID || got.Status != models.WalletActive {
		t.Errorf("wallet mismatch: %+v", got)
	}
	if !got.Balance.IsZero() || !got.Consistent() {
		t.Errorf("new wallet should be zeroed and consistent: %+v", got)
	}

	if err := store.SetWalletStatus(ctx, wallet.ID, models.WalletFrozen, "fraud review"); err != nil {
		t.Fatalf("SetWalletStatus failed: %v", err)
	}
	got, _ = store.GetWallet(ctx, wallet.ID)
	if got.Status != models.WalletFrozen || got.FreezeReason != "fraud review" {
		t.Errorf("freeze not persisted: %+v", got)
	}
}
