package service

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
)

// newAdmin creates an admin account directly in the store since
// registration only produces members.
func (env *testEnv) newAdmin(t *testing.T) *models.User {
	t.Helper()
	admin := models.NewUser("admin@example.com", "admin", "unused-hash")
	admin.Role = models.RoleAdmin
	if err := env.store.CreateUser(context.Background(), admin); err != nil {
		t.Fatalf("create admin failed: %v", err)
	}
	return admin
}

func TestWalletAccessControl(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	owner := env.newUser(t, "owner", "40.00")
	other := env.newUser(t, "other", "0")
	admin := env.newAdmin(t)

	balances, err := env.wallets.GetBalances(ctx, owner.Wallet.ID, owner.User.ID)
	if err != nil {
		t.Fatalf("owner read failed: %v", err)
	}
	if !balances.Available.Equal(decimal.RequireFromString("40.00")) {
		t.Errorf("available = %s, want 40.00", balances.Available)
	}

	if _, err := env.wallets.GetBalances(ctx, owner.Wallet.ID, other.User.ID); fault.KindOf(err) != fault.Forbidden {
		t.Errorf("stranger read: expected forbidden, got %v", err)
	}
	if _, err := env.wallets.ListEntries(ctx, owner.Wallet.ID, other.User.ID); fault.KindOf(err) != fault.Forbidden {
		t.Errorf("stranger entries: expected forbidden, got %v", err)
	}

	if _, err := env.wallets.GetBalances(ctx, owner.Wallet.ID, admin.ID); err != nil {
		t.Errorf("admin read failed: %v", err)
	}
	entries, err := env.wallets.ListEntries(ctx, owner.Wallet.ID, admin.ID)
	if err != nil {
		t.Fatalf("admin entries failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Type != models.EntryAdminAdjustment {
		t.Errorf("expected single funding entry, got %d", len(entries))
	}
}

func TestFreezeAndUnfreeze(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	creator := env.newUser(t, "creator", "0")
	group := env.newGroup(t, creator.User.ID, basicSpec(3, models.PayoutSequential))
	member := env.newUser(t, "member", "60.00")
	if _, err := env.membership.Join(ctx, group.JoinCode, member.User.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if err := env.wallets.Freeze(ctx, member.Wallet.ID, ""); fault.KindOf(err) != fault.Validation {
		t.Errorf("freeze without reason: expected validation error, got %v", err)
	}
	if err := env.wallets.Freeze(ctx, member.Wallet.ID, "chargeback dispute"); err != nil {
		t.Fatalf("freeze failed: %v", err)
	}

	if _, err := env.membership.Contribute(ctx, group.ID, member.User.ID, decimal.RequireFromString("10.00")); fault.KindOf(err) != fault.InvalidState {
		t.Errorf("contribution on frozen wallet: expected invalid_state, got %v", err)
	}

	// Admin adjustments still land on a frozen wallet.
	if _, err := env.wallets.Adjust(ctx, member.Wallet.ID, "admin-1", "dispute settlement", decimal.RequireFromString("-5.00")); err != nil {
		t.Errorf("adjustment on frozen wallet failed: %v", err)
	}

	if err := env.wallets.Unfreeze(ctx, member.Wallet.ID); err != nil {
		t.Fatalf("unfreeze failed: %v", err)
	}
	if _, err := env.membership.Contribute(ctx, group.ID, member.User.ID, decimal.RequireFromString("10.00")); err != nil {
		t.Errorf("contribution after unfreeze failed: %v", err)
	}
}

func TestAdjustValidation(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	user := env.newUser(t, "user", "20.00")

	if _, err := env.wallets.Adjust(ctx, user.Wallet.ID, "admin-1", "noop", decimal.Zero); fault.KindOf(err) != fault.InvalidAmount {
		t.Errorf("zero delta: expected invalid_amount, got %v", err)
	}
	if _, err := env.wallets.Adjust(ctx, user.Wallet.ID, "admin-1", "", decimal.NewFromInt(5)); fault.KindOf(err) != fault.Validation {
		t.Errorf("missing reason: expected validation error, got %v", err)
	}
	if _, err := env.wallets.Adjust(ctx, user.Wallet.ID, "admin-1", "clawback", decimal.RequireFromString("-30.00")); fault.KindOf(err) != fault.InvalidAmount {
		t.Errorf("overdraw adjustment: expected invalid_amount, got %v", err)
	}

	entry, err := env.wallets.Adjust(ctx, user.Wallet.ID, "admin-1", "promo credit", decimal.RequireFromString("2.50"))
	if err != nil {
		t.Fatalf("adjustment failed: %v", err)
	}
	if !entry.BalanceAfter.Equal(decimal.RequireFromString("22.50")) {
		t.Errorf("balanceAfter = %s, want 22.50", entry.BalanceAfter)
	}

	if ok, _ := env.wallets.Reconcile(ctx, user.Wallet.ID); !ok {
		t.Error("reconcile should pass after adjustments")
	}
}
