package service

import (
	"context"
	"math/rand/v2"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
)

func TestSequentialJoinAssignsPositionsInOrder(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	creator := env.newUser(t, "creator", "0")
	group := env.newGroup(t, creator.User.ID, basicSpec(3, models.PayoutSequential))

	for i, name := range []string{"u1", "u2", "u3"} {
		user := env.newUser(t, name, "0")
		result, err := env.membership.Join(ctx, group.JoinCode, user.User.ID)
		if err != nil {
			t.Fatalf("join %s failed: %v", name, err)
		}
		if result.Member.PayoutPosition != i+1 {
			t.Errorf("%s position = %d, want %d", name, result.Member.PayoutPosition, i+1)
		}
		wantStatus := models.GroupOpen
		if i == 2 {
			wantStatus = models.GroupFilled
		}
		if result.Group.Status != wantStatus {
			t.Errorf("after %s: status = %s, want %s", name, result.Group.Status, wantStatus)
		}
	}

	final, err := env.registry.Get(ctx, group.ID, creator.User.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if final.FilledAt == nil {
		t.Error("filled date not set")
	}
	if len(final.Members) != final.MemberCount || final.MemberCount != final.MaxMembers {
		t.Errorf("count invariant broken: len=%d count=%d max=%d",
			len(final.Members), final.MemberCount, final.MaxMembers)
	}
}

func TestRandomRuleShufflesAtFill(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	// Fixed seed makes the final assignment reproducible.
	env.membership.source = func() rand.Source { return rand.NewPCG(7, 7) }

	creator := env.newUser(t, "creator", "0")
	group := env.newGroup(t, creator.User.ID, basicSpec(3, models.PayoutRandom))

	for _, name := range []string{"u1", "u2", "u3"} {
		user := env.newUser(t, name, "0")
		if _, err := env.membership.Join(ctx, group.JoinCode, user.User.ID); err != nil {
			t.Fatalf("join %s failed: %v", name, err)
		}
	}

	final, err := env.registry.Get(ctx, group.ID, creator.User.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	seen := make(map[int]bool)
	for _, m := range final.Members {
		if m.PayoutPosition < 1 || m.PayoutPosition > 3 {
			t.Errorf("position %d out of range", m.PayoutPosition)
		}
		if seen[m.PayoutPosition] {
			t.Errorf("duplicate position %d", m.PayoutPosition)
		}
		seen[m.PayoutPosition] = true
	}
	if len(seen) != 3 {
		t.Errorf("positions are not a permutation of 1..3: %v", seen)
	}
}

func TestJoinErrors(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	creator := env.newUser(t, "creator", "0")
	group := env.newGroup(t, creator.User.ID, basicSpec(3, models.PayoutSequential))
	user := env.newUser(t, "joiner", "0")

	if _, err := env.membership.Join(ctx, "NOSUCH99", user.User.ID); fault.KindOf(err) != fault.NotFound {
		t.Errorf("unknown code: expected not_found, got %v", err)
	}

	if _, err := env.membership.Join(ctx, group.JoinCode, user.User.ID); err != nil {
		t.Fatalf("first join failed: %v", err)
	}
	if _, err := env.membership.Join(ctx, group.JoinCode, user.User.ID); fault.KindOf(err) != fault.AlreadyMember {
		t.Errorf("second join: expected already_member, got %v", err)
	}

	final, _ := env.registry.Get(ctx, group.ID, creator.User.ID)
	if got := len(final.Members); got != 1 {
		t.Errorf("duplicate join created %d member records, want 1", got)
	}
}

// TestParallelJoinsNeverOverfill races more joiners than remaining slots and
// requires exactly the remaining number of admissions.
func TestParallelJoinsNeverOverfill(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	const slots = 4
	creator := env.newUser(t, "creator", "0")
	group := env.newGroup(t, creator.User.ID, basicSpec(slots, models.PayoutSequential))

	// slots+1 contenders for slots places.
	users := make([]*Session, slots+1)
	for i := range users {
		users[i] = env.newUser(t, string(rune('a'+i))+"-racer", "0")
	}

	var wg sync.WaitGroup
	errs := make([]error, len(users))
	for i, u := range users {
		wg.Add(1)
		go func(i int, userID string) {
			defer wg.Done()
			_, errs[i] = env.membership.Join(ctx, group.JoinCode, userID)
		}(i, u.User.ID)
	}
	wg.Wait()

	successes, full := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			successes++
		case fault.KindOf(err) == fault.GroupFull:
			full++
		default:
			t.Errorf("unexpected join error: %v", err)
		}
	}
	if successes != slots || full != 1 {
		t.Errorf("got %d successes and %d group_full, want %d and 1", successes, full, slots)
	}

	final, _ := env.registry.Get(ctx, group.ID, creator.User.ID)
	if len(final.Members) != slots || final.MemberCount != slots {
		t.Errorf("group overfilled: len=%d count=%d", len(final.Members), final.MemberCount)
	}
}

func TestContribute(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	creator := env.newUser(t, "creator", "0")
	group := env.newGroup(t, creator.User.ID, basicSpec(3, models.PayoutSequential))

	member := env.newUser(t, "member", "100.00")
	if _, err := env.membership.Join(ctx, group.JoinCode, member.User.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	outsider := env.newUser(t, "outsider", "100.00")

	if _, err := env.membership.Contribute(ctx, group.ID, outsider.User.ID, decimal.RequireFromString("10.00")); fault.KindOf(err) != fault.Forbidden {
		t.Errorf("outsider contribution: expected forbidden, got %v", err)
	}
	if _, err := env.membership.Contribute(ctx, group.ID, member.User.ID, decimal.Zero); fault.KindOf(err) != fault.InvalidAmount {
		t.Errorf("zero amount: expected invalid_amount, got %v", err)
	}
	if _, err := env.membership.Contribute(ctx, group.ID, member.User.ID, decimal.RequireFromString("150.00")); fault.KindOf(err) != fault.InsufficientFunds {
		t.Errorf("overdraw: expected insufficient_funds, got %v", err)
	}

	// Failed attempts leave the wallet and ledger untouched.
	ok, err := env.wallets.Reconcile(ctx, member.Wallet.ID)
	if err != nil || !ok {
		t.Fatalf("reconcile after failures: ok=%v err=%v", ok, err)
	}

	entry, err := env.membership.Contribute(ctx, group.ID, member.User.ID, decimal.RequireFromString("27.40"))
	if err != nil {
		t.Fatalf("contribution failed: %v", err)
	}
	if !entry.BalanceBefore.Equal(decimal.RequireFromString("100.00")) {
		t.Errorf("balanceBefore = %s, want 100.00", entry.BalanceBefore)
	}
	if !entry.BalanceAfter.Equal(decimal.RequireFromString("72.60")) {
		t.Errorf("balanceAfter = %s, want 72.60", entry.BalanceAfter)
	}

	balances, err := env.wallets.GetBalances(ctx, member.Wallet.ID, member.User.ID)
	if err != nil {
		t.Fatalf("get balances failed: %v", err)
	}
	if !balances.Available.Equal(decimal.RequireFromString("72.60")) {
		t.Errorf("available = %s, want 72.60", balances.Available)
	}

	final, _ := env.registry.Get(ctx, group.ID, creator.User.ID)
	if got := final.Member(member.User.ID).TotalContributed; !got.Equal(decimal.RequireFromString("27.40")) {
		t.Errorf("member total = %s, want 27.40", got)
	}

	if ok, _ := env.wallets.Reconcile(ctx, member.Wallet.ID); !ok {
		t.Error("reconcile should pass after contribution")
	}
}

func TestContributionLockedIntoEscrow(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	creator := env.newUser(t, "creator", "0")
	spec := basicSpec(3, models.PayoutSequential)
	spec.LockContributions = true
	group := env.newGroup(t, creator.User.ID, spec)

	member := env.newUser(t, "member", "80.00")
	if _, err := env.membership.Join(ctx, group.JoinCode, member.User.ID); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	if _, err := env.membership.Contribute(ctx, group.ID, member.User.ID, decimal.RequireFromString("50.00")); err != nil {
		t.Fatalf("contribution failed: %v", err)
	}

	balances, _ := env.wallets.GetBalances(ctx, member.Wallet.ID, member.User.ID)
	if !balances.Escrow.Equal(decimal.RequireFromString("50.00")) {
		t.Errorf("escrow = %s, want 50.00", balances.Escrow)
	}
	if !balances.Balance.Equal(decimal.RequireFromString("80.00")) {
		t.Errorf("balance = %s, want 80.00 (funds escrowed, not gone)", balances.Balance)
	}
}

func TestCancelRefundsEscrowedContributions(t *testing.T) {
	env, cleanup := setup(t)
	defer cleanup()
	ctx := context.Background()

	creator := env.newUser(t, "creator", "0")
	spec := basicSpec(2, models.PayoutSequential)
	spec.LockContributions = true
	group := env.newGroup(t, creator.User.ID, spec)

	m1 := env.newUser(t, "m1", "100.00")
	m2 := env.newUser(t, "m2", "100.00")
	for _, m := range []*Session{m1, m2} {
		if _, err := env.membership.Join(ctx, group.JoinCode, m.User.ID); err != nil {
			t.Fatalf("join failed: %v", err)
		}
	}
	for _, m := range []*Session{m1, m2} {
		if _, err := env.membership.Contribute(ctx, group.ID, m.User.ID, decimal.RequireFromString("50.00")); err != nil {
			t.Fatalf("contribution failed: %v", err)
		}
	}

	if _, err := env.membership.Cancel(ctx, group.ID, m1.User.ID); fault.KindOf(err) != fault.Forbidden {
		t.Errorf("non-creator cancel: expected forbidden, got %v", err)
	}

	cancelled, err := env.membership.Cancel(ctx, group.ID, creator.User.ID)
	if err != nil {
		t.Fatalf("cancel failed: %v", err)
	}
	if cancelled.Status != models.GroupCancelled {
		t.Errorf("status = %s, want cancelled", cancelled.Status)
	}

	for _, m := range []*Session{m1, m2} {
		balances, err := env.wallets.GetBalances(ctx, m.Wallet.ID, m.User.ID)
		if err != nil {
			t.Fatalf("get balances failed: %v", err)
		}
		if !balances.Escrow.IsZero() {
			t.Errorf("escrow = %s after refund, want 0", balances.Escrow)
		}
		if !balances.Available.Equal(decimal.RequireFromString("100.00")) {
			t.Errorf("available = %s after refund, want 100.00", balances.Available)
		}

		entries, err := env.wallets.ListEntries(ctx, m.Wallet.ID, m.User.ID)
		if err != nil {
			t.Fatalf("list entries failed: %v", err)
		}
		last := entries[len(entries)-1]
		if last.Type != models.EntryRefund {
			t.Errorf("last entry type = %s, want refund", last.Type)
		}

		if ok, _ := env.wallets.Reconcile(ctx, m.Wallet.ID); !ok {
			t.Errorf("reconcile failed for %s after refund", m.User.DisplayName)
		}
	}
}
