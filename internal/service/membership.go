package service

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/ledger"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/scheduler"
	"github.com/mmynk/tontine/internal/storage"
)

// JoinResult is the outcome of a successful admission.
type JoinResult struct {
	Group  *models.Group
	Member *models.Member
}

// Membership orchestrates admission, capacity enforcement, contributions,
// and cancellation. It is the only mutator of a group's member list.
type Membership struct {
	store  storage.Store
	engine *ledger.Engine
	logger *slog.Logger

	// source seeds the fill-time shuffle; tests inject a fixed PCG.
	source func() rand.Source
}

// NewMembership creates a membership manager.
func NewMembership(store storage.Store, engine *ledger.Engine, logger *slog.Logger) *Membership {
	return &Membership{
		store:  store,
		engine: engine,
		logger: logger,
		source: scheduler.CryptoSource,
	}
}

// Join admits the user to the group behind the join code. The capacity check
// and member append are atomic in the store, so overfilling is impossible no
// matter how many joins race. When the admission takes the last slot the
// group flips to filled and, under the random rule, every payout position is
// rewritten by one unbiased shuffle.
func (m *Membership) Join(ctx context.Context, joinCode, userID string) (*JoinResult, error) {
	m.logger.Info("join request", "join_code", joinCode, "user_id", userID)

	user, err := withRetry(ctx, func(ctx context.Context) (*models.User, error) {
		return m.store.GetUserByID(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	group, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return m.store.GetGroupByJoinCode(ctx, joinCode)
	})
	if err != nil {
		return nil, err
	}

	member := models.Member{
		UserID:           user.ID,
		Name:             user.DisplayName,
		Email:            user.Email,
		TotalContributed: decimal.Zero,
	}
	finalize := func(n int) []int {
		return scheduler.Permutation(n, m.source())
	}

	updated, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return m.store.AdmitMember(ctx, group.ID, member, finalize)
	})
	if err != nil {
		m.logger.Warn("join rejected", "group_id", group.ID, "user_id", userID, "error", err)
		return nil, err
	}

	admitted := updated.Member(userID)
	if admitted == nil {
		return nil, fmt.Errorf("admitted member %s missing from group %s", userID, updated.ID)
	}

	m.logger.Info("member admitted",
		"group_id", updated.ID,
		"user_id", userID,
		"position", admitted.PayoutPosition,
		"status", updated.Status,
	)
	return &JoinResult{Group: updated, Member: admitted}, nil
}

// Contribute records one contribution from a member. The ledger entry and
// the member's running total commit atomically; the wallet can never drop
// below zero available.
func (m *Membership) Contribute(ctx context.Context, groupID, userID string, amount decimal.Decimal) (*models.LedgerEntry, error) {
	m.logger.Info("contribution request", "group_id", groupID, "user_id", userID, "amount", amount)

	if !amount.IsPositive() {
		return nil, fault.New(fault.InvalidAmount, "contribution must be positive, got %s", amount)
	}

	group, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return m.store.GetGroup(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	if !group.HasMember(userID) {
		return nil, fault.New(fault.Forbidden, "user is not a member of this group")
	}
	switch group.Status {
	case models.GroupOpen, models.GroupFilled, models.GroupActive:
	default:
		return nil, fault.New(fault.InvalidState, "a %s group does not accept contributions", group.Status)
	}

	wallet, err := withRetry(ctx, func(ctx context.Context) (*models.Wallet, error) {
		return m.store.GetWalletByUser(ctx, userID)
	})
	if err != nil {
		return nil, err
	}

	entry, err := withRetry(ctx, func(ctx context.Context) (*models.LedgerEntry, error) {
		return m.engine.Append(ctx, ledger.Draft{
			UserID:      userID,
			WalletID:    wallet.ID,
			Type:        models.EntryContribution,
			Amount:      amount,
			GroupID:     groupID,
			ToEscrow:    group.LockContributions,
			Description: fmt.Sprintf("contribution to %s", group.Name),
		})
	})
	if err != nil {
		m.logger.Warn("contribution rejected", "group_id", groupID, "user_id", userID, "error", err)
		return nil, err
	}

	m.logger.Info("contribution recorded", "entry_id", entry.ID, "group_id", groupID, "user_id", userID)
	return entry, nil
}

// Cancel moves an open or filled group to cancelled. For groups that lock
// contributions, every member's escrowed total is released back to them with
// an explicit refund entry, appended right after the status flip. A refund
// failure part-way through is returned to the caller; already-appended
// refunds stand, and the remainder can be replayed via admin adjustment.
func (m *Membership) Cancel(ctx context.Context, groupID, callerID string) (*models.Group, error) {
	m.logger.Info("cancel request", "group_id", groupID, "caller_id", callerID)

	group, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return m.store.GetGroup(ctx, groupID)
	})
	if err != nil {
		return nil, err
	}
	if group.CreatorID != callerID {
		return nil, fault.New(fault.Forbidden, "only the creator may cancel a group")
	}

	cancelled, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return m.store.SetGroupStatus(ctx, groupID, models.GroupCancelled)
	})
	if err != nil {
		return nil, err
	}

	for i := range cancelled.Members {
		member := &cancelled.Members[i]
		if !member.TotalContributed.IsPositive() {
			continue
		}
		wallet, err := withRetry(ctx, func(ctx context.Context) (*models.Wallet, error) {
			return m.store.GetWalletByUser(ctx, member.UserID)
		})
		if err != nil {
			return nil, fmt.Errorf("refund for member %s: %w", member.UserID, err)
		}
		if _, err := withRetry(ctx, func(ctx context.Context) (*models.LedgerEntry, error) {
			return m.engine.Append(ctx, ledger.Draft{
				UserID:      member.UserID,
				WalletID:    wallet.ID,
				Type:        models.EntryRefund,
				Amount:      member.TotalContributed,
				GroupID:     groupID,
				FromEscrow:  group.LockContributions,
				Description: fmt.Sprintf("refund of contributions to cancelled group %s", group.Name),
			})
		}); err != nil {
			m.logger.Error("refund failed during cancellation",
				"group_id", groupID, "user_id", member.UserID, "error", err)
			return nil, fmt.Errorf("refund for member %s: %w", member.UserID, err)
		}
	}

	m.logger.Info("group cancelled", "group_id", groupID, "refunded_members", len(cancelled.Members))
	return cancelled, nil
}
