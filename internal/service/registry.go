package service

import (
	"context"
	crand "crypto/rand"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage"
)

// Join codes skip I, O, 0 and 1 so codes read unambiguously over the phone.
const (
	joinCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
	joinCodeLength   = 8
)

// GroupSpec is the caller-supplied definition of a new group.
type GroupSpec struct {
	Name               string
	Purpose            string
	ContributionAmount decimal.Decimal
	Frequency          models.ContributionFrequency
	MaxMembers         int
	PayoutRule         models.PayoutRule
	LockContributions  bool
}

// Registry is the only component external callers reach directly: CRUD over
// group definitions and join-code resolution. Membership mutation lives in
// the Membership service.
type Registry struct {
	store  storage.Store
	logger *slog.Logger
}

// NewRegistry creates a group registry over the given store.
func NewRegistry(store storage.Store, logger *slog.Logger) *Registry {
	return &Registry{store: store, logger: logger}
}

// Create validates the spec, generates a collision-checked join code, and
// persists the group in the open state.
func (r *Registry) Create(ctx context.Context, creatorID string, spec GroupSpec) (*models.Group, error) {
	r.logger.Info("create group request", "creator_id", creatorID, "name", spec.Name)

	if err := validateSpec(spec); err != nil {
		return nil, err
	}

	code, err := r.generateJoinCode(ctx)
	if err != nil {
		return nil, err
	}

	group := &models.Group{
		Name:               spec.Name,
		Purpose:            spec.Purpose,
		ContributionAmount: spec.ContributionAmount,
		Frequency:          spec.Frequency,
		MaxMembers:         spec.MaxMembers,
		Status:             models.GroupOpen,
		JoinCode:           code,
		PayoutRule:         spec.PayoutRule,
		LockContributions:  spec.LockContributions,
		CreatorID:          creatorID,
	}

	if _, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.CreateGroup(ctx, group)
	}); err != nil {
		r.logger.Error("create group failed", "creator_id", creatorID, "error", err)
		return nil, err
	}

	r.logger.Info("group created", "group_id", group.ID, "join_code", group.JoinCode)
	return group, nil
}

// Get retrieves a group. Only the creator and members may see it.
func (r *Registry) Get(ctx context.Context, id, callerID string) (*models.Group, error) {
	group, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return r.store.GetGroup(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if group.CreatorID != callerID && !group.HasMember(callerID) {
		return nil, fault.New(fault.Forbidden, "caller is neither creator nor member of this group")
	}
	return group, nil
}

// FindByJoinCode resolves a group by its public join code.
func (r *Registry) FindByJoinCode(ctx context.Context, code string) (*models.Group, error) {
	return withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return r.store.GetGroupByJoinCode(ctx, code)
	})
}

// Update applies a creator-only patch. Name, purpose, and payout rule are
// the only mutable fields; the rule additionally locks once the group fills,
// since the permutation promise has already been extended to members.
func (r *Registry) Update(ctx context.Context, id, callerID string, patch storage.GroupPatch) (*models.Group, error) {
	group, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return r.store.GetGroup(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	if group.CreatorID != callerID {
		return nil, fault.New(fault.Forbidden, "only the creator may update a group")
	}
	if patch.PayoutRule != nil {
		if group.Status != models.GroupOpen {
			return nil, fault.New(fault.InvalidState, "payout rule is final once the group is %s", group.Status)
		}
		if *patch.PayoutRule != models.PayoutSequential && *patch.PayoutRule != models.PayoutRandom {
			return nil, fault.New(fault.Validation, "unknown payout rule %q", *patch.PayoutRule)
		}
	}
	if patch.Name != nil && *patch.Name == "" {
		return nil, fault.New(fault.Validation, "group name cannot be empty")
	}

	updated, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return r.store.UpdateGroup(ctx, id, patch)
	})
	if err != nil {
		r.logger.Error("update group failed", "group_id", id, "error", err)
		return nil, err
	}
	r.logger.Info("group updated", "group_id", id)
	return updated, nil
}

// Delete removes a group. Creator-only, and only while no round could have
// settled: open or filled groups qualify, anything later does not.
func (r *Registry) Delete(ctx context.Context, id, callerID string) error {
	group, err := withRetry(ctx, func(ctx context.Context) (*models.Group, error) {
		return r.store.GetGroup(ctx, id)
	})
	if err != nil {
		return err
	}
	if group.CreatorID != callerID {
		return fault.New(fault.Forbidden, "only the creator may delete a group")
	}
	if group.Status != models.GroupOpen && group.Status != models.GroupFilled {
		return fault.New(fault.InvalidState, "cannot delete a %s group; use dissolution instead", group.Status)
	}

	if _, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, r.store.DeleteGroup(ctx, id)
	}); err != nil {
		r.logger.Error("delete group failed", "group_id", id, "error", err)
		return err
	}
	r.logger.Info("group deleted", "group_id", id, "deleted_by", callerID)
	return nil
}

func (r *Registry) generateJoinCode(ctx context.Context) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		code, err := randomJoinCode()
		if err != nil {
			return "", err
		}
		taken, err := r.store.JoinCodeExists(ctx, code)
		if err != nil {
			return "", err
		}
		if !taken {
			return code, nil
		}
	}
	return "", fault.New(fault.StorageUnavailable, "could not find a free join code")
}

func randomJoinCode() (string, error) {
	buf := make([]byte, joinCodeLength)
	if _, err := crand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	for i, b := range buf {
		buf[i] = joinCodeAlphabet[int(b)%len(joinCodeAlphabet)]
	}
	return string(buf), nil
}

func validateSpec(spec GroupSpec) error {
	if spec.Name == "" {
		return fault.New(fault.Validation, "group name is required")
	}
	if !spec.ContributionAmount.IsPositive() {
		return fault.New(fault.InvalidAmount, "contribution amount must be positive")
	}
	if spec.MaxMembers < 2 {
		return fault.New(fault.Validation, "a group needs at least 2 members")
	}
	switch spec.Frequency {
	case models.FrequencyWeekly, models.FrequencyBiweekly, models.FrequencyMonthly:
	default:
		return fault.New(fault.Validation, "unknown contribution frequency %q", spec.Frequency)
	}
	switch spec.PayoutRule {
	case models.PayoutSequential, models.PayoutRandom:
	default:
		return fault.New(fault.Validation, "unknown payout rule %q", spec.PayoutRule)
	}
	return nil
}
