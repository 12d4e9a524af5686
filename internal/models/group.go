package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GroupStatus is the lifecycle state of a savings group.
// Transitions are monotonic: open -> filled -> active -> completed.
// cancelled is reachable only from open or filled.
type GroupStatus string

const (
	GroupOpen      GroupStatus = "open"
	GroupFilled    GroupStatus = "filled"
	GroupActive    GroupStatus = "active"
	GroupCompleted GroupStatus = "completed"
	GroupCancelled GroupStatus = "cancelled"
)

// PayoutRule determines how payout positions are assigned.
type PayoutRule string

const (
	// PayoutSequential assigns positions in join order, fixed at join time.
	PayoutSequential PayoutRule = "sequential"
	// PayoutRandom keeps join-order positions provisional and shuffles the
	// full member list once, at the instant the group fills.
	PayoutRandom PayoutRule = "random"
)

// ContributionFrequency is how often a contribution round occurs.
type ContributionFrequency string

const (
	FrequencyWeekly   ContributionFrequency = "weekly"
	FrequencyBiweekly ContributionFrequency = "biweekly"
	FrequencyMonthly  ContributionFrequency = "monthly"
)

// Group is a fixed-size pool of members contributing a set amount on a
// schedule, taking turns receiving the pooled payout.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group.
	Name string

	// Purpose is an optional free-text description of what the pool is for.
	Purpose string

	// ContributionAmount is the fixed amount each member pays per round.
	// Immutable after creation.
	ContributionAmount decimal.Decimal

	// Frequency is the contribution cadence. Immutable after creation.
	Frequency ContributionFrequency

	// MaxMembers is the group capacity. Immutable after creation.
	MaxMembers int

	// MemberCount is the number of admitted members. Kept redundantly for
	// the atomic capacity check; always equals len(Members).
	MemberCount int

	// Status is the lifecycle state.
	Status GroupStatus

	// JoinCode is a short public token used to locate and join the group.
	// Unique across groups, matched case-insensitively.
	JoinCode string

	// PayoutRule determines position assignment (sequential or random).
	PayoutRule PayoutRule

	// LockContributions reports whether contributions move into escrow
	// until the round pays out, rather than leaving the wallet outright.
	LockContributions bool

	// CreatorID is the user who created the group.
	CreatorID string

	// Members is the ordered member list, owned exclusively by the group.
	Members []Member

	// CreatedAt is when the group was created.
	CreatedAt time.Time

	// FilledAt is set the moment the last slot is taken.
	FilledAt *time.Time
}

// Member is a user's participation in one group. Members exist only inside
// their group and are identified by (group, user).
type Member struct {
	// UserID references the joining user.
	UserID string

	// Name and Email are snapshots taken at join time; later profile edits
	// do not rewrite group history.
	Name  string
	Email string

	// JoinedAt is when the member was admitted.
	JoinedAt time.Time

	// TotalContributed is the sum of this member's contribution entries.
	TotalContributed decimal.Decimal

	// PayoutPosition is the 1-based round in which this member receives the
	// payout. Provisional (join order) until the group fills when the rule
	// is random.
	PayoutPosition int
}

// HasMember reports whether the user is already admitted.
func (g *Group) HasMember(userID string) bool {
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			return true
		}
	}
	return false
}

// Member returns the member record for the user, or nil.
func (g *Group) Member(userID string) *Member {
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			return &g.Members[i]
		}
	}
	return nil
}

// CanTransition reports whether moving from the current status to next is a
// legal lifecycle step.
func (g *Group) CanTransition(next GroupStatus) bool {
	switch next {
	case GroupFilled:
		return g.Status == GroupOpen
	case GroupActive:
		return g.Status == GroupFilled
	case GroupCompleted:
		return g.Status == GroupActive
	case GroupCancelled:
		return g.Status == GroupOpen || g.Status == GroupFilled
	default:
		return false
	}
}
