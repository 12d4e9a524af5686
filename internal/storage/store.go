// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"

	"github.com/mmynk/tontine/internal/models"
)

// ApplyFunc computes the ledger entry and resulting wallet state for one
// balance-affecting event. The store invokes it with the live wallet row
// inside the write transaction; the function mutates the wallet buckets and
// returns the entry to persist alongside them. Returning an error aborts the
// transaction with nothing written.
type ApplyFunc func(w *models.Wallet) (*models.LedgerEntry, error)

// GroupPatch is a partial update to a group's mutable fields. Nil fields are
// left unchanged. Financial parameters (amount, capacity, frequency) are
// immutable after creation and deliberately absent.
type GroupPatch struct {
	Name       *string
	Purpose    *string
	PayoutRule *models.PayoutRule
}

// Store defines the persistence interface for groups, wallets, and the
// ledger. The ledger portion is append-only: there is no operation to update
// or delete an entry, so immutability cannot be violated through this
// interface at all.
type Store interface {
	// CreateUser persists a new user account.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUserByEmail retrieves a user by email address.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, id string) (*models.User, error)

	// CreateGroup persists a new group. The group.ID and CreatedAt fields
	// are populated by the store if unset.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup retrieves a group with its ordered member list.
	GetGroup(ctx context.Context, id string) (*models.Group, error)

	// GetGroupByJoinCode resolves a group by join code, case-insensitively.
	GetGroupByJoinCode(ctx context.Context, code string) (*models.Group, error)

	// JoinCodeExists reports whether a join code is already taken.
	JoinCodeExists(ctx context.Context, code string) (bool, error)

	// UpdateGroup applies a patch to a group's mutable fields.
	UpdateGroup(ctx context.Context, id string, patch GroupPatch) (*models.Group, error)

	// DeleteGroup removes a group and its members.
	DeleteGroup(ctx context.Context, id string) error

	// AdmitMember atomically admits a member: the capacity check, member
	// append, and count increment commit as one unit, so concurrent joiners
	// can never both take the last slot. If the admission fills the group,
	// the store marks it filled and, for the random payout rule, overwrites
	// every member's payout position with finalize(memberCount), indexed by
	// join order. Returns the updated group.
	AdmitMember(ctx context.Context, groupID string, member models.Member, finalize func(n int) []int) (*models.Group, error)

	// SetGroupStatus transitions a group's lifecycle status. The transition
	// is validated against the current status inside the write.
	SetGroupStatus(ctx context.Context, id string, status models.GroupStatus) (*models.Group, error)

	// CreateWallet persists a new wallet.
	CreateWallet(ctx context.Context, wallet *models.Wallet) error

	// GetWallet retrieves a wallet snapshot by ID.
	GetWallet(ctx context.Context, id string) (*models.Wallet, error)

	// GetWalletByUser retrieves the wallet owned by a user.
	GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error)

	// SetWalletStatus updates a wallet's operational status and freeze
	// reason.
	SetWalletStatus(ctx context.Context, id string, status models.WalletStatus, reason string) error

	// AppendEntry runs apply against the live wallet row and persists the
	// returned entry plus the wallet update as one atomic unit.
	AppendEntry(ctx context.Context, walletID string, apply ApplyFunc) (*models.LedgerEntry, error)

	// RecordContribution is AppendEntry plus an update of the contributing
	// member's running total, all in the same transaction.
	RecordContribution(ctx context.Context, groupID, userID, walletID string, apply ApplyFunc) (*models.LedgerEntry, error)

	// ListEntries returns a wallet's ledger entries in creation order.
	ListEntries(ctx context.Context, walletID string) ([]models.LedgerEntry, error)

	// Close releases any resources held by the store.
	Close() error
}
