package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryType classifies a balance-affecting event.
type EntryType string

const (
	EntryContribution    EntryType = "contribution"
	EntryPayout          EntryType = "payout"
	EntryRefund          EntryType = "refund"
	EntryPenalty         EntryType = "penalty"
	EntryLateFee         EntryType = "late_fee"
	EntryEscrowLock      EntryType = "escrow_lock"
	EntryEscrowRelease   EntryType = "escrow_release"
	EntryAdminAdjustment EntryType = "admin_adjustment"
)

// ValidEntryType reports whether t is a known entry type.
func ValidEntryType(t EntryType) bool {
	switch t {
	case EntryContribution, EntryPayout, EntryRefund, EntryPenalty,
		EntryLateFee, EntryEscrowLock, EntryEscrowRelease, EntryAdminAdjustment:
		return true
	}
	return false
}

// LedgerEntry is an immutable record of one balance-affecting event.
// Entries are created exactly once, atomically with the wallet update they
// accompany, and are never updated or deleted afterwards.
type LedgerEntry struct {
	// ID is the unique identifier for the entry (UUID format).
	ID string

	// Seq is the wallet-local creation order, assigned by the store.
	Seq int64

	// UserID and WalletID reference the affected user and wallet.
	UserID   string
	WalletID string

	// Type classifies the event.
	Type EntryType

	// Amount is the signed magnitude of the event. Positive for all types
	// except admin_adjustment, which carries an arbitrary signed delta.
	Amount decimal.Decimal

	// GroupID and Round give the group context, when the event has one.
	GroupID string
	Round   int

	// BalanceBefore/After snapshot the wallet balance around this entry.
	// Replaying entries in Seq order chains these exactly.
	BalanceBefore decimal.Decimal
	BalanceAfter  decimal.Decimal

	// EscrowBefore/After snapshot the escrow bucket around this entry.
	EscrowBefore decimal.Decimal
	EscrowAfter  decimal.Decimal

	// Description is a human-readable account of the event.
	Description string

	// SettlementRef is an optional external settlement reference. The ledger
	// records that value moved; it never initiates real transfers.
	SettlementRef string

	// Metadata carries event-specific fields. Admin adjustments require
	// "reason" and "admin_id".
	Metadata map[string]string

	// CreatedAt is when the entry was committed.
	CreatedAt time.Time
}
