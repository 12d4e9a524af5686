package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletStatus is the operational state of a wallet.
type WalletStatus string

const (
	WalletActive    WalletStatus = "active"
	WalletFrozen    WalletStatus = "frozen"
	WalletSuspended WalletStatus = "suspended"
)

// Wallet tracks a user's funds split across spending buckets.
// Invariant: Balance == Available + Locked + Escrow, and Available is never
// negative. The wallet row is only ever written through the ledger engine's
// append path, atomically with the entry that explains the change.
type Wallet struct {
	// ID is the unique identifier for the wallet (UUID format).
	ID string

	// UserID is the owning user.
	UserID string

	// Balance is the total of all buckets.
	Balance decimal.Decimal

	// Available is freely spendable.
	Available decimal.Decimal

	// Locked is held against an in-progress round.
	Locked decimal.Decimal

	// Escrow is reserved for pending contributions awaiting payout.
	Escrow decimal.Decimal

	// Status gates ledger operations: a frozen wallet rejects everything
	// except admin adjustments.
	Status WalletStatus

	// FreezeReason records why the wallet was frozen, if it is.
	FreezeReason string

	// CreatedAt is when the wallet was created.
	CreatedAt time.Time

	// UpdatedAt is bumped on every ledger-driven write.
	UpdatedAt time.Time
}

// Consistent reports whether the bucket totals add up to the balance.
func (w *Wallet) Consistent() bool {
	return w.Balance.Equal(w.Available.Add(w.Locked).Add(w.Escrow))
}
