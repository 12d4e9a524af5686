// Package ledger implements the append-only ledger engine.
//
// Every balance-affecting event enters the system through Engine.Append: the
// engine validates the draft, computes the bucket effect for its type, and
// hands the store an apply function that runs against the live wallet row
// inside one transaction. There is no update or delete; a committed entry is
// permanent, and reversal means appending a compensating entry.
package ledger

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage"
)

// Draft describes a balance-affecting event before it is committed.
type Draft struct {
	UserID   string
	WalletID string
	Type     models.EntryType

	// Amount is positive for every type except admin_adjustment, which
	// carries an arbitrary non-zero signed delta.
	Amount decimal.Decimal

	// GroupID and Round give group context where the event has one.
	GroupID string
	Round   int

	// ToEscrow makes a contribution land in escrow instead of leaving the
	// wallet; set when the group locks contributions until payout.
	ToEscrow bool

	// FromEscrow makes a refund release escrowed funds instead of restoring
	// externally departed ones.
	FromEscrow bool

	Description   string
	SettlementRef string
	Metadata      map[string]string
}

// Engine is the single write path to wallets.
type Engine struct {
	store  storage.Store
	logger *slog.Logger
}

// NewEngine creates a ledger engine over the given store.
func NewEngine(store storage.Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Append validates the draft, applies its effect to the wallet, and commits
// the entry and wallet update atomically. Contributions with group context
// also advance the member's running total in the same transaction.
func (e *Engine) Append(ctx context.Context, d Draft) (*models.LedgerEntry, error) {
	if err := validate(d); err != nil {
		return nil, err
	}

	apply := func(w *models.Wallet) (*models.LedgerEntry, error) {
		return applyDraft(w, d)
	}

	var (
		entry *models.LedgerEntry
		err   error
	)
	if d.Type == models.EntryContribution && d.GroupID != "" {
		entry, err = e.store.RecordContribution(ctx, d.GroupID, d.UserID, d.WalletID, apply)
	} else {
		entry, err = e.store.AppendEntry(ctx, d.WalletID, apply)
	}
	if err != nil {
		if fault.KindOf(err) == fault.ImmutableViolation {
			e.logger.Error("ledger immutability violation", "wallet_id", d.WalletID, "error", err)
		}
		return nil, err
	}

	e.logger.Info("ledger entry appended",
		"entry_id", entry.ID,
		"wallet_id", entry.WalletID,
		"type", entry.Type,
		"amount", entry.Amount,
		"balance_after", entry.BalanceAfter,
	)
	return entry, nil
}

// Reconcile replays all of a wallet's entries in creation order and verifies
// that the chain reproduces the live snapshot. It is a consistency oracle
// for diagnostics, never part of the read path.
func (e *Engine) Reconcile(ctx context.Context, walletID string) (bool, error) {
	wallet, err := e.store.GetWallet(ctx, walletID)
	if err != nil {
		return false, err
	}
	entries, err := e.store.ListEntries(ctx, walletID)
	if err != nil {
		return false, err
	}

	balance := decimal.Zero
	escrow := decimal.Zero
	for _, entry := range entries {
		if !entry.BalanceBefore.Equal(balance) {
			e.logger.Warn("balance chain broken",
				"wallet_id", walletID, "seq", entry.Seq,
				"expected", balance, "recorded", entry.BalanceBefore)
			return false, nil
		}
		if !entry.EscrowBefore.Equal(escrow) {
			e.logger.Warn("escrow chain broken",
				"wallet_id", walletID, "seq", entry.Seq,
				"expected", escrow, "recorded", entry.EscrowBefore)
			return false, nil
		}
		balance = entry.BalanceAfter
		escrow = entry.EscrowAfter
	}

	if !balance.Equal(wallet.Balance) || !escrow.Equal(wallet.Escrow) {
		e.logger.Warn("replayed ledger disagrees with wallet snapshot",
			"wallet_id", walletID,
			"replayed_balance", balance, "wallet_balance", wallet.Balance,
			"replayed_escrow", escrow, "wallet_escrow", wallet.Escrow)
		return false, nil
	}
	if !wallet.Consistent() {
		e.logger.Warn("wallet buckets do not sum to balance", "wallet_id", walletID)
		return false, nil
	}
	return true, nil
}

func validate(d Draft) error {
	if !models.ValidEntryType(d.Type) {
		return fault.New(fault.Validation, "unknown entry type %q", d.Type)
	}
	if d.Type == models.EntryAdminAdjustment {
		if d.Amount.IsZero() {
			return fault.New(fault.InvalidAmount, "adjustment delta must be non-zero")
		}
		if d.Metadata["reason"] == "" {
			return fault.New(fault.Validation, "admin adjustment requires metadata.reason")
		}
		if d.Metadata["admin_id"] == "" {
			return fault.New(fault.Validation, "admin adjustment requires metadata.admin_id")
		}
		return nil
	}
	if !d.Amount.IsPositive() {
		return fault.New(fault.InvalidAmount, "amount must be positive, got %s", d.Amount)
	}
	return nil
}

// applyDraft computes the bucket effect of a draft against the wallet and
// returns the entry recording it. The wallet is mutated in place; the store
// persists both or neither.
func applyDraft(w *models.Wallet, d Draft) (*models.LedgerEntry, error) {
	if w.Status == models.WalletSuspended {
		return nil, fault.New(fault.InvalidState, "wallet is suspended")
	}
	if w.Status == models.WalletFrozen && d.Type != models.EntryAdminAdjustment {
		return nil, fault.New(fault.InvalidState, "wallet is frozen: %s", w.FreezeReason)
	}

	entry := &models.LedgerEntry{
		UserID:        d.UserID,
		Type:          d.Type,
		Amount:        d.Amount,
		GroupID:       d.GroupID,
		Round:         d.Round,
		Description:   d.Description,
		SettlementRef: d.SettlementRef,
		Metadata:      d.Metadata,
		BalanceBefore: w.Balance,
		EscrowBefore:  w.Escrow,
	}

	switch d.Type {
	case models.EntryContribution:
		if w.Available.LessThan(d.Amount) {
			return nil, fault.New(fault.InsufficientFunds,
				"available %s is less than contribution %s", w.Available, d.Amount)
		}
		w.Available = w.Available.Sub(d.Amount)
		if d.ToEscrow {
			w.Escrow = w.Escrow.Add(d.Amount)
		} else {
			w.Balance = w.Balance.Sub(d.Amount)
		}

	case models.EntryPayout:
		if w.Escrow.LessThan(d.Amount) {
			return nil, fault.New(fault.InsufficientFunds,
				"escrow %s cannot cover payout %s", w.Escrow, d.Amount)
		}
		w.Escrow = w.Escrow.Sub(d.Amount)
		w.Available = w.Available.Add(d.Amount)

	case models.EntryRefund:
		if d.FromEscrow {
			if w.Escrow.LessThan(d.Amount) {
				return nil, fault.New(fault.InsufficientFunds,
					"escrow %s cannot cover refund %s", w.Escrow, d.Amount)
			}
			w.Escrow = w.Escrow.Sub(d.Amount)
			w.Available = w.Available.Add(d.Amount)
		} else {
			w.Available = w.Available.Add(d.Amount)
			w.Balance = w.Balance.Add(d.Amount)
		}

	case models.EntryPenalty, models.EntryLateFee:
		if w.Available.LessThan(d.Amount) {
			return nil, fault.New(fault.InsufficientFunds,
				"available %s cannot cover %s of %s", w.Available, d.Type, d.Amount)
		}
		w.Available = w.Available.Sub(d.Amount)
		w.Balance = w.Balance.Sub(d.Amount)

	case models.EntryEscrowLock:
		if w.Available.LessThan(d.Amount) {
			return nil, fault.New(fault.InsufficientFunds,
				"available %s cannot cover escrow lock of %s", w.Available, d.Amount)
		}
		w.Available = w.Available.Sub(d.Amount)
		w.Escrow = w.Escrow.Add(d.Amount)

	case models.EntryEscrowRelease:
		if w.Escrow.LessThan(d.Amount) {
			return nil, fault.New(fault.InsufficientFunds,
				"escrow %s cannot cover release of %s", w.Escrow, d.Amount)
		}
		w.Escrow = w.Escrow.Sub(d.Amount)
		w.Available = w.Available.Add(d.Amount)

	case models.EntryAdminAdjustment:
		next := w.Available.Add(d.Amount)
		if next.IsNegative() {
			return nil, fault.New(fault.InvalidAmount,
				"adjustment of %s would take available to %s", d.Amount, next)
		}
		w.Available = next
		w.Balance = w.Balance.Add(d.Amount)

	default:
		return nil, fault.New(fault.Validation, "unknown entry type %q", d.Type)
	}

	if w.Available.IsNegative() {
		return nil, fmt.Errorf("effect for %s drove available negative: %s", d.Type, w.Available)
	}
	if !w.Consistent() {
		return nil, fmt.Errorf("effect for %s broke bucket identity", d.Type)
	}

	entry.BalanceAfter = w.Balance
	entry.EscrowAfter = w.Escrow
	return entry, nil
}
