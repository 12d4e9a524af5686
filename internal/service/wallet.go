package service

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/ledger"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage"
)

// Balances is the read model for a wallet: the live snapshot, never a replay
// of history.
type Balances struct {
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
	Locked    decimal.Decimal `json:"locked"`
	Escrow    decimal.Decimal `json:"escrow"`
	Status    string          `json:"status"`
}

// Wallets exposes wallet reads, freeze control, admin adjustments, and the
// reconcile diagnostic.
type Wallets struct {
	store  storage.Store
	engine *ledger.Engine
	logger *slog.Logger
}

// NewWallets creates a wallet service.
func NewWallets(store storage.Store, engine *ledger.Engine, logger *slog.Logger) *Wallets {
	return &Wallets{store: store, engine: engine, logger: logger}
}

// GetBalances returns the wallet's live bucket totals. Only the owner or an
// admin may read them.
func (s *Wallets) GetBalances(ctx context.Context, walletID, callerID string) (*Balances, error) {
	wallet, err := s.authorized(ctx, walletID, callerID)
	if err != nil {
		return nil, err
	}
	return &Balances{
		Balance:   wallet.Balance,
		Available: wallet.Available,
		Locked:    wallet.Locked,
		Escrow:    wallet.Escrow,
		Status:    string(wallet.Status),
	}, nil
}

// ListEntries returns the wallet's full ledger history in creation order.
func (s *Wallets) ListEntries(ctx context.Context, walletID, callerID string) ([]models.LedgerEntry, error) {
	if _, err := s.authorized(ctx, walletID, callerID); err != nil {
		return nil, err
	}
	return withRetry(ctx, func(ctx context.Context) ([]models.LedgerEntry, error) {
		return s.store.ListEntries(ctx, walletID)
	})
}

// Reconcile replays the wallet's ledger and reports whether it reproduces
// the live snapshot. Diagnostic only.
func (s *Wallets) Reconcile(ctx context.Context, walletID string) (bool, error) {
	ok, err := withRetry(ctx, func(ctx context.Context) (bool, error) {
		return s.engine.Reconcile(ctx, walletID)
	})
	if err != nil {
		return false, err
	}
	if !ok {
		s.logger.Error("wallet failed reconciliation", "wallet_id", walletID)
	}
	return ok, nil
}

// Freeze puts the wallet in the frozen state; every ledger operation except
// admin adjustments is rejected until Unfreeze.
func (s *Wallets) Freeze(ctx context.Context, walletID, reason string) error {
	if reason == "" {
		return fault.New(fault.Validation, "freeze requires a reason")
	}
	if _, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.SetWalletStatus(ctx, walletID, models.WalletFrozen, reason)
	}); err != nil {
		return err
	}
	s.logger.Warn("wallet frozen", "wallet_id", walletID, "reason", reason)
	return nil
}

// Unfreeze returns the wallet to active.
func (s *Wallets) Unfreeze(ctx context.Context, walletID string) error {
	if _, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.SetWalletStatus(ctx, walletID, models.WalletActive, "")
	}); err != nil {
		return err
	}
	s.logger.Info("wallet unfrozen", "wallet_id", walletID)
	return nil
}

// Adjust appends an admin adjustment with the given signed delta. The ledger
// engine enforces the non-empty reason and admin id.
func (s *Wallets) Adjust(ctx context.Context, walletID, adminID, reason string, delta decimal.Decimal) (*models.LedgerEntry, error) {
	wallet, err := withRetry(ctx, func(ctx context.Context) (*models.Wallet, error) {
		return s.store.GetWallet(ctx, walletID)
	})
	if err != nil {
		return nil, err
	}
	return withRetry(ctx, func(ctx context.Context) (*models.LedgerEntry, error) {
		return s.engine.Append(ctx, ledger.Draft{
			UserID:      wallet.UserID,
			WalletID:    walletID,
			Type:        models.EntryAdminAdjustment,
			Amount:      delta,
			Description: reason,
			Metadata:    map[string]string{"reason": reason, "admin_id": adminID},
		})
	})
}

// authorized loads the wallet and checks the caller may read it.
func (s *Wallets) authorized(ctx context.Context, walletID, callerID string) (*models.Wallet, error) {
	wallet, err := withRetry(ctx, func(ctx context.Context) (*models.Wallet, error) {
		return s.store.GetWallet(ctx, walletID)
	})
	if err != nil {
		return nil, err
	}
	if wallet.UserID == callerID {
		return wallet, nil
	}
	caller, err := withRetry(ctx, func(ctx context.Context) (*models.User, error) {
		return s.store.GetUserByID(ctx, callerID)
	})
	if err == nil && caller.Role == models.RoleAdmin {
		return wallet, nil
	}
	return nil, fault.New(fault.Forbidden, "caller does not own this wallet")
}
