package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
)

// CreateWallet persists a new wallet.
func (s *SQLiteStore) CreateWallet(ctx context.Context, wallet *models.Wallet) error {
	if wallet.ID == "" {
		wallet.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if wallet.CreatedAt.IsZero() {
		wallet.CreatedAt = now
	}
	wallet.UpdatedAt = wallet.CreatedAt
	if wallet.Status == "" {
		wallet.Status = models.WalletActive
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO wallets
		 (id, user_id, balance, available, locked, escrow, status, freeze_reason, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wallet.ID, wallet.UserID, wallet.Balance.String(), wallet.Available.String(),
		wallet.Locked.String(), wallet.Escrow.String(), string(wallet.Status),
		wallet.FreezeReason, wallet.CreatedAt.Unix(), wallet.UpdatedAt.Unix(),
	)
	return storeErr(err, "insert wallet")
}

// GetWallet retrieves a wallet snapshot by ID.
func (s *SQLiteStore) GetWallet(ctx context.Context, id string) (*models.Wallet, error) {
	return getWallet(ctx, s.db, "id = ?", id)
}

// GetWalletByUser retrieves the wallet owned by a user.
func (s *SQLiteStore) GetWalletByUser(ctx context.Context, userID string) (*models.Wallet, error) {
	return getWallet(ctx, s.db, "user_id = ?", userID)
}

func getWallet(ctx context.Context, q querier, where string, arg any) (*models.Wallet, error) {
	w := &models.Wallet{}
	var (
		balance, available, locked, escrow, status string
		createdAt, updatedAt                       int64
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, user_id, balance, available, locked, escrow, status, freeze_reason,
		        created_at, updated_at
		 FROM wallets WHERE `+where,
		arg,
	).Scan(&w.ID, &w.UserID, &balance, &available, &locked, &escrow, &status,
		&w.FreezeReason, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, fault.New(fault.NotFound, "wallet not found")
	}
	if err != nil {
		return nil, storeErr(err, "get wallet")
	}

	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{
		{&w.Balance, balance}, {&w.Available, available},
		{&w.Locked, locked}, {&w.Escrow, escrow},
	} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return nil, fmt.Errorf("corrupt wallet amount %q: %w", f.src, err)
		}
	}
	w.Status = models.WalletStatus(status)
	w.CreatedAt = time.Unix(createdAt, 0).UTC()
	w.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return w, nil
}

// SetWalletStatus updates a wallet's operational status and freeze reason.
func (s *SQLiteStore) SetWalletStatus(ctx context.Context, id string, status models.WalletStatus, reason string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE wallets SET status = ?, freeze_reason = ?, updated_at = ? WHERE id = ?",
		string(status), reason, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return storeErr(err, "update wallet status")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "wallet not found")
	}
	return nil
}
