package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage"
)

// AppendEntry runs apply against the live wallet row and persists the entry
// plus the wallet update as one atomic unit. The wallet UPDATE is guarded by
// the balance read at the start of the transaction, so two concurrent
// appends on the same wallet can never chain off the same balanceBefore.
func (s *SQLiteStore) AppendEntry(ctx context.Context, walletID string, apply storage.ApplyFunc) (*models.LedgerEntry, error) {
	return s.appendEntry(ctx, walletID, apply, nil)
}

// RecordContribution is AppendEntry plus an update of the contributing
// member's running total, in the same transaction.
func (s *SQLiteStore) RecordContribution(ctx context.Context, groupID, userID, walletID string, apply storage.ApplyFunc) (*models.LedgerEntry, error) {
	return s.appendEntry(ctx, walletID, apply, func(ctx context.Context, tx *sql.Tx, entry *models.LedgerEntry) error {
		var totalText string
		err := tx.QueryRowContext(ctx,
			"SELECT total_contributed FROM group_members WHERE group_id = ? AND user_id = ?",
			groupID, userID,
		).Scan(&totalText)
		if err == sql.ErrNoRows {
			return fault.New(fault.NotFound, "member not found in group")
		}
		if err != nil {
			return storeErr(err, "get member total")
		}
		total, err := decimal.NewFromString(totalText)
		if err != nil {
			return fmt.Errorf("corrupt contribution total %q: %w", totalText, err)
		}
		_, err = tx.ExecContext(ctx,
			"UPDATE group_members SET total_contributed = ? WHERE group_id = ? AND user_id = ?",
			total.Add(entry.Amount).String(), groupID, userID,
		)
		return storeErr(err, "update member total")
	})
}

func (s *SQLiteStore) appendEntry(ctx context.Context, walletID string, apply storage.ApplyFunc, extra func(context.Context, *sql.Tx, *models.LedgerEntry) error) (*models.LedgerEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err, "begin append")
	}
	defer tx.Rollback()

	wallet, err := getWallet(ctx, tx, "id = ?", walletID)
	if err != nil {
		return nil, err
	}
	balanceAtRead := wallet.Balance

	entry, err := apply(wallet)
	if err != nil {
		return nil, err
	}
	if entry.ID != "" {
		// Only a fresh entry may enter the ledger; an identity here means a
		// caller tried to re-commit an existing one.
		return nil, fault.New(fault.ImmutableViolation, "entry %s already exists in the ledger", entry.ID)
	}

	entry.ID = uuid.New().String()
	entry.WalletID = walletID
	entry.CreatedAt = time.Now().UTC()
	if err := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) + 1 FROM ledger_entries WHERE wallet_id = ?",
		walletID,
	).Scan(&entry.Seq); err != nil {
		return nil, storeErr(err, "next seq")
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO ledger_entries
		 (id, seq, user_id, wallet_id, type, amount, group_id, round,
		  balance_before, balance_after, escrow_before, escrow_after,
		  description, settlement_ref, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Seq, entry.UserID, entry.WalletID, string(entry.Type),
		entry.Amount.String(), entry.GroupID, entry.Round,
		entry.BalanceBefore.String(), entry.BalanceAfter.String(),
		entry.EscrowBefore.String(), entry.EscrowAfter.String(),
		entry.Description, entry.SettlementRef, string(metaJSON), entry.CreatedAt.Unix(),
	); err != nil {
		return nil, storeErr(err, "insert entry")
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE wallets
		 SET balance = ?, available = ?, locked = ?, escrow = ?, updated_at = ?
		 WHERE id = ? AND balance = ?`,
		wallet.Balance.String(), wallet.Available.String(), wallet.Locked.String(),
		wallet.Escrow.String(), entry.CreatedAt.Unix(), walletID, balanceAtRead.String(),
	)
	if err != nil {
		return nil, storeErr(err, "update wallet")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fault.New(fault.Conflict, "wallet %s changed under this append", walletID)
	}

	if extra != nil {
		if err := extra(ctx, tx, entry); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err, "commit append")
	}
	return entry, nil
}

// ListEntries returns a wallet's ledger entries in creation order.
func (s *SQLiteStore) ListEntries(ctx context.Context, walletID string) ([]models.LedgerEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, seq, user_id, wallet_id, type, amount, group_id, round,
		        balance_before, balance_after, escrow_before, escrow_after,
		        description, settlement_ref, metadata, created_at
		 FROM ledger_entries WHERE wallet_id = ? ORDER BY seq`,
		walletID,
	)
	if err != nil {
		return nil, storeErr(err, "list entries")
	}
	defer rows.Close()

	var entries []models.LedgerEntry
	for rows.Next() {
		var (
			e                                                    models.LedgerEntry
			typ, amount, balBefore, balAfter, escBefore, escAfter string
			metaJSON                                             string
			createdAt                                            int64
		)
		if err := rows.Scan(&e.ID, &e.Seq, &e.UserID, &e.WalletID, &typ, &amount,
			&e.GroupID, &e.Round, &balBefore, &balAfter, &escBefore, &escAfter,
			&e.Description, &e.SettlementRef, &metaJSON, &createdAt); err != nil {
			return nil, storeErr(err, "scan entry")
		}
		e.Type = models.EntryType(typ)
		for _, f := range []struct {
			dst *decimal.Decimal
			src string
		}{
			{&e.Amount, amount}, {&e.BalanceBefore, balBefore}, {&e.BalanceAfter, balAfter},
			{&e.EscrowBefore, escBefore}, {&e.EscrowAfter, escAfter},
		} {
			if *f.dst, err = decimal.NewFromString(f.src); err != nil {
				return nil, fmt.Errorf("corrupt entry amount %q: %w", f.src, err)
			}
		}
		if err := json.Unmarshal([]byte(metaJSON), &e.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
