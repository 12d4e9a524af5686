package sqlite

import "database/sql"

// migrations contains the SQL statements to set up the database schema.
// These run on startup to ensure tables exist.
//
// Monetary columns are TEXT holding decimal strings; the store converts at
// the boundary so arithmetic never touches floats. The triggers on
// ledger_entries are a backstop: the Store interface exposes no update or
// delete for entries, so only a bug in this package could ever trip them.
const schema = `
CREATE TABLE IF NOT EXISTS users (
    id TEXT PRIMARY KEY,
    email TEXT NOT NULL UNIQUE,
    display_name TEXT NOT NULL,
    password_hash TEXT NOT NULL,
    role TEXT NOT NULL DEFAULT 'member',
    created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS groups (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    purpose TEXT NOT NULL DEFAULT '',
    contribution_amount TEXT NOT NULL,
    frequency TEXT NOT NULL,
    max_members INTEGER NOT NULL,
    member_count INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    join_code TEXT NOT NULL UNIQUE,
    payout_rule TEXT NOT NULL,
    lock_contributions INTEGER NOT NULL DEFAULT 0,
    creator_id TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    filled_at INTEGER,
    CHECK (member_count <= max_members)
);

CREATE TABLE IF NOT EXISTS group_members (
    group_id TEXT NOT NULL,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    email TEXT NOT NULL,
    joined_at INTEGER NOT NULL,
    total_contributed TEXT NOT NULL DEFAULT '0',
    payout_position INTEGER NOT NULL,
    PRIMARY KEY (group_id, user_id),
    FOREIGN KEY (group_id) REFERENCES groups(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS wallets (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL UNIQUE,
    balance TEXT NOT NULL DEFAULT '0',
    available TEXT NOT NULL DEFAULT '0',
    locked TEXT NOT NULL DEFAULT '0',
    escrow TEXT NOT NULL DEFAULT '0',
    status TEXT NOT NULL DEFAULT 'active',
    freeze_reason TEXT NOT NULL DEFAULT '',
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    FOREIGN KEY (user_id) REFERENCES users(id)
);

CREATE TABLE IF NOT EXISTS ledger_entries (
    id TEXT PRIMARY KEY,
    seq INTEGER NOT NULL,
    user_id TEXT NOT NULL,
    wallet_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount TEXT NOT NULL,
    group_id TEXT NOT NULL DEFAULT '',
    round INTEGER NOT NULL DEFAULT 0,
    balance_before TEXT NOT NULL,
    balance_after TEXT NOT NULL,
    escrow_before TEXT NOT NULL,
    escrow_after TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    settlement_ref TEXT NOT NULL DEFAULT '',
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at INTEGER NOT NULL,
    UNIQUE (wallet_id, seq),
    FOREIGN KEY (wallet_id) REFERENCES wallets(id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user_id ON group_members(user_id);
CREATE INDEX IF NOT EXISTS idx_ledger_entries_wallet_id ON ledger_entries(wallet_id);
CREATE INDEX IF NOT EXISTS idx_groups_creator_id ON groups(creator_id);

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_update
BEFORE UPDATE ON ledger_entries
BEGIN
    SELECT RAISE(ABORT, 'ledger entries are immutable');
END;

CREATE TRIGGER IF NOT EXISTS ledger_entries_no_delete
BEFORE DELETE ON ledger_entries
BEGIN
    SELECT RAISE(ABORT, 'ledger entries are immutable');
END;
`

// runMigrations executes the schema setup.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}
