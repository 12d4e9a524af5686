package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mmynk/tontine/internal/auth"
	"github.com/mmynk/tontine/internal/ledger"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage/sqlite"
)

// testEnv wires the full service stack over a temp-file sqlite store.
type testEnv struct {
	store      *sqlite.SQLiteStore
	engine     *ledger.Engine
	auth       *Auth
	registry   *Registry
	membership *Membership
	wallets    *Wallets
}

func setup(t *testing.T) (*testEnv, func()) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "service-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpFile.Close()

	store, err := sqlite.New(tmpFile.Name())
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("failed to create store: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	engine := ledger.NewEngine(store, logger)
	jwtManager := auth.NewJWTManager("test-secret-test-secret-32-bytes", time.Hour)

	env := &testEnv{
		store:      store,
		engine:     engine,
		auth:       NewAuth(auth.NewPasswordAuthenticator(store), jwtManager, store, logger),
		registry:   NewRegistry(store, logger),
		membership: NewMembership(store, engine, logger),
		wallets:    NewWallets(store, engine, logger),
	}
	cleanup := func() {
		store.Close()
		os.Remove(tmpFile.Name())
	}
	return env, cleanup
}

// newUser registers a user and funds their wallet with the given available
// amount via an admin adjustment.
func (env *testEnv) newUser(t *testing.T, name, available string) *Session {
	t.Helper()
	session, err := env.auth.Register(context.Background(),
		fmt.Sprintf("%s@example.com", name), name, "password123")
	if err != nil {
		t.Fatalf("register %s failed: %v", name, err)
	}
	if available != "" && available != "0" {
		if _, err := env.engine.Append(context.Background(), ledger.Draft{
			UserID:   session.User.ID,
			WalletID: session.Wallet.ID,
			Type:     models.EntryAdminAdjustment,
			Amount:   decimal.RequireFromString(available),
			Metadata: map[string]string{"reason": "test funding", "admin_id": "admin-test"},
		}); err != nil {
			t.Fatalf("funding %s failed: %v", name, err)
		}
	}
	return session
}

func (env *testEnv) newGroup(t *testing.T, creatorID string, spec GroupSpec) *models.Group {
	t.Helper()
	group, err := env.registry.Create(context.Background(), creatorID, spec)
	if err != nil {
		t.Fatalf("create group failed: %v", err)
	}
	return group
}

func basicSpec(maxMembers int, rule models.PayoutRule) GroupSpec {
	return GroupSpec{
		Name:               "Ajo Circle",
		Purpose:            "monthly savings",
		ContributionAmount: decimal.RequireFromString("50.00"),
		Frequency:          models.FrequencyMonthly,
		MaxMembers:         maxMembers,
		PayoutRule:         rule,
	}
}
