package main

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/mmynk/tontine/internal/api"
	"github.com/mmynk/tontine/internal/auth"
	"github.com/mmynk/tontine/internal/ledger"
	"github.com/mmynk/tontine/internal/service"
	"github.com/mmynk/tontine/internal/storage/sqlite"
	"github.com/mmynk/tontine/pkg/logging"
)

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func main() {
	logging.Setup()

	addr := getEnv("ADDR", ":8080")
	dbPath := getEnv("DB_PATH", "./data/tontine.db")
	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}
	tokenTTL, err := time.ParseDuration(getEnv("TOKEN_TTL", "24h"))
	if err != nil {
		slog.Error("invalid TOKEN_TTL", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.New(dbPath)
	if err != nil {
		slog.Error("failed to initialize storage", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage initialized", "database", dbPath)

	logger := slog.Default()
	jwtManager := auth.NewJWTManager(jwtSecret, tokenTTL)
	engine := ledger.NewEngine(store, logger)

	handler := &api.Handler{
		Auth:       service.NewAuth(auth.NewPasswordAuthenticator(store), jwtManager, store, logger),
		Registry:   service.NewRegistry(store, logger),
		Membership: service.NewMembership(store, engine, logger),
		Wallets:    service.NewWallets(store, engine, logger),
		JWT:        jwtManager,
	}

	// h2c allows HTTP/2 without TLS for clients behind a terminating proxy.
	h2cHandler := h2c.NewHandler(api.Router(handler), &http2.Server{})

	slog.Info("server starting", "address", addr)
	if err := http.ListenAndServe(addr, h2cHandler); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}
