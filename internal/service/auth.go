package service

import (
	"context"
	"log/slog"

	"github.com/mmynk/tontine/internal/auth"
	"github.com/mmynk/tontine/internal/fault"
	"github.com/mmynk/tontine/internal/models"
	"github.com/mmynk/tontine/internal/storage"
)

// Session is a logged-in user plus their token.
type Session struct {
	User   *models.User
	Wallet *models.Wallet
	Token  string
}

// Auth handles registration and login. Registration also provisions the
// user's wallet, so every authenticated caller has one.
type Auth struct {
	authenticator auth.Authenticator
	jwtManager    *auth.JWTManager
	store         storage.Store
	logger        *slog.Logger
}

// NewAuth creates a new authentication service.
func NewAuth(authenticator auth.Authenticator, jwtManager *auth.JWTManager, store storage.Store, logger *slog.Logger) *Auth {
	return &Auth{
		authenticator: authenticator,
		jwtManager:    jwtManager,
		store:         store,
		logger:        logger,
	}
}

// Register creates a new user account and its wallet.
func (s *Auth) Register(ctx context.Context, email, displayName, password string) (*Session, error) {
	s.logger.Info("register request", "email", email)

	if email == "" || displayName == "" {
		return nil, fault.New(fault.Validation, "email and display name are required")
	}

	user, err := s.authenticator.Register(ctx, email, displayName, password)
	if err != nil {
		s.logger.Error("registration failed", "email", email, "error", err)
		return nil, err
	}

	wallet := &models.Wallet{UserID: user.ID}
	if _, err := withRetry(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.CreateWallet(ctx, wallet)
	}); err != nil {
		s.logger.Error("wallet provisioning failed", "user_id", user.ID, "error", err)
		return nil, err
	}

	token, err := s.jwtManager.Generate(user)
	if err != nil {
		s.logger.Error("failed to generate token", "user_id", user.ID, "error", err)
		return nil, err
	}

	s.logger.Info("user registered", "user_id", user.ID, "wallet_id", wallet.ID)
	return &Session{User: user, Wallet: wallet, Token: token}, nil
}

// Login authenticates a user and returns a fresh token.
func (s *Auth) Login(ctx context.Context, email, password string) (*Session, error) {
	s.logger.Info("login request", "email", email)

	if email == "" || password == "" {
		return nil, fault.New(fault.Validation, "email and password are required")
	}

	user, err := s.authenticator.Authenticate(ctx, email, password)
	if err != nil {
		s.logger.Warn("login failed", "email", email)
		return nil, err
	}

	wallet, err := withRetry(ctx, func(ctx context.Context) (*models.Wallet, error) {
		return s.store.GetWalletByUser(ctx, user.ID)
	})
	if err != nil {
		return nil, err
	}

	token, err := s.jwtManager.Generate(user)
	if err != nil {
		s.logger.Error("failed to generate token", "user_id", user.ID, "error", err)
		return nil, err
	}

	s.logger.Info("user logged in", "user_id", user.ID)
	return &Session{User: user, Wallet: wallet, Token: token}, nil
}
