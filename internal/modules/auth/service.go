package auth

import (
	"context"
	"errors"
	"log"
	"strings"

	"identity/internal/domain"
	"identity/internal/pkg/jwt"
	"identity/internal/pkg/password"
	"identity/internal/repository/tokenstore"

	"gorm.io/gorm"
)

// Service contains all business logic for authentication
type Service struct {
	users  UserRepository
	store  TokenStore
	tokens TokenIssuer
}

func NewService(users UserRepository, store TokenStore, tokens TokenIssuer) *Service {
	return &Service{
		users:  users,
		store:  store,
		tokens: tokens,
	}
}

func (s *Service) Register(ctx context.Context, in RegisterInput) (*domain.Profile, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, domain.ErrEmailAlreadyExists
	}

	hash, err := password.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	user := &domain.User{
		FullName:     strings.TrimSpace(in.FullName),
		DateOfBirth:  in.DateOfBirth,
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleUser,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, err
	}

	profile := user.Profile()
	return &profile, nil
}

// Login checks existence, then active status, then the password. A
// blocked account answers "blocked" even to a wrong password; absent
// user and password mismatch are indistinguishable to the caller.
func (s *Service) Login(ctx context.Context, email, plainPassword string) (*LoginResult, error) {
	user, err := s.users.GetByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	if !user.IsActive {
		return nil, domain.ErrAccountBlocked
	}

	if err := password.Verify(plainPassword, user.PasswordHash); err != nil {
		return nil, domain.ErrInvalidCredentials
	}

	pair, err := s.tokens.IssuePair(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	if err := s.store.Record(ctx, pair.RefreshTokenID, user.ID); err != nil {
		return nil, translateStoreError(err)
	}

	return &LoginResult{User: user.Profile(), Tokens: pair}, nil
}

// Refresh rotates a refresh token: the presented token is invalidated
// and a brand-new pair is issued. Every refresh token is single-use.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*jwt.TokenPair, error) {
	claims, err := s.tokens.Verify(refreshToken, jwt.TokenTypeRefresh)
	if err != nil {
		return nil, domain.ErrInvalidRefreshToken
	}

	owner, err := s.store.Owner(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, tokenstore.ErrTokenNotFound) {
			return nil, domain.ErrInvalidRefreshToken
		}
		// Fail closed: an unreachable store never validates a token.
		return nil, translateStoreError(err)
	}
	if owner != claims.UserID {
		s.revokeBestEffort(ctx, claims.TokenID)
		return nil, domain.ErrInvalidRefreshToken
	}

	user, err := s.users.GetByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.revokeBestEffort(ctx, claims.TokenID)
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	if !user.IsActive {
		s.revokeBestEffort(ctx, claims.TokenID)
		return nil, domain.ErrAccountBlocked
	}

	// Revoking the old entry may fail without aborting the rotation:
	// the exposure window is bounded by the entry's TTL.
	s.revokeBestEffort(ctx, claims.TokenID)

	pair, err := s.tokens.IssuePair(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	if err := s.store.Record(ctx, pair.RefreshTokenID, user.ID); err != nil {
		return nil, translateStoreError(err)
	}

	return pair, nil
}

// Logout revokes the refresh token if its id is recoverable. It never
// fails: an expired or tampered token must still log out cleanly.
func (s *Service) Logout(ctx context.Context, refreshToken string) {
	claims := s.tokens.DecodeUnverified(refreshToken)
	if claims == nil || claims.TokenID == "" {
		return
	}
	s.revokeBestEffort(ctx, claims.TokenID)
}

// LogoutAll revokes every live refresh token of the user.
func (s *Service) LogoutAll(ctx context.Context, userID int64) error {
	if err := s.store.RevokeAll(ctx, userID); err != nil {
		return translateStoreError(err)
	}
	return nil
}

func (s *Service) revokeBestEffort(ctx context.Context, tokenID string) {
	if err := s.store.Revoke(ctx, tokenID); err != nil {
		log.Printf("[AUTH] failed to revoke token %s: %v", tokenID, err)
	}
}

func translateStoreError(err error) error {
	if errors.Is(err, tokenstore.ErrStoreUnavailable) {
		return domain.ErrStoreUnavailable
	}
	return err
}
