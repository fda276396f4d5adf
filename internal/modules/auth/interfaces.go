package auth

import (
	"context"

	"identity/internal/domain"
	"identity/internal/pkg/jwt"
)

// UserRepository is the durable credential store.
type UserRepository interface {
	Create(ctx context.Context, u *domain.User) error
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
}

// TokenStore is the fast revocation store tracking live refresh token ids.
type TokenStore interface {
	Record(ctx context.Context, tokenID string, userID int64) error
	Owner(ctx context.Context, tokenID string) (int64, error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeAll(ctx context.Context, userID int64) error
}

// TokenIssuer mints and verifies signed token pairs.
type TokenIssuer interface {
	IssuePair(userID int64, role string) (*jwt.TokenPair, error)
	Verify(token string, expected jwt.TokenType) (*jwt.Claims, error)
	DecodeUnverified(token string) *jwt.Claims
}
