package users

import (
	"context"

	"identity/internal/domain"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*domain.User, error)
	Update(ctx context.Context, u *domain.User) error
	List(ctx context.Context) ([]domain.User, error)
}

// SessionRevoker force-logs-out a user by revoking every live refresh
// token id in the revocation store.
type SessionRevoker interface {
	RevokeAll(ctx context.Context, userID int64) error
}
