package users

import (
	"context"
	"errors"
	"log"

	"identity/internal/domain"

	"gorm.io/gorm"
)

// Service contains read and administration logic for user accounts.
type Service struct {
	users    UserRepository
	sessions SessionRevoker
}

func NewService(users UserRepository, sessions SessionRevoker) *Service {
	return &Service{
		users:    users,
		sessions: sessions,
	}
}

func (s *Service) GetByID(ctx context.Context, id int64) (*domain.Profile, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}
	profile := user.Profile()
	return &profile, nil
}

func (s *Service) List(ctx context.Context) ([]domain.Profile, error) {
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	profiles := make([]domain.Profile, 0, len(users))
	for i := range users {
		profiles = append(profiles, users[i].Profile())
	}
	return profiles, nil
}

// Block deactivates the account and force-logs-out every device. There
// is no unblock: isActive never transitions back to true. Blocking an
// already-blocked user is a no-op on state but still revokes tokens.
func (s *Service) Block(ctx context.Context, id int64) (*domain.Profile, error) {
	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrUserNotFound
		}
		return nil, err
	}

	user.IsActive = false
	if err := s.users.Update(ctx, user); err != nil {
		return nil, err
	}

	// The inactive flag alone already stops future refreshes; a failed
	// revocation only delays cleanup until the entries' TTL.
	if err := s.sessions.RevokeAll(ctx, user.ID); err != nil {
		log.Printf("[USERS] failed to revoke sessions of blocked user %d: %v", user.ID, err)
	}

	profile := user.Profile()
	return &profile, nil
}
