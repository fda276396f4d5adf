package auth

import (
	"time"

	"identity/internal/domain"
	"identity/internal/pkg/jwt"
)

type RegisterRequest struct {
	FullName    string `json:"full_name" validate:"required,min=2,max=100"`
	DateOfBirth string `json:"date_of_birth" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Password    string `json:"password" validate:"required,min=8"`
}

// RegisterInput is the service-level input with the birth date already
// normalized by the validation stage.
type RegisterInput struct {
	FullName    string
	DateOfBirth time.Time
	Email       string
	Password    string
}

type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

type LogoutRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type LoginResult struct {
	User   domain.Profile `json:"user"`
	Tokens *jwt.TokenPair `json:"tokens"`
}
