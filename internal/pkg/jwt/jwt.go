package jwt

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

var (
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrTokenMalformed   = errors.New("malformed token")
	ErrWrongTokenType   = errors.New("wrong token type")
)

// Claims carried by both token kinds. TokenID is set on refresh tokens
// only; it is a fresh uuid on every issuance, so rotated tokens are not
// linkable to each other.
type Claims struct {
	UserID    int64     `json:"user_id"`
	Role      string    `json:"role"`
	TokenType TokenType `json:"token_type"`
	TokenID   string    `json:"token_id,omitempty"`
	jwtlib.RegisteredClaims
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`

	// RefreshTokenID identifies the refresh token in the revocation
	// store; it is never serialized to clients.
	RefreshTokenID string `json:"-"`
}

type Service struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func New(secret string, accessTTL, refreshTTL time.Duration) *Service {
	return &Service{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// IssuePair mints an access/refresh token pair for the user.
func (s *Service) IssuePair(userID int64, role string) (*TokenPair, error) {
	now := time.Now()

	access, err := s.sign(Claims{
		UserID:    userID,
		Role:      role,
		TokenType: TokenTypeAccess,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.accessTTL)),
		},
	})
	if err != nil {
		return nil, err
	}

	tokenID := uuid.NewString()
	refresh, err := s.sign(Claims{
		UserID:    userID,
		Role:      role,
		TokenType: TokenTypeRefresh,
		TokenID:   tokenID,
		RegisteredClaims: jwtlib.RegisteredClaims{
			IssuedAt:  jwtlib.NewNumericDate(now),
			ExpiresAt: jwtlib.NewNumericDate(now.Add(s.refreshTTL)),
		},
	})
	if err != nil {
		return nil, err
	}

	return &TokenPair{
		AccessToken:    access,
		RefreshToken:   refresh,
		RefreshTokenID: tokenID,
	}, nil
}

func (s *Service) sign(claims Claims) (string, error) {
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify checks the signature, expiry and token type. A refresh token
// presented where an access token is expected (or vice versa) fails
// with ErrWrongTokenType.
func (s *Service) Verify(tokenStr string, expected TokenType) (*Claims, error) {
	token, err := jwtlib.ParseWithClaims(tokenStr, &Claims{}, func(t *jwtlib.Token) (any, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, ErrInvalidSignature
		}
		return s.secret, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwtlib.ErrTokenExpired):
			return nil, ErrTokenExpired
		case errors.Is(err, jwtlib.ErrTokenSignatureInvalid):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrTokenMalformed
		}
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	if claims.TokenType != expected {
		return nil, ErrWrongTokenType
	}
	// A refresh token without an id cannot be tracked for revocation.
	if expected == TokenTypeRefresh && claims.TokenID == "" {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// DecodeUnverified extracts claims without checking signature or
// expiry. Used only for best-effort cleanup on logout, where an
// expired or tampered token must still be inspectable.
func (s *Service) DecodeUnverified(tokenStr string) *Claims {
	parser := jwtlib.NewParser()
	token, _, err := parser.ParseUnverified(tokenStr, &Claims{})
	if err != nil {
		return nil
	}
	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil
	}
	return claims
}
