package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"identity/internal/database"
	"identity/internal/middleware"
	"identity/internal/modules/auth"
	"identity/internal/modules/users"
	jwtsvc "identity/internal/pkg/jwt"
	"identity/internal/repository"
	"identity/internal/repository/tokenstore"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type TestResponse struct {
	Success bool                   `json:"success"`
	Data    map[string]interface{} `json:"data,omitempty"`
	Error   *ErrorDetail           `json:"error,omitempty"`
}

type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// memoryTokenStore mirrors the Redis store's dual structure for tests:
// a primary tokenID -> owner map and a per-user index of live ids.
type memoryTokenStore struct {
	mu          sync.Mutex
	owners      map[string]int64
	index       map[int64]map[string]struct{}
	unavailable bool
}

func newMemoryTokenStore() *memoryTokenStore {
	return &memoryTokenStore{
		owners: make(map[string]int64),
		index:  make(map[int64]map[string]struct{}),
	}
}

func (s *memoryTokenStore) Record(_ context.Context, tokenID string, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return tokenstore.ErrStoreUnavailable
	}
	s.owners[tokenID] = userID
	if s.index[userID] == nil {
		s.index[userID] = make(map[string]struct{})
	}
	s.index[userID][tokenID] = struct{}{}
	return nil
}

func (s *memoryTokenStore) Owner(_ context.Context, tokenID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return 0, tokenstore.ErrStoreUnavailable
	}
	owner, ok := s.owners[tokenID]
	if !ok {
		return 0, tokenstore.ErrTokenNotFound
	}
	return owner, nil
}

func (s *memoryTokenStore) Revoke(_ context.Context, tokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return tokenstore.ErrStoreUnavailable
	}
	if owner, ok := s.owners[tokenID]; ok {
		delete(s.owners, tokenID)
		delete(s.index[owner], tokenID)
	}
	return nil
}

func (s *memoryTokenStore) RevokeAll(_ context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.unavailable {
		return tokenstore.ErrStoreUnavailable
	}
	for tokenID := range s.index[userID] {
		delete(s.owners, tokenID)
	}
	delete(s.index, userID)
	return nil
}

type suite struct {
	router *gin.Engine
	db     *gorm.DB
	store  *memoryTokenStore
}

func setupSuite(t *testing.T) *suite {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.Connect(":memory:")
	require.NoError(t, err, "Failed to connect to test database")
	require.NoError(t, repository.AutoMigrate(db))

	store := newMemoryTokenStore()
	issuer := jwtsvc.New("e2e-test-secret", 15*time.Minute, 7*24*time.Hour)

	userRepo := repository.NewUserRepository(db)
	authHandler := auth.NewHandler(auth.NewService(userRepo, store, issuer))
	usersHandler := users.NewHandler(users.NewService(userRepo, store))

	router := gin.New()
	v1 := router.Group("/api/v1")
	{
		authHandler.RegisterPublicRoutes(v1)

		protected := v1.Group("/")
		protected.Use(middleware.Authenticate(issuer))
		{
			authHandler.RegisterProtectedRoutes(protected)
			usersHandler.RegisterRoutes(protected)
		}
	}

	return &suite{router: router, db: db, store: store}
}

func (s *suite) do(t *testing.T, method, path string, body any, token string) (*httptest.ResponseRecorder, TestResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp TestResponse
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	}
	return w, resp
}

func (s *suite) register(t *testing.T, email string) {
	t.Helper()
	w, resp := s.do(t, "POST", "/api/v1/auth/register", gin.H{
		"full_name":     "Test User",
		"date_of_birth": "1990-05-17",
		"email":         email,
		"password":      "rightpw-123",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code, "register %s: %s", email, w.Body.String())
	require.True(t, resp.Success)
}

type tokens struct {
	access  string
	refresh string
}

func (s *suite) login(t *testing.T, email, password string) tokens {
	t.Helper()
	w, resp := s.do(t, "POST", "/api/v1/auth/login", gin.H{
		"email": email, "password": password,
	}, "")
	require.Equal(t, http.StatusOK, w.Code, "login %s: %s", email, w.Body.String())

	tok := resp.Data["tokens"].(map[string]interface{})
	return tokens{
		access:  tok["access_token"].(string),
		refresh: tok["refresh_token"].(string),
	}
}

func (s *suite) makeAdmin(t *testing.T, email string) {
	t.Helper()
	require.NoError(t, s.db.Table("users").Where("email = ?", email).Update("role", "admin").Error)
}

func (s *suite) userID(t *testing.T, email string) int64 {
	t.Helper()
	var id int64
	require.NoError(t, s.db.Table("users").Where("email = ?", email).Select("id").Scan(&id).Error)
	return id
}

func TestRegister_ProjectionAndConflict(t *testing.T) {
	s := setupSuite(t)

	w, resp := s.do(t, "POST", "/api/v1/auth/register", gin.H{
		"full_name":     "Alice Example",
		"date_of_birth": "17.05.1990",
		"email":         "a@x.com",
		"password":      "rightpw-123",
	}, "")
	require.Equal(t, http.StatusCreated, w.Code)

	user := resp.Data["user"].(map[string]interface{})
	assert.Equal(t, "a@x.com", user["email"])
	assert.Equal(t, "user", user["role"])
	assert.Equal(t, true, user["is_active"])
	assert.Equal(t, "1990-05-17", user["date_of_birth"])
	assert.NotContains(t, w.Body.String(), "password")
	assert.NotContains(t, w.Body.String(), "hash")

	// Same email in a different letter case conflicts.
	w, resp = s.do(t, "POST", "/api/v1/auth/register", gin.H{
		"full_name":     "Alice Again",
		"date_of_birth": "1990-05-17",
		"email":         "A@X.COM",
		"password":      "rightpw-123",
	}, "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "EMAIL_EXISTS", resp.Error.Code)
}

func TestRegister_Validation(t *testing.T) {
	s := setupSuite(t)

	cases := []struct {
		name string
		body gin.H
	}{
		{"short password", gin.H{"full_name": "A B", "date_of_birth": "1990-05-17", "email": "a@x.com", "password": "short"}},
		{"bad email", gin.H{"full_name": "A B", "date_of_birth": "1990-05-17", "email": "nope", "password": "rightpw-123"}},
		{"future birth date", gin.H{"full_name": "A B", "date_of_birth": "2099-01-01", "email": "a@x.com", "password": "rightpw-123"}},
		{"garbled birth date", gin.H{"full_name": "A B", "date_of_birth": "someday", "email": "a@x.com", "password": "rightpw-123"}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w, resp := s.do(t, "POST", "/api/v1/auth/register", tc.body, "")
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "VALIDATION_ERROR", resp.Error.Code)
		})
	}
}

func TestLogin_Lifecycle(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "a@x.com")

	// Right password works.
	tok := s.login(t, "a@x.com", "rightpw-123")
	require.NotEmpty(t, tok.access)
	require.NotEmpty(t, tok.refresh)

	// Wrong password and unknown user answer identically.
	w, resp := s.do(t, "POST", "/api/v1/auth/login", gin.H{"email": "a@x.com", "password": "wrongpw"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", resp.Error.Message)

	w, resp = s.do(t, "POST", "/api/v1/auth/login", gin.H{"email": "ghost@x.com", "password": "wrongpw"}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Invalid credentials", resp.Error.Message)

	// Block self, then even the right password is rejected as blocked.
	id := s.userID(t, "a@x.com")
	w, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/users/%d/block", id), nil, tok.access)
	require.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, "POST", "/api/v1/auth/login", gin.H{"email": "a@x.com", "password": "rightpw-123"}, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "Account is blocked", resp.Error.Message)
}

func TestRefresh_RotationIsSingleUse(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "a@x.com")
	tok := s.login(t, "a@x.com", "rightpw-123")

	// First refresh succeeds and returns a new pair.
	w, resp := s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": tok.refresh}, "")
	require.Equal(t, http.StatusOK, w.Code)
	fresh := resp.Data["tokens"].(map[string]interface{})
	assert.NotEqual(t, tok.refresh, fresh["refresh_token"])

	// The consumed token is dead.
	w, resp = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": tok.refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "INVALID_REFRESH_TOKEN", resp.Error.Code)

	// The replacement still works.
	w, _ = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": fresh["refresh_token"].(string)}, "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestRefresh_FailsClosedWhenStoreDown(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "a@x.com")
	tok := s.login(t, "a@x.com", "rightpw-123")

	s.store.unavailable = true

	w, resp := s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": tok.refresh}, "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, "SERVICE_UNAVAILABLE", resp.Error.Code)
}

func TestBlock_InvalidatesRefreshButNotLiveAccess(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "a@x.com")
	tok := s.login(t, "a@x.com", "rightpw-123")
	id := s.userID(t, "a@x.com")

	w, resp := s.do(t, "POST", fmt.Sprintf("/api/v1/users/%d/block", id), nil, tok.access)
	require.Equal(t, http.StatusOK, w.Code)
	blocked := resp.Data["user"].(map[string]interface{})
	assert.Equal(t, false, blocked["is_active"])

	// Refresh is dead immediately.
	w, _ = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": tok.refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The already-issued access token still authenticates until expiry.
	w, _ = s.do(t, "GET", "/api/v1/users/me", nil, tok.access)
	assert.Equal(t, http.StatusOK, w.Code)

	// Blocking again is a no-op on state but still succeeds.
	w, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/users/%d/block", id), nil, tok.access)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestLogoutAll_TwoDevices(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "a@x.com")

	device1 := s.login(t, "a@x.com", "rightpw-123")
	device2 := s.login(t, "a@x.com", "rightpw-123")

	w, _ := s.do(t, "POST", "/api/v1/auth/logout-all", nil, device1.access)
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": device1.refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": device2.refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogout_SingleDeviceAndIdempotence(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "a@x.com")

	device1 := s.login(t, "a@x.com", "rightpw-123")
	device2 := s.login(t, "a@x.com", "rightpw-123")

	w, _ := s.do(t, "POST", "/api/v1/auth/logout", gin.H{"refresh_token": device1.refresh}, "device1-ignored")
	assert.Equal(t, http.StatusUnauthorized, w.Code, "logout still requires authentication")

	w, _ = s.do(t, "POST", "/api/v1/auth/logout", gin.H{"refresh_token": device1.refresh}, device1.access)
	require.Equal(t, http.StatusOK, w.Code)

	// Only device1's refresh token died.
	w, _ = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": device1.refresh}, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w, _ = s.do(t, "POST", "/api/v1/auth/refresh", gin.H{"refresh_token": device2.refresh}, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// Garbage and repeated logouts succeed anyway.
	for _, token := range []string{device1.refresh, "garbage", ""} {
		w, _ = s.do(t, "POST", "/api/v1/auth/logout", gin.H{"refresh_token": token}, device2.access)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestUsers_AccessRules(t *testing.T) {
	s := setupSuite(t)
	s.register(t, "admin@x.com")
	s.register(t, "user@x.com")
	s.makeAdmin(t, "admin@x.com")

	admin := s.login(t, "admin@x.com", "rightpw-123")
	user := s.login(t, "user@x.com", "rightpw-123")
	adminID := s.userID(t, "admin@x.com")
	userID := s.userID(t, "user@x.com")

	// Listing is admin only.
	w, resp := s.do(t, "GET", "/api/v1/users", nil, admin.access)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, resp.Data["users"], 2)

	w, _ = s.do(t, "GET", "/api/v1/users", nil, user.access)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, "GET", "/api/v1/users", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// Get by id: self ok, other forbidden, admin anywhere, absent 404.
	w, _ = s.do(t, "GET", fmt.Sprintf("/api/v1/users/%d", userID), nil, user.access)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, "GET", fmt.Sprintf("/api/v1/users/%d", adminID), nil, user.access)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = s.do(t, "GET", fmt.Sprintf("/api/v1/users/%d", userID), nil, admin.access)
	assert.Equal(t, http.StatusOK, w.Code)

	w, resp = s.do(t, "GET", "/api/v1/users/99999", nil, admin.access)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "USER_NOT_FOUND", resp.Error.Code)

	// Admin can block another user.
	w, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/users/%d/block", userID), nil, admin.access)
	assert.Equal(t, http.StatusOK, w.Code)

	// A user cannot block someone else.
	w, _ = s.do(t, "POST", fmt.Sprintf("/api/v1/users/%d/block", adminID), nil, user.access)
	assert.Equal(t, http.StatusForbidden, w.Code)
}
