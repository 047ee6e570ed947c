package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/idgate/idgate/internal/config"
	"github.com/idgate/idgate/internal/middleware"
	"github.com/idgate/idgate/internal/models"
	"github.com/idgate/idgate/internal/repository"
	"github.com/idgate/idgate/internal/service"
	"github.com/idgate/idgate/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 64)...)

type recordingNotifier struct {
	mu          sync.Mutex
	codes       map[string]string
	approved    []string
	disapproved []string
}

func (n *recordingNotifier) SendOTP(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[email] = code
	return nil
}

func (n *recordingNotifier) SendVerificationApproved(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.approved = append(n.approved, email)
	return nil
}

func (n *recordingNotifier) SendVerificationDisapproved(_ context.Context, email, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.disapproved = append(n.disapproved, email)
	return nil
}

type testServer struct {
	handler  http.Handler
	users    *repository.MemoryUserRepository
	notifier *recordingNotifier
	hasher   *service.BcryptHasher
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWithLimiter(t, 1000, 1000)
}

func newTestServerWithLimiter(t *testing.T, perMinute, burst int) *testServer {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	users := repository.NewMemoryUserRepository()
	documents := storage.NewMemoryStore()
	notifier := &recordingNotifier{codes: make(map[string]string)}
	hasher := service.NewBcryptHasher(bcrypt.MinCost)
	rules := service.Rules{PhoneRegion: "BD", MinPasswordLength: 6}

	jwtService, err := service.NewJWTService(&config.JWTConfig{
		SecretKey: strings.Repeat("s", 32),
		Expiry:    time.Hour,
	}, logger)
	require.NoError(t, err)

	otp := service.NewOTPService(repository.NewMemoryOTPStore(), &config.OTPConfig{Length: 6, Expiry: 5 * time.Minute, MaxAttempts: 5}, logger)
	authService := service.NewAuthService(users, hasher, jwtService, otp, notifier, documents, rules, time.Second, logger)
	adminService := service.NewAdminService(users, documents, notifier, time.Second, logger)
	profileService := service.NewProfileService(users, rules, logger)

	handler := NewRouter(
		NewAuthHandlers(authService, 1<<20, 5*time.Minute, logger),
		NewUserHandlers(adminService, profileService, authService, jwtService, logger),
		middleware.NewAuthMiddleware(jwtService, users, logger),
		middleware.NewIPRateLimiter(perMinute, burst, logger),
		[]string{"*"},
		logger,
	)

	return &testServer{handler: handler, users: users, notifier: notifier, hasher: hasher}
}

func (s *testServer) do(t *testing.T, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) register(t *testing.T, fields map[string]string, withDocuments bool) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if withDocuments {
		for _, field := range []string{"nid_front", "nid_back"} {
			part, err := mw.CreateFormFile(field, field+".png")
			require.NoError(t, err)
			_, err = part.Write(pngBytes)
			require.NoError(t, err)
		}
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/register", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) login(t *testing.T, id, password string) (*httptest.ResponseRecorder, LoginResponse) {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/auth/login", "", LoginRequest{EmailOrPhone: id, Password: password})
	var resp LoginResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	}
	return rec, resp
}

func (s *testServer) seedAdmin(t *testing.T) string {
	t.Helper()
	hash, err := s.hasher.Hash("adminpass")
	require.NoError(t, err)
	require.NoError(t, s.users.Create(context.Background(), &models.User{
		ID:           "admin-1",
		Name:         "Admin",
		Email:        "admin@example.com",
		Phone:        "+8801711999999",
		PasswordHash: hash,
		IsAdmin:      true,
		CreatedAt:    time.Now(),
	}))

	rec, resp := s.login(t, "admin@example.com", "adminpass")
	require.Equal(t, http.StatusOK, rec.Code)
	return resp.Token
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp.Error.Code
}

var aliceFields = map[string]string{
	"name":     "Alice",
	"email":    "alice@example.com",
	"phone":    "+8801711000001",
	"password": "secret1",
}

func TestRegistrationAndPasswordResetFlow(t *testing.T) {
	s := newTestServer(t)

	rec := s.register(t, aliceFields, true)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var registered RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	assert.Equal(t, "Registration successful! Please wait for admin verification.", registered.Message)
	assert.False(t, registered.User.IsVerified)
	assert.NotContains(t, rec.Body.String(), "password")

	rec = s.register(t, aliceFields, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec, session := s.login(t, "alice@example.com", "secret1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, session.IsVerified)
	assert.Equal(t, "Alice", session.Name)
	assert.Equal(t, "Bearer", session.TokenType)

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", session.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"email":"alice@example.com"`)
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, rec.Body.String(), "nid_front")

	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/request-reset", "", ResetRequest{Email: "nobody@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "USER_NOT_FOUND", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/auth/request-reset", "", ResetRequest{Email: "Alice@Example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/request-reset", "", ResetRequest{Email: "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "OTP sent to your email (valid for 5 minutes)")

	code := s.notifier.codes["alice@example.com"]
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", "", VerifyOTPRequest{Email: "alice@example.com", OTP: wrong})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "INVALID_OTP", errorCode(t, rec))

	rec = s.do(t, http.MethodPost, "/api/v1/auth/verify-otp", "", VerifyOTPRequest{Email: "alice@example.com", OTP: code})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", ResetPasswordRequest{
		Email: "alice@example.com", OTP: code, NewPassword: "newsecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.login(t, "alice@example.com", "secret1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	rec, _ = s.login(t, "+8801711000001", "newsecret")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", ResetPasswordRequest{
		Email: "alice@example.com", OTP: code, NewPassword: "again123",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRegisterRequiresDocuments(t *testing.T) {
	s := newTestServer(t)

	rec := s.register(t, aliceFields, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	users, err := s.users.FindAll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestResetPasswordIsRateLimited(t *testing.T) {
	s := newTestServerWithLimiter(t, 1, 3)
	require.Equal(t, http.StatusCreated, s.register(t, aliceFields, true).Code)

	guess := ResetPasswordRequest{Email: "alice@example.com", OTP: "000000", NewPassword: "newsecret"}
	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", guess)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	}

	rec := s.do(t, http.MethodPost, "/api/v1/auth/reset-password", "", guess)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "RATE_LIMITED", errorCode(t, rec))

	// Login is not behind the OTP limiter.
	rec, _ = s.login(t, "alice@example.com", "secret1")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAdminVerificationFlow(t *testing.T) {
	s := newTestServer(t)
	adminToken := s.seedAdmin(t)

	rec := s.register(t, aliceFields, true)
	require.Equal(t, http.StatusCreated, rec.Code)
	var registered RegisterResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &registered))
	aliceID := registered.User.ID

	_, alice := s.login(t, "alice@example.com", "secret1")

	rec = s.do(t, http.MethodGet, "/api/v1/users", alice.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodPatch, "/api/v1/users/"+aliceID+"/verify?approve=true", alice.Token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/users", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/users?verified=false", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pending []models.AdminUserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	require.Len(t, pending, 2)
	assert.Equal(t, aliceID, pending[1].ID)
	assert.Equal(t, "memory://users/"+aliceID+"/nid-front", pending[1].NIDFrontURL)

	rec = s.do(t, http.MethodGet, "/api/v1/users?verified=maybe", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/users/"+aliceID+"/verify?approve=yes-please", adminToken, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/users/missing/verify?approve=true", adminToken, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	for i := 0; i < 2; i++ {
		rec = s.do(t, http.MethodPatch, "/api/v1/users/"+aliceID+"/verify?approve=true", adminToken, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"is_verified":true`)
	}
	assert.Equal(t, []string{"alice@example.com"}, s.notifier.approved)

	rec = s.do(t, http.MethodGet, "/api/v1/users?verified=true", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var verified []models.AdminUserView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &verified))
	require.Len(t, verified, 1)
	assert.Equal(t, aliceID, verified[0].ID)

	rec = s.do(t, http.MethodPatch, "/api/v1/users/"+aliceID+"/verify?approve=false", adminToken, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"alice@example.com"}, s.notifier.disapproved)

	_, alice = s.login(t, "alice@example.com", "secret1")
	assert.False(t, alice.IsVerified)
}

func TestUpdateMeAndChangePassword(t *testing.T) {
	s := newTestServer(t)
	require.Equal(t, http.StatusCreated, s.register(t, aliceFields, true).Code)
	bob := map[string]string{"name": "Bob", "email": "bob@example.com", "phone": "+8801711000002", "password": "secret2"}
	require.Equal(t, http.StatusCreated, s.register(t, bob, true).Code)

	_, alice := s.login(t, "alice@example.com", "secret1")

	rec := s.do(t, http.MethodPatch, "/api/v1/users/me", alice.Token, models.ProfilePatch{Email: "bob@example.com"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/users/me", alice.Token, models.ProfilePatch{Name: "Alice B"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp UpdateProfileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Alice B", resp.User.Name)
	assert.Nil(t, resp.Session)

	rec = s.do(t, http.MethodPatch, "/api/v1/users/me", alice.Token, models.ProfilePatch{Email: "alice.b@example.com"})
	require.Equal(t, http.StatusOK, rec.Code)
	resp = UpdateProfileResponse{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Session)

	// The old token names an email that no longer exists.
	rec = s.do(t, http.MethodGet, "/api/v1/auth/me", alice.Token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	token := resp.Session.Token
	rec = s.do(t, http.MethodPost, "/api/v1/users/me/change-password", token, ChangePasswordRequest{
		CurrentPassword: "wrong", NewPassword: "newsecret",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/users/me/change-password", token, ChangePasswordRequest{
		CurrentPassword: "secret1", NewPassword: "newsecret",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	rec, _ = s.login(t, "alice.b@example.com", "newsecret")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "5 minutes", humanDuration(5*time.Minute))
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "45s", humanDuration(45*time.Second))
}
