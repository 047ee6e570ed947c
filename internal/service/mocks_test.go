package service

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/idgate/idgate/internal/config"
	"github.com/idgate/idgate/internal/models"
	"github.com/idgate/idgate/internal/repository"
	"github.com/idgate/idgate/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) SendOTP(ctx context.Context, email, code string) error {
	args := m.Called(ctx, email, code)
	return args.Error(0)
}

func (m *MockNotifier) SendVerificationApproved(ctx context.Context, email, name string) error {
	args := m.Called(ctx, email, name)
	return args.Error(0)
}

func (m *MockNotifier) SendVerificationDisapproved(ctx context.Context, email, name string) error {
	args := m.Called(ctx, email, name)
	return args.Error(0)
}

// codeCatcher records every OTP handed to it.
type codeCatcher struct {
	mu    sync.Mutex
	codes map[string][]string
	err   error
}

func (c *codeCatcher) SendOTP(_ context.Context, email, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.codes == nil {
		c.codes = make(map[string][]string)
	}
	c.codes[email] = append(c.codes[email], code)
	return c.err
}

func (c *codeCatcher) SendVerificationApproved(context.Context, string, string) error    { return nil }
func (c *codeCatcher) SendVerificationDisapproved(context.Context, string, string) error { return nil }

func (c *codeCatcher) last(email string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	codes := c.codes[email]
	if len(codes) == 0 {
		return ""
	}
	return codes[len(codes)-1]
}

// trackingDocuments remembers every key written through it.
type trackingDocuments struct {
	*storage.MemoryStore
	mu   sync.Mutex
	keys []string
}

func (d *trackingDocuments) Put(ctx context.Context, key, contentType string, body io.Reader) error {
	d.mu.Lock()
	d.keys = append(d.keys, key)
	d.mu.Unlock()
	return d.MemoryStore.Put(ctx, key, contentType, body)
}

// failingCreate is a user store whose Create always fails with err.
type failingCreate struct {
	*repository.MemoryUserRepository
	err error
}

func (s *failingCreate) Create(context.Context, *models.User) error { return s.err }

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

var testRules = Rules{PhoneRegion: "BD", MinPasswordLength: 6}

type authFixture struct {
	users     *repository.MemoryUserRepository
	otpStore  *repository.MemoryOTPStore
	documents *storage.MemoryStore
	notifier  *codeCatcher
	clock     *fakeClock
	tokens    *JWTService
	service   *AuthService
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	logger := testLogger()

	f := &authFixture{
		users:     repository.NewMemoryUserRepository(),
		otpStore:  repository.NewMemoryOTPStore(),
		documents: storage.NewMemoryStore(),
		notifier:  &codeCatcher{},
		clock:     &fakeClock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)},
	}

	tokens, err := NewJWTService(&config.JWTConfig{
		SecretKey: strings.Repeat("k", 32),
		Expiry:    time.Hour,
	}, logger)
	require.NoError(t, err)
	tokens.now = f.clock.Now
	f.tokens = tokens

	otp := NewOTPService(f.otpStore, &config.OTPConfig{Length: 6, Expiry: 5 * time.Minute, MaxAttempts: 5}, logger)
	otp.cost = bcrypt.MinCost
	otp.now = f.clock.Now

	f.service = NewAuthService(f.users, NewBcryptHasher(bcrypt.MinCost), tokens, otp,
		f.notifier, f.documents, testRules, time.Second, logger)
	f.service.now = f.clock.Now
	return f
}

func image(name string) *Document {
	return &Document{
		Filename:    name,
		ContentType: "image/png",
		Size:        4,
		Body:        strings.NewReader("\x89PNG"),
	}
}

func registerInput(name, email, phone string) RegisterInput {
	return RegisterInput{
		Name:     name,
		Email:    email,
		Phone:    phone,
		Password: "secret1",
		NIDFront: image("front.png"),
		NIDBack:  image("back.png"),
	}
}

func (f *authFixture) register(t *testing.T, name, email, phone string) *models.User {
	t.Helper()
	user, err := f.service.Register(context.Background(), registerInput(name, email, phone))
	require.NoError(t, err)
	return user
}
