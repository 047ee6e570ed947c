package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/idgate/idgate/internal/metrics"
	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

const invalidCredentials = "Invalid credentials"

type AuthService struct {
	users       UserStore
	hasher      PasswordHasher
	tokens      TokenIssuer
	otp         *OTPService
	notifier    Notifier
	documents   DocumentStore
	rules       Rules
	mailTimeout time.Duration
	now         func() time.Time
	logger      *logrus.Logger
}

func NewAuthService(
	users UserStore,
	hasher PasswordHasher,
	tokens TokenIssuer,
	otp *OTPService,
	notifier Notifier,
	documents DocumentStore,
	rules Rules,
	mailTimeout time.Duration,
	logger *logrus.Logger,
) *AuthService {
	return &AuthService{
		users:       users,
		hasher:      hasher,
		tokens:      tokens,
		otp:         otp,
		notifier:    notifier,
		documents:   documents,
		rules:       rules,
		mailTimeout: mailTimeout,
		now:         time.Now,
		logger:      logger,
	}
}

// LoginResult is what a client receives after a successful login.
type LoginResult struct {
	Session *models.Session
	User    *models.User
}

// Register creates an unverified, non-admin user. It does not log the user in.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	in.normalize()
	if err := in.validate(s.rules); err != nil {
		return nil, validationFailure(err)
	}

	if err := checkUnique(ctx, s.users, "", in.Email, in.Phone); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	user := &models.User{
		ID:        uuid.New().String(),
		Name:      in.Name,
		Email:     in.Email,
		Phone:     in.Phone,
		Photo:     in.Photo,
		CreatedAt: now,
		UpdatedAt: now,
	}
	user.NIDFrontKey = documentKey(user.ID, "nid-front")
	user.NIDBackKey = documentKey(user.ID, "nid-back")

	if err := s.documents.Put(ctx, user.NIDFrontKey, in.NIDFront.ContentType, in.NIDFront.Body); err != nil {
		return nil, fmt.Errorf("failed to store front document: %w", err)
	}
	if err := s.documents.Put(ctx, user.NIDBackKey, in.NIDBack.ContentType, in.NIDBack.Body); err != nil {
		s.discardDocuments(ctx, user.NIDFrontKey)
		return nil, fmt.Errorf("failed to store back document: %w", err)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		s.discardDocuments(ctx, user.NIDFrontKey, user.NIDBackKey)
		return nil, err
	}
	user.PasswordHash = hash

	if err := s.users.Create(ctx, user); err != nil {
		s.discardDocuments(ctx, user.NIDFrontKey, user.NIDBackKey)
		return nil, uniquenessFailure(err)
	}

	s.logger.WithFields(logrus.Fields{
		"user_id": user.ID,
		"email":   user.Email,
	}).Info("User registered")

	return user, nil
}

// discardDocuments removes uploads that belong to a registration that did
// not complete. It still runs when ctx has been canceled.
func (s *AuthService) discardDocuments(ctx context.Context, keys ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, key := range keys {
		if err := s.documents.Delete(ctx, key); err != nil {
			s.logger.WithError(err).WithField("key", key).Warn("Failed to remove orphaned document")
		}
	}
}

// Authenticate looks the identifier up as an email first, then as a phone
// number. Verification status does not gate login.
func (s *AuthService) Authenticate(ctx context.Context, emailOrPhone, password string) (*models.User, error) {
	identifier := strings.TrimSpace(emailOrPhone)
	if identifier == "" || password == "" {
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, AuthError(invalidCredentials)
	}

	user, err := s.users.FindByEmail(ctx, identifier)
	if err != nil {
		return nil, fmt.Errorf("failed to look up user by email: %w", err)
	}
	if user == nil {
		user, err = s.users.FindByPhone(ctx, identifier)
		if err != nil {
			return nil, fmt.Errorf("failed to look up user by phone: %w", err)
		}
	}
	if user == nil {
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, AuthError(invalidCredentials)
	}

	ok, err := s.hasher.Verify(user.PasswordHash, password)
	if err != nil {
		return nil, err
	}
	if !ok {
		metrics.LoginAttempts.WithLabelValues("rejected").Inc()
		return nil, AuthError(invalidCredentials)
	}

	metrics.LoginAttempts.WithLabelValues("success").Inc()
	return user, nil
}

func (s *AuthService) Login(ctx context.Context, emailOrPhone, password string) (*LoginResult, error) {
	user, err := s.Authenticate(ctx, emailOrPhone, password)
	if err != nil {
		return nil, err
	}

	session, err := s.tokens.Issue(user.Email)
	if err != nil {
		return nil, err
	}

	return &LoginResult{Session: session, User: user}, nil
}

// GenerateAndSendOTP issues a reset code for email and mails it. Delivery
// failure is returned to the caller.
func (s *AuthService) GenerateAndSendOTP(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user by email: %w", err)
	}
	if user == nil {
		metrics.OTPRequests.WithLabelValues("unknown_email").Inc()
		return NotFoundError("No user found with that email")
	}

	code, err := s.otp.Generate(ctx, user.Email)
	if err != nil {
		return err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()

	if err := s.notifier.SendOTP(sendCtx, user.Email, code); err != nil {
		s.logger.WithError(err).WithField("email", user.Email).Error("Failed to deliver OTP")
		metrics.OTPRequests.WithLabelValues("delivery_failed").Inc()
		return DeliveryError(err)
	}

	metrics.OTPRequests.WithLabelValues("sent").Inc()
	return nil
}

// VerifyOTP checks a code without consuming it.
func (s *AuthService) VerifyOTP(ctx context.Context, email, code string) (bool, error) {
	return s.otp.Verify(ctx, strings.TrimSpace(email), code)
}

// ResetPasswordWithOTP sets a new password when code is valid and then
// invalidates the code.
func (s *AuthService) ResetPasswordWithOTP(ctx context.Context, email, code, newPassword string) error {
	email = strings.TrimSpace(email)

	valid, err := s.otp.Verify(ctx, email, code)
	if err != nil {
		return err
	}
	if !valid {
		return ValidationError("Invalid or expired OTP")
	}

	if err := validatePassword(newPassword, s.rules); err != nil {
		return validationFailure(err)
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		return fmt.Errorf("failed to look up user by email: %w", err)
	}
	if user == nil {
		return NotFoundError("No user found with that email")
	}

	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	if err := s.otp.Invalidate(ctx, email); err != nil {
		s.logger.WithError(err).WithField("email", email).Error("Failed to invalidate OTP after reset")
		return err
	}

	s.logger.WithField("user_id", user.ID).Info("Password reset with OTP")
	return nil
}

// ChangePassword replaces the password of an authenticated user.
func (s *AuthService) ChangePassword(ctx context.Context, user *models.User, currentPassword, newPassword string) error {
	ok, err := s.hasher.Verify(user.PasswordHash, currentPassword)
	if err != nil {
		return err
	}
	if !ok {
		return AuthError("Current password is incorrect")
	}

	if err := validatePassword(newPassword, s.rules); err != nil {
		return validationFailure(err)
	}

	if err := s.setPassword(ctx, user, newPassword); err != nil {
		return err
	}

	s.logger.WithField("user_id", user.ID).Info("Password changed")
	return nil
}

func (s *AuthService) setPassword(ctx context.Context, user *models.User, password string) error {
	hash, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}

	updatedAt := s.now().UTC()
	if err := s.users.SetPassword(ctx, user.ID, hash, updatedAt); err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return NotFoundError("User not found")
		}
		return fmt.Errorf("failed to update password: %w", err)
	}
	user.PasswordHash = hash
	user.UpdatedAt = updatedAt
	return nil
}

// checkUnique fails when email or phone belongs to a user other than selfID.
func checkUnique(ctx context.Context, users UserStore, selfID, email, phone string) error {
	if email != "" {
		existing, err := users.FindByEmail(ctx, email)
		if err != nil {
			return fmt.Errorf("failed to look up user by email: %w", err)
		}
		if existing != nil && existing.ID != selfID {
			return ValidationError("Email already registered")
		}
	}

	if phone != "" {
		existing, err := users.FindByPhone(ctx, phone)
		if err != nil {
			return fmt.Errorf("failed to look up user by phone: %w", err)
		}
		if existing != nil && existing.ID != selfID {
			return ValidationError("Phone already registered")
		}
	}

	return nil
}

// uniquenessFailure maps constraint violations reported by the store.
func uniquenessFailure(err error) error {
	switch {
	case errors.Is(err, models.ErrDuplicateEmail):
		return ValidationError("Email already registered")
	case errors.Is(err, models.ErrDuplicatePhone):
		return ValidationError("Phone already registered")
	case errors.Is(err, models.ErrUserNotFound):
		return NotFoundError("User not found")
	default:
		return fmt.Errorf("failed to save user: %w", err)
	}
}

func documentKey(userID, name string) string {
	return fmt.Sprintf("users/%s/%s", userID, name)
}
