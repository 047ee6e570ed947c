package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/idgate/idgate/internal/config"
	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

type OTPService struct {
	store  OTPStore
	cfg    *config.OTPConfig
	cost   int
	now    func() time.Time
	logger *logrus.Logger
}

func NewOTPService(store OTPStore, cfg *config.OTPConfig, logger *logrus.Logger) *OTPService {
	return &OTPService{
		store:  store,
		cfg:    cfg,
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: logger,
	}
}

// Generate creates a fresh code for email and replaces any previous one.
func (s *OTPService) Generate(ctx context.Context, email string) (string, error) {
	otp, err := s.generateRandomOTP(s.cfg.Length)
	if err != nil {
		return "", fmt.Errorf("failed to generate OTP: %w", err)
	}

	// Only the hash is persisted.
	hashedOTP, err := bcrypt.GenerateFromPassword([]byte(otp), s.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash OTP: %w", err)
	}

	now := s.now()
	record := models.OTPRecord{
		Email:     email,
		CodeHash:  string(hashedOTP),
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.Expiry),
	}

	if err := s.store.Store(ctx, record); err != nil {
		s.logger.WithError(err).Error("Failed to store OTP")
		return "", fmt.Errorf("failed to store OTP: %w", err)
	}

	s.logger.WithField("email", email).Debug("OTP generated")
	return otp, nil
}

// Verify reports whether code is the current, unexpired OTP for email.
// The code must match byte for byte. A correct code does not consume the
// record; a wrong one counts against it, and once MaxAttempts wrong codes
// have been seen the record rejects everything until a new code is
// generated. Errors are infrastructure failures only.
func (s *OTPService) Verify(ctx context.Context, email, code string) (bool, error) {
	if code == "" {
		return false, nil
	}

	record, err := s.store.Get(ctx, email)
	if err != nil {
		s.logger.WithError(err).Error("Failed to get OTP")
		return false, fmt.Errorf("failed to get OTP: %w", err)
	}
	if record == nil {
		return false, nil
	}

	if s.now().After(record.ExpiresAt) {
		return false, nil
	}
	if record.Attempts >= s.maxAttempts() {
		return false, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(code)); err != nil {
		attempts, err := s.store.RecordFailure(ctx, email, record.CodeHash)
		if err != nil {
			s.logger.WithError(err).Error("Failed to record OTP failure")
			return false, fmt.Errorf("failed to record OTP failure: %w", err)
		}
		if attempts >= s.maxAttempts() {
			s.logger.WithField("email", email).Warn("OTP locked after too many wrong codes")
		}
		return false, nil
	}

	return true, nil
}

func (s *OTPService) maxAttempts() int {
	if s.cfg.MaxAttempts < 1 {
		return 5
	}
	return s.cfg.MaxAttempts
}

func (s *OTPService) Invalidate(ctx context.Context, email string) error {
	if err := s.store.Delete(ctx, email); err != nil {
		return fmt.Errorf("failed to delete OTP: %w", err)
	}
	return nil
}

func (s *OTPService) generateRandomOTP(length int) (string, error) {
	var b strings.Builder
	for i := 0; i < length; i++ {
		num, err := rand.Int(rand.Reader, big.NewInt(10))
		if err != nil {
			return "", err
		}
		b.WriteString(num.String())
	}
	return b.String(), nil
}
