package service

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/idgate/idgate/internal/config"
	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

type JWTService struct {
	secretKey []byte
	expiry    time.Duration
	now       func() time.Time
	logger    *logrus.Logger
}

func NewJWTService(cfg *config.JWTConfig, logger *logrus.Logger) (*JWTService, error) {
	secretKey := []byte(cfg.SecretKey)
	if len(secretKey) < 32 {
		return nil, fmt.Errorf("secret key must be at least 32 bytes")
	}

	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}

	return &JWTService{
		secretKey: secretKey,
		expiry:    expiry,
		now:       time.Now,
		logger:    logger,
	}, nil
}

type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Issue signs a session token bound to email.
func (s *JWTService) Issue(email string) (*models.Session, error) {
	now := s.now()
	claims := &Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.expiry)),
			ID:        uuid.New().String(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secretKey)
	if err != nil {
		s.logger.WithError(err).Error("Failed to sign session token")
		return nil, fmt.Errorf("failed to sign session token: %w", err)
	}

	return &models.Session{
		Token:     signed,
		TokenType: "Bearer",
		ExpiresIn: int64(s.expiry.Seconds()),
	}, nil
}

// Validate checks signature and expiry and returns the embedded email.
func (s *JWTService) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secretKey, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())

	if err != nil {
		return "", TokenError(fmt.Errorf("failed to parse token: %w", err))
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Email == "" {
		return "", TokenError(fmt.Errorf("invalid token"))
	}

	return claims.Email, nil
}
