package service

import (
	"context"
	"io"
	"time"

	"github.com/idgate/idgate/internal/models"
)

// UserStore persists user records. Lookups return (nil, nil) when no user
// matches.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByPhone(ctx context.Context, phone string) (*models.User, error)
	FindAll(ctx context.Context) ([]models.User, error)
	Create(ctx context.Context, user *models.User) error
	// UpdateProfile applies the non-empty fields of patch to the stored
	// record and returns the result. Fields outside the patch keep their
	// stored values.
	UpdateProfile(ctx context.Context, id string, patch models.ProfilePatch, updatedAt time.Time) (*models.User, error)
	SetPassword(ctx context.Context, id, passwordHash string, updatedAt time.Time) error
	SetAdmin(ctx context.Context, id string, admin bool) error
	// SetVerified writes the verification flag and returns the value it
	// replaced, as one atomic step.
	SetVerified(ctx context.Context, id string, verified bool) (prior bool, err error)
}

// OTPStore keeps at most one OTP record per email. Get returns (nil, nil)
// when there is none.
type OTPStore interface {
	Store(ctx context.Context, record models.OTPRecord) error
	Get(ctx context.Context, email string) (*models.OTPRecord, error)
	Delete(ctx context.Context, email string) error
	// RecordFailure atomically bumps Attempts on the record for email if it
	// still carries codeHash, and returns the new count. It returns 0 when
	// the record is gone or has been replaced by a newer code.
	RecordFailure(ctx context.Context, email, codeHash string) (int, error)
}

type Notifier interface {
	SendOTP(ctx context.Context, email, code string) error
	SendVerificationApproved(ctx context.Context, email, name string) error
	SendVerificationDisapproved(ctx context.Context, email, name string) error
}

type DocumentStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Delete(ctx context.Context, key string) error
	URL(ctx context.Context, key string) (string, error)
}

type TokenIssuer interface {
	Issue(email string) (*models.Session, error)
}
