package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/idgate/idgate/internal/metrics"
	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

type VerificationFilter string

const (
	FilterAll        VerificationFilter = "all"
	FilterVerified   VerificationFilter = "verified"
	FilterUnverified VerificationFilter = "unverified"
)

// ParseVerificationFilter accepts the query forms all|true|false as well as
// the filter names themselves. An empty value means all.
func ParseVerificationFilter(value string) (VerificationFilter, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "all":
		return FilterAll, nil
	case "true", "verified":
		return FilterVerified, nil
	case "false", "unverified":
		return FilterUnverified, nil
	default:
		return "", ValidationError(fmt.Sprintf("Invalid verification filter %q", value))
	}
}

func (f VerificationFilter) matches(user *models.User) bool {
	switch f {
	case FilterVerified:
		return user.IsVerified
	case FilterUnverified:
		return !user.IsVerified
	default:
		return true
	}
}

type AdminService struct {
	users       UserStore
	documents   DocumentStore
	notifier    Notifier
	mailTimeout time.Duration
	logger      *logrus.Logger
}

func NewAdminService(
	users UserStore,
	documents DocumentStore,
	notifier Notifier,
	mailTimeout time.Duration,
	logger *logrus.Logger,
) *AdminService {
	return &AdminService{
		users:       users,
		documents:   documents,
		notifier:    notifier,
		mailTimeout: mailTimeout,
		logger:      logger,
	}
}

// ListUsers returns the users matching filter in registration order,
// together with links to their identity documents.
func (s *AdminService) ListUsers(ctx context.Context, requester *models.User, filter VerificationFilter) ([]models.AdminUserView, error) {
	if !CanAdminister(requester) {
		return nil, ForbiddenError("Forbidden: Admins only")
	}

	users, err := s.users.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}

	views := make([]models.AdminUserView, 0, len(users))
	for i := range users {
		user := &users[i]
		if !filter.matches(user) {
			continue
		}
		views = append(views, models.AdminUserView{
			UserView:    user.View(),
			NIDFrontURL: s.documentURL(ctx, user.NIDFrontKey),
			NIDBackURL:  s.documentURL(ctx, user.NIDBackKey),
		})
	}

	return views, nil
}

// SetVerification approves or disapproves a user. A mail goes out only when
// the flag actually flips; mail failures are logged and never returned.
func (s *AdminService) SetVerification(ctx context.Context, requester *models.User, targetID string, approve bool) (*models.User, error) {
	if !CanAdminister(requester) {
		return nil, ForbiddenError("Forbidden: Admins only")
	}

	prior, err := s.users.SetVerified(ctx, targetID, approve)
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, NotFoundError("User not found")
		}
		return nil, fmt.Errorf("failed to set verification: %w", err)
	}

	user, err := s.users.FindByID(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to reload user: %w", err)
	}
	if user == nil {
		return nil, NotFoundError("User not found")
	}

	logger := s.logger.WithFields(logrus.Fields{
		"admin_id": requester.ID,
		"user_id":  user.ID,
		"approve":  approve,
	})

	switch {
	case approve && !prior:
		metrics.VerificationDecisions.WithLabelValues("approved").Inc()
		logger.Info("User verification approved")
		s.notify(ctx, logger, "approved", func(ctx context.Context) error {
			return s.notifier.SendVerificationApproved(ctx, user.Email, user.Name)
		})
	case !approve && prior:
		metrics.VerificationDecisions.WithLabelValues("disapproved").Inc()
		logger.Info("User verification revoked")
		s.notify(ctx, logger, "disapproved", func(ctx context.Context) error {
			return s.notifier.SendVerificationDisapproved(ctx, user.Email, user.Name)
		})
	default:
		logger.Debug("Verification unchanged, no notification sent")
	}

	return user, nil
}

func (s *AdminService) notify(ctx context.Context, logger *logrus.Entry, kind string, send func(context.Context) error) {
	sendCtx, cancel := context.WithTimeout(ctx, s.mailTimeout)
	defer cancel()

	if err := send(sendCtx); err != nil {
		metrics.NotificationFailures.WithLabelValues(kind).Inc()
		logger.WithError(err).Warn("Failed to send verification notification")
	}
}

func (s *AdminService) documentURL(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	url, err := s.documents.URL(ctx, key)
	if err != nil {
		s.logger.WithError(err).WithField("key", key).Warn("Failed to build document URL")
		return ""
	}
	return url
}
