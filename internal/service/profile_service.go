package service

import (
	"context"
	"strings"
	"time"

	"github.com/idgate/idgate/internal/models"
	"github.com/sirupsen/logrus"
)

type ProfileService struct {
	users  UserStore
	rules  Rules
	now    func() time.Time
	logger *logrus.Logger
}

func NewProfileService(users UserStore, rules Rules, logger *logrus.Logger) *ProfileService {
	return &ProfileService{
		users:  users,
		rules:  rules,
		now:    time.Now,
		logger: logger,
	}
}

// UpdateOwnProfile applies the non-empty fields of patch to user. A new
// email or phone must not belong to another user.
func (s *ProfileService) UpdateOwnProfile(ctx context.Context, user *models.User, patch models.ProfilePatch) (*models.User, error) {
	patch.Name = strings.TrimSpace(patch.Name)
	patch.Email = strings.TrimSpace(patch.Email)
	patch.Phone = strings.TrimSpace(patch.Phone)

	if err := validatePatch(patch, s.rules); err != nil {
		return nil, validationFailure(err)
	}

	var email, phone string
	if patch.Email != "" && patch.Email != user.Email {
		email = patch.Email
	}
	if patch.Phone != "" && patch.Phone != user.Phone {
		phone = patch.Phone
	}
	if err := checkUnique(ctx, s.users, user.ID, email, phone); err != nil {
		return nil, err
	}

	updated, err := s.users.UpdateProfile(ctx, user.ID, patch, s.now().UTC())
	if err != nil {
		return nil, uniquenessFailure(err)
	}

	s.logger.WithField("user_id", user.ID).Info("Profile updated")
	return updated, nil
}
