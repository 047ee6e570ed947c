package service

import "github.com/idgate/idgate/internal/models"

// CanAdminister is the single authorization rule for admin-only operations.
func CanAdminister(user *models.User) bool {
	return user != nil && user.IsAdmin
}
