package models

import (
	"time"
)

type User struct {
	ID           string    `json:"id" dynamodbav:"id"`
	Name         string    `json:"name" dynamodbav:"name"`
	Email        string    `json:"email" dynamodbav:"email"`
	Phone        string    `json:"phone" dynamodbav:"phone"`
	PasswordHash string    `json:"-" dynamodbav:"password_hash"`
	NIDFrontKey  string    `json:"-" dynamodbav:"nid_front_key"`
	NIDBackKey   string    `json:"-" dynamodbav:"nid_back_key"`
	Photo        string    `json:"photo,omitempty" dynamodbav:"photo,omitempty"`
	IsVerified   bool      `json:"is_verified" dynamodbav:"is_verified"`
	IsAdmin      bool      `json:"is_admin" dynamodbav:"is_admin"`
	CreatedAt    time.Time `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" dynamodbav:"updated_at"`
}

func (u *User) GetPK() string {
	return "USER#" + u.ID
}

func (u *User) GetSK() string {
	return "METADATA"
}

// UserView is the projection of a user that is safe to return to clients.
// It never carries the password hash or the identity documents.
type UserView struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	IsVerified bool      `json:"is_verified"`
	IsAdmin    bool      `json:"is_admin"`
	CreatedAt  time.Time `json:"created_at"`
	Photo      string    `json:"photo,omitempty"`
}

func (u *User) View() UserView {
	return UserView{
		ID:         u.ID,
		Name:       u.Name,
		Email:      u.Email,
		Phone:      u.Phone,
		IsVerified: u.IsVerified,
		IsAdmin:    u.IsAdmin,
		CreatedAt:  u.CreatedAt,
		Photo:      u.Photo,
	}
}

// AdminUserView extends UserView with links to the identity documents
// under review.
type AdminUserView struct {
	UserView
	NIDFrontURL string `json:"nid_front_url,omitempty"`
	NIDBackURL  string `json:"nid_back_url,omitempty"`
}

// ProfilePatch carries the fields a user may change on their own record.
// Empty fields are left untouched.
type ProfilePatch struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}
