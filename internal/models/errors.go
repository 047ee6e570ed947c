package models

import "errors"

var (
	// ErrUserNotFound is returned by stores when an operation targets a
	// user that does not exist.
	ErrUserNotFound = errors.New("user not found")

	ErrDuplicateEmail = errors.New("email already registered")
	ErrDuplicatePhone = errors.New("phone already registered")
)
