package service

import (
	"errors"
	"net/http"
)

type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindAuth
	KindForbidden
	KindNotFound
	KindToken
	KindDelivery
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "VALIDATION_ERROR"
	case KindAuth:
		return "AUTH_ERROR"
	case KindForbidden:
		return "FORBIDDEN"
	case KindNotFound:
		return "NOT_FOUND"
	case KindToken:
		return "INVALID_TOKEN"
	case KindDelivery:
		return "DELIVERY_FAILED"
	default:
		return "INTERNAL_ERROR"
	}
}

// HTTPStatus maps an error kind onto the status code clients see.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuth, KindToken:
		return http.StatusUnauthorized
	case KindForbidden:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindDelivery:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Error is a domain error whose Message is safe to show to clients.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

func ValidationError(message string) *Error {
	return &Error{Kind: KindValidation, Message: message}
}

func AuthError(message string) *Error {
	return &Error{Kind: KindAuth, Message: message}
}

func ForbiddenError(message string) *Error {
	return &Error{Kind: KindForbidden, Message: message}
}

func NotFoundError(message string) *Error {
	return &Error{Kind: KindNotFound, Message: message}
}

func TokenError(err error) *Error {
	return &Error{Kind: KindToken, Message: "Invalid or expired token", Err: err}
}

func DeliveryError(err error) *Error {
	return &Error{Kind: KindDelivery, Message: "Failed to deliver email", Err: err}
}

// KindOf reports the kind of err, or KindInternal for errors that did not
// originate from this package.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
