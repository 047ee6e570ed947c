package service

import (
	"errors"
	"fmt"
	"io"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/idgate/idgate/internal/models"
	"github.com/nyaruka/phonenumbers"
)

// Rules holds the input constraints shared by registration and profile
// updates.
type Rules struct {
	PhoneRegion       string
	MinPasswordLength int
}

// Document is an uploaded identity-document image.
type Document struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Body        io.Reader `json:"-"`
}

func (d Document) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.ContentType, validation.Required, validation.By(imageContentType)),
		validation.Field(&d.Size, validation.Required, validation.Min(int64(1))),
	)
}

type RegisterInput struct {
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	Phone    string    `json:"phone"`
	Password string    `json:"password"`
	NIDFront *Document `json:"nid_front"`
	NIDBack  *Document `json:"nid_back"`
	Photo    string    `json:"photo"`
}

func (in *RegisterInput) normalize() {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Phone = strings.TrimSpace(in.Phone)
	in.Photo = strings.TrimSpace(in.Photo)
}

func (in RegisterInput) validate(rules Rules) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&in.Phone, validation.Required, validation.By(phoneNumber(rules.PhoneRegion))),
		validation.Field(&in.Password, passwordRules(rules)...),
		validation.Field(&in.NIDFront, validation.Required),
		validation.Field(&in.NIDBack, validation.Required),
	)
}

func validatePatch(patch models.ProfilePatch, rules Rules) error {
	return validation.ValidateStruct(&patch,
		validation.Field(&patch.Name, validation.Length(1, 200)),
		validation.Field(&patch.Email, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&patch.Phone, validation.By(phoneNumber(rules.PhoneRegion))),
	)
}

func validatePassword(password string, rules Rules) error {
	return validation.Validate(password, passwordRules(rules)...)
}

func passwordRules(rules Rules) []validation.Rule {
	minLength := rules.MinPasswordLength
	if minLength <= 0 {
		minLength = 6
	}
	// bcrypt ignores bytes past 72.
	return []validation.Rule{validation.Required, validation.Length(minLength, 72)}
}

func phoneNumber(region string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s == "" {
			return nil
		}
		num, err := phonenumbers.Parse(s, region)
		if err != nil || !phonenumbers.IsPossibleNumber(num) {
			return errors.New("must be a valid phone number")
		}
		return nil
	}
}

func imageContentType(value interface{}) error {
	s, _ := value.(string)
	if !strings.HasPrefix(s, "image/") {
		return errors.New("must be an image")
	}
	return nil
}

// validationFailure turns an ozzo error into a client-facing
// ValidationError. Rule evaluation failures stay internal.
func validationFailure(err error) error {
	var internal validation.InternalError
	if errors.As(err, &internal) {
		return fmt.Errorf("validation failed: %w", err)
	}
	return ValidationError(err.Error())
}
