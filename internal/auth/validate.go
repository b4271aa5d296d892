package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

var permissionCodePattern = regexp.MustCompile(`^[a-z][a-z0-9_.:-]*$`)

// RegisterRequest is the self-service sign-up payload.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"full_name"`
}

func (r RegisterRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

// CreateUserRequest is the admin user-creation payload.
type CreateUserRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	Superuser bool   `json:"is_superuser"`
}

func (r CreateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
		validation.Field(&r.Password, validation.Required),
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

// UpdateUserRequest patches mutable profile fields. Nil fields are unchanged.
type UpdateUserRequest struct {
	FullName *string `json:"full_name"`
	Active   *bool   `json:"is_active"`
}

func (r UpdateUserRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.FullName, validation.Length(0, 200)),
	)
}

// RoleInput creates or updates a role.
type RoleInput struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (r RoleInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
		validation.Field(&r.Description, validation.Length(0, 500)),
	)
}

// PermissionInput creates or updates a permission.
type PermissionInput struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (r PermissionInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code,
			validation.Required,
			validation.Length(1, 128),
			validation.Match(permissionCodePattern).Error("must be lower-case letters, digits or . _ : -"),
		),
		validation.Field(&r.Description, validation.Length(0, 500)),
	)
}

// ClientInput creates a machine client.
type ClientInput struct {
	Name string `json:"name"`
}

func (r ClientInput) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Required, validation.Length(1, 100)),
	)
}

// validationFailure converts ozzo errors into *ValidationError.
func validationFailure(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		fields := make(map[string]string, len(fieldErrs))
		for name, fe := range fieldErrs {
			fields[name] = fe.Error()
		}
		return &ValidationError{Fields: fields}
	}
	return fmt.Errorf("%w: %v", ErrInvalidInput, err)
}

func validateInput(v validation.Validatable) error {
	return validationFailure(v.Validate())
}

func trimmed(s string) string { return strings.TrimSpace(s) }
