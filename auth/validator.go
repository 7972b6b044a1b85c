package auth

import (
	"chat-session/domain"
	"chat-session/errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ValidateLogin rejects malformed login requests before any network call.
func ValidateLogin(req domain.LoginRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	return nil
}

func ValidateRegister(req domain.RegisterRequest) error {
	if err := validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %v", errors.ErrInvalidRequest, err)
	}
	if strings.TrimSpace(req.FullName) == "" {
		return fmt.Errorf("%w: full name is blank", errors.ErrInvalidRequest)
	}
	return nil
}
