package api

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	app_errors "github.com/JoshBonura/ai-agent-playground-sub001/internal/errors"

	"github.com/go-playground/validator/v10"
)

// Centralized, singleton-based validation helper for API request bodies.
// Recreating the validator per request is costly; one shared instance is
// safe for concurrent use.

var (
	validate *validator.Validate
	once     sync.Once
)

func getInstance() *validator.Validate {
	once.Do(func() {
		validate = validator.New()
	})
	return validate
}

// validateRequest checks a payload struct against the rules in its field tags
// (e.g. `validate:"required,min=1"`). Failures come back wrapped in
// app_errors.ErrValidation with a readable message.
func validateRequest(payload interface{}) error {
	err := getInstance().Struct(payload)
	if err == nil {
		return nil
	}

	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return fmt.Errorf("%w: an unexpected error occurred during validation: %s", app_errors.ErrValidation, err.Error())
	}

	var errorMessages []string
	for _, fieldErr := range validationErrors {
		errorMessages = append(errorMessages, fmt.Sprintf("Field '%s' failed on the '%s' tag", fieldErr.Field(), fieldErr.Tag()))
	}
	return fmt.Errorf("%w: %s", app_errors.ErrValidation, strings.Join(errorMessages, "; "))
}
