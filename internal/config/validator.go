package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// RegisterCustomValidators registers Fiduciary Gate validation rules.
// Must be called before validating Config.
func RegisterCustomValidators(v *validator.Validate) error {
	if err := v.RegisterValidation("duration", validateDuration); err != nil {
		return fmt.Errorf("failed to register duration validator: %w", err)
	}
	return nil
}

// validateDuration validates Go duration strings ("30s", "1h30m").
func validateDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Validate validates the Config using struct tags and cross-field rules.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomValidators(v); err != nil {
		return err
	}

	if err := v.Struct(c); err != nil {
		return formatValidationErrors(err)
	}

	if err := c.validateTLSPairing(); err != nil {
		return err
	}
	if err := c.validateSessionTTLs(); err != nil {
		return err
	}
	if err := c.validateReviewerReferences(); err != nil {
		return err
	}
	return nil
}

// validateTLSPairing ensures the cert and key files come together.
func (c *Config) validateTLSPairing() error {
	hasCert := c.Server.TLSCertFile != ""
	hasKey := c.Server.TLSKeyFile != ""
	if hasCert != hasKey {
		return errors.New("server: tls_cert_file and tls_key_file must both be set or both be empty")
	}
	return nil
}

// validateSessionTTLs ensures the default TTL does not exceed the maximum.
func (c *Config) validateSessionTTLs() error {
	def := Duration(c.Session.DefaultTTL, 0)
	max := Duration(c.Session.MaxTTL, 0)
	if def > max {
		return fmt.Errorf("session: default_ttl %s exceeds max_ttl %s", c.Session.DefaultTTL, c.Session.MaxTTL)
	}
	return nil
}

// validateReviewerReferences ensures every API key's reviewer_id
// references a defined reviewer.
func (c *Config) validateReviewerReferences() error {
	known := make(map[string]struct{}, len(c.Auth.Reviewers))
	for _, r := range c.Auth.Reviewers {
		known[r.ID] = struct{}{}
	}
	for i, k := range c.Auth.APIKeys {
		if _, exists := known[k.ReviewerID]; !exists {
			return fmt.Errorf("api_keys[%d]: references unknown reviewer_id: %s", i, k.ReviewerID)
		}
	}
	return nil
}

// formatValidationErrors converts validator.ValidationErrors to
// user-friendly messages.
func formatValidationErrors(err error) error {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		var messages []string
		for _, e := range validationErrors {
			messages = append(messages, formatSingleValidationError(e))
		}
		return errors.New(strings.Join(messages, "; "))
	}
	return err
}

// formatSingleValidationError creates a user-friendly message for one
// validation error.
func formatSingleValidationError(e validator.FieldError) string {
	field := e.Namespace()
	switch e.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, e.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, e.Param())
	case "startswith":
		return fmt.Sprintf("%s must start with %q", field, e.Param())
	case "hostname_port":
		return fmt.Sprintf("%s must be a valid host:port", field)
	case "duration":
		return fmt.Sprintf("%s must be a positive Go duration (e.g. \"30s\", \"1h\")", field)
	case "file":
		return fmt.Sprintf("%s must be an existing file", field)
	case "gt", "lte":
		return fmt.Sprintf("%s must be in (0, 1]", field)
	default:
		return fmt.Sprintf("%s failed validation: %s", field, e.Tag())
	}
}
