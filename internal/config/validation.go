// Package config provides configuration management for the line-drive pipeline.
package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// CustomValidator wraps the validator with custom validation rules
type CustomValidator struct {
	validator *validator.Validate
}

// NewValidator creates a new validator with custom validation functions
func NewValidator() *CustomValidator {
	v := validator.New()

	v.RegisterValidation("environment", validateEnvironment)
	v.RegisterValidation("loglevel", validateLogLevel)

	return &CustomValidator{validator: v}
}

// Validate validates the entire configuration
func Validate(cfg *Config) error {
	cv := NewValidator()
	return cv.Validate(cfg)
}

// Validate validates the configuration using registered validation rules
func (cv *CustomValidator) Validate(cfg *Config) error {
	err := cv.validator.Struct(cfg)
	if err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return formatValidationErrors(validationErrors)
		}
		return fmt.Errorf("validation failed: %w", err)
	}

	if err := validateCrossField(cfg); err != nil {
		return err
	}

	return nil
}

// validateEnvironment validates the environment field
func validateEnvironment(fl validator.FieldLevel) bool {
	env := fl.Field().String()
	switch env {
	case "development", "staging", "production":
		return true
	default:
		return false
	}
}

// validateLogLevel validates the log level field
func validateLogLevel(fl validator.FieldLevel) bool {
	level := fl.Field().String()
	switch level {
	case "debug", "info", "warn", "error":
		return true
	default:
		return false
	}
}

// validateCrossField performs cross-field validations
func validateCrossField(cfg *Config) error {
	for name, cc := range cfg.Collectors {
		if cc.Enabled && cc.RateLimitRPS*3600 < 1 {
			return fmt.Errorf("collector %q rate_limit_rps is too low to ever fetch", name)
		}
	}

	if cfg.IsProduction() {
		if cfg.Database.SSLMode == "disable" {
			return fmt.Errorf("production environment requires SSL mode to be 'require' or 'verify-full'")
		}
		// Credentials arrive via ${VAR} expansion or the secrets overlay;
		// placeholder-looking values mean the variable never got set.
		for name, cc := range cfg.Collectors {
			if cc.Enabled && isTestCredential(cc.APIKey) {
				return fmt.Errorf("collector %q api_key looks like a placeholder credential", name)
			}
		}
	}

	// Throttle windows widen as severity drops
	t := cfg.Alerting.ThrottleBySeverity
	if t.Critical > t.Warning || t.Warning > t.Info {
		return fmt.Errorf("alert throttle windows must satisfy critical <= warning <= info")
	}

	for _, sink := range cfg.Alerting.Sinks {
		switch sink.Type {
		case "webhook", "slack":
			if sink.URL == "" {
				return fmt.Errorf("%s alert sink requires a url", sink.Type)
			}
		case "email":
			if sink.SMTPHost == "" || len(sink.Recipients) == 0 {
				return fmt.Errorf("email alert sink requires smtp_host and recipients")
			}
		}
	}

	if cfg.Pipeline.QueueCapacity < cfg.Pipeline.ZoneWorkerPoolSize {
		return fmt.Errorf("queue_capacity must be at least zone_worker_pool_size")
	}

	return nil
}

// isTestCredential checks if a credential looks like a test credential
func isTestCredential(credential string) bool {
	if credential == "" {
		return false
	}
	lowered := strings.ToLower(credential)
	for _, pattern := range []string{"test", "demo", "example", "placeholder", "changeme", "your_"} {
		if strings.Contains(lowered, pattern) {
			return true
		}
	}
	return false
}

// formatValidationErrors formats validation errors into a readable string
func formatValidationErrors(validationErrors validator.ValidationErrors) error {
	var errMsg string
	for _, fieldError := range validationErrors {
		field := fieldError.StructField()
		tag := fieldError.Tag()
		value := fieldError.Value()

		switch tag {
		case "required":
			errMsg += fmt.Sprintf("- Field '%s' is required\n", field)
		case "url":
			errMsg += fmt.Sprintf("- Field '%s' must be a valid URL, got '%v'\n", field, value)
		case "min", "max":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: %s constraint violated\n", field, tag)
		case "gt", "gte", "lt", "lte":
			errMsg += fmt.Sprintf("- Field '%s' validation failed: numeric constraint %s violated\n", field, tag)
		case "environment":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: development, staging, production\n", field)
		case "loglevel":
			errMsg += fmt.Sprintf("- Field '%s' must be one of: debug, info, warn, error\n", field)
		case "oneof":
			errMsg += fmt.Sprintf("- Field '%s' has invalid value '%v'\n", field, value)
		default:
			errMsg += fmt.Sprintf("- Field '%s' failed validation: %s\n", field, tag)
		}
	}
	return fmt.Errorf("configuration validation failed:\n%s", errMsg)
}
