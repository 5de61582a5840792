package config

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Has reports whether any error concerns field.
func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

var (
	structValidator     *validator.Validate
	structValidatorOnce sync.Once
)

func getValidator() *validator.Validate {
	structValidatorOnce.Do(func() {
		v := validator.New()
		// Report fields by their TOML names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("toml"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
		structValidator = v
	})
	return structValidator
}

// ValidateConfig checks struct tag rules and the cross-field rules below.
func ValidateConfig(c *Config) error {
	var errs ValidationErrors

	if err := getValidator().Struct(c); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			errs = append(errs, ValidationError{
				Field:   fieldName(fe),
				Message: describe(fe),
			})
		}
	}

	if c.Version > Version {
		errs = append(errs, ValidationError{
			Field:   "version",
			Message: fmt.Sprintf("unsupported version %d (current: %d)", c.Version, Version),
		})
	}

	if c.Dictionary.SQLitePath == "" && c.Dictionary.SourcePath == "" {
		errs = append(errs, ValidationError{
			Field:   "dictionary.source_path",
			Message: "either sqlite_path or source_path is required",
		})
	}

	if (c.Logging.Output == "file" || c.Logging.Output == "both") && c.Logging.FilePath == "" {
		errs = append(errs, ValidationError{
			Field:   "logging.file_path",
			Message: fmt.Sprintf("file path is required when output is '%s'", c.Logging.Output),
		})
	}

	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, ValidationError{
			Field:   "metrics.listen",
			Message: "listen address is required when metrics are enabled",
		})
	}

	if c.Health.Enabled && c.Health.Listen == "" {
		errs = append(errs, ValidationError{
			Field:   "health.listen",
			Message: "listen address is required when health endpoints are enabled",
		})
	}

	if c.Watch.Enabled && c.Dictionary.SourcePath == "" {
		errs = append(errs, ValidationError{
			Field:   "watch.enabled",
			Message: "watching requires dictionary.source_path",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// fieldName strips the root type from the namespace.
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field is missing"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("invalid value %v (valid: %s)", fe.Value(), strings.ReplaceAll(fe.Param(), " ", ", "))
	case "hostname_port":
		return fmt.Sprintf("invalid address %v (expected host:port)", fe.Value())
	default:
		return fmt.Sprintf("failed %s check", fe.Tag())
	}
}
