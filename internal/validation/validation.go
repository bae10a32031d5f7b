package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Collector accumulates validation errors without failing on first.
type Collector struct {
	errors []ValidationError
}

// Add appends a validation error to the collector if non-nil.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errors = append(c.errors, *err)
	}
}

// HasErrors returns true if the collector has accumulated any errors.
func (c *Collector) HasErrors() bool {
	return len(c.errors) > 0
}

// Errors returns all accumulated validation errors.
func (c *Collector) Errors() []ValidationError {
	return c.errors
}

// ValidateRequired returns an error if the value is empty after trimming.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{
			Field:   field,
			Message: "is required",
		}
	}
	return nil
}

// ValidateUTF8 returns an error if the value is not valid UTF-8.
func ValidateUTF8(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{
			Field:   field,
			Message: "must be valid UTF-8",
		}
	}
	return nil
}

// ValidateNoNullBytes returns an error if the value contains null bytes.
func ValidateNoNullBytes(field, value string) *ValidationError {
	if strings.Contains(value, "\x00") {
		return &ValidationError{
			Field:   field,
			Message: "must not contain null bytes",
		}
	}
	return nil
}

// ValidateMaxLength returns an error if the value exceeds max runes.
func ValidateMaxLength(field, value string, max int) *ValidationError {
	if utf8.RuneCountInString(value) > max {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", max),
		}
	}
	return nil
}

// ulidAlphabet is Crockford Base32 (excludes I, L, O, U).
const ulidAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

// ValidateULID returns an error if the value is not a valid ULID format.
func ValidateULID(field, value string) *ValidationError {
	if len(value) != 26 {
		return &ValidationError{
			Field:   field,
			Message: "must be a valid ULID (26 characters)",
		}
	}

	// Crockford Base32 is case-insensitive; accept lowercase input.
	for _, r := range strings.ToUpper(value) {
		if !strings.ContainsRune(ulidAlphabet, r) {
			return &ValidationError{
				Field:   field,
				Message: "must be a valid ULID (Crockford Base32)",
			}
		}
	}
	return nil
}

// ValidateDay returns an error if the value is not a YYYY-MM-DD day.
func ValidateDay(field, value string) *ValidationError {
	if len(value) != 10 || value[4] != '-' || value[7] != '-' {
		return &ValidationError{
			Field:   field,
			Message: "must be a day in YYYY-MM-DD format",
		}
	}
	for i, r := range value {
		if i == 4 || i == 7 {
			continue
		}
		if r < '0' || r > '9' {
			return &ValidationError{
				Field:   field,
				Message: "must be a day in YYYY-MM-DD format",
			}
		}
	}
	return nil
}
