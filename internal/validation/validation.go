// Package validation checks records arriving at the central API.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/piehlerb/job-estimator-sub000/internal/types"
)

// MaxIDLength bounds record ids.
const MaxIDLength = 128

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

// ValidateRequired returns an error if the value is empty or whitespace-only.
func ValidateRequired(field, value string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return &ValidationError{Field: field, Message: "is required"}
	}
	return nil
}

// ValidateText rejects invalid UTF-8 and embedded null bytes.
func ValidateText(field, value string) *ValidationError {
	if !utf8.ValidString(value) {
		return &ValidationError{Field: field, Message: "must be valid UTF-8"}
	}
	if strings.Contains(value, "\x00") {
		return &ValidationError{Field: field, Message: "must not contain null bytes"}
	}
	return nil
}

// ValidateID checks a record id: present, bounded, and free of path
// separators.
func ValidateID(field, value string) *ValidationError {
	if err := ValidateRequired(field, value); err != nil {
		return err
	}
	if utf8.RuneCountInString(value) > MaxIDLength {
		return &ValidationError{
			Field:   field,
			Message: fmt.Sprintf("exceeds maximum length of %d characters", MaxIDLength),
		}
	}
	if strings.ContainsAny(value, "/\\") {
		return &ValidationError{Field: field, Message: "must not contain path separators"}
	}
	return ValidateText(field, value)
}

// ValidateTimestamp checks that v is an RFC 3339 string. Absent values
// pass unless required.
func ValidateTimestamp(field string, v any, required bool) *ValidationError {
	if v == nil {
		if required {
			return &ValidationError{Field: field, Message: "is required"}
		}
		return nil
	}
	if _, ok := v.(string); !ok || types.ParseTimestamp(v).IsZero() {
		return &ValidationError{Field: field, Message: "must be an RFC 3339 timestamp"}
	}
	return nil
}

// ValidateBool checks that v, when present, is a JSON boolean.
func ValidateBool(field string, v any) *ValidationError {
	if v == nil {
		return nil
	}
	if _, ok := v.(bool); !ok {
		return &ValidationError{Field: field, Message: "must be a boolean"}
	}
	return nil
}

// ValidateRemoteRecord checks a snake_case record pushed for pathID.
func ValidateRemoteRecord(pathID string, rec types.Record) []ValidationError {
	var c Collector

	id, isString := rec["id"].(string)
	switch {
	case rec["id"] != nil && !isString:
		c.Add(&ValidationError{Field: "id", Message: "must be a string"})
	default:
		if err := ValidateID("id", id); err != nil {
			c.Add(err)
		} else if id != pathID {
			c.Add(&ValidationError{Field: "id", Message: "must match the record id in the path"})
		}
	}

	c.Add(ValidateTimestamp("updated_at", rec["updated_at"], true))
	c.Add(ValidateTimestamp("created_at", rec["created_at"], false))
	c.Add(ValidateBool("deleted", rec["deleted"]))

	for k, v := range rec {
		if s, ok := v.(string); ok && k != "id" {
			c.Add(ValidateText(k, s))
		}
	}

	return c.Errors()
}
