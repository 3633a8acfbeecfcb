// Package validation checks captured checklist data before it is stored
// or queued.
package validation

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// ValidationError represents a single field validation failure.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + " " + e.Message
}

// Errors is a list of field failures usable as an error value.
type Errors []ValidationError

func (es Errors) Error() string {
	parts := make([]string, len(es))
	for i, e := range es {
		parts[i] = e.Error()
	}
	return strings.Join(parts, "; ")
}

// Collector gathers every failure of a value instead of stopping at the
// first one.
type Collector struct {
	errs Errors
}

// Add records err; nil is ignored.
func (c *Collector) Add(err *ValidationError) {
	if err != nil {
		c.errs = append(c.errs, *err)
	}
}

// Errors returns the recorded failures.
func (c *Collector) Errors() []ValidationError {
	return c.errs
}

// Err returns the failures as an Errors value, or nil.
func (c *Collector) Err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return c.errs
}

func fail(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// freeText checks operator-typed text: valid UTF-8, no NUL bytes and at
// most maxRunes runes. Only the first failure is reported.
func freeText(field, value string, maxRunes int) *ValidationError {
	switch {
	case !utf8.ValidString(value):
		return fail(field, "must be valid UTF-8")
	case strings.IndexByte(value, 0) >= 0:
		return fail(field, "must not contain null bytes")
	case utf8.RuneCountInString(value) > maxRunes:
		return fail(field, "exceeds maximum length of %d characters", maxRunes)
	}
	return nil
}

// oneOf checks a selection. Blank values are rejected; an empty options
// list accepts any non-blank value.
func oneOf(field, value string, options []string) *ValidationError {
	if strings.TrimSpace(value) == "" {
		return fail(field, "is required")
	}
	if len(options) > 0 && !slices.Contains(options, value) {
		return fail(field, "must be one of: %s", strings.Join(options, ", "))
	}
	return nil
}

// within checks that a coordinate lies in [lo, hi].
func within(field string, value, lo, hi float64) *ValidationError {
	if value < lo || value > hi {
		return fail(field, "must be between %g and %g", lo, hi)
	}
	return nil
}
