// Package validation configures go-playground/validator for request
// structs: JSON field names in errors and the clinic's custom tags.
package validation

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// New returns a validator that reports fields by their JSON name and knows
// the "mindigits=N" tag (at least N digits, other characters ignored).
func New() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("mindigits", func(fl validator.FieldLevel) bool {
		want, err := strconv.Atoi(fl.Param())
		if err != nil {
			return false
		}
		return CountDigits(fl.Field().String()) >= want
	})
	return v
}

// CountDigits counts the decimal digits in s.
func CountDigits(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

// FieldError describes one failed rule.
type FieldError struct {
	Field string
	Tag   string
}

// Failures flattens a validator error. Other errors yield nil.
func Failures(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, FieldError{Field: fe.Field(), Tag: fe.Tag()})
	}
	return out
}

// Message picks the message for the first failing field, falling back to
// def when the field has no entry.
func Message(err error, messages map[string]string, def string) string {
	for _, f := range Failures(err) {
		if msg, ok := messages[f.Field]; ok {
			return msg
		}
	}
	return def
}
