// Package validation registers the name rules shared by every request type.
package validation

import (
	"html"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/microcosm-cc/bluemonday"
)

// NameTag is the struct tag for account, world and item names.
const NameTag = "name"

var sanitizer = bluemonday.StrictPolicy()

// CleanName reports whether s is usable as an account, world or item name:
// no surrounding space, no control characters and nothing a strict HTML
// policy would strip.
func CleanName(s string) bool {
	if s == "" || strings.TrimSpace(s) != s {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return false
		}
	}
	return html.UnescapeString(sanitizer.Sanitize(s)) == s
}

func validateName(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	// emptiness is left to required/omitempty
	return s == "" || CleanName(s)
}

// Register adds the name rule to v.
func Register(v *validator.Validate) error {
	return v.RegisterValidation(NameTag, validateName)
}

// New returns a validator with the name rule registered.
func New() *validator.Validate {
	v := validator.New()
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}
