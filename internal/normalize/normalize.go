// Package normalize canonicalizes contact data before it is matched or
// stored: email addresses, phone numbers (E.164) and social profile links.
//
// All methods are pure; a Normalizer is safe for concurrent use.
package normalize

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/nyaruka/phonenumbers"
)

var (
	ErrInvalidEmail = errors.New("not a valid email address")
	ErrInvalidPhone = errors.New("not a valid phone number")
	ErrInvalidLink  = errors.New("not a valid profile link")
)

// Normalizer implements importer.Normalizer.
type Normalizer struct {
	region   string
	validate *validator.Validate
}

// New creates a Normalizer. region is the ISO 3166 code assumed for phone
// numbers written without a country code.
func New(region string) *Normalizer {
	if region == "" {
		region = "US"
	}
	return &Normalizer{
		region:   strings.ToUpper(region),
		validate: validator.New(),
	}
}

// Email lowercases and validates an address. A "mailto:" prefix and
// surrounding angle brackets are removed.
func (n *Normalizer) Email(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "mailto:"), "MAILTO:")
	s = strings.TrimSuffix(strings.TrimPrefix(s, "<"), ">")
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return "", ErrInvalidEmail
	}
	if err := n.validate.Var(s, "required,email"); err != nil {
		return "", ErrInvalidEmail
	}
	return s, nil
}

// Phone parses a number and formats it as E.164. Numbers starting with
// "00" are read as international.
func (n *Normalizer) Phone(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "00") {
		s = "+" + s[2:]
	}
	if s == "" {
		return "", ErrInvalidPhone
	}

	num, err := phonenumbers.Parse(s, n.region)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPhone, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", ErrInvalidPhone
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}
