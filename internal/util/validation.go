package util

import (
	"errors"
	"fmt"
	"net/mail"
	"regexp"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

var (
	// ErrInvalidEmail is returned when an email address cannot be parsed.
	ErrInvalidEmail = errors.New("invalid email address")
	// ErrInvalidPhone is returned when a phone number cannot be normalised to E.164.
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrInvalidTemplateID indicates a template identifier is malformed.
	ErrInvalidTemplateID = errors.New("invalid template id")
	// ErrInvalidIdentifier indicates a record identifier is malformed.
	ErrInvalidIdentifier = errors.New("invalid identifier")
)

// DefaultRegion is the region assumed for numbers written without a
// country code.
const DefaultRegion = "BR"

const whatsappPrefix = "whatsapp:"

var (
	e164Pattern       = regexp.MustCompile(`^\+[1-9]\d{1,14}$`)
	templateIDPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,64}$`)
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9_.:-]{1,128}$`)
)

// NormalizeEmail validates and normalizes an email address. The returned value
// is lowercased and stripped of surrounding whitespace.
func NormalizeEmail(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidEmail)
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidEmail, err)
	}

	// Display names are rejected to keep job recipients canonical.
	if addr.Name != "" || addr.Address == "" || addr.Address != trimmed {
		return "", fmt.Errorf("%w: must be a bare address", ErrInvalidEmail)
	}

	return strings.ToLower(addr.Address), nil
}

// NormalizeE164 validates a phone number already in E.164 format.
func NormalizeE164(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidPhone)
	}
	if !e164Pattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, trimmed)
	}
	return trimmed, nil
}

// NormalizePhone converts a loosely formatted phone number into canonical
// E.164. Numbers without a "+" are read as DefaultRegion numbers, with or
// without the country code. A "whatsapp:" address prefix is dropped.
func NormalizePhone(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidPhone)
	}
	if len(trimmed) >= len(whatsappPrefix) && strings.EqualFold(trimmed[:len(whatsappPrefix)], whatsappPrefix) {
		trimmed = strings.TrimSpace(trimmed[len(whatsappPrefix):])
	}

	num, err := phonenumbers.Parse(trimmed, DefaultRegion)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidPhone, value, err)
	}
	if !phonenumbers.IsPossibleNumber(num) {
		return "", fmt.Errorf("%w: %q", ErrInvalidPhone, value)
	}
	return NormalizeE164(phonenumbers.Format(num, phonenumbers.E164))
}

// ValidateTemplateID enforces a conservative pattern for template
// identifiers.
func ValidateTemplateID(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", fmt.Errorf("%w: value is empty", ErrInvalidTemplateID)
	}
	if !templateIDPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTemplateID, trimmed)
	}
	return trimmed, nil
}

// ValidateIdentifier checks rule, entity and key identifiers.
func ValidateIdentifier(value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if !identifierPattern.MatchString(trimmed) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, value)
	}
	return trimmed, nil
}
