// Package phone validates and canonicalizes user-entered phone numbers before
// any OTP operation touches them.
package phone

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// DefaultCallingCode is preselected by the sign-in forms.
const DefaultCallingCode = "+91"

const (
	minDigits = 6
	maxDigits = 15
)

// ErrInvalidFormat is returned for input that cannot be turned into a canonical number.
var ErrInvalidFormat = errors.New("invalid phone number format")

var (
	e164Pattern  = regexp.MustCompile(`^\+[1-9]\d{6,14}$`)
	indiaPattern = regexp.MustCompile(`^[6-9]\d{9}$`)
)

// CallingCode is one entry of the supported country list.
type CallingCode struct {
	Code    string `json:"code"`
	Country string `json:"country"`
	Flag    string `json:"flag"`
}

var codes = []CallingCode{
	{Code: "+91", Country: "India", Flag: "🇮🇳"},
	{Code: "+1", Country: "United States", Flag: "🇺🇸"},
	{Code: "+44", Country: "United Kingdom", Flag: "🇬🇧"},
	{Code: "+61", Country: "Australia", Flag: "🇦🇺"},
	{Code: "+81", Country: "Japan", Flag: "🇯🇵"},
	{Code: "+49", Country: "Germany", Flag: "🇩🇪"},
	{Code: "+33", Country: "France", Flag: "🇫🇷"},
	{Code: "+971", Country: "UAE", Flag: "🇦🇪"},
}

// nationalPatterns holds stricter per-country rules applied after the E.164 check.
var nationalPatterns = map[string]*regexp.Regexp{
	"+91": indiaPattern,
}

// Codes returns the supported calling codes in display order.
func Codes() []CallingCode {
	out := make([]CallingCode, len(codes))
	copy(out, codes)
	return out
}

// Supported reports whether code is in the calling-code catalogue.
func Supported(code string) bool {
	for _, c := range codes {
		if c.Code == code {
			return true
		}
	}
	return false
}

// Normalize returns "<callingCode><digits>" for raw user input. Every non-digit is
// stripped from raw; if raw was already prefixed with the calling code that prefix
// is dropped first so the code is never doubled.
func Normalize(raw, callingCode string) (string, error) {
	callingCode = strings.TrimSpace(callingCode)
	if callingCode == "" {
		callingCode = DefaultCallingCode
	}
	if !Supported(callingCode) {
		return "", fmt.Errorf("%w: unsupported calling code %q", ErrInvalidFormat, callingCode)
	}

	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, callingCode) {
		raw = raw[len(callingCode):]
	}
	digits := DigitsOnly(raw)

	if n := len(digits); n < minDigits || n > maxDigits {
		return "", fmt.Errorf("%w: expected %d-%d digits, got %d", ErrInvalidFormat, minDigits, maxDigits, n)
	}

	canonical := callingCode + digits
	if !e164Pattern.MatchString(canonical) {
		return "", fmt.Errorf("%w: %q is not an international number", ErrInvalidFormat, canonical)
	}
	if p, ok := nationalPatterns[callingCode]; ok && !p.MatchString(digits) {
		return "", fmt.Errorf("%w: %q is not a valid %s number", ErrInvalidFormat, canonical, callingCode)
	}
	return canonical, nil
}

// IsCanonical reports whether s already has the shape Normalize produces for some
// supported calling code.
func IsCanonical(s string) bool {
	for _, c := range codes {
		if !strings.HasPrefix(s, c.Code) {
			continue
		}
		if out, err := Normalize(s[len(c.Code):], c.Code); err == nil && out == s {
			return true
		}
	}
	return false
}

// IsE164 reports whether s has the generic international shape +<country><digits>.
func IsE164(s string) bool {
	return e164Pattern.MatchString(s)
}

// DigitsOnly drops every character that is not an ASCII digit.
func DigitsOnly(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
