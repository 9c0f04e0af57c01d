package domain

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

type CardType string

const (
	Visa       CardType = "VISA"
	Mastercard CardType = "MASTERCARD"
	Amex       CardType = "AMEX"
	Discover   CardType = "DISCOVER"
	Unknown    CardType = "UNKNOWN"
)

var (
	digitsRegex = regexp.MustCompile(`^[0-9]+$`)
	cvvRegex    = regexp.MustCompile(`^[0-9]{3,4}$`)
	pinRegex    = regexp.MustCompile(`^[0-9]{4,6}$`)
	expiryRegex = regexp.MustCompile(`^(0[1-9]|1[0-2])/([0-9]{2}|[0-9]{4})$`)

	visaRegex     = regexp.MustCompile(`^4[0-9]{12}(?:[0-9]{3})?$`)
	masterRegex   = regexp.MustCompile(`^5[1-5][0-9]{14}$`)
	amexRegex     = regexp.MustCompile(`^3[47][0-9]{13}$`)
	discoverRegex = regexp.MustCompile(`^6(?:011|5[0-9]{2})[0-9]{12}$`)
)

// NormalizeInstrument strips the spaces and dashes people type into card numbers.
func NormalizeInstrument(number string) string {
	clean := strings.ReplaceAll(number, " ", "")
	return strings.ReplaceAll(clean, "-", "")
}

// ValidateInstrument checks that number is 13-19 digits and passes the Luhn
// checksum. It returns the normalized number.
func ValidateInstrument(number string) (string, error) {
	clean := NormalizeInstrument(number)
	if clean == "" {
		return "", &ValidationError{Field: "instrumentId", Message: "is required"}
	}
	if !digitsRegex.MatchString(clean) || len(clean) < 13 || len(clean) > 19 {
		return "", &ValidationError{Field: "instrumentId", Message: "must be 13 to 19 digits"}
	}
	if !passesLuhn(clean) {
		return "", &ValidationError{Field: "instrumentId", Message: "failed checksum"}
	}
	return clean, nil
}

// Brand reports the card network for display. Unknown brands are still valid instruments.
func Brand(number string) CardType {
	clean := NormalizeInstrument(number)
	switch {
	case visaRegex.MatchString(clean):
		return Visa
	case masterRegex.MatchString(clean):
		return Mastercard
	case amexRegex.MatchString(clean):
		return Amex
	case discoverRegex.MatchString(clean):
		return Discover
	}
	return Unknown
}

// MaskInstrument hides everything except the last four digits.
func MaskInstrument(number string) string {
	clean := NormalizeInstrument(number)
	if len(clean) < 4 {
		return "****"
	}
	return "**** **** **** " + clean[len(clean)-4:]
}

func ValidateCVV(cvv string) error {
	if !cvvRegex.MatchString(cvv) {
		return &ValidationError{Field: "cvv", Message: "must be 3 or 4 digits"}
	}
	return nil
}

func ValidatePIN(pin string) error {
	if !pinRegex.MatchString(pin) {
		return &ValidationError{Field: "pin", Message: "must be 4 to 6 digits"}
	}
	return nil
}

// Expiry is the month/year printed on a card.
type Expiry struct {
	Month int
	Year  int
}

// ParseExpiry accepts MM/YY or MM/YYYY. Two-digit years are taken as 20YY.
func ParseExpiry(s string) (Expiry, error) {
	m := expiryRegex.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return Expiry{}, &ValidationError{Field: "expiry", Message: "must be MM/YY or MM/YYYY"}
	}
	month, _ := strconv.Atoi(m[1])
	year, _ := strconv.Atoi(m[2])
	if len(m[2]) == 2 {
		year += 2000
	}
	return Expiry{Month: month, Year: year}, nil
}

// Expired reports whether the card is past its expiry month at now.
// A card stays valid through the last day of the printed month.
func (e Expiry) Expired(now time.Time) bool {
	if e.Year != now.Year() {
		return e.Year < now.Year()
	}
	return e.Month < int(now.Month())
}

func (e Expiry) String() string {
	return fmt.Sprintf("%02d/%04d", e.Month, e.Year)
}

// ValidateExpiry parses s and rejects cards that have already expired.
func ValidateExpiry(s string, now time.Time) (Expiry, error) {
	exp, err := ParseExpiry(s)
	if err != nil {
		return Expiry{}, err
	}
	if exp.Expired(now) {
		return Expiry{}, &ValidationError{Field: "expiry", Message: "card has expired"}
	}
	return exp, nil
}

// passesLuhn implements the standard Mod 10 check used by all banks
func passesLuhn(number string) bool {
	sum := 0
	alternate := false
	for i := len(number) - 1; i >= 0; i-- {
		n := int(number[i] - '0')
		if alternate {
			n *= 2
			if n > 9 {
				n -= 9
			}
		}
		sum += n
		alternate = !alternate
	}
	return sum%10 == 0
}
