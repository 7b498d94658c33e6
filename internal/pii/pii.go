package pii

import "strings"

// MaskMobile keeps the last four digits of a mobile number and blanks the
// rest. Separators are dropped. Numbers shorter than four digits are fully
// masked.
func MaskMobile(mobile string) string {
	digits := digitsOf(mobile)
	if digits == "" {
		return ""
	}
	if len(digits) <= 4 {
		return strings.Repeat("*", len(digits))
	}
	return strings.Repeat("*", len(digits)-4) + digits[len(digits)-4:]
}

// MaskPAN normalizes an already-masked card number to the first six and last
// four digits. Inputs carrying more than ten digits are re-masked so a
// mis-sent full PAN never leaves the API boundary.
func MaskPAN(pan string) string {
	digits := digitsOf(pan)
	if digits == "" {
		return ""
	}
	if len(digits) <= 10 {
		// already reduced, pass through as received
		return pan
	}
	return digits[:6] + strings.Repeat("*", len(digits)-10) + digits[len(digits)-4:]
}

func digitsOf(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
