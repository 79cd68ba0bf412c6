package model

import "strings"

// NormalizePhone canonicalizes a phone number into E.164-ish form so that
// the same caller always maps to the same contact key. Bare 10-digit
// numbers are treated as Indian local numbers, matching the platform's
// primary market.
func NormalizePhone(phone string) string {
	if phone == "" {
		return ""
	}

	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	switch {
	case len(digits) == 10:
		return "+91" + digits
	case len(digits) == 11 && strings.HasPrefix(digits, "0"):
		return "+91" + digits[1:]
	case len(digits) == 12 && strings.HasPrefix(digits, "91"):
		return "+" + digits
	case len(digits) >= 10:
		return "+" + strings.TrimLeft(digits, "0")
	}
	return digits
}

// SamePhone reports whether two raw numbers normalize to the same key.
func SamePhone(a, b string) bool {
	return NormalizePhone(a) == NormalizePhone(b)
}
