package textutil

import (
	"strings"
	"unicode"
)

// NormalizePhone converts local and international notations ("017...",
// "+880 17...", "88017...") into digits carrying countryCode. It reports false
// when the result is not a plausible Bangladeshi mobile number for code 880,
// or has fewer than eight digits for any other code.
func NormalizePhone(raw, countryCode string) (string, bool) {
	countryCode = strings.TrimPrefix(strings.TrimSpace(countryCode), "+")
	var digits strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			digits.WriteRune(r)
		case r >= '০' && r <= '৯':
			digits.WriteRune('0' + (r - '০'))
		case r == '+' || r == '-' || r == '(' || r == ')' || unicode.IsSpace(r):
		default:
			return "", false
		}
	}
	number := strings.TrimPrefix(digits.String(), "00")
	switch {
	case number == "":
		return "", false
	case countryCode != "" && strings.HasPrefix(number, countryCode):
	case strings.HasPrefix(number, "0"):
		number = countryCode + strings.TrimPrefix(number, "0")
	default:
		number = countryCode + number
	}

	if countryCode == "880" {
		return number, len(number) == 13 && strings.HasPrefix(number, "8801") && number[4] >= '3'
	}
	return number, len(number) >= 8
}

// FirstNonEmpty returns the first value that is not blank after trimming.
func FirstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}
