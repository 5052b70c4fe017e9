package daraja

import (
	"strings"

	"github.com/shulehub/shule-fees-hub/internal/domain/shared"
)

// NormalizePhone converts a Kenyan mobile number to the 2547XXXXXXXX /
// 2541XXXXXXXX form the gateway requires. Accepted inputs:
//
//	0712345678, 0112345678
//	+254712345678, 254712345678
//	712345678, 112345678
//
// Spaces and dashes are stripped first. Anything else fails with
// ErrInvalidPhoneNumber.
func NormalizePhone(raw string) (string, error) {
	cleaned := strings.Map(func(r rune) rune {
		if r == ' ' || r == '-' {
			return -1
		}
		return r
	}, strings.TrimSpace(raw))

	cleaned = strings.TrimPrefix(cleaned, "+")

	switch {
	case strings.HasPrefix(cleaned, "254"):
		// Already in international form.
	case strings.HasPrefix(cleaned, "0"):
		cleaned = "254" + cleaned[1:]
	case strings.HasPrefix(cleaned, "7") || strings.HasPrefix(cleaned, "1"):
		cleaned = "254" + cleaned
	default:
		return "", shared.ErrInvalidPhoneNumber
	}

	if len(cleaned) != 12 || !isDigits(cleaned) {
		return "", shared.ErrInvalidPhoneNumber
	}
	// Kenyan mobile prefixes are 7XX and 1XX.
	if cleaned[3] != '7' && cleaned[3] != '1' {
		return "", shared.ErrInvalidPhoneNumber
	}
	return cleaned, nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
