package daraja

import "strings"

// NormalizePhone converts a subscriber number to country-code-prefixed
// digits. "0712345678" and "712345678" both become "254712345678"; an
// already-prefixed number passes through unchanged.
func NormalizePhone(phone, countryCode string) string {
	phone = strings.TrimSpace(phone)
	phone = strings.TrimPrefix(phone, "+")

	switch {
	case strings.HasPrefix(phone, countryCode):
		return phone
	case strings.HasPrefix(phone, "0"):
		return countryCode + phone[1:]
	default:
		return countryCode + phone
	}
}
