// ABOUTME: Phone number normalization for contact matching
// ABOUTME: Reduces phone numbers to digits so formatting differences never split a contact
package sync

import (
	"strings"
	"unicode"
)

// NormalizePhone strips everything but digits. "555-0100", "(555) 0100"
// and "555.0100" all normalize to "5550100". Returns "" when the input
// contains no digits at all.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
