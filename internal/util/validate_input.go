package util

import (
	"html"
	"regexp"
	"strings"
)

// rollNumberPattern is checked before any store access; malformed input
// never reaches a repository.
var rollNumberPattern = regexp.MustCompile(`^[A-Z0-9]{6,15}$`)

// ValidRollNumber reports whether s is a well-formed roll number.
func ValidRollNumber(s string) bool {
	return rollNumberPattern.MatchString(s)
}

// SanitizeInput escapes HTML/script-like characters
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}

// ContainsSuspicious flags script- or SQL-injection-looking input.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	badTokens := []string{
		"<", ">", "$", "{", "}", "script", "onerror", "onload",
		"'", "\"", ";", "--", "/*", " or ", " union ", "drop table",
	}
	for _, tok := range badTokens {
		if strings.Contains(lower, tok) {
			return true
		}
	}
	return false
}
