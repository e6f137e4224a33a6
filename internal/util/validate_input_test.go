package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidRollNumber(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"ABC123", true},
		{"ROLL123456", true},
		{"A1B2C3D4E5F6G7H", true}, // 15 chars, upper bound
		{"AB12", false},           // too short
		{"A1B2C3D4E5F6G7H8", false}, // 16 chars, too long
		{"abc123", false},         // lowercase
		{"ABC 123", false},
		{"ABC-123", false},
		{"", false},
		{"ROLL'; DROP TABLE", false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ValidRollNumber(tt.input), "input %q", tt.input)
	}
}

func TestContainsSuspicious(t *testing.T) {
	suspicious := []string{
		"x' OR '1'='1",
		`a"b`,
		"1; DROP TABLE users",
		"foo--",
		"/*comment*/",
		"<script>alert(1)</script>",
		"a UNION b", // lowered to " union "
	}
	for _, s := range suspicious {
		assert.True(t, ContainsSuspicious(s), "input %q", s)
	}

	clean := []string{
		"ROLL123456",
		"Asha Verma",
		"VER001",
	}
	for _, s := range clean {
		assert.False(t, ContainsSuspicious(s), "input %q", s)
	}
}

func TestSanitizeInput(t *testing.T) {
	assert.Equal(t, "&lt;b&gt;x&lt;/b&gt;", SanitizeInput("  <b>x</b>  "))
	assert.Equal(t, "plain", SanitizeInput("plain"))
}
