// Package util provides utility functions for GoalBot.
package util

import (
	"math/rand"
	"strings"
)

// VerificationCodeLength is the length of codes issued to unlinked chat accounts.
const VerificationCodeLength = 16

const alphaNumeric = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"

// GenerateRandomAlphaNumeric generates a random alphanumeric string of the specified length.
// The result is not suitable for secrets.
func GenerateRandomAlphaNumeric(length int) string {
	if length <= 0 {
		return ""
	}

	var builder strings.Builder
	builder.Grow(length)

	for i := 0; i < length; i++ {
		builder.WriteByte(alphaNumeric[rand.Intn(len(alphaNumeric))])
	}

	return builder.String()
}

// GenerateVerificationCode returns a fresh account verification code.
func GenerateVerificationCode() string {
	return GenerateRandomAlphaNumeric(VerificationCodeLength)
}

// IsAlphaNumeric reports whether s is non-empty and only contains [0-9A-Za-z].
func IsAlphaNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(alphaNumeric, s[i]) < 0 {
			return false
		}
	}
	return true
}
