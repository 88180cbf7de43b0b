package utils

import (
	"crypto/rand"
	"fmt"
	"strings"
)

// CodeLength is the length of a signalling session code
const CodeLength = 8

// Codes are read out over a voice channel as often as they are pasted, so
// the alphabet leaves out 0/O and 1/I/L.
const codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"

// GenerateCode returns a random session code of CodeLength characters.
func GenerateCode() (string, error) {
	// Largest multiple of the alphabet size below 256; bytes above it are
	// redrawn so every character is equally likely.
	limit := byte(256 - 256%len(codeAlphabet))

	code := make([]byte, 0, CodeLength)
	buf := make([]byte, CodeLength*2)
	for len(code) < CodeLength {
		if _, err := rand.Read(buf); err != nil {
			return "", fmt.Errorf("failed to read random bytes: %w", err)
		}
		for _, b := range buf {
			if b >= limit || len(code) == CodeLength {
				continue
			}
			code = append(code, codeAlphabet[int(b)%len(codeAlphabet)])
		}
	}
	return string(code), nil
}

// NormalizeCode upper-cases a typed code and strips surrounding space.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidCode reports whether code, once normalized, is CodeLength
// alphanumeric characters.
func IsValidCode(code string) bool {
	code = NormalizeCode(code)
	if len(code) != CodeLength {
		return false
	}
	for _, c := range code {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
