package env

import (
	"os"
	"strings"
)

// Get returns the value of the given environment variable or a fallback.
func Get(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

// Is reports whether the variable is set to want, ignoring case.
func Is(key, want string) bool {
	return strings.EqualFold(Get(key, ""), want)
}
