// Package config exposes typed lookups over the process environment after
// the .env file has been loaded.
package config

import (
	"os"
	"strconv"
	"strings"

	"github.com/httprunner/bizlogic/internal/env"
)

func lookup(key string) string {
	_ = env.Ensure()
	return strings.TrimSpace(os.Getenv(key))
}

// String returns the trimmed variable or fallback when unset.
func String(key, fallback string) string {
	if val := lookup(key); val != "" {
		return val
	}
	return fallback
}

// Int parses an integer, falling back when unset or invalid.
func Int(key string, fallback int) int {
	if val := lookup(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return fallback
}

// Bool accepts 1/true/yes and 0/false/no.
func Bool(key string, fallback bool) bool {
	switch strings.ToLower(lookup(key)) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	}
	return fallback
}
