package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// envOr returns the value of the environment variable key, or fallback
// when it is unset or empty.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envBool reports whether key is set to anything but a false value.
func envBool(key string) bool {
	v := os.Getenv(key)
	if v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err != nil || b
}

// parsePID parses a decimal or 0x-prefixed PID.
func parsePID(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid PID %q: %w", s, err)
	}
	if v > 0x1FFF {
		return 0, fmt.Errorf("PID %d out of range [0, 8191]", v)
	}
	return uint16(v), nil
}

// parseStreamID parses a decimal or 0x-prefixed PES stream ID.
func parseStreamID(s string) (uint8, error) {
	v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid stream id %q: %w", s, err)
	}
	return uint8(v), nil
}

// fileName turns a stream key or address into a safe file name stem.
func fileName(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, s)
	s = strings.Trim(s, ".")
	if s == "" {
		return "stream"
	}
	return s
}
