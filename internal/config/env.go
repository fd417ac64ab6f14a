// Package config loads the arx5 command configuration: an optional YAML
// file followed by environment overrides.
package config

import (
	"os"
	"strconv"
	"strings"
)

// Environment variables read by Load.
const (
	EnvModel     = "ARX5_MODEL"
	EnvInterface = "ARX5_INTERFACE"
	EnvLogLevel  = "ARX5_LOG_LEVEL"
	EnvWebPort   = "ARX5_WEB_PORT"
)

// String returns the value of key, or def when unset.
func String(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// Int returns key parsed as an int, or def when unset or malformed.
func Int(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// Bool returns key parsed as a bool, or def when unset or malformed.
func Bool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return b
}
