// Package config handles YAML config file loading for the mirage CLI.
package config

import (
	"os"
	"regexp"
)

// envRef matches ${VAR} and ${VAR:-default} references in config text.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-([^}]*))?\}`)

// ExpandEnv substitutes ${VAR} and ${VAR:-default} references with
// environment variable values. A ${VAR:-default} reference falls back to
// the default when VAR is unset or empty.
//
// An unset variable without a default expands to the empty string rather
// than erroring. Required values are caught downstream, e.g. the model
// client rejects an empty base URL.
func ExpandEnv(input string) string {
	return envRef.ReplaceAllStringFunc(input, func(ref string) string {
		groups := envRef.FindStringSubmatch(ref)
		name, fallback := groups[1], groups[2]
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}
