// Package id provides unique identifier generation for runs.
package id

import "github.com/google/uuid"

// Prefix starts every run ID.
const Prefix = "run-"

// Generate creates a new unique run ID.
// Format: run-<uuid v4>
// Example: run-0b6c1f1e-5a0e-4f55-9d43-2a6f0e1d7c1a
func Generate() string {
	return Prefix + uuid.NewString()
}

// Valid reports whether s looks like an ID produced by Generate.
func Valid(s string) bool {
	if len(s) <= len(Prefix) || s[:len(Prefix)] != Prefix {
		return false
	}
	_, err := uuid.Parse(s[len(Prefix):])
	return err == nil
}
