package utils

import (
	"fmt"
	"math/rand"
	"os"
	"strconv"
)

// GetEnv reads an environment variable, returning the fallback when unset or empty.
func GetEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

// GetEnvInt reads an integer environment variable with a fallback default.
func GetEnvInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}

// GetEnvFloat reads a float environment variable with a fallback default.
func GetEnvFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fallback
	}
	return value
}

// CreateFolder ensures a directory exists, creating parents as needed.
func CreateFolder(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", path, err)
	}
	return nil
}

// GenerateUniqueID returns a random 32-bit identifier for ad-hoc resource names.
func GenerateUniqueID() uint32 {
	return rand.Uint32()
}
