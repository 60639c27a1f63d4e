package utils

import "os"

// SafeEnv reads an environment variable, treating unset and empty alike
// and substituting fallback.
func SafeEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
