package utils

import "os"

// SafeEnv returns the value of key, or fallback when the variable is unset
// or empty. All TRIALCONSENT_* settings go through here.
func SafeEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}
