package config

import (
	"github.com/joho/godotenv"
)

// loadEnvFile loads environment variables from the first of .env and
// .env.local that loads successfully (trying .env first), without
// overriding anything already set in the process environment. Once one
// file has loaded, the other is not read. A missing file is not an error.
func loadEnvFile() error {
	envPaths := []string{".env", ".env.local"}
	for _, envPath := range envPaths {
		if err := godotenv.Load(envPath); err == nil {
			return nil
		}
	}
	return nil
}
