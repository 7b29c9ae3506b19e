package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// envFiles are tried in order; the first one that exists is loaded.
var envFiles = []string{".env", ".env.local"}

// loadEnvFiles loads the first existing .env file without overriding variables
// already present in the process environment. It returns the loaded filename, or
// "" when none exists.
func loadEnvFiles() (string, error) {
	for _, name := range envFiles {
		if _, err := os.Stat(name); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(name); err != nil {
			return "", err
		}
		return name, nil
	}
	return "", nil
}
