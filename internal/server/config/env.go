package config

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// dotenvFiles are loaded (when present) before the environment is read.
// Variables already set in the process environment take precedence.
var dotenvFiles = []string{".env"}

// parseEnv overlays Config fields that have a matching environment variable.
// Unset variables leave the current value untouched.
func parseEnv(config *Config) error {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := env.Parse(config); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
