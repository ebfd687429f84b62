// Package config loads process configuration from CHAT_-prefixed
// environment variables into tagged structs. The per-command packages under
// internal/cmd layer flag overrides on top of these defaults.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target from its env struct tags. envDefault values apply
// when a variable is unset.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
