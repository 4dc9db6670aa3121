// Package config loads the YA_* settings of the server, agent and token
// binaries. Field tags follow caarlos0/env: `env:"YA_X,required"` and
// `envDefault:"..."`; ids and durations parse through their text form.
package config

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
)

// ParseEnv fills target, a pointer to a tagged config struct. A missing
// required variable or an unparsable value fails the whole load.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Exitf reports a startup error and exits with status 1. Only for main, before
// the logger is configured.
func Exitf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
