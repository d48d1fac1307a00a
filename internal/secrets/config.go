package secrets

import (
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrInvalidRegex indicates an allowlist pattern failed to compile.
	ErrInvalidRegex = errors.New("invalid regex pattern")

	// ErrInvalidTOML indicates an allowlist file could not be parsed.
	ErrInvalidTOML = errors.New("invalid TOML format")
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing is active (default: true)
	Enabled bool `koanf:"enabled"`

	// AllowRegexes contains content patterns excluded from detection.
	AllowRegexes []string `koanf:"allow_regexes"`

	// AllowlistPath points at an optional allowlist TOML file. A missing
	// file is skipped; an invalid one fails construction.
	AllowlistPath string `koanf:"allowlist_path"`
}

// DefaultConfig returns a configuration with scrubbing enabled and the
// stock gitleaks ruleset.
func DefaultConfig() *Config {
	return &Config{
		Enabled: true,
	}
}

// Validate checks the allowlist patterns compile.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}

	for _, pattern := range c.AllowRegexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return fmt.Errorf("%w: %q: %v", ErrInvalidRegex, pattern, err)
		}
	}

	return nil
}
