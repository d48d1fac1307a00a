package secrets

import (
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Allowlist contains content regex patterns to exclude from secret detection.
type Allowlist struct {
	Regexes []string
}

// LoadAllowlist reads an allowlist TOML file:
//
//	[allowlist]
//	regexes = ['''DEMO_API_KEY''']
//
// A missing file returns an empty allowlist. Invalid TOML or regex
// patterns return errors.
func LoadAllowlist(path string) (*Allowlist, error) {
	var config struct {
		Allowlist struct {
			Regexes []string
		}
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &Allowlist{Regexes: []string{}}, nil
		}
		return nil, err
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	// Fail fast on patterns that would panic at detection time
	for _, pattern := range config.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: pattern %q in %s: %v",
				ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes: config.Allowlist.Regexes,
	}, nil
}
