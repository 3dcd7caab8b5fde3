package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal — silently ignoring a typo in
// an auth entry would change who can read what.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config: unknown keys in %s: %s",
			path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	cfg.WorkingDirectory = expandTilde(cfg.WorkingDirectory)
	cfg.Database = expandTilde(cfg.Database)

	return cfg, nil
}
