// Package config loads the daemon's small INI configuration.
package config

import (
	"os"

	"gopkg.in/ini.v1"
)

// Paths are tried in order; the first that exists wins. A missing file at
// every path is not an error — Config just stays at its zero value.
var Paths = []string{
	"/etc/kapsule.conf",
	"/usr/lib/kapsule.conf",
}

// Config holds the recognized [kapsule] keys.
type Config struct {
	DefaultContainer string
	DefaultImage     string
}

// Load reads the first existing path in Paths, falling back to an empty
// Config when none exist.
func Load() (*Config, error) {
	for _, p := range Paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		return LoadFile(p)
	}
	return &Config{}, nil
}

// LoadFile parses a single INI file at path.
func LoadFile(path string) (*Config, error) {
	f, err := ini.Load(path)
	if err != nil {
		return nil, err
	}
	sec := f.Section("kapsule")
	return &Config{
		DefaultContainer: sec.Key("default_container").String(),
		DefaultImage:     sec.Key("default_image").String(),
	}, nil
}

// AsMap renders the recognized keys for the GetConfig bus method.
func (c *Config) AsMap() map[string]string {
	return map[string]string{
		"default_container": c.DefaultContainer,
		"default_image":     c.DefaultImage,
	}
}
