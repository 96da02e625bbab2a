package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "kapsule.conf")
	contents := "[kapsule]\ndefault_container = work\ndefault_image = images:archlinux\n"
	require.NoError(t, writeFile(path, contents))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "work", cfg.DefaultContainer)
	assert.Equal(t, "images:archlinux", cfg.DefaultImage)
	assert.Equal(t, map[string]string{
		"default_container": "work",
		"default_image":     "images:archlinux",
	}, cfg.AsMap())
}

func TestLoadMissingFallsBackToEmpty(t *testing.T) {
	Paths = []string{filepath.Join(t.TempDir(), "nope.conf")}
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, &Config{}, cfg)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o600)
}
