package utils

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	require.NoError(t, ValidateConfig(DefaultConfig()))
}

func TestParseConfigOverridesDefaults(t *testing.T) {
	cfg, err := ParseConfig(`
backend = "ckks"
log_n = 10
workers = 2
poly_degree = 27
upsample_mode = "bed_of_nails"
bootstrap = true
`)
	require.NoError(t, err)
	assert.Equal(t, "ckks", cfg.Backend)
	assert.Equal(t, 10, cfg.LogN)
	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 27, cfg.PolyDegree)
	assert.True(t, cfg.Bootstrap)
	assert.False(t, DefaultConfig().Bootstrap)
	assert.Equal(t, 16, cfg.MtxSize, "unset keys keep their defaults")
	require.NoError(t, ValidateConfig(cfg))
}

func TestParseConfigRejectsUnknownKeys(t *testing.T) {
	_, err := ParseConfig(`batch_size = 3`)
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	cases := map[string]func(*Config){
		"backend":  func(c *Config) { c.Backend = "gpu" },
		"slots":    func(c *Config) { c.Slots = 1000 },
		"workers":  func(c *Config) { c.Workers = 0 },
		"model":    func(c *Config) { c.Model = "resnet" },
		"mtx size": func(c *Config) { c.MtxSize = 12 },
		"degree":   func(c *Config) { c.PolyDegree = 201 },
		"bound":    func(c *Config) { c.PolyBound = 0 },
		"mode":     func(c *Config) { c.UpsampleMode = "bilinear" },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		assert.Error(t, ValidateConfig(cfg), name)
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("slots = 4096\ndepth = 20\n"), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 4096, cfg.Slots)
	assert.Equal(t, 20, cfg.Depth)

	require.NoError(t, os.WriteFile(path, []byte("workers = -1\n"), 0644))
	_, err = LoadConfig(path)
	assert.Error(t, err)
}
