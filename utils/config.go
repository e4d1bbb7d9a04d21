package utils

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// Config holds the settings of an inference run.
type Config struct {
	// Backend is "sim" for the plaintext slot simulator or "ckks".
	Backend string `toml:"backend"`

	// CKKS parameters, used when Backend is "ckks"
	LogN     int   `toml:"log_n"`
	LogQ     []int `toml:"log_q"`
	LogP     []int `toml:"log_p"`
	LogScale int   `toml:"log_scale"`

	// Simulator parameters, used when Backend is "sim"
	Slots int `toml:"slots"`
	Depth int `toml:"depth"`

	// Model names the demo network, "classifier" or "autoencoder".
	Model string `toml:"model"`

	// Bootstrap refreshes shards between layers whenever the next layer
	// would not fit in the remaining depth.
	Bootstrap bool `toml:"bootstrap"`

	Workers int   `toml:"workers"`
	Verbose bool  `toml:"verbose"`
	Seed    int64 `toml:"seed"`

	// Input tensor geometry [Channels, MtxSize, MtxSize]
	Channels int `toml:"channels"`
	MtxSize  int `toml:"mtx_size"`

	PolyDegree   int     `toml:"poly_degree"`
	PolyBound    float64 `toml:"poly_bound"`
	UpsampleMode string  `toml:"upsample_mode"`
	WeightsFile  string  `toml:"weights_file"`
}

// DefaultConfig returns a configuration that runs the demo network on the
// simulator.
func DefaultConfig() *Config {
	return &Config{
		Backend:      "sim",
		LogN:         12,
		LogQ:         []int{55, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40, 40},
		LogP:         []int{61, 61},
		LogScale:     40,
		Slots:        2048,
		Depth:        16,
		Model:        "classifier",
		Workers:      4,
		Verbose:      true,
		Seed:         1,
		Channels:     4,
		MtxSize:      16,
		PolyDegree:   13,
		PolyBound:    4,
		UpsampleMode: "nearest",
	}
}

// ParseConfig decodes TOML text on top of the defaults.
func ParseConfig(data string) (*Config, error) {
	cfg := DefaultConfig()
	md, err := toml.Decode(data, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	return cfg, nil
}

// LoadConfig reads and validates a TOML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := ParseConfig(string(data))
	if err != nil {
		return nil, err
	}
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func isPow2(n int) bool { return n > 0 && n&(n-1) == 0 }

// ValidateConfig validates an inference configuration
func ValidateConfig(config *Config) error {
	switch config.Backend {
	case "sim":
		if !isPow2(config.Slots) {
			return fmt.Errorf("slots must be a power of two, got %d", config.Slots)
		}
		if config.Depth <= 0 {
			return fmt.Errorf("depth must be positive")
		}
	case "ckks":
		if config.LogN < 4 || config.LogN > 17 {
			return fmt.Errorf("log_n must be in [4, 17], got %d", config.LogN)
		}
		if len(config.LogQ) < 2 || len(config.LogP) < 1 {
			return fmt.Errorf("modulus chain needs at least 2 Q and 1 P primes")
		}
	default:
		return fmt.Errorf("backend must be 'sim' or 'ckks', got %q", config.Backend)
	}

	if config.Model != "classifier" && config.Model != "autoencoder" {
		return fmt.Errorf("model must be 'classifier' or 'autoencoder', got %q", config.Model)
	}
	if config.Workers <= 0 {
		return fmt.Errorf("workers must be positive")
	}
	if config.Channels <= 0 || !isPow2(config.MtxSize) || config.MtxSize < 4 {
		return fmt.Errorf("input must have channels > 0 and a power-of-two size >= 4")
	}
	if config.PolyDegree < 1 || config.PolyDegree > 200 {
		return fmt.Errorf("poly_degree must be in [1, 200]")
	}
	if config.PolyBound <= 0 {
		return fmt.Errorf("poly_bound must be positive")
	}
	if config.UpsampleMode != "nearest" && config.UpsampleMode != "bed_of_nails" {
		return fmt.Errorf("upsample_mode must be 'nearest' or 'bed_of_nails'")
	}
	return nil
}
