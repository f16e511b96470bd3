// Package config provides configuration loading and management for comptonsky.
// It handles loading configuration from YAML files, environment overrides and
// provides default values.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"comptonsky/pkg/reconstruction"
)

// ErrInvalidConfig is returned by Validate.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// Config represents the application configuration loaded from YAML
type Config struct {
	// Input files
	Input struct {
		// Response is the detector response file written by response.WriteFile
		Response string `yaml:"response" env:"COMPTONSKY_RESPONSE"`

		// Events is the CBOR event stream
		Events string `yaml:"events" env:"COMPTONSKY_EVENTS"`
	} `yaml:"input"`

	// Event selection parameters
	Selection struct {
		// MinEnergy and MaxEnergy bound the accepted event energy in keV.
		// A zero MaxEnergy means no upper bound.
		MinEnergy float64 `yaml:"minEnergy" env:"COMPTONSKY_MIN_ENERGY"`
		MaxEnergy float64 `yaml:"maxEnergy" env:"COMPTONSKY_MAX_ENERGY"`

		// MinPhi and MaxPhi bound the accepted Compton scatter angle in degrees
		MinPhi float64 `yaml:"minPhi" env:"COMPTONSKY_MIN_PHI"`
		MaxPhi float64 `yaml:"maxPhi" env:"COMPTONSKY_MAX_PHI"`

		// ExcludedEvents lists event ids that are never used
		ExcludedEvents []uint64 `yaml:"excludedEvents,omitempty" env:"COMPTONSKY_EXCLUDED_EVENTS"`
	} `yaml:"selection"`

	// Data space binning. Empty edges and zero bin counts take the binning of
	// the response's measured axes.
	DataSpace struct {
		EnergyEdges   []float64 `yaml:"energyEdges,omitempty" env:"COMPTONSKY_ENERGY_EDGES"`
		PhiEdges      []float64 `yaml:"phiEdges,omitempty" env:"COMPTONSKY_PHI_EDGES"`
		DirectionBins int       `yaml:"directionBins" env:"COMPTONSKY_DIRECTION_BINS"`

		// PointingBins is the requested bin count of both pointing axes
		PointingBins int `yaml:"pointingBins" env:"COMPTONSKY_POINTING_BINS"`
	} `yaml:"dataSpace"`

	// Reconstruction parameters
	Reconstruction struct {
		// Algorithm is maxent or mlem
		Algorithm string `yaml:"algorithm" env:"COMPTONSKY_ALGORITHM"`

		// Iterations is the number of iterations after backprojection
		Iterations int `yaml:"iterations" env:"COMPTONSKY_ITERATIONS"`

		// Workers specifies how many goroutines rotate the response, 0 for all cores
		Workers int `yaml:"workers" env:"COMPTONSKY_WORKERS"`
	} `yaml:"reconstruction"`

	// Output parameters
	Output struct {
		// Image is where the final image matrix is written
		Image string `yaml:"image" env:"COMPTONSKY_IMAGE"`

		// SnapshotDir receives one PNG per iteration. Empty disables snapshots.
		SnapshotDir string `yaml:"snapshotDir" env:"COMPTONSKY_SNAPSHOT_DIR"`

		// SkyWidth is the pixel width of sky map snapshots
		SkyWidth int `yaml:"skyWidth" env:"COMPTONSKY_SKY_WIDTH"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel" env:"COMPTONSKY_LOG_LEVEL"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Input.Response = "response.cbor"
	cfg.Input.Events = "events.cbor"

	// Full scatter-angle range, no energy cut
	cfg.Selection.MinEnergy = 0
	cfg.Selection.MaxEnergy = 0
	cfg.Selection.MinPhi = 0
	cfg.Selection.MaxPhi = 180

	cfg.DataSpace.PointingBins = 1000

	cfg.Reconstruction.Algorithm = string(reconstruction.MaxEnt)
	cfg.Reconstruction.Iterations = 20
	cfg.Reconstruction.Workers = 0 // Use all available cores by default

	cfg.Output.Image = "image.cbor"
	cfg.Output.SnapshotDir = ""
	cfg.Output.SkyWidth = 360
	cfg.Output.LogLevel = "info"

	return cfg
}

// LoadConfig loads configuration from a YAML file and applies environment
// overrides. If the file doesn't exist, the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("error reading config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("error parsing config file: %w", err)
			}
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("error parsing environment: %w", err)
	}
	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}
	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	return SaveConfig(DefaultConfig(), configPath)
}

// Validate checks ranges and binning. Every problem wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format+": %w", append(args, ErrInvalidConfig)...))
	}

	s := c.Selection
	if s.MinEnergy < 0 || s.MaxEnergy < 0 {
		add("energy window [%g, %g] is negative", s.MinEnergy, s.MaxEnergy)
	}
	if s.MaxEnergy != 0 && s.MaxEnergy < s.MinEnergy {
		add("energy window [%g, %g] is empty", s.MinEnergy, s.MaxEnergy)
	}
	if s.MinPhi < 0 || s.MaxPhi > 180 || s.MinPhi > s.MaxPhi {
		add("scatter window [%g, %g] outside 0..180", s.MinPhi, s.MaxPhi)
	}

	d := c.DataSpace
	if err := checkEdges("energyEdges", d.EnergyEdges); err != nil {
		errs = append(errs, err)
	}
	if err := checkEdges("phiEdges", d.PhiEdges); err != nil {
		errs = append(errs, err)
	}
	if d.DirectionBins < 0 {
		add("directionBins %d is negative", d.DirectionBins)
	}
	if d.PointingBins < 1 {
		add("pointingBins %d must be positive", d.PointingBins)
	}

	r := c.Reconstruction
	if _, err := reconstruction.ParseAlgorithm(r.Algorithm); err != nil {
		add("algorithm %q", r.Algorithm)
	}
	if r.Iterations < 0 {
		add("iterations %d is negative", r.Iterations)
	}
	if r.Workers < 0 {
		add("workers %d is negative", r.Workers)
	}

	if c.Input.Response == "" || c.Input.Events == "" {
		add("response and events paths are required")
	}
	if c.Output.SkyWidth < 0 {
		add("skyWidth %d is negative", c.Output.SkyWidth)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Level parses the configured log level.
func (c *Config) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.Output.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("logLevel %q: %w", c.Output.LogLevel, ErrInvalidConfig)
	}
	return l, nil
}

// checkEdges accepts an empty list or at least two strictly increasing edges.
func checkEdges(name string, edges []float64) error {
	if len(edges) == 0 {
		return nil
	}
	if len(edges) < 2 {
		return fmt.Errorf("%s needs at least 2 edges: %w", name, ErrInvalidConfig)
	}
	for i := 1; i < len(edges); i++ {
		if !(edges[i] > edges[i-1]) {
			return fmt.Errorf("%s not increasing at %d: %w", name, i, ErrInvalidConfig)
		}
	}
	return nil
}
