package invoicekit

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultMarkers are the invoice header strings used when no explicit
// markers or pattern are configured. Matching is case-insensitive.
var DefaultMarkers = []string{
	"Faktura",
	"Invoice",
	"Faktura br.",
	"Invoice No.",
	"Račun",
	"Bill",
}

// Config carries file-level settings for the CLI and for embedders
// that prefer declarative configuration.
type Config struct {
	// Markers are literal invoice-header strings. Empty means
	// DefaultMarkers.
	Markers []string `yaml:"markers"`

	// Pattern is a regular expression boundary rule. When set it takes
	// precedence over Markers.
	Pattern string `yaml:"pattern"`

	// Replacements maps old text to new text for the edit pipeline.
	Replacements map[string]string `yaml:"replacements"`

	// OutputDir receives generated files. Empty means the input
	// file's directory.
	OutputDir string `yaml:"output_dir"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns the built-in settings.
func DefaultConfig() Config {
	return Config{Markers: append([]string(nil), DefaultMarkers...)}
}

// LoadConfig reads a YAML config file, filling unset fields with
// defaults.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Config{}, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return Config{}, err
	}
	cfg := Config{}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("invoicekit: parse config %s: %w", path, err)
	}
	if len(cfg.Markers) == 0 && cfg.Pattern == "" {
		cfg.Markers = append([]string(nil), DefaultMarkers...)
	}
	return cfg, nil
}
