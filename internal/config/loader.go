package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known interpretation provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidProviderNames = []string{"gemini-live"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults, and
// validates the result. Useful in tests where configs are constructed from
// string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults fills unset fields with their documented defaults.
func applyDefaults(cfg *Config) {
	if cfg.Audio.FrameDuration == 0 {
		cfg.Audio.FrameDuration = DefaultFrameDuration
	}
	if cfg.Audio.PadVolume == nil {
		v := DefaultPadVolume
		cfg.Audio.PadVolume = &v
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if d := cfg.Audio.FrameDuration; d < 10*time.Millisecond || d > 500*time.Millisecond {
		errs = append(errs, fmt.Errorf("audio.frame_duration %v is out of range [10ms, 500ms]", d))
	}
	if v := cfg.Audio.PadVolume; v != nil && (*v < 0 || *v > MaxPadVolume) {
		errs = append(errs, fmt.Errorf("audio.pad_volume %.2f is out of range [0, %.1f]", *v, MaxPadVolume))
	}

	if name := cfg.Interp.Provider.Name; name != "" && !slices.Contains(ValidProviderNames, name) {
		slog.Warn("unknown interpretation provider name — may be a typo or third-party provider",
			"name", name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Interp.Provider.Name == "" {
		slog.Warn("interp.provider.name is empty; the pipeline will run capture and playback but nothing will be interpreted")
	}

	return errors.Join(errs...)
}
