// Package config provides the configuration schema, loader, and interpretation
// provider registry for voxlate.
package config

import "time"

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voxlate.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server ServerConfig `yaml:"server"`
	Audio  AudioConfig  `yaml:"audio"`
	Interp InterpConfig `yaml:"interp"`
}

// ServerConfig holds the metrics endpoint and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the /metrics endpoint listens on
	// (e.g., ":9090"). Empty disables the endpoint.
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`
}

// AudioConfig holds the pipeline's audio parameters.
type AudioConfig struct {
	// FrameDuration is the length of each encoded capture frame.
	// Defaults to 100ms; valid range [10ms, 500ms].
	FrameDuration time.Duration `yaml:"frame_duration"`

	// PadFile is a path to a raw PCM16 mono file (at the playback rate) used
	// as the looping ambient pad. Empty selects the built-in generated pad.
	PadFile string `yaml:"pad_file"`

	// PadVolume is the ambient pad gain as a fraction of full scale, in
	// [0, 0.5] — the pad must never overwhelm speech. An explicit 0 keeps
	// the pad silent; leaving the field unset selects [DefaultPadVolume].
	PadVolume *float64 `yaml:"pad_volume"`

	// InputDevice optionally names the capture device for microphone mode.
	// Empty selects the system default input.
	InputDevice string `yaml:"input_device"`

	// LoopbackDevice optionally names the system-audio loopback device for
	// display mode. Empty triggers a name-based search for a monitor device.
	LoopbackDevice string `yaml:"loopback_device"`
}

// InterpConfig selects and configures the interpretation backend.
type InterpConfig struct {
	Provider ProviderEntry `yaml:"provider"`
}

// ProviderEntry is the configuration block for an interpretation provider.
// The Name field is used to look up the constructor in the [Registry].
type ProviderEntry struct {
	// Name selects the registered provider implementation (e.g., "gemini-live").
	Name string `yaml:"name"`

	// APIKey is the authentication key for the provider's API. Usually left
	// empty in YAML and injected from the environment.
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the provider's default endpoint. Leave empty for the
	// built-in default.
	BaseURL string `yaml:"base_url"`

	// Model selects a specific model within the provider.
	Model string `yaml:"model"`

	// Voice selects the synthesised voice. Provider-specific identifier.
	Voice string `yaml:"voice"`

	// TargetLanguage is the language interpreted into (e.g. "English").
	TargetLanguage string `yaml:"target_language"`
}

// Default values applied by the loader when fields are unset.
const (
	DefaultFrameDuration = 100 * time.Millisecond
	DefaultPadVolume     = 0.15

	// MaxPadVolume is the documented cap on the ambient pad gain.
	MaxPadVolume = 0.5
)
