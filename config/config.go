// Package config loads tapestry settings from a YAML file.
package config

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultServerURL is the frame stream endpoint used when none is
	// configured.
	DefaultServerURL = "ws://127.0.0.1:18081/ws"

	defaultEventBuffer = 100
)

// Config holds settings from ~/.tapestry.yaml.
type Config struct {
	ServerURL         string `yaml:"server_url"`
	MaxToolInputBytes int    `yaml:"max_tool_input_bytes"`
	RecordErrorFrames bool   `yaml:"record_error_frames"`
	EventBuffer       int    `yaml:"event_buffer"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:   DefaultServerURL,
		EventBuffer: defaultEventBuffer,
	}
}

// Load reads a config file.
// Returns the default config if the file doesn't exist.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}

	if config.ServerURL == "" {
		config.ServerURL = DefaultServerURL
	}
	if config.EventBuffer <= 0 {
		config.EventBuffer = defaultEventBuffer
	}

	return &config, nil
}

// DefaultPath returns the per-user config file path.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".tapestry.yaml"), nil
}
