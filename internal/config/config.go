// Package config loads the server bootstrap file. Runtime state
// (speakers, scenes, schedules) lives in the database; this file only
// carries what is needed to reach it and the broker.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the server bootstrap configuration.
type Config struct {
	// DataDir holds the bbolt database. Default: ./data
	DataDir string `yaml:"data_dir"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// LogColors enables colored level prefixes.
	LogColors bool `yaml:"log_colors"`

	// PollIntervalSeconds is the schedule window poll interval.
	PollIntervalSeconds int `yaml:"poll_interval_seconds"`

	// SonosPort is the device control port.
	SonosPort int `yaml:"sonos_port"`

	MQTT MQTTConfig `yaml:"mqtt"`
}

// MQTTConfig configures the optional notification broker. Notifications
// are disabled when Broker is empty. Username and password may also
// come from the MQTT_USERNAME / MQTT_PASSWORD environment variables.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		DataDir:             "data",
		LogLevel:            "info",
		LogColors:           true,
		PollIntervalSeconds: 15,
		SonosPort:           1400,
		MQTT: MQTTConfig{
			ClientID: "sonos-orchestrator",
			Topic:    "sonos/notifications",
		},
	}
}

// Load reads the config file at path. A missing file yields the
// defaults; a present but unparsable file is an error.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.PollIntervalSeconds < 1 {
		cfg.PollIntervalSeconds = 15
	}
	if cfg.SonosPort < 1 {
		cfg.SonosPort = 1400
	}

	// Environment wins for broker credentials so they stay out of the file.
	if v := os.Getenv("MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	return cfg, nil
}

// PollInterval returns the window poll interval as a duration.
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// DatabasePath returns the bbolt file location under DataDir.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, "sonos.db")
}

// Generate writes a commented default config file at path, creating
// parent directories. Refuses to overwrite an existing file.
func Generate(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists: %s", path)
	}

	data, err := yaml.Marshal(Default())
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := fmt.Sprintf(`# Server bootstrap configuration
# Generated at: %s
# Speakers, scenes and schedules are managed in the database,
# not in this file.

`, time.Now().Format(time.RFC3339))

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.WriteFile(path, append([]byte(header), data...), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}

	return nil
}
