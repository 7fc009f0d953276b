package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	ControlPlane ControlPlaneConfig `toml:"control_plane" validate:"required"`
	Channel      ChannelConfig      `toml:"channel" validate:"required"`
	Database     DatabaseConfig     `toml:"database" validate:"required"`
	Report       ReportConfig       `toml:"report"`
	Log          LogConfig          `toml:"log"`
}

// ControlPlaneConfig contains settings for the request/response API that issues credentials and starts tasks.
type ControlPlaneConfig struct {
	BaseURL           string  `toml:"base_url" validate:"required,url"`
	Token             string  `toml:"token"`
	TimeoutSeconds    int     `toml:"timeout_seconds" validate:"gte=0"`
	RequestsPerSecond float64 `toml:"requests_per_second" validate:"gte=0"`
	Burst             int     `toml:"burst" validate:"gte=0"`
}

// Timeout returns the per-request timeout, zero meaning none.
func (c ControlPlaneConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// ChannelConfig contains push-channel connection settings.
type ChannelConfig struct {
	URL                        string `toml:"url" validate:"required,url"`
	ReconnectInitialMillis     int    `toml:"reconnect_initial_ms" validate:"gte=0"`
	ReconnectMaxElapsedSeconds int    `toml:"reconnect_max_elapsed_seconds" validate:"gte=0"`
}

// DatabaseConfig contains task history database settings.
type DatabaseConfig struct {
	Path         string `toml:"path" validate:"required"`
	MaxOpenConns int    `toml:"max_open_conns" validate:"gte=0"`
	MaxIdleConns int    `toml:"max_idle_conns" validate:"gte=0"`
}

// ReportConfig contains report rendering settings.
type ReportConfig struct {
	PageSize int `toml:"page_size" validate:"gte=0"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level string `toml:"level" validate:"omitempty,oneof=debug info warn error"`
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Keys missing from the file keep the values of the embedded example config.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := toml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
