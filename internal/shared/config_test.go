package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.ControlPlane.BaseURL != "http://localhost:5000" {
			t.Errorf("expected control plane URL http://localhost:5000, got %s", config.ControlPlane.BaseURL)
		}
		if config.Channel.URL != "ws://localhost:5000/ws" {
			t.Errorf("expected channel URL ws://localhost:5000/ws, got %s", config.Channel.URL)
		}
		if config.Database.Path != "./detectx.db" {
			t.Errorf("expected database path ./detectx.db, got %s", config.Database.Path)
		}
		if config.Report.PageSize != 20 {
			t.Errorf("expected page size 20, got %d", config.Report.PageSize)
		}
		if config.ControlPlane.Timeout() != 30*time.Second {
			t.Errorf("expected 30s timeout, got %v", config.ControlPlane.Timeout())
		}
		if err := config.Validate(); err != nil {
			t.Errorf("default config should validate: %v", err)
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		if config.Database.Path != DefaultConfig().Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[control_plane]
base_url = "https://detect.example.com"
token = "secret"

[channel]
url = "wss://detect.example.com/ws"

[database]
path = "/custom/path.db"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.ControlPlane.BaseURL != "https://detect.example.com" {
			t.Errorf("expected base URL override, got %s", config.ControlPlane.BaseURL)
		}
		if config.ControlPlane.Token != "secret" {
			t.Errorf("expected token secret, got %s", config.ControlPlane.Token)
		}
		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}
		if config.Report.PageSize != 20 {
			t.Errorf("missing keys should keep defaults, got page size %d", config.Report.PageSize)
		}
	})

	t.Run("LoadConfig rejects invalid values", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[control_plane]
base_url = "not a url"

[log]
level = "chatty"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		_, err := LoadConfig(configPath)
		if !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
	})

	t.Run("LoadConfig missing file", func(t *testing.T) {
		if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
			t.Error("expected error for missing file")
		}
	})
}
