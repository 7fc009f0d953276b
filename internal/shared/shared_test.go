package shared

import (
	"bytes"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/charmbracelet/log"
)

func TestLogger(t *testing.T) {
	t.Run("SetLogLevel", func(t *testing.T) {
		var buf bytes.Buffer
		logger := NewLogger(&buf)

		if err := SetLogLevel(logger, "warn"); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if logger.GetLevel() != log.WarnLevel {
			t.Errorf("expected warn level, got %v", logger.GetLevel())
		}

		logger.Info("hidden")
		if strings.Contains(buf.String(), "hidden") {
			t.Error("info message should be filtered at warn level")
		}

		if err := SetLogLevel(logger, "loud"); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig, got %v", err)
		}
		if err := SetLogLevel(logger, ""); err != nil {
			t.Errorf("empty level should be ignored, got %v", err)
		}
	})

	t.Run("NewFileLogger", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "nested", "detectx.log")
		logger, err := NewFileLogger(path)
		if err != nil {
			t.Fatalf("failed to create file logger: %v", err)
		}
		logger.Info("hello from file")

		content, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("failed to read log file: %v", err)
		}
		if !strings.Contains(string(content), "hello from file") {
			t.Errorf("log file missing message, got %q", content)
		}
	})

	t.Run("GenerateID", func(t *testing.T) {
		a, b := GenerateID(), GenerateID()
		if a == b {
			t.Error("expected unique IDs")
		}
		if len(a) != 36 {
			t.Errorf("expected UUID string, got %q", a)
		}
	})
}

func TestOpenBrowser(t *testing.T) {
	origStart := startCommand
	origRuntime := getRuntime
	defer func() {
		startCommand = origStart
		getRuntime = origRuntime
	}()

	var started []string
	startCommand = func(cmd *exec.Cmd) error {
		started = cmd.Args
		return nil
	}

	tc := []struct {
		name     string
		runtime  string
		url      string
		wantArgs []string
		wantErr  bool
	}{
		{name: "linux", runtime: "linux", url: "https://cdn.example.com/v.mp4", wantArgs: []string{"xdg-open", "https://cdn.example.com/v.mp4"}},
		{name: "darwin", runtime: "darwin", url: "http://x.test/r.csv", wantArgs: []string{"open", "http://x.test/r.csv"}},
		{name: "unsupported platform", runtime: "plan9", url: "https://x.test", wantErr: true},
		{name: "rejects non http scheme", runtime: "linux", url: "file:///etc/passwd", wantErr: true},
		{name: "rejects relative", runtime: "linux", url: "/video.mp4", wantErr: true},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			started = nil
			getRuntime = func() string { return tt.runtime }

			err := OpenBrowser(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("OpenBrowser() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if strings.Join(started, " ") != strings.Join(tt.wantArgs, " ") {
				t.Errorf("started %v, want %v", started, tt.wantArgs)
			}
		})
	}
}
