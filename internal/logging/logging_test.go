package logging

import (
	"testing"
)

func TestNewFormats(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", Config{}, false},
		{"json", Config{Level: "debug", Format: "json"}, false},
		{"console upper", Config{Level: "WARN", Format: "CONSOLE"}, false},
		{"bad level", Config{Level: "loud"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New(%+v) error = %v, wantErr %v", tt.cfg, err, tt.wantErr)
			}
			if logger != nil {
				Sync(logger)
			}
		})
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PCAPFLOW_LOG_LEVEL", "error")
	t.Setenv("PCAPFLOW_LOG_FORMAT", "json")

	cfg := FromEnv()
	if cfg.Level != "error" {
		t.Errorf("Level = %q, want error", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
}

func TestFromEnvDefaults(t *testing.T) {
	t.Setenv("PCAPFLOW_LOG_LEVEL", "")
	t.Setenv("PCAPFLOW_LOG_FORMAT", "")

	cfg := FromEnv()
	if cfg.Level != "info" || cfg.Format != "console" {
		t.Errorf("FromEnv() = %+v, want info/console", cfg)
	}
}
