package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rsclarke/pcapflow/internal/audit"
)

func writeConfig(t *testing.T, data string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pcapflow.yaml")
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
input_dir: /data/s1
workers: 6
packets:
  salt: s3cret
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if cfg.Workers != 6 || cfg.Packets.Salt != "s3cret" {
		t.Fatalf("file values lost: %+v", cfg)
	}
	if cfg.Extensions[0] != ".pcap" {
		t.Errorf("expected default extension .pcap, got %v", cfg.Extensions)
	}
	if cfg.Continuity.GapThreshold != time.Second || cfg.Continuity.OverlapThreshold != time.Second {
		t.Errorf("expected 1s thresholds, got %+v", cfg.Continuity)
	}
	if cfg.Audit.ChunkSize != audit.DefaultChunkSize {
		t.Errorf("expected default chunk size, got %d", cfg.Audit.ChunkSize)
	}
	if cfg.Packets.Ports["2404"] != "IEC 60870-5-104" {
		t.Errorf("expected default port table, got %v", cfg.Packets.Ports)
	}
	if cfg.MQTT.Station != "S1" || cfg.Ledger != "pcapflow.db" {
		t.Errorf("unexpected defaults: station %q ledger %q", cfg.MQTT.Station, cfg.Ledger)
	}
}

func TestLoadFullFile(t *testing.T) {
	path := writeConfig(t, `
input_dir: /data/s2
extensions: [pcap, .pcapng]
tools:
  tshark: /opt/wireshark/tshark
  allowed_exit_codes: [0, 2]
  file_timeout: 90s
mqtt:
  station: S2
packets:
  salt: pepper
  ports:
    "502": Modbus
continuity:
  prober: native
  gap_threshold: 2500ms
audit:
  leak_pattern: '^(?:10\.|192\.168\.)'
  leak_columns: [Src_IP_Anonymized, Dst_IP_Anonymized]
metrics:
  addr: 127.0.0.1:9108
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Extensions[0] != ".pcap" || cfg.Extensions[1] != ".pcapng" {
		t.Errorf("extensions = %v", cfg.Extensions)
	}
	if cfg.Tools.FileTimeout != 90*time.Second || len(cfg.Tools.AllowedExitCodes) != 2 {
		t.Errorf("tools = %+v", cfg.Tools)
	}
	if cfg.Packets.Ports["502"] != "Modbus" || len(cfg.Packets.Ports) != 1 {
		t.Errorf("ports = %v", cfg.Packets.Ports)
	}
	th := cfg.Thresholds()
	if th.Gap != 2500*time.Millisecond || th.Overlap != time.Second {
		t.Errorf("thresholds = %+v", th)
	}
	re, err := cfg.LeakRegexp()
	if err != nil || !re.MatchString("192.168.0.1") || re.MatchString("172.16.0.1") {
		t.Errorf("leak pattern %q misbehaves: %v", cfg.Audit.LeakPattern, err)
	}
	if cfg.Metrics.Addr != "127.0.0.1:9108" || cfg.MQTT.Station != "S2" {
		t.Errorf("cfg = %+v", cfg)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PCAPFLOW_SALT", "from-env")
	t.Setenv("PCAPFLOW_WORKERS", "3")
	t.Setenv("PCAPFLOW_STATION", "S9")

	cfg, err := Load(writeConfig(t, "packets:\n  salt: from-file\nworkers: 8\n"))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Packets.Salt != "from-env" || cfg.Workers != 3 || cfg.MQTT.Station != "S9" {
		t.Errorf("env not applied: salt %q workers %d station %q", cfg.Packets.Salt, cfg.Workers, cfg.MQTT.Station)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\"): %v", err)
	}
	if cfg.Tools.TShark != "tshark" {
		t.Errorf("tshark = %q", cfg.Tools.TShark)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"negative workers", "workers: -1\n"},
		{"bad port", "packets:\n  ports:\n    \"99999\": Nope\n"},
		{"empty label", "packets:\n  ports:\n    \"502\": \"\"\n"},
		{"negative gap", "continuity:\n  gap_threshold: -1s\n"},
		{"unknown prober", "continuity:\n  prober: guess\n"},
		{"bad regexp", "audit:\n  leak_pattern: '('\n"},
		{"negative chunk", "audit:\n  chunk_size: -5\n"},
		{"not yaml", "workers: [\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(writeConfig(t, tt.data)); err == nil {
				t.Errorf("Load accepted %q", tt.data)
			}
		})
	}
}

func TestLoadBadEnvInt(t *testing.T) {
	t.Setenv("PCAPFLOW_WORKERS", "many")
	if _, err := Load(""); err == nil {
		t.Error("expected error for non-numeric PCAPFLOW_WORKERS")
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "file.txt")
	if err := os.WriteFile(file, nil, 0o600); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		kind    string
		wantErr error
		anyErr  bool
	}{
		{"mqtt ok", func(c *Config) { c.InputDir = dir }, KindMQTT, nil, false},
		{"packets without salt", func(c *Config) { c.InputDir = dir }, KindPackets, ErrNoSalt, true},
		{"packets ok", func(c *Config) { c.InputDir = dir; c.Packets.Salt = "x" }, KindPackets, nil, false},
		{"no input", func(c *Config) {}, KindContinuity, ErrNoInput, true},
		{"input missing", func(c *Config) { c.InputDir = filepath.Join(dir, "nope") }, KindMQTT, nil, true},
		{"input is a file", func(c *Config) { c.InputDir = file }, KindMQTT, nil, true},
		{"audit without input", func(c *Config) {}, KindAudit, nil, true},
		{"audit ok", func(c *Config) { c.Audit.Input = "x.csv" }, KindAudit, nil, false},
		{"audit zero chunk", func(c *Config) { c.Audit.Input = "x.csv"; c.Audit.ChunkSize = 0 }, KindAudit, nil, true},
		{"continuity ok", func(c *Config) { c.InputDir = dir }, KindContinuity, nil, false},
		{"continuity bad prober", func(c *Config) { c.InputDir = dir; c.Continuity.Prober = "guess" }, KindContinuity, nil, true},
		{"continuity negative gap", func(c *Config) { c.InputDir = dir; c.Continuity.GapThreshold = -time.Second }, KindContinuity, nil, true},
		{"unknown kind", func(c *Config) {}, "bogus", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate(tt.kind)
			if (err != nil) != tt.anyErr {
				t.Fatalf("Validate(%s) = %v, wantErr %v", tt.kind, err, tt.anyErr)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%s) = %v, want %v", tt.kind, err, tt.wantErr)
			}
		})
	}
}
