// Package config loads pcapflow settings from YAML, environment variables
// and defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rsclarke/pcapflow/internal/audit"
	"github.com/rsclarke/pcapflow/internal/continuity"
	"github.com/rsclarke/pcapflow/internal/records"
)

// Pipeline names accepted by Validate.
const (
	KindMQTT       = "mqtt"
	KindPackets    = "packets"
	KindContinuity = "continuity"
	KindAudit      = "audit"
)

// DefaultLedger is the run ledger path used when none is configured.
const DefaultLedger = "pcapflow.db"

// Prober names for continuity.prober.
const (
	ProberCapinfos = "capinfos"
	ProberNative   = "native"
)

var (
	// ErrNoSalt is returned when the packet pipeline has no salt.
	ErrNoSalt = errors.New("packets.salt is required (or PCAPFLOW_SALT)")
	// ErrNoInput is returned when no input directory is configured.
	ErrNoInput = errors.New("input_dir is required (or PCAPFLOW_INPUT_DIR)")
)

type Config struct {
	InputDir   string           `yaml:"input_dir"`
	Extensions []string         `yaml:"extensions"`
	Workers    int              `yaml:"workers"`
	Progress   int              `yaml:"progress_every"`
	Ledger     string           `yaml:"ledger"`
	Tools      ToolsConfig      `yaml:"tools"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Packets    PacketsConfig    `yaml:"packets"`
	Continuity ContinuityConfig `yaml:"continuity"`
	Audit      AuditConfig      `yaml:"audit"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

type ToolsConfig struct {
	TShark           string        `yaml:"tshark"`
	Capinfos         string        `yaml:"capinfos"`
	AllowedExitCodes []int         `yaml:"allowed_exit_codes"`
	FileTimeout      time.Duration `yaml:"file_timeout"`
}

type MQTTConfig struct {
	Output  string `yaml:"output"`
	Station string `yaml:"station"`
	Filter  string `yaml:"filter"`
}

type PacketsConfig struct {
	Output string            `yaml:"output"`
	Salt   string            `yaml:"salt"`
	Filter string            `yaml:"filter"`
	Ports  records.PortTable `yaml:"ports"`
}

type ContinuityConfig struct {
	Output           string        `yaml:"output"`
	Prober           string        `yaml:"prober"`
	GapThreshold     time.Duration `yaml:"gap_threshold"`
	OverlapThreshold time.Duration `yaml:"overlap_threshold"`
}

type AuditConfig struct {
	Input       string   `yaml:"input"`
	Report      string   `yaml:"report"`
	ChunkSize   int      `yaml:"chunk_size"`
	LeakPattern string   `yaml:"leak_pattern"`
	LeakColumns []string `yaml:"leak_columns"`
}

type MetricsConfig struct {
	Addr     string `yaml:"addr"`
	Textfile string `yaml:"textfile"`
}

// Load reads the YAML file at path, applies environment overrides and
// defaults, and checks the settings shared by every pipeline. An empty path
// skips the file.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the built-in settings.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() error {
	c.InputDir = getEnv("PCAPFLOW_INPUT_DIR", c.InputDir)
	c.Ledger = getEnv("PCAPFLOW_LEDGER", c.Ledger)
	c.Tools.TShark = getEnv("PCAPFLOW_TSHARK", c.Tools.TShark)
	c.Tools.Capinfos = getEnv("PCAPFLOW_CAPINFOS", c.Tools.Capinfos)
	c.MQTT.Station = getEnv("PCAPFLOW_STATION", c.MQTT.Station)
	c.Packets.Salt = getEnv("PCAPFLOW_SALT", c.Packets.Salt)
	c.Metrics.Addr = getEnv("PCAPFLOW_METRICS_ADDR", c.Metrics.Addr)

	workers, err := getEnvInt("PCAPFLOW_WORKERS", c.Workers)
	if err != nil {
		return err
	}
	c.Workers = workers
	return nil
}

func (c *Config) applyDefaults() {
	if len(c.Extensions) == 0 {
		c.Extensions = []string{".pcap"}
	}
	for i, ext := range c.Extensions {
		if !strings.HasPrefix(ext, ".") {
			c.Extensions[i] = "." + ext
		}
	}
	if c.Ledger == "" {
		c.Ledger = DefaultLedger
	}
	if c.Tools.TShark == "" {
		c.Tools.TShark = "tshark"
	}
	if c.Tools.Capinfos == "" {
		c.Tools.Capinfos = "capinfos"
	}
	if c.MQTT.Output == "" {
		c.MQTT.Output = "mqtt.csv"
	}
	if c.MQTT.Station == "" {
		c.MQTT.Station = "S1"
	}
	if c.Packets.Output == "" {
		c.Packets.Output = "packets.csv"
	}
	if len(c.Packets.Ports) == 0 {
		c.Packets.Ports = records.DefaultPortTable()
	}
	if c.Continuity.Output == "" {
		c.Continuity.Output = "continuity.csv"
	}
	if c.Continuity.Prober == "" {
		c.Continuity.Prober = ProberCapinfos
	}
	if c.Continuity.GapThreshold == 0 {
		c.Continuity.GapThreshold = continuity.DefaultGapThreshold
	}
	if c.Continuity.OverlapThreshold == 0 {
		c.Continuity.OverlapThreshold = continuity.DefaultOverlapThreshold
	}
	if c.Audit.Report == "" {
		c.Audit.Report = "Audit_Report.txt"
	}
	if c.Audit.ChunkSize == 0 {
		c.Audit.ChunkSize = audit.DefaultChunkSize
	}
	if c.Audit.LeakPattern == "" {
		c.Audit.LeakPattern = audit.DefaultLeakPattern
	}
	if len(c.Audit.LeakColumns) == 0 {
		c.Audit.LeakColumns = audit.DefaultLeakColumns
	}
}

func (c *Config) validate() error {
	if c.Workers < 0 {
		return fmt.Errorf("workers must not be negative, got %d", c.Workers)
	}
	if c.Tools.FileTimeout < 0 {
		return fmt.Errorf("tools.file_timeout must not be negative")
	}
	if err := c.Packets.Ports.Validate(); err != nil {
		return fmt.Errorf("packets.ports: %w", err)
	}
	if c.Continuity.GapThreshold < 0 || c.Continuity.OverlapThreshold < 0 {
		return fmt.Errorf("continuity thresholds must not be negative")
	}
	switch c.Continuity.Prober {
	case ProberCapinfos, ProberNative:
	default:
		return fmt.Errorf("continuity.prober must be %q or %q, got %q", ProberCapinfos, ProberNative, c.Continuity.Prober)
	}
	if c.Audit.ChunkSize < 0 {
		return fmt.Errorf("audit.chunk_size must be positive, got %d", c.Audit.ChunkSize)
	}
	if _, err := regexp.Compile(c.Audit.LeakPattern); err != nil {
		return fmt.Errorf("audit.leak_pattern: %w", err)
	}
	return nil
}

// Validate checks the settings a single pipeline needs. It is called after
// command line flags have been applied.
func (c *Config) Validate(kind string) error {
	switch kind {
	case KindMQTT, KindPackets, KindContinuity:
		if c.InputDir == "" {
			return ErrNoInput
		}
		info, err := os.Stat(c.InputDir)
		if err != nil {
			return fmt.Errorf("input_dir: %w", err)
		}
		if !info.IsDir() {
			return fmt.Errorf("input_dir %s is not a directory", c.InputDir)
		}
		if c.Workers < 0 {
			return fmt.Errorf("workers must not be negative, got %d", c.Workers)
		}
	case KindAudit:
		if c.Audit.Input == "" {
			return errors.New("audit.input is required")
		}
		if c.Audit.ChunkSize <= 0 {
			return fmt.Errorf("audit.chunk_size must be positive, got %d", c.Audit.ChunkSize)
		}
		return nil
	default:
		return fmt.Errorf("unknown pipeline %q", kind)
	}

	switch kind {
	case KindPackets:
		if c.Packets.Salt == "" {
			return ErrNoSalt
		}
	case KindContinuity:
		if c.Continuity.Prober != ProberCapinfos && c.Continuity.Prober != ProberNative {
			return fmt.Errorf("continuity.prober must be %q or %q, got %q", ProberCapinfos, ProberNative, c.Continuity.Prober)
		}
		if c.Continuity.GapThreshold < 0 || c.Continuity.OverlapThreshold < 0 {
			return fmt.Errorf("continuity thresholds must not be negative")
		}
	}
	return nil
}

// Thresholds returns the continuity classification thresholds.
func (c *Config) Thresholds() continuity.Thresholds {
	return continuity.Thresholds{Gap: c.Continuity.GapThreshold, Overlap: c.Continuity.OverlapThreshold}
}

// LeakRegexp compiles the audit leak pattern.
func (c *Config) LeakRegexp() (*regexp.Regexp, error) {
	re, err := regexp.Compile(c.Audit.LeakPattern)
	if err != nil {
		return nil, fmt.Errorf("audit.leak_pattern: %w", err)
	}
	return re, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return i, nil
}
