package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/opcua"
	"github.com/fledge-iot/fledge-north-opcua/internal/domain"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// Server defaults used when the configuration omits them.
const (
	DefaultServerName = "Fledge OPCUA"
	DefaultURL        = "opc.tcp://localhost:4840/fledge/server"
	DefaultURI        = "urn://fledge.dianomic.com"
	DefaultNamespace  = "http://fledge.dianomic.com"
	DefaultControl    = "Control"
)

type Config struct {
	Server ServerConfig `yaml:"server"`
	// Hierarchy is decoded by Config.UnmarshalYAML so that a malformed
	// value degrades to an empty hierarchy.
	Hierarchy domain.Hierarchy `yaml:"-"`
	Control   ControlConfig    `yaml:"control"`
	Source    opcua.Config     `yaml:"source"`
	Policy    ports.Policy     `yaml:"policy"`
	WAL       WALConfig        `yaml:"wal"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Archive   ArchiveConfig    `yaml:"archive"`
	Log       LogConfig        `yaml:"log"`

	// Notices lists the settings that were missing or partly invalid and
	// have been defaulted or skipped. They are reported once logging is up.
	Notices []string `yaml:"-"`

	hierarchyErr error
}

func (c *Config) UnmarshalYAML(value *yaml.Node) error {
	type plain Config
	if err := value.Decode((*plain)(c)); err != nil {
		return err
	}
	var raw struct {
		Hierarchy yaml.Node `yaml:"hierarchy"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	if raw.Hierarchy.Kind != 0 {
		c.Hierarchy, c.hierarchyErr = domain.HierarchyFromYAML(&raw.Hierarchy)
	}
	return nil
}

type ServerConfig struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	URI       string `yaml:"uri"`
	Namespace string `yaml:"namespace"`
	// Root is an optional object under which every projected node lives.
	Root             string        `yaml:"root"`
	IncludeAssetName *bool         `yaml:"include_asset_name"`
	ParseAssetName   bool          `yaml:"parse_asset_name"`
	PollInterval     time.Duration `yaml:"poll_interval"`
}

// IncludeAsset reports whether each asset gets its own object. It is on
// unless explicitly disabled.
func (s ServerConfig) IncludeAsset() bool {
	return s.IncludeAssetName == nil || *s.IncludeAssetName
}

type ControlConfig struct {
	Root string
	Map  domain.ControlMap

	mapErr error
}

func (c *ControlConfig) UnmarshalYAML(value *yaml.Node) error {
	var raw struct {
		Root string    `yaml:"root"`
		Map  yaml.Node `yaml:"map"`
	}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	c.Root = raw.Root
	if raw.Map.Kind != 0 {
		c.Map, c.mapErr = domain.ControlMapFromYAML(&raw.Map)
	}
	return nil
}

type WALConfig struct {
	Dir  string `yaml:"dir"`
	Sync bool   `yaml:"sync"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

type ArchiveConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table"`
}

// Enabled reports whether readings are also archived to Postgres.
func (a ArchiveConfig) Enabled() bool { return a.DSN != "" }

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes, defaults and validates a YAML document.
func Parse(raw []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, err
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Normalize defaults and validates a Config built in code. It is safe to
// call on a Config returned by Load.
func (c *Config) Normalize() error {
	c.applyDefaults()
	return c.validate()
}

// SourceEnabled reports whether an upstream OPC UA server feeds readings.
func (c *Config) SourceEnabled() bool { return c.Source.Endpoint != "" }

func (c *Config) notice(format string, args ...any) {
	c.Notices = append(c.Notices, fmt.Sprintf(format, args...))
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.notice("server.name missing, using %q", DefaultServerName)
		c.Server.Name = DefaultServerName
	}
	if c.Server.URL == "" {
		c.notice("server.url missing, using %q", DefaultURL)
		c.Server.URL = DefaultURL
	}
	if c.Server.URI == "" {
		c.notice("server.uri missing, using %q", DefaultURI)
		c.Server.URI = DefaultURI
	}
	if c.Server.Namespace == "" {
		c.notice("server.namespace missing, using %q", DefaultNamespace)
		c.Server.Namespace = DefaultNamespace
	}
	if c.Server.PollInterval <= 0 {
		c.Server.PollInterval = 100 * time.Millisecond
	}
	if c.hierarchyErr != nil {
		c.notice("hierarchy: %v, using an empty hierarchy", c.hierarchyErr)
		c.Hierarchy = nil
		c.hierarchyErr = nil
	}
	if c.Control.Root == "" {
		c.Control.Root = DefaultControl
	}
	if c.Control.mapErr != nil {
		var joined interface{ Unwrap() []error }
		if errors.As(c.Control.mapErr, &joined) {
			for _, err := range joined.Unwrap() {
				c.notice("control.map: %v, skipped", err)
			}
		} else {
			c.notice("control.map: %v", c.Control.mapErr)
		}
		c.Control.mapErr = nil
	}

	if c.Policy.MaxWALSizeBytes == 0 {
		c.Policy.MaxWALSizeBytes = 1 << 30
	}
	if c.Policy.MaxQueueLen == 0 {
		c.Policy.MaxQueueLen = 10_000
	}
	if c.Policy.MaxBatchSize == 0 {
		c.Policy.MaxBatchSize = 500
	}
	if c.Policy.IdleSleep == 0 {
		c.Policy.IdleSleep = 5 * time.Millisecond
	}
	if c.Policy.OnQueueFull == "" {
		c.Policy.OnQueueFull = "block"
	}
	if c.Policy.OnWALFull == "" {
		c.Policy.OnWALFull = "block"
	}

	if c.WAL.Dir == "" {
		c.WAL.Dir = "./data/wal"
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9100"
	}
	if c.Archive.Table == "" {
		c.Archive.Table = "readings"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	if c.SourceEnabled() {
		c.Source.ApplyDefaults()
	}
}

func (c *Config) validate() error {
	switch c.Policy.OnWALFull {
	case "block", "drop":
	default:
		return fmt.Errorf("policy.on_wal_full: unknown mode %q", c.Policy.OnWALFull)
	}
	switch c.Policy.OnQueueFull {
	case "block", "drop", "reject":
	default:
		return fmt.Errorf("policy.on_queue_full: unknown mode %q", c.Policy.OnQueueFull)
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error", "critical", "fatal":
	default:
		return fmt.Errorf("log.level: unknown level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("log.format: unknown format %q", c.Log.Format)
	}
	if c.SourceEnabled() {
		if err := c.Source.Validate(); err != nil {
			return fmt.Errorf("source config: %w", err)
		}
	}
	return nil
}
