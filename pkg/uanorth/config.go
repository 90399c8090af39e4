package uanorth

import (
	"github.com/fledge-iot/fledge-north-opcua/internal/adapters/opcua"
	"github.com/fledge-iot/fledge-north-opcua/internal/app/config"
	"github.com/fledge-iot/fledge-north-opcua/internal/ports"
)

// Config re-exports the root configuration struct so embedding programs can
// build or adjust it in code.
type Config = config.Config

type (
	// ServerConfig describes the OPC UA endpoint and the tree layout options.
	ServerConfig = config.ServerConfig
	// ControlConfig holds the control root name and the control map.
	ControlConfig = config.ControlConfig
	// SourceConfig configures the optional upstream OPC UA collector.
	SourceConfig = opcua.Config
	// SourceNodeConfig maps one upstream node onto an asset datapoint.
	SourceNodeConfig = opcua.NodeConfig
	// Policy controls WAL and queue thresholds.
	Policy = ports.Policy
	// WALConfig configures on-disk durability of accepted readings.
	WALConfig = config.WALConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
	// ArchiveConfig configures the optional Postgres archive.
	ArchiveConfig = config.ArchiveConfig
	LogConfig     = config.LogConfig
)

// LoadConfig reads, defaults and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}

// ParseConfig is LoadConfig for a document already in memory.
func ParseConfig(data []byte) (*Config, error) {
	return config.Parse(data)
}
