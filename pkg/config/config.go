// Package config provides configuration management for the multisplit
// runtime.
package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Network       NetworkConfig       `mapstructure:"network"`
	SpikeExchange SpikeExchangeConfig `mapstructure:"spike_exchange"`
	Solver        SolverConfig        `mapstructure:"solver"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Storage       StorageConfig       `mapstructure:"storage"`
	Telemetry     TelemetryConfig     `mapstructure:"telemetry"`
	Log           LogConfig           `mapstructure:"log"`
}

// NetworkConfig describes the transport layer a rank joins (§6.1, C1).
type NetworkConfig struct {
	// Transport selects the Transport implementation: "inprocess" for a
	// single-binary simulated cluster, or a real backend name.
	Transport string `mapstructure:"transport"`
	RankCount int    `mapstructure:"rank_count"`
	// DialTimeoutSeconds is loaded from configuration but no component
	// reads it; a point-to-point Wait blocks until a message arrives or its
	// context ends.
	DialTimeoutSeconds int `mapstructure:"dial_timeout_seconds"`
}

// SpikeExchangeConfig configures the collective/DMA spike exchangers
// (§4.2-§4.4, C2/C3/C4).
type SpikeExchangeConfig struct {
	// Mode selects "collective" (CollectiveExchanger) or "dma" (DMAExchanger).
	Mode string `mapstructure:"mode"`
	// GIDWidth is 1, 2, or 4 bytes, sized to the job's max local output count.
	GIDWidth int `mapstructure:"gid_width"`
	// SlotRecords is the per-rank inline record capacity (K) of the
	// small-buffer-optimised collective path.
	SlotRecords int `mapstructure:"slot_records"`
	// OverflowCompression selects "zstd", "gzip", or "" (none) for the
	// overflow tail of an oversized compressed packet.
	OverflowCompression string `mapstructure:"overflow_compression"`
	// MinDelayMS is the minimum cross-rank connection delay (ms). It is
	// loaded from configuration but no component reads it; nothing bounds
	// the number of DMA conservation rounds.
	MinDelayMS float64 `mapstructure:"min_delay_ms"`
}

// SolverConfig configures the backbone and reduced-tree solvers (§4.5-§4.8,
// C6/C7/C8).
type SolverConfig struct {
	// MaxWorker bounds pkg/parallel's worker pool for independent-cell
	// assembly/triangulation.
	MaxWorker int `mapstructure:"max_worker"`
	// SingularPivotEpsilon is loaded from configuration but no component
	// reads it; the solvers report CodeSingular only for a pivot that is
	// exactly zero.
	SingularPivotEpsilon float64 `mapstructure:"singular_pivot_epsilon"`
}

// DatabaseConfig configures pkg/checkpoint's topology-dump store.
type DatabaseConfig struct {
	Type     string `mapstructure:"type"` // sqlite
	Path     string `mapstructure:"path"`
	MaxConns int    `mapstructure:"max_conns"`
}

// StorageConfig configures pkg/snapshot's histogram/descriptor uploads.
type StorageConfig struct {
	Type      string `mapstructure:"type"` // cos or local
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	SecretID  string `mapstructure:"secret_id"`
	SecretKey string `mapstructure:"secret_key"`
	Domain    string `mapstructure:"domain"`
	Scheme    string `mapstructure:"scheme"`
	LocalPath string `mapstructure:"local_path"`
}

// TelemetryConfig configures pkg/telemetry's OTLP exporter.
type TelemetryConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
	Endpoint    string `mapstructure:"endpoint"`
	Protocol    string `mapstructure:"protocol"` // grpc or http
	Insecure    bool   `mapstructure:"insecure"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"` // json or text
}

// Load reads configuration from the specified file path.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/multisplit")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults")
		} else if os.IsNotExist(err) {
			fmt.Printf("Config file %s not found, using defaults\n", configPath)
		} else {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// LoadFromReader loads configuration from an io.Reader (useful for testing).
func LoadFromReader(configType string, content []byte) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType(configType)
	if err := v.ReadConfig(bytes.NewReader(content)); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values.
func setDefaults(v *viper.Viper) {
	// Network defaults
	v.SetDefault("network.transport", "inprocess")
	v.SetDefault("network.rank_count", 1)
	v.SetDefault("network.dial_timeout_seconds", 30)

	// Spike exchange defaults
	v.SetDefault("spike_exchange.mode", "collective")
	v.SetDefault("spike_exchange.gid_width", 4)
	v.SetDefault("spike_exchange.slot_records", 8)
	v.SetDefault("spike_exchange.overflow_compression", "")
	v.SetDefault("spike_exchange.min_delay_ms", 1.0)

	// Solver defaults
	v.SetDefault("solver.max_worker", 5)
	v.SetDefault("solver.singular_pivot_epsilon", 1e-12)

	// Database defaults (checkpoint store)
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.path", "./multisplit-checkpoint.db")
	v.SetDefault("database.max_conns", 1)

	// Storage defaults (snapshot uploads)
	v.SetDefault("storage.type", "local")
	v.SetDefault("storage.local_path", "./snapshots")

	// Telemetry defaults
	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "multisplit")
	v.SetDefault("telemetry.protocol", "grpc")
	v.SetDefault("telemetry.insecure", true)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.output_path", "./logs")
	v.SetDefault("log.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Network.RankCount < 1 {
		return fmt.Errorf("network rank count must be at least 1")
	}
	if c.SpikeExchange.Mode != "collective" && c.SpikeExchange.Mode != "dma" {
		return fmt.Errorf("unsupported spike exchange mode: %s", c.SpikeExchange.Mode)
	}
	if c.SpikeExchange.GIDWidth != 1 && c.SpikeExchange.GIDWidth != 2 && c.SpikeExchange.GIDWidth != 4 {
		return fmt.Errorf("gid width must be 1, 2, or 4 bytes, got %d", c.SpikeExchange.GIDWidth)
	}
	if c.Solver.MaxWorker < 1 {
		return fmt.Errorf("solver max worker must be at least 1")
	}
	if c.Database.Type != "sqlite" {
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	return nil
}

// EnsureStorageDir creates the local storage directory if it doesn't exist.
func (c *Config) EnsureStorageDir() error {
	if c.Storage.LocalPath == "" {
		return nil
	}
	return os.MkdirAll(c.Storage.LocalPath, 0755)
}

// CheckpointPath returns the rank-specific checkpoint database path.
func (c *Config) CheckpointPath(rank int) string {
	dir := filepath.Dir(c.Database.Path)
	base := filepath.Base(c.Database.Path)
	return filepath.Join(dir, fmt.Sprintf("rank%d-%s", rank, base))
}
