// Package config provides the configuration structures of serendip and the
// loader that layers defaults, YAML files, environment variables and CLI overrides.
package config

import (
	"os"
	"path/filepath"
)

// EmbeddedConfig holds the content of the default configuration file compiled into the binary.
type EmbeddedConfig []byte

// Distribution modes for axis selection.
const (
	DistributionWeighted = "weighted"
	DistributionBalanced = "balanced"
)

// Dedupe modes.
const (
	DedupeStrict = "strict"
	DedupeNone   = "none"
)

// Tag sampling modes.
const (
	TagSamplingOff      = "off"
	TagSamplingUniform  = "uniform"
	TagSamplingWeighted = "weighted"
)

// Domain injection modes.
const (
	DomainInjectionNone            = "none"
	DomainInjectionContext         = "context"
	DomainInjectionContextAndHints = "context_and_hints"
)

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
	// File, when set, receives a JSON copy of every log line.
	File string `yaml:"file"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	Logging LoggingConfig `yaml:"logging"`
}

// ImageConfig holds the resolution hint sent with every request.
type ImageConfig struct {
	ImageSize string `yaml:"image_size"`
}

// RetryConfig holds the remote-call retry settings.
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int `yaml:"max_retries"`
	// BaseDelay is the first backoff in seconds; attempt n waits BaseDelay * 2^n.
	BaseDelay float64 `yaml:"base_delay"`
}

// TagSamplingConfig selects how tagged vocabulary categories are sampled.
type TagSamplingConfig struct {
	// Mode is the global fallback: off, uniform or weighted.
	Mode string `yaml:"mode"`
	// PerCategory overrides Mode for individual categories.
	PerCategory map[string]string `yaml:"per_category"`
}

// AvoidanceConfig bounds local token repetition.
type AvoidanceConfig struct {
	// Window is the number of most recent selections a new token should not repeat. 0 disables it.
	Window int `yaml:"window"`
	// MaxTokenCount caps how often one token may appear across the plan. 0 disables it.
	MaxTokenCount int `yaml:"max_token_count"`
}

// MixConfig controls two-axis blended items.
type MixConfig struct {
	// Ratio is the share of items generated as mix items, in [0, 1].
	Ratio  float64 `yaml:"ratio"`
	MinLen int     `yaml:"min_len"`
	MaxLen int     `yaml:"max_len"`
}

// PlanConfig holds the slot plan generator settings.
type PlanConfig struct {
	Name             string             `yaml:"name"`
	AxisIDs          []string           `yaml:"axis_ids"`
	AxisWeights      map[string]float64 `yaml:"axis_weights"`
	AxisDistribution string             `yaml:"axis_distribution"`
	TargetCount      int                `yaml:"target_count"`
	GlobalSuffix     string             `yaml:"global_suffix"`
	DedupeMode       string             `yaml:"dedupe_mode"`
	Seed             *int64             `yaml:"seed"`
	TagSampling      TagSamplingConfig  `yaml:"tag_sampling"`
	Avoidance        AvoidanceConfig    `yaml:"avoidance"`
	ExcludePlans     []string           `yaml:"exclude_plans"`
	DomainInjection  string             `yaml:"domain_injection"`
	Mix              MixConfig          `yaml:"mix"`
	// MaxAttemptsFactor bounds generation at TargetCount * MaxAttemptsFactor draws.
	MaxAttemptsFactor int `yaml:"max_attempts_factor"`
}

// BatchConfig holds the asynchronous batch orchestrator settings.
type BatchConfig struct {
	ChunkSize              int    `yaml:"chunk_size"`
	PollingIntervalSeconds int    `yaml:"polling_interval_seconds"`
	StatusParallelism      int    `yaml:"status_parallelism"`
	DisplayNamePrefix      string `yaml:"display_name_prefix"`
}

// StorageConfig selects where images and metadata side-files are written.
type StorageConfig struct {
	// Type is "local" or "gcs".
	Type string `yaml:"type"`
	// BaseDir is the local root; it defaults to the profile output directory.
	BaseDir string `yaml:"base_dir"`
	// Bucket and Prefix locate artifacts for the gcs type.
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	CredentialsFile string `yaml:"credentials_file"`
}

// DatabaseConfig configures the optional SQL mirror of the manifest and ledger.
type DatabaseConfig struct {
	Enabled  bool       `yaml:"enabled"`
	Type     string     `yaml:"type"`
	Host     string     `yaml:"host"`
	Port     int        `yaml:"port"`
	User     string     `yaml:"user"`
	Password string     `yaml:"password"`
	Database string     `yaml:"database"`
	SSLMode  string     `yaml:"sslmode"`
	Pool     PoolConfig `yaml:"pool"`
}

// PoolConfig holds database connection pool settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`
	MaxIdleConns           int `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"`
}

// OTLPConfig locates an OpenTelemetry collector.
type OTLPConfig struct {
	Endpoint string `yaml:"endpoint"`
	// Protocol is "http" or "grpc".
	Protocol string `yaml:"protocol"`
	Insecure bool   `yaml:"insecure"`
}

// MetricsConfig configures metric recording.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Exporter is "prometheus" (text file dump) or "otlp".
	Exporter string `yaml:"exporter"`
	// Textfile is the Prometheus text exposition file written at shutdown.
	Textfile        string     `yaml:"textfile"`
	AsyncBufferSize int        `yaml:"async_buffer_size"`
	OTLP            OTLPConfig `yaml:"otlp"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool       `yaml:"enabled"`
	ServiceName string     `yaml:"service_name"`
	OTLP        OTLPConfig `yaml:"otlp"`
}

// SerendipConfig holds all configuration under the "serendip" top-level key.
type SerendipConfig struct {
	System       SystemConfig   `yaml:"system"`
	Profile      string         `yaml:"profile"`
	ProfilesDir  string         `yaml:"profiles_dir"`
	OutputDir    string         `yaml:"output_dir"`
	DryRun       bool           `yaml:"dry_run"`
	SaveThoughts bool           `yaml:"save_thoughts"`
	Model        string         `yaml:"model"`
	APIKey       string         `yaml:"api_key"`
	ImageConfig  ImageConfig    `yaml:"image_config"`
	Retry        RetryConfig    `yaml:"retry"`
	Plan         PlanConfig     `yaml:"plan"`
	Batch        BatchConfig    `yaml:"batch"`
	Storage      StorageConfig  `yaml:"storage"`
	Database     DatabaseConfig `yaml:"database"`
	Metrics      MetricsConfig  `yaml:"metrics"`
	Tracing      TracingConfig  `yaml:"tracing"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	Serendip SerendipConfig `yaml:"serendip"`
	// EmbeddedConfig holds the raw embedded YAML, not loaded from YAML itself.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// NewConfig returns a Config populated with default values.
func NewConfig() *Config {
	return &Config{
		Serendip: SerendipConfig{
			System:       SystemConfig{Logging: LoggingConfig{Level: "INFO"}},
			Profile:      "default",
			ProfilesDir:  "./profiles",
			OutputDir:    "./out",
			SaveThoughts: true,
			Model:        "gemini-3-pro-image-preview",
			ImageConfig:  ImageConfig{ImageSize: "2K"},
			Retry:        RetryConfig{MaxRetries: 3, BaseDelay: 2.0},
			Plan: PlanConfig{
				Name:              "plan",
				AxisDistribution:  DistributionWeighted,
				TargetCount:       100,
				DedupeMode:        DedupeStrict,
				TagSampling:       TagSamplingConfig{Mode: TagSamplingOff},
				DomainInjection:   DomainInjectionNone,
				Mix:               MixConfig{MinLen: 500, MaxLen: 800},
				MaxAttemptsFactor: 50,
			},
			Batch: BatchConfig{
				ChunkSize:              50,
				PollingIntervalSeconds: 30,
				StatusParallelism:      4,
				DisplayNamePrefix:      "serendip",
			},
			Storage:  StorageConfig{Type: "local"},
			Database: DatabaseConfig{Type: "sqlite", Database: "serendip.db", Pool: PoolConfig{MaxOpenConns: 1, MaxIdleConns: 1}},
			Metrics: MetricsConfig{
				Exporter:        "prometheus",
				AsyncBufferSize: 100,
				OTLP:            OTLPConfig{Protocol: "http"},
			},
			Tracing: TracingConfig{
				ServiceName: "serendip",
				OTLP:        OTLPConfig{Protocol: "http"},
			},
		},
	}
}

// ResolveAPIKey returns the configured API key, falling back to GOOGLE_API_KEY.
func (c *Config) ResolveAPIKey() string {
	if c.Serendip.APIKey != "" {
		return c.Serendip.APIKey
	}
	return os.Getenv("GOOGLE_API_KEY")
}

// OutputRoot is the per-profile output directory. An output_dir that already
// ends in the profile name is used as is.
func (c *Config) OutputRoot() string {
	root := c.Serendip.OutputDir
	if filepath.Base(filepath.Clean(root)) == c.Serendip.Profile {
		return root
	}
	return filepath.Join(root, c.Serendip.Profile)
}

// ProfileDir is the directory holding the profile's registry files.
func (c *Config) ProfileDir() string {
	return filepath.Join(c.Serendip.ProfilesDir, c.Serendip.Profile)
}

// PlanPath is the frozen plan file of the named plan.
func (c *Config) PlanPath(planName string) string {
	return filepath.Join(c.OutputRoot(), planName+".jsonl")
}

// ManifestPath is the append-only manifest of the profile.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.OutputRoot(), "manifest.jsonl")
}

// LedgerPath is the batch ledger of the named plan.
func (c *Config) LedgerPath(planName string) string {
	return filepath.Join(c.BatchesDir(), planName+".jobs.jsonl")
}

// BatchesDir holds ledgers and the request files uploaded for each chunk.
func (c *Config) BatchesDir() string {
	return filepath.Join(c.OutputRoot(), "batches")
}

// BatchOutputsDir holds downloaded batch result files.
func (c *Config) BatchOutputsDir() string {
	return filepath.Join(c.OutputRoot(), "batch_outputs")
}

// ArtifactRoot is the local base directory of images/ and meta/.
func (c *Config) ArtifactRoot() string {
	if c.Serendip.Storage.BaseDir != "" {
		return c.Serendip.Storage.BaseDir
	}
	return c.OutputRoot()
}
