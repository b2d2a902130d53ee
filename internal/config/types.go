package config

import "time"

// CurrentConfigVersion is the schema version for the config file.
// Increment when making breaking changes to the config structure.
const CurrentConfigVersion = 1

// MinInterval is the smallest refresh interval accepted. Anything faster
// hammers system tables on every host for little visible benefit.
const MinInterval = 500 * time.Millisecond

// Config represents the complete .chdig.yaml configuration file.
type Config struct {
	Version int `yaml:"version" mapstructure:"version"`

	// URL is a clickhouse:// DSN for the seed host. Credentials and database
	// in the URL are used when the dedicated keys below are empty.
	URL string `yaml:"url" mapstructure:"url"`

	// Hosts is an explicit host list. When empty, hosts are discovered from
	// system.clusters on the seed host (requires Cluster).
	Hosts []HostEntry `yaml:"hosts" mapstructure:"hosts"`

	// Cluster names the cluster used for discovery.
	Cluster string `yaml:"cluster" mapstructure:"cluster"`

	// User, Password and Database override the ones in URL when set.
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`

	// Secure enables TLS for every host connection.
	Secure bool `yaml:"secure" mapstructure:"secure"`
	// SkipVerify disables TLS certificate verification.
	SkipVerify bool `yaml:"skip_verify" mapstructure:"skip_verify"`

	// Interval is the refresh period of the live dashboard.
	Interval time.Duration `yaml:"interval" mapstructure:"interval"`
	// HostTimeout bounds every single per-host query.
	HostTimeout time.Duration `yaml:"host_timeout" mapstructure:"host_timeout"`
	// CycleTimeout bounds a whole fan-out cycle.
	CycleTimeout time.Duration `yaml:"cycle_timeout" mapstructure:"cycle_timeout"`
	// MaxParallel bounds concurrent per-host queries in one cycle.
	MaxParallel int `yaml:"max_parallel" mapstructure:"max_parallel"`

	// TopN is the initial number of rows rendered per view (0 = all).
	TopN int `yaml:"top_n" mapstructure:"top_n"`
	// HistorySize is the capacity of each metric series ring.
	HistorySize int `yaml:"history_size" mapstructure:"history_size"`
	// TimeSpan is the width of the time window used by windowed views.
	TimeSpan time.Duration `yaml:"time_span" mapstructure:"time_span"`

	// DiscoverInterval re-reads system.clusters periodically (0 = off).
	DiscoverInterval time.Duration `yaml:"discover_interval" mapstructure:"discover_interval"`

	// MetricsListen exposes Prometheus metrics on this address when set (e.g. ":9363").
	MetricsListen string `yaml:"metrics_listen" mapstructure:"metrics_listen"`

	Log        LogConfig        `yaml:"log" mapstructure:"log"`
	Flamegraph FlamegraphConfig `yaml:"flamegraph" mapstructure:"flamegraph"`
}

// HostEntry is one statically configured host.
type HostEntry struct {
	// ID is the stable identity used in views and status. Defaults to Address.
	ID string `yaml:"id" mapstructure:"id"`

	// Address is host:port of the native protocol endpoint.
	Address string `yaml:"address" mapstructure:"address"`

	// Role is "shard" or "replica". Defaults to "shard".
	Role string `yaml:"role" mapstructure:"role"`

	Shard   int `yaml:"shard,omitempty" mapstructure:"shard"`
	Replica int `yaml:"replica,omitempty" mapstructure:"replica"`
}

// LogConfig controls where diagnostics go while the dashboard owns the terminal.
type LogConfig struct {
	// File is the log path. Supports ~ and ${VAR} expansion.
	File string `yaml:"file" mapstructure:"file"`

	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" mapstructure:"level"`
}

// FlamegraphConfig controls flamegraph export.
type FlamegraphConfig struct {
	// Format is "folded", "json" or "pprof".
	Format string `yaml:"format" mapstructure:"format"`

	// Output is a file path. Takes precedence over Viewer when both are set.
	Output string `yaml:"output" mapstructure:"output"`

	// Viewer is a command that receives folded stacks on stdin
	// (e.g. "flamegraph.pl | display" or "inferno-flamegraph > /tmp/fg.svg").
	Viewer string `yaml:"viewer" mapstructure:"viewer"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Version:      CurrentConfigVersion,
		URL:          "clickhouse://localhost:9000",
		Hosts:        []HostEntry{},
		Interval:     3 * time.Second,
		HostTimeout:  5 * time.Second,
		CycleTimeout: 15 * time.Second,
		MaxParallel:  8,
		TopN:         20,
		HistorySize:  60,
		TimeSpan:     time.Hour,
		Log: LogConfig{
			File:  "~/.local/state/chdig/chdig.log",
			Level: "info",
		},
		Flamegraph: FlamegraphConfig{
			Format: "folded",
		},
	}
}
