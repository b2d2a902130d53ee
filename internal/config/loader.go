package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/spf13/viper"
)

const (
	// ConfigFileName is the default config file name.
	ConfigFileName = ".chdig.yaml"
	// GlobalConfigDir is the directory for global config.
	GlobalConfigDir = ".config/chdig"
	// GlobalConfigFile is the global config file name.
	GlobalConfigFile = "config.yaml"
	// EnvPrefix prefixes environment overrides (CHDIG_URL, CHDIG_LOG_LEVEL, ...).
	EnvPrefix = "CHDIG"
)

// Load reads config from the specified path.
func Load(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)

	if err := v.ReadInConfig(); err != nil {
		if os.IsNotExist(err) {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Config file not found",
				"Run 'chdig init' to create a config file, or specify one with --config")
		}
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to read config file",
			"Check the file exists and is valid YAML")
	}

	return parseConfig(v, path)
}

// Find locates the config file using the search order:
// 1. Explicit path (from --config flag)
// 2. .chdig.yaml in current directory
// 3. .chdig.yaml in parent directories (stops at git root or home)
// 4. ~/.config/chdig/config.yaml (global defaults)
//
// Returns the path to the config file, or empty string if not found.
func Find(explicit string) (string, error) {
	// 1. Explicit path takes precedence
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			if os.IsNotExist(err) {
				return "", errors.WrapWithCode(err, errors.ErrConfig,
					"Specified config file not found: "+explicit,
					"Check the path is correct")
			}
			return "", errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot access config file: "+explicit,
				"Check file permissions")
		}
		return explicit, nil
	}

	// 2. Current directory
	cwd, err := os.Getwd()
	if err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot determine current directory",
			"Check directory permissions")
	}

	localConfig := filepath.Join(cwd, ConfigFileName)
	if _, err := os.Stat(localConfig); err == nil {
		return localConfig, nil
	}

	// 3. Walk up to parent directories
	home, _ := os.UserHomeDir()
	dir := cwd
	for {
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		if home != "" && parent == home {
			break
		}
		dir = parent

		configPath := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath, nil
		}

		// Stop at git root
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			break
		}
	}

	// 4. Global config
	if home != "" {
		globalConfig := filepath.Join(home, GlobalConfigDir, GlobalConfigFile)
		if _, err := os.Stat(globalConfig); err == nil {
			return globalConfig, nil
		}
	}

	return "", nil
}

// LoadOrDefault loads the config found via Find(explicit), or returns defaults
// (still honoring CHDIG_* environment overrides) when there is no file.
func LoadOrDefault(explicit string) (*Config, string, error) {
	path, err := Find(explicit)
	if err != nil {
		return nil, "", err
	}

	if path == "" {
		cfg, err := parseConfig(newViper(), "environment")
		return cfg, "", err
	}

	cfg, err := Load(path)
	return cfg, path, err
}

// newViper returns a viper instance with defaults and env binding set up.
func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

// parseConfig converts viper config to our Config struct with defaults merged in.
func parseConfig(v *viper.Viper, source string) (*Config, error) {
	cfg := DefaultConfig()

	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrConfig,
			"Invalid config format",
			"Check the YAML syntax in "+source)
	}

	expandConfig(cfg)
	applyHostDefaults(cfg)

	return cfg, nil
}

// setDefaults registers every scalar key so AutomaticEnv can override it
// even when the file does not mention it.
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("version", d.Version)
	v.SetDefault("url", d.URL)
	v.SetDefault("cluster", d.Cluster)
	v.SetDefault("user", d.User)
	v.SetDefault("password", d.Password)
	v.SetDefault("database", d.Database)
	v.SetDefault("secure", d.Secure)
	v.SetDefault("skip_verify", d.SkipVerify)
	v.SetDefault("interval", d.Interval)
	v.SetDefault("host_timeout", d.HostTimeout)
	v.SetDefault("cycle_timeout", d.CycleTimeout)
	v.SetDefault("max_parallel", d.MaxParallel)
	v.SetDefault("top_n", d.TopN)
	v.SetDefault("history_size", d.HistorySize)
	v.SetDefault("time_span", d.TimeSpan)
	v.SetDefault("discover_interval", d.DiscoverInterval)
	v.SetDefault("metrics_listen", d.MetricsListen)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("flamegraph.format", d.Flamegraph.Format)
	v.SetDefault("flamegraph.output", d.Flamegraph.Output)
	v.SetDefault("flamegraph.viewer", d.Flamegraph.Viewer)
}

// applyHostDefaults fills in host ids and roles left empty in the file.
func applyHostDefaults(cfg *Config) {
	for i := range cfg.Hosts {
		h := &cfg.Hosts[i]
		h.ID = strings.TrimSpace(h.ID)
		h.Address = strings.TrimSpace(h.Address)
		if h.ID == "" {
			h.ID = h.Address
		}
		if h.Role == "" {
			h.Role = "shard"
		}
		h.Role = strings.ToLower(h.Role)
	}
}
