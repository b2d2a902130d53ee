package doctor

import (
	"context"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/errors"
)

// ConfigFileCheck verifies that a config file can be found. Running on
// defaults is allowed, so a missing file only warns.
type ConfigFileCheck struct {
	ConfigPath string // Explicit path, or empty to search
}

func (c *ConfigFileCheck) Name() string     { return "config_file" }
func (c *ConfigFileCheck) Category() string { return CategoryConfig }

func (c *ConfigFileCheck) Run(context.Context) CheckResult {
	path, err := config.Find(c.ConfigPath)
	if err != nil {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    errors.Short(err),
			Suggestion: "Check the --config path, or run 'chdig init' to create a config",
		}
	}
	if path == "" {
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusWarn,
			Message:    "No config file found, using defaults and CHDIG_* variables",
			Suggestion: "Run 'chdig init' to create a " + config.ConfigFileName,
		}
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Config file: " + path,
	}
}

// ConfigValidCheck loads and validates the config.
type ConfigValidCheck struct {
	ConfigPath string
}

func (c *ConfigValidCheck) Name() string     { return "config_valid" }
func (c *ConfigValidCheck) Category() string { return CategoryConfig }

func (c *ConfigValidCheck) Run(context.Context) CheckResult {
	cfg, _, err := config.LoadOrDefault(c.ConfigPath)
	if err == nil {
		err = config.Validate(cfg)
	}
	if err != nil {
		suggestion := "Fix the config and run 'chdig doctor' again"
		var chErr *errors.Error
		if stderrors.As(err, &chErr) && chErr.Suggestion != "" {
			suggestion = chErr.Suggestion
		}
		return CheckResult{
			Name:       c.Name(),
			Status:     StatusFail,
			Message:    errors.Short(err),
			Suggestion: suggestion,
		}
	}

	hosts := "discovered from system.clusters"
	switch {
	case len(cfg.Hosts) > 0:
		hosts = fmt.Sprintf("%d static", len(cfg.Hosts))
	case cfg.Cluster == "":
		hosts = "seed host only"
	}
	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: fmt.Sprintf("Config valid (hosts: %s, interval %s)", hosts, cfg.Interval),
	}
}

// LogFileCheck verifies the log file can be opened for appending.
type LogFileCheck struct {
	Path string
}

func (c *LogFileCheck) Name() string     { return "log_file" }
func (c *LogFileCheck) Category() string { return CategoryConfig }

func (c *LogFileCheck) Run(context.Context) CheckResult {
	if c.Path == "" {
		return CheckResult{
			Name:    c.Name(),
			Status:  StatusPass,
			Message: "Logging disabled",
		}
	}

	if err := os.MkdirAll(filepath.Dir(c.Path), 0o755); err != nil {
		return c.fail(err)
	}
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return c.fail(err)
	}
	_ = f.Close()

	return CheckResult{
		Name:    c.Name(),
		Status:  StatusPass,
		Message: "Log file: " + c.Path,
	}
}

func (c *LogFileCheck) fail(err error) CheckResult {
	return CheckResult{
		Name:       c.Name(),
		Status:     StatusFail,
		Message:    fmt.Sprintf("Cannot write log file %s: %v", c.Path, err),
		Suggestion: "Point log.file at a writable path, or set it to \"\" to disable logging",
	}
}

// NewConfigChecks creates the config checks for an explicit path (or search).
func NewConfigChecks(configPath string) []Check {
	return []Check{
		&ConfigFileCheck{ConfigPath: configPath},
		&ConfigValidCheck{ConfigPath: configPath},
	}
}
