package config

import (
	"os"
	"path/filepath"
	"strings"
)

// ExpandTilde replaces ~ or ~/path with the user's home directory.
// Does not support ~username syntax - just ~ for the current user.
func ExpandTilde(path string) string {
	if path == "" {
		return path
	}

	// Handle ~/path
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path // Return unchanged if we can't get home
		}
		return filepath.Join(home, path[2:])
	}

	// Handle standalone ~
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}

	return path
}

// Expand replaces ${NAME} references with environment values so secrets can
// stay out of the config file (password: ${CLICKHOUSE_PASSWORD}).
// ${USER} and ${HOME} fall back to the current user when unset.
// Bare $NAME is left alone: passwords may legitimately contain '$'.
func Expand(s string) string {
	if !strings.Contains(s, "${") {
		return s
	}

	var b strings.Builder
	for {
		start := strings.Index(s, "${")
		if start < 0 {
			b.WriteString(s)
			break
		}
		end := strings.Index(s[start:], "}")
		if end < 0 {
			b.WriteString(s)
			break
		}
		end += start

		b.WriteString(s[:start])
		b.WriteString(lookupVar(s[start+2 : end]))
		s = s[end+1:]
	}
	return b.String()
}

func lookupVar(name string) string {
	if v, ok := os.LookupEnv(name); ok {
		return v
	}
	switch name {
	case "USER":
		return getUser()
	case "HOME":
		return getHome()
	}
	return ""
}

// getUser returns the current username for ${USER} expansion.
func getUser() string {
	// Try LOGNAME (POSIX standard)
	if user := os.Getenv("LOGNAME"); user != "" {
		return user
	}

	// Try USERNAME (Windows)
	if user := os.Getenv("USERNAME"); user != "" {
		return user
	}

	return "default"
}

// getHome returns the home directory for ${HOME} expansion.
func getHome() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "~"
}

// expandConfig applies variable and tilde expansion to the fields that accept it.
func expandConfig(cfg *Config) {
	cfg.URL = Expand(cfg.URL)
	cfg.User = Expand(cfg.User)
	cfg.Password = Expand(cfg.Password)
	cfg.Log.File = ExpandTilde(Expand(cfg.Log.File))
	cfg.Flamegraph.Output = ExpandTilde(Expand(cfg.Flamegraph.Output))
	for i := range cfg.Hosts {
		cfg.Hosts[i].Address = Expand(cfg.Hosts[i].Address)
	}
}
