package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, CurrentConfigVersion, cfg.Version)
	assert.Equal(t, "clickhouse://localhost:9000", cfg.URL)
	assert.NotNil(t, cfg.Hosts)
	assert.Empty(t, cfg.Hosts)
	assert.Equal(t, 3*time.Second, cfg.Interval)
	assert.Equal(t, 5*time.Second, cfg.HostTimeout)
	assert.Equal(t, 15*time.Second, cfg.CycleTimeout)
	assert.Equal(t, 8, cfg.MaxParallel)
	assert.Equal(t, 20, cfg.TopN)
	assert.Equal(t, 60, cfg.HistorySize)
	assert.Equal(t, time.Hour, cfg.TimeSpan)
	assert.Zero(t, cfg.DiscoverInterval)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "folded", cfg.Flamegraph.Format)

	require.NoError(t, Validate(cfg))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)

	content := `
version: 1
url: clickhouse://ch-seed:9000
cluster: prod
user: monitor
hosts:
  - id: s1r1
    address: ch-1:9000
    role: shard
    shard: 1
    replica: 1
  - address: ch-2:9000
    role: Replica
interval: 2s
host_timeout: 1500ms
max_parallel: 4
top_n: 0
time_span: 30m
log:
  level: debug
flamegraph:
  format: pprof
  viewer: pprof -http=:8080
`
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0o644))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "clickhouse://ch-seed:9000", cfg.URL)
	assert.Equal(t, "prod", cfg.Cluster)
	assert.Equal(t, "monitor", cfg.User)
	require.Len(t, cfg.Hosts, 2)
	assert.Equal(t, HostEntry{ID: "s1r1", Address: "ch-1:9000", Role: "shard", Shard: 1, Replica: 1}, cfg.Hosts[0])
	// id defaults to address, role is normalized
	assert.Equal(t, "ch-2:9000", cfg.Hosts[1].ID)
	assert.Equal(t, "replica", cfg.Hosts[1].Role)
	assert.Equal(t, 2*time.Second, cfg.Interval)
	assert.Equal(t, 1500*time.Millisecond, cfg.HostTimeout)
	assert.Equal(t, 4, cfg.MaxParallel)
	assert.Equal(t, 0, cfg.TopN)
	assert.Equal(t, 30*time.Minute, cfg.TimeSpan)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "pprof", cfg.Flamegraph.Format)
	assert.Equal(t, "pprof -http=:8080", cfg.Flamegraph.Viewer)

	// untouched keys keep defaults
	assert.Equal(t, 15*time.Second, cfg.CycleTimeout)
	assert.Equal(t, 60, cfg.HistorySize)

	require.NoError(t, Validate(cfg))
}

func TestLoad_EnvOverride(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("url: clickhouse://file:9000\n"), 0o644))

	t.Setenv("CHDIG_URL", "clickhouse://env:9000")
	t.Setenv("CHDIG_LOG_LEVEL", "warn")
	t.Setenv("CHDIG_TOP_N", "5")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "clickhouse://env:9000", cfg.URL)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 5, cfg.TopN)
}

func TestLoad_PasswordFromEnvReference(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("password: ${CHDIG_TEST_PASSWORD}\n"), 0o644))
	t.Setenv("CHDIG_TEST_PASSWORD", "from-env")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Password)
}

func TestLoadNotFound(t *testing.T) {
	_, err := Load("/nonexistent/path/.chdig.yaml")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
	assert.Contains(t, err.Error(), "Config file not found")
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, ConfigFileName)
	require.NoError(t, os.WriteFile(configPath, []byte("hosts: [unclosed\n"), 0o644))

	_, err := Load(configPath)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrConfig))
}

func TestFind(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		wantErr bool
	}{
		{
			name: "explicit path exists",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "custom.yaml")
				require.NoError(t, os.WriteFile(path, []byte("version: 1"), 0o644))
				return path
			},
		},
		{
			name: "explicit path not found",
			setup: func(t *testing.T) string {
				return "/nonexistent/config.yaml"
			},
			wantErr: true,
		},
		{
			name: "current directory has config",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				require.NoError(t, os.WriteFile(filepath.Join(dir, ConfigFileName), []byte("version: 1"), 0o644))
				t.Chdir(dir)
				return ""
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			explicit := tt.setup(t)

			path, err := Find(explicit)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if explicit != "" {
				assert.Equal(t, explicit, path)
			} else {
				assert.NotEmpty(t, path)
			}
		})
	}
}

func TestFind_ParentDirectory(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(root, ".git"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, ConfigFileName), []byte("version: 1"), 0o644))
	child := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(child, 0o755))
	t.Chdir(child)

	path, err := Find("")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, ConfigFileName), path)
}

func TestLoadOrDefault_NoFile(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CHDIG_CLUSTER", "from-env")

	cfg, path, err := LoadOrDefault("")
	require.NoError(t, err)
	assert.Empty(t, path)
	assert.Equal(t, "from-env", cfg.Cluster)
	assert.Equal(t, DefaultConfig().Interval, cfg.Interval)
}
