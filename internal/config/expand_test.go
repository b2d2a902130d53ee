package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpand(t *testing.T) {
	t.Setenv("CHDIG_TEST_SECRET", "s3cr3t")
	t.Setenv("CHDIG_TEST_HOST", "ch-1.internal")

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty string", input: "", expected: ""},
		{name: "no variables", input: "plain", expected: "plain"},
		{name: "single variable", input: "${CHDIG_TEST_SECRET}", expected: "s3cr3t"},
		{name: "embedded variable", input: "${CHDIG_TEST_HOST}:9000", expected: "ch-1.internal:9000"},
		{name: "multiple variables", input: "${CHDIG_TEST_HOST}/${CHDIG_TEST_SECRET}", expected: "ch-1.internal/s3cr3t"},
		{name: "unset variable is empty", input: "x${CHDIG_TEST_NOPE}y", expected: "xy"},
		{name: "bare dollar kept", input: "pa$$word", expected: "pa$$word"},
		{name: "unterminated kept", input: "abc${NOPE", expected: "abc${NOPE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Expand(tt.input))
		})
	}
}

func TestExpand_HomeFallback(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}
	assert.Equal(t, home+"/logs", Expand("${HOME}/logs"))
}

func TestExpandTilde(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "empty", input: "", expected: ""},
		{name: "tilde only", input: "~", expected: home},
		{name: "tilde path", input: "~/chdig.log", expected: filepath.Join(home, "chdig.log")},
		{name: "absolute unchanged", input: "/var/log/chdig.log", expected: "/var/log/chdig.log"},
		{name: "tilde user unsupported", input: "~other/x", expected: "~other/x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExpandTilde(tt.input))
		})
	}
}

func TestExpandConfig(t *testing.T) {
	t.Setenv("CHDIG_TEST_PW", "hunter2")

	cfg := DefaultConfig()
	cfg.Password = "${CHDIG_TEST_PW}"
	cfg.Hosts = []HostEntry{{Address: "${CHDIG_TEST_PW}:9000"}}
	cfg.Log.File = "/tmp/chdig.log"

	expandConfig(cfg)

	assert.Equal(t, "hunter2", cfg.Password)
	assert.Equal(t, "hunter2:9000", cfg.Hosts[0].Address)
	assert.Equal(t, "/tmp/chdig.log", cfg.Log.File)
}
