package cli

import (
	"fmt"
	"testing"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsUnknownCommandError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "unknown command", err: fmt.Errorf(`unknown command "flame" for "chdig"`), want: true},
		{name: "unknown flag", err: fmt.Errorf("unknown flag: --bogus"), want: true},
		{name: "other", err: fmt.Errorf("connection refused"), want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUnknownCommandError(tt.err))
		})
	}
}

func TestExtractUnknownCommand(t *testing.T) {
	assert.Equal(t, "flame", extractUnknownCommand(fmt.Errorf(`unknown command "flame" for "chdig"`)))
	assert.Empty(t, extractUnknownCommand(fmt.Errorf("unknown flag: --bogus")))
}

func TestSuggestions(t *testing.T) {
	s := rootCmd.SuggestionsFor("flamegrap")
	require.NotEmpty(t, s)
	assert.Equal(t, "flamegraph", s[0])
}

func TestCommandsRegistered(t *testing.T) {
	var names []string
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"flamegraph", "kill", "hosts", "init", "version"} {
		assert.Contains(t, names, want)
	}

	for _, flag := range []string{"hosts", "interval", "span", "top-n"} {
		assert.NotNil(t, rootCmd.Flags().Lookup(flag), flag)
	}
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("config"))
	assert.NotNil(t, rootCmd.PersistentFlags().Lookup("color"))
}

func TestApplyColorMode(t *testing.T) {
	orig := lipgloss.ColorProfile()
	t.Cleanup(func() { lipgloss.SetColorProfile(orig) })

	t.Run("always", func(t *testing.T) {
		require.NoError(t, applyColorMode("always"))
		assert.Equal(t, termenv.TrueColor, lipgloss.ColorProfile())
	})

	t.Run("never", func(t *testing.T) {
		require.NoError(t, applyColorMode("NEVER"))
		assert.Equal(t, termenv.Ascii, lipgloss.ColorProfile())
	})

	t.Run("auto with NO_COLOR", func(t *testing.T) {
		lipgloss.SetColorProfile(termenv.TrueColor)
		t.Setenv("NO_COLOR", "1")
		require.NoError(t, applyColorMode("auto"))
		assert.Equal(t, termenv.Ascii, lipgloss.ColorProfile())
	})

	t.Run("unknown", func(t *testing.T) {
		err := applyColorMode("rainbow")
		require.Error(t, err)
		assert.True(t, errors.IsCode(err, errors.ErrConfig))
	})
}

func TestRenderError(t *testing.T) {
	structured := errors.New(errors.ErrConfig, "No hosts configured", "Run 'chdig init'.")
	assert.Equal(t, structured.Error(), renderError(structured))
	assert.Equal(t, structured.Error(), renderError(fmt.Errorf("wrapped: %w", structured)))

	assert.Equal(t, "✗ boom\n", renderError(fmt.Errorf("boom")))
}
