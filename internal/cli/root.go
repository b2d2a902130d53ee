package cli

import (
	stderrors "errors"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/ui"
	"github.com/spf13/cobra"
)

// Global flags
var (
	cfgFile   string
	colorFlag string
)

// Color modes accepted by --color.
const (
	colorAuto   = "auto"
	colorAlways = "always"
	colorNever  = "never"
)

var rootCmd = &cobra.Command{
	Use:   "chdig",
	Short: "Live introspection dashboard for ClickHouse clusters",
	Long: `chdig queries the system tables of every host in a ClickHouse cluster,
merges the answers into one live view and keeps it fresh.

Running chdig without a subcommand opens the dashboard. Hosts come from the
config file, or are discovered from system.clusters when only a seed url and
a cluster name are given.

Examples:
  chdig
  chdig --config ./prod.chdig.yaml
  chdig flamegraph --type cpu --span 15m --output ./cpu.folded
  chdig kill ch-2:9000 3f0c2a4e-...
  chdig hosts --save`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return applyColorMode(colorFlag)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return dashboardCommand(dashboardOptions{
			Hosts:    dashboardHostsFlag,
			Interval: dashboardIntervalFlag,
			TopN:     dashboardTopNFlag,
			Span:     dashboardSpanFlag,
		})
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: search for "+config.ConfigFileName+")")
	rootCmd.PersistentFlags().StringVar(&colorFlag, "color", colorAuto, "color output: auto, always, never")
}

// applyColorMode sets the lipgloss color profile for --color.
func applyColorMode(mode string) error {
	switch strings.ToLower(mode) {
	case "", colorAuto:
		if os.Getenv("NO_COLOR") != "" {
			ui.DisableColors()
		}
	case colorAlways:
		lipgloss.SetColorProfile(termenv.TrueColor)
	case colorNever:
		ui.DisableColors()
	default:
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown color mode '%s'", mode),
			"Use --color auto, always or never.")
	}
	return nil
}

// Execute runs the root command and exits with a non-zero status on error.
func Execute() {
	err := rootCmd.Execute()
	if err == nil {
		return
	}

	if code, ok := errors.GetExitCode(err); ok {
		os.Exit(code)
	}

	if isUnknownCommandError(err) {
		fmt.Fprintf(os.Stderr, "✗ %s\n\n  Run 'chdig --help' for the list of commands.\n", err)
		if name := extractUnknownCommand(err); name != "" {
			if s := rootCmd.SuggestionsFor(name); len(s) > 0 {
				fmt.Fprintf(os.Stderr, "  Did you mean '%s'?\n", s[0])
			}
		}
		os.Exit(2)
	}

	fmt.Fprint(os.Stderr, renderError(err))
	os.Exit(1)
}

// renderError formats err for the terminal. Structured errors already
// carry their own layout.
func renderError(err error) string {
	var chErr *errors.Error
	if stderrors.As(err, &chErr) {
		return chErr.Error()
	}
	return fmt.Sprintf("✗ %s\n", err)
}

var unknownCommandRe = regexp.MustCompile(`unknown command "([^"]+)"`)

func isUnknownCommandError(err error) bool {
	msg := err.Error()
	return strings.HasPrefix(msg, "unknown command") || strings.HasPrefix(msg, "unknown flag")
}

func extractUnknownCommand(err error) string {
	m := unknownCommandRe.FindStringSubmatch(err.Error())
	if len(m) < 2 {
		return ""
	}
	return m[1]
}
