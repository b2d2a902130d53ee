package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/rileyhilliard/chdig/internal/doctor"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/ui"
	"github.com/spf13/cobra"
)

var doctorJSON bool

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the config and the cluster for common problems",
	Long: `Run preflight checks: the config loads and validates, the log file is
writable, every host answers, and the server features the dashboard relies on
(system.trace_log, introspection functions, the named cluster) are available.

Exits non-zero when any check fails. Warnings do not change the exit code.

Examples:
  chdig doctor
  chdig doctor --json | jq '.summary'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return doctorCommand(cmd.Context(), doctorOptions{JSON: doctorJSON, Out: cmd.OutOrStdout()})
	},
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorJSON, "json", false, "output in JSON format")
	rootCmd.AddCommand(doctorCmd)
}

type doctorOptions struct {
	JSON bool
	Out  io.Writer
}

// DoctorOutput represents the JSON output for doctor command.
type DoctorOutput struct {
	Categories []CategoryOutput `json:"categories"`
	Summary    SummaryOutput    `json:"summary"`
}

// CategoryOutput represents a category of check results.
type CategoryOutput struct {
	Name    string               `json:"name"`
	Results []doctor.CheckResult `json:"results"`
}

// SummaryOutput summarizes the check results.
type SummaryOutput struct {
	Pass     int  `json:"pass"`
	Warn     int  `json:"warn"`
	Fail     int  `json:"fail"`
	AllClear bool `json:"all_clear"`
}

func doctorCommand(ctx context.Context, opts doctorOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}

	checks := doctor.NewConfigChecks(cfgFile)
	results := doctor.RunAll(ctx, checks)

	// Without a usable config there is nothing to connect to.
	cfg, path, err := loadConfig()
	if err != nil {
		return finishDoctor(opts, checks, results)
	}

	logCheck := &doctor.LogFileCheck{Path: cfg.Log.File}
	checks = append(checks, logCheck)
	results = append(results, logCheck.Run(ctx))

	s, err := openSessionWith(ctx, cfg, path, sessionOptions{Component: "doctor"})
	if err != nil {
		// The session error explains more than the exit code would.
		_ = finishDoctor(opts, checks, results)
		return err
	}
	defer s.Close()

	hosts := s.topo.Active()
	hostChecks := doctor.NewHostChecks(s.conn, hosts, cfg.HostTimeout)
	checks = append(checks, hostChecks...)
	results = append(results, doctor.RunAllParallel(ctx, hostChecks, cfg.MaxParallel)...)

	var featureChecks []doctor.Check
	if cfg.Cluster != "" && s.seed != "" {
		featureChecks = append(featureChecks, &doctor.ClusterCheck{
			Cluster: cfg.Cluster,
			Seed:    s.seed,
			Conn:    s.conn,
			Timeout: cfg.HostTimeout,
		})
	}
	featureChecks = append(featureChecks, doctor.NewFeatureChecks(s.conn, hosts, cfg.HostTimeout)...)
	checks = append(checks, featureChecks...)
	results = append(results, doctor.RunAllParallel(ctx, featureChecks, cfg.MaxParallel)...)

	s.log.Info("doctor: %s", doctor.Summary(results))
	return finishDoctor(opts, checks, results)
}

// finishDoctor renders the report and turns failures into exit code 1.
func finishDoctor(opts doctorOptions, checks []doctor.Check, results []doctor.CheckResult) error {
	var err error
	if opts.JSON {
		err = outputDoctorJSON(opts.Out, checks, results)
	} else {
		outputDoctorText(opts.Out, checks, results)
	}
	if err != nil {
		return errors.WrapWithCode(err, errors.ErrConfig, "Failed to write the report", "")
	}
	if doctor.HasFailures(results) {
		return errors.NewExitError(1)
	}
	return nil
}

func outputDoctorJSON(w io.Writer, checks []doctor.Check, results []doctor.CheckResult) error {
	grouped := doctor.GroupByCategory(checks)
	output := DoctorOutput{Categories: []CategoryOutput{}}
	for _, cat := range doctor.CategoryOrder {
		indices := grouped[cat]
		if len(indices) == 0 {
			continue
		}
		co := CategoryOutput{Name: cat, Results: make([]doctor.CheckResult, 0, len(indices))}
		for _, idx := range indices {
			co.Results = append(co.Results, results[idx])
		}
		output.Categories = append(output.Categories, co)
	}

	counts := doctor.CountByStatus(results)
	output.Summary = SummaryOutput{
		Pass:     counts[doctor.StatusPass],
		Warn:     counts[doctor.StatusWarn],
		Fail:     counts[doctor.StatusFail],
		AllClear: !doctor.HasIssues(results),
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(output)
}

func outputDoctorText(w io.Writer, checks []doctor.Check, results []doctor.CheckResult) {
	headerStyle := lipgloss.NewStyle().Bold(true)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("chdig Diagnostic Report"))
	fmt.Fprintln(w)

	grouped := doctor.GroupByCategory(checks)
	for _, category := range doctor.CategoryOrder {
		indices := grouped[category]
		if len(indices) == 0 {
			continue
		}
		fmt.Fprintln(w, headerStyle.Render(category))
		for _, idx := range indices {
			renderCheckResult(w, results[idx])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w, strings.Repeat("━", 60))
	fmt.Fprintln(w)

	if doctor.HasIssues(results) {
		fmt.Fprintf(w, "%s %s\n", ui.ErrorStyle().Render(ui.SymbolFail), doctor.Summary(results))
	} else {
		fmt.Fprintf(w, "%s %s\n", ui.SuccessStyle().Render(ui.SymbolSuccess), doctor.Summary(results))
	}
	fmt.Fprintln(w)
}

func renderCheckResult(w io.Writer, result doctor.CheckResult) {
	var symbol string
	var style lipgloss.Style
	switch result.Status {
	case doctor.StatusPass:
		symbol, style = ui.SymbolSuccess, ui.SuccessStyle()
	case doctor.StatusWarn:
		symbol, style = ui.SymbolWarning, ui.WarningStyle()
	default:
		symbol, style = ui.SymbolFail, ui.ErrorStyle()
	}

	fmt.Fprintf(w, "  %s %s\n", style.Render(symbol), result.Message)
	if result.Suggestion != "" && result.Status != doctor.StatusPass {
		for _, line := range strings.Split(result.Suggestion, "\n") {
			fmt.Fprintf(w, "    %s\n", ui.MutedStyle().Render(line))
		}
	}
}
