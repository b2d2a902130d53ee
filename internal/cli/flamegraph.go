package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/flamegraph"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/profile"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/ui"
	"github.com/rileyhilliard/chdig/internal/util"
	"github.com/spf13/cobra"
)

// Flamegraph flags
var (
	flameTypeFlag    string
	flameQueryIDs    []string
	flameFromFlag    string
	flameToFlag      string
	flameSpanFlag    string
	flameFormatFlag  string
	flameOutputFlag  string
	flameViewerFlag  string
	flameHostsFlag   string
	flameTimeoutFlag string
)

// timeLayouts are accepted by --from and --to, most specific first.
var timeLayouts = []string{
	time.RFC3339,
	time.DateTime,
	"2006-01-02 15:04",
	time.DateOnly,
}

var flamegraphCmd = &cobra.Command{
	Use:   "flamegraph",
	Short: "Build a flamegraph from the cluster's stack samples",
	Long: `Collect stack samples from every host, merge them into one call tree and
export it.

Historical types read system.trace_log over a time window (--span back from
now, or --from/--to). The live type samples the threads running right now.
Without --output or --viewer the export goes to stdout, so it can be piped:

  chdig flamegraph --span 10m | flamegraph.pl > cpu.svg

Examples:
  chdig flamegraph --type cpu --span 15m --output ./cpu.folded
  chdig flamegraph --type memory --from "2024-05-01 12:00" --to "2024-05-01 13:00"
  chdig flamegraph --query-id 3f0c2a4e-... --format pprof --output ./q.pb.gz
  chdig flamegraph --type live --viewer "inferno-flamegraph > /tmp/live.svg"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return flamegraphCommand(flamegraphOptions{
			Type:     flameTypeFlag,
			QueryIDs: flameQueryIDs,
			From:     flameFromFlag,
			To:       flameToFlag,
			Span:     flameSpanFlag,
			Format:   flameFormatFlag,
			Output:   flameOutputFlag,
			Viewer:   flameViewerFlag,
			Hosts:    flameHostsFlag,
			Timeout:  flameTimeoutFlag,
			Stdout:   cmd.OutOrStdout(),
			Stderr:   cmd.ErrOrStderr(),
		})
	},
}

func init() {
	flamegraphCmd.Flags().StringVar(&flameTypeFlag, "type", "", "profile type: "+typeList()+" (prompted on a terminal)")
	flamegraphCmd.Flags().StringSliceVar(&flameQueryIDs, "query-id", nil, "only samples of these query ids (repeatable)")
	flamegraphCmd.Flags().StringVar(&flameFromFlag, "from", "", "window start (e.g., \"2024-05-01 12:00\")")
	flamegraphCmd.Flags().StringVar(&flameToFlag, "to", "", "window end, default now")
	flamegraphCmd.Flags().StringVar(&flameSpanFlag, "span", "", "window width back from now (default: time_span from config)")
	flamegraphCmd.Flags().StringVar(&flameFormatFlag, "format", "", "export format: folded, json, pprof (default: flamegraph.format)")
	flamegraphCmd.Flags().StringVarP(&flameOutputFlag, "output", "o", "", "write the export to this file or directory")
	flamegraphCmd.Flags().StringVar(&flameViewerFlag, "viewer", "", "pipe the export to this shell command")
	flamegraphCmd.Flags().StringVar(&flameHostsFlag, "hosts", "", "only sample these host ids (comma-separated)")
	flamegraphCmd.Flags().StringVar(&flameTimeoutFlag, "timeout", "1m", "give up after this long")
	rootCmd.AddCommand(flamegraphCmd)
}

// flamegraphOptions holds the resolved flags of the flamegraph command.
type flamegraphOptions struct {
	Type     string
	QueryIDs []string
	From     string
	To       string
	Span     string
	Format   string
	Output   string
	Viewer   string
	Hosts    string
	Timeout  string

	Stdout io.Writer
	Stderr io.Writer

	// Interactive allows prompting for a missing --type.
	Interactive bool
	// Now is the clock for default window ends.
	Now func() time.Time
}

func flamegraphCommand(opts flamegraphOptions) error {
	opts.Interactive = opts.Type == "" && ui.IsTerminal(os.Stdin) && ui.IsTerminal(os.Stderr)

	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSessionWith(ctx, cfg, path, sessionOptions{Hosts: opts.Hosts, Component: "flamegraph"})
	if err != nil {
		return err
	}
	defer s.Close()

	return runFlamegraph(ctx, s, opts)
}

// runFlamegraph builds and delivers one flamegraph over an open session.
func runFlamegraph(ctx context.Context, s *session, opts flamegraphOptions) error {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	typ, err := resolveProfileType(opts.Type, opts.Interactive)
	if err != nil {
		return err
	}
	window, err := resolveWindow(opts, s.cfg.TimeSpan, opts.Now())
	if err != nil {
		return err
	}
	formatName := opts.Format
	if formatName == "" {
		formatName = s.cfg.Flamegraph.Format
	}
	if formatName == "" {
		formatName = string(flamegraph.FormatFolded)
	}
	format, err := flamegraph.ParseFormat(formatName)
	if err != nil {
		return err
	}
	timeout, err := parseDurationFlag("--timeout", opts.Timeout)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	sym := profile.NewSymbolizer(s.conn, s.topo, logger.With(s.log, "symbolizer"))
	collector := profile.NewCollector(s.exec, sym, logger.With(s.log, "profile"))

	spinner := ui.NewSpinner(fmt.Sprintf("Sampling %s stacks from %d hosts", typ, s.topo.Len()))
	spinner.SetOutput(func(out string) { fmt.Fprint(opts.Stderr, out) })
	if ui.IsTerminal(os.Stderr) {
		spinner.Start()
	}

	tree, err := collector.Build(ctx, typ, window, opts.QueryIDs)
	if err != nil {
		spinner.Fail()
		return err
	}
	spinner.Success()

	if tree.Partial() {
		ui.PrintWarning(opts.Stderr, fmt.Sprintf("partial: %s failed", util.JoinOrDefault(tree.Failed, "no host")))
	}
	if tree.Root.Empty() {
		return errors.New(errors.ErrProfile,
			fmt.Sprintf("No %s samples in %s", typ, window),
			"Widen the window with --span, or check that trace_log collects this trace type.")
	}

	data, err := flamegraph.ExportTree(tree, format)
	if err != nil {
		return err
	}

	output, viewer := opts.Output, opts.Viewer
	if output == "" && viewer == "" {
		output, viewer = s.cfg.Flamegraph.Output, s.cfg.Flamegraph.Viewer
	}
	if output == "" && viewer == "" {
		_, err := opts.Stdout.Write(data)
		return err
	}

	sink := flamegraph.Sink{Output: output, Viewer: viewer, Stderr: opts.Stderr}
	written, err := sink.Deliver(ctx, data, "chdig-"+typ.String(), format)
	if err != nil {
		return err
	}
	fmt.Fprintf(opts.Stderr, "%s %s from %s", ui.SymbolSuccess,
		util.Count(tree.Samples, "stack", "stacks"), util.Count(len(tree.Hosts), "host", "hosts"))
	if written != "" {
		fmt.Fprintf(opts.Stderr, " written to %s", written)
	}
	fmt.Fprintln(opts.Stderr)
	return nil
}

// resolveProfileType parses name, or asks for it when name is empty and
// prompting is allowed. The default is cpu.
func resolveProfileType(name string, interactive bool) (profile.Type, error) {
	if name != "" {
		t, err := profile.ParseType(name)
		if err != nil {
			return 0, errors.WrapWithCode(err, errors.ErrConfig,
				fmt.Sprintf("Unknown profile type '%s'", name),
				"Use one of: "+typeList())
		}
		return t, nil
	}
	if !interactive {
		return profile.CPU, nil
	}

	t := profile.CPU
	options := make([]huh.Option[profile.Type], 0, len(profile.Types()))
	for _, pt := range profile.Types() {
		options = append(options, huh.NewOption(pt.String(), pt))
	}
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[profile.Type]().
				Title("Which stacks?").
				Options(options...).
				Value(&t),
		),
	)
	if err := form.Run(); err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			"Failed to get user input",
			"Pass --type to skip the prompt.")
	}
	return t, nil
}

// resolveWindow turns --from/--to/--span into a query window. --from wins
// over --span; neither means the config's time_span back from now.
func resolveWindow(opts flamegraphOptions, defaultSpan time.Duration, now time.Time) (query.Window, error) {
	if opts.From == "" {
		if opts.To != "" {
			return query.Window{}, errors.New(errors.ErrConfig,
				"--to needs --from",
				"Give both ends of the window, or use --span.")
		}
		span := defaultSpan
		if opts.Span != "" {
			d, err := parseDurationFlag("--span", opts.Span)
			if err != nil {
				return query.Window{}, err
			}
			span = d
		}
		if span <= 0 {
			return query.Window{}, errors.New(errors.ErrConfig,
				"--span must be positive",
				"Use a duration like 15m or 6h.")
		}
		return query.HistoricalWindow(now.Add(-span), now), nil
	}

	start, err := parseTimeFlag("--from", opts.From)
	if err != nil {
		return query.Window{}, err
	}
	end := now
	if opts.To != "" {
		end, err = parseTimeFlag("--to", opts.To)
		if err != nil {
			return query.Window{}, err
		}
	}
	if !end.After(start) {
		return query.Window{}, errors.New(errors.ErrConfig,
			"The window ends before it starts",
			"Make --to later than --from.")
	}
	return query.HistoricalWindow(start, end), nil
}

func parseTimeFlag(name, value string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, value, time.Local); err == nil {
			return t, nil
		}
	}
	return time.Time{}, errors.New(errors.ErrConfig,
		fmt.Sprintf("'%s' doesn't look like a valid %s", value, name),
		"Use a time like \"2024-05-01 12:00\" or 2024-05-01T12:00:00Z.")
}

func typeList() string {
	names := make([]string, 0, len(profile.Types()))
	for _, t := range profile.Types() {
		names = append(names, t.String())
	}
	return strings.Join(names, ", ")
}
