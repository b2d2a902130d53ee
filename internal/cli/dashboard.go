package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/flamegraph"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/monitor"
	"github.com/rileyhilliard/chdig/internal/profile"
	"github.com/rileyhilliard/chdig/internal/scheduler"
	"github.com/rileyhilliard/chdig/internal/snapshot"
)

// Dashboard flags, registered on the root command.
var (
	dashboardHostsFlag    string
	dashboardIntervalFlag string
	dashboardSpanFlag     string
	dashboardTopNFlag     int
)

func init() {
	rootCmd.Flags().StringVar(&dashboardHostsFlag, "hosts", "", "only watch these host ids (comma-separated)")
	rootCmd.Flags().StringVar(&dashboardIntervalFlag, "interval", "", "refresh interval (e.g., 3s, 10s); overrides config")
	rootCmd.Flags().StringVar(&dashboardSpanFlag, "span", "", "time window of history views (e.g., 15m, 6h); overrides config")
	rootCmd.Flags().IntVar(&dashboardTopNFlag, "top-n", -1, "rows shown per view, 0 for all; overrides config")
}

// dashboardOptions are the command-line overrides of the dashboard.
type dashboardOptions struct {
	Hosts    string
	Interval string
	Span     string
	TopN     int
}

// dashboardCommand opens the live TUI dashboard.
func dashboardCommand(opts dashboardOptions) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	if err := opts.apply(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSessionWith(ctx, cfg, path, sessionOptions{Hosts: opts.Hosts, Component: "dashboard"})
	if err != nil {
		return err
	}
	defer s.Close()

	d := newDashboard(s)

	if cfg.MetricsListen != "" {
		shutdown, err := serveMetrics(cfg.MetricsListen, logger.With(s.log, "metrics"))
		if err != nil {
			return err
		}
		defer shutdown()
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() {
		done <- d.sched.Run(runCtx)
	}()

	p := tea.NewProgram(d.model, tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = p.Run()

	cancel()
	if runErr := <-done; runErr != nil {
		s.log.Error("scheduler: %v", runErr)
	}

	// Ctrl+C arriving as a signal rather than a key is a normal exit.
	if err != nil && ctx.Err() == nil {
		return errors.WrapWithCode(err, errors.ErrScheduler,
			"Dashboard stopped unexpectedly",
			"See the log file for details: "+cfg.Log.File)
	}
	return nil
}

// apply writes the overrides into cfg and re-checks the values.
func (o dashboardOptions) apply(cfg *config.Config) error {
	if o.Interval != "" {
		d, err := parseDurationFlag("--interval", o.Interval)
		if err != nil {
			return err
		}
		if err := config.ValidateInterval("--interval", d); err != nil {
			return errors.WrapWithCode(err, errors.ErrConfig, err.Error(),
				"Minimum interval is 500ms to avoid overwhelming hosts")
		}
		cfg.Interval = d
	}
	if o.Span != "" {
		d, err := parseDurationFlag("--span", o.Span)
		if err != nil {
			return err
		}
		if d <= 0 {
			return errors.New(errors.ErrConfig,
				"--span must be positive",
				"Use a duration like 15m or 6h.")
		}
		cfg.TimeSpan = d
	}
	if o.TopN >= 0 {
		cfg.TopN = o.TopN
	}
	return nil
}

// dashboard is the wired engine behind the TUI.
type dashboard struct {
	sched *scheduler.Scheduler
	model monitor.Model
}

func newDashboard(s *session) *dashboard {
	cfg := s.cfg
	sym := profile.NewSymbolizer(s.conn, s.topo, logger.With(s.log, "symbolizer"))
	collector := profile.NewCollector(s.exec, sym, logger.With(s.log, "profile"))
	store := snapshot.NewStore(cfg.HistorySize)

	schedOpts := scheduler.Options{
		Interval: cfg.Interval,
		Span:     cfg.TimeSpan,
		TopN:     cfg.TopN,
	}
	if cfg.DiscoverInterval > 0 && len(cfg.Hosts) == 0 && cfg.Cluster != "" {
		schedOpts.Discover = s.discoverFunc()
		schedOpts.DiscoverInterval = cfg.DiscoverInterval
	}
	sched := scheduler.NewForExecutor(s.conn, s.exec, nil, schedOpts, logger.With(s.log, "scheduler"))

	// Validate already rejected unknown formats.
	format := flamegraph.FormatFolded
	if cfg.Flamegraph.Format != "" {
		format, _ = flamegraph.ParseFormat(cfg.Flamegraph.Format)
	}

	model := monitor.NewModel(monitor.Options{
		Scheduler: sched,
		Executor:  s.exec,
		Store:     store,
		Collector: collector,
		Sink: flamegraph.Sink{
			Output: cfg.Flamegraph.Output,
			Viewer: cfg.Flamegraph.Viewer,
		},
		Format: format,
		Log:    logger.With(s.log, "monitor"),
	})
	return &dashboard{sched: sched, model: model}
}

// discoverFunc re-reads system.clusters for topology refreshes.
func (s *session) discoverFunc() scheduler.DiscoverFunc {
	return func(ctx context.Context) ([]cluster.HostSpec, error) {
		return s.discover(ctx)
	}
}

// parseDurationFlag parses a duration flag value with a friendly error.
func parseDurationFlag(name, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.WrapWithCode(err, errors.ErrConfig,
			fmt.Sprintf("'%s' doesn't look like a valid %s", value, name),
			"Try something like 5s, 15m, or 6h.")
	}
	return d, nil
}
