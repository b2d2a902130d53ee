package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/fanout"
	"github.com/rileyhilliard/chdig/internal/logger"
	"github.com/rileyhilliard/chdig/internal/transport"
)

// newConn opens the transport for a session. Tests replace it with a fake.
var newConn = func(opts transport.Options, log logger.Logger) transport.Conn {
	return transport.NewClickHouse(opts, log)
}

// session is the connected state shared by every command: config, log,
// transport, topology and the executor that owns the topology's status.
type session struct {
	cfg      *config.Config
	cfgPath  string
	log      logger.Logger
	conn     transport.Conn
	seed     string
	topo     *cluster.Topology
	exec     *fanout.Executor
	logClose io.Closer
}

// sessionOptions narrows what openSession does.
type sessionOptions struct {
	// Hosts keeps only these host ids (comma-separated).
	Hosts string
	// Component names the log stream.
	Component string
}

// loadConfig finds, loads and validates the config named by --config.
func loadConfig() (*config.Config, string, error) {
	cfg, path, err := config.LoadOrDefault(cfgFile)
	if err != nil {
		return nil, "", err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// openSession loads config, opens the log file and the transport, and
// resolves the host list.
func openSession(ctx context.Context, opts sessionOptions) (*session, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return openSessionWith(ctx, cfg, path, opts)
}

func openSessionWith(ctx context.Context, cfg *config.Config, path string, opts sessionOptions) (*session, error) {
	s := &session{cfg: cfg, cfgPath: path, log: logger.Noop()}

	if cfg.Log.File != "" {
		log, closer, err := logger.NewFile(cfg.Log.File, cfg.Log.Level)
		if err != nil {
			return nil, errors.WrapWithCode(err, errors.ErrConfig,
				"Cannot open log file "+cfg.Log.File,
				"Fix log.file in the config, or set it to an empty string to disable logging.")
		}
		s.log, s.logClose = log, closer
		logger.SetDefault(log)
	}
	if opts.Component != "" {
		s.log = logger.With(s.log, opts.Component)
	}

	connOpts, seed, err := transport.OptionsFromConfig(cfg)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.seed = seed
	s.conn = newConn(connOpts, logger.With(s.log, "transport"))

	specs, err := s.resolveHosts(ctx)
	if err != nil {
		s.Close()
		return nil, err
	}
	specs, err = filterSpecs(specs, opts.Hosts)
	if err != nil {
		s.Close()
		return nil, err
	}

	topo, err := cluster.NewTopology(specs)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.topo = topo
	s.exec = fanout.NewExecutor(s.conn, topo.ClaimWriter(), fanout.Options{
		MaxParallel:  cfg.MaxParallel,
		HostTimeout:  cfg.HostTimeout,
		CycleTimeout: cfg.CycleTimeout,
	}, logger.With(s.log, "fanout"))

	s.log.Info("session open: %d hosts, config %s", topo.Len(), configSource(path))
	return s, nil
}

// resolveHosts returns the configured hosts, the cluster members seen by
// the seed, or the seed alone.
func (s *session) resolveHosts(ctx context.Context) ([]cluster.HostSpec, error) {
	if len(s.cfg.Hosts) > 0 {
		return cluster.SpecsFromConfig(s.cfg.Hosts)
	}
	if s.seed == "" {
		return nil, errors.New(errors.ErrConfig,
			"No hosts configured",
			"Set url to a seed host, or list hosts in "+config.ConfigFileName+". Run 'chdig init' to create one.")
	}
	if s.cfg.Cluster != "" {
		return s.discover(ctx)
	}
	return []cluster.HostSpec{{ID: s.seed, Address: s.seed}}, nil
}

// discover reads the cluster layout from the seed host.
func (s *session) discover(ctx context.Context) ([]cluster.HostSpec, error) {
	dctx, cancel := context.WithTimeout(ctx, s.cfg.HostTimeout)
	defer cancel()
	return cluster.Discover(dctx, s.conn, s.seed, s.cfg.Cluster)
}

// Close releases the transport and the log file.
func (s *session) Close() {
	if s.conn != nil {
		_ = s.conn.Close()
	}
	if s.logClose != nil {
		_ = s.logClose.Close()
	}
}

// filterSpecs keeps the hosts whose id or address is listed in the
// comma-separated filter.
func filterSpecs(specs []cluster.HostSpec, filter string) ([]cluster.HostSpec, error) {
	if strings.TrimSpace(filter) == "" {
		return specs, nil
	}

	names := make(map[string]bool)
	for _, name := range strings.Split(filter, ",") {
		name = strings.TrimSpace(name)
		if name != "" {
			names[name] = true
		}
	}

	var kept []cluster.HostSpec
	for _, spec := range specs {
		if names[spec.ID] || names[spec.Address] {
			kept = append(kept, spec)
		}
	}
	if len(kept) == 0 {
		return nil, errors.New(errors.ErrConfig,
			fmt.Sprintf("No hosts match '%s'", filter),
			"Run 'chdig hosts' to see the host ids, or drop the --hosts filter.")
	}
	return kept, nil
}

func configSource(path string) string {
	if path == "" {
		return "(defaults)"
	}
	return path
}
