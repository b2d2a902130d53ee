package cli

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/config"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/transport"
	"github.com/rileyhilliard/chdig/internal/ui"
	"github.com/rileyhilliard/chdig/internal/util"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	hostsSaveFlag    bool
	hostsNoProbeFlag bool
)

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List the cluster's hosts and check they answer",
	Long: `Resolve the host list the dashboard would use and ask every host for its
server version.

With --save the resolved list is written to the hosts key of the config
file, pinning a discovered topology.

Examples:
  chdig hosts
  chdig hosts --no-probe
  chdig hosts --save`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return hostsCommand(cmd.Context(), hostsOptions{
			Save:  hostsSaveFlag,
			Probe: !hostsNoProbeFlag,
			Out:   cmd.OutOrStdout(),
		})
	},
}

func init() {
	hostsCmd.Flags().BoolVar(&hostsSaveFlag, "save", false, "write the resolved hosts to the config file")
	hostsCmd.Flags().BoolVar(&hostsNoProbeFlag, "no-probe", false, "list hosts without contacting them")
	rootCmd.AddCommand(hostsCmd)
}

type hostsOptions struct {
	Save  bool
	Probe bool
	Out   io.Writer
}

// hostProbe is the answer of one host to the version probe.
type hostProbe struct {
	version string
	quirks  transport.Quirks
	latency time.Duration
	err     error
}

func hostsCommand(ctx context.Context, opts hostsOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSessionWith(ctx, cfg, path, sessionOptions{Component: "hosts"})
	if err != nil {
		return err
	}
	defer s.Close()

	return runHosts(ctx, s, opts)
}

func runHosts(ctx context.Context, s *session, opts hostsOptions) error {
	hosts := s.topo.Active()

	var probes []hostProbe
	if opts.Probe {
		probes = probeHosts(ctx, s.conn, hosts, s.cfg.MaxParallel, s.cfg.HostTimeout)
	}

	fmt.Fprintln(opts.Out, ui.RenderSimpleTable(hostColumns(opts.Probe), hostRows(hosts, probes)))

	down := 0
	for _, p := range probes {
		if p.err != nil {
			down++
		}
	}
	if opts.Probe {
		fmt.Fprintf(opts.Out, "%d of %s answered\n", len(hosts)-down, util.Count(len(hosts), "host", "hosts"))
	}

	if opts.Save {
		target, err := saveHosts(s.cfgPath, s.cfg.Cluster, hosts)
		if err != nil {
			return err
		}
		fmt.Fprintf(opts.Out, "%s saved %s to %s\n", ui.SymbolSuccess, util.Count(len(hosts), "host", "hosts"), target)
	}

	if opts.Probe && len(hosts) > 0 && down == len(hosts) {
		return errors.NewExitError(1)
	}
	return nil
}

// probeHosts asks every host for its version with bounded parallelism.
// The result is index-aligned with hosts.
func probeHosts(ctx context.Context, conn transport.Conn, hosts []*cluster.Host, parallel int, timeout time.Duration) []hostProbe {
	probes := make([]hostProbe, len(hosts))
	g, gctx := errgroup.WithContext(ctx)
	if parallel > 0 {
		g.SetLimit(parallel)
	}
	for i, h := range hosts {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			start := time.Now()
			v, err := transport.FetchVersion(pctx, conn, h.Address)
			p := hostProbe{version: v, latency: time.Since(start)}
			if err != nil {
				p.err = transport.Classify(h.ID, err)
			} else {
				// An unparsable version still answered; it just has no quirks.
				p.quirks, _ = transport.ParseQuirks(v)
			}
			probes[i] = p
			return nil
		})
	}
	_ = g.Wait()
	return probes
}

func hostColumns(probed bool) []ui.TableColumn {
	cols := []ui.TableColumn{
		{Title: "", Width: 2},
		{Title: "ID", Width: 24},
		{Title: "ADDRESS", Width: 24},
		{Title: "ROLE", Width: 8},
		{Title: "SHARD", Width: 6},
		{Title: "REPLICA", Width: 8},
	}
	if probed {
		cols = append(cols,
			ui.TableColumn{Title: "VERSION", Width: 18},
			ui.TableColumn{Title: "LATENCY", Width: 9},
			ui.TableColumn{Title: "NOTES", Width: 40},
		)
	}
	return cols
}

func hostRows(hosts []*cluster.Host, probes []hostProbe) [][]string {
	rows := make([][]string, 0, len(hosts))
	for i, h := range hosts {
		row := []string{
			ui.SymbolPending,
			h.ID,
			h.Address,
			h.Role.String(),
			strconv.Itoa(h.Shard),
			strconv.Itoa(h.Replica),
		}
		if probes != nil {
			p := probes[i]
			if p.err != nil {
				row[0] = ui.SymbolFail
				row = append(row, "-", "-", errors.Short(p.err))
			} else {
				row[0] = ui.SymbolSuccess
				row = append(row, p.version, p.latency.Round(time.Millisecond).String(), quirkNotes(p.quirks))
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func quirkNotes(q transport.Quirks) string {
	active := q.Active()
	if len(active) == 0 {
		return ""
	}
	names := make([]string, len(active))
	for i, quirk := range active {
		names[i] = quirk.String()
	}
	return strings.Join(names, ", ")
}

// saveHosts pins hosts into the config at path, or into a new
// ./.chdig.yaml when the session ran without a config file.
func saveHosts(path, clusterName string, hosts []*cluster.Host) (string, error) {
	if path == "" {
		path = filepath.Join(".", config.ConfigFileName)
		data, err := config.StarterConfig("", clusterName)
		if err != nil {
			return "", err
		}
		if err := writeNewFile(path, data); err != nil {
			return "", err
		}
	}

	entries := make([]config.HostEntry, len(hosts))
	for i, h := range hosts {
		entries[i] = config.HostEntry{
			ID:      h.ID,
			Address: h.Address,
			Role:    h.Role.String(),
			Shard:   h.Shard,
			Replica: h.Replica,
		}
	}
	if err := config.SaveHosts(path, entries); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrConfig,
			"Cannot save hosts to "+path,
			"Check the file is writable YAML.")
	}
	return path, nil
}
