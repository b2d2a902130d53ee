package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/rileyhilliard/chdig/internal/cluster"
	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/query"
	"github.com/rileyhilliard/chdig/internal/transport"
	"github.com/rileyhilliard/chdig/internal/ui"
	"github.com/spf13/cobra"
)

var killCmd = &cobra.Command{
	Use:   "kill <host> <query_id>",
	Short: "Kill a running query on one host",
	Long: `Send KILL QUERY for query_id to one host of the cluster.

The host is a host id or address as shown by 'chdig hosts'. The request is
asynchronous on the server: the query stops at its next cancellation point.

Examples:
  chdig kill ch-2:9000 3f0c2a4e-5b7d-4c1e-9a0f-0d6c7e8f9a10`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return killCommand(cmd.Context(), args[0], args[1], cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(killCmd)
}

func killCommand(ctx context.Context, hostID, queryID string, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	s, err := openSessionWith(ctx, cfg, path, sessionOptions{Component: "kill"})
	if err != nil {
		return err
	}
	defer s.Close()

	return runKill(ctx, s, hostID, queryID, out)
}

func runKill(ctx context.Context, s *session, hostID, queryID string, out io.Writer) error {
	if queryID == "" {
		return errors.New(errors.ErrConfig, "No query id given", "Copy the id from the Queries view.")
	}
	h, ok := lookupHost(s.topo, hostID)
	if !ok {
		return errors.New(errors.ErrConfig,
			fmt.Sprintf("Unknown host '%s'", hostID),
			"Run 'chdig hosts' to see the host ids.")
	}

	kctx, cancel := context.WithTimeout(ctx, s.cfg.HostTimeout)
	defer cancel()
	if _, err := s.conn.Execute(kctx, h.Address, query.KillQueryText, transport.Params{"query_id": queryID}); err != nil {
		s.log.Warn("kill %s on %s failed: %v", queryID, h, err)
		return errors.WrapWithCode(transport.Classify(h.ID, err), errors.ErrTransport,
			fmt.Sprintf("Kill of %s on %s failed", queryID, h.ID),
			"Check the query is still running and the user may kill it.")
	}

	s.log.Info("kill requested for %s on %s", queryID, h)
	fmt.Fprintf(out, "%s kill requested for %s on %s\n", ui.SymbolSuccess, queryID, h)
	return nil
}

// lookupHost finds a host by id, falling back to its address.
func lookupHost(topo *cluster.Topology, name string) (*cluster.Host, bool) {
	if h, ok := topo.Host(name); ok {
		return h, true
	}
	for _, h := range topo.Hosts() {
		if h.Address == name {
			return h, true
		}
	}
	return nil, false
}
