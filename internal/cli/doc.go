// Package cli implements the chdig command-line interface.
//
// The package is organized around Cobra commands, with each command's RunE
// collecting its flags into an options struct and handing it to an
// xxxCommand function. Those functions load the config and open a session;
// the work itself lives in runXxx functions that take the open session, so
// tests can drive them against a fake transport.
//
// # Command Structure
//
//	chdig                  - Live dashboard (default)
//	chdig flamegraph       - One-shot flamegraph export
//	chdig kill <host> <id> - KILL QUERY on one host
//	chdig hosts [--save]   - Resolve and probe the host list
//	chdig init             - Create .chdig.yaml
//	chdig version          - Build information
//
// # Sessions
//
// A session bundles what every command needs: the validated config, the
// log file, the ClickHouse transport, the topology and the fan-out
// executor that owns the topology's status writer. Hosts come from the
// config's hosts list, from system.clusters on the seed host when a
// cluster is named, or from the seed alone.
//
// # Flag Handling
//
// Global flags (--config, --color) are defined on the root command and
// available to all subcommands. The dashboard's flags (--hosts, --interval,
// --span, --top-n) live on the root command itself because the dashboard
// is what runs without a subcommand.
package cli
