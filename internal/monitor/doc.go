// Package monitor implements the live cluster dashboard TUI.
//
// The dashboard renders one view at a time from a catalog of system-table
// templates (running queries, merges, replication, ...) plus a live stack
// view. It never queries the cluster itself: a scheduler.Scheduler runs the
// fan-out cycles and the model only reads what the scheduler publishes.
//
// # Architecture
//
// The package uses the Bubble Tea framework (Model-Update-View):
//
//   - Model: the view catalog, the latest snapshot per view, selection and
//     overlay state
//   - Update: keystrokes become scheduler calls, scheduler updates become
//     new table rows
//   - View: header, table (or flamegraph), footer
//
// # Message Flow
//
//  1. Init points the scheduler at the first view's job
//  2. waitForUpdate blocks on Scheduler.Updates and delivers an updateMsg
//  3. Update stores the snapshot, rebuilds the table and waits again
//  4. When the scheduler stops, the updates channel closes and the program quits
//
// Pausing, seeking and switching views all go through the scheduler, which
// drops results of cycles started before the change. The model therefore
// never has to filter stale updates.
//
// # Key Bindings
//
//	p           Pause / resume
//	r           Refresh now
//	T / t       Seek back / forward 10 minutes
//	L           Back to live
//	[ / ]       Narrow / widen the time span
//	+ / -       Show more / fewer rows
//	tab         Next view (shift+tab previous)
//	enter       Row detail
//	K           Kill the selected query
//	F           CPU flamegraph of the whole server
//	f           CPU flamegraph of the selected query
//	?           Help
//	q / Ctrl+C  Quit
package monitor
