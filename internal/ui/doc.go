// Package ui provides terminal output helpers for chdig's one-shot
// commands. The dashboard has its own styles in package monitor.
//
//	Spinner     - Animated status line for a long collection
//	RenderSimpleTable - Static table for 'chdig hosts'
//	IsTerminal  - TTY detection deciding on prompts and animation
//
// # Color Scheme
//
//	ColorSuccess (green)  - Successful operations
//	ColorError   (red)    - Failures and errors
//	ColorWarning (amber)  - Partial results
//	ColorMuted   (gray)   - Secondary text, timing info
//
// Use DisableColors() to switch to monochrome output (for --color never).
//
// # Spinner Usage
//
//	s := ui.NewSpinner("Sampling cpu stacks")
//	s.Start()
//	// ... do work ...
//	s.Success() // or s.Fail()
package ui
