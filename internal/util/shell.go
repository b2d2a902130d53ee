// Package util holds small string helpers shared by the command-line
// surfaces.
package util

import "strings"

// ShellQuote wraps s in single quotes so a shell passes it through as one
// literal word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
