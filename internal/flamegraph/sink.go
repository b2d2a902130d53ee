package flamegraph

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rileyhilliard/chdig/internal/errors"
	"github.com/rileyhilliard/chdig/internal/util"
)

// FilePlaceholder in a viewer command is replaced by the path of a file
// holding the export. Without it the export is piped on stdin.
const FilePlaceholder = "{file}"

// Sink delivers an export to a file or to an external viewer.
type Sink struct {
	// Output is a file path. A directory gets a generated file name.
	Output string
	// Viewer is a shell command run with the export.
	Viewer string
	// Stderr receives the viewer's output. Defaults to os.Stderr.
	Stderr io.Writer
}

// Deliver writes data according to the sink. name seeds generated file
// names. It returns the path written, if any.
func (s Sink) Deliver(ctx context.Context, data []byte, name string, format Format) (string, error) {
	if s.Viewer == "" && s.Output == "" {
		return "", errors.New(errors.ErrExport,
			"No flamegraph destination",
			"Set flamegraph.output or flamegraph.viewer, or pass --output")
	}

	var path string
	if s.Output != "" || strings.Contains(s.Viewer, FilePlaceholder) {
		p, err := s.writeFile(data, name, format)
		if err != nil {
			return "", err
		}
		path = p
	}
	if s.Viewer == "" {
		return path, nil
	}

	cmd := s.Viewer
	var stdin io.Reader = bytes.NewReader(data)
	if path != "" && strings.Contains(cmd, FilePlaceholder) {
		cmd = strings.ReplaceAll(cmd, FilePlaceholder, util.ShellQuote(path))
		stdin = nil
	}
	if err := s.runViewer(ctx, cmd, stdin); err != nil {
		return path, err
	}
	return path, nil
}

func (s Sink) writeFile(data []byte, name string, format Format) (string, error) {
	path := s.Output
	generated := name + format.Extension()
	switch {
	case path == "":
		dir, err := os.MkdirTemp("", "chdig-flamegraph-")
		if err != nil {
			return "", errors.WrapWithCode(err, errors.ErrExport, "Couldn't create a temp directory", "")
		}
		path = filepath.Join(dir, generated)
	default:
		if info, err := os.Stat(path); err == nil && info.IsDir() {
			path = filepath.Join(path, generated)
		}
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", errors.WrapWithCode(err, errors.ErrExport,
			fmt.Sprintf("Couldn't write flamegraph to %s", path),
			"Check that the directory exists and is writable")
	}
	return path, nil
}

func (s Sink) runViewer(ctx context.Context, cmd string, stdin io.Reader) error {
	shell := os.Getenv("SHELL")
	if shell == "" {
		shell = "/bin/sh"
	}
	stderr := s.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	command := exec.CommandContext(ctx, shell, "-c", cmd)
	command.Stdin = stdin
	command.Stdout = stderr
	command.Stderr = stderr
	if err := command.Run(); err != nil {
		return errors.WrapWithCode(err, errors.ErrExport,
			fmt.Sprintf("Flamegraph viewer %q failed", cmd),
			"Make sure the viewer is installed, e.g. flamegraph.pl or speedscope")
	}
	return nil
}
