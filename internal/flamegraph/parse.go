package flamegraph

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"

	"github.com/rileyhilliard/chdig/internal/errors"
	chprofile "github.com/rileyhilliard/chdig/internal/profile"
)

// ParseFolded rebuilds a tree from folded stacks. The weight follows the
// last space on each line, since demangled frames contain spaces.
func ParseFolded(r io.Reader) (*chprofile.Node, error) {
	root := chprofile.NewRoot()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)

	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimRight(sc.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		idx := strings.LastIndexByte(line, ' ')
		if idx <= 0 {
			return nil, malformed(lineNo, "missing weight")
		}
		weight, err := strconv.ParseInt(line[idx+1:], 10, 64)
		if err != nil || weight < 0 {
			return nil, malformed(lineNo, fmt.Sprintf("bad weight %q", line[idx+1:]))
		}
		if weight == 0 {
			continue
		}
		frames := strings.Split(line[:idx], ";")
		if slices.Contains(frames, "") {
			return nil, malformed(lineNo, "empty frame")
		}
		root.Add(frames, weight)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.WrapWithCode(err, errors.ErrExport, "Couldn't read folded stacks", "")
	}
	return root, nil
}

func malformed(line int, what string) error {
	return errors.New(errors.ErrExport,
		fmt.Sprintf("Malformed folded stack on line %d: %s", line, what),
		"Each line should look like: frame;frame;frame 42")
}
