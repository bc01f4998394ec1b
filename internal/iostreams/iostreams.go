// forked from https://github.com/cli/cli/tree/trunk/pkg/iostreams

package iostreams

import (
	"io"
	"os"

	"github.com/mattn/go-isatty"
)

type IOStreams struct {
	In     io.ReadCloser
	Out    io.Writer
	ErrOut io.Writer
}

func NewStream(stdin io.ReadCloser, stdout, stderr io.Writer) *IOStreams {
	return &IOStreams{
		In:     stdin,
		Out:    stdout,
		ErrOut: stderr,
	}
}

func System() *IOStreams {
	return NewStream(os.Stdin, os.Stdout, os.Stderr)
}

// IsStdinTTY reports whether In is an interactive terminal.
func (s *IOStreams) IsStdinTTY() bool {
	return isTerminal(s.In)
}

// IsStdoutTTY reports whether Out is an interactive terminal.
func (s *IOStreams) IsStdoutTTY() bool {
	return isTerminal(s.Out)
}

func isTerminal(v any) bool {
	f, ok := v.(interface{ Fd() uintptr })
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
