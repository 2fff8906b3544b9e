//go:build !rp2040 && !rp2350

package board

import (
	"io"
	"os"
)

// Host is a PC running the example against a serial adapter. There is
// nothing to bring up; the console is a writer, normally stdout.
type Host struct {
	Out io.Writer
}

func Default() *Host { return &Host{Out: os.Stdout} }

func (h *Host) Init() error { return nil }

func (h *Host) Console() (io.Writer, error) {
	if h.Out == nil {
		return nil, ErrNoConsole
	}
	return h.Out, nil
}

// Halt stops the process with a non-zero status.
func Halt() {
	os.Exit(1)
}
