// Package progress renders a single, self-overwriting status line for the
// all-packages driver's wave-by-wave build loop when stdout is a terminal,
// and falls back to one log line per update otherwise.
package progress

import (
	"fmt"
	"io"
	"sync"

	"github.com/mattn/go-isatty"
)

// Bar reports "N/total done" progress for a build-all run. It is safe for
// concurrent use: the parallel driver updates it from multiple wave
// workers.
type Bar struct {
	out   io.Writer
	tty   bool
	total int

	mu   sync.Mutex
	done int
	last string
}

// New constructs a Bar writing to out. TTY detection (via
// github.com/mattn/go-isatty) only applies when out is an *os.File;
// anything else is treated as non-interactive and gets one log line per
// update instead of a redrawn line.
func New(out io.Writer, total int) *Bar {
	tty := false
	if f, ok := out.(interface{ Fd() uintptr }); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return &Bar{out: out, tty: tty, total: total}
}

// Update records that one more package finished (successfully or not) and
// redraws. label is the package name just completed.
func (b *Bar) Update(label string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.done++
	line := fmt.Sprintf("[%d/%d] %s", b.done, b.total, label)
	if b.tty {
		// \r plus trailing spaces to erase any leftover tail from a
		// longer previous line.
		pad := ""
		if len(b.last) > len(line) {
			pad = spaces(len(b.last) - len(line))
		}
		fmt.Fprintf(b.out, "\r%s%s", line, pad)
	} else {
		fmt.Fprintln(b.out, line)
	}
	b.last = line
}

// Done finalizes the bar, moving to a fresh line when it was drawing
// in-place.
func (b *Bar) Done() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tty && b.last != "" {
		fmt.Fprintln(b.out)
	}
}

func spaces(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = ' '
	}
	return string(b)
}
