// Package progress renders a single live-updating progress line to a
// terminal, or one line per tick when the output isn't a TTY.
package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/use-agent/chronicle/session"
)

// Reporter renders progress lines to Out, redrawing in place on a real
// terminal and appending a line per call otherwise (so piping to a file
// or CI log stays readable).
type Reporter struct {
	Out      io.Writer
	isTTY    bool
	mu       sync.Mutex
	lastLine string
}

// NewReporter detects whether out is a terminal via go-isatty and
// configures the Reporter's render mode accordingly.
func NewReporter(out *os.File) *Reporter {
	return &Reporter{
		Out:   out,
		isTTY: isatty.IsTerminal(out.Fd()) || isatty.IsCygwinTerminal(out.Fd()),
	}
}

// Render writes line, redrawing the previous one in place on a TTY.
func (r *Reporter) Render(line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isTTY {
		fmt.Fprintf(r.Out, "\r\x1b[K%s", line)
		r.lastLine = line
		return
	}
	fmt.Fprintln(r.Out, line)
}

// Done finalizes a TTY-rendered line with a trailing newline; a no-op for
// non-TTY output, which already ends every line.
func (r *Reporter) Done() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isTTY && r.lastLine != "" {
		fmt.Fprintln(r.Out)
	}
}

// FormatStats renders a dispatcher Stats snapshot as a single progress
// line: done/total counts, the error counter, and an elapsed-time-based
// rate and ETA.
func FormatStats(s session.Stats, elapsed time.Duration) string {
	done := s.Complete
	remaining := s.ToDo
	total := done + remaining

	rate := 0.0
	if elapsed > 0 {
		rate = float64(done) / elapsed.Seconds()
	}
	eta := "?"
	if rate > 0 && remaining > 0 {
		eta = time.Duration(float64(remaining) / rate * float64(time.Second)).Round(time.Second).String()
	}

	return fmt.Sprintf(
		"%d/%d done, %d errors  |  %.1f/s  eta %s  |  engine: %d pending, %d errors, %d requests",
		done, total, s.Errored, rate, eta, s.EnginePending, s.EngineErrors, s.EngineRequests,
	)
}
