// Package warn prints the one-line, always-visible degradation warnings
// spec.md §4.1/§7 requires whenever the system silently downgrades to a
// fallback path (in-process matrix multiplication, path-quantized search
// instead of HNSW, temporal index absent, ...). No downgrade is silent: it
// either shows up in the response/warning field or here, on stderr.
package warn

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Printer writes degradation warnings to an output stream, colorizing only
// when that stream is a real TTY and NO_COLOR is unset.
type Printer struct {
	mu     sync.Mutex
	out    io.Writer
	color  bool
	once   map[string]bool
	silent bool
}

// New creates a Printer writing to w.
func New(w io.Writer) *Printer {
	return &Printer{
		out:   w,
		color: shouldColor(w),
		once:  make(map[string]bool),
	}
}

// Default returns a Printer writing to stderr, the convention the teacher's
// ui package uses for anything that isn't the primary result stream.
func Default() *Printer {
	return New(os.Stderr)
}

// Silence disables output entirely; used by tests and by callers that
// capture warnings structurally instead (e.g. a response's Warning field).
func (p *Printer) Silence() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.silent = true
}

// Warn prints a one-line warning, prefixed with a warning glyph.
func (p *Printer) Warn(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.silent {
		return
	}

	msg := fmt.Sprintf(format, args...)
	line := "⚠️  " + msg
	if p.color {
		line = color.YellowString("⚠️  ") + msg
	}
	fmt.Fprintln(p.out, line)
}

// WarnOnce prints the warning only the first time it's seen for the given
// key, so a long-running process doesn't flood stderr with the same
// fallback notice on every query.
func (p *Printer) WarnOnce(key, format string, args ...any) {
	p.mu.Lock()
	if p.once[key] {
		p.mu.Unlock()
		return
	}
	p.once[key] = true
	p.mu.Unlock()
	p.Warn(format, args...)
}

func shouldColor(w io.Writer) bool {
	if _, exists := os.LookupEnv("NO_COLOR"); exists {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
