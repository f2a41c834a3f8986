package cli

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/agevault/agevault/internal/progress"
)

// Reporter renders progress updates on a single terminal line that gets
// overwritten. If quiet is true, only errors are printed.
type Reporter struct {
	mu       sync.Mutex
	quiet    bool
	lastLine int // Length of last printed line (for clearing)
}

// NewReporter creates a new CLI progress reporter.
func NewReporter(quiet bool) *Reporter {
	return &Reporter{quiet: quiet}
}

// Callback returns the progress callback feeding this reporter.
func (r *Reporter) Callback() progress.Callback {
	return func(u progress.Update) {
		r.render(u)
	}
}

func (r *Reporter) render(u progress.Update) {
	if r.quiet {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	barWidth := 30
	filled := int(u.Fraction * float64(barWidth))
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	line := fmt.Sprintf("\r[%s] %5.1f%% %s", bar, u.Fraction*100, u.Message)
	if pad := r.lastLine - len(line); pad > 0 {
		line += strings.Repeat(" ", pad)
	}
	r.lastLine = len(line)
	fmt.Fprint(os.Stderr, line)
}

// Done ends the progress line.
func (r *Reporter) Done() {
	if r.quiet {
		return
	}
	fmt.Fprintln(os.Stderr)
}
