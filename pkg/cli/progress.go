package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter tracks a long-running sweep, such as a health check
// across the whole proxy pool.
type ProgressReporter interface {
	Start(total int64)
	Update(done int64)
	Finish()
	Error(err error)
}

// barProgress redraws a single terminal line in place.
type barProgress struct {
	mu      sync.Mutex
	total   int64
	done    int64
	started time.Time
	w       io.Writer
}

// NewProgressReporter returns a reporter writing to w, or os.Stdout when
// w is nil.
func NewProgressReporter(w io.Writer) ProgressReporter {
	if w == nil {
		w = os.Stdout
	}
	return &barProgress{w: w}
}

func (p *barProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.total = total
	p.done = 0
	p.started = time.Now()
	p.draw()
}

// Update never moves the bar backwards; stale counts from concurrent
// callers are dropped.
func (p *barProgress) Update(done int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if done > p.done {
		p.done = done
	}
	p.draw()
}

func (p *barProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = p.total
	p.draw()
	fmt.Fprintln(p.w)
}

// Error breaks out of the bar line so the message stays readable.
func (p *barProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.w, "\nerror: %v\n", err)
}

const barWidth = 30

func (p *barProgress) draw() {
	if p.total <= 0 {
		return
	}
	filled := int(barWidth * p.done / p.total)
	bar := strings.Repeat("=", filled) + strings.Repeat(" ", barWidth-filled)
	elapsed := time.Since(p.started).Seconds()
	rate := 0.0
	if elapsed > 0 {
		rate = float64(p.done) / elapsed
	}
	fmt.Fprintf(p.w, "\r[%s] %d/%d (%.1f/s)", bar, p.done, p.total, rate)
}
