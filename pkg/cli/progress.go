package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressReporter reports progress for bulk operations.
type ProgressReporter interface {
	Start(total int64)
	// Add records one finished item; failed items are counted separately.
	Add(failed bool)
	Finish()
	Error(err error)
}

// SimpleProgress implements a simple text-based progress reporter.
type SimpleProgress struct {
	mu      sync.Mutex
	label   string
	total   int64
	current int64
	failed  int64
	started time.Time
	writer  io.Writer
}

// NewProgressReporter creates a new progress reporter that writes to w.
// If w is nil, it defaults to os.Stderr.
func NewProgressReporter(w io.Writer, label string) ProgressReporter {
	if w == nil {
		w = os.Stderr
	}
	if label == "" {
		label = "Progress"
	}
	return &SimpleProgress{
		writer: w,
		label:  label,
	}
}

// Start initializes the progress reporter with the total number of items.
func (p *SimpleProgress) Start(total int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.total = total
	p.current = 0
	p.failed = 0
	p.started = time.Now()

	p.render()
}

// Add records one finished item.
func (p *SimpleProgress) Add(failed bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current++
	if failed {
		p.failed++
	}
	p.render()
}

// Finish marks the progress as complete.
func (p *SimpleProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.render()
	fmt.Fprintln(p.writer)
}

// Error reports an error during progress.
func (p *SimpleProgress) Error(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.writer, "\n✗ Error: %v\n", err)
}

// Counts returns the finished and failed item counts.
func (p *SimpleProgress) Counts() (done, failed int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current, p.failed
}

func (p *SimpleProgress) render() {
	if p.total == 0 {
		return
	}

	percent := float64(p.current) / float64(p.total) * 100
	barWidth := 40
	filled := min(int(float64(barWidth)*percent/100), barWidth)

	bar := strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled)

	rate := 0.0
	if elapsed := time.Since(p.started).Seconds(); elapsed > 0 {
		rate = float64(p.current) / elapsed
	}

	fmt.Fprintf(p.writer, "\r%s: [%s] %.1f%% (%d/%d) %d failed %.1f/s",
		p.label, bar, percent, p.current, p.total, p.failed, rate)
}
