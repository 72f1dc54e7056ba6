// Package progress renders a terminal progress bar for long transfers.
package progress

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/schollz/progressbar/v3"
)

// Tracker accumulates transferred row counts and drives the bar. Safe for
// concurrent Add calls.
type Tracker struct {
	bar       *progressbar.ProgressBar
	total     int64
	current   atomic.Int64
	startTime time.Time
}

// New creates a tracker with no bar yet; call SetTotal once the row
// estimate is known.
func New() *Tracker {
	return &Tracker{startTime: time.Now()}
}

// SetTotal sets the expected row count and renders the bar. A total of -1
// shows a spinner with a running count instead of a percentage.
func (t *Tracker) SetTotal(total int64) {
	t.total = total
	t.bar = progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription("Copying"),
		progressbar.OptionShowBytes(false),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionShowIts(),
		progressbar.OptionSetItsString("rows"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}

// Add advances the bar by n rows.
func (t *Tracker) Add(n int64) {
	t.current.Add(n)
	if t.bar != nil {
		t.bar.Add64(n)
	}
}

// Current returns the rows counted so far.
func (t *Tracker) Current() int64 {
	return t.current.Load()
}

// Finish closes the bar and prints a throughput summary.
func (t *Tracker) Finish() {
	if t.bar != nil {
		t.bar.Finish()
	}

	elapsed := time.Since(t.startTime)
	if elapsed <= 0 {
		elapsed = time.Second
	}
	rowsPerSec := float64(t.current.Load()) / elapsed.Seconds()

	fmt.Println()
	fmt.Printf("Copied %d rows in %s (%.0f rows/sec)\n",
		t.current.Load(), elapsed.Round(time.Second), rowsPerSec)
}
