// Package progressbar implements functionality of printing a progress
// bar to the terminal window
package progressbar

import (
	"fmt"
	"strings"
	"time"
)

// render writes a bar of the given character width to builder,
// followed by the percentage complete and the elapsed time
func render(builder *strings.Builder, progress, maxProgress,
	width float64, elapsed time.Duration) {
	builder.Reset()
	builder.WriteString("|")

	filled := progress / maxProgress * width
	for i := 0.0; i < filled; i++ {
		builder.WriteString("█")
	}
	for i := filled; i < width; i++ {
		builder.WriteString(" ")
	}
	fmt.Fprintf(builder, "| [%.2f%% | elapsed: %v]",
		progress/maxProgress*100, elapsed)
}

// display prints a rendered bar to the screen, overwriting the
// previously displayed bar
func display(bar string) {
	fmt.Printf("\n\033[1A\033[K%v", bar)
}

// ProgressBar is a progress bar which redraws itself from a
// background goroutine, either on a fixed schedule or additionally
// whenever Increment() is called. It suits iterations too slow or
// too uneven for the caller to drive the display; use
// ManualProgressBar when the caller can redraw after every iteration.
type ProgressBar struct {
	width           float64
	maxProgress     float64
	currentProgress float64

	increments chan float64
	done       chan struct{}
	closed     bool

	redrawEvery       time.Duration
	redrawOnIncrement bool
	startTime         time.Time
}

// NewProgressBar returns a new progress bar that is width characters
// wide and reaches 100% capacity after max Increment() calls. The bar
// redraws itself every redrawEvery, and additionally on every
// Increment() call when redrawOnIncrement is set.
func NewProgressBar(width, max int, redrawEvery time.Duration,
	redrawOnIncrement bool) *ProgressBar {
	return &ProgressBar{
		width:             float64(width),
		maxProgress:       float64(max),
		currentProgress:   0,
		increments:        make(chan float64),
		done:              make(chan struct{}),
		redrawEvery:       redrawEvery,
		redrawOnIncrement: redrawOnIncrement,
		startTime:         time.Now(),
	}
}

// Increment increments the internal progress counter without blocking
// the caller. Each time an iteration is performed, Increment should
// be called.
func (p *ProgressBar) Increment() {
	go func() {
		if p.currentProgress < p.maxProgress && !p.closed {
			p.increments <- p.currentProgress
			p.currentProgress++
		}
	}()
}

// Close stops the background display goroutine and cleans up any
// resources the progress bar is using
func (p *ProgressBar) Close() {
	if p.closed {
		panic("close: close on closed progress bar")
	}
	p.closed = true
	close(p.done)
	fmt.Println() // Jump to next line after printed bar
}

// Display starts the background goroutine which draws the progress
// bar to the screen until Close() is called. It should only be called
// once.
func (p *ProgressBar) Display() {
	go func() {
		progress := p.currentProgress
		tick := time.NewTicker(p.redrawEvery)
		defer tick.Stop()

		var bar strings.Builder
		for {
			select {
			case progress = <-p.increments:
				if !p.redrawOnIncrement {
					continue
				}

			case <-tick.C:

			case <-p.done:
				return
			}

			render(&bar, progress, p.maxProgress, p.width,
				time.Since(p.startTime).Truncate(time.Second))
			display(bar.String())
		}
	}()
}
