package progressbar

import (
	"strings"
	"testing"
	"time"
)

// TestRender checks the rendered bar at the halfway mark: half the
// width filled, half blank, followed by the percentage and elapsed
// time
func TestRender(t *testing.T) {
	var builder strings.Builder
	render(&builder, 2, 4, 10, 3*time.Second)

	bar := builder.String()
	expected := "|█████     | [50.00% | elapsed: 3s]"
	if bar != expected {
		t.Errorf("wrong rendered bar \n\twant(%v)\n\thave(%v)",
			expected, bar)
	}
}

// TestManualProgressBarIncrementClamps checks that the progress
// counter never exceeds its configured maximum
func TestManualProgressBarIncrementClamps(t *testing.T) {
	bar := NewManualProgressBar(10, 2)
	for i := 0; i < 5; i++ {
		bar.Increment()
	}

	if bar.currentProgress != 2 {
		t.Errorf("progress exceeded its maximum \n\twant(%v)\n\thave(%v)",
			2.0, bar.currentProgress)
	}
}
