package executor

import (
	"sync"
	"time"
)

const compileSmoothing = 0.25

// durationTracker keeps an exponentially weighted average of compile times.
type durationTracker struct {
	mu      sync.Mutex
	alpha   float64
	average time.Duration
	samples int64
}

func newDurationTracker() *durationTracker {
	return &durationTracker{alpha: compileSmoothing}
}

func (t *durationTracker) observe(value time.Duration) {
	if value <= 0 {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.samples == 0 {
		t.average = value
	} else {
		t.average = time.Duration((1-t.alpha)*float64(t.average) + t.alpha*float64(value))
	}
	t.samples++
}

func (t *durationTracker) estimate() time.Duration {
	avg, _ := t.snapshot()
	return avg
}

func (t *durationTracker) snapshot() (time.Duration, int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.average, t.samples
}
