package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDurationTracker(t *testing.T) {
	tr := newDurationTracker()
	assert.Equal(t, time.Duration(0), tr.estimate())

	tr.observe(0)
	_, n := tr.snapshot()
	assert.Equal(t, int64(0), n)

	tr.observe(100 * time.Millisecond)
	assert.Equal(t, 100*time.Millisecond, tr.estimate())

	tr.observe(200 * time.Millisecond)
	assert.Equal(t, 125*time.Millisecond, tr.estimate())
}
