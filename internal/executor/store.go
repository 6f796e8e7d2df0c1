package executor

import (
	"context"
	"errors"
	"time"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusTimedOut  Status = "timed_out"
)

// Outcome is the record kept for a finished job. It never contains form
// data or the generated document.
type Outcome struct {
	ID          string    `json:"id"`
	Status      Status    `json:"status"`
	Code        string    `json:"code,omitempty"`
	Bytes       int       `json:"bytes"`
	QueueWaitMs int64     `json:"queueWaitMs"`
	DurationMs  int64     `json:"durationMs"`
	CreatedAt   time.Time `json:"createdAt"`
	CompletedAt time.Time `json:"completedAt"`
}

// OutcomeStore persists job outcomes for later lookup.
type OutcomeStore interface {
	Save(ctx context.Context, outcome Outcome) error
	Get(ctx context.Context, id string) (Outcome, error)
	Counts(ctx context.Context) (map[Status]int64, error)
}

var ErrJobNotFound = errors.New("job not found")
