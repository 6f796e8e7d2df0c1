package executor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	cleanupQueueSize   = 128
	cleanupMaxAttempts = 5
)

type cleanupRequest struct {
	path    string
	attempt int
}

// Janitor removes scratch directories. Removal is attempted inline; a
// failure is logged as a cleanup warning and retried in the background.
type Janitor struct {
	queue     chan cleanupRequest
	removeAll func(string) error
	retryBase time.Duration
	started   atomic.Bool
	log       zerolog.Logger
}

func NewJanitor(log zerolog.Logger) *Janitor {
	return &Janitor{
		queue:     make(chan cleanupRequest, cleanupQueueSize),
		removeAll: os.RemoveAll,
		retryBase: time.Second,
		log:       log.With().Str("component", "janitor").Logger(),
	}
}

// Start drains retries until ctx is done.
func (j *Janitor) Start(ctx context.Context) {
	j.started.Store(true)
	go func() {
		defer j.started.Store(false)
		for {
			select {
			case <-ctx.Done():
				return
			case req := <-j.queue:
				j.process(req)
			}
		}
	}()
}

// Remove deletes path and reports whether it is gone.
func (j *Janitor) Remove(path string) bool {
	cleanPath := filepath.Clean(path)
	if cleanPath == "." || cleanPath == "" || cleanPath == string(filepath.Separator) {
		return false
	}

	err := j.removeAll(cleanPath)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return true
	}

	j.log.Warn().Err(err).Str("path", cleanPath).Msg("cleanup warning: scratch directory not removed, retrying")
	j.schedule(cleanupRequest{path: cleanPath, attempt: 1})
	return false
}

// PurgeOrphans removes job directories left under root by a previous process.
func (j *Janitor) PurgeOrphans(root string) int {
	entries, err := os.ReadDir(root)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			j.log.Warn().Err(err).Str("root", root).Msg("scan scratch root")
		}
		return 0
	}

	purged := 0
	for _, entry := range entries {
		if !entry.IsDir() || !strings.HasPrefix(entry.Name(), "job-") {
			continue
		}
		if j.Remove(filepath.Join(root, entry.Name())) {
			purged++
		}
	}
	if purged > 0 {
		j.log.Info().Int("count", purged).Str("root", root).Msg("purged orphaned scratch directories")
	}
	return purged
}

func (j *Janitor) process(req cleanupRequest) {
	err := j.removeAll(req.path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		j.log.Debug().Str("path", req.path).Int("attempt", req.attempt).Msg("removed scratch directory")
		return
	}

	if req.attempt >= cleanupMaxAttempts {
		j.log.Error().Err(err).Str("path", req.path).Int("attempts", req.attempt).Msg("giving up on scratch directory")
		return
	}

	req.attempt++
	j.schedule(req)
}

func (j *Janitor) schedule(req cleanupRequest) {
	delay := time.Duration(req.attempt) * j.retryBase
	time.AfterFunc(delay, func() {
		if !j.started.Load() {
			j.process(req)
			return
		}
		select {
		case j.queue <- req:
		default:
			j.process(req)
		}
	})
}
