package executor

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

const (
	probeInterval = 60 * time.Second
	probeTimeout  = 5 * time.Second
)

// ProbeResult describes the last compiler availability check.
type ProbeResult struct {
	Available bool      `json:"available"`
	Binary    string    `json:"binary"`
	Version   string    `json:"version,omitempty"`
	Error     string    `json:"error,omitempty"`
	CheckedAt time.Time `json:"checkedAt"`
}

type probeState struct {
	mu   sync.RWMutex
	last ProbeResult
	gate atomic.Bool
}

// Probe runs the compiler with --version and caches the outcome.
func (r *CompilerRunner) Probe(ctx context.Context) ProbeResult {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	result := ProbeResult{Binary: r.binary, CheckedAt: time.Now().UTC()}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, "--version")
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		result.Error = err.Error()
	} else {
		result.Available = true
		result.Version = firstLine(out.String())
	}

	r.probe.mu.Lock()
	r.probe.last = result
	r.probe.mu.Unlock()
	return result
}

// LastProbe returns the cached result without running the compiler.
func (r *CompilerRunner) LastProbe() ProbeResult {
	r.probe.mu.RLock()
	defer r.probe.mu.RUnlock()
	if r.probe.last.CheckedAt.IsZero() {
		return ProbeResult{Binary: r.binary}
	}
	return r.probe.last
}

// StartProbeLoop re-checks the compiler periodically until ctx is done.
func (r *CompilerRunner) StartProbeLoop(ctx context.Context, log zerolog.Logger) {
	go func() {
		r.triggerProbe(ctx, log)
		ticker := time.NewTicker(probeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.triggerProbe(ctx, log)
			}
		}
	}()
}

func (r *CompilerRunner) triggerProbe(ctx context.Context, log zerolog.Logger) {
	if !r.probe.gate.CompareAndSwap(false, true) {
		return
	}
	defer r.probe.gate.Store(false)

	previous := r.LastProbe()
	result := r.Probe(ctx)
	switch {
	case !result.Available:
		log.Warn().Str("binary", result.Binary).Str("error", result.Error).Msg("compiler unavailable")
	case !previous.Available:
		log.Info().Str("binary", result.Binary).Str("version", result.Version).Msg("compiler available")
	}
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return strings.TrimSpace(s[:i])
	}
	return s
}
