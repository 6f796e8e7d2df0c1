package executor

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alexdev-tb/prescription-pdf/internal/prescription"
	"github.com/alexdev-tb/prescription-pdf/internal/slots"
	"github.com/alexdev-tb/prescription-pdf/pkg/apperror"
)

type preparerFunc func(dir string, rec prescription.Record) error

func (f preparerFunc) Prepare(dir string, rec prescription.Record) error {
	return f(dir, rec)
}

func writeInputs(dir string, rec prescription.Record) error {
	return os.WriteFile(filepath.Join(dir, "main.typ"), []byte(rec.PatientName), 0o644)
}

type harness struct {
	svc   *Service
	pool  *slots.Pool
	store *MemoryOutcomeStore
	root  string
}

func newHarness(t *testing.T, script string, capacity int, timeout time.Duration) *harness {
	t.Helper()
	root := filepath.Join(t.TempDir(), "scratch")
	pool := slots.New(capacity)
	store := NewMemoryOutcomeStore(0)
	svc, err := NewService(
		Config{ScratchRoot: root, Timeout: timeout},
		pool,
		scriptRunner(t, script),
		preparerFunc(writeInputs),
		NewJanitor(zerolog.Nop()),
		store,
		zerolog.Nop(),
	)
	require.NoError(t, err)
	return &harness{svc: svc, pool: pool, store: store, root: root}
}

func (h *harness) requireScratchEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(h.root)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch directories left behind")
}

func sampleJob() Job {
	return NewJob(prescription.Record{PatientName: "Ana"})
}

func TestRunSuccess(t *testing.T) {
	h := newHarness(t, `printf '%s' "%PDF-1.7 $(cat main.typ)"`, 2, 5*time.Second)
	job := sampleJob()

	res, err := h.svc.Run(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, job.ID, res.JobID)
	assert.Equal(t, "%PDF-1.7 Ana", string(res.PDF))
	assert.Equal(t, len(res.PDF), res.Size)

	assert.Equal(t, slots.Stats{Active: 0, Max: 2, Queued: 0}, h.svc.Stats())
	h.requireScratchEmpty(t)

	outcome, err := h.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, outcome.Status)
	assert.Equal(t, res.Size, outcome.Bytes)
	assert.Greater(t, h.svc.AverageCompile(), time.Duration(0))
}

func TestRunAssignsMissingID(t *testing.T) {
	h := newHarness(t, `echo pdf`, 1, 5*time.Second)
	res, err := h.svc.Run(context.Background(), Job{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.JobID)
}

func TestRunCompilerFailure(t *testing.T) {
	h := newHarness(t, `echo "error: boom" >&2; exit 1`, 1, 5*time.Second)
	job := sampleJob()

	_, err := h.svc.Run(context.Background(), job)
	appErr, ok := apperror.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperror.CodeCompilation, appErr.Code)
	assert.Equal(t, http.StatusInternalServerError, appErr.Status)
	assert.Equal(t, job.ID, appErr.JobID)

	assert.Equal(t, 0, h.svc.Stats().Active)
	h.requireScratchEmpty(t)

	outcome, err := h.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, outcome.Status)
	assert.Equal(t, apperror.CodeCompilation, outcome.Code)
}

func TestRunEmptyOutputIsFailure(t *testing.T) {
	h := newHarness(t, `exit 0`, 1, 5*time.Second)

	_, err := h.svc.Run(context.Background(), sampleJob())
	require.Error(t, err)
	assert.True(t, apperror.IsCode(err, apperror.CodeCompilation))
	assert.True(t, errors.Is(err, ErrEmptyOutput))
	h.requireScratchEmpty(t)
}

func TestRunTimeoutReleasesSlotAndScratch(t *testing.T) {
	h := newHarness(t, `exec sleep 10`, 1, 200*time.Millisecond)
	job := sampleJob()

	started := time.Now()
	_, err := h.svc.Run(context.Background(), job)
	elapsed := time.Since(started)

	appErr, ok := apperror.As(err)
	require.True(t, ok, "got %v", err)
	assert.Equal(t, apperror.CodeTimeout, appErr.Code)
	assert.Equal(t, http.StatusGatewayTimeout, appErr.Status)
	assert.Less(t, elapsed, 3*time.Second)

	assert.Equal(t, 0, h.svc.Stats().Active)
	h.requireScratchEmpty(t)

	outcome, err := h.store.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusTimedOut, outcome.Status)
}

func TestRunJobTimeoutOverridesDefault(t *testing.T) {
	h := newHarness(t, `exec sleep 10`, 1, time.Minute)
	job := sampleJob()
	job.Timeout = 100 * time.Millisecond

	_, err := h.svc.Run(context.Background(), job)
	assert.True(t, apperror.IsCode(err, apperror.CodeTimeout))
}

func TestRunCallsAdmittedWhileHoldingSlot(t *testing.T) {
	h := newHarness(t, `echo pdf`, 1, 5*time.Second)
	blocker := h.pool.Acquire()

	var admittedActive []int
	job := sampleJob()
	job.Timeout = 2 * time.Second
	job.Admitted = func() {
		admittedActive = append(admittedActive, h.pool.Stats().Active)
	}

	done := make(chan error, 1)
	go func() {
		_, err := h.svc.Run(context.Background(), job)
		done <- err
	}()

	require.Eventually(t, func() bool { return h.pool.Stats().Queued == 1 }, time.Second, 5*time.Millisecond)
	blocker.Release()
	require.NoError(t, <-done)
	assert.Equal(t, []int{1}, admittedActive)
	assert.Equal(t, 0, h.svc.Stats().Active)
}

func TestRunPreparationFailureSkipsSlot(t *testing.T) {
	h := newHarness(t, `echo pdf`, 1, time.Second)
	h.svc.preparer = preparerFunc(func(string, prescription.Record) error {
		// The slot must not be held while inputs are written.
		if h.pool.Stats().Active != 0 {
			return errors.New("slot held during preparation")
		}
		return errors.New("disk full")
	})

	job := sampleJob()
	job.Admitted = func() { t.Error("admitted after preparation failed") }
	_, err := h.svc.Run(context.Background(), job)
	appErr, ok := apperror.As(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeCompilation, appErr.Code)
	assert.Contains(t, appErr.Error(), "disk full")
	assert.Equal(t, 0, h.svc.Stats().Active)
	h.requireScratchEmpty(t)
}

func TestRunIgnoresCallerCancellation(t *testing.T) {
	h := newHarness(t, `sleep 0.2; echo pdf`, 1, 5*time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.svc.Run(ctx, sampleJob())
	require.NoError(t, err)
	assert.Equal(t, "pdf\n", string(res.PDF))
}

func TestRunCleanupWarningKeepsOutcome(t *testing.T) {
	h := newHarness(t, `echo pdf`, 1, 5*time.Second)
	var mu sync.Mutex
	attempts := 0
	h.svc.janitor.removeAll = func(path string) error {
		mu.Lock()
		defer mu.Unlock()
		attempts++
		if attempts == 1 {
			return errors.New("device busy")
		}
		return os.RemoveAll(path)
	}
	h.svc.janitor.retryBase = 10 * time.Millisecond

	res, err := h.svc.Run(context.Background(), sampleJob())
	require.NoError(t, err)
	assert.Equal(t, "pdf\n", string(res.PDF))

	require.Eventually(t, func() bool {
		entries, err := os.ReadDir(h.root)
		return err == nil && len(entries) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunBoundsConcurrency(t *testing.T) {
	const capacity, jobs = 2, 5
	h := newHarness(t, `sleep 0.3; echo "$1"`, capacity, 10*time.Second)

	stop := make(chan struct{})
	peak := make(chan slots.Stats, 1)
	go func() {
		var maxSeen slots.Stats
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				peak <- maxSeen
				return
			case <-ticker.C:
				st := h.svc.Stats()
				if st.Active > maxSeen.Active {
					maxSeen.Active = st.Active
				}
				if st.Queued > maxSeen.Queued {
					maxSeen.Queued = st.Queued
				}
			}
		}
	}()

	var wg sync.WaitGroup
	outputs := make([]string, jobs)
	errs := make([]error, jobs)
	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := h.svc.Run(context.Background(), sampleJob())
			outputs[i] = string(res.PDF)
			errs[i] = err
		}(i)
	}
	wg.Wait()
	close(stop)
	seen := <-peak

	seenDirs := make(map[string]struct{})
	for i := range outputs {
		require.NoError(t, errs[i])
		seenDirs[outputs[i]] = struct{}{}
	}
	assert.Len(t, seenDirs, jobs, "jobs shared a scratch directory")
	assert.LessOrEqual(t, seen.Active, capacity)
	assert.Equal(t, capacity, seen.Active)
	assert.Greater(t, seen.Queued, 0)

	assert.Equal(t, slots.Stats{Active: 0, Max: capacity, Queued: 0}, h.svc.Stats())
	h.requireScratchEmpty(t)
}
