package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/alexdev-tb/prescription-pdf/internal/prescription"
	"github.com/alexdev-tb/prescription-pdf/internal/slots"
	"github.com/alexdev-tb/prescription-pdf/pkg/apperror"
)

const defaultTimeout = 30 * time.Second

// Job is one request to produce a document from a validated record.
type Job struct {
	ID      string
	Record  prescription.Record
	Timeout time.Duration
	// Admitted, if set, is called once a compilation slot is granted and
	// before the compiler starts.
	Admitted func()
}

// NewJob assigns a fresh identifier to rec.
func NewJob(rec prescription.Record) Job {
	return Job{ID: uuid.New().String(), Record: rec}
}

type Result struct {
	JobID     string
	PDF       []byte
	Size      int
	QueueWait time.Duration
	Duration  time.Duration
}

// Compiler turns a prepared scratch directory into the artifact bytes.
type Compiler interface {
	Compile(ctx context.Context, dir string) ([]byte, error)
}

// Preparer writes per-job inputs into a scratch directory.
type Preparer interface {
	Prepare(dir string, rec prescription.Record) error
}

type Config struct {
	ScratchRoot string
	Timeout     time.Duration
}

type Service struct {
	pool        *slots.Pool
	compiler    Compiler
	preparer    Preparer
	janitor     *Janitor
	store       OutcomeStore
	scratchRoot string
	timeout     time.Duration
	durations   *durationTracker
	log         zerolog.Logger
}

var ErrEmptyOutput = errors.New("compiler produced no output")

// NewService wires the job lifecycle. store may be nil, in which case outcomes
// are not recorded.
func NewService(cfg Config, pool *slots.Pool, compiler Compiler, preparer Preparer, janitor *Janitor, store OutcomeStore, log zerolog.Logger) (*Service, error) {
	root := strings.TrimSpace(cfg.ScratchRoot)
	if root == "" {
		root = defaultScratchRoot()
	}
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, fmt.Errorf("prepare scratch root: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if janitor == nil {
		janitor = NewJanitor(log)
	}

	return &Service{
		pool:        pool,
		compiler:    compiler,
		preparer:    preparer,
		janitor:     janitor,
		store:       store,
		scratchRoot: root,
		timeout:     timeout,
		durations:   newDurationTracker(),
		log:         log.With().Str("component", "executor").Logger(),
	}, nil
}

func (s *Service) Stats() slots.Stats {
	return s.pool.Stats()
}

// Timeout is the compile deadline applied to jobs that do not set their own.
func (s *Service) Timeout() time.Duration {
	return s.timeout
}

// AverageCompile is a moving average of successful compiler invocations.
func (s *Service) AverageCompile() time.Duration {
	return s.durations.estimate()
}

func (s *Service) ScratchRoot() string {
	return s.scratchRoot
}

// Run executes job end to end. The returned error is always an
// *apperror.AppError. Whatever the outcome, the permit is released after
// the compiler has exited and the scratch directory is removed before Run
// returns.
func (s *Service) Run(ctx context.Context, job Job) (res Result, err error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}

	log := s.log.With().Str("job_id", job.ID).Logger()
	outcome := Outcome{ID: job.ID, CreatedAt: time.Now().UTC()}
	res.JobID = job.ID

	defer func() {
		outcome.CompletedAt = time.Now().UTC()
		outcome.Bytes = res.Size
		outcome.QueueWaitMs = res.QueueWait.Milliseconds()
		outcome.DurationMs = res.Duration.Milliseconds()
		outcome.Status = StatusSucceeded
		if err != nil {
			outcome.Status = StatusFailed
			if appErr, ok := apperror.As(err); ok {
				outcome.Code = appErr.Code
				if appErr.Code == apperror.CodeTimeout {
					outcome.Status = StatusTimedOut
				}
			}
		}
		s.record(log, outcome)
	}()

	dir, mkErr := os.MkdirTemp(s.scratchRoot, "job-"+job.ID+"-")
	if mkErr != nil {
		log.Error().Err(mkErr).Msg("create scratch directory")
		return res, apperror.Compilation(job.ID, fmt.Errorf("create scratch directory: %w", mkErr))
	}
	defer s.janitor.Remove(dir)

	if prepErr := s.preparer.Prepare(dir, job.Record); prepErr != nil {
		log.Error().Err(prepErr).Msg("prepare compiler inputs")
		return res, apperror.Compilation(job.ID, fmt.Errorf("prepare inputs: %w", prepErr))
	}

	waitStarted := time.Now()
	permit := s.pool.Acquire()
	defer permit.Release()
	res.QueueWait = time.Since(waitStarted)

	log.Debug().Dur("queue_wait", res.QueueWait).Msg("compilation slot granted")
	if job.Admitted != nil {
		job.Admitted()
	}

	// The job is only cancelled by its own deadline, not by the caller going away.
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	started := time.Now()
	pdf, runErr := s.compiler.Compile(runCtx, dir)
	res.Duration = time.Since(started)

	if runErr != nil {
		if errors.Is(runErr, ErrCompileTimeout) {
			log.Warn().Dur("timeout", timeout).Msg("compilation timed out")
			return res, apperror.Timeout(job.ID, runErr)
		}
		event := log.Error().Err(runErr)
		var compileErr *CompileError
		if errors.As(runErr, &compileErr) {
			event = event.Int("exit_code", compileErr.ExitCode).Str("stderr", compileErr.Stderr)
		}
		event.Msg("compilation failed")
		return res, apperror.Compilation(job.ID, runErr)
	}
	if len(pdf) == 0 {
		log.Error().Msg("compiler produced no output")
		return res, apperror.Compilation(job.ID, ErrEmptyOutput)
	}

	s.durations.observe(res.Duration)
	res.PDF = pdf
	res.Size = len(pdf)

	log.Info().
		Int("bytes", res.Size).
		Dur("duration", res.Duration).
		Dur("queue_wait", res.QueueWait).
		Msg("document compiled")
	return res, nil
}

func (s *Service) record(log zerolog.Logger, outcome Outcome) {
	if s.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.Save(ctx, outcome); err != nil {
		log.Warn().Err(err).Msg("record job outcome")
	}
}

func defaultScratchRoot() string {
	return os.TempDir() + string(os.PathSeparator) + "rx-jobs"
}
