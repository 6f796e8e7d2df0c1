package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// WorkdirToken is replaced by the scratch directory path in compiler args.
const WorkdirToken = "{workdir}"

const (
	defaultCompilerBinary = "typst"
	defaultWaitDelay      = 2 * time.Second
	defaultMaxOutput      = 32 << 20
	stderrTailBytes       = 8 << 10
)

// DefaultCompilerArgs writes the PDF to stdout.
var DefaultCompilerArgs = []string{"compile", "--root", WorkdirToken, "--format", "pdf", WorkdirToken + "/main.typ", "-"}

var ErrCompileTimeout = errors.New("compilation deadline exceeded")

// CompileError reports a compiler process that ran but did not succeed.
type CompileError struct {
	ExitCode int
	Stderr   string
	Reason   string
}

func (e *CompileError) Error() string {
	if e.Reason != "" {
		return "compiler " + e.Reason
	}
	return fmt.Sprintf("compiler exited with status %d", e.ExitCode)
}

type RunnerConfig struct {
	Binary    string
	Args      []string
	WaitDelay time.Duration
	MaxOutput int
}

type CompilerRunner struct {
	binary    string
	args      []string
	waitDelay time.Duration
	maxOutput int
	probe     *probeState
}

func NewCompilerRunner(cfg RunnerConfig) *CompilerRunner {
	binary := strings.TrimSpace(cfg.Binary)
	if binary == "" {
		binary = defaultCompilerBinary
	}

	args := cfg.Args
	if len(args) == 0 {
		args = DefaultCompilerArgs
	}

	waitDelay := cfg.WaitDelay
	if waitDelay <= 0 {
		waitDelay = defaultWaitDelay
	}

	maxOutput := cfg.MaxOutput
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutput
	}

	return &CompilerRunner{
		binary:    binary,
		args:      append([]string(nil), args...),
		waitDelay: waitDelay,
		maxOutput: maxOutput,
		probe:     &probeState{},
	}
}

func (r *CompilerRunner) Binary() string {
	return r.binary
}

// Args returns the argument list with dir substituted for WorkdirToken.
func (r *CompilerRunner) Args(dir string) []string {
	out := make([]string, len(r.args))
	for i, arg := range r.args {
		out[i] = strings.ReplaceAll(arg, WorkdirToken, dir)
	}
	return out
}

// Compile runs the compiler inside dir and returns its stdout. When ctx
// expires the whole process group is killed and Compile returns only after
// the process has been reaped.
func (r *CompilerRunner) Compile(ctx context.Context, dir string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, r.Args(dir)...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "TMPDIR="+dir)
	cmd.WaitDelay = r.waitDelay
	configureProcess(cmd)

	stdout := &cappedBuffer{limit: r.maxOutput}
	stderr := &tailBuffer{limit: stderrTailBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: %v", ErrCompileTimeout, err)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, &CompileError{ExitCode: exitErr.ExitCode(), Stderr: stderr.String()}
		}
		return nil, fmt.Errorf("run compiler: %w", err)
	}
	if stdout.overflow {
		return nil, &CompileError{Reason: fmt.Sprintf("output exceeded %d bytes", r.maxOutput), Stderr: stderr.String()}
	}
	return stdout.Bytes(), nil
}

// cappedBuffer keeps draining the pipe after the limit so the child never
// blocks on a full pipe.
type cappedBuffer struct {
	bytes.Buffer
	limit    int
	overflow bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.overflow {
		return len(p), nil
	}
	if b.Buffer.Len()+len(p) > b.limit {
		b.overflow = true
		b.Buffer.Reset()
		return len(p), nil
	}
	return b.Buffer.Write(p)
}

type tailBuffer struct {
	buf   []byte
	limit int
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

func (b *tailBuffer) String() string {
	return strings.TrimSpace(string(b.buf))
}
