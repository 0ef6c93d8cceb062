// Package runner executes external commands under a wall-clock bound and
// captures their output. It never invokes a shell for plain commands.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ppiankov/lai/internal/audit"
	"github.com/ppiankov/lai/internal/diagnose"
)

const (
	// DefaultPollInterval is how often a running child is checked
	// against its deadline.
	DefaultPollInterval = 50 * time.Millisecond

	// DefaultTimeout applies when Run is given a non-positive timeout.
	DefaultTimeout = 30 * time.Second

	// waitDelay bounds how long output pipes are drained after the
	// child exits or is killed, in case a grandchild still holds them.
	waitDelay = 2 * time.Second

	// captureTag labels plain command runs in the audit log.
	captureTag = "capture"
)

// ErrEmptyCommand is returned when the command has no program name.
var ErrEmptyCommand = errors.New("runner: empty command")

// SpawnError reports a command that could not be started.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("runner: failed to start %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }

// Result is the observable outcome of one invocation.
type Result struct {
	Command         string  `json:"command"`
	WorkingDir      string  `json:"working_dir"`
	ExitCode        *int    `json:"exit_code"`
	Stdout          string  `json:"stdout"`
	Stderr          string  `json:"stderr"`
	ExecutionTimeMS uint64  `json:"execution_time_ms"`
	TimedOut        bool    `json:"timed_out"`
	ErrorSummary    *string `json:"error_summary,omitempty"`
}

// Runner spawns and supervises child processes. It is safe for
// concurrent use; each invocation owns its child exclusively.
type Runner struct {
	audit  *audit.Log
	poll   time.Duration
	logger *zap.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithAudit records every invocation in log.
func WithAudit(log *audit.Log) Option {
	return func(r *Runner) { r.audit = log }
}

// WithPollInterval overrides DefaultPollInterval.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.poll = d
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(logger *zap.Logger) Option {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// New returns a Runner.
func New(opts ...Option) *Runner {
	r := &Runner{poll: DefaultPollInterval, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "runner"))
	return r
}

// Run splits command on whitespace and executes it in cwd (the current
// directory when empty). A command that starts and then fails is a
// successful Result with a non-zero ExitCode; only pre-spawn failures are
// errors. If ctx is cancelled the child is killed and the partial Result
// is returned together with ctx.Err().
func (r *Runner) Run(ctx context.Context, command, cwd string, timeout time.Duration) (*Result, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, ErrEmptyCommand
	}

	res, err := r.exec(ctx, command, fields[0], fields[1:], cwd, timeout)
	if res != nil {
		r.record(captureTag, res)
	}
	return res, err
}

func (r *Runner) exec(ctx context.Context, display, name string, args []string, cwd string, timeout time.Duration) (*Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	dir, err := resolveDir(cwd)
	if err != nil {
		return nil, &SpawnError{Command: display, Err: err}
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay
	setProcessGroup(cmd)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &SpawnError{Command: display, Err: err}
	}
	pid := cmd.Process.Pid
	r.logger.Debug("process started", zap.String("command", display), zap.Int("pid", pid), zap.Duration("timeout", timeout))

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(r.poll)
	defer ticker.Stop()
	deadline := start.Add(timeout)

	var (
		waitErr  error
		timedOut bool
		ctxErr   error
	)
wait:
	for {
		select {
		case waitErr = <-done:
			break wait
		case <-ctx.Done():
			ctxErr = ctx.Err()
			killProcessGroup(cmd)
			waitErr = <-done
			break wait
		case <-ticker.C:
			if time.Now().After(deadline) {
				timedOut = true
				killProcessGroup(cmd)
				waitErr = <-done
				break wait
			}
		}
	}
	elapsed := time.Since(start)

	res := &Result{
		Command:         display,
		WorkingDir:      dir,
		Stdout:          decode(stdout.Bytes()),
		Stderr:          decode(stderr.Bytes()),
		ExecutionTimeMS: uint64(elapsed.Milliseconds()),
		TimedOut:        timedOut,
	}
	if !timedOut && ctxErr == nil {
		res.ExitCode = exitCode(cmd.ProcessState)
	}
	if diagnose.Needed(res.Stderr, res.ExitCode) {
		summary := diagnose.Summarize(res.Stderr, res.Stdout, res.ExitCode)
		res.ErrorSummary = &summary
	}

	if waitErr != nil && errors.Is(waitErr, exec.ErrWaitDelay) {
		r.logger.Debug("output pipes held open after exit", zap.Int("pid", pid))
	}
	r.logger.Debug("process finished",
		zap.Int("pid", pid),
		zap.Bool("timed_out", timedOut),
		zap.Duration("elapsed", elapsed),
	)
	return res, ctxErr
}

func (r *Runner) record(tag string, res *Result) {
	if r.audit == nil {
		return
	}
	r.audit.Append(audit.Record{
		Time:       time.Now(),
		Tag:        tag,
		ExitCode:   res.ExitCode,
		TimedOut:   res.TimedOut,
		WorkingDir: res.WorkingDir,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
	})
}

func resolveDir(cwd string) (string, error) {
	if cwd != "" {
		return cwd, nil
	}
	return os.Getwd()
}

func exitCode(state *os.ProcessState) *int {
	if state == nil {
		return nil
	}
	code := state.ExitCode()
	if code < 0 {
		if sig, ok := terminatingSignal(state); ok {
			code = 128 + sig
		}
	}
	return &code
}

// decode converts captured bytes to text, replacing invalid UTF-8.
func decode(b []byte) string {
	return strings.ToValidUTF8(string(b), "\uFFFD")
}
