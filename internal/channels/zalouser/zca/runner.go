// Package zca drives the zca command-line client, which owns the Zalo
// personal-account session. One-shot commands go through Runner; the
// long-lived event listener goes through Stream.
package zca

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"
)

const (
	// DefaultBinary is looked up on PATH when no binary is configured.
	DefaultBinary = "zca"

	// DefaultTimeout bounds one-shot commands.
	DefaultTimeout = 30 * time.Second

	// DefaultKillGrace is the wait between SIGTERM and SIGKILL, and again
	// between SIGKILL and giving up on the child.
	DefaultKillGrace = 2 * time.Second
)

var (
	// ErrAborted is returned when the caller's context is cancelled.
	ErrAborted = errors.New("zca: aborted")

	// ErrTimeout is returned when a command outlives its timeout.
	ErrTimeout = errors.New("zca: timeout")
)

// Request is one command invocation.
type Request struct {
	Args    []string
	Timeout time.Duration // zero = Runner default
	Stdin   string
}

// Result is the outcome of a finished (or abandoned) command.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
}

// OK reports a clean exit.
func (r Result) OK() bool { return r.ExitCode == 0 && !r.TimedOut }

// Runner executes zca commands for one profile.
type Runner struct {
	Binary    string
	Profile   string
	Timeout   time.Duration
	KillGrace time.Duration
	Env       map[string]string
}

func (r *Runner) binary() string {
	if r.Binary != "" {
		return r.Binary
	}
	return DefaultBinary
}

func (r *Runner) grace() time.Duration {
	if r.KillGrace > 0 {
		return r.KillGrace
	}
	return DefaultKillGrace
}

// argv prepends the profile selector.
func (r *Runner) argv(args []string) []string {
	if r.Profile == "" {
		return args
	}
	return append([]string{"--profile", r.Profile}, args...)
}

func (r *Runner) env() []string {
	env := os.Environ()
	for k, v := range r.Env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// Run executes one command and waits for it. A non-zero exit is reported in
// Result, not as an error. On timeout the process group gets SIGTERM, then
// SIGKILL after the grace period; if the child still has not exited after a
// further grace period Run returns anyway with TimedOut set.
func (r *Runner) Run(ctx context.Context, req Request) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{ExitCode: -1}, ErrAborted
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.Timeout
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	args := r.argv(req.Args)
	cmd := exec.Command(r.binary(), args...)
	cmd.Env = r.env()
	setProcessGroup(cmd)
	// Grandchildren holding the pipes must not block Wait forever.
	cmd.WaitDelay = r.grace()

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if req.Stdin != "" {
		cmd.Stdin = strings.NewReader(req.Stdin)
	}

	if err := cmd.Start(); err != nil {
		return Result{ExitCode: -1}, fmt.Errorf("start %s: %w", r.binary(), err)
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-done:
		return collect(&stdout, &stderr, err)

	case <-ctx.Done():
		slog.Debug("zca: command aborted", "args", redactArgs(req.Args))
		r.terminate(cmd, done, &stdout, &stderr)
		return Result{ExitCode: -1}, ErrAborted

	case <-timer.C:
		slog.Warn("zca: command timed out", "args", redactArgs(req.Args), "timeout", timeout)
		res, exited := r.terminate(cmd, done, &stdout, &stderr)
		if !exited {
			res = Result{ExitCode: -1}
		}
		res.TimedOut = true
		return res, ErrTimeout
	}
}

// terminate escalates SIGTERM then SIGKILL. It reports whether the child was
// reaped; output buffers are only safe to read when it was.
func (r *Runner) terminate(cmd *exec.Cmd, done <-chan error, stdout, stderr *bytes.Buffer) (Result, bool) {
	grace := r.grace()
	signalGroup(cmd, sigTerm)
	select {
	case err := <-done:
		res, _ := collect(stdout, stderr, err)
		return res, true
	case <-time.After(grace):
	}

	signalGroup(cmd, sigKill)
	select {
	case err := <-done:
		res, _ := collect(stdout, stderr, err)
		return res, true
	case <-time.After(grace):
		slog.Warn("zca: child did not exit after SIGKILL", "pid", cmd.Process.Pid)
		return Result{}, false
	}
}

func collect(stdout, stderr *bytes.Buffer, err error) (Result, error) {
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	if errors.Is(err, exec.ErrWaitDelay) {
		return res, nil
	}
	res.ExitCode = -1
	return res, fmt.Errorf("wait: %w", err)
}

// redactArgs keeps the command verb for logs and drops message bodies.
func redactArgs(args []string) string {
	if len(args) > 2 {
		return strings.Join(args[:2], " ") + " …"
	}
	return strings.Join(args, " ")
}
