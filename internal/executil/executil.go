// Package executil provides shared child-process plumbing for the
// installer and the execution driver: process-group isolation, whole-group
// kill on timeout, and capped output capture.
package executil

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Output captures the outcome of a finished child process.
type Output struct {
	Stdout   string
	Stderr   string
	ExitCode int
	Duration time.Duration

	// TimedOut is true when the process was killed because the context
	// deadline expired.
	TimedOut bool
}

// Isolate places the command in its own process group and arranges for
// the entire group to be killed on context cancellation, so children
// spawned by the command cannot outlive it.
func Isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID = kill the entire process group.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}

// Run executes the command with capped stdout/stderr capture and
// interprets the result. A non-zero exit code is a result, not an error;
// the returned error is reserved for spawn failures (binary missing,
// permission denied) that indicate a server-side problem.
func Run(ctx context.Context, cmd *exec.Cmd, outputCap int) (*Output, error) {
	var stdoutBuf, stderrBuf bytes.Buffer
	cmd.Stdout = &LimitedWriter{W: &stdoutBuf, Remaining: outputCap}
	cmd.Stderr = &LimitedWriter{W: &stderrBuf, Remaining: outputCap}

	start := time.Now()
	runErr := cmd.Run()
	out := &Output{
		Stdout:   stdoutBuf.String(),
		Stderr:   stderrBuf.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		if ctx.Err() != nil {
			out.TimedOut = true
			out.ExitCode = -1
			return out, nil
		}
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return nil, runErr
	}
	return out, nil
}

// LimitedWriter wraps a writer and stops writing after a byte limit.
// Excess data is silently discarded (not an error — just capped).
type LimitedWriter struct {
	W         io.Writer
	Remaining int
}

// Write always reports the full slice as consumed so the exec copier
// never sees a short write once the cap is reached.
func (lw *LimitedWriter) Write(p []byte) (int, error) {
	if lw.Remaining <= 0 {
		return len(p), nil // Silently discard.
	}
	keep := p
	if len(keep) > lw.Remaining {
		keep = keep[:lw.Remaining]
	}
	n, err := lw.W.Write(keep)
	lw.Remaining -= n
	if err != nil {
		return n, err
	}
	return len(p), nil
}
