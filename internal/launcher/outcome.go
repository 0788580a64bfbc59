package launcher

import (
	"errors"
	"fmt"
	"os/exec"
	"syscall"
	"time"

	"github.com/psantana5/sealaunch/internal/logging"
)

// ExitSignalFallback is the launcher's exit code when the child ended
// without an exit code (killed by a signal or reaped for an unknown reason)
const ExitSignalFallback = 11

// ExitReason describes why the child terminated
type ExitReason string

const (
	ExitReasonSuccess ExitReason = "success" // exit code 0
	ExitReasonError   ExitReason = "error"   // exit code != 0
	ExitReasonSignal  ExitReason = "signal"  // killed by signal
	ExitReasonUnknown ExitReason = "unknown" // wait failed, no status
)

// Outcome is the result of waiting for the child
type Outcome struct {
	Code     int
	Signaled bool
	Signal   string
	Reason   ExitReason
	Duration time.Duration
}

// HasCode reports whether the child produced a numeric exit code
func (o Outcome) HasCode() bool {
	return o.Reason == ExitReasonSuccess || o.Reason == ExitReasonError
}

// ExitCode is the code the launcher itself should exit with
func (o Outcome) ExitCode(fallback int) int {
	if !o.HasCode() {
		return fallback
	}
	return o.Code
}

// Child is a running runtime process
type Child struct {
	cmd       *exec.Cmd
	pid       int
	startTime time.Time
	log       *logging.Logger
}

// PID returns the child's process id
func (c *Child) PID() int {
	return c.pid
}

// Kill terminates the child without waiting for it
func (c *Child) Kill() error {
	return c.cmd.Process.Kill()
}

// Wait blocks until the child exits. It never fails: a wait error without
// an exit status degrades to ExitReasonUnknown.
func (c *Child) Wait() Outcome {
	err := c.cmd.Wait()
	outcome := Outcome{Duration: time.Since(c.startTime)}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		outcome.Reason = ExitReasonSuccess

	case errors.As(err, &exitErr):
		status, ok := exitErr.Sys().(syscall.WaitStatus)
		if ok && status.Signaled() {
			outcome.Signaled = true
			outcome.Signal = SignalName(status.Signal())
			outcome.Reason = ExitReasonSignal
		} else if code := exitErr.ExitCode(); code >= 0 {
			outcome.Code = code
			outcome.Reason = ExitReasonError
			if code == 0 {
				outcome.Reason = ExitReasonSuccess
			}
		} else {
			outcome.Reason = ExitReasonUnknown
		}

	default:
		c.log.Debugf("Failed waiting for pid %d: %v", c.pid, err)
		outcome.Reason = ExitReasonUnknown
	}

	if outcome.Signaled {
		c.log.Debugf("Child exited due to signal %s", outcome.Signal)
	} else if outcome.HasCode() {
		c.log.Debugf("Child exited with status: %d", outcome.Code)
	}
	return outcome
}

// SignalName returns the signal name for a signal number
func SignalName(sig syscall.Signal) string {
	switch sig {
	case syscall.SIGKILL:
		return "SIGKILL"
	case syscall.SIGTERM:
		return "SIGTERM"
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGHUP:
		return "SIGHUP"
	case syscall.SIGQUIT:
		return "SIGQUIT"
	case syscall.SIGABRT:
		return "SIGABRT"
	case syscall.SIGSEGV:
		return "SIGSEGV"
	case syscall.SIGPIPE:
		return "SIGPIPE"
	default:
		return fmt.Sprintf("SIG%d", int(sig))
	}
}
