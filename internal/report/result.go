package report

import (
	"fmt"
	"time"

	"github.com/psantana5/sealaunch/internal/launcher"
	"github.com/psantana5/sealaunch/internal/logging"
)

// Result is the record of one finished launch. Set once, never change.
type Result struct {
	// Identity
	LaunchID   string `json:"launch_id"`
	PID        int    `json:"pid"`
	Generation string `json:"generation"`
	Reused     bool   `json:"reused"`

	// Timing
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`

	// Outcome
	ExitCode   int    `json:"exit_code"`
	Reason     string `json:"reason"`
	Signal     string `json:"signal,omitempty"`
	Interrupts uint64 `json:"interrupts_forwarded"`
}

// NewResult freezes the outcome of a launch
func NewResult(launchID, generation string, reused bool, pid int, startTime time.Time, outcome launcher.Outcome, exitCode int, interrupts uint64) *Result {
	end := startTime.Add(outcome.Duration)
	return &Result{
		LaunchID:   launchID,
		PID:        pid,
		Generation: generation,
		Reused:     reused,
		StartTime:  startTime,
		EndTime:    end,
		Duration:   outcome.Duration,
		ExitCode:   exitCode,
		Reason:     string(outcome.Reason),
		Signal:     outcome.Signal,
		Interrupts: interrupts,
	}
}

// String is the one-line summary written at debug level
func (r *Result) String() string {
	signal := ""
	if r.Signal != "" {
		signal = fmt.Sprintf(" | signal=%s", r.Signal)
	}
	return fmt.Sprintf("LAUNCH %s | generation=%s | reused=%t | runtime=%.1fs | exit=%d | reason=%s%s | interrupts=%d | pid=%d",
		r.LaunchID,
		r.Generation,
		r.Reused,
		r.Duration.Seconds(),
		r.ExitCode,
		r.Reason,
		signal,
		r.Interrupts,
		r.PID,
	)
}

// LogSummary writes the summary line to log
func (r *Result) LogSummary(log *logging.Logger) {
	log.Debug(r.String())
}
