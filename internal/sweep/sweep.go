// Package sweep removes stale generation directories in the background.
//
// Removal is best effort. A directory that looks in use is skipped until a
// later launch tries again, and every failure is only logged.
package sweep

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/time/rate"

	"github.com/psantana5/sealaunch/internal/logging"
	"github.com/psantana5/sealaunch/internal/platform"
)

// Report summarizes one sweep
type Report struct {
	Removed  []string      `json:"removed"`
	InUse    []string      `json:"in_use"`
	Failed   []string      `json:"failed"`
	Skipped  []string      `json:"skipped"`
	Duration time.Duration `json:"duration"`
}

// Observer is notified once per finished sweep
type Observer interface {
	ObserveSweep(r Report)
}

// Options configures a Sweeper
type Options struct {
	Host platform.Host
	Log  *logging.Logger

	// RemovalsPerSecond paces RemoveAll calls; 0 removes without pause
	RemovalsPerSecond float64

	Observer Observer
}

// Sweeper deletes stale generations that no running process uses
type Sweeper struct {
	host     platform.Host
	log      *logging.Logger
	limiter  *rate.Limiter
	observer Observer

	done chan struct{}
}

// New creates a sweeper
func New(opts Options) *Sweeper {
	if opts.Log == nil {
		opts.Log = logging.Discard()
	}
	if opts.Host == nil {
		opts.Host = platform.Current(opts.Log)
	}

	s := &Sweeper{
		host:     opts.Host,
		log:      opts.Log,
		observer: opts.Observer,
		done:     make(chan struct{}),
	}
	if opts.RemovalsPerSecond > 0 {
		s.limiter = rate.NewLimiter(rate.Limit(opts.RemovalsPerSecond), 1)
	}
	return s
}

// Start sweeps stale in a new goroutine and returns immediately. The
// process may exit before the sweep finishes. Call it at most once.
func (s *Sweeper) Start(stale []string, current string) {
	stale = append([]string(nil), stale...)
	go func() {
		defer close(s.done)
		defer func() {
			if r := recover(); r != nil {
				s.log.Debugf("Cleanup sweep aborted: %v", r)
			}
		}()
		s.Run(context.Background(), stale, current)
	}()
}

// Done is closed when the sweep started by Start has returned
func (s *Sweeper) Done() <-chan struct{} {
	return s.done
}

// Run sweeps stale synchronously. current is never removed.
func (s *Sweeper) Run(ctx context.Context, stale []string, current string) Report {
	start := time.Now()
	var report Report

	for _, dir := range stale {
		if ctx.Err() != nil {
			report.Skipped = append(report.Skipped, dir)
			continue
		}
		if current != "" && filepath.Clean(dir) == filepath.Clean(current) {
			report.Skipped = append(report.Skipped, dir)
			continue
		}

		inUse, err := s.host.DirInUse(dir)
		if err != nil {
			s.log.Debugf("Failed to check whether %s is in use, leaving it: %v", dir, err)
			report.Failed = append(report.Failed, dir)
			continue
		}
		if inUse {
			s.log.Debugf("Skipping %s, still in use", dir)
			report.InUse = append(report.InUse, dir)
			continue
		}

		if s.limiter != nil {
			if err := s.limiter.Wait(ctx); err != nil {
				report.Skipped = append(report.Skipped, dir)
				continue
			}
		}

		if err := os.RemoveAll(dir); err != nil {
			s.log.Debugf("Failed to remove %s: %v", dir, err)
			report.Failed = append(report.Failed, dir)
			continue
		}
		s.log.Debugf("Removed stale generation %s", dir)
		report.Removed = append(report.Removed, dir)
	}

	report.Duration = time.Since(start)
	if s.observer != nil {
		s.observer.ObserveSweep(report)
	}
	return report
}
