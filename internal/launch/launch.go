// Package launch wires the extraction cache, launcher, relay and sweeper
// into one run of the embedded runtime.
package launch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/psantana5/sealaunch/internal/artifact"
	"github.com/psantana5/sealaunch/internal/cache"
	"github.com/psantana5/sealaunch/internal/config"
	"github.com/psantana5/sealaunch/internal/extract"
	"github.com/psantana5/sealaunch/internal/invocation"
	"github.com/psantana5/sealaunch/internal/launcher"
	"github.com/psantana5/sealaunch/internal/logging"
	"github.com/psantana5/sealaunch/internal/metrics"
	"github.com/psantana5/sealaunch/internal/platform"
	"github.com/psantana5/sealaunch/internal/relay"
	"github.com/psantana5/sealaunch/internal/report"
	"github.com/psantana5/sealaunch/internal/shutdown"
	"github.com/psantana5/sealaunch/internal/sweep"
	"github.com/psantana5/sealaunch/internal/tracing"
)

// ExitFailure is returned for errors of the launcher itself
const ExitFailure = 1

// Options configures a launch
type Options struct {
	App     string
	Version string
	Config  *config.Config
	Store   *artifact.Store

	// Args are passed to the entry script, without the launcher's own name
	Args []string

	// Host and Log default to the running OS and a logger built from Config
	Host platform.Host
	Log  *logging.Logger
}

// NewLogger builds the logger described by cfg. Without debug only
// warnings and errors are written, so a warm start prints nothing.
func NewLogger(cfg *config.Config) *logging.Logger {
	level := logging.WARN
	if cfg.Debug {
		level = logging.DEBUG
	}
	return logging.New(level, cfg.LogFormat == "json")
}

// Run extracts or reuses a generation, runs the runtime from it and waits
// for it. The returned code is what the launcher should exit with; err is
// set only for failures of the launcher itself.
func Run(ctx context.Context, opts Options) (int, error) {
	cfg := opts.Config
	if cfg == nil {
		return ExitFailure, errors.New("configuration is required")
	}
	if opts.Store == nil {
		return ExitFailure, errors.New("artifact store is required")
	}

	log := opts.Log
	if log == nil {
		log = NewLogger(cfg)
	}
	launchID := uuid.NewString()
	log = log.WithField("launch_id", launchID)

	host := opts.Host
	if host == nil {
		host = platform.Current(log)
	}

	exits := shutdown.New(2*time.Second, log)
	defer exits.Shutdown()

	tp, err := tracing.InitTracer(tracing.Config{
		ServiceName:    opts.App,
		ServiceVersion: opts.Version,
		OTLPEndpoint:   cfg.OTLPEndpoint,
	}, log)
	if err != nil {
		// tracing is optional; run without it
		log.Debugf("Tracing disabled: %v", err)
		tp, _ = tracing.InitTracer(tracing.Config{ServiceName: opts.App}, log)
	}
	exits.Register("flush traces", tp.Shutdown)

	var m *metrics.Metrics
	if cfg.MetricsTextfile != "" {
		m = metrics.New()
		exits.Register("write metrics", func(ctx context.Context) error {
			return m.WriteTextfile(cfg.MetricsTextfile)
		})
	}

	ctx, span := tp.StartSpan(ctx, "launch", attribute.String("launch_id", launchID))
	defer span.End()

	sweeper := sweep.New(sweep.Options{
		Host:              host,
		Log:               log,
		RemovalsPerSecond: cfg.SweepRate,
		Observer:          m,
	})

	c, err := cache.New(cache.Options{
		Root:      cfg.Root,
		Store:     opts.Store,
		Extractor: extract.New(log),
		Sweeper:   sweeper,
		Log:       log,
	})
	if err != nil {
		return ExitFailure, err
	}

	selectCtx, selectSpan := tp.StartSpan(ctx, "select_generation", attribute.String("root", cfg.Root))
	sel, err := c.SelectOrCreate()
	if err != nil {
		tracing.SetError(selectCtx, err)
		selectSpan.End()
		return ExitFailure, err
	}
	selectSpan.SetAttributes(
		attribute.String("generation", sel.Dir),
		attribute.Bool("reused", sel.Reused),
		attribute.Int("stale", len(sel.Stale)),
	)
	selectSpan.End()
	m.ObserveSelection(sel.Reused, sel.Extracted)

	l := launcher.New(host, log)
	cmd, err := invocation.Build(cfg, l.RuntimePath(sel.Dir), sel.Dir, opts.Args)
	if err != nil {
		return ExitFailure, err
	}

	spawnCtx, spawnSpan := tp.StartSpan(ctx, "spawn")
	child, err := l.Spawn(sel.Dir, cmd)
	if err != nil {
		tracing.SetError(spawnCtx, err)
		spawnSpan.End()
		return ExitFailure, err
	}
	spawnSpan.SetAttributes(attribute.Int("pid", child.PID()))
	spawnSpan.End()

	r := relay.New(host, log)
	r.OnForward = func(pid int, err error) {
		m.ObserveInterrupt()
		tracing.AddEvent(ctx, "interrupt_forwarded", attribute.Int("pid", pid))
	}
	if err := r.Install(child.PID()); err != nil {
		// the child cannot be interrupted through us; do not leave it behind
		if killErr := child.Kill(); killErr != nil {
			log.Debugf("Failed to kill pid %d: %v", child.PID(), killErr)
		}
		child.Wait()
		return ExitFailure, err
	}
	exits.Register("close relay", shutdown.CloseResource(r))

	started := time.Now()
	_, waitSpan := tp.StartSpan(ctx, "wait", attribute.Int("pid", child.PID()))
	outcome := child.Wait()
	code := outcome.ExitCode(launcher.ExitSignalFallback)
	waitSpan.SetAttributes(
		attribute.String("reason", string(outcome.Reason)),
		attribute.Int("exit_code", code),
	)
	waitSpan.End()

	if !outcome.HasCode() {
		log.Debugf("Child exited without an exit code, using %d", launcher.ExitSignalFallback)
	}
	m.ObserveExit(string(outcome.Reason), outcome.Duration)

	result := report.NewResult(launchID, sel.Dir, sel.Reused, child.PID(), started, outcome, code, r.Triggered())
	result.LogSummary(log)

	return code, nil
}
