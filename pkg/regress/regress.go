// Package regress runs independent scripted sessions in parallel.
package regress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/OpenTraceLab/OpenTraceTAP/pkg/engine"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/jtag"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/svf"
	"github.com/OpenTraceLab/OpenTraceTAP/pkg/taperr"
)

// Job is one session to build and one script to play against it. Jobs run
// concurrently, so their configs must not share a CaptureSource or
// UpdateSink that is unsafe for concurrent use.
type Job struct {
	Name   string
	Config *engine.Config // nil = engine.DefaultConfig()
	Script *svf.Script
}

// Options control a regression run.
type Options struct {
	Parallelism    int    // 0 = GOMAXPROCS
	StopOnFatal    bool   // cancel jobs not yet finished on the first fatal error
	StopOnMismatch bool   // passed to each svf.Player
	MaxCycles      uint64 // per job, 0 = unlimited
	Logger         *slog.Logger
	// TracerProvider receives one span per job. Nil uses the global
	// provider.
	TracerProvider trace.TracerProvider
}

// Result is the outcome of one job.
type Result struct {
	Job       string
	SessionID string
	Script    svf.Result
	Report    engine.Report
	Duration  time.Duration
	// Err is the error that stopped the job, if any. A job skipped after
	// cancellation carries the context error.
	Err error
}

// Passed reports whether the job completed, its session passed and its
// script saw no unexpected TDO mismatch.
func (r Result) Passed() bool {
	return r.Err == nil && r.Report.Passed() && len(r.Script.Unexpected()) == 0
}

// Run plays every job on a fresh session and returns one result per job,
// in job order. The error is non-nil only when StopOnFatal cut the run
// short or ctx was cancelled.
func Run(ctx context.Context, jobs []Job, opts Options) ([]Result, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	log = log.With(slog.String("component", "regress"))
	tp := opts.TracerProvider
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	tracer := tp.Tracer("github.com/OpenTraceLab/OpenTraceTAP/pkg/regress")
	limit := opts.Parallelism
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}

	results := make([]Result, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for i, job := range jobs {
		g.Go(func() error {
			res := runJob(gctx, job, opts, tracer, log)
			results[i] = res
			if opts.StopOnFatal && taperr.IsFatal(res.Err) {
				return fmt.Errorf("regress: job %q: %w", job.Name, res.Err)
			}
			return nil
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}

	passed := 0
	for _, r := range results {
		if r.Passed() {
			passed++
		}
	}
	log.Info("regression finished", slog.Int("jobs", len(jobs)), slog.Int("passed", passed))
	return results, err
}

func runJob(ctx context.Context, job Job, opts Options, tracer trace.Tracer, log *slog.Logger) (res Result) {
	res.Job = job.Name
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	ctx, span := tracer.Start(ctx, "regress.Job",
		trace.WithAttributes(attribute.String("job", job.Name)))
	defer span.End()
	start := time.Now()
	defer func() {
		res.Duration = time.Since(start)
		if res.Err != nil {
			span.RecordError(res.Err)
			span.SetStatus(codes.Error, "job failed")
		}
		span.SetAttributes(
			attribute.Int64("cycles", int64(res.Report.Cycles)),
			attribute.Int("events", len(res.Report.Events)),
			attribute.Int("mismatches", len(res.Report.Mismatches)),
			attribute.Bool("passed", res.Passed()),
		)
	}()

	if job.Script == nil {
		res.Err = errors.New("regress: job has no script")
		return res
	}
	cfg := job.Config
	if cfg == nil {
		cfg = engine.DefaultConfig()
	}
	if cfg.Logger == nil {
		c := *cfg
		c.Logger = log
		cfg = &c
	}
	session, err := engine.NewSession(cfg)
	if err != nil {
		res.Err = err
		return res
	}
	res.SessionID = session.ID()
	span.SetAttributes(attribute.String("session", res.SessionID))

	player := svf.NewPlayer(jtag.NewSessionAdapter(session), svf.Options{
		MaxCycles:      opts.MaxCycles,
		StopOnMismatch: opts.StopOnMismatch,
		Logger:         log,
	})
	res.Script, res.Err = player.Run(ctx, job.Script)
	res.Report = session.Report()
	if res.Err != nil {
		log.Warn("job stopped", slog.String("job", job.Name), slog.String("error", res.Err.Error()))
	}
	return res
}
