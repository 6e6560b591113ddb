// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes evaluation batches in the background.
//
// A run loads the dataset, executes each selected task through a
// TaskExecutor, and reports through an events.Sender: zero or more
// Progress events followed by exactly one Complete or Error event. When
// the run's context is cancelled it stops starting tasks and returns
// without a final event.
//
// A comparison runs batch A to completion before batch B so both see
// the same conditions. Task numbering continues across the two batches.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/AleutianEval/services/eval/dataset"
	"github.com/AleutianAI/AleutianEval/services/eval/events"
	"github.com/AleutianAI/AleutianEval/services/eval/executor"
	"github.com/AleutianAI/AleutianEval/services/eval/metrics"
	"github.com/AleutianAI/AleutianEval/services/eval/report"
	"github.com/AleutianAI/AleutianEval/services/eval/telemetry"
)

// -----------------------------------------------------------------------------
// Types
// -----------------------------------------------------------------------------

// Selection picks the tasks of a run.
type Selection struct {
	DatasetPath string             `json:"dataset_path" validate:"required"`
	Limit       int                `json:"limit" validate:"gte=0"`
	Complexity  dataset.Complexity `json:"complexity,omitempty" validate:"omitempty,oneof=simple medium complex"`
}

// EvaluationArgs describes a single-variant run.
type EvaluationArgs struct {
	Selection
	Variant executor.Variant
}

// ComparisonArgs describes an A/B run.
type ComparisonArgs struct {
	Selection
	A executor.Variant
	B executor.Variant
}

// ReportSaver persists finished reports. storage.RunStore implements it.
type ReportSaver interface {
	Save(ctx context.Context, r *report.Report) error
}

// Option configures a Runner.
type Option func(*Runner)

// WithStore persists finished reports. Save failures are logged only.
func WithStore(s ReportSaver) Option {
	return func(r *Runner) { r.store = s }
}

// WithSink exports batch, comparison and error telemetry.
func WithSink(s telemetry.Sink) Option {
	return func(r *Runner) {
		if s != nil {
			r.sink = s
		}
	}
}

// WithPacing limits task starts to perMinute with the given burst. A
// non-positive rate disables pacing.
func WithPacing(perMinute float64, burst int) Option {
	return func(r *Runner) {
		if perMinute <= 0 {
			r.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		r.limiter = rate.NewLimiter(rate.Limit(perMinute/60), burst)
	}
}

// WithLogger sets the logger. Nil keeps slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithTracerProvider sets the tracer provider. Defaults to the otel global.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Runner) {
		if tp != nil {
			r.tracer = tp.Tracer(tracerName)
		}
	}
}

// WithClock overrides the time source for reports and task collectors.
func WithClock(clock metrics.Clock) Option {
	return func(r *Runner) {
		if clock != nil {
			r.now = clock
		}
	}
}

const tracerName = "github.com/AleutianAI/AleutianEval/services/eval/runner"

// Runner executes runs.
//
// Thread Safety: A Runner may execute several runs concurrently; each run
// owns its own state. The pacing limiter is shared between runs.
type Runner struct {
	exec    executor.TaskExecutor
	store   ReportSaver
	sink    telemetry.Sink
	limiter *rate.Limiter
	logger  *slog.Logger
	tracer  trace.Tracer
	now     metrics.Clock
}

// New creates a Runner over exec.
func New(exec executor.TaskExecutor, opts ...Option) *Runner {
	r := &Runner{
		exec:   exec,
		sink:   telemetry.NewNopSink(),
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// errCancelled marks a run stopped by its context. It never reaches the
// caller.
var errCancelled = errors.New("run cancelled")

// ErrExecutorPanic marks a task whose executor panicked. The task is
// recorded as unsolved and the run continues.
var ErrExecutorPanic = errors.New("task executor panicked")

// -----------------------------------------------------------------------------
// Runs
// -----------------------------------------------------------------------------

// RunEvaluation runs one variant over the selected tasks.
//
// Description:
//
//	Blocks until the run finishes. Intended to run on its own goroutine
//	with a cancellable ctx; all results leave through out.
//
// Inputs:
//   - ctx: Cancels the run between tasks.
//   - runID: Identifier stamped on every event.
//   - args: Dataset selection and variant.
//   - out: Event destination.
//
// Outputs:
//   - error: The failure reported as an Error event, or an event delivery
//     failure. Nil on success and on cancellation.
func (r *Runner) RunEvaluation(ctx context.Context, runID string, args EvaluationArgs, out events.Sender) error {
	return r.run(ctx, runID, args.Selection, []executor.Variant{args.Variant}, out)
}

// RunComparison runs variant A then variant B over the same tasks and
// compares them.
//
// Inputs and outputs are as for RunEvaluation.
func (r *Runner) RunComparison(ctx context.Context, runID string, args ComparisonArgs, out events.Sender) error {
	return r.run(ctx, runID, args.Selection, []executor.Variant{args.A, args.B}, out)
}

func (r *Runner) run(ctx context.Context, runID string, sel Selection, variants []executor.Variant, out events.Sender) error {
	kind := report.KindEvaluation
	if len(variants) == 2 {
		kind = report.KindComparison
	}
	logger := r.logger.With(slog.String("run_id", runID), slog.String("kind", string(kind)))

	ctx, span := r.tracer.Start(ctx, "eval.run", trace.WithAttributes(
		attribute.String("eval.run_id", runID),
		attribute.String("eval.kind", string(kind)),
		attribute.String("eval.dataset_path", sel.DatasetPath),
	))
	defer span.End()

	started := r.now()
	tasks, ds, err := r.load(sel)
	if err != nil {
		return r.fail(ctx, span, logger, runID, "load", err, out)
	}
	logger.Info("run started", slog.String("dataset", ds.Name), slog.Int("tasks", len(tasks)))

	t := &tracker{runID: runID, total: len(tasks) * len(variants), out: out}
	batches := make([]report.EvaluationResults, 0, len(variants))
	for _, v := range variants {
		results, err := r.runBatch(ctx, t, v, tasks, logger)
		if errors.Is(err, errCancelled) {
			logger.Info("run cancelled", slog.Int("completed", t.current))
			span.SetStatus(codes.Error, "cancelled")
			return nil
		}
		if err != nil {
			// Delivery failed; there is nobody left to tell.
			logger.Error("event delivery failed", slog.String("error", err.Error()))
			span.RecordError(err)
			return err
		}
		batches = append(batches, results)
	}

	rep := &report.Report{
		RunID:      runID,
		Kind:       kind,
		Dataset:    ds.Name,
		StartedAt:  started,
		FinishedAt: r.now(),
		Batches:    batches,
	}
	if kind == report.KindComparison {
		cmp := report.Compare(batches[0], batches[1])
		rep.Comparison = &cmp
		span.SetAttributes(attribute.String("eval.recommendation", cmp.Recommendation.String()))
	}

	r.publish(ctx, logger, rep)

	if err := out.Send(events.NewComplete(runID, rep)); err != nil {
		logger.Error("event delivery failed", slog.String("error", err.Error()))
		return err
	}
	logger.Info("run completed", slog.Duration("took", rep.Duration()))
	return nil
}

func (r *Runner) load(sel Selection) ([]dataset.Task, *dataset.Dataset, error) {
	ds, err := dataset.Load(sel.DatasetPath)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := ds.Select(sel.Limit, sel.Complexity)
	if err != nil {
		return nil, nil, fmt.Errorf("select tasks from %s: %w", ds.Name, err)
	}
	return tasks, ds, nil
}

// fail reports a run-level failure as an Error event.
func (r *Runner) fail(ctx context.Context, span trace.Span, logger *slog.Logger, runID, op string, cause error, out events.Sender) error {
	logger.Error("run failed", slog.String("operation", op), slog.String("error", cause.Error()))
	span.RecordError(cause)
	span.SetStatus(codes.Error, cause.Error())

	if err := r.sink.RecordError(ctx, &telemetry.ErrorData{
		RunID:     runID,
		Timestamp: r.now(),
		Component: "runner",
		Operation: op,
		ErrorType: errorType(cause),
		Message:   cause.Error(),
	}); err != nil {
		logger.Warn("telemetry record failed", slog.String("error", err.Error()))
	}

	if err := out.Send(events.NewError(runID, cause.Error())); err != nil {
		return errors.Join(cause, err)
	}
	return cause
}

// publish persists the report and exports its telemetry. Failures here
// never fail the run.
func (r *Runner) publish(ctx context.Context, logger *slog.Logger, rep *report.Report) {
	// A cancelled run context must not stop a finished run from saving.
	ctx = context.WithoutCancel(ctx)

	if r.store != nil {
		if err := r.store.Save(ctx, rep); err != nil {
			logger.Warn("persist report failed", slog.String("error", err.Error()))
		}
	}
	for _, b := range rep.Batches {
		if err := r.sink.RecordBatch(ctx, telemetry.NewBatchData(rep.RunID, rep.Dataset, b)); err != nil {
			logger.Warn("telemetry record failed", slog.String("error", err.Error()))
		}
	}
	if rep.Comparison != nil {
		if err := r.sink.RecordComparison(ctx, telemetry.NewComparisonData(rep.RunID, *rep.Comparison)); err != nil {
			logger.Warn("telemetry record failed", slog.String("error", err.Error()))
		}
	}
}

// -----------------------------------------------------------------------------
// Batches
// -----------------------------------------------------------------------------

// tracker carries progress state across the batches of one run.
type tracker struct {
	runID   string
	total   int
	current int
	tokens  int
	cost    float64
	out     events.Sender
}

func (t *tracker) progress(taskID, config string, fill func(*events.Progress)) error {
	p := events.Progress{
		CurrentTask: t.current,
		TotalTasks:  t.total,
		TaskID:      taskID,
		Config:      config,
		TotalTokens: t.tokens,
		TotalCost:   t.cost,
	}
	if fill != nil {
		fill(&p)
	}
	return t.out.Send(events.NewProgress(t.runID, p))
}

// runBatch executes tasks with variant v in order.
//
// A task's own failure is recorded as an unsolved result. The only errors
// returned are errCancelled and event delivery failures.
func (r *Runner) runBatch(ctx context.Context, t *tracker, v executor.Variant, tasks []dataset.Task, logger *slog.Logger) (report.EvaluationResults, error) {
	results := make([]report.TaskResult, 0, len(tasks))
	for _, task := range tasks {
		if ctx.Err() != nil {
			return report.EvaluationResults{}, errCancelled
		}
		if r.limiter != nil {
			if err := r.limiter.Wait(ctx); err != nil {
				return report.EvaluationResults{}, errCancelled
			}
		}

		t.current++
		res, sendErr := r.runTask(ctx, t, v, task, logger)
		if sendErr != nil {
			return report.EvaluationResults{}, sendErr
		}
		results = append(results, res)

		t.tokens += res.Metrics.TotalTokens()
		t.cost += res.Metrics.CostUSD
		last := &events.LastResult{
			TaskID:  task.ID,
			Solved:  res.Metrics.Solved,
			CostUSD: res.Metrics.CostUSD,
			Error:   res.Error,
		}
		if err := t.progress(task.ID, v.Name, func(p *events.Progress) { p.LastResult = last }); err != nil {
			return report.EvaluationResults{}, err
		}
	}
	return report.NewEvaluationResults(v.Name, results), nil
}

func (r *Runner) runTask(ctx context.Context, t *tracker, v executor.Variant, task dataset.Task, logger *slog.Logger) (report.TaskResult, error) {
	ctx, span := r.tracer.Start(ctx, "eval.task", trace.WithAttributes(
		attribute.String("eval.task_id", task.ID),
		attribute.String("eval.config", v.Name),
		attribute.String("eval.complexity", string(task.Complexity)),
	))
	defer span.End()

	collector := metrics.NewCollector(metrics.WithClock(r.now))
	collector.Start()

	var sendErr error
	req := executor.Request{
		Task:     task,
		Variant:  v,
		Recorder: collector,
		OnStep: func(s executor.StepUpdate) {
			if sendErr != nil {
				return
			}
			snap := collector.Snapshot()
			sendErr = t.progress(task.ID, v.Name, func(p *events.Progress) {
				p.CurrentStep = s.Step
				p.MaxSteps = s.MaxSteps
				p.LastTool = s.Tool
				p.TotalTokens += snap.TotalTokens()
				p.TotalCost += snap.CostUSD
			})
		},
	}

	err := r.execute(ctx, req)
	m := collector.Finish()
	res := report.TaskResult{TaskID: task.ID, Complexity: task.Complexity, Metrics: m}
	if err != nil {
		res.Metrics.Solved = false
		res.Error = err.Error()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn("task failed",
			slog.String("task_id", task.ID),
			slog.String("config", v.Name),
			slog.String("error", err.Error()))
	} else {
		logger.Debug("task finished",
			slog.String("task_id", task.ID),
			slog.String("config", v.Name),
			slog.Bool("solved", m.Solved),
			slog.Float64("cost_usd", m.CostUSD),
			slog.Int64("duration_ms", m.DurationMs))
	}
	span.SetAttributes(
		attribute.Bool("eval.solved", res.Metrics.Solved),
		attribute.Float64("eval.cost_usd", m.CostUSD),
		attribute.Int("eval.agent_steps", m.AgentSteps),
	)
	return res, sendErr
}

// execute runs the executor, turning a panic into a task error.
func (r *Runner) execute(ctx context.Context, req executor.Request) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", ErrExecutorPanic, p)
		}
	}()
	return r.exec.Execute(ctx, req)
}

func errorType(err error) string {
	switch {
	case errors.Is(err, dataset.ErrDatasetUnreadable):
		return "dataset_unreadable"
	case errors.Is(err, dataset.ErrDatasetMalformed):
		return "dataset_malformed"
	case errors.Is(err, dataset.ErrDatasetEmpty):
		return "dataset_empty"
	default:
		return "internal"
	}
}
