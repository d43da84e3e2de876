// Package workflow runs multi-step operations where some steps are best effort.
package workflow

import (
	"context"
	"fmt"
	"log/slog"
)

type Severity int

const (
	// Warning steps may fail without aborting the workflow.
	Warning Severity = iota
	// Fatal steps abort the workflow on failure.
	Fatal
)

type StepWarning struct {
	Step string
	Err  error
}

func (w StepWarning) String() string {
	return fmt.Sprintf("%s: %v", w.Step, w.Err)
}

// Observer is notified of each warning; *metrics.BookingMetrics satisfies it.
type Observer interface {
	Warning(workflow, step string)
}

// Report accumulates step warnings for one workflow invocation.
type Report struct {
	name     string
	logger   *slog.Logger
	observer Observer
	warnings []StepWarning
}

func NewReport(name string, logger *slog.Logger, observer Observer) *Report {
	return &Report{name: name, logger: logger, observer: observer}
}

// Step runs fn. A fatal failure is returned wrapped with the step name; a warning
// failure is recorded, logged and swallowed.
func (r *Report) Step(ctx context.Context, step string, sev Severity, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil {
		return nil
	}
	if sev == Fatal {
		return fmt.Errorf("%s: %w", step, err)
	}
	r.Warn(ctx, step, err)
	return nil
}

func (r *Report) Warn(ctx context.Context, step string, err error) {
	r.warnings = append(r.warnings, StepWarning{Step: step, Err: err})
	if r.logger != nil {
		r.logger.WarnContext(ctx, "workflow step failed", "workflow", r.name, "step", step, "err", err)
	}
	if r.observer != nil {
		r.observer.Warning(r.name, step)
	}
}

func (r *Report) Warnings() []StepWarning {
	return append([]StepWarning(nil), r.warnings...)
}

// Messages renders warnings for API responses.
func (r *Report) Messages() []string {
	if len(r.warnings) == 0 {
		return nil
	}
	out := make([]string, len(r.warnings))
	for i, w := range r.warnings {
		out[i] = w.String()
	}
	return out
}

func (r *Report) Partial() bool {
	return len(r.warnings) > 0
}
