// Package engine implements the leveraged looping lifecycle: open, close,
// rebalance, and the flash-accelerated variants. Ledger writes happen before
// external calls; when a multi-step operation fails partway, the recorded
// compensations unwind the executed steps in reverse.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type journalStep struct {
	name       string
	compensate func(ctx context.Context) error
}

// journal records the compensation for each externally-effective step of an
// operation. On failure Compensate runs them last-in first-out; on success
// Discard drops them.
type journal struct {
	steps  []journalStep
	logger *slog.Logger
}

func newJournal(logger *slog.Logger) *journal {
	return &journal{logger: logger}
}

func (j *journal) record(name string, compensate func(ctx context.Context) error) {
	j.steps = append(j.steps, journalStep{name: name, compensate: compensate})
}

// compensate unwinds recorded steps in reverse order. Every compensation is
// attempted even when earlier ones fail; failures are joined so the caller
// sees the full damage.
func (j *journal) compensate(ctx context.Context) error {
	var errs []error
	for i := len(j.steps) - 1; i >= 0; i-- {
		step := j.steps[i]
		if err := step.compensate(ctx); err != nil {
			j.logger.Error("compensation failed", "step", step.name, "error", err)
			errs = append(errs, fmt.Errorf("engine: compensate %s: %w", step.name, err))
			continue
		}
		j.logger.Info("step compensated", "step", step.name)
	}
	j.steps = nil
	return errors.Join(errs...)
}

func (j *journal) discard() {
	j.steps = nil
}
