package service

import (
	"context"

	"pickup-order-service/internal/util"

	"go.uber.org/zap"
)

type undoStep struct {
	name string
	fn   func(context.Context) error
}

// compensator undoes completed steps of a multi-store operation in reverse
// order of acquisition
type compensator struct {
	operation string
	steps     []undoStep
	logger    *zap.Logger
}

func newCompensator(operation string, logger *zap.Logger) *compensator {
	return &compensator{operation: operation, logger: logger}
}

func (c *compensator) push(name string, fn func(context.Context) error) {
	c.steps = append(c.steps, undoStep{name: name, fn: fn})
}

// rollback runs every undo step, newest first. It keeps going past failures
// and returns the first one.
func (c *compensator) rollback(ctx context.Context) error {
	var first error
	for i := len(c.steps) - 1; i >= 0; i-- {
		step := c.steps[i]
		if err := step.fn(ctx); err != nil {
			util.CompensationsTotal.WithLabelValues(c.operation, "failed").Inc()
			c.logger.Error("Compensation step failed",
				zap.String("operation", c.operation),
				zap.String("step", step.name),
				zap.Error(err))
			if first == nil {
				first = err
			}
			continue
		}
		util.CompensationsTotal.WithLabelValues(c.operation, "ok").Inc()
	}
	c.steps = nil
	return first
}
