package surrogate

import (
	"context"
	"errors"
	"sync/atomic"

	"axonbatch/internal/model"
)

var ErrReinitRequired = errors.New("model invocation must reinitialize fiber state")

// Model is the neural surrogate consumed by the batch runner and the
// amplitude protocols. Run blocks until the whole batch has been simulated.
type Model interface {
	Run(ctx context.Context, in model.Input) (model.Output, error)
}

// Func adapts a plain function to Model.
type Func func(ctx context.Context, in model.Input) (model.Output, error)

func (f Func) Run(ctx context.Context, in model.Input) (model.Output, error) {
	return f(ctx, in)
}

// Counting wraps a model and counts invocations.
type Counting struct {
	Model Model
	calls atomic.Int64
}

func NewCounting(m Model) *Counting {
	return &Counting{Model: m}
}

func (c *Counting) Run(ctx context.Context, in model.Input) (model.Output, error) {
	c.calls.Add(1)
	return c.Model.Run(ctx, in)
}

func (c *Counting) Calls() int {
	return int(c.calls.Load())
}
