package surrogate

import (
	"context"
	"errors"
	"math"
	"testing"

	"axonbatch/internal/model"
)

func stackedInput(t *testing.T, diams ...float64) model.Input {
	t.Helper()
	fibers := make([]model.Fiber, len(diams))
	for i, d := range diams {
		ve := model.NewStimulus(3, 2)
		for j := range ve.Values {
			ve.Values[j] = float32(10 * (i + 1))
		}
		fibers[i] = model.Fiber{ID: "f", Ve: ve, Diam: d}
	}
	in, err := model.StackFibers(fibers, 0.01)
	if err != nil {
		t.Fatalf("stack: %v", err)
	}
	return in
}

func TestLinearScalesByDiameter(t *testing.T) {
	m := &Linear{Rest: -70, Gain: 2, DiamRef: 4}
	out, err := m.Run(context.Background(), stackedInput(t, 4, 8))
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if out.Steps() != 3 || out.Fibers() != 2 || out.Nodes() != 2 {
		t.Fatalf("unexpected output shape %v", out.Vm.Shapes())
	}
	// fiber 0: -70 + 2*1*10, fiber 1: -70 + 2*2*20
	if got := out.At(1, 0, 1); math.Abs(float64(got)-(-50)) > 1e-4 {
		t.Fatalf("fiber 0: got %v", got)
	}
	if got := out.At(2, 1, 0); math.Abs(float64(got)-10) > 1e-4 {
		t.Fatalf("fiber 1: got %v", got)
	}
}

func TestLinearRequiresReinit(t *testing.T) {
	in := stackedInput(t, 5.7)
	in.Reinit = false
	if _, err := NewLinear().Run(context.Background(), in); !errors.Is(err, ErrReinitRequired) {
		t.Fatalf("expected reinit error, got %v", err)
	}
}

func TestLinearHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewLinear().Run(ctx, stackedInput(t, 5.7)); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
}

func TestCountingAndFunc(t *testing.T) {
	var seen int
	c := NewCounting(Func(func(_ context.Context, in model.Input) (model.Output, error) {
		seen = in.Fibers()
		return model.NewOutput(1, in.Fibers(), 1), nil
	}))
	for i := 0; i < 3; i++ {
		if _, err := c.Run(context.Background(), stackedInput(t, 5.7, 5.7)); err != nil {
			t.Fatalf("run: %v", err)
		}
	}
	if c.Calls() != 3 || seen != 2 {
		t.Fatalf("expected 3 calls over 2 fibers, got calls=%d fibers=%d", c.Calls(), seen)
	}
}
