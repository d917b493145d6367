package protocol

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"axonbatch/internal/callback"
	"axonbatch/internal/model"
	"axonbatch/internal/surrogate"
)

const threshold = -20.0

// unitFiber has a stimulus of ones so the scaled stimulus equals the amplitude.
func unitFiber(steps, nodes int) model.Fiber {
	ve := model.NewStimulus(steps, nodes)
	for i := range ve.Values {
		ve.Values[i] = 1
	}
	return model.Fiber{ID: "fiber-0", Ve: ve, Diam: 5.7}
}

// scripted fires at every node from step 2 onward when firing(amp) is true.
func scripted(firing func(amp float64) bool) *surrogate.Counting {
	return surrogate.NewCounting(surrogate.Func(func(_ context.Context, in model.Input) (model.Output, error) {
		steps, fibers, nodes := in.Ve.Dim(0), in.Ve.Dim(1), in.Ve.Dim(3)
		amp := float64(in.Ve.Values[0])
		out := model.NewOutput(steps, fibers, nodes)
		for i := range out.Vm.Values {
			out.Vm.Values[i] = -80
		}
		if firing(amp) {
			for t := 2; t < steps; t++ {
				for n := 0; n < nodes; n++ {
					out.Set(t, 0, n, 30)
				}
			}
		}
		return out, nil
	}))
}

func detectorSet(t *testing.T, extra ...callback.Callback) *callback.Set {
	t.Helper()
	set, err := callback.NewSet(append([]callback.Callback{callback.NewAPCount(nil, threshold, 0.1)}, extra...)...)
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	return set
}

func TestBlockThresholdShortCircuits(t *testing.T) {
	pattern := map[float64]bool{1: true, 2: true, 3: true, 4: false, 5: false}
	m := scripted(func(amp float64) bool { return pattern[amp] })
	p := Protocol{Model: m, DT: 0.1}

	got, err := p.BlockThreshold(context.Background(), unitFiber(10, 3), []float64{1, 2, 3, 4, 5}, detectorSet(t), callback.KindAPCount)
	if err != nil {
		t.Fatalf("block threshold: %v", err)
	}
	if !got.Found || got.Amplitude != 4 {
		t.Fatalf("expected block threshold 4, got %+v", got)
	}
	if m.Calls() != 4 || got.Evaluated != 4 {
		t.Fatalf("expected 4 invocations, got calls=%d evaluated=%d", m.Calls(), got.Evaluated)
	}
	if got.Label() != "4.000mA" {
		t.Fatalf("unexpected label %q", got.Label())
	}
}

func TestBlockThresholdNoTransition(t *testing.T) {
	cases := []struct {
		name   string
		firing func(float64) bool
	}{
		{"always fires", func(float64) bool { return true }},
		{"never fires", func(float64) bool { return false }},
		{"only activation", func(amp float64) bool { return amp >= 3 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := scripted(tc.firing)
			p := Protocol{Model: m, DT: 0.1}
			got, err := p.BlockThreshold(context.Background(), unitFiber(10, 3), []float64{1, 2, 3, 4}, detectorSet(t), callback.KindAPCount)
			if err != nil {
				t.Fatalf("block threshold: %v", err)
			}
			if got.Found {
				t.Fatalf("expected not found, got %+v", got)
			}
			if got.Label() != "" {
				t.Fatalf("not-found result must have no label, got %q", got.Label())
			}
			if m.Calls() != 4 {
				t.Fatalf("expected full scan, got %d calls", m.Calls())
			}
		})
	}
}

func TestBlockThresholdSingleAmplitude(t *testing.T) {
	m := scripted(func(float64) bool { return false })
	p := Protocol{Model: m, DT: 0.1}
	got, err := p.BlockThreshold(context.Background(), unitFiber(10, 3), []float64{7}, detectorSet(t), callback.KindAPCount)
	if err != nil {
		t.Fatalf("block threshold: %v", err)
	}
	if got.Found {
		t.Fatalf("single amplitude cannot yield a transition, got %+v", got)
	}
}

func TestBlockThresholdMissingDetector(t *testing.T) {
	m := scripted(func(float64) bool { return true })
	p := Protocol{Model: m, DT: 0.1}
	set, err := callback.NewSet(callback.NewVmLogger())
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	_, err = p.BlockThreshold(context.Background(), unitFiber(10, 3), []float64{1, 2}, set, callback.KindAPCount)
	if !errors.Is(err, ErrDetectorNotFound) {
		t.Fatalf("expected detector error, got %v", err)
	}
	if m.Calls() != 0 {
		t.Fatalf("configuration error must be reported before running, got %d calls", m.Calls())
	}
}

func TestActivationThreshold(t *testing.T) {
	m := scripted(func(amp float64) bool { return amp >= 0.3 })
	p := Protocol{Model: m, DT: 0.1}
	got, err := p.ActivationThreshold(context.Background(), unitFiber(10, 3), []float64{0.1, 0.2, 0.3, 0.4}, detectorSet(t), callback.KindAPCount)
	if err != nil {
		t.Fatalf("activation threshold: %v", err)
	}
	if !got.Found || math.Abs(got.Amplitude-0.3) > 1e-12 || got.Evaluated != 3 {
		t.Fatalf("unexpected result %+v", got)
	}
}

func TestFiniteAmplitudesKeepsEveryRecord(t *testing.T) {
	m := scripted(func(amp float64) bool { return amp > 1.5 })
	p := Protocol{Model: m, DT: 0.1}
	set := detectorSet(t, callback.NewLatencyLogger(threshold, 0.1, nil))

	sweep, err := p.FiniteAmplitudes(context.Background(), unitFiber(10, 3), []float64{1, 2, 3}, set)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if m.Calls() != 3 || len(sweep.Entries) != 3 {
		t.Fatalf("expected 3 entries, got calls=%d entries=%d", m.Calls(), len(sweep.Entries))
	}
	labels := []string{"1.000mA", "2.000mA", "3.000mA"}
	for i, e := range sweep.Entries {
		if e.Label != labels[i] {
			t.Fatalf("entry %d: unexpected label %q", i, e.Label)
		}
	}

	quiet, ok := sweep.Get("1.000mA")
	if !ok {
		t.Fatal("missing entry")
	}
	if !callback.IsUnset(quiet.Records.Values[callback.KindLatency]) {
		t.Fatalf("expected unset latency, got %#v", quiet.Records.Values[callback.KindLatency])
	}
	if quiet.Records.Values[callback.KindAPCount] != callback.Count(0) {
		t.Fatalf("expected zero count, got %#v", quiet.Records.Values[callback.KindAPCount])
	}

	loud, _ := sweep.Get("3.000mA")
	if lat, ok := loud.Records.Values[callback.KindLatency].(callback.Scalar); !ok || math.Abs(float64(lat)-0.2) > 1e-9 {
		t.Fatalf("expected latency 0.2, got %#v", loud.Records.Values[callback.KindLatency])
	}
}

func TestFiniteAmplitudesAbortsOnModelFailure(t *testing.T) {
	boom := errors.New("surrogate diverged")
	calls := 0
	m := surrogate.Func(func(ctx context.Context, in model.Input) (model.Output, error) {
		calls++
		if calls == 2 {
			return model.Output{}, boom
		}
		return surrogate.NewLinear().Run(ctx, in)
	})
	p := Protocol{Model: m, DT: 0.1}
	sweep, err := p.FiniteAmplitudes(context.Background(), unitFiber(10, 3), []float64{1, 2, 3}, detectorSet(t))
	if !errors.Is(err, boom) {
		t.Fatalf("expected model error, got %v", err)
	}
	if !strings.Contains(err.Error(), "2.000mA") {
		t.Fatalf("error must name the failing amplitude: %v", err)
	}
	if len(sweep.Entries) != 0 || calls != 2 {
		t.Fatalf("expected abort after second call, got entries=%d calls=%d", len(sweep.Entries), calls)
	}
}

func TestFiniteAmplitudesDoesNotMutateStimulus(t *testing.T) {
	fiber := unitFiber(5, 2)
	p := Protocol{Model: surrogate.NewLinear(), DT: 0.1}
	if _, err := p.FiniteAmplitudes(context.Background(), fiber, []float64{3, -2}, detectorSet(t)); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	for _, v := range fiber.Ve.Values {
		if v != 1 {
			t.Fatalf("stimulus mutated: %v", fiber.Ve.Values)
		}
	}
}

func TestBisectActivation(t *testing.T) {
	const want = 0.737
	m := scripted(func(amp float64) bool { return amp >= want })
	p := Protocol{Model: m, DT: 0.1}
	got, err := p.BisectActivation(context.Background(), unitFiber(10, 3), Bounds{Lo: 0.1, Hi: 2, RelTol: 0.001}, detectorSet(t), callback.KindAPCount)
	if err != nil {
		t.Fatalf("bisect: %v", err)
	}
	if !got.Found {
		t.Fatalf("expected threshold, got %+v", got)
	}
	if got.Amplitude < want-1e-6 || (got.Amplitude-want)/got.Amplitude > 0.001 {
		t.Fatalf("threshold %v not within tolerance of %v", got.Amplitude, want)
	}
	if got.Evaluated != m.Calls() {
		t.Fatalf("evaluated %d != calls %d", got.Evaluated, m.Calls())
	}
}

func TestBisectActivationInvalidBracket(t *testing.T) {
	m := scripted(func(float64) bool { return true })
	p := Protocol{Model: m, DT: 0.1}
	got, err := p.BisectActivation(context.Background(), unitFiber(10, 3), Bounds{Lo: 0.1, Hi: 2}, detectorSet(t), callback.KindAPCount)
	if err != nil {
		t.Fatalf("bisect: %v", err)
	}
	if got.Found || m.Calls() != 1 {
		t.Fatalf("expected not found after one call, got %+v calls=%d", got, m.Calls())
	}
}

func TestBoundsValidate(t *testing.T) {
	cases := []struct {
		name   string
		bounds Bounds
		ok     bool
	}{
		{"ok", Bounds{Lo: 0.1, Hi: 1, RelTol: 0.01}, true},
		{"cathodic", Bounds{Lo: -0.1, Hi: -1, RelTol: 0.01}, true},
		{"inverted", Bounds{Lo: 1, Hi: 0.1, RelTol: 0.01}, false},
		{"mixed sign", Bounds{Lo: -0.1, Hi: 1, RelTol: 0.01}, false},
		{"zero tol", Bounds{Lo: 0.1, Hi: 1}, false},
	}
	for _, tc := range cases {
		err := tc.bounds.Validate()
		if (err == nil) != tc.ok {
			t.Fatalf("%s: unexpected validation result %v", tc.name, err)
		}
		if err != nil && !errors.Is(err, ErrBadBounds) {
			t.Fatalf("%s: expected ErrBadBounds, got %v", tc.name, err)
		}
	}
}

func TestFiniteAmplitudesRejectsCollidingLabels(t *testing.T) {
	cases := []struct {
		name string
		amps []float64
	}{
		{"repeated amplitude", []float64{1, 2, 1}},
		{"rounds to same label", []float64{0.0001, 0.0004}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := scripted(func(float64) bool { return true })
			p := Protocol{Model: m, DT: 0.1}
			_, err := p.FiniteAmplitudes(context.Background(), unitFiber(10, 3), tc.amps, detectorSet(t))
			if !errors.Is(err, ErrDuplicateLabel) {
				t.Fatalf("expected duplicate label error, got %v", err)
			}
			if m.Calls() != 0 {
				t.Fatalf("colliding labels must be rejected before running, got %d calls", m.Calls())
			}
		})
	}
}

// earlyFiring fires at step 0 only when firing(amp) is true, so a latency
// detector records exactly zero.
func earlyFiring(firing func(amp float64) bool) *surrogate.Counting {
	return surrogate.NewCounting(surrogate.Func(func(_ context.Context, in model.Input) (model.Output, error) {
		steps, fibers, nodes := in.Ve.Dim(0), in.Ve.Dim(1), in.Ve.Dim(3)
		amp := float64(in.Ve.Values[0])
		out := model.NewOutput(steps, fibers, nodes)
		for i := range out.Vm.Values {
			out.Vm.Values[i] = -80
		}
		if firing(amp) {
			out.Set(0, 0, 0, 30)
		}
		return out, nil
	}))
}

func TestBlockThresholdZeroLatencyCountsAsFiring(t *testing.T) {
	m := earlyFiring(func(amp float64) bool { return amp < 2 })
	p := Protocol{Model: m, DT: 0.1}
	set, err := callback.NewSet(callback.NewLatencyLogger(threshold, 0.1, nil))
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	got, err := p.BlockThreshold(context.Background(), unitFiber(10, 3), []float64{1, 2}, set, callback.KindLatency)
	if err != nil {
		t.Fatalf("block threshold: %v", err)
	}
	if !got.Found || got.Amplitude != 2 {
		t.Fatalf("expected block threshold 2, got %+v", got)
	}
}

func TestActivationThresholdEmptySfapWindowCountsAsFiring(t *testing.T) {
	// Crossing at the last step with a window starting after it clips to nothing.
	m := surrogate.NewCounting(surrogate.Func(func(_ context.Context, in model.Input) (model.Output, error) {
		steps, fibers, nodes := in.Ve.Dim(0), in.Ve.Dim(1), in.Ve.Dim(3)
		out := model.NewOutput(steps, fibers, nodes)
		for i := range out.Vm.Values {
			out.Vm.Values[i] = -80
		}
		if in.Ve.Values[0] >= 2 {
			out.Set(steps-1, 0, 0, 30)
		}
		return out, nil
	}))
	p := Protocol{Model: m, DT: 0.1}
	set, err := callback.NewSet(callback.NewSfapLogger(threshold, 0.1, [2]float64{0.5, 1}))
	if err != nil {
		t.Fatalf("new set: %v", err)
	}
	got, err := p.ActivationThreshold(context.Background(), unitFiber(10, 3), []float64{1, 2}, set, callback.KindSfap)
	if err != nil {
		t.Fatalf("activation threshold: %v", err)
	}
	if !got.Found || got.Amplitude != 2 {
		t.Fatalf("expected activation threshold 2, got %+v", got)
	}
}

func TestThresholdRejectsNonDetectorKind(t *testing.T) {
	m := scripted(func(float64) bool { return true })
	p := Protocol{Model: m, DT: 0.1}
	set := detectorSet(t, callback.NewVmLogger())

	if _, err := p.BlockThreshold(context.Background(), unitFiber(10, 3), []float64{1, 2}, set, callback.KindVm); !errors.Is(err, callback.ErrNotDetector) {
		t.Fatalf("expected non-detector error, got %v", err)
	}
	if _, err := p.BisectActivation(context.Background(), unitFiber(10, 3), Bounds{Lo: 0.1, Hi: 1, RelTol: 0.01}, set, callback.KindVm); !errors.Is(err, callback.ErrNotDetector) {
		t.Fatalf("expected non-detector error, got %v", err)
	}
	if m.Calls() != 0 {
		t.Fatalf("expected no model calls, got %d", m.Calls())
	}
}

func TestInvokeRejectsMissingStimulus(t *testing.T) {
	m := scripted(func(float64) bool { return true })
	p := Protocol{Model: m, DT: 0.1}
	_, err := p.FiniteAmplitudes(context.Background(), model.Fiber{ID: "bare", Diam: 5.7}, []float64{1}, detectorSet(t))
	if !errors.Is(err, model.ErrBadStimulus) {
		t.Fatalf("expected bad stimulus error, got %v", err)
	}
	if m.Calls() != 0 {
		t.Fatalf("expected no model calls, got %d", m.Calls())
	}
}
