package protocol

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"axonbatch/internal/callback"
	"axonbatch/internal/logging"
	"axonbatch/internal/model"
	"axonbatch/internal/surrogate"
)

var (
	ErrModelRequired    = errors.New("model is required")
	ErrDetectorNotFound = errors.New("detector callback not registered")
	ErrDuplicateLabel   = errors.New("amplitudes share a label")
)

// Label formats an amplitude as a sweep key.
func Label(amp float64) string {
	return fmt.Sprintf("%.3fmA", amp)
}

// Entry is the single-fiber record of one amplitude.
type Entry struct {
	Amplitude float64
	Label     string
	Records   callback.Records
}

// Sweep holds per-amplitude records in amplitude list order.
type Sweep struct {
	Entries []Entry
}

func (s Sweep) Get(label string) (Entry, bool) {
	for _, e := range s.Entries {
		if e.Label == label {
			return e, true
		}
	}
	return Entry{}, false
}

// Threshold is the outcome of a threshold search. Found is false when the
// search completed without locating a transition; that is not an error.
type Threshold struct {
	Amplitude float64
	Found     bool
	Evaluated int
}

func (t Threshold) Label() string {
	if !t.Found {
		return ""
	}
	return Label(t.Amplitude)
}

// Protocol drives sequential model invocations for one fiber geometry.
type Protocol struct {
	Model  surrogate.Model
	DT     float64
	Logger *slog.Logger
	Trace  *logging.InvocationLog
}

// invoke scales the stimulus, runs the model once through set and returns the
// records attributed to the single fiber.
func (p *Protocol) invoke(ctx context.Context, fiber model.Fiber, amp float64, set *callback.Set) (callback.Records, error) {
	if p.Model == nil {
		return callback.Records{}, ErrModelRequired
	}
	if err := fiber.Validate(); err != nil {
		return callback.Records{}, err
	}
	scaled := fiber
	scaled.Ve = model.ScaleStimulus(fiber.Ve, amp)
	in, err := model.StackFibers([]model.Fiber{scaled}, p.DT)
	if err != nil {
		return callback.Records{}, err
	}

	logging.OrDiscard(p.Logger).Debug("running amplitude", "fiber", fiber.ID, "amp", Label(amp))
	records, err := set.Invoke(ctx, func(ctx context.Context) (model.Output, error) {
		return p.Model.Run(ctx, in)
	})
	if err != nil {
		return callback.Records{}, fmt.Errorf("run amplitude %s: %w", Label(amp), err)
	}
	return records.Fiber(0, 1), nil
}

// checkDetector rejects a detector that is not registered in set or whose
// records cannot signal firing.
func checkDetector(set *callback.Set, detector callback.Kind) error {
	if !callback.IsDetector(detector) {
		return fmt.Errorf("%w: %s", callback.ErrNotDetector, detector)
	}
	if _, err := set.Lookup(detector); err != nil {
		return fmt.Errorf("%w: %v", ErrDetectorNotFound, err)
	}
	return nil
}

// fires runs one amplitude and reports whether the detector signalled firing.
func (p *Protocol) fires(ctx context.Context, fiber model.Fiber, amp float64, set *callback.Set, detector callback.Kind, search string) (bool, error) {
	records, err := p.invoke(ctx, fiber, amp, set)
	if err != nil {
		return false, err
	}
	v, _ := records.Get(detector)
	fired, err := callback.Fired(detector, v)
	if err != nil {
		return false, err
	}
	p.trace(fiber.ID, search, amp, fired)
	return fired, nil
}

func (p *Protocol) trace(fiberID, search string, amp float64, fired bool) {
	p.Trace.Log(map[string]any{
		"fiber":     fiberID,
		"search":    search,
		"amplitude": amp,
		"fired":     fired,
	})
}

// FiniteAmplitudes runs every amplitude in order and keeps each record.
// Amplitudes whose labels collide are rejected before any model call.
func (p *Protocol) FiniteAmplitudes(ctx context.Context, fiber model.Fiber, amps []float64, set *callback.Set) (Sweep, error) {
	seen := make(map[string]float64, len(amps))
	for _, amp := range amps {
		label := Label(amp)
		if prev, ok := seen[label]; ok {
			return Sweep{}, fmt.Errorf("%w: %g and %g are both %s", ErrDuplicateLabel, prev, amp, label)
		}
		seen[label] = amp
	}
	sweep := Sweep{Entries: make([]Entry, 0, len(amps))}
	for _, amp := range amps {
		records, err := p.invoke(ctx, fiber, amp, set)
		if err != nil {
			return Sweep{}, err
		}
		sweep.Entries = append(sweep.Entries, Entry{Amplitude: amp, Label: Label(amp), Records: records})
	}
	logging.OrDiscard(p.Logger).Info("finite amplitude sweep complete", "fiber", fiber.ID, "amplitudes", len(amps))
	return sweep, nil
}

// BlockThreshold returns the first amplitude that does not fire while the
// previous one did. Remaining amplitudes are not run once it is found.
func (p *Protocol) BlockThreshold(ctx context.Context, fiber model.Fiber, amps []float64, set *callback.Set, detector callback.Kind) (Threshold, error) {
	return p.transition(ctx, fiber, amps, set, detector, "block", func(prev, cur bool) bool {
		return prev && !cur
	})
}

// ActivationThreshold returns the first amplitude that fires while the
// previous one did not.
func (p *Protocol) ActivationThreshold(ctx context.Context, fiber model.Fiber, amps []float64, set *callback.Set, detector callback.Kind) (Threshold, error) {
	return p.transition(ctx, fiber, amps, set, detector, "activation", func(prev, cur bool) bool {
		return !prev && cur
	})
}

func (p *Protocol) transition(ctx context.Context, fiber model.Fiber, amps []float64, set *callback.Set, detector callback.Kind, search string, isTransition func(prev, cur bool) bool) (Threshold, error) {
	if err := checkDetector(set, detector); err != nil {
		return Threshold{}, err
	}
	log := logging.OrDiscard(p.Logger)

	result := Threshold{}
	var prev bool
	for i, amp := range amps {
		fired, err := p.fires(ctx, fiber, amp, set, detector, search)
		if err != nil {
			return Threshold{}, err
		}
		result.Evaluated++
		if i > 0 && isTransition(prev, fired) {
			result.Amplitude = amp
			result.Found = true
			log.Info(search+" threshold found", "fiber", fiber.ID, "amp", Label(amp), "evaluated", result.Evaluated)
			return result, nil
		}
		prev = fired
	}
	log.Info("no "+search+" threshold", "fiber", fiber.ID, "evaluated", result.Evaluated)
	return result, nil
}
