package protocol

import (
	"context"
	"errors"
	"fmt"
	"math"

	"axonbatch/internal/callback"
	"axonbatch/internal/logging"
	"axonbatch/internal/model"
)

const (
	DefaultRelTol  = 0.01
	DefaultMaxIter = 50
)

var ErrBadBounds = errors.New("invalid bisection bounds")

// Bounds bracket an activation threshold search. Lo and Hi share a sign and
// |Lo| < |Hi|. RelTol is the stopping width relative to |Hi|.
type Bounds struct {
	Lo      float64
	Hi      float64
	RelTol  float64
	MaxIter int
}

func (b Bounds) withDefaults() Bounds {
	if b.RelTol == 0 {
		b.RelTol = DefaultRelTol
	}
	if b.MaxIter == 0 {
		b.MaxIter = DefaultMaxIter
	}
	return b
}

func (b Bounds) Validate() error {
	if b.Hi == 0 || math.Abs(b.Lo) >= math.Abs(b.Hi) {
		return fmt.Errorf("%w: need |lo| < |hi|, got lo=%g hi=%g", ErrBadBounds, b.Lo, b.Hi)
	}
	if b.Lo != 0 && math.Signbit(b.Lo) != math.Signbit(b.Hi) {
		return fmt.Errorf("%w: lo and hi must share a sign", ErrBadBounds)
	}
	if b.RelTol <= 0 || b.RelTol >= 1 {
		return fmt.Errorf("%w: rel tol must be in (0, 1), got %g", ErrBadBounds, b.RelTol)
	}
	if b.MaxIter < 0 {
		return fmt.Errorf("%w: max iter must be >= 0", ErrBadBounds)
	}
	return nil
}

// BisectActivation narrows [Lo, Hi] to the lowest firing amplitude. When Lo
// already fires or Hi does not, the bracket holds no threshold and the result
// is not found.
func (p *Protocol) BisectActivation(ctx context.Context, fiber model.Fiber, bounds Bounds, set *callback.Set, detector callback.Kind) (Threshold, error) {
	bounds = bounds.withDefaults()
	if err := bounds.Validate(); err != nil {
		return Threshold{}, err
	}
	if err := checkDetector(set, detector); err != nil {
		return Threshold{}, err
	}
	log := logging.OrDiscard(p.Logger)

	result := Threshold{}
	fires := func(amp float64) (bool, error) {
		fired, err := p.fires(ctx, fiber, amp, set, detector, "bisect")
		if err != nil {
			return false, err
		}
		result.Evaluated++
		return fired, nil
	}

	lo, hi := bounds.Lo, bounds.Hi
	loFires, err := fires(lo)
	if err != nil {
		return Threshold{}, err
	}
	if loFires {
		log.Warn("lower bound already fires", "fiber", fiber.ID, "amp", Label(lo))
		return result, nil
	}
	hiFires, err := fires(hi)
	if err != nil {
		return Threshold{}, err
	}
	if !hiFires {
		log.Warn("upper bound does not fire", "fiber", fiber.ID, "amp", Label(hi))
		return result, nil
	}

	for iter := 0; iter < bounds.MaxIter && math.Abs(hi-lo)/math.Abs(hi) > bounds.RelTol; iter++ {
		mid := (lo + hi) / 2
		fired, err := fires(mid)
		if err != nil {
			return Threshold{}, err
		}
		if fired {
			hi = mid
		} else {
			lo = mid
		}
	}
	result.Amplitude = hi
	result.Found = true
	log.Info("activation threshold found", "fiber", fiber.ID, "amp", Label(hi), "evaluated", result.Evaluated)
	return result, nil
}
