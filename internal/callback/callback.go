package callback

import (
	"errors"
	"fmt"

	"axonbatch/internal/model"
)

// Kind is the stable identity of a callback variant.
type Kind string

const (
	KindAPCount Kind = "APCount"
	KindVm      Kind = "VmLogger"
	KindLatency Kind = "LatencyLogger"
	KindSfap    Kind = "SfapLogger"
)

var (
	ErrDuplicateKind = errors.New("callback kind already registered")
	ErrNotFound      = errors.New("callback not found")
	ErrBadOutput     = errors.New("model output must be [T, F, N]")
	ErrNotDetector   = errors.New("callback kind cannot detect firing")
)

// Callback observes one model output per run and extracts a feature from it.
// Reset must precede every run that reuses the instance; Set enforces this.
type Callback interface {
	Kind() Kind
	Reset()
	Observe(out model.Output)
	Record() Value
}

// IsDetector reports whether records of kind can signal firing.
func IsDetector(kind Kind) bool {
	switch kind {
	case KindAPCount, KindLatency, KindSfap:
		return true
	default:
		return false
	}
}

// Fired reports whether a detector record signals firing. An AP count fires
// when non-zero. Latency and sfAP records fire whenever a crossing was
// recorded, so a zero latency or an empty clipped window still counts.
func Fired(kind Kind, v Value) (bool, error) {
	switch kind {
	case KindAPCount:
		return Truthy(v), nil
	case KindLatency, KindSfap:
		return recorded(v), nil
	default:
		return false, fmt.Errorf("%w: %s", ErrNotDetector, kind)
	}
}

func recorded(v Value) bool {
	if b, ok := v.(Batch); ok {
		for _, item := range b {
			if recorded(item) {
				return true
			}
		}
		return false
	}
	return !IsUnset(v)
}

func crossed(v float32, threshold float64) bool {
	return float64(v) >= threshold
}
