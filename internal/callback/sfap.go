package callback

import (
	"math"

	"github.com/emer/etable/etensor"

	"axonbatch/internal/model"
)

var DefaultSfapWindow = [2]float64{-1.0, 4.0}

// SfapLogger extracts the voltage window around each fiber's first
// suprathreshold step. Window bounds are in ms relative to the crossing.
type SfapLogger struct {
	Threshold float64
	DT        float64
	Window    [2]float64

	observed bool
	windows  []*etensor.Float32
	onsets   []int
}

func NewSfapLogger(threshold, dt float64, window [2]float64) *SfapLogger {
	return &SfapLogger{Threshold: threshold, DT: dt, Window: window}
}

func (l *SfapLogger) Kind() Kind { return KindSfap }

func (l *SfapLogger) Reset() {
	l.observed = false
	l.windows = nil
	l.onsets = nil
}

func (l *SfapLogger) Observe(out model.Output) {
	l.windows = make([]*etensor.Float32, out.Fibers())
	l.onsets = make([]int, out.Fibers())
	for f := 0; f < out.Fibers(); f++ {
		l.onsets[f] = -1
		t, ok := firstCrossing(out, f, l.Threshold)
		if !ok {
			continue
		}
		start, end := l.Bounds(t, out.Steps())
		l.onsets[f] = t
		l.windows[f] = out.Window(f, start, end)
	}
	l.observed = true
}

// Bounds returns the clipped half-open window [start, end) for a crossing at step t.
func (l *SfapLogger) Bounds(t, steps int) (int, int) {
	start := t + int(math.Round(l.Window[0]/l.DT))
	end := t + int(math.Round(l.Window[1]/l.DT))
	start = max(start, 0)
	end = min(end, steps)
	if end < start {
		end = start
	}
	return start, end
}

// Onset returns the crossing step of fiber f.
func (l *SfapLogger) Onset(f int) (int, bool) {
	if f < 0 || f >= len(l.onsets) || l.onsets[f] < 0 {
		return 0, false
	}
	return l.onsets[f], true
}

func (l *SfapLogger) Record() Value {
	if !l.observed {
		return Unset{}
	}
	out := make(Batch, len(l.windows))
	for f, w := range l.windows {
		if w == nil {
			out[f] = Unset{}
			continue
		}
		out[f] = Array{w}
	}
	return out
}

func firstCrossing(out model.Output, f int, threshold float64) (int, bool) {
	for t := 0; t < out.Steps(); t++ {
		for n := 0; n < out.Nodes(); n++ {
			if crossed(out.At(t, f, n), threshold) {
				return t, true
			}
		}
	}
	return 0, false
}
