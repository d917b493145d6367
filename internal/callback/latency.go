package callback

import "axonbatch/internal/model"

// Event is a threshold crossing located in a [T, F, N] output.
type Event struct {
	Step  int
	Fiber int
	Node  int
}

// LatencyLogger records the time of the first threshold crossing. The scan
// runs over time, then fiber, then node, so the earliest step wins and ties go
// to the lowest fiber and node index.
type LatencyLogger struct {
	Threshold float64
	DT        float64
	NodeCheck []int

	first    Event
	found    bool
	perFiber []int
}

func NewLatencyLogger(threshold, dt float64, nodeCheck []int) *LatencyLogger {
	return &LatencyLogger{Threshold: threshold, DT: dt, NodeCheck: append([]int(nil), nodeCheck...)}
}

func (l *LatencyLogger) Kind() Kind { return KindLatency }

func (l *LatencyLogger) Reset() {
	l.first = Event{}
	l.found = false
	l.perFiber = nil
}

func (l *LatencyLogger) Observe(out model.Output) {
	nodes := checkedNodes(l.NodeCheck, out.Nodes())
	l.perFiber = make([]int, out.Fibers())
	for f := range l.perFiber {
		l.perFiber[f] = -1
	}
	pending := out.Fibers()
	for t := 0; t < out.Steps() && pending > 0; t++ {
		for f := 0; f < out.Fibers(); f++ {
			if l.perFiber[f] >= 0 {
				continue
			}
			for _, n := range nodes {
				if !crossed(out.At(t, f, n), l.Threshold) {
					continue
				}
				l.perFiber[f] = t
				pending--
				if !l.found {
					l.first = Event{Step: t, Fiber: f, Node: n}
					l.found = true
				}
				break
			}
		}
	}
}

// First returns the earliest crossing across the whole batch.
func (l *LatencyLogger) First() (Event, bool) {
	return l.first, l.found
}

// Latency returns the batch-wide first crossing time in ms.
func (l *LatencyLogger) Latency() Value {
	if !l.found {
		return Unset{}
	}
	return Scalar(float64(l.first.Step) * l.DT)
}

func (l *LatencyLogger) Record() Value {
	if l.perFiber == nil {
		return Unset{}
	}
	out := make(Batch, len(l.perFiber))
	for f, step := range l.perFiber {
		if step < 0 {
			out[f] = Unset{}
			continue
		}
		out[f] = Scalar(float64(step) * l.DT)
	}
	return out
}
