package callback

import "axonbatch/internal/model"

// APCount marks, per fiber, which checked nodes reached threshold at any
// timestep. A nil NodeCheck checks every node.
type APCount struct {
	NodeCheck []int
	Threshold float64
	DT        float64

	observed bool
	fired    [][]bool
}

func NewAPCount(nodeCheck []int, threshold, dt float64) *APCount {
	return &APCount{NodeCheck: append([]int(nil), nodeCheck...), Threshold: threshold, DT: dt}
}

func (c *APCount) Kind() Kind { return KindAPCount }

func (c *APCount) Reset() {
	c.observed = false
	c.fired = nil
}

func (c *APCount) Observe(out model.Output) {
	nodes := checkedNodes(c.NodeCheck, out.Nodes())
	c.fired = make([][]bool, out.Fibers())
	for f := range c.fired {
		c.fired[f] = make([]bool, len(nodes))
	}
	for t := 0; t < out.Steps(); t++ {
		for f := 0; f < out.Fibers(); f++ {
			for i, n := range nodes {
				if !c.fired[f][i] && crossed(out.At(t, f, n), c.Threshold) {
					c.fired[f][i] = true
				}
			}
		}
	}
	c.observed = true
}

// Fired reports whether the i-th checked node of fiber f reached threshold.
func (c *APCount) Fired(f, i int) bool {
	if f < 0 || f >= len(c.fired) || i < 0 || i >= len(c.fired[f]) {
		return false
	}
	return c.fired[f][i]
}

func (c *APCount) Record() Value {
	if !c.observed {
		return Unset{}
	}
	out := make(Batch, len(c.fired))
	for f, nodes := range c.fired {
		count := 0
		for _, hit := range nodes {
			if hit {
				count++
			}
		}
		out[f] = Count(count)
	}
	return out
}

// checkedNodes keeps in-range indices of nodeCheck, or every node when empty.
func checkedNodes(nodeCheck []int, nodes int) []int {
	if len(nodeCheck) == 0 {
		all := make([]int, nodes)
		for i := range all {
			all[i] = i
		}
		return all
	}
	kept := make([]int, 0, len(nodeCheck))
	for _, n := range nodeCheck {
		if n >= 0 && n < nodes {
			kept = append(kept, n)
		}
	}
	return kept
}
