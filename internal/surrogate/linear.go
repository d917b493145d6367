package surrogate

import (
	"context"
	"errors"

	"axonbatch/internal/model"
)

const (
	DefaultRest    = -80.0
	DefaultGain    = 1.0
	DefaultDiamRef = 5.7
)

// Linear is a stateless stand-in for the external surrogate: each node's
// membrane voltage is the resting potential plus the local stimulus scaled by
// gain and relative diameter. It is used by the CLI demo path and tests.
type Linear struct {
	Rest    float64
	Gain    float64
	DiamRef float64
}

func NewLinear() *Linear {
	return &Linear{Rest: DefaultRest, Gain: DefaultGain, DiamRef: DefaultDiamRef}
}

func (l *Linear) Run(ctx context.Context, in model.Input) (model.Output, error) {
	if err := ctx.Err(); err != nil {
		return model.Output{}, err
	}
	if !in.Reinit {
		return model.Output{}, ErrReinitRequired
	}
	if in.Ve == nil || in.Ve.NumDims() != 4 {
		return model.Output{}, errors.New("stimulus must be [T, F, 1, N]")
	}
	steps, fibers, nodes := in.Ve.Dim(0), in.Ve.Dim(1), in.Ve.Dim(3)
	if len(in.Diams) != fibers {
		return model.Output{}, errors.New("diameter count does not match batch size")
	}
	diamRef := l.DiamRef
	if diamRef <= 0 {
		diamRef = DefaultDiamRef
	}

	out := model.NewOutput(steps, fibers, nodes)
	for t := 0; t < steps; t++ {
		for f := 0; f < fibers; f++ {
			scale := l.Gain * float64(in.Diams[f]) / diamRef
			base := (t*fibers + f) * nodes
			for n := 0; n < nodes; n++ {
				out.Vm.Values[base+n] = float32(l.Rest + scale*float64(in.Ve.Values[base+n]))
			}
		}
	}
	return out, nil
}
