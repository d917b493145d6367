package model

import (
	"errors"
	"fmt"

	"github.com/emer/etable/etensor"
)

var (
	ErrShapeMismatch = errors.New("fiber shape mismatch")
	ErrEmptyBatch    = errors.New("batch has no fibers")
	ErrBadStimulus   = errors.New("stimulus must have shape [T, N] or [T, 1, N]")
)

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Fiber describes one axon to simulate. Ve holds the extracellular stimulus
// over T timesteps and N nodes, either as [T, N] or [T, 1, N].
type Fiber struct {
	ID   string
	Ve   *etensor.Float32
	Diam float64
}

// ShapeKey is the batching key: fibers sharing a key run in one model call.
type ShapeKey struct {
	Diam  float64
	Nodes int
}

func (k ShapeKey) String() string {
	return fmt.Sprintf("diam=%g nodes=%d", k.Diam, k.Nodes)
}

func (f Fiber) Steps() int {
	if f.Ve == nil {
		return 0
	}
	return f.Ve.Dim(0)
}

func (f Fiber) Nodes() int {
	if f.Ve == nil || f.Ve.NumDims() == 0 {
		return 0
	}
	return f.Ve.Dim(f.Ve.NumDims() - 1)
}

func (f Fiber) Key() ShapeKey {
	return ShapeKey{Diam: f.Diam, Nodes: f.Nodes()}
}

func (f Fiber) Validate() error {
	if f.Ve == nil {
		return fmt.Errorf("fiber %s: %w", f.ID, ErrBadStimulus)
	}
	switch f.Ve.NumDims() {
	case 2:
	case 3:
		if f.Ve.Dim(1) != 1 {
			return fmt.Errorf("fiber %s: %w", f.ID, ErrBadStimulus)
		}
	default:
		return fmt.Errorf("fiber %s: %w", f.ID, ErrBadStimulus)
	}
	if f.Steps() <= 0 || f.Nodes() <= 0 {
		return fmt.Errorf("fiber %s: %w", f.ID, ErrBadStimulus)
	}
	return nil
}

// NewStimulus allocates a zeroed [T, 1, N] stimulus.
func NewStimulus(steps, nodes int) *etensor.Float32 {
	return etensor.NewFloat32([]int{steps, 1, nodes}, nil, []string{"Time", "Section", "Node"})
}

// Input is one batched model invocation. Ve is [T, F, 1, N], Diams is [F].
type Input struct {
	Ve     *etensor.Float32
	Diams  []float32
	DT     float64
	Reinit bool
}

func (in Input) Fibers() int {
	return len(in.Diams)
}

// Output is the raw result of one model invocation. Vm is [T, F, N].
type Output struct {
	Vm *etensor.Float32
}

func NewOutput(steps, fibers, nodes int) Output {
	return Output{Vm: etensor.NewFloat32([]int{steps, fibers, nodes}, nil, []string{"Time", "Fiber", "Node"})}
}

func (o Output) Steps() int  { return o.Vm.Dim(0) }
func (o Output) Fibers() int { return o.Vm.Dim(1) }
func (o Output) Nodes() int  { return o.Vm.Dim(2) }

func (o Output) At(t, f, n int) float32 {
	return o.Vm.Values[(t*o.Vm.Dim(1)+f)*o.Vm.Dim(2)+n]
}

func (o Output) Set(t, f, n int, v float32) {
	o.Vm.Values[(t*o.Vm.Dim(1)+f)*o.Vm.Dim(2)+n] = v
}

// FiberTrace copies fiber f out of Vm as a [T, N] tensor.
func (o Output) FiberTrace(f int) *etensor.Float32 {
	return o.Window(f, 0, o.Steps())
}

// Window copies timesteps [start, end) of fiber f as a [end-start, N] tensor.
func (o Output) Window(f, start, end int) *etensor.Float32 {
	nodes := o.Nodes()
	out := etensor.NewFloat32([]int{end - start, nodes}, nil, []string{"Time", "Node"})
	for t := start; t < end; t++ {
		row := (t*o.Fibers() + f) * nodes
		copy(out.Values[(t-start)*nodes:(t-start+1)*nodes], o.Vm.Values[row:row+nodes])
	}
	return out
}

// StackFibers builds the batched model input for fibers sharing one shape.
func StackFibers(fibers []Fiber, dt float64) (Input, error) {
	if len(fibers) == 0 {
		return Input{}, ErrEmptyBatch
	}
	for _, f := range fibers {
		if err := f.Validate(); err != nil {
			return Input{}, err
		}
	}
	steps, nodes := fibers[0].Steps(), fibers[0].Nodes()
	for _, f := range fibers[1:] {
		if f.Steps() != steps || f.Nodes() != nodes {
			return Input{}, fmt.Errorf("fiber %s is [%d, %d], batch is [%d, %d]: %w", f.ID, f.Steps(), f.Nodes(), steps, nodes, ErrShapeMismatch)
		}
	}

	nf := len(fibers)
	ve := etensor.NewFloat32([]int{steps, nf, 1, nodes}, nil, []string{"Time", "Fiber", "Section", "Node"})
	diams := make([]float32, nf)
	for i, f := range fibers {
		diams[i] = float32(f.Diam)
		for t := 0; t < steps; t++ {
			src := f.Ve.Values[t*nodes : (t+1)*nodes]
			dst := (t*nf + i) * nodes
			copy(ve.Values[dst:dst+nodes], src)
		}
	}
	return Input{Ve: ve, Diams: diams, DT: dt, Reinit: true}, nil
}

// ScaleStimulus returns a copy of ve multiplied by amp.
func ScaleStimulus(ve *etensor.Float32, amp float64) *etensor.Float32 {
	out := etensor.NewFloat32(ve.Shapes(), nil, nil)
	for i, v := range ve.Values {
		out.Values[i] = float32(float64(v) * amp)
	}
	return out
}
