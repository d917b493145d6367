package callback

import (
	"github.com/emer/etable/etensor"

	"axonbatch/internal/model"
)

// VmLogger keeps the last observed membrane voltage.
type VmLogger struct {
	last model.Output
}

func NewVmLogger() *VmLogger {
	return &VmLogger{}
}

func (l *VmLogger) Kind() Kind { return KindVm }

func (l *VmLogger) Reset() {
	l.last = model.Output{}
}

func (l *VmLogger) Observe(out model.Output) {
	l.last = out
}

// Vm returns the raw [T, F, N] tensor of the last run, or nil.
func (l *VmLogger) Vm() *etensor.Float32 {
	return l.last.Vm
}

func (l *VmLogger) Record() Value {
	if l.last.Vm == nil {
		return Unset{}
	}
	out := make(Batch, l.last.Fibers())
	for f := range out {
		out[f] = Array{l.last.FiberTrace(f)}
	}
	return out
}
