package callback

import (
	"context"
	"fmt"

	"axonbatch/internal/model"
)

// Records maps callback kinds to recorded values, keeping registration order.
type Records struct {
	Order  []Kind
	Values map[Kind]Value
}

func NewRecords() Records {
	return Records{Values: make(map[Kind]Value)}
}

func (r *Records) Put(kind Kind, v Value) {
	if r.Values == nil {
		r.Values = make(map[Kind]Value)
	}
	if _, ok := r.Values[kind]; !ok {
		r.Order = append(r.Order, kind)
	}
	r.Values[kind] = v
}

func (r Records) Get(kind Kind) (Value, bool) {
	v, ok := r.Values[kind]
	return v, ok
}

// Fiber attributes every value to batch position i of n fibers.
func (r Records) Fiber(i, n int) Records {
	out := NewRecords()
	for _, kind := range r.Order {
		out.Put(kind, Fiber(r.Values[kind], i, n))
	}
	return out
}

// Set owns the callbacks of one run series. Every model invocation goes
// through Invoke, which keeps reset, observe and record together.
type Set struct {
	callbacks []Callback
	byKind    map[Kind]Callback
	runs      int
}

func NewSet(callbacks ...Callback) (*Set, error) {
	s := &Set{byKind: make(map[Kind]Callback, len(callbacks))}
	for _, cb := range callbacks {
		if err := s.Add(cb); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Set) Add(cb Callback) error {
	if _, exists := s.byKind[cb.Kind()]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateKind, cb.Kind())
	}
	s.callbacks = append(s.callbacks, cb)
	s.byKind[cb.Kind()] = cb
	return nil
}

func (s *Set) Lookup(kind Kind) (Callback, error) {
	cb, ok := s.byKind[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, kind)
	}
	return cb, nil
}

func (s *Set) Kinds() []Kind {
	kinds := make([]Kind, 0, len(s.callbacks))
	for _, cb := range s.callbacks {
		kinds = append(kinds, cb.Kind())
	}
	return kinds
}

func (s *Set) Len() int {
	return len(s.callbacks)
}

// Runs reports how many invocations completed through this set.
func (s *Set) Runs() int {
	return s.runs
}

// Invoke resets every callback, runs fn once and feeds its output to every
// callback before recording. On error the callbacks are left reset.
func (s *Set) Invoke(ctx context.Context, fn func(ctx context.Context) (model.Output, error)) (Records, error) {
	for _, cb := range s.callbacks {
		cb.Reset()
	}
	out, err := fn(ctx)
	if err != nil {
		return Records{}, err
	}
	if out.Vm == nil || out.Vm.NumDims() != 3 {
		return Records{}, ErrBadOutput
	}
	for _, cb := range s.callbacks {
		cb.Observe(out)
	}
	s.runs++

	records := NewRecords()
	for _, cb := range s.callbacks {
		records.Put(cb.Kind(), cb.Record())
	}
	return records, nil
}
