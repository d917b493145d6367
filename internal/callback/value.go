package callback

import "github.com/emer/etable/etensor"

// Value is a recorded extraction result. The set of implementations is
// closed: Unset, Scalar, Count, Array and Batch.
type Value interface {
	isValue()
}

// Unset reports that no qualifying event was observed. It is distinct from a
// zero Scalar or Count.
type Unset struct{}

// Scalar is a physical quantity such as a latency in ms.
type Scalar float64

// Count is a number of fired nodes.
type Count int

// Array wraps a tensor such as a voltage trace or an sfAP window.
type Array struct {
	*etensor.Float32
}

// Batch holds one value per fiber of the batch, in batch order.
type Batch []Value

func (Unset) isValue()  {}
func (Scalar) isValue() {}
func (Count) isValue()  {}
func (Array) isValue()  {}
func (Batch) isValue()  {}

func IsUnset(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Unset)
	return ok
}

// Truthy reports whether v signals firing: a non-zero scalar or count, a
// non-empty array, or a batch containing any truthy value.
func Truthy(v Value) bool {
	switch tv := v.(type) {
	case Scalar:
		return tv != 0
	case Count:
		return tv != 0
	case Array:
		return tv.Float32 != nil && tv.Len() > 0
	case Batch:
		for _, item := range tv {
			if Truthy(item) {
				return true
			}
		}
		return false
	default:
		return false
	}
}

// Fiber attributes v to batch position i of a batch of n fibers. A Batch whose
// length matches n is indexed; any other value is returned as-is.
func Fiber(v Value, i, n int) Value {
	if b, ok := v.(Batch); ok && len(b) == n && i >= 0 && i < n {
		return b[i]
	}
	if v == nil {
		return Unset{}
	}
	return v
}
