package storage

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"axonbatch/internal/callback"
	"axonbatch/internal/model"
)

var ErrInvalidID = errors.New("invalid identifier")

// ArrayName maps a callback kind to its persisted array name.
func ArrayName(kind callback.Kind) string {
	switch kind {
	case callback.KindAPCount:
		return "ap_count"
	case callback.KindVm:
		return "Vm"
	case callback.KindLatency:
		return "ap_latency"
	case callback.KindSfap:
		return "sfap"
	default:
		return strings.ToLower(string(kind))
	}
}

// FromRecords flattens callback records into named arrays under prefix.
// Unset values are omitted so a missing array means no signal.
func FromRecords(prefix string, records callback.Records) []model.NamedArray {
	var out []model.NamedArray
	for _, kind := range records.Order {
		out = appendValue(out, joinName(prefix, ArrayName(kind)), records.Values[kind])
	}
	return out
}

func appendValue(out []model.NamedArray, name string, v callback.Value) []model.NamedArray {
	switch tv := v.(type) {
	case callback.Scalar:
		return append(out, model.NamedArray{Name: name, DType: model.DTypeFloat64, Values: []float64{float64(tv)}})
	case callback.Count:
		return append(out, model.NamedArray{Name: name, DType: model.DTypeInt64, Values: []float64{float64(tv)}})
	case callback.Array:
		if tv.Float32 == nil {
			return out
		}
		values := make([]float64, len(tv.Values))
		for i, x := range tv.Values {
			values[i] = float64(x)
		}
		shape := append([]int(nil), tv.Shapes()...)
		return append(out, model.NamedArray{Name: name, DType: model.DTypeFloat32, Shape: shape, Values: values})
	case callback.Batch:
		for i, item := range tv {
			out = appendValue(out, fmt.Sprintf("%s_%d", name, i), item)
		}
		return out
	default:
		return out
	}
}

// ScalarArray builds a float64 scalar entry such as a threshold.
func ScalarArray(name string, v float64) model.NamedArray {
	return model.NamedArray{Name: name, DType: model.DTypeFloat64, Values: []float64{v}}
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "/" + name
}

// ValidateID rejects ids that cannot be used as a file name.
func ValidateID(id string) error {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || path.Clean(id) != id {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}
