package storage

import (
	"errors"
	"fmt"
	"io"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"

	"axonbatch/internal/model"
)

var ErrNPYFormat = errors.New("malformed npy data")

func elementCount(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// writeNPY encodes a as a .npy entry. Scalars and vectors keep their dtype;
// matrices are written as float64 so numpy sees the full (rows, cols) shape.
// An empty matrix is written as an empty float32 vector.
func writeNPY(w io.Writer, a model.NamedArray) error {
	if elementCount(a.Shape) != len(a.Values) {
		return fmt.Errorf("array %s: shape %v does not hold %d values", a.Name, a.Shape, len(a.Values))
	}
	switch a.DType {
	case model.DTypeFloat32, model.DTypeFloat64, model.DTypeInt64:
	default:
		return fmt.Errorf("array %s: unsupported dtype %q", a.Name, a.DType)
	}

	switch len(a.Shape) {
	case 0:
		if a.DType == model.DTypeInt64 {
			return npyio.Write(w, int64(a.Values[0]))
		}
		if a.DType == model.DTypeFloat32 {
			return npyio.Write(w, float32(a.Values[0]))
		}
		return npyio.Write(w, a.Values[0])
	case 1:
		return npyio.Write(w, vector(a))
	case 2:
		if len(a.Values) == 0 {
			return npyio.Write(w, []float32{})
		}
		return npyio.Write(w, mat.NewDense(a.Shape[0], a.Shape[1], append([]float64(nil), a.Values...)))
	default:
		return fmt.Errorf("array %s: %d dimensions unsupported", a.Name, len(a.Shape))
	}
}

func vector(a model.NamedArray) any {
	switch a.DType {
	case model.DTypeFloat32:
		out := make([]float32, len(a.Values))
		for i, v := range a.Values {
			out[i] = float32(v)
		}
		return out
	case model.DTypeInt64:
		out := make([]int64, len(a.Values))
		for i, v := range a.Values {
			out[i] = int64(v)
		}
		return out
	default:
		return append([]float64(nil), a.Values...)
	}
}

func dtypeFromDescr(descr string) (string, error) {
	switch descr {
	case "<f4":
		return model.DTypeFloat32, nil
	case "<f8":
		return model.DTypeFloat64, nil
	case "<i8":
		return model.DTypeInt64, nil
	default:
		return "", fmt.Errorf("%w: unsupported descr %q", ErrNPYFormat, descr)
	}
}

func readNPY(r io.Reader, name string) (model.NamedArray, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return model.NamedArray{}, fmt.Errorf("%w: %v", ErrNPYFormat, err)
	}
	if nr.Header.Descr.Fortran {
		return model.NamedArray{}, fmt.Errorf("%w: fortran order unsupported", ErrNPYFormat)
	}
	dtype, err := dtypeFromDescr(nr.Header.Descr.Type)
	if err != nil {
		return model.NamedArray{}, err
	}
	shape := append([]int(nil), nr.Header.Descr.Shape...)
	out := model.NamedArray{Name: name, DType: dtype, Shape: shape}

	switch len(shape) {
	case 0:
		out.Values, err = readScalar(nr, dtype)
	case 1:
		out.Values, err = readVector(nr, dtype)
	case 2:
		if dtype != model.DTypeFloat64 {
			return model.NamedArray{}, fmt.Errorf("%w: matrix dtype %s", ErrNPYFormat, dtype)
		}
		var m mat.Dense
		if err = nr.Read(&m); err == nil {
			out.Values = make([]float64, 0, shape[0]*shape[1])
			for i := 0; i < shape[0]; i++ {
				for j := 0; j < shape[1]; j++ {
					out.Values = append(out.Values, m.At(i, j))
				}
			}
		}
	default:
		return model.NamedArray{}, fmt.Errorf("%w: %d dimensions unsupported", ErrNPYFormat, len(shape))
	}
	if err != nil {
		return model.NamedArray{}, err
	}
	return out, nil
}

func readScalar(nr *npyio.Reader, dtype string) ([]float64, error) {
	switch dtype {
	case model.DTypeFloat32:
		var v float32
		err := nr.Read(&v)
		return []float64{float64(v)}, err
	case model.DTypeInt64:
		var v int64
		err := nr.Read(&v)
		return []float64{float64(v)}, err
	default:
		var v float64
		err := nr.Read(&v)
		return []float64{v}, err
	}
}

func readVector(nr *npyio.Reader, dtype string) ([]float64, error) {
	switch dtype {
	case model.DTypeFloat32:
		var data []float32
		if err := nr.Read(&data); err != nil {
			return nil, err
		}
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	case model.DTypeInt64:
		var data []int64
		if err := nr.Read(&data); err != nil {
			return nil, err
		}
		out := make([]float64, len(data))
		for i, v := range data {
			out[i] = float64(v)
		}
		return out, nil
	default:
		var data []float64
		err := nr.Read(&data)
		return data, err
	}
}
