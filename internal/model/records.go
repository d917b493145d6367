package model

// Element types of a NamedArray.
const (
	DTypeFloat32 = "float32"
	DTypeFloat64 = "float64"
	DTypeInt64   = "int64"
)

// NamedArray is one persisted extraction. An empty Shape is a scalar.
type NamedArray struct {
	Name   string    `json:"name"`
	DType  string    `json:"dtype"`
	Shape  []int     `json:"shape"`
	Values []float64 `json:"values"`
}

// FiberResult is the persisted record of one fiber in one run.
type FiberResult struct {
	VersionedRecord
	RunID   string       `json:"run_id"`
	FiberID string       `json:"fiber_id"`
	Arrays  []NamedArray `json:"arrays"`
}

func (r FiberResult) Array(name string) (NamedArray, bool) {
	for _, a := range r.Arrays {
		if a.Name == name {
			return a, true
		}
	}
	return NamedArray{}, false
}

// RunRecord summarizes one protocol invocation.
type RunRecord struct {
	VersionedRecord
	ID           string    `json:"id"`
	Protocol     string    `json:"protocol"`
	CreatedAtUTC string    `json:"created_at_utc"`
	DT           float64   `json:"dt"`
	Threshold    float64   `json:"threshold"`
	Amplitudes   []float64 `json:"amplitudes,omitempty"`
	FiberIDs     []string  `json:"fiber_ids"`
	Evaluations  int       `json:"evaluations"`
	Found        *bool     `json:"found,omitempty"`
	Amplitude    *float64  `json:"amplitude,omitempty"`
}
