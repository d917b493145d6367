package main

import (
	"encoding/json"
	"fmt"
	"os"

	"axonbatch/internal/model"
)

// fiberFile is the on-disk fiber list. Ve is row major [steps][nodes].
type fiberFile struct {
	Fibers []fiberEntry `json:"fibers"`
}

type fiberEntry struct {
	ID    string    `json:"id"`
	Diam  float64   `json:"diam"`
	Steps int       `json:"steps"`
	Nodes int       `json:"nodes"`
	Ve    []float32 `json:"ve"`
}

func loadFibers(path string) ([]model.Fiber, error) {
	if path == "" {
		return nil, fmt.Errorf("--fibers is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading fiber file: %w", err)
	}
	var file fiberFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing fiber file: %w", err)
	}
	if len(file.Fibers) == 0 {
		return nil, fmt.Errorf("fiber file %s: %w", path, model.ErrEmptyBatch)
	}

	fibers := make([]model.Fiber, 0, len(file.Fibers))
	for i, e := range file.Fibers {
		if e.ID == "" {
			e.ID = fmt.Sprintf("fiber-%d", i)
		}
		if e.Steps <= 0 || e.Nodes <= 0 || len(e.Ve) != e.Steps*e.Nodes {
			return nil, fmt.Errorf("fiber %s: ve holds %d values, want steps*nodes = %d*%d: %w", e.ID, len(e.Ve), e.Steps, e.Nodes, model.ErrBadStimulus)
		}
		ve := model.NewStimulus(e.Steps, e.Nodes)
		copy(ve.Values, e.Ve)
		fibers = append(fibers, model.Fiber{ID: e.ID, Ve: ve, Diam: e.Diam})
	}
	return fibers, nil
}

// pickFiber selects the fiber named id, or the only fiber when id is empty.
func pickFiber(fibers []model.Fiber, id string) (model.Fiber, error) {
	if id == "" {
		if len(fibers) != 1 {
			return model.Fiber{}, fmt.Errorf("--fiber is required when the file holds %d fibers", len(fibers))
		}
		return fibers[0], nil
	}
	for _, f := range fibers {
		if f.ID == id {
			return f, nil
		}
	}
	return model.Fiber{}, fmt.Errorf("fiber %s not found", id)
}
