package storage

import (
	"context"
	"errors"
	"sort"
	"sync"

	"axonbatch/internal/model"
)

var ErrNotInitialized = errors.New("store is not initialized")

type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	results     map[string]map[string]model.FiberResult
	order       map[string][]string
	runs        map[string]model.RunRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.results = make(map[string]map[string]model.FiberResult)
	s.order = make(map[string][]string)
	s.runs = make(map[string]model.RunRecord)
	return nil
}

func (s *MemoryStore) SaveFiberResult(_ context.Context, result model.FiberResult) error {
	if err := ValidateID(result.FiberID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	byFiber, ok := s.results[result.RunID]
	if !ok {
		byFiber = make(map[string]model.FiberResult)
		s.results[result.RunID] = byFiber
	}
	if _, exists := byFiber[result.FiberID]; !exists {
		s.order[result.RunID] = append(s.order[result.RunID], result.FiberID)
	}
	byFiber[result.FiberID] = cloneResult(result)
	return nil
}

func (s *MemoryStore) GetFiberResult(_ context.Context, runID, fiberID string) (model.FiberResult, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result, ok := s.results[runID][fiberID]
	if !ok {
		return model.FiberResult{}, false, nil
	}
	return cloneResult(result), true, nil
}

func (s *MemoryStore) ListFiberResults(_ context.Context, runID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return append([]string(nil), s.order[runID]...), nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run model.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	return run, ok, nil
}

func (s *MemoryStore) ListRuns(_ context.Context) ([]model.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]model.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		runs = append(runs, run)
	}
	sortRuns(runs)
	return runs, nil
}

func (s *MemoryStore) DeleteRun(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	delete(s.results, runID)
	delete(s.order, runID)
	delete(s.runs, runID)
	return nil
}

func sortRuns(runs []model.RunRecord) {
	sort.Slice(runs, func(i, j int) bool {
		if runs[i].CreatedAtUTC != runs[j].CreatedAtUTC {
			return runs[i].CreatedAtUTC > runs[j].CreatedAtUTC
		}
		return runs[i].ID < runs[j].ID
	})
}

func cloneResult(r model.FiberResult) model.FiberResult {
	out := r
	out.Arrays = make([]model.NamedArray, len(r.Arrays))
	for i, a := range r.Arrays {
		a.Shape = append([]int(nil), a.Shape...)
		a.Values = append([]float64(nil), a.Values...)
		out.Arrays[i] = a
	}
	return out
}
