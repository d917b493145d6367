package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"axonbatch/internal/callback"
	"axonbatch/internal/logging"
	"axonbatch/internal/model"
	"axonbatch/internal/surrogate"
)

var (
	ErrDuplicateFiber = errors.New("duplicate fiber id")
	ErrModelRequired  = errors.New("model is required")
)

// Results maps fiber ids to their records, in batch iteration order.
// GroupLatency holds the earliest crossing across each group's batch when a
// latency logger is registered.
type Results struct {
	Order        []string
	ByFiber      map[string]callback.Records
	GroupLatency map[model.ShapeKey]callback.Value
}

func NewResults() Results {
	return Results{
		ByFiber:      make(map[string]callback.Records),
		GroupLatency: make(map[model.ShapeKey]callback.Value),
	}
}

func (r *Results) put(id string, rec callback.Records) error {
	if r.ByFiber == nil {
		r.ByFiber = make(map[string]callback.Records)
	}
	if _, exists := r.ByFiber[id]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateFiber, id)
	}
	r.Order = append(r.Order, id)
	r.ByFiber[id] = rec
	return nil
}

func (r Results) Len() int {
	return len(r.Order)
}

// SetFactory builds the callback set owned by one group run.
type SetFactory func(key model.ShapeKey) (*callback.Set, error)

// Runner executes one model invocation per shape-homogeneous group.
type Runner struct {
	Model  surrogate.Model
	DT     float64
	Logger *slog.Logger
}

// RunGroup runs the group in a single model call and attributes callback
// records back to each fiber by batch position.
func (r *Runner) RunGroup(ctx context.Context, group []model.Fiber, set *callback.Set) (Results, error) {
	if r.Model == nil {
		return Results{}, ErrModelRequired
	}
	in, err := model.StackFibers(group, r.DT)
	if err != nil {
		return Results{}, err
	}
	log := logging.OrDiscard(r.Logger)
	log.Debug("running batch", "key", group[0].Key().String(), "fibers", len(group), "steps", group[0].Steps())

	records, err := set.Invoke(ctx, func(ctx context.Context) (model.Output, error) {
		return r.Model.Run(ctx, in)
	})
	if err != nil {
		return Results{}, err
	}

	nf := len(group)
	results := NewResults()
	for i, f := range group {
		if err := results.put(f.ID, records.Fiber(i, nf)); err != nil {
			return Results{}, err
		}
	}
	if cb, err := set.Lookup(callback.KindLatency); err == nil {
		if latency, ok := cb.(*callback.LatencyLogger); ok {
			key := group[0].Key()
			results.GroupLatency[key] = latency.Latency()
			if ev, found := latency.First(); found {
				log.Debug("first crossing in batch", "key", key.String(), "fiber", group[ev.Fiber].ID, "step", ev.Step, "node", ev.Node)
			}
		}
	}
	return results, nil
}

// RunAll groups fibers by shape and runs every group sequentially, each with
// a fresh callback set.
func (r *Runner) RunAll(ctx context.Context, fibers []model.Fiber, newSet SetFactory) (Results, error) {
	groups := GroupByShape(fibers)
	log := logging.OrDiscard(r.Logger)
	log.Info("grouped fibers", "fibers", len(fibers), "groups", len(groups))

	results := NewResults()
	for _, key := range groups.Keys() {
		if err := ctx.Err(); err != nil {
			return Results{}, err
		}
		set, err := newSet(key)
		if err != nil {
			return Results{}, fmt.Errorf("callbacks for group %s: %w", key, err)
		}
		groupResults, err := r.RunGroup(ctx, groups[key], set)
		if err != nil {
			return Results{}, fmt.Errorf("run group %s: %w", key, err)
		}
		for _, id := range groupResults.Order {
			if err := results.put(id, groupResults.ByFiber[id]); err != nil {
				return Results{}, err
			}
		}
		for k, v := range groupResults.GroupLatency {
			results.GroupLatency[k] = v
		}
	}
	return results, nil
}
