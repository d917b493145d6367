package storage

import (
	"context"

	"axonbatch/internal/model"
)

// Store persists per-fiber extraction results and run summaries.
type Store interface {
	Init(ctx context.Context) error
	SaveFiberResult(ctx context.Context, result model.FiberResult) error
	GetFiberResult(ctx context.Context, runID, fiberID string) (model.FiberResult, bool, error)
	ListFiberResults(ctx context.Context, runID string) ([]string, error)
	SaveRun(ctx context.Context, run model.RunRecord) error
	GetRun(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRuns(ctx context.Context) ([]model.RunRecord, error)
	// DeleteRun removes a run record and every fiber result saved under it.
	DeleteRun(ctx context.Context, runID string) error
}
