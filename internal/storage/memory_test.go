package storage

import (
	"context"
	"errors"
	"testing"

	"axonbatch/internal/model"
)

func sampleResult(runID, fiberID string) model.FiberResult {
	return model.FiberResult{
		VersionedRecord: currentVersion(),
		RunID:           runID,
		FiberID:         fiberID,
		Arrays: []model.NamedArray{
			{Name: "ap_count", DType: model.DTypeInt64, Values: []float64{2}},
			{Name: "Vm", DType: model.DTypeFloat32, Shape: []int{2, 2}, Values: []float64{-80, -80, 10, 20}},
		},
	}
}

func TestMemoryStoreFiberResultRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}

	in := sampleResult("run-1", "fiber-b")
	if err := store.SaveFiberResult(ctx, in); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.SaveFiberResult(ctx, sampleResult("run-1", "fiber-a")); err != nil {
		t.Fatalf("save: %v", err)
	}

	out, ok, err := store.GetFiberResult(ctx, "run-1", "fiber-b")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !ok {
		t.Fatal("expected persisted result")
	}
	vm, _ := out.Array("Vm")
	if len(vm.Values) != 4 || vm.Values[3] != 20 {
		t.Fatalf("unexpected Vm: %+v", vm)
	}

	vm.Values[0] = 999
	again, _, _ := store.GetFiberResult(ctx, "run-1", "fiber-b")
	if got, _ := again.Array("Vm"); got.Values[0] != -80 {
		t.Fatal("store must not share array storage with callers")
	}

	ids, err := store.ListFiberResults(ctx, "run-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(ids) != 2 || ids[0] != "fiber-b" || ids[1] != "fiber-a" {
		t.Fatalf("expected insertion order, got %v", ids)
	}

	if _, ok, _ := store.GetFiberResult(ctx, "run-2", "fiber-b"); ok {
		t.Fatal("results must be scoped by run")
	}
}

func TestMemoryStoreRequiresInit(t *testing.T) {
	store := NewMemoryStore()
	err := store.SaveFiberResult(context.Background(), sampleResult("run-1", "f"))
	if !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected not initialized, got %v", err)
	}
}

func TestMemoryStoreRejectsBadFiberID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, id := range []string{"", "..", "a/b"} {
		if err := store.SaveFiberResult(ctx, sampleResult("run-1", id)); !errors.Is(err, ErrInvalidID) {
			t.Fatalf("id %q: expected invalid id, got %v", id, err)
		}
	}
}

func TestMemoryStoreRunsNewestFirst(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, run := range []model.RunRecord{
		{VersionedRecord: currentVersion(), ID: "old", CreatedAtUTC: "2026-01-01T00:00:00Z"},
		{VersionedRecord: currentVersion(), ID: "new", CreatedAtUTC: "2026-02-01T00:00:00Z"},
	} {
		if err := store.SaveRun(ctx, run); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "new" || runs[1].ID != "old" {
		t.Fatalf("unexpected run order: %+v", runs)
	}
	if _, ok, _ := store.GetRun(ctx, "missing"); ok {
		t.Fatal("expected missing run")
	}
}

func checkDeleteRun(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	for _, runID := range []string{"run-1", "run-2"} {
		if err := store.SaveFiberResult(ctx, sampleResult(runID, "f0")); err != nil {
			t.Fatalf("save result: %v", err)
		}
		if err := store.SaveRun(ctx, model.RunRecord{VersionedRecord: currentVersion(), ID: runID, CreatedAtUTC: "2026-01-01T00:00:00.000000000Z"}); err != nil {
			t.Fatalf("save run: %v", err)
		}
	}

	if err := store.DeleteRun(ctx, "run-1"); err != nil {
		t.Fatalf("delete run: %v", err)
	}
	if ids, err := store.ListFiberResults(ctx, "run-1"); err != nil || len(ids) != 0 {
		t.Fatalf("expected no results for deleted run, got %v err=%v", ids, err)
	}
	if _, ok, err := store.GetRun(ctx, "run-1"); err != nil || ok {
		t.Fatalf("expected deleted run record, ok=%v err=%v", ok, err)
	}
	if _, ok, err := store.GetFiberResult(ctx, "run-2", "f0"); err != nil || !ok {
		t.Fatalf("other runs must survive, ok=%v err=%v", ok, err)
	}
	if err := store.DeleteRun(ctx, "never-saved"); err != nil {
		t.Fatalf("deleting an unknown run must succeed: %v", err)
	}
}

func TestMemoryStoreDeleteRun(t *testing.T) {
	store := NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	checkDeleteRun(t, store)
}
