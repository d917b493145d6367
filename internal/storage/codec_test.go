package storage

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"axonbatch/internal/model"
)

func TestDecodeFiberResultFixture(t *testing.T) {
	data := readFixture(t, "fiber_result_v1.json")

	result, err := DecodeFiberResult(data)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if result.RunID != "run-fixture-1" || result.FiberID != "fiber-0" {
		t.Fatalf("unexpected ids: %s/%s", result.RunID, result.FiberID)
	}
	vm, ok := result.Array("Vm")
	if !ok {
		t.Fatal("expected Vm array")
	}
	if !reflect.DeepEqual(vm.Shape, []int{2, 3}) || vm.Values[5] != 20 {
		t.Fatalf("unexpected Vm array: %+v", vm)
	}
	if _, ok := result.Array("sfap"); ok {
		t.Fatal("fixture has no sfap array")
	}
}

func TestDecodeRunFixture(t *testing.T) {
	run, err := DecodeRun(readFixture(t, "run_v1.json"))
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	if run.Protocol != "block" || run.Evaluations != 4 {
		t.Fatalf("unexpected run: %+v", run)
	}
	if run.Found == nil || !*run.Found || run.Amplitude == nil || *run.Amplitude != 4 {
		t.Fatalf("unexpected threshold outcome: found=%v amp=%v", run.Found, run.Amplitude)
	}
}

func TestFiberResultRoundTrip(t *testing.T) {
	in := model.FiberResult{
		VersionedRecord: currentVersion(),
		RunID:           "r1",
		FiberID:         "f1",
		Arrays: []model.NamedArray{
			ScalarArray("threshold", -20),
			{Name: "Vm", DType: model.DTypeFloat32, Shape: []int{1, 2}, Values: []float64{-80, 30}},
		},
	}
	data, err := EncodeFiberResult(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeFiberResult(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(in, out) {
		t.Fatalf("round trip mismatch:\n in=%+v\nout=%+v", in, out)
	}
}

func TestDecodeRejectsVersionMismatch(t *testing.T) {
	data := []byte(`{"schema_version": 99, "codec_version": 1, "run_id": "r", "fiber_id": "f"}`)
	if _, err := DecodeFiberResult(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
	data = []byte(`{"schema_version": 1, "codec_version": 7, "id": "r"}`)
	if _, err := DecodeRun(data); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected version mismatch, got %v", err)
	}
}

func fixturePath(name string) string {
	return filepath.Join("..", "..", "testdata", "fixtures", name)
}

func readFixture(t *testing.T, name string) []byte {
	t.Helper()

	data, err := os.ReadFile(fixturePath(name))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	return data
}
