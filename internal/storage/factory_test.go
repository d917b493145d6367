package storage

import "testing"

func TestNewStoreMemory(t *testing.T) {
	store, err := NewStore("memory", "")
	if err != nil {
		t.Fatalf("new memory store: %v", err)
	}
	if store == nil {
		t.Fatal("expected non-nil store")
	}
}

func TestNewStoreArchive(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(KindArchive, dir)
	if err != nil {
		t.Fatalf("new archive store: %v", err)
	}
	archive, ok := store.(*ArchiveStore)
	if !ok || archive.Root() != dir {
		t.Fatalf("unexpected store %#v", store)
	}
	if err := CloseIfSupported(store); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestNewStoreUnsupported(t *testing.T) {
	_, err := NewStore("unknown", "")
	if err == nil {
		t.Fatal("expected unsupported store error")
	}
}

func TestDefaultStoreKind(t *testing.T) {
	t.Setenv("AXONBATCH_STORE", "")
	if got := DefaultStoreKind(); got != KindArchive {
		t.Fatalf("expected archive default, got %q", got)
	}
	t.Setenv("AXONBATCH_STORE", KindMemory)
	if got := DefaultStoreKind(); got != KindMemory {
		t.Fatalf("expected env override, got %q", got)
	}
}
