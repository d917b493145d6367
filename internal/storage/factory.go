package storage

import (
	"fmt"
	"os"
)

const (
	KindMemory  = "memory"
	KindArchive = "archive"
	KindSQLite  = "sqlite"
)

// DefaultStoreKind honours AXONBATCH_STORE and falls back to the archive store.
func DefaultStoreKind() string {
	if kind := os.Getenv("AXONBATCH_STORE"); kind != "" {
		return kind
	}
	return KindArchive
}

// NewStore builds a store backend. path is the archive root directory or the
// sqlite database file, depending on kind.
func NewStore(kind, path string) (Store, error) {
	switch kind {
	case "", KindMemory:
		return NewMemoryStore(), nil
	case KindArchive:
		return NewArchiveStore(path), nil
	case KindSQLite:
		return newSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
}

func CloseIfSupported(store Store) error {
	closer, ok := store.(interface{ Close() error })
	if !ok {
		return nil
	}
	return closer.Close()
}
