package storage

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/flate"

	"axonbatch/internal/logging"
	"axonbatch/internal/model"
)

const (
	archiveExt  = ".npz"
	runFileName = "run.json"
)

// ArchiveStore writes one compressed NumPy archive per fiber to
// <root>/<run id>/<fiber id>.npz, readable with numpy.load.
type ArchiveStore struct {
	root   string
	Logger *slog.Logger

	mu sync.Mutex
}

func NewArchiveStore(root string) *ArchiveStore {
	return &ArchiveStore{root: root}
}

func (s *ArchiveStore) Root() string {
	return s.root
}

func (s *ArchiveStore) Init(_ context.Context) error {
	if s.root == "" {
		return errors.New("archive root is required")
	}
	return os.MkdirAll(s.root, 0o755)
}

func (s *ArchiveStore) runDir(runID string) (string, error) {
	if err := ValidateID(runID); err != nil {
		return "", err
	}
	return filepath.Join(s.root, runID), nil
}

// FiberPath returns the archive path of a fiber result.
func (s *ArchiveStore) FiberPath(runID, fiberID string) (string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return "", err
	}
	if err := ValidateID(fiberID); err != nil {
		return "", err
	}
	return filepath.Join(dir, fiberID+archiveExt), nil
}

func (s *ArchiveStore) SaveFiberResult(_ context.Context, result model.FiberResult) error {
	path, err := s.FiberPath(result.RunID, result.FiberID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+result.FiberID+"-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := writeArchive(tmp, result.Arrays); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	logging.OrDiscard(s.Logger).Info("saved fiber result", "path", path, "size", humanize.Bytes(uint64(info.Size())), "arrays", len(result.Arrays))
	return nil
}

func writeArchive(w io.Writer, arrays []model.NamedArray) error {
	zw := zip.NewWriter(w)
	zw.RegisterCompressor(zip.Deflate, func(out io.Writer) (io.WriteCloser, error) {
		return flate.NewWriter(out, flate.BestCompression)
	})
	for _, a := range arrays {
		entry, err := zw.CreateHeader(&zip.FileHeader{Name: a.Name + ".npy", Method: zip.Deflate})
		if err != nil {
			return err
		}
		if err := writeNPY(entry, a); err != nil {
			return err
		}
	}
	return zw.Close()
}

func (s *ArchiveStore) GetFiberResult(_ context.Context, runID, fiberID string) (model.FiberResult, bool, error) {
	path, err := s.FiberPath(runID, fiberID)
	if err != nil {
		return model.FiberResult{}, false, err
	}
	zr, err := zip.OpenReader(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.FiberResult{}, false, nil
		}
		return model.FiberResult{}, false, err
	}
	defer zr.Close()
	zr.RegisterDecompressor(zip.Deflate, flate.NewReader)

	result := model.FiberResult{VersionedRecord: currentVersion(), RunID: runID, FiberID: fiberID}
	for _, f := range zr.File {
		name := strings.TrimSuffix(f.Name, ".npy")
		rc, err := f.Open()
		if err != nil {
			return model.FiberResult{}, false, err
		}
		a, err := readNPY(rc, name)
		_ = rc.Close()
		if err != nil {
			return model.FiberResult{}, false, fmt.Errorf("read %s in %s: %w", f.Name, path, err)
		}
		result.Arrays = append(result.Arrays, a)
	}
	return result, true, nil
}

func (s *ArchiveStore) ListFiberResults(_ context.Context, runID string) ([]string, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), archiveExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), archiveExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *ArchiveStore) SaveRun(_ context.Context, run model.RunRecord) error {
	dir, err := s.runDir(run.ID)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := EncodeRun(run)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, runFileName), append(data, '\n'), 0o644)
}

func (s *ArchiveStore) GetRun(_ context.Context, runID string) (model.RunRecord, bool, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return model.RunRecord{}, false, err
	}
	data, err := os.ReadFile(filepath.Join(dir, runFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return model.RunRecord{}, false, nil
		}
		return model.RunRecord{}, false, err
	}
	run, err := DecodeRun(data)
	if err != nil {
		return model.RunRecord{}, false, fmt.Errorf("decode run %s: %w", runID, err)
	}
	return run, true, nil
}

func (s *ArchiveStore) ListRuns(ctx context.Context) ([]model.RunRecord, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var runs []model.RunRecord
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		run, ok, err := s.GetRun(ctx, e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			runs = append(runs, run)
		}
	}
	sortRuns(runs)
	return runs, nil
}

func (s *ArchiveStore) DeleteRun(_ context.Context, runID string) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	return os.RemoveAll(dir)
}
