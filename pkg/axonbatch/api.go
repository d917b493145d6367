package axonbatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"axonbatch/internal/batch"
	"axonbatch/internal/callback"
	"axonbatch/internal/logging"
	"axonbatch/internal/model"
	"axonbatch/internal/protocol"
	"axonbatch/internal/storage"
	"axonbatch/internal/surrogate"
)

const (
	defaultResultsDir = "results"
	defaultExportsDir = "exports"
	// Fixed width so run timestamps sort lexically.
	createdAtLayout = "2006-01-02T15:04:05.000000000Z"
)

// Protocol names recorded on each run.
const (
	ProtocolBatch      = "batch"
	ProtocolSweep      = "sweep"
	ProtocolBlock      = "block"
	ProtocolActivation = "activation"
	ProtocolBisect     = "bisect"
)

type Options struct {
	StoreKind string
	// StorePath is the archive root or sqlite file.
	StorePath string
	// Model defaults to the linear reference surrogate.
	Model  surrogate.Model
	Logger *slog.Logger
	// Trace, when set, receives one JSON line per threshold search invocation.
	Trace *logging.InvocationLog
}

type Client struct {
	store  storage.Store
	model  surrogate.Model
	logger *slog.Logger
	trace  *logging.InvocationLog

	initOnce sync.Once
	initErr  error
}

// Settings are the extraction parameters shared by every request.
type Settings struct {
	DT        float64
	Threshold float64
	Saving    callback.SavingConfig
}

type BatchRequest struct {
	RunID  string
	Fibers []model.Fiber
	Settings
}

type SweepRequest struct {
	RunID      string
	Fiber      model.Fiber
	Amplitudes []float64
	Settings
}

// ThresholdRequest drives a block or activation search over Amplitudes, or a
// bisection over [Lo, Hi].
type ThresholdRequest struct {
	RunID      string
	Fiber      model.Fiber
	Amplitudes []float64
	Lo         float64
	Hi         float64
	RelTol     float64
	MaxIter    int
	Settings
}

type RunSummary struct {
	RunID       string
	Protocol    string
	FiberIDs    []string
	Evaluations int
	Found       bool
	Amplitude   float64
	Label       string
}

type ResultsRequest struct {
	RunID  string
	Latest bool
}

type RunsRequest struct {
	Limit int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
	Fibers    int
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	storePath := opts.StorePath
	if storePath == "" {
		storePath = defaultResultsDir
	}
	m := opts.Model
	if m == nil {
		m = surrogate.NewLinear()
	}

	store, err := storage.NewStore(storeKind, storePath)
	if err != nil {
		return nil, err
	}
	if archive, ok := store.(*storage.ArchiveStore); ok {
		archive.Logger = opts.Logger
	}

	return &Client{
		store:  store,
		model:  m,
		logger: logging.OrDiscard(opts.Logger),
		trace:  opts.Trace,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

// RunBatch groups fibers by shape, runs each group through the model once and
// persists one result per fiber.
func (c *Client) RunBatch(ctx context.Context, req BatchRequest) (RunSummary, error) {
	if len(req.Fibers) == 0 {
		return RunSummary{}, model.ErrEmptyBatch
	}
	if err := validateSettings(req.Settings); err != nil {
		return RunSummary{}, err
	}
	for _, f := range req.Fibers {
		if err := storage.ValidateID(f.ID); err != nil {
			return RunSummary{}, err
		}
	}
	runID, err := c.prepare(ctx, req.RunID)
	if err != nil {
		return RunSummary{}, err
	}

	counting := surrogate.NewCounting(c.model)
	runner := batch.Runner{Model: counting, DT: req.DT, Logger: c.logger}
	results, err := runner.RunAll(ctx, req.Fibers, func(key model.ShapeKey) (*callback.Set, error) {
		return callback.FromSaving(req.Saving, req.Threshold, req.DT, key.Nodes)
	})
	if err != nil {
		return RunSummary{}, err
	}

	for _, id := range results.Order {
		arrays := storage.FromRecords("", results.ByFiber[id])
		if err := c.saveFiber(ctx, runID, id, arrays); err != nil {
			return RunSummary{}, c.discard(ctx, runID, err)
		}
	}

	summary := RunSummary{
		RunID:       runID,
		Protocol:    ProtocolBatch,
		FiberIDs:    append([]string(nil), results.Order...),
		Evaluations: counting.Calls(),
	}
	if err := c.saveRun(ctx, summary, req.Settings, nil); err != nil {
		return RunSummary{}, c.discard(ctx, runID, err)
	}
	return summary, nil
}

// RunSweep runs every amplitude on one fiber and persists all entries under
// their amplitude labels.
func (c *Client) RunSweep(ctx context.Context, req SweepRequest) (RunSummary, error) {
	if len(req.Amplitudes) == 0 {
		return RunSummary{}, errors.New("sweep requires at least one amplitude")
	}
	if err := validateRequestFiber(req.Fiber, req.Settings); err != nil {
		return RunSummary{}, err
	}
	runID, err := c.prepare(ctx, req.RunID)
	if err != nil {
		return RunSummary{}, err
	}
	set, err := callback.FromSaving(req.Saving, req.Threshold, req.DT, req.Fiber.Nodes())
	if err != nil {
		return RunSummary{}, err
	}

	p := c.protocol(req.DT)
	sweep, err := p.FiniteAmplitudes(ctx, req.Fiber, req.Amplitudes, set)
	if err != nil {
		return RunSummary{}, err
	}
	var arrays []model.NamedArray
	for _, e := range sweep.Entries {
		arrays = append(arrays, storage.FromRecords(e.Label, e.Records)...)
	}
	if err := c.saveFiber(ctx, runID, req.Fiber.ID, arrays); err != nil {
		return RunSummary{}, c.discard(ctx, runID, err)
	}

	summary := RunSummary{
		RunID:       runID,
		Protocol:    ProtocolSweep,
		FiberIDs:    []string{req.Fiber.ID},
		Evaluations: len(sweep.Entries),
	}
	if err := c.saveRun(ctx, summary, req.Settings, req.Amplitudes); err != nil {
		return RunSummary{}, c.discard(ctx, runID, err)
	}
	return summary, nil
}

func (c *Client) RunBlockThreshold(ctx context.Context, req ThresholdRequest) (RunSummary, error) {
	return c.runThreshold(ctx, ProtocolBlock, req)
}

func (c *Client) RunActivationThreshold(ctx context.Context, req ThresholdRequest) (RunSummary, error) {
	return c.runThreshold(ctx, ProtocolActivation, req)
}

func (c *Client) RunBisectThreshold(ctx context.Context, req ThresholdRequest) (RunSummary, error) {
	return c.runThreshold(ctx, ProtocolBisect, req)
}

func (c *Client) runThreshold(ctx context.Context, kind string, req ThresholdRequest) (RunSummary, error) {
	if kind != ProtocolBisect && len(req.Amplitudes) == 0 {
		return RunSummary{}, fmt.Errorf("%s search requires at least one amplitude", kind)
	}
	if err := validateRequestFiber(req.Fiber, req.Settings); err != nil {
		return RunSummary{}, err
	}
	runID, err := c.prepare(ctx, req.RunID)
	if err != nil {
		return RunSummary{}, err
	}
	set, err := callback.FromSaving(req.Saving, req.Threshold, req.DT, req.Fiber.Nodes())
	if err != nil {
		return RunSummary{}, err
	}

	p := c.protocol(req.DT)
	var result protocol.Threshold
	switch kind {
	case ProtocolBlock:
		result, err = p.BlockThreshold(ctx, req.Fiber, req.Amplitudes, set, callback.KindAPCount)
	case ProtocolActivation:
		result, err = p.ActivationThreshold(ctx, req.Fiber, req.Amplitudes, set, callback.KindAPCount)
	default:
		bounds := protocol.Bounds{Lo: req.Lo, Hi: req.Hi, RelTol: req.RelTol, MaxIter: req.MaxIter}
		result, err = p.BisectActivation(ctx, req.Fiber, bounds, set, callback.KindAPCount)
	}
	if err != nil {
		return RunSummary{}, err
	}

	var arrays []model.NamedArray
	if result.Found {
		arrays = append(arrays, storage.ScalarArray("threshold", result.Amplitude))
	}
	if err := c.saveFiber(ctx, runID, req.Fiber.ID, arrays); err != nil {
		return RunSummary{}, c.discard(ctx, runID, err)
	}

	summary := RunSummary{
		RunID:       runID,
		Protocol:    kind,
		FiberIDs:    []string{req.Fiber.ID},
		Evaluations: result.Evaluated,
		Found:       result.Found,
		Amplitude:   result.Amplitude,
		Label:       result.Label(),
	}
	if err := c.saveRun(ctx, summary, req.Settings, req.Amplitudes); err != nil {
		return RunSummary{}, c.discard(ctx, runID, err)
	}
	return summary, nil
}

// Results loads every persisted fiber result of a run.
func (c *Client) Results(ctx context.Context, req ResultsRequest) ([]model.FiberResult, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "results")
	if err != nil {
		return nil, err
	}
	return c.loadResults(ctx, runID)
}

// Export copies a run from the configured store into compressed NumPy
// archives under OutDir, whatever backend produced it.
func (c *Client) Export(ctx context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(ctx, req.RunID, req.Latest, "export")
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = defaultExportsDir
	}
	results, err := c.loadResults(ctx, runID)
	if err != nil {
		return ExportSummary{}, err
	}

	archive := storage.NewArchiveStore(req.OutDir)
	archive.Logger = c.logger
	if err := archive.Init(ctx); err != nil {
		return ExportSummary{}, err
	}
	for _, r := range results {
		if err := archive.SaveFiberResult(ctx, r); err != nil {
			return ExportSummary{}, fmt.Errorf("export fiber %s: %w", r.FiberID, err)
		}
	}
	if run, ok, err := c.store.GetRun(ctx, runID); err != nil {
		return ExportSummary{}, err
	} else if ok {
		if err := archive.SaveRun(ctx, run); err != nil {
			return ExportSummary{}, err
		}
	}
	return ExportSummary{
		RunID:     runID,
		Directory: filepath.Clean(filepath.Join(req.OutDir, runID)),
		Fibers:    len(results),
	}, nil
}

func (c *Client) resolveRunID(ctx context.Context, runID string, latest bool, what string) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	if latest {
		runs, err := c.store.ListRuns(ctx)
		if err != nil {
			return "", err
		}
		if len(runs) == 0 {
			return "", errors.New("no runs available")
		}
		runID = runs[0].ID
	}
	if runID == "" {
		return "", fmt.Errorf("%s requires run id or latest", what)
	}
	return runID, nil
}

func (c *Client) loadResults(ctx context.Context, runID string) ([]model.FiberResult, error) {
	ids, err := c.store.ListFiberResults(ctx, runID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, fmt.Errorf("results not found for run id: %s", runID)
	}
	out := make([]model.FiberResult, 0, len(ids))
	for _, id := range ids {
		result, ok, err := c.store.GetFiberResult(ctx, runID, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("result %s not found for run id: %s", id, runID)
		}
		out = append(out, result)
	}
	return out, nil
}

// Runs lists persisted runs, newest first.
func (c *Client) Runs(ctx context.Context, req RunsRequest) ([]model.RunRecord, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	if err := c.ensureStore(ctx); err != nil {
		return nil, err
	}
	runs, err := c.store.ListRuns(ctx)
	if err != nil {
		return nil, err
	}
	if req.Limit > 0 && len(runs) > req.Limit {
		runs = runs[:req.Limit]
	}
	return runs, nil
}

func (c *Client) protocol(dt float64) protocol.Protocol {
	return protocol.Protocol{Model: c.model, DT: dt, Logger: c.logger, Trace: c.trace}
}

func (c *Client) prepare(ctx context.Context, runID string) (string, error) {
	if runID == "" {
		runID = uuid.NewString()
	}
	if err := storage.ValidateID(runID); err != nil {
		return "", err
	}
	if err := c.ensureStore(ctx); err != nil {
		return "", err
	}
	return runID, nil
}

func (c *Client) ensureStore(ctx context.Context) error {
	c.initOnce.Do(func() {
		c.initErr = c.store.Init(ctx)
	})
	return c.initErr
}

func (c *Client) saveFiber(ctx context.Context, runID, fiberID string, arrays []model.NamedArray) error {
	result := model.FiberResult{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		RunID:   runID,
		FiberID: fiberID,
		Arrays:  arrays,
	}
	if err := c.store.SaveFiberResult(ctx, result); err != nil {
		return fmt.Errorf("save fiber %s: %w", fiberID, err)
	}
	return nil
}

func (c *Client) saveRun(ctx context.Context, summary RunSummary, settings Settings, amps []float64) error {
	run := model.RunRecord{
		VersionedRecord: model.VersionedRecord{
			SchemaVersion: storage.CurrentSchemaVersion,
			CodecVersion:  storage.CurrentCodecVersion,
		},
		ID:           summary.RunID,
		Protocol:     summary.Protocol,
		CreatedAtUTC: time.Now().UTC().Format(createdAtLayout),
		DT:           settings.DT,
		Threshold:    settings.Threshold,
		Amplitudes:   append([]float64(nil), amps...),
		FiberIDs:     summary.FiberIDs,
		Evaluations:  summary.Evaluations,
	}
	if summary.Protocol != ProtocolBatch && summary.Protocol != ProtocolSweep {
		found := summary.Found
		run.Found = &found
		if found {
			amp := summary.Amplitude
			run.Amplitude = &amp
		}
	}
	if err := c.store.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("save run %s: %w", summary.RunID, err)
	}
	c.logger.Info("run complete", "run", summary.RunID, "protocol", summary.Protocol, "fibers", len(summary.FiberIDs), "evaluations", summary.Evaluations)
	return nil
}

// discard removes whatever a failed run managed to persist, so a run is
// either complete with its record or absent.
func (c *Client) discard(ctx context.Context, runID string, cause error) error {
	if err := c.store.DeleteRun(ctx, runID); err != nil {
		return errors.Join(cause, fmt.Errorf("discard run %s: %w", runID, err))
	}
	c.logger.Warn("discarded partial run", "run", runID, "error", cause)
	return cause
}

func validateSettings(s Settings) error {
	if s.DT <= 0 {
		return fmt.Errorf("dt must be positive, got %g", s.DT)
	}
	return nil
}

func validateRequestFiber(f model.Fiber, s Settings) error {
	if err := validateSettings(s); err != nil {
		return err
	}
	if err := f.Validate(); err != nil {
		return err
	}
	return storage.ValidateID(f.ID)
}
