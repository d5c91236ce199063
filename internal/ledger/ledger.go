// Package ledger is the append-only history of analyses. Every mutation is a
// whole-ledger read-modify-write that holds the store's own write lock, so
// processes sharing one store never observe or produce a partial ledger and
// never overwrite each other's records.
package ledger

import (
	"context"
	"slices"
	"sync"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
)

// UpdateFunc receives the stored records and the error of loading them and
// returns the records to store. Nothing is written unless save is true.
type UpdateFunc func(records []model.AnalysisRecord, loadErr error) (updated []model.AnalysisRecord, save bool, err error)

// Backend persists the whole ledger, newest record first.
type Backend interface {
	// Load returns the stored records. A missing store is reported with an
	// error in the not-found category, a corrupt one in the ledger category.
	Load(ctx context.Context) ([]model.AnalysisRecord, error)
	// Update runs fn between a load and a save while holding a lock that
	// excludes writers in other processes.
	Update(ctx context.Context, fn UpdateFunc) error
	Close() error
}

// MediaRemover deletes the files a record references.
type MediaRemover interface {
	RemoveRecordMedia(rec *model.AnalysisRecord) (removed, failed int)
}

// PurgeResult summarizes a cascading delete.
type PurgeResult struct {
	Records      int
	FilesRemoved int
	FileFailures int
}

// Ledger guards a Backend with a mutex.
type Ledger struct {
	mu      sync.Mutex
	backend Backend
	metrics *metrics.LedgerMetrics
	log     logger.Logger
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithMetrics records ledger operations.
func WithMetrics(m *metrics.LedgerMetrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithLogger replaces the module logger.
func WithLogger(log logger.Logger) Option {
	return func(l *Ledger) { l.log = log }
}

// GetLogger returns the ledger module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("ledger")
}

// New wraps backend.
func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{backend: backend}
	for _, opt := range opts {
		opt(l)
	}
	if l.log == nil {
		l.log = GetLogger()
	}
	return l
}

// load reads the backend for a read-only operation. Any failure yields an
// empty ledger: a missing store silently, anything else with a warning and a
// failure count.
func (l *Ledger) load(ctx context.Context) []model.AnalysisRecord {
	records, err := l.recover(l.backend.Load(ctx))
	if err != nil {
		return []model.AnalysisRecord{}
	}
	return records
}

// recover applies the load error policy. A missing store is empty, a corrupt
// one is empty after a warning. Other failures, such as a busy database or a
// dropped connection, are returned so a mutation never replaces the stored
// records with a ledger it could not read.
func (l *Ledger) recover(records []model.AnalysisRecord, err error) ([]model.AnalysisRecord, error) {
	switch {
	case err == nil:
	case errors.IsNotFound(err):
		return []model.AnalysisRecord{}, nil
	case errors.IsCategory(err, errors.CategoryLedger):
		l.metrics.RecordLoadFailure()
		l.log.Warn("ledger corrupt, continuing with an empty ledger", logger.Error(err))
		return []model.AnalysisRecord{}, nil
	default:
		l.metrics.RecordLoadFailure()
		l.log.Warn("ledger unreadable", logger.Error(err))
		return nil, err
	}
	for i := range records {
		records[i].Normalize()
	}
	l.metrics.SetRecords(len(records))
	return records, nil
}

// mutate runs fn on the current records under the backend's write lock.
// Callers hold l.mu.
func (l *Ledger) mutate(ctx context.Context, fn func(records []model.AnalysisRecord) ([]model.AnalysisRecord, bool, error)) error {
	var stored int
	err := l.backend.Update(ctx, func(records []model.AnalysisRecord, loadErr error) ([]model.AnalysisRecord, bool, error) {
		records, err := l.recover(records, loadErr)
		if err != nil {
			return nil, false, err
		}
		updated, save, err := fn(records)
		stored = len(updated)
		return updated, save, err
	})
	if err != nil {
		var ee *errors.EnhancedError
		if errors.As(err, &ee) {
			return err
		}
		return errors.New(err).
			Component("ledger").
			Category(errors.CategoryDatabase).
			Build()
	}
	l.metrics.SetRecords(stored)
	return nil
}

// Append inserts rec at the head. A record whose id is already present is
// rejected with a conflict error and the ledger is left unchanged.
func (l *Ledger) Append(ctx context.Context, rec model.AnalysisRecord) (err error) {
	defer func() { l.metrics.RecordOperation("append", err) }()

	if rec.ID == "" {
		return errors.Newf("record has no id").
			Component("ledger").
			Category(errors.CategoryValidation).
			Build()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	return l.mutate(ctx, func(records []model.AnalysisRecord) ([]model.AnalysisRecord, bool, error) {
		if slices.ContainsFunc(records, func(r model.AnalysisRecord) bool { return r.ID == rec.ID }) {
			return nil, false, errors.Newf("record %s already exists", rec.ID).
				Component("ledger").
				Category(errors.CategoryConflict).
				Context("id", rec.ID).
				Build()
		}
		stored := rec.Clone()
		stored.Normalize()
		return append([]model.AnalysisRecord{stored}, records...), true, nil
	})
}

// ListAll returns every record, newest first.
func (l *Ledger) ListAll(ctx context.Context) []model.AnalysisRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.RecordOperation("list", nil)
	return l.load(ctx)
}

// Get returns the record with id.
func (l *Ledger) Get(ctx context.Context, id string) (model.AnalysisRecord, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.RecordOperation("get", nil)

	for _, r := range l.load(ctx) {
		if r.ID == id {
			return r, true
		}
	}
	return model.AnalysisRecord{}, false
}

// GetByIDs returns the records whose id is in ids, in ledger order. Unknown
// ids are ignored.
func (l *Ledger) GetByIDs(ctx context.Context, ids []string) []model.AnalysisRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.metrics.RecordOperation("get", nil)
	return filterByID(l.load(ctx), idSet(ids), true)
}

// DeleteByIDs removes the records whose id is in ids and returns how many were
// removed. Deleting absent ids is not an error, and the ledger is only
// rewritten when something was removed.
func (l *Ledger) DeleteByIDs(ctx context.Context, ids []string) (n int, err error) {
	defer func() { l.metrics.RecordOperation("delete", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	set := idSet(ids)
	err = l.mutate(ctx, func(records []model.AnalysisRecord) ([]model.AnalysisRecord, bool, error) {
		kept := filterByID(records, set, false)
		n = len(records) - len(kept)
		return kept, n > 0, nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Purge removes the media of every matching record, then the records
// themselves. Media failures are counted and never stop the removal.
func (l *Ledger) Purge(ctx context.Context, ids []string, media MediaRemover) (res PurgeResult, err error) {
	defer func() { l.metrics.RecordOperation("purge", err) }()

	l.mu.Lock()
	defer l.mu.Unlock()

	set := idSet(ids)
	err = l.mutate(ctx, func(records []model.AnalysisRecord) ([]model.AnalysisRecord, bool, error) {
		targets := filterByID(records, set, true)
		if media != nil {
			for i := range targets {
				removed, failed := media.RemoveRecordMedia(&targets[i])
				res.FilesRemoved += removed
				res.FileFailures += failed
			}
		}
		res.Records = len(targets)
		return filterByID(records, set, false), len(targets) > 0, nil
	})
	if err != nil {
		return PurgeResult{}, err
	}

	l.metrics.RecordPurge(res.Records, res.FilesRemoved, res.FileFailures)
	l.log.Info("records purged",
		logger.Int("records", res.Records),
		logger.Int("files_removed", res.FilesRemoved),
		logger.Int("file_failures", res.FileFailures))
	return res, nil
}

// Close closes the backend.
func (l *Ledger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.backend.Close()
}

func idSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}

func filterByID(records []model.AnalysisRecord, ids map[string]struct{}, keepMatches bool) []model.AnalysisRecord {
	out := make([]model.AnalysisRecord, 0, len(records))
	for _, r := range records {
		if _, ok := ids[r.ID]; ok == keepMatches {
			out = append(out, r)
		}
	}
	return out
}
