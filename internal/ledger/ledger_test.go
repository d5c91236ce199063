package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/model"
	"github.com/ecoscout/ecoscout-go/internal/observability/metrics"
)

func testRecord(id string, minute int) model.AnalysisRecord {
	frame := 5
	ts := 0.2
	frames := 23
	return model.AnalysisRecord{
		ID:                id,
		Status:            model.StatusSuccess,
		CreatedAt:         model.Timestamp{Time: time.Date(2024, 5, 1, 10, minute, 0, 0, time.UTC)},
		OriginalFile:      id + ".mp4",
		AnnotatedVideoURL: "http://localhost:8000/results/annotated_" + id + ".mp4",
		FrameCount:        &frames,
		Message:           model.MessageVideoProcessed,
		Detections: []model.DetectionRecord{{
			ViolationType: "smoke",
			Confidence:    91,
			BBox:          model.BBox{1, 2, 3, 4},
			LicensePlate:  model.PlateUnknown,
			Frame:         &frame,
			Timestamp:     &ts,
			FrameImageURL: "http://localhost:8000/results/frame_" + id + "_5.jpg",
		}},
	}
}

func newJSONLedger(t *testing.T) (*Ledger, *JSONBackend) {
	t.Helper()
	backend, err := NewJSONBackend(filepath.Join(t.TempDir(), "data", "history.json"))
	require.NoError(t, err)
	return New(backend), backend
}

func ids(records []model.AnalysisRecord) []string {
	out := make([]string, len(records))
	for i := range records {
		out[i] = records[i].ID
	}
	return out
}

func TestAppend_NewestFirst(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Append(ctx, testRecord("a", 1)))
	require.NoError(t, l.Append(ctx, testRecord("b", 2)))

	all := l.ListAll(ctx)
	assert.Equal(t, []string{"b", "a"}, ids(all))
	assert.Equal(t, testRecord("b", 2), all[0])
}

func TestAppend_DuplicateIDConflict(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, testRecord("a", 1)))

	changed := testRecord("a", 9)
	changed.Status = model.StatusFailed
	err := l.Append(ctx, changed)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryConflict))

	rec, ok := l.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, model.StatusSuccess, rec.Status)
	assert.Len(t, l.ListAll(ctx), 1)
}

func TestAppend_RejectsEmptyID(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	err := l.Append(context.Background(), model.AnalysisRecord{})
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestAppend_NilDetectionsStoredEmpty(t *testing.T) {
	t.Parallel()

	l, backend := newJSONLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, model.AnalysisRecord{ID: "x", Status: model.StatusSuccess}))

	data, err := os.ReadFile(backend.Path())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"detections": []`)
}

func TestAppend_DoesNotAliasCallerRecord(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()
	rec := testRecord("a", 1)
	require.NoError(t, l.Append(ctx, rec))

	*rec.Detections[0].Frame = 99
	got, ok := l.Get(ctx, "a")
	require.True(t, ok)
	assert.Equal(t, 5, *got.Detections[0].Frame)
}

func TestGetByIDs_LedgerOrder(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c", "d"} {
		require.NoError(t, l.Append(ctx, testRecord(id, i)))
	}

	got := l.GetByIDs(ctx, []string{"a", "missing", "c"})
	assert.Equal(t, []string{"c", "a"}, ids(got))

	_, ok := l.Get(ctx, "missing")
	assert.False(t, ok)
}

func TestDeleteByIDs_Idempotent(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, testRecord("a", 1)))
	require.NoError(t, l.Append(ctx, testRecord("b", 2)))

	n, err := l.DeleteByIDs(ctx, []string{"a", "zzz"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = l.DeleteByIDs(ctx, []string{"a", "zzz"})
	require.NoError(t, err)
	assert.Zero(t, n)

	assert.Equal(t, []string{"b"}, ids(l.ListAll(ctx)))
}

func TestReload_RoundTrip(t *testing.T) {
	t.Parallel()

	l, backend := newJSONLedger(t)
	ctx := context.Background()
	require.NoError(t, l.Append(ctx, testRecord("a", 1)))
	require.NoError(t, l.Append(ctx, testRecord("b", 2)))
	before := l.ListAll(ctx)

	reloaded, err := NewJSONBackend(backend.Path())
	require.NoError(t, err)
	assert.Equal(t, before, New(reloaded).ListAll(ctx))
}

func TestLoad_MissingFileIsEmpty(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewLedgerMetrics(reg)
	require.NoError(t, err)

	backend, err := NewJSONBackend(filepath.Join(t.TempDir(), "history.json"))
	require.NoError(t, err)
	l := New(backend, WithMetrics(m))

	assert.Empty(t, l.ListAll(context.Background()))
	assert.Zero(t, testutil.ToFloat64(m.LoadFailures))
}

func TestLoad_CorruptFileIsEmpty(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewLedgerMetrics(reg)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"id": "a",`), 0o600))
	backend, err := NewJSONBackend(path)
	require.NoError(t, err)
	l := New(backend, WithMetrics(m))

	all := l.ListAll(context.Background())
	assert.NotNil(t, all)
	assert.Empty(t, all)
	assert.InDelta(t, 1, testutil.ToFloat64(m.LoadFailures), 0)

	// a later append starts a fresh ledger
	require.NoError(t, l.Append(context.Background(), testRecord("new", 1)))
	assert.Equal(t, []string{"new"}, ids(l.ListAll(context.Background())))
}

func TestLoad_LegacyNaiveTimestamps(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	legacy := `[
  {
    "id": "6f1c",
    "timestamp": "2024-05-01T10:15:30.123456",
    "original_file": "6f1c.jpg",
    "annotated_image_url": "http://localhost:8000/results/annotated_6f1c.jpg",
    "detections": [
      {"violation_type": "car", "confidence": 88.12, "bbox": [1, 2, 3, 4], "license_plate": "KA01AB1234", "ocr_confidence": 77.5}
    ],
    "status": "success"
  }
]`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))
	backend, err := NewJSONBackend(path)
	require.NoError(t, err)

	all := New(backend).ListAll(context.Background())
	require.Len(t, all, 1)
	assert.Equal(t, "KA01AB1234", all[0].Detections[0].LicensePlate)
	assert.Equal(t, 2024, all[0].CreatedAt.Year())
	assert.Equal(t, 15, all[0].CreatedAt.Minute())
}

type fakeMedia struct {
	mu      sync.Mutex
	seen    []string
	failFor string
}

func (f *fakeMedia) RemoveRecordMedia(rec *model.AnalysisRecord) (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, rec.ID)
	if rec.ID == f.failFor {
		return 1, 2
	}
	return 3, 0
}

func TestPurge(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, l.Append(ctx, testRecord(id, i)))
	}

	media := &fakeMedia{failFor: "c"}
	res, err := l.Purge(ctx, []string{"a", "c", "nope"}, media)
	require.NoError(t, err)

	assert.Equal(t, PurgeResult{Records: 2, FilesRemoved: 4, FileFailures: 2}, res)
	assert.ElementsMatch(t, []string{"a", "c"}, media.seen)
	assert.Equal(t, []string{"b"}, ids(l.ListAll(ctx)))

	res, err = l.Purge(ctx, []string{"a"}, media)
	require.NoError(t, err)
	assert.Equal(t, PurgeResult{}, res)
}

func TestConcurrentAppends(t *testing.T) {
	t.Parallel()

	l, _ := newJSONLedger(t)
	ctx := context.Background()

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, l.Append(ctx, testRecord(fmt.Sprintf("r%02d", i), i)))
		}(i)
	}
	wg.Wait()

	all := l.ListAll(ctx)
	assert.Len(t, all, n)
	seen := map[string]bool{}
	for _, r := range all {
		assert.False(t, seen[r.ID], "duplicate id %s", r.ID)
		seen[r.ID] = true
	}
}

func TestJSONBackend_EmptyFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	require.NoError(t, os.WriteFile(path, []byte("  \n"), 0o600))
	backend, err := NewJSONBackend(path)
	require.NoError(t, err)

	records, err := backend.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestJSONBackend_SaveLeavesNoTempFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	backend, err := NewJSONBackend(filepath.Join(dir, "history.json"))
	require.NoError(t, err)
	require.NoError(t, backend.Save(context.Background(), []model.AnalysisRecord{testRecord("a", 1)}))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "history.json", entries[0].Name())
}

func appendConcurrently(t *testing.T, l *Ledger, prefix string, n int) {
	t.Helper()
	ctx := context.Background()
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			assert.NoError(t, l.Append(ctx, testRecord(fmt.Sprintf("%s%02d", prefix, i), i%60)))
		})
	}
	wg.Wait()
}

func TestAppend_SharedFileAcrossLedgers(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	first, err := NewJSONBackend(path)
	require.NoError(t, err)
	second, err := NewJSONBackend(path)
	require.NoError(t, err)
	a, b := New(first), New(second)

	const perLedger = 50
	var wg sync.WaitGroup
	wg.Go(func() { appendConcurrently(t, a, "a", perLedger) })
	wg.Go(func() { appendConcurrently(t, b, "b", perLedger) })
	wg.Wait()

	assert.Len(t, a.ListAll(context.Background()), 2*perLedger)
	assert.Len(t, b.ListAll(context.Background()), 2*perLedger)
}

func TestUpdate_WaitsForLockHolder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.json")
	backend, err := NewJSONBackend(path)
	require.NoError(t, err)

	unlock, err := lockFile(context.Background(), backend.lockPath)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = New(backend).Append(ctx, testRecord("late", 1))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	require.NoError(t, New(backend).Append(context.Background(), testRecord("late", 1)))
}

// flakyBackend fails every load with a database error.
type flakyBackend struct {
	saves int
}

func (f *flakyBackend) loadErr() error {
	return errors.Newf("database is locked").
		Component("ledger").
		Category(errors.CategoryDatabase).
		Build()
}

func (f *flakyBackend) Load(context.Context) ([]model.AnalysisRecord, error) {
	return nil, f.loadErr()
}

func (f *flakyBackend) Update(_ context.Context, fn UpdateFunc) error {
	_, save, err := fn(nil, f.loadErr())
	if save {
		f.saves++
	}
	return err
}

func (f *flakyBackend) Close() error { return nil }

func TestMutations_FailWhenStoreUnreadable(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	m, err := metrics.NewLedgerMetrics(reg)
	require.NoError(t, err)

	backend := &flakyBackend{}
	l := New(backend, WithMetrics(m))
	ctx := context.Background()

	err = l.Append(ctx, testRecord("a", 1))
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))

	_, err = l.DeleteByIDs(ctx, []string{"a"})
	require.Error(t, err)

	res, err := l.Purge(ctx, []string{"a"}, &fakeMedia{})
	require.Error(t, err)
	assert.Equal(t, PurgeResult{}, res)

	assert.Zero(t, backend.saves)

	// reads still degrade to an empty ledger
	assert.Empty(t, l.ListAll(ctx))
	assert.InDelta(t, 4, testutil.ToFloat64(m.LoadFailures), 0)
}
