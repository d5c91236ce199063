package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	dir := t.TempDir()
	return &conf.Settings{
		Main:     conf.MainSettings{DataDir: dir},
		Server:   conf.ServerSettings{PublicURL: "http://localhost:8000"},
		Media:    conf.MediaSettings{UploadsDir: "uploads", ResultsDir: "results"},
		Ledger:   conf.LedgerSettings{Backend: "json", Path: "history.json"},
		Analysis: conf.AnalysisSettings{Violations: []string{"littering", "smoke"}},
	}
}

func TestNew_StorageOnly(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	a, err := New(settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	assert.NotNil(t, a.Metrics)
	assert.NotNil(t, a.Store)
	assert.NotNil(t, a.Ledger)
	assert.NotNil(t, a.Reports)
	assert.Nil(t, a.Processor)
	assert.Nil(t, a.Events)
	assert.Empty(t, a.Ledger.ListAll(context.Background()))
}

func TestPurge(t *testing.T) {
	t.Parallel()

	settings := testSettings(t)
	a, err := New(settings)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx := context.Background()
	annotated := "annotated_rec1.jpg"
	path, err := a.Store.ResultPath(annotated)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("jpeg"), 0o600))

	rec := model.AnalysisRecord{
		ID:                "rec1",
		OriginalFile:      "scene.jpg",
		Status:            "success",
		CreatedAt:         model.Now(),
		Detections:        []model.DetectionRecord{},
		AnnotatedImageURL: a.Store.ResultURL(annotated),
	}
	require.NoError(t, a.Ledger.Append(ctx, rec))

	msg, err := a.Purge(ctx, []string{"rec1", "missing"})
	require.NoError(t, err)
	assert.Equal(t, "Deleted 1 records and 1 files", msg)
	assert.NoFileExists(t, filepath.Join(a.Store.ResultsDir(), annotated))

	_, ok := a.Ledger.Get(ctx, "rec1")
	assert.False(t, ok)
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	a, err := New(testSettings(t))
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
