package mediastore

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(filepath.Join(dir, "uploads"), filepath.Join(dir, "results"), "http://localhost:8000/")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func writeResult(t *testing.T, s *Store, name, body string) {
	t.Helper()
	f, err := s.CreateResult(name)
	require.NoError(t, err)
	_, err = f.WriteString(body)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "abc.jpg", UploadName("abc", "jpg"))
	assert.Equal(t, "abc.mp4", UploadName("abc", ".mp4"))
	assert.Equal(t, "annotated_abc.jpg", AnnotatedName("abc.jpg"))
	assert.Equal(t, "frame_abc_15.jpg", EvidenceName("abc", 15))
	assert.Equal(t, "report_abc.pdf", ReportName("abc"))
}

func TestSaveUpload(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	n, err := s.SaveUpload("abc.jpg", strings.NewReader("image-bytes"))
	require.NoError(t, err)
	assert.Equal(t, int64(len("image-bytes")), n)

	p, err := s.UploadPath("abc.jpg")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.UploadsDir(), "abc.jpg"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "image-bytes", string(data))
}

func TestInvalidNames(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	for _, name := range []string{"", "../escape.jpg", "a/b.jpg", `a\b.jpg`, "/etc/passwd", ".."} {
		_, err := s.SaveUpload(name, strings.NewReader("x"))
		require.Error(t, err, name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)

		_, err = s.CreateResult(name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)

		_, err = s.ResultPath(name)
		assert.True(t, errors.Is(err, ErrInvalidName), name)
	}

	_, err := os.Stat(filepath.Join(filepath.Dir(s.UploadsDir()), "escape.jpg"))
	assert.True(t, os.IsNotExist(err))
}

func TestResultURLRoundTrip(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	link := s.ResultURL("annotated_abc.jpg")
	assert.Equal(t, "http://localhost:8000/results/annotated_abc.jpg", link)

	name, err := NameFromURL(link)
	require.NoError(t, err)
	assert.Equal(t, "annotated_abc.jpg", name)

	name, err = NameFromURL("http://other-host:9000/results/frame_abc_5.jpg")
	require.NoError(t, err)
	assert.Equal(t, "frame_abc_5.jpg", name)

	_, err = NameFromURL("http://localhost:8000/")
	assert.True(t, errors.Is(err, ErrInvalidName))
}

func TestRemoveRecordMedia(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	_, err := s.SaveUpload("abc.mp4", strings.NewReader("video"))
	require.NoError(t, err)
	writeResult(t, s, "annotated_abc.mp4", "annotated")
	writeResult(t, s, "frame_abc_0.jpg", "frame0")
	writeResult(t, s, "report_abc.pdf", "pdf")
	// frame_abc_5.jpg is referenced but already gone

	f0, f5 := 0, 5
	rec := &model.AnalysisRecord{
		ID:                "abc",
		OriginalFile:      "abc.mp4",
		AnnotatedVideoURL: s.ResultURL("annotated_abc.mp4"),
		Detections: []model.DetectionRecord{
			{Frame: &f0, FrameImageURL: s.ResultURL("frame_abc_0.jpg")},
			{Frame: &f0, FrameImageURL: s.ResultURL("frame_abc_0.jpg")},
			{Frame: &f5, FrameImageURL: s.ResultURL("frame_abc_5.jpg")},
		},
	}

	removed, failed := s.RemoveRecordMedia(rec)
	assert.Equal(t, 4, removed)
	assert.Zero(t, failed)

	entries, err := os.ReadDir(s.ResultsDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.False(t, s.ResultExists("annotated_abc.mp4"))

	removed, failed = s.RemoveRecordMedia(rec)
	assert.Zero(t, removed)
	assert.Zero(t, failed)
}

func TestRemoveRecordMedia_CountsFailures(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	// a non-empty directory under the annotated name cannot be removed
	require.NoError(t, os.MkdirAll(filepath.Join(s.ResultsDir(), "annotated_abc.jpg"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(s.ResultsDir(), "annotated_abc.jpg", "keep"), []byte("x"), 0o600))

	rec := &model.AnalysisRecord{
		ID:                "abc",
		OriginalFile:      "../outside.jpg",
		AnnotatedImageURL: s.ResultURL("annotated_abc.jpg"),
	}
	removed, failed := s.RemoveRecordMedia(rec)
	assert.Zero(t, removed)
	assert.Equal(t, 2, failed)
}

func serve(t *testing.T, s *Store, name string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/results/"+name, http.NoBody)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if err := s.ServeResult(c, name); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec
}

func TestServeResult(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	writeResult(t, s, "report_abc.pdf", "%PDF-1.3")

	rec := serve(t, s, "report_abc.pdf")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/pdf", rec.Header().Get(echo.HeaderContentType))
	assert.Equal(t, "%PDF-1.3", rec.Body.String())

	assert.Equal(t, http.StatusNotFound, serve(t, s, "missing.jpg").Code)
	assert.Equal(t, http.StatusBadRequest, serve(t, s, "..").Code)

	require.NoError(t, os.Mkdir(filepath.Join(s.ResultsDir(), "subdir"), 0o750))
	assert.Equal(t, http.StatusForbidden, serve(t, s, "subdir").Code)
}

func TestDiscard(t *testing.T) {
	t.Parallel()

	store := newTestStore(t)
	_, err := store.SaveUpload("abc.jpg", strings.NewReader("x"))
	require.NoError(t, err)
	f, err := store.CreateResult("annotated_abc.jpg")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	store.Discard("abc.jpg", "annotated_abc.jpg", "frame_abc_0.jpg", "../escape.jpg")

	assert.False(t, store.ResultExists("annotated_abc.jpg"))
	_, err = os.Stat(filepath.Join(store.UploadsDir(), "abc.jpg"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
