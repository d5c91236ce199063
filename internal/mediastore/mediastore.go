package mediastore

import (
	"fmt"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

const resultsRoute = "/results/"

// GetLogger returns the mediastore module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("mediastore")
}

// area is one directory opened as an os.Root, so no operation can escape it
// through "..", absolute paths or symlinks.
type area struct {
	dir  string
	root *os.Root
}

func openArea(dir string) (*area, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, errors.New(fmt.Errorf("failed to create media directory: %w", err)).
			Component("mediastore").
			Category(errors.CategoryFileIO).
			Context("dir", abs).
			Build()
	}
	root, err := os.OpenRoot(abs)
	if err != nil {
		return nil, errors.New(fmt.Errorf("failed to open media directory: %w", err)).
			Component("mediastore").
			Category(errors.CategoryFileIO).
			Context("dir", abs).
			Build()
	}
	return &area{dir: abs, root: root}, nil
}

func (a *area) path(name string) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	return filepath.Join(a.dir, name), nil
}

// Store holds the uploads and results areas.
type Store struct {
	uploads *area
	results *area
	baseURL string
}

// New opens (creating if needed) the two media directories. baseURL is the
// public server address used to build result links.
func New(uploadsDir, resultsDir, baseURL string) (*Store, error) {
	uploads, err := openArea(uploadsDir)
	if err != nil {
		return nil, err
	}
	results, err := openArea(resultsDir)
	if err != nil {
		_ = uploads.root.Close()
		return nil, err
	}
	return &Store{
		uploads: uploads,
		results: results,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// NewFromSettings opens the media directories configured in settings.
func NewFromSettings(settings *conf.Settings) (*Store, error) {
	return New(
		settings.ResolvePath(settings.Media.UploadsDir),
		settings.ResolvePath(settings.Media.ResultsDir),
		settings.Server.PublicURL,
	)
}

// checkName accepts a single local path element.
func checkName(name string) error {
	if !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// UploadName is the stored name of an upload with id and extension ext.
func UploadName(id, ext string) string {
	return id + "." + strings.TrimPrefix(ext, ".")
}

// AnnotatedName is the result name of the annotated copy of upload.
func AnnotatedName(upload string) string {
	return "annotated_" + upload
}

// EvidenceName is the result name of the evidence frame at index of a video.
func EvidenceName(id string, index int) string {
	return "frame_" + id + "_" + strconv.Itoa(index) + ".jpg"
}

// ReportName is the result name of the PDF report for id.
func ReportName(id string) string {
	return "report_" + id + ".pdf"
}

// SaveUpload copies r into the uploads area under name.
func (s *Store) SaveUpload(name string, r io.Reader) (int64, error) {
	if err := checkName(name); err != nil {
		return 0, err
	}
	f, err := s.uploads.root.Create(name)
	if err != nil {
		return 0, errors.New(err).
			Component("mediastore").
			Category(errors.CategoryFileIO).
			Context("operation", "save-upload").
			Build()
	}

	n, err := io.Copy(f, r)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = s.uploads.root.Remove(name)
		return n, errors.New(err).
			Component("mediastore").
			Category(errors.CategoryFileIO).
			FileContext(name, n).
			Build()
	}
	return n, nil
}

// UploadPath returns the absolute path of an upload.
func (s *Store) UploadPath(name string) (string, error) {
	return s.uploads.path(name)
}

// CreateResult creates or truncates a file in the results area.
func (s *Store) CreateResult(name string) (*os.File, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	f, err := s.results.root.Create(name)
	if err != nil {
		return nil, errors.New(err).
			Component("mediastore").
			Category(errors.CategoryFileIO).
			Context("operation", "create-result").
			Build()
	}
	return f, nil
}

// ResultPath returns the absolute path of a result.
func (s *Store) ResultPath(name string) (string, error) {
	return s.results.path(name)
}

// ResultExists reports whether a result is present.
func (s *Store) ResultExists(name string) bool {
	if checkName(name) != nil {
		return false
	}
	info, err := s.results.root.Stat(name)
	return err == nil && info.Mode().IsRegular()
}

// ResultURL is the public link to a result.
func (s *Store) ResultURL(name string) string {
	return s.baseURL + resultsRoute + url.PathEscape(name)
}

// NameFromURL extracts the result name from a link built by ResultURL. Links
// from another host are accepted as long as the last element is a valid name.
func NameFromURL(link string) (string, error) {
	p := link
	if u, err := url.Parse(link); err == nil {
		p = u.Path
	}
	name := path.Base(p)
	if name == "." || name == "/" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, link)
	}
	if err := checkName(name); err != nil {
		return "", err
	}
	return name, nil
}

// RemoveRecordMedia deletes the upload, the annotated output, every evidence
// frame and the cached report of rec. Files that are already gone count as
// neither removed nor failed.
func (s *Store) RemoveRecordMedia(rec *model.AnalysisRecord) (removed, failed int) {
	log := GetLogger().With(logger.String("id", rec.ID))
	count := func(a *area, name string) {
		ok, err := a.remove(name)
		switch {
		case err != nil:
			failed++
			log.Warn("failed to remove media file", logger.String("name", name), logger.Error(err))
		case ok:
			removed++
		}
	}

	if rec.OriginalFile != "" {
		count(s.uploads, rec.OriginalFile)
	}

	links := rec.EvidenceURLs()
	if annotated := rec.AnnotatedURL(); annotated != "" {
		links = append([]string{annotated}, links...)
	}
	for _, link := range links {
		name, err := NameFromURL(link)
		if err != nil {
			failed++
			log.Warn("record references an invalid media link", logger.String("url", link), logger.Error(err))
			continue
		}
		count(s.results, name)
	}

	if rec.ID != "" {
		count(s.results, ReportName(rec.ID))
	}
	return removed, failed
}

// Discard removes an upload and results left behind by a failed analysis.
// Missing files are ignored and failures are only logged.
func (s *Store) Discard(upload string, results ...string) {
	log := GetLogger()
	if upload != "" {
		if _, err := s.uploads.remove(upload); err != nil {
			log.Warn("failed to discard upload", logger.String("name", upload), logger.Error(err))
		}
	}
	for _, name := range results {
		if _, err := s.results.remove(name); err != nil {
			log.Warn("failed to discard result", logger.String("name", name), logger.Error(err))
		}
	}
}

func (a *area) remove(name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	if err := a.root.Remove(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// mapOpenErrorToHTTP converts open errors to HTTP errors.
func mapOpenErrorToHTTP(err error, name string) *echo.HTTPError {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("File not found: %s", name))
	case errors.Is(err, fs.ErrPermission):
		return echo.NewHTTPError(http.StatusForbidden, "Access denied")
	case errors.Is(err, ErrInvalidName):
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid file path").SetInternal(err)
	case errors.Is(err, ErrNotRegularFile):
		return echo.NewHTTPError(http.StatusForbidden, "Not a regular file")
	default:
		GetLogger().Error("unhandled error serving file", logger.String("name", name), logger.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "Error serving file").SetInternal(err)
	}
}

func contentType(name string) string {
	ct := mime.TypeByExtension(filepath.Ext(name))
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

// ServeResult writes a result to the response with range and conditional
// request support. A Content-Type already set by the caller is kept.
func (s *Store) ServeResult(c echo.Context, name string) error {
	if err := checkName(name); err != nil {
		return mapOpenErrorToHTTP(err, name)
	}
	f, err := s.results.root.Open(name)
	if err != nil {
		return mapOpenErrorToHTTP(err, name)
	}
	defer func() {
		if err := f.Close(); err != nil {
			GetLogger().Warn("failed to close file", logger.Error(err))
		}
	}()

	stat, err := f.Stat()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "Failed to get file info").SetInternal(err)
	}
	if !stat.Mode().IsRegular() {
		return mapOpenErrorToHTTP(ErrNotRegularFile, name)
	}

	if c.Response().Header().Get(echo.HeaderContentType) == "" {
		c.Response().Header().Set(echo.HeaderContentType, contentType(name))
	}
	http.ServeContent(c.Response(), c.Request(), name, stat.ModTime(), f)
	return nil
}

// ResultsDir returns the absolute results directory.
func (s *Store) ResultsDir() string { return s.results.dir }

// UploadsDir returns the absolute uploads directory.
func (s *Store) UploadsDir() string { return s.uploads.dir }

// Close releases both directory handles.
func (s *Store) Close() error {
	return errors.Join(s.uploads.root.Close(), s.results.root.Close())
}
