package report

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/mediastore"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

// DefaultCacheTTL is how long a rendered report is reused.
const DefaultCacheTTL = 30 * time.Minute

// Service renders reports into the results area and remembers which records
// already have one. Records are immutable, so a cached report stays valid
// until its file is removed.
type Service struct {
	renderer Renderer
	store    *mediastore.Store
	cache    *cache.Cache
	mu       sync.Mutex
}

// NewService creates a report service. ttl <= 0 uses DefaultCacheTTL.
func NewService(renderer Renderer, store *mediastore.Store, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		renderer: renderer,
		store:    store,
		cache:    cache.New(ttl, ttl*2),
	}
}

// Generate returns the results-area name of the report for rec, rendering it
// when it is not cached or its file has gone.
func (s *Service) Generate(rec *model.AnalysisRecord) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if cached, found := s.cache.Get(rec.ID); found {
		if name, ok := cached.(string); ok && s.store.ResultExists(name) {
			GetLogger().Debug("report cache hit", logger.String("id", rec.ID))
			return name, nil
		}
		s.cache.Delete(rec.ID)
	}

	start := time.Now()
	var buf bytes.Buffer
	if err := s.renderer.Render(&buf, rec, s.imagePath(rec)); err != nil {
		return "", err
	}

	name := mediastore.ReportName(rec.ID)
	f, err := s.store.CreateResult(name)
	if err != nil {
		return "", err
	}
	_, err = buf.WriteTo(f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return "", errors.New(fmt.Errorf("failed to write report: %w", err)).
			Component("report").
			Category(errors.CategoryFileIO).
			FileContext(name, int64(buf.Len())).
			Build()
	}

	s.cache.Set(rec.ID, name, cache.DefaultExpiration)
	GetLogger().Info("report generated",
		logger.String("id", rec.ID),
		logger.String("file", name),
		logger.Duration("duration", time.Since(start)))
	return name, nil
}

// imagePath resolves the annotated image of an image record. Video records
// and missing files yield "".
func (s *Service) imagePath(rec *model.AnalysisRecord) string {
	if rec.MediaKind() != model.MediaImage || rec.AnnotatedImageURL == "" {
		return ""
	}
	name, err := mediastore.NameFromURL(rec.AnnotatedImageURL)
	if err != nil || !s.store.ResultExists(name) {
		return ""
	}
	p, err := s.store.ResultPath(name)
	if err != nil {
		return ""
	}
	return p
}

// Invalidate forgets the reports of ids.
func (s *Service) Invalidate(ids ...string) {
	for _, id := range ids {
		s.cache.Delete(id)
	}
}
