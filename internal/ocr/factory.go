package ocr

import (
	"strings"

	"github.com/ecoscout/ecoscout-go/internal/conf"
	"github.com/ecoscout/ecoscout-go/internal/cpuspec"
	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Backend names accepted by ocr.backend.
const (
	BackendTesseract = "tesseract"
	BackendRemote    = "remote"
	BackendCRNN      = "crnn"
)

// New creates the recognizer selected in settings.
func New(settings *conf.Settings) (Recognizer, error) {
	cfg := settings.OCR
	backend := strings.ToLower(cfg.Backend)
	GetLogger().Info("initializing recognizer", logger.String("backend", backend))

	switch backend {
	case BackendTesseract, "":
		r, err := NewTesseract(cfg.Language)
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendRemote:
		r, err := NewRemote(RemoteConfig{
			URL:     cfg.Remote.URL,
			APIKey:  cfg.Remote.APIKey,
			Timeout: cfg.Remote.Timeout,
		})
		if err != nil {
			return nil, err
		}
		return r, nil
	case BackendCRNN:
		threads := cfg.CRNN.Threads
		if threads <= 0 {
			threads = cpuspec.GetCPUSpec().GetOptimalThreadCount()
		}
		r, err := NewCRNN(settings.ResolvePath(cfg.CRNN.ModelPath), threads)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, errors.Newf("unknown OCR backend %q", cfg.Backend).
			Component("ocr").
			Category(errors.CategoryConfiguration).
			Build()
	}
}

// PolicyFromSettings builds the acceptance policy from ocr settings.
func PolicyFromSettings(settings *conf.Settings) Policy {
	return Policy{
		MinConfidence: settings.OCR.MinConfidence,
		MinLength:     settings.OCR.MinLength,
	}
}
