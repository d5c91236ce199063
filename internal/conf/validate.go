// conf/validate.go

package conf

import (
	"fmt"
	"net/url"
	"strings"
)

var (
	ocrBackends    = []string{"tesseract", "remote", "crnn"}
	ledgerBackends = []string{"json", "sqlite", "mysql", "postgres"}
)

// ValidationError represents a collection of validation errors
type ValidationError struct {
	Errors []string
}

// Error returns a string representation of the validation errors
func (ve ValidationError) Error() string {
	return fmt.Sprintf("validation errors: %v", ve.Errors)
}

// ValidateSettings validates the entire Settings struct and collects every
// problem instead of stopping at the first.
func ValidateSettings(settings *Settings) error {
	ve := ValidationError{}

	validators := []func(*Settings) []string{
		validateServerSettings,
		validateDetectorSettings,
		validateOCRSettings,
		validateVideoSettings,
		validateLedgerSettings,
		validateEventSettings,
	}
	for _, validate := range validators {
		ve.Errors = append(ve.Errors, validate(settings)...)
	}

	if len(ve.Errors) > 0 {
		return ve
	}
	return nil
}

func validateServerSettings(s *Settings) []string {
	var errs []string
	if s.Server.Port < 1 || s.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port must be between 1 and 65535, got %d", s.Server.Port))
	}
	if s.Server.PublicURL != "" {
		if err := validateEnvURL(s.Server.PublicURL); err != nil {
			errs = append(errs, "server.publicurl: "+err.Error())
		}
	}
	if s.Server.RateLimit.Enabled && (s.Server.RateLimit.Rate <= 0 || s.Server.RateLimit.Burst < 1) {
		errs = append(errs, "server.ratelimit requires a positive rate and burst")
	}
	if s.Media.UploadsDir == "" || s.Media.ResultsDir == "" {
		errs = append(errs, "media.uploadsdir and media.resultsdir must be set")
	}
	return errs
}

func validateDetectorSettings(s *Settings) []string {
	var errs []string
	d := s.Detector
	if d.ModelPath == "" {
		errs = append(errs, "detector.modelpath must be set")
	}
	if d.LabelPath == "" && len(d.Labels) == 0 {
		errs = append(errs, "detector.labels or detector.labelpath must be set")
	}
	if d.InputSize <= 0 || d.InputSize%32 != 0 {
		errs = append(errs, fmt.Sprintf("detector.inputsize must be a positive multiple of 32, got %d", d.InputSize))
	}
	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detector.confidencethreshold must be between 0 and 1, got %g", d.ConfidenceThreshold))
	}
	if d.IoUThreshold <= 0 || d.IoUThreshold > 1 {
		errs = append(errs, fmt.Sprintf("detector.iouthreshold must be in (0, 1], got %g", d.IoUThreshold))
	}
	if d.Threads < 0 {
		errs = append(errs, "detector.threads must be non-negative")
	}
	if d.PoolSize < 1 {
		errs = append(errs, "detector.poolsize must be at least 1")
	}
	return errs
}

func validateOCRSettings(s *Settings) []string {
	var errs []string
	o := s.OCR
	if err := validateOneOf(o.Backend, ocrBackends); err != nil {
		errs = append(errs, "ocr.backend "+err.Error())
	}
	if o.Allowlist == "" {
		errs = append(errs, "ocr.allowlist must not be empty")
	}
	if o.MinConfidence < 0 || o.MinConfidence >= 1 {
		errs = append(errs, fmt.Sprintf("ocr.minconfidence must be in [0, 1), got %g", o.MinConfidence))
	}
	if o.MinLength < 0 {
		errs = append(errs, "ocr.minlength must be non-negative")
	}
	switch strings.ToLower(o.Backend) {
	case "remote":
		if _, err := url.ParseRequestURI(o.Remote.URL); err != nil {
			errs = append(errs, "ocr.remote.url must be a valid URL when ocr.backend is remote")
		}
	case "crnn":
		if o.CRNN.ModelPath == "" {
			errs = append(errs, "ocr.crnn.modelpath must be set when ocr.backend is crnn")
		}
	}
	return errs
}

func validateVideoSettings(s *Settings) []string {
	var errs []string
	if s.Video.Stride < 1 {
		errs = append(errs, fmt.Sprintf("video.stride must be at least 1, got %d", s.Video.Stride))
	}
	if s.Video.MaxEvidenceFrames < 0 {
		errs = append(errs, "video.maxevidenceframes must be non-negative")
	}
	if len(s.Video.Codec) != 4 || (s.Video.FallbackCodec != "" && len(s.Video.FallbackCodec) != 4) {
		errs = append(errs, "video codecs must be four-character codes")
	}
	if s.Video.DefaultFPS <= 0 {
		errs = append(errs, "video.defaultfps must be positive")
	}
	return errs
}

func validateLedgerSettings(s *Settings) []string {
	var errs []string
	l := s.Ledger
	if err := validateOneOf(l.Backend, ledgerBackends); err != nil {
		return []string{"ledger.backend " + err.Error()}
	}
	switch strings.ToLower(l.Backend) {
	case "json":
		if l.Path == "" {
			errs = append(errs, "ledger.path must be set for the json backend")
		}
	case "sqlite":
		if l.SQLite.Path == "" {
			errs = append(errs, "ledger.sqlite.path must be set")
		}
	case "mysql":
		if l.MySQL.Host == "" || l.MySQL.Database == "" {
			errs = append(errs, "ledger.mysql.host and ledger.mysql.database must be set")
		}
	case "postgres":
		if l.Postgres.Host == "" || l.Postgres.Database == "" {
			errs = append(errs, "ledger.postgres.host and ledger.postgres.database must be set")
		}
	}
	return errs
}

func validateEventSettings(s *Settings) []string {
	var errs []string
	if s.Events.MQTT.Enabled && s.Events.MQTT.Broker == "" {
		errs = append(errs, "events.mqtt.broker must be set when MQTT is enabled")
	}
	if s.Events.NATS.Enabled && s.Events.NATS.URL == "" {
		errs = append(errs, "events.nats.url must be set when NATS is enabled")
	}
	if s.Events.Notify.Enabled && len(s.Events.Notify.URLs) == 0 {
		errs = append(errs, "events.notify.urls must list at least one URL when notifications are enabled")
	}
	if s.Sentry.Enabled && s.Sentry.DSN == "" {
		errs = append(errs, "sentry.dsn must be set when sentry is enabled")
	}
	return errs
}
