package conf

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validSettings(t *testing.T) *Settings {
	t.Helper()
	v := newTestViper()
	s := &Settings{}
	require.NoError(t, v.Unmarshal(s))
	return s
}

func TestValidateSettings_Defaults(t *testing.T) {
	t.Parallel()
	require.NoError(t, ValidateSettings(validSettings(t)))
}

func TestValidateSettings_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	s := validSettings(t)
	s.Server.Port = 0
	s.Detector.InputSize = 100
	s.OCR.Backend = "paddle"
	s.Video.Codec = "h264x"

	err := ValidateSettings(s)
	require.Error(t, err)

	var ve ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Len(t, ve.Errors, 4)
}

func TestValidateSettings_BackendSpecific(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Settings)
	}{
		{"remote ocr without url", func(s *Settings) { s.OCR.Backend = "remote"; s.OCR.Remote.URL = "" }},
		{"crnn without model", func(s *Settings) { s.OCR.Backend = "crnn"; s.OCR.CRNN.ModelPath = "" }},
		{"mysql without host", func(s *Settings) { s.Ledger.Backend = "mysql"; s.Ledger.MySQL.Host = "" }},
		{"notify without urls", func(s *Settings) { s.Events.Notify.Enabled = true }},
		{"sentry without dsn", func(s *Settings) { s.Sentry.Enabled = true }},
		{"ocr threshold out of range", func(s *Settings) { s.OCR.MinConfidence = 1.5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := validSettings(t)
			tt.mutate(s)
			assert.Error(t, ValidateSettings(s))
		})
	}
}

func TestEnvValidators(t *testing.T) {
	t.Parallel()

	assert.NoError(t, validateEnvPort("8080"))
	assert.Error(t, validateEnvPort("70000"))
	assert.NoError(t, validateEnvURL("https://example.com"))
	assert.Error(t, validateEnvURL("not a url"))
	assert.NoError(t, validateEnvUnitInterval("0.4"))
	assert.Error(t, validateEnvUnitInterval("1.4"))
	assert.Error(t, validateEnvStride("0"))
	assert.NoError(t, validateEnvOCRBackend("CRNN"))
	assert.Error(t, validateEnvLedgerBackend("redis"))
	assert.Error(t, validateEnvBool("maybe"))
	assert.NoError(t, validateEnvDuration("5s"))
}

func TestBindEnvVars_ReportsInvalidValues(t *testing.T) {
	t.Setenv("ECOSCOUT_VIDEO_STRIDE", "-2")

	err := bindEnvVars(newTestViper())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ECOSCOUT_VIDEO_STRIDE")
}
