// env.go - environment variable configuration and validation
package conf

import (
	"fmt"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every bound environment variable.
const EnvPrefix = "ECOSCOUT"

// envBinding holds metadata for environment variable bindings
type envBinding struct {
	ConfigKey string             // viper config key
	EnvVar    string             // environment variable name
	Validate  func(string) error // optional validation function
}

// getEnvBindings returns all environment variable bindings with validation
func getEnvBindings() []envBinding {
	return []envBinding{
		{"debug", "ECOSCOUT_DEBUG", validateEnvBool},
		{"main.datadir", "ECOSCOUT_DATADIR", nil},

		// HTTP server
		{"server.host", "ECOSCOUT_SERVER_HOST", nil},
		{"server.port", "ECOSCOUT_SERVER_PORT", validateEnvPort},
		{"server.publicurl", "ECOSCOUT_PUBLIC_URL", validateEnvURL},

		// Detector
		{"detector.modelpath", "ECOSCOUT_DETECTOR_MODELPATH", nil},
		{"detector.runtimelibrary", "ECOSCOUT_ONNXRUNTIME_LIB", nil},
		{"detector.confidencethreshold", "ECOSCOUT_DETECTOR_CONFIDENCE", validateEnvUnitInterval},
		{"detector.threads", "ECOSCOUT_DETECTOR_THREADS", validateEnvThreads},

		// OCR
		{"ocr.backend", "ECOSCOUT_OCR_BACKEND", validateEnvOCRBackend},
		{"ocr.minconfidence", "ECOSCOUT_OCR_MINCONFIDENCE", validateEnvUnitInterval},
		{"ocr.remote.url", "ECOSCOUT_OCR_REMOTE_URL", validateEnvURL},
		{"ocr.remote.apikey", "ECOSCOUT_OCR_REMOTE_APIKEY", nil},
		{"ocr.remote.timeout", "ECOSCOUT_OCR_REMOTE_TIMEOUT", validateEnvDuration},

		// Video
		{"video.stride", "ECOSCOUT_VIDEO_STRIDE", validateEnvStride},

		// Ledger
		{"ledger.backend", "ECOSCOUT_LEDGER_BACKEND", validateEnvLedgerBackend},
		{"ledger.path", "ECOSCOUT_LEDGER_PATH", nil},
		{"ledger.mysql.password", "ECOSCOUT_MYSQL_PASSWORD", nil},
		{"ledger.postgres.password", "ECOSCOUT_POSTGRES_PASSWORD", nil},

		// Events and telemetry
		{"events.mqtt.password", "ECOSCOUT_MQTT_PASSWORD", nil},
		{"events.nats.url", "ECOSCOUT_NATS_URL", nil},
		{"sentry.dsn", "ECOSCOUT_SENTRY_DSN", nil},
	}
}

// bindEnvVars binds every known variable and validates the ones that are set.
func bindEnvVars(v *viper.Viper) error {
	var warnings []string

	for _, binding := range getEnvBindings() {
		if err := v.BindEnv(binding.ConfigKey, binding.EnvVar); err != nil {
			warnings = append(warnings, fmt.Sprintf("failed to bind %s: %v", binding.EnvVar, err))
			continue
		}

		if binding.Validate == nil {
			continue
		}
		if envValue := os.Getenv(binding.EnvVar); envValue != "" {
			if err := binding.Validate(envValue); err != nil {
				warnings = append(warnings, fmt.Sprintf("invalid %s value %q: %v", binding.EnvVar, envValue, err))
			}
		}
	}

	if len(warnings) > 0 {
		return fmt.Errorf("environment variable issues:\n  - %s", strings.Join(warnings, "\n  - "))
	}
	return nil
}

// configureEnvironmentVariables enables ECOSCOUT_SECTION_KEY lookups for
// every key and binds the explicitly named variables.
func configureEnvironmentVariables(v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return bindEnvVars(v)
}

func validateEnvBool(value string) error {
	if _, err := strconv.ParseBool(value); err != nil {
		return fmt.Errorf("must be true/false, 1/0, t/f")
	}
	return nil
}

func validateEnvPort(value string) error {
	port, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid port: %w", err)
	}
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

func validateEnvURL(value string) error {
	u, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("URL must include scheme and host")
	}
	return nil
}

func validateEnvUnitInterval(value string) error {
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fmt.Errorf("invalid number: %w", err)
	}
	if f < 0 || f > 1 {
		return fmt.Errorf("must be between 0.0 and 1.0, got %g", f)
	}
	return nil
}

func validateEnvThreads(value string) error {
	threads, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid threads: %w", err)
	}
	if threads < 0 {
		return fmt.Errorf("threads must be non-negative, got %d", threads)
	}
	return nil
}

func validateEnvStride(value string) error {
	stride, err := strconv.Atoi(value)
	if err != nil {
		return fmt.Errorf("invalid stride: %w", err)
	}
	if stride < 1 {
		return fmt.Errorf("stride must be at least 1, got %d", stride)
	}
	return nil
}

func validateEnvDuration(value string) error {
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}
	return nil
}

func validateEnvOCRBackend(value string) error {
	return validateOneOf(value, ocrBackends)
}

func validateEnvLedgerBackend(value string) error {
	return validateOneOf(value, ledgerBackends)
}

func validateOneOf(value string, valid []string) error {
	if slices.Contains(valid, strings.ToLower(value)) {
		return nil
	}
	return fmt.Errorf("must be one of: %s", strings.Join(valid, ", "))
}
