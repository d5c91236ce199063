// Package conf loads EcoScout settings from config.yaml, environment
// variables and built-in defaults.
package conf

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/ecoscout/ecoscout-go/internal/errors"
	"github.com/ecoscout/ecoscout-go/internal/logger"
	"github.com/ecoscout/ecoscout-go/internal/model"
)

//go:embed config.yaml
var configFiles embed.FS

// MainSettings holds process-wide identity settings.
type MainSettings struct {
	Name    string `yaml:"name"`    // instance name, shown in notifications
	DataDir string `yaml:"datadir"` // base directory for media and the ledger
}

// RateLimitSettings limits uploads per client IP.
type RateLimitSettings struct {
	Enabled bool    `yaml:"enabled"`
	Rate    float64 `yaml:"rate"`  // requests per second
	Burst   int     `yaml:"burst"` // bucket size
}

// ServerSettings contains HTTP server settings.
type ServerSettings struct {
	Host            string            `yaml:"host"`
	Port            int               `yaml:"port"`
	PublicURL       string            `yaml:"publicurl"`   // base URL used in annotated and evidence links
	CORSOrigins     []string          `yaml:"corsorigins"` // allowed origins, "*" for all
	BodyLimit       string            `yaml:"bodylimit"`   // echo body limit, e.g. "200M"
	ShutdownTimeout time.Duration     `yaml:"shutdowntimeout"`
	RateLimit       RateLimitSettings `yaml:"ratelimit"`
	ReportCacheTTL  time.Duration     `yaml:"reportcachettl"`
}

// MediaSettings locates the upload and results areas.
type MediaSettings struct {
	UploadsDir string `yaml:"uploadsdir"`
	ResultsDir string `yaml:"resultsdir"`
}

// DetectorSettings configures the ONNX object detector.
type DetectorSettings struct {
	ModelPath           string   `yaml:"modelpath"`
	LabelPath           string   `yaml:"labelpath"` // one label per line, overrides Labels
	Labels              []string `yaml:"labels"`
	RuntimeLibrary      string   `yaml:"runtimelibrary"` // path to the onnxruntime shared library
	InputSize           int      `yaml:"inputsize"`
	ConfidenceThreshold float64  `yaml:"confidencethreshold"`
	IoUThreshold        float64  `yaml:"iouthreshold"`
	Threads             int      `yaml:"threads"` // 0 = physical cores
	PoolSize            int      `yaml:"poolsize"`
}

// RemoteOCRSettings configures the HTTP recognizer backend.
type RemoteOCRSettings struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"apikey"`
	Timeout time.Duration `yaml:"timeout"`
}

// CRNNSettings configures the TFLite recognizer backend.
type CRNNSettings struct {
	ModelPath string `yaml:"modelpath"`
	Threads   int    `yaml:"threads"`
}

// OCRSettings configures plate recognition and result acceptance.
type OCRSettings struct {
	Backend       string            `yaml:"backend"` // tesseract, remote or crnn
	Language      string            `yaml:"language"`
	Allowlist     string            `yaml:"allowlist"`
	MinConfidence float64           `yaml:"minconfidence"` // mean confidence must exceed this (0..1)
	MinLength     int               `yaml:"minlength"`     // joined text must be longer than this
	Remote        RemoteOCRSettings `yaml:"remote"`
	CRNN          CRNNSettings      `yaml:"crnn"`
}

// AnalysisSettings configures violation classification and preprocessing.
type AnalysisSettings struct {
	Violations []string `yaml:"violations"` // labels treated as violations, case-insensitive
	CLAHEClip  float64  `yaml:"claheclip"`
	Upscale    float64  `yaml:"upscale"`
}

// VideoSettings configures frame sampling and output encoding.
type VideoSettings struct {
	Stride            int     `yaml:"stride"`
	MaxEvidenceFrames int     `yaml:"maxevidenceframes"` // 0 = unlimited
	Codec             string  `yaml:"codec"`
	FallbackCodec     string  `yaml:"fallbackcodec"`
	DefaultFPS        float64 `yaml:"defaultfps"` // used when the container reports fps <= 0
}

// SQLiteSettings configures the SQLite ledger backend.
type SQLiteSettings struct {
	Path string `yaml:"path"`
}

// MySQLSettings configures the MySQL ledger backend.
type MySQLSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// PostgresSettings configures the PostgreSQL ledger backend.
type PostgresSettings struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"sslmode"`
}

// LedgerSettings selects and configures the history ledger backend.
type LedgerSettings struct {
	Backend  string           `yaml:"backend"` // json, sqlite, mysql or postgres
	Path     string           `yaml:"path"`    // history.json location for the json backend
	SQLite   SQLiteSettings   `yaml:"sqlite"`
	MySQL    MySQLSettings    `yaml:"mysql"`
	Postgres PostgresSettings `yaml:"postgres"`
}

// MQTTSettings configures the MQTT publisher.
type MQTTSettings struct {
	Enabled  bool          `yaml:"enabled"`
	Broker   string        `yaml:"broker"`
	ClientID string        `yaml:"clientid"`
	Username string        `yaml:"username"`
	Password string        `yaml:"password"`
	Topic    string        `yaml:"topic"`
	Timeout  time.Duration `yaml:"timeout"`
}

// NATSSettings configures the NATS publisher.
type NATSSettings struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
}

// NotifySettings configures shoutrrr notifications for violations.
type NotifySettings struct {
	Enabled bool     `yaml:"enabled"`
	URLs    []string `yaml:"urls"`
}

// EventSettings groups the analysis event sinks.
type EventSettings struct {
	MQTT   MQTTSettings   `yaml:"mqtt"`
	NATS   NATSSettings   `yaml:"nats"`
	Notify NotifySettings `yaml:"notify"`
}

// MetricsSettings configures the Prometheus endpoint.
type MetricsSettings struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// SentrySettings configures error telemetry.
type SentrySettings struct {
	Enabled     bool   `yaml:"enabled"`
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// Settings contains all configuration options for EcoScout.
type Settings struct {
	Debug    bool                 `yaml:"debug"`
	Main     MainSettings         `yaml:"main"`
	Server   ServerSettings       `yaml:"server"`
	Media    MediaSettings        `yaml:"media"`
	Detector DetectorSettings     `yaml:"detector"`
	OCR      OCRSettings          `yaml:"ocr"`
	Analysis AnalysisSettings     `yaml:"analysis"`
	Video    VideoSettings        `yaml:"video"`
	Ledger   LedgerSettings       `yaml:"ledger"`
	Events   EventSettings        `yaml:"events"`
	Metrics  MetricsSettings      `yaml:"metrics"`
	Sentry   SentrySettings       `yaml:"sentry"`
	Logging  logger.LoggingConfig `yaml:"logging"`
}

var (
	settingsInstance *Settings
	settingsMutex    sync.RWMutex
)

// Load reads configuration into a new Settings. An explicit configFile is read
// as-is; otherwise the default search paths are tried and a default
// config.yaml is written to the first of them when none exists.
func Load(configFile string) (*Settings, error) {
	settingsMutex.Lock()
	defer settingsMutex.Unlock()

	v := viper.New()
	if err := initViper(v, configFile); err != nil {
		return nil, fmt.Errorf("error initializing viper: %w", err)
	}

	settings := &Settings{}
	if err := v.Unmarshal(settings); err != nil {
		return nil, errors.New(err).
			Category(errors.CategoryConfiguration).
			Context("operation", "unmarshal-settings").
			Build()
	}

	settings.Detector.RuntimeLibrary = os.ExpandEnv(settings.Detector.RuntimeLibrary)

	if err := ValidateSettings(settings); err != nil {
		return nil, fmt.Errorf("error validating settings: %w", err)
	}

	settingsInstance = settings
	return settings, nil
}

// initViper applies defaults and environment bindings, then reads the config file.
func initViper(v *viper.Viper, configFile string) error {
	setDefaultConfig(v)

	if err := configureEnvironmentVariables(v); err != nil {
		GetLogger().Warn("environment configuration problems", logger.Error(err))
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return errors.New(err).
				Category(errors.CategoryConfiguration).
				FileContext(configFile, 0).
				Build()
		}
		return nil
	}

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	configPaths, err := GetDefaultConfigPaths()
	if err != nil {
		return fmt.Errorf("error getting default config paths: %w", err)
	}
	for _, path := range configPaths {
		v.AddConfigPath(path)
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return createDefaultConfig(v, configPaths[0])
		}
		return fmt.Errorf("fatal error reading config file: %w", err)
	}

	return nil
}

// createDefaultConfig writes the embedded config.yaml into dir and reads it back.
func createDefaultConfig(v *viper.Viper, dir string) error {
	configPath := filepath.Join(dir, "config.yaml")

	data, err := fs.ReadFile(configFiles, "config.yaml")
	if err != nil {
		return fmt.Errorf("error reading embedded config: %w", err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil { //nolint:gosec // config dir is not secret
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "create-config-dir").
			Build()
	}

	if err := os.WriteFile(configPath, data, 0o600); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			FileContext(configPath, int64(len(data))).
			Build()
	}

	GetLogger().Info("created default config file", logger.String("path", configPath))

	v.SetConfigFile(configPath)
	return v.ReadInConfig()
}

// GetSettings returns the settings from the last successful Load.
func GetSettings() *Settings {
	settingsMutex.RLock()
	defer settingsMutex.RUnlock()
	return settingsInstance
}

// SaveYAMLConfig writes settings to configPath atomically. Comments and key
// order of an existing file are not preserved.
func SaveYAMLConfig(configPath string, settings *Settings) error {
	yamlData, err := yaml.Marshal(settings)
	if err != nil {
		return fmt.Errorf("error marshaling settings to YAML: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(configPath), "config-*.yaml")
	if err != nil {
		return fmt.Errorf("error creating temporary file: %w", err)
	}
	tempFileName := tempFile.Name()
	defer os.Remove(tempFileName) //nolint:errcheck // gone after a successful rename

	if _, err := tempFile.Write(yamlData); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("error writing to temporary file: %w", err)
	}
	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("error closing temporary file: %w", err)
	}

	if err := os.Rename(tempFileName, configPath); err != nil {
		return errors.New(err).
			Category(errors.CategoryFileIO).
			Context("operation", "replace-config").
			Build()
	}
	return nil
}

// ViolationSet returns the configured violation labels as a case-insensitive set.
func (s *Settings) ViolationSet() model.ViolationSet {
	return model.NewViolationSet(s.Analysis.Violations...)
}

// ResolvePath anchors a relative path at Main.DataDir.
func (s *Settings) ResolvePath(path string) string {
	if path == "" || filepath.IsAbs(path) || s.Main.DataDir == "" {
		return path
	}
	return filepath.Join(s.Main.DataDir, path)
}
