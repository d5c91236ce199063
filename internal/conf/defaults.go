// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"

	"github.com/ecoscout/ecoscout-go/internal/cpuspec"
	"github.com/ecoscout/ecoscout-go/internal/logger"
)

// Default values shared with other packages.
const (
	DefaultAllowlist     = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	DefaultStride        = 5
	DefaultFPS           = 25.0
	DefaultMinConfidence = 0.4
	DefaultMinLength     = 3
)

// setDefaultConfig sets default values for the configuration.
func setDefaultConfig(v *viper.Viper) {
	cpu := cpuspec.GetCPUSpec()

	v.SetDefault("debug", false)

	v.SetDefault("main.name", "EcoScout")
	v.SetDefault("main.datadir", "")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.publicurl", "http://localhost:8000")
	v.SetDefault("server.corsorigins", []string{"*"})
	v.SetDefault("server.bodylimit", "200M")
	v.SetDefault("server.shutdowntimeout", 10*time.Second)
	v.SetDefault("server.ratelimit.enabled", true)
	v.SetDefault("server.ratelimit.rate", 2.0)
	v.SetDefault("server.ratelimit.burst", 10)
	v.SetDefault("server.reportcachettl", 30*time.Minute)

	v.SetDefault("media.uploadsdir", "uploads")
	v.SetDefault("media.resultsdir", "results")

	v.SetDefault("detector.modelpath", "models/yolov8n.onnx")
	v.SetDefault("detector.labelpath", "")
	v.SetDefault("detector.labels", []string{"car", "truck", "bus", "motorcycle", "license_plate", "littering", "smoke"})
	v.SetDefault("detector.runtimelibrary", "")
	v.SetDefault("detector.inputsize", 640)
	v.SetDefault("detector.confidencethreshold", 0.25)
	v.SetDefault("detector.iouthreshold", 0.7)
	v.SetDefault("detector.threads", cpu.GetOptimalThreadCount())
	v.SetDefault("detector.poolsize", cpu.SessionPoolSize())

	v.SetDefault("ocr.backend", "tesseract")
	v.SetDefault("ocr.language", "eng")
	v.SetDefault("ocr.allowlist", DefaultAllowlist)
	v.SetDefault("ocr.minconfidence", DefaultMinConfidence)
	v.SetDefault("ocr.minlength", DefaultMinLength)
	v.SetDefault("ocr.remote.url", "")
	v.SetDefault("ocr.remote.timeout", 15*time.Second)
	v.SetDefault("ocr.crnn.modelpath", "models/plate_crnn.tflite")
	v.SetDefault("ocr.crnn.threads", 1)

	v.SetDefault("analysis.violations", []string{"littering", "smoke"})
	v.SetDefault("analysis.claheclip", 2.0)
	v.SetDefault("analysis.upscale", 2.0)

	v.SetDefault("video.stride", DefaultStride)
	v.SetDefault("video.maxevidenceframes", 0)
	v.SetDefault("video.codec", "avc1")
	v.SetDefault("video.fallbackcodec", "mp4v")
	v.SetDefault("video.defaultfps", DefaultFPS)

	v.SetDefault("ledger.backend", "json")
	v.SetDefault("ledger.path", "history.json")
	v.SetDefault("ledger.sqlite.path", "ecoscout.db")
	v.SetDefault("ledger.mysql.host", "localhost")
	v.SetDefault("ledger.mysql.port", 3306)
	v.SetDefault("ledger.mysql.database", "ecoscout")
	v.SetDefault("ledger.postgres.host", "localhost")
	v.SetDefault("ledger.postgres.port", 5432)
	v.SetDefault("ledger.postgres.database", "ecoscout")
	v.SetDefault("ledger.postgres.sslmode", "disable")

	v.SetDefault("events.mqtt.enabled", false)
	v.SetDefault("events.mqtt.broker", "tcp://localhost:1883")
	v.SetDefault("events.mqtt.clientid", "ecoscout")
	v.SetDefault("events.mqtt.topic", "ecoscout")
	v.SetDefault("events.mqtt.timeout", 5*time.Second)
	v.SetDefault("events.nats.enabled", false)
	v.SetDefault("events.nats.url", "nats://localhost:4222")
	v.SetDefault("events.nats.subject", "ecoscout")
	v.SetDefault("events.notify.enabled", false)
	v.SetDefault("events.notify.urls", []string{})

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetDefault("sentry.enabled", false)
	v.SetDefault("sentry.dsn", "")
	v.SetDefault("sentry.environment", "production")

	v.SetDefault("logging.default_level", logger.DefaultLogLevel)
	v.SetDefault("logging.timezone", "Local")
	v.SetDefault("logging.console.enabled", logger.DefaultConsoleEnabled)
	v.SetDefault("logging.console.level", logger.DefaultLogLevel)
	v.SetDefault("logging.file_output.enabled", logger.DefaultFileEnabled)
	v.SetDefault("logging.file_output.path", logger.DefaultLogPath)
	v.SetDefault("logging.file_output.level", logger.DefaultLogLevel)
}
