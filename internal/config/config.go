// Package config loads service settings from defaults, an optional YAML
// file and environment variables, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	ModeInline = "inline"
	ModeQueue  = "queue"
)

type Config struct {
	APIPort         string        `mapstructure:"api_port"`
	LogLevel        string        `mapstructure:"log_level"`
	Environment     string        `mapstructure:"environment"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`

	PipelineMode        string        `mapstructure:"pipeline_mode"`
	ProgressSettleDelay time.Duration `mapstructure:"progress_settle_delay"`
	StagingPath         string        `mapstructure:"staging_path"`
	MaxUploadBytes      int64         `mapstructure:"max_upload_bytes"`

	NATSURL             string        `mapstructure:"nats_url"`
	NATSBatchSubject    string        `mapstructure:"nats_batch_subject"`
	NATSEventSubject    string        `mapstructure:"nats_event_subject"`
	NATSDispatchTimeout time.Duration `mapstructure:"nats_dispatch_timeout"`

	// WorkerLease is how long the API waits for the next worker event
	// before it abandons a queued batch.
	WorkerLease time.Duration `mapstructure:"worker_lease"`

	OCRURL      string        `mapstructure:"ocr_url"`
	OCRAPIKey   string        `mapstructure:"ocr_api_key"`
	OCRLanguage string        `mapstructure:"ocr_language"`
	OCREngine   int           `mapstructure:"ocr_engine"`
	OCRTimeout  time.Duration `mapstructure:"ocr_timeout"`

	RetryMaxAttempts    int           `mapstructure:"retry_max_attempts"`
	BreakerMinRequests  uint32        `mapstructure:"breaker_min_requests"`
	BreakerFailureRatio float64       `mapstructure:"breaker_failure_ratio"`
	BreakerOpenTimeout  time.Duration `mapstructure:"breaker_open_timeout"`

	HFURL     string        `mapstructure:"hf_url"`
	HFToken   string        `mapstructure:"hf_token"`
	HFModel   string        `mapstructure:"hf_model"`
	HFTimeout time.Duration `mapstructure:"hf_timeout"`

	PostgresDSN string `mapstructure:"postgres_dsn"`

	RateLimitRPS        float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst      int     `mapstructure:"rate_limit_burst"`
	MaxInFlightRequests int     `mapstructure:"max_in_flight_requests"`

	CORSAllowedOrigins []string `mapstructure:"cors_allowed_origins"`

	WorkerMetricsPort string `mapstructure:"worker_metrics_port"`
}

// Load reads ./config/scanpipe.yaml or /etc/scanpipe/scanpipe.yaml when
// present; environment variables named after the upper-cased keys
// (API_PORT, OCR_TIMEOUT, ...) override both.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.AutomaticEnv()

	v.SetConfigName("scanpipe")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/scanpipe")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.PipelineMode = strings.ToLower(strings.TrimSpace(cfg.PipelineMode))

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.PipelineMode {
	case ModeInline:
	case ModeQueue:
		if strings.TrimSpace(c.NATSURL) == "" {
			return errors.New("NATS_URL is required when PIPELINE_MODE=queue")
		}
	default:
		return fmt.Errorf("unknown PIPELINE_MODE %q (want %s or %s)", c.PipelineMode, ModeInline, ModeQueue)
	}
	if c.MaxUploadBytes <= 0 {
		return errors.New("MAX_UPLOAD_BYTES must be positive")
	}
	if c.OCRTimeout <= 0 {
		return errors.New("OCR_TIMEOUT must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api_port", "8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("environment", "production")
	v.SetDefault("shutdown_timeout", 15*time.Second)

	v.SetDefault("pipeline_mode", ModeInline)
	v.SetDefault("progress_settle_delay", 400*time.Millisecond)
	v.SetDefault("staging_path", "./data/staging")
	v.SetDefault("max_upload_bytes", int64(32<<20))

	v.SetDefault("nats_url", "")
	v.SetDefault("nats_batch_subject", "scanpipe.batches")
	v.SetDefault("nats_event_subject", "scanpipe.events")
	v.SetDefault("nats_dispatch_timeout", 10*time.Second)
	v.SetDefault("worker_lease", 3*time.Minute)

	v.SetDefault("ocr_url", "https://api.ocr.space/parse/image")
	v.SetDefault("ocr_api_key", "helloworld")
	v.SetDefault("ocr_language", "eng")
	v.SetDefault("ocr_engine", 2)
	v.SetDefault("ocr_timeout", 120*time.Second)

	v.SetDefault("retry_max_attempts", 3)
	v.SetDefault("breaker_min_requests", 10)
	v.SetDefault("breaker_failure_ratio", 0.5)
	v.SetDefault("breaker_open_timeout", 30*time.Second)

	v.SetDefault("hf_url", "https://api-inference.huggingface.co")
	v.SetDefault("hf_token", "")
	v.SetDefault("hf_model", "mistralai/Mistral-7B-Instruct-v0.2")
	v.SetDefault("hf_timeout", 60*time.Second)

	v.SetDefault("postgres_dsn", "")

	v.SetDefault("rate_limit_rps", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("max_in_flight_requests", 64)
	v.SetDefault("cors_allowed_origins", []string{"*"})

	v.SetDefault("worker_metrics_port", "9090")
}
