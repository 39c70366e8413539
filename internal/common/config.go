package common

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Server    ServerConfig
	Pipeline  PipelineConfig
	OCR       OCRConfig
	LLM       LLMConfig
	Storage   StorageConfig
	Ingest    IngestConfig
	Telemetry TelemetryConfig
	Log       LogConfig
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	DSN              string
	MaxConns         int32
	MinConns         int32
	MaxConnLifetime  time.Duration
	MaxConnIdleTime  time.Duration
	DialTimeout      time.Duration
	StatementTimeout time.Duration
	AutoMigrate      bool
}

// ServerConfig holds the daemon listeners
type ServerConfig struct {
	GRPCAddr    string
	MetricsAddr string
}

// PipelineConfig holds staging and scheduling knobs
type PipelineConfig struct {
	MaxAttempts    int
	BackendTimeout time.Duration
	PollInterval   time.Duration
	PollLimit      int
	Workers        int
	TextBatchSize  int
	StaleAfter     time.Duration
	RequiredFields []string
	PdftotextPath  string
}

// OCRConfig holds the structured OCR backend settings
type OCRConfig struct {
	APIURL          string
	APIKey          string
	ModelID         string
	Timeout         time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

// Available reports whether OCR credentials are configured.
func (c OCRConfig) Available() bool {
	return c.APIURL != "" && c.APIKey != ""
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Model             string
	APIKey            string
	BaseURL           string
	Temperature       float32
	Timeout           time.Duration
	RequestsPerMinute int
}

// StorageConfig selects where raw document bytes live
type StorageConfig struct {
	Backend        string // "minio" or "dir"
	Dir            string
	MinIOEndpoint  string
	MinIOAccessKey string
	MinIOSecretKey string
	MinIOBucket    string
	MinIOUseSSL    bool
}

// IngestConfig enables the inbox directory watcher of the daemon
type IngestConfig struct {
	WatchDirs     []string
	WatchOwner    string
	WatchDebounce time.Duration
	Concurrency   int
}

// TelemetryConfig mirrors the standard OTEL_* variables
type TelemetryConfig struct {
	Disabled    bool
	ServiceName string
	Protocol    string // "grpc" or "http/protobuf"
	Sampler     string
	SamplerArg  string
}

// LogConfig selects the slog handler
type LogConfig struct {
	Level  string
	Format string // "json" or "text"
}

// LoadConfig loads configuration from environment variables, after applying a .env file if one exists.
func LoadConfig() *Config {
	// .env is optional and never overrides variables already set
	_ = godotenv.Load()
	return &Config{
		Database: DatabaseConfig{
			DSN:              getEnv("DB_URL", ""),
			MaxConns:         getEnvAsInt32("DB_MAX_CONNS", 20),
			MinConns:         getEnvAsInt32("DB_MIN_CONNS", 2),
			MaxConnLifetime:  getEnvAsDuration("DB_MAX_CONN_LIFETIME", 30*time.Minute),
			MaxConnIdleTime:  getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 5*time.Minute),
			DialTimeout:      getEnvAsDuration("DB_DIAL_TIMEOUT", 3*time.Second),
			StatementTimeout: getEnvAsDuration("DB_STATEMENT_TIMEOUT", 0),
			AutoMigrate:      getEnvAsBool("DB_AUTO_MIGRATE", true),
		},
		Server: ServerConfig{
			GRPCAddr:    getEnv("GRPC_ADDR", ":8080"),
			MetricsAddr: getEnv("METRICS_ADDR", ":9090"),
		},
		Pipeline: PipelineConfig{
			MaxAttempts:    getEnvAsInt("PIPELINE_MAX_ATTEMPTS", 3),
			BackendTimeout: getEnvAsDuration("PIPELINE_BACKEND_TIMEOUT", 90*time.Second),
			PollInterval:   getEnvAsDuration("PIPELINE_POLL_INTERVAL", 30*time.Second),
			PollLimit:      getEnvAsInt("PIPELINE_POLL_LIMIT", 25),
			Workers:        getEnvAsInt("PIPELINE_WORKERS", 1),
			TextBatchSize:  getEnvAsInt("PIPELINE_TEXT_BATCH_SIZE", 5),
			StaleAfter:     getEnvAsDuration("PIPELINE_STALE_AFTER", 15*time.Minute),
			RequiredFields: getEnvAsList("PIPELINE_REQUIRED_FIELDS", []string{"amount"}),
			PdftotextPath:  getEnv("PDFTOTEXT_PATH", ""),
		},
		OCR: OCRConfig{
			APIURL:          getEnv("OCR_API_URL", ""),
			APIKey:          getEnv("OCR_API_KEY", ""),
			ModelID:         getEnv("OCR_MODEL_ID", ""),
			Timeout:         getEnvAsDuration("OCR_TIMEOUT", 60*time.Second),
			BreakerFailures: uint32(getEnvAsInt("OCR_BREAKER_FAILURES", 5)),
			BreakerCooldown: getEnvAsDuration("OCR_BREAKER_COOLDOWN", time.Minute),
		},
		LLM: LLMConfig{
			Model:             getEnv("LLM_MODEL", "gpt-4o-mini"),
			APIKey:            getEnv("LLM_API_KEY", getEnv("OPENAI_API_KEY", "")),
			BaseURL:           getEnv("LLM_BASE_URL", ""),
			Temperature:       getEnvAsFloat32("LLM_TEMPERATURE", 0.0),
			Timeout:           getEnvAsDuration("LLM_TIMEOUT", 60*time.Second),
			RequestsPerMinute: getEnvAsInt("LLM_REQUESTS_PER_MINUTE", 60),
		},
		Storage: StorageConfig{
			Backend:        strings.ToLower(getEnv("STORAGE_BACKEND", "dir")),
			Dir:            getEnv("STORAGE_DIR", "./data/objects"),
			MinIOEndpoint:  getEnv("MINIO_ENDPOINT", ""),
			MinIOAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
			MinIOSecretKey: getEnv("MINIO_SECRET_KEY", ""),
			MinIOBucket:    getEnv("MINIO_BUCKET", "expense-documents"),
			MinIOUseSSL:    getEnvAsBool("MINIO_USE_SSL", false),
		},
		Ingest: IngestConfig{
			WatchDirs:     getEnvAsList("INGEST_WATCH_DIRS", nil),
			WatchOwner:    getEnv("INGEST_WATCH_OWNER", ""),
			WatchDebounce: getEnvAsDuration("INGEST_WATCH_DEBOUNCE", 2*time.Second),
			Concurrency:   getEnvAsInt("INGEST_CONCURRENCY", 4),
		},
		Telemetry: TelemetryConfig{
			Disabled:    getEnvAsBool("OTEL_SDK_DISABLED", os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" && os.Getenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT") == ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", "expense-intake"),
			Protocol:    getEnv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc"),
			Sampler:     getEnv("OTEL_TRACES_SAMPLER", "parentbased_traceidratio"),
			SamplerArg:  getEnv("OTEL_TRACES_SAMPLER_ARG", "1.0"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getEnvAsList splits a comma-separated value, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Pipeline.MaxAttempts < 1 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_MAX_ATTEMPTS must be at least 1", ErrInvalidInput)
	}
	if c.Pipeline.BackendTimeout <= 0 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_BACKEND_TIMEOUT must be positive", ErrInvalidInput)
	}
	if c.Pipeline.Workers < 1 {
		return NewAppError("CONFIG_ERROR", "PIPELINE_WORKERS must be at least 1", ErrInvalidInput)
	}
	if c.LLM.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "LLM_API_KEY is required", ErrInvalidInput)
	}
	if len(c.Ingest.WatchDirs) > 0 {
		if _, err := uuid.Parse(c.Ingest.WatchOwner); err != nil {
			return NewAppError("CONFIG_ERROR", "INGEST_WATCH_OWNER must be a uuid when INGEST_WATCH_DIRS is set", ErrInvalidInput)
		}
	}
	switch c.Storage.Backend {
	case "dir":
		if c.Storage.Dir == "" {
			return NewAppError("CONFIG_ERROR", "STORAGE_DIR is required for the dir backend", ErrInvalidInput)
		}
	case "minio":
		if c.Storage.MinIOEndpoint == "" || c.Storage.MinIOBucket == "" {
			return NewAppError("CONFIG_ERROR", "MINIO_ENDPOINT and MINIO_BUCKET are required for the minio backend", ErrInvalidInput)
		}
	default:
		return NewAppError("CONFIG_ERROR", "STORAGE_BACKEND must be dir or minio", ErrInvalidInput)
	}
	return nil
}
