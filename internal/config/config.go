/**
 * Configuration for the PDF Extraction Worker
 *
 * Loads configuration from environment variables (optionally seeded from .env)
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/adverant/nexus/pdfextract-worker/internal/errors"
)

const (
	OCRModeCloud         = "cloud"
	OCRModeLocalFallback = "local-fallback"

	QueueBackendList  = "list"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// OCR policy
	OCRMode             string `validate:"oneof=cloud local-fallback"`
	OCRAPIKey           string `validate:"required_if=OCRMode cloud"`
	OCRAPIURL           string `validate:"required,url"`
	OCRModel            string `validate:"required"`
	OCRLanguage         string `validate:"required"`
	OCRRenderDPI        int    `validate:"min=72,max=600"`
	OCRMaxPages         int    `validate:"min=0"`
	OCRMinTextThreshold int    `validate:"min=0"`
	UseOCRFallback      bool
	ExtractImages       bool

	// Redis configuration
	RedisURL     string `validate:"required"`
	QueueName    string `validate:"required"`
	QueueBackend string `validate:"oneof=list asynq"`
	HandoffQueue string

	// PostgreSQL configuration (empty disables persistence)
	DatabaseURL string

	// Worker configuration
	WorkerConcurrency int   `validate:"min=1,max=100"`
	MaxFileSize       int64 `validate:"min=1024,max=10737418240"` // 1KB to 10GB
	ProcessingTimeout int   `validate:"min=1000"`                 // milliseconds

	// Temporary directory for file processing
	TempDir string `validate:"required"`

	LogLevel string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := FromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, errors.NewConfigurationError("configuration validation failed", err)
	}

	return cfg, nil
}

// FromEnv reads configuration without validating it, so callers can apply
// overrides first
func FromEnv() *Config {
	return &Config{
		OCRMode:             strings.ToLower(getEnvOrDefault("OCR_MODE", OCRModeLocalFallback)),
		OCRAPIKey:           getEnvOrDefault("OCR_API_KEY", ""),
		OCRAPIURL:           getEnvOrDefault("OCR_API_URL", "https://api.mistral.ai"),
		OCRModel:            getEnvOrDefault("OCR_MODEL", "mistral-ocr-latest"),
		OCRLanguage:         getEnvOrDefault("OCR_LANGUAGE", "eng"),
		OCRRenderDPI:        getEnvAsIntOrDefault("OCR_RENDER_DPI", 300),
		OCRMaxPages:         getEnvAsIntOrDefault("OCR_MAX_PAGES", 0),
		OCRMinTextThreshold: getEnvAsIntOrDefault("PDF_OCR_MIN_TEXT_THRESHOLD", 50),
		UseOCRFallback:      getEnvAsBoolOrDefault("PDF_USE_OCR_FALLBACK", true),
		ExtractImages:       getEnvAsBoolOrDefault("PDF_EXTRACT_IMAGES", false),
		RedisURL:            getEnvOrDefault("REDIS_URL", "redis://nexus-redis:6379"),
		QueueName:           getEnvOrDefault("QUEUE_NAME", "pdfextract:jobs"),
		QueueBackend:        strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", QueueBackendList)),
		HandoffQueue:        getEnvOrDefault("HANDOFF_QUEUE", "document-chunking"),
		DatabaseURL:         getEnvOrDefault("DATABASE_URL", ""),
		WorkerConcurrency:   getEnvAsIntOrDefault("WORKER_CONCURRENCY", 4),
		MaxFileSize:         getEnvAsInt64OrDefault("MAX_FILE_SIZE", 524288000), // 500MB
		ProcessingTimeout:   getEnvAsIntOrDefault("PROCESSING_TIMEOUT", 300000), // 5 minutes
		TempDir:             getEnvOrDefault("TEMP_DIR", "/tmp/pdfextract"),
		LogLevel:            getEnvOrDefault("LOG_LEVEL", "info"),
	}
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		return nil
	}

	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return err
	}

	messages := make([]string, 0, len(validationErrors))
	for _, fe := range validationErrors {
		messages = append(messages, describe(fe))
	}
	return fmt.Errorf("%s", strings.Join(messages, "; "))
}

// envNames maps struct fields back to the variables they are read from.
var envNames = map[string]string{
	"OCRMode":             "OCR_MODE",
	"OCRAPIKey":           "OCR_API_KEY",
	"OCRAPIURL":           "OCR_API_URL",
	"OCRModel":            "OCR_MODEL",
	"OCRLanguage":         "OCR_LANGUAGE",
	"OCRRenderDPI":        "OCR_RENDER_DPI",
	"OCRMaxPages":         "OCR_MAX_PAGES",
	"OCRMinTextThreshold": "PDF_OCR_MIN_TEXT_THRESHOLD",
	"RedisURL":            "REDIS_URL",
	"QueueName":           "QUEUE_NAME",
	"QueueBackend":        "QUEUE_BACKEND",
	"WorkerConcurrency":   "WORKER_CONCURRENCY",
	"MaxFileSize":         "MAX_FILE_SIZE",
	"ProcessingTimeout":   "PROCESSING_TIMEOUT",
	"TempDir":             "TEMP_DIR",
}

func describe(fe validator.FieldError) string {
	name, ok := envNames[fe.Field()]
	if !ok {
		name = fe.Field()
	}

	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", name)
	case "required_if":
		return fmt.Sprintf("%s is required when OCR_MODE=%s", name, OCRModeCloud)
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got %q", name, fe.Param(), fe.Value())
	case "url":
		return fmt.Sprintf("%s must be a valid URL, got %q", name, fe.Value())
	case "min":
		return fmt.Sprintf("%s must be at least %s, got %v", name, fe.Param(), fe.Value())
	case "max":
		return fmt.Sprintf("%s must be at most %s, got %v", name, fe.Param(), fe.Value())
	default:
		return fmt.Sprintf("%s failed %s validation", name, fe.Tag())
	}
}

// ExtractionConfig is the subset of settings the extraction policy consumes
type ExtractionConfig struct {
	OCRMode          string
	MinTextThreshold int
	OCREnabled       bool
	ExtractImages    bool
}

// ExtractionConfig returns the policy settings so the policy never reads the environment itself
func (c *Config) ExtractionConfig() ExtractionConfig {
	return ExtractionConfig{
		OCRMode:          c.OCRMode,
		MinTextThreshold: c.OCRMinTextThreshold,
		OCREnabled:       c.UseOCRFallback,
		ExtractImages:    c.ExtractImages,
	}
}

// ProcessingTimeoutDuration returns the per-job timeout
func (c *Config) ProcessingTimeoutDuration() time.Duration {
	return time.Duration(c.ProcessingTimeout) * time.Millisecond
}

// CloudMode reports whether every document is sent to the cloud OCR service
func (c *Config) CloudMode() bool {
	return c.OCRMode == OCRModeCloud
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// getEnvAsBoolOrDefault accepts the usual strconv spellings plus yes/no and on/off
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	valueStr := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch valueStr {
	case "":
		return defaultValue
	case "yes", "on":
		return true
	case "no", "off":
		return false
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}

	return value
}
