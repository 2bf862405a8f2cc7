package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Store backends
const (
	StoreDynamoDB = "dynamodb"
	StoreBadger   = "badger"
	StoreMemory   = "memory"
)

// Config holds all application configuration
type Config struct {
	// Service whose traffic is captured and documented
	ServiceName string
	Environment string

	// Server configuration
	ServerAddress  string
	AllowedOrigins []string

	// AWS configuration
	AWSRegion string
	TableName string
	IsLambda  bool

	// Storage
	StoreBackend  string
	BadgerPath    string
	RetentionDays int

	// Capture pipeline
	BufferMaxSize       int
	BufferFlushInterval time.Duration
	MaxConcurrentWrites int
	MaxBodyDepth        int
	CaptureSelf         bool

	// Logging
	LogLevel string

	// Authentication
	JWTSecret          string
	JWTIssuer          string
	RateLimitPerMinute int

	// Observability
	EnableMetrics    bool
	EnableTracing    bool
	OTLPEndpoint     string
	MetricsNamespace string

	// ConfigFile is the optional YAML overlay, also watched for changes
	ConfigFile string
}

// LoadConfig loads configuration from environment variables and applies
// the YAML file named by CONFIG_FILE on top
func LoadConfig() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", ""),
		Environment: getEnv("ENVIRONMENT", "development"),

		ServerAddress:  getEnv("SERVER_ADDRESS", ":8080"),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"*"}),

		AWSRegion: getEnv("AWS_REGION", getEnv("AWS_DEFAULT_REGION", "us-east-1")),
		TableName: getEnv("TABLE_NAME", "consumerdocs"),
		IsLambda:  getEnv("AWS_LAMBDA_FUNCTION_NAME", "") != "",

		StoreBackend:  getEnv("STORE_BACKEND", StoreDynamoDB),
		BadgerPath:    getEnv("BADGER_PATH", "./data/consumerdocs"),
		RetentionDays: getEnvInt("RETENTION_DAYS", 90),

		BufferMaxSize:       getEnvInt("BUFFER_MAX_SIZE", 100),
		BufferFlushInterval: getEnvDuration("BUFFER_FLUSH_INTERVAL", 30*time.Second),
		MaxConcurrentWrites: getEnvInt("MAX_CONCURRENT_WRITES", 10),
		MaxBodyDepth:        getEnvInt("MAX_BODY_DEPTH", 3),
		CaptureSelf:         getEnvBool("CAPTURE_SELF", false),

		LogLevel: getEnv("LOG_LEVEL", "info"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		JWTIssuer:          getEnv("JWT_ISSUER", "consumerdocs"),
		RateLimitPerMinute: getEnvInt("RATE_LIMIT_PER_MINUTE", 0),

		EnableMetrics:    getEnvBool("ENABLE_METRICS", true),
		EnableTracing:    getEnvBool("ENABLE_TRACING", false),
		OTLPEndpoint:     getEnv("OTLP_ENDPOINT", "localhost:4317"),
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "consumerdocs"),

		ConfigFile: getEnv("CONFIG_FILE", ""),
	}

	if cfg.ConfigFile != "" {
		fc, err := LoadFile(cfg.ConfigFile)
		if err != nil {
			return nil, err
		}
		fc.ApplyTo(cfg)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for values the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.BufferMaxSize <= 0 {
		errs = append(errs, fmt.Errorf("BUFFER_MAX_SIZE must be positive, got %d", c.BufferMaxSize))
	}
	if c.BufferFlushInterval <= 0 {
		errs = append(errs, fmt.Errorf("BUFFER_FLUSH_INTERVAL must be positive, got %s", c.BufferFlushInterval))
	}
	if c.MaxConcurrentWrites <= 0 {
		errs = append(errs, fmt.Errorf("MAX_CONCURRENT_WRITES must be positive, got %d", c.MaxConcurrentWrites))
	}
	if c.RetentionDays <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_DAYS must be positive, got %d", c.RetentionDays))
	}
	switch c.StoreBackend {
	case StoreDynamoDB:
		if c.TableName == "" {
			errs = append(errs, errors.New("TABLE_NAME is required for the dynamodb store"))
		}
	case StoreBadger:
		if c.BadgerPath == "" {
			errs = append(errs, errors.New("BADGER_PATH is required for the badger store"))
		}
	case StoreMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_BACKEND %q", c.StoreBackend))
	}
	if c.CaptureSelf && c.ServiceName == "" {
		errs = append(errs, errors.New("SERVICE_NAME is required when CAPTURE_SELF is enabled"))
	}
	if c.IsProduction() && c.StoreBackend == StoreMemory {
		errs = append(errs, errors.New("the memory store cannot be used in production"))
	}
	return errors.Join(errs...)
}

// Retention is how long records live after they were last seen
func (c *Config) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// IsDevelopment checks if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction checks if running in production mode
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// FileConfig is the YAML overlay. Absent keys leave the environment value
// in place.
type FileConfig struct {
	ServiceName         *string        `yaml:"service_name"`
	TableName           *string        `yaml:"table_name"`
	StoreBackend        *string        `yaml:"store_backend"`
	RetentionDays       *int           `yaml:"retention_days"`
	MaxConcurrentWrites *int           `yaml:"max_concurrent_writes"`
	MaxBodyDepth        *int           `yaml:"max_body_depth"`
	LogLevel            *string        `yaml:"log_level"`
	Buffer              BufferSettings `yaml:"buffer"`
}

// BufferSettings are the buffer limits that may change at runtime
type BufferSettings struct {
	MaxSize       *int           `yaml:"max_size"`
	FlushInterval *time.Duration `yaml:"flush_interval"`
}

// LoadFile reads a YAML overlay file
func LoadFile(path string) (*FileConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	fc := &FileConfig{}
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(fc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return fc, nil
}

// ApplyTo overlays the keys present in the file onto cfg
func (fc *FileConfig) ApplyTo(cfg *Config) {
	setIf(&cfg.ServiceName, fc.ServiceName)
	setIf(&cfg.TableName, fc.TableName)
	setIf(&cfg.StoreBackend, fc.StoreBackend)
	setIf(&cfg.RetentionDays, fc.RetentionDays)
	setIf(&cfg.MaxConcurrentWrites, fc.MaxConcurrentWrites)
	setIf(&cfg.MaxBodyDepth, fc.MaxBodyDepth)
	setIf(&cfg.LogLevel, fc.LogLevel)
	setIf(&cfg.BufferMaxSize, fc.Buffer.MaxSize)
	setIf(&cfg.BufferFlushInterval, fc.Buffer.FlushInterval)
}

func setIf[T any](dst *T, src *T) {
	if src != nil {
		*dst = *src
	}
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable with a default value
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt gets an integer environment variable with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("30s") or plain seconds ("30")
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(value, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultValue
}

// getEnvList splits a comma separated variable
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
