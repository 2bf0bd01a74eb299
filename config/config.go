package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: generation history is disabled when nil.
	Google        GoogleConfig
	Model         ModelConfig
	Observability ObservabilityConfig
	StaticDir     string
	Environment   string
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int `validate:"min=1,max=65535"`
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DatabaseConfig holds PostgreSQL database configuration.
// When ConnectionString (from DATABASE_URL) is set, it takes precedence over individual fields.
type DatabaseConfig struct {
	ConnectionString string // From DATABASE_URL when set
	Host             string
	Port             int
	User             string
	Password         string
	Database         string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	ConnMaxLifetime  time.Duration
}

// GoogleConfig holds explicit project/region overrides. Empty values are
// resolved from the metadata server at startup.
type GoogleConfig struct {
	ProjectID string
	Region    string
}

// ModelConfig holds the Vertex AI model settings
type ModelConfig struct {
	Name       string `validate:"required"`
	Endpoint   string `validate:"omitempty,url"` // Overrides the regional Vertex endpoint
	Timeout    time.Duration
	MaxRetries int     `validate:"min=0,max=10"`
	RateLimit  float64 `validate:"min=0"` // Calls per second; 0 disables limiting
	RateBurst  int     `validate:"min=0"`

	PromptGuard bool // Rejects subjects that look like prompt injection
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	ServiceName         string
	LogLevel            string `validate:"required,oneof=trace debug info warn error TRACE DEBUG INFO WARN ERROR"`
	MetricsEnabled      bool
	MetricsPort         int `validate:"min=1,max=65535"`
	CloudMetricsEnabled bool
	TracingEnabled      bool
	TracingEndpoint     string
}

var validate = validator.New()

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
		},
		Database: loadDatabaseConfig(),
		Google: GoogleConfig{
			ProjectID: getEnv("GOOGLE_CLOUD_PROJECT", ""),
			Region:    getEnv("LOCATION_ID", ""),
		},
		Model: ModelConfig{
			Name:       getEnv("MODEL_NAME", "gemini-2.5-flash"),
			Endpoint:   getEnv("MODEL_ENDPOINT", ""),
			Timeout:    getEnvAsDuration("MODEL_TIMEOUT", 60*time.Second),
			MaxRetries: getEnvAsInt("MODEL_MAX_RETRIES", 2),
			RateLimit:  getEnvAsFloat("MODEL_RATE_LIMIT", 5),
			RateBurst:  getEnvAsInt("MODEL_RATE_BURST", 10),

			PromptGuard: getEnvAsBool("PROMPT_GUARD_ENABLED", true),
		},
		Observability: ObservabilityConfig{
			ServiceName:         getEnv("K_SERVICE", "genai-facts"),
			LogLevel:            getEnv("LOG_LEVEL", "debug"),
			MetricsEnabled:      getEnvAsBool("METRICS_ENABLED", true),
			MetricsPort:         getEnvAsInt("METRICS_PORT", 9090),
			CloudMetricsEnabled: getEnvAsBool("CLOUD_METRICS_ENABLED", false),
			TracingEnabled:      getEnvAsBool("TRACING_ENABLED", false),
			TracingEndpoint:     getEnv("TRACING_ENDPOINT", "telemetry.googleapis.com:443"),
		},
		StaticDir: getEnv("STATIC_DIR", "./static"),
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}

	if c.Database != nil && c.Database.ConnectionString == "" {
		if c.Database.User == "" {
			return fmt.Errorf("database user is required")
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	}

	if c.Observability.MetricsEnabled && c.Observability.MetricsPort == c.Server.Port {
		return fmt.Errorf("metrics port %d conflicts with server port", c.Observability.MetricsPort)
	}

	return nil
}

// HistoryEnabled reports whether a database is configured for generation history
func (c *Config) HistoryEnabled() bool {
	return c.Database != nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// DSN returns the PostgreSQL connection string.
// Uses ConnectionString (from DATABASE_URL) when set; otherwise builds from individual fields.
func (c *DatabaseConfig) DSN() string {
	if c.ConnectionString != "" {
		return c.ConnectionString
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// LogString returns a safe string for logging (no password). Parses ConnectionString when set.
func (c *DatabaseConfig) LogString() string {
	if c.ConnectionString != "" {
		u, err := url.Parse(c.ConnectionString)
		if err == nil {
			host := u.Hostname()
			port := u.Port()
			if port == "" {
				port = "5432"
			}
			db := strings.TrimPrefix(u.Path, "/")
			return fmt.Sprintf("host=%s port=%s database=%s", host, port, db)
		}
		return "host=<from DATABASE_URL>"
	}
	return fmt.Sprintf("host=%s port=%d database=%s", c.Host, c.Port, c.Database)
}

// loadDatabaseConfig loads database config from DATABASE_URL or DB_* env vars.
// Returns nil when neither DATABASE_URL nor DB_HOST is set.
func loadDatabaseConfig() *DatabaseConfig {
	pool := func(cfg DatabaseConfig) *DatabaseConfig {
		cfg.MaxOpenConns = getEnvAsInt("DB_MAX_OPEN_CONNS", 10)
		cfg.MaxIdleConns = getEnvAsInt("DB_MAX_IDLE_CONNS", 2)
		cfg.ConnMaxLifetime = getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute)
		return &cfg
	}

	if dbURL := getEnv("DATABASE_URL", ""); dbURL != "" {
		return pool(DatabaseConfig{ConnectionString: dbURL})
	}
	host := getEnv("DB_HOST", "")
	if host == "" {
		return nil
	}
	return pool(DatabaseConfig{
		Host:     host,
		Port:     getEnvAsInt("DB_PORT", 5432),
		User:     getEnv("DB_USER", "facts"),
		Password: getEnv("DB_PASSWORD", ""),
		Database: getEnv("DB_NAME", "facts"),
		SSLMode:  getEnv("DB_SSLMODE", "disable"),
	})
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// MetricsAddress returns the metrics server address
func (c *Config) MetricsAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Observability.MetricsPort)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
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

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
