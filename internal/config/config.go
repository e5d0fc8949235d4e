package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds all application configuration
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Logger   LoggerConfig
	Print    PrintConfig
	EFT      EFTConfig
	Secrets  SecretsConfig
	Archive  ArchiveConfig
}

// ServerConfig holds the operator HTTP API configuration
type ServerConfig struct {
	Host              string  `validate:"required"`
	Port              int     `validate:"min=1,max=65535"`
	MetricsPort       int     `validate:"min=1,max=65535,nefield=Port"`
	RequestsPerSecond float64 `validate:"gt=0"`
	Burst             int     `validate:"gt=0"`
	MaxRunSize        int     `validate:"gte=0"`
}

// DatabaseConfig holds PostgreSQL configuration
type DatabaseConfig struct {
	Host     string `validate:"required"`
	Port     int    `validate:"min=1,max=65535"`
	User     string `validate:"required"`
	Password string `validate:"required"`
	Database string `validate:"required"`
	SSLMode  string `validate:"oneof=disable allow prefer require verify-ca verify-full"`
	MaxConns int32  `validate:"gt=0,gtefield=MinConns"`
	MinConns int32  `validate:"gte=0"`
}

// LoggerConfig holds logging configuration
type LoggerConfig struct {
	Level       string `validate:"oneof=debug info warn error"`
	Development bool
}

// PrintConfig holds rendering and spooling configuration
type PrintConfig struct {
	TemplateID     string `validate:"required"`
	TemplateDir    string
	LinesPerPage   int     `validate:"gt=0"`
	SpoolDir       string  `validate:"required"`
	PagesPerSecond float64 `validate:"gte=0"`
}

// EFTConfig holds EFT file generation configuration
type EFTConfig struct {
	Formatter string `validate:"required"`
	OutputDir string `validate:"required"`
	// KeyPath is a fmt pattern receiving the bank account id
	KeyPath string `validate:"required"`
}

// SecretsConfig selects where EFT keys come from
type SecretsConfig struct {
	Provider   string `validate:"oneof=local aws vault"`
	LocalPath  string `validate:"required_if=Provider local"`
	AWSRegion  string `validate:"required_if=Provider aws"`
	VaultAddr  string `validate:"required_if=Provider vault,omitempty,url"`
	VaultToken string
	CacheTTL   time.Duration
}

// ArchiveConfig enables S3 archiving of accepted EFT files when Bucket is set
type ArchiveConfig struct {
	Bucket   string
	Region   string `validate:"required_with=Bucket"`
	Endpoint string
	Prefix   string
	KMSKeyID string
}

// LoadFromEnv loads configuration from environment variables and validates it
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:              getEnv("SERVER_HOST", "0.0.0.0"),
			Port:              getEnvAsInt("SERVER_PORT", 8080),
			MetricsPort:       getEnvAsInt("METRICS_PORT", 9090),
			RequestsPerSecond: getEnvAsFloat("RATE_LIMIT_RPS", 20),
			Burst:             getEnvAsInt("RATE_LIMIT_BURST", 40),
			MaxRunSize:        getEnvAsInt("MAX_RUN_SIZE", 0),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			Database: getEnv("DB_NAME", "payment_batch"),
			SSLMode:  getEnv("DB_SSL_MODE", "disable"),
			MaxConns: int32(getEnvAsInt("DB_MAX_CONNS", 10)),
			MinConns: int32(getEnvAsInt("DB_MIN_CONNS", 2)),
		},
		Logger: LoggerConfig{
			Level:       getEnv("LOG_LEVEL", "info"),
			Development: getEnvAsBool("LOG_DEVELOPMENT", false),
		},
		Print: PrintConfig{
			TemplateID:     getEnv("PRINT_TEMPLATE", "check"),
			TemplateDir:    getEnv("PRINT_TEMPLATE_DIR", ""),
			LinesPerPage:   getEnvAsInt("PRINT_LINES_PER_PAGE", 10),
			SpoolDir:       getEnv("PRINT_SPOOL_DIR", "./spool"),
			PagesPerSecond: getEnvAsFloat("PRINT_PAGES_PER_SECOND", 0),
		},
		EFT: EFTConfig{
			Formatter: getEnv("EFT_FORMATTER", "nacha"),
			OutputDir: getEnv("EFT_OUTPUT_DIR", "./eft"),
			KeyPath:   getEnv("EFT_KEY_PATH", "payment-batch/eft/%s/key"),
		},
		Secrets: SecretsConfig{
			Provider:   getEnv("SECRETS_PROVIDER", "local"),
			LocalPath:  getEnv("SECRETS_LOCAL_PATH", "./secrets"),
			AWSRegion:  getEnv("AWS_REGION", ""),
			VaultAddr:  getEnv("VAULT_ADDR", ""),
			VaultToken: getEnv("VAULT_TOKEN", ""),
			CacheTTL:   getEnvAsDuration("SECRETS_CACHE_TTL", 5*time.Minute),
		},
		Archive: ArchiveConfig{
			Bucket:   getEnv("ARCHIVE_BUCKET", ""),
			Region:   getEnv("ARCHIVE_REGION", getEnv("AWS_REGION", "")),
			Endpoint: getEnv("ARCHIVE_ENDPOINT", ""),
			Prefix:   getEnv("ARCHIVE_PREFIX", "eft/"),
			KMSKeyID: getEnv("ARCHIVE_KMS_KEY_ID", ""),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every struct tag rule
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// ConnectionString returns PostgreSQL connection string
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// Helper functions

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
