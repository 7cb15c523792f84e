package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Provider ProviderConfig
	Backup   BackupConfig
	Sandbox  SandboxConfig
	Secrets  SecretsConfig
	App      AppConfig
}

type ServerConfig struct {
	Port string
}

type DatabaseConfig struct {
	DSN      string
	MaxConns int
	MinConns int
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// ProviderConfig configures the remote compute provider (E2B-style API).
type ProviderConfig struct {
	APIKey         string
	Domain         string
	Template       string
	CreateTimeout  time.Duration
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
}

type BackupConfig struct {
	Bucket    string
	Region    string
	KeyPrefix string
	// Writer pool sizing for the async backup mirror.
	Workers   int
	QueueSize int
	// S3 writes per second across the pool.
	RatePerSec float64
}

// SandboxConfig carries the lifecycle tuning knobs. The retry counts,
// backoff delays and readiness windows are empirically tuned defaults,
// not contracts; override via env.
type SandboxConfig struct {
	ReconnectAttempts  int
	BackoffBase        time.Duration
	BackoffCap         time.Duration
	LockTTL            time.Duration
	LockWait           time.Duration
	OperationBudget    time.Duration
	ReadinessWindow    time.Duration
	ReadinessInterval  time.Duration
	DevServerPort      int
	DevServerWorkdir   string
	IdlePauseThreshold time.Duration
	StatusCacheTTL     time.Duration
}

type SecretsConfig struct {
	// Key is a base64-encoded 32-byte AES key for project env vars.
	Key string
}

type AppConfig struct {
	Environment string
	LogLevel    string
	Version     string
}

func Load() (*Config, error) {
	// Load .env file if it exists (ignore error in production)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8080"),
		},
		Database: DatabaseConfig{
			DSN:      getEnv("DB_DSN", ""),
			MaxConns: getEnvAsInt("DB_MAX_CONNS", 10),
			MinConns: getEnvAsInt("DB_MIN_CONNS", 2),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Provider: ProviderConfig{
			APIKey:         getEnv("E2B_API_KEY", ""),
			Domain:         getEnv("E2B_DOMAIN", "e2b.app"),
			Template:       getEnv("E2B_TEMPLATE", "craftfast-nextjs"),
			CreateTimeout:  getEnvAsDuration("PROVIDER_CREATE_TIMEOUT", 60*time.Second),
			ConnectTimeout: getEnvAsDuration("PROVIDER_CONNECT_TIMEOUT", 30*time.Second),
			CommandTimeout: getEnvAsDuration("PROVIDER_COMMAND_TIMEOUT", 60*time.Second),
		},
		Backup: BackupConfig{
			Bucket:     getEnv("BACKUP_BUCKET", ""),
			Region:     getEnv("BACKUP_REGION", "us-east-1"),
			KeyPrefix:  getEnv("BACKUP_KEY_PREFIX", "project-files"),
			Workers:    getEnvAsInt("BACKUP_WORKERS", 4),
			QueueSize:  getEnvAsInt("BACKUP_QUEUE_SIZE", 256),
			RatePerSec: getEnvAsFloat("BACKUP_RATE_PER_SEC", 20),
		},
		Sandbox: SandboxConfig{
			ReconnectAttempts:  getEnvAsInt("SANDBOX_RECONNECT_ATTEMPTS", 5),
			BackoffBase:        getEnvAsDuration("SANDBOX_BACKOFF_BASE", 1*time.Second),
			BackoffCap:         getEnvAsDuration("SANDBOX_BACKOFF_CAP", 10*time.Second),
			LockTTL:            getEnvAsDuration("SANDBOX_LOCK_TTL", 2*time.Minute),
			LockWait:           getEnvAsDuration("SANDBOX_LOCK_WAIT", 15*time.Second),
			OperationBudget:    getEnvAsDuration("SANDBOX_OPERATION_BUDGET", 90*time.Second),
			ReadinessWindow:    getEnvAsDuration("SANDBOX_READINESS_WINDOW", 45*time.Second),
			ReadinessInterval:  getEnvAsDuration("SANDBOX_READINESS_INTERVAL", 2*time.Second),
			DevServerPort:      getEnvAsInt("SANDBOX_DEV_SERVER_PORT", 3000),
			DevServerWorkdir:   getEnv("SANDBOX_DEV_SERVER_WORKDIR", "/home/user/app"),
			IdlePauseThreshold: getEnvAsDuration("SANDBOX_IDLE_PAUSE_THRESHOLD", 20*time.Minute),
			StatusCacheTTL:     getEnvAsDuration("SANDBOX_STATUS_CACHE_TTL", 10*time.Second),
		},
		Secrets: SecretsConfig{
			Key: getEnv("PROJECT_ENV_SECRET_KEY", ""),
		},
		App: AppConfig{
			Environment: getEnv("APP_ENV", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			Version:     getEnv("APP_VERSION", "1.0.0"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("PORT is required")
	}

	if c.Database.DSN == "" {
		return fmt.Errorf("DB_DSN is required")
	}

	if c.Provider.APIKey == "" {
		return fmt.Errorf("E2B_API_KEY is required")
	}

	if c.Sandbox.LockTTL <= c.Sandbox.OperationBudget {
		// A lock that expires mid-operation lets a second caller race the
		// critical section it still thinks it holds.
		return fmt.Errorf("SANDBOX_LOCK_TTL must exceed SANDBOX_OPERATION_BUDGET")
	}

	return nil
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
		log.Printf("Warning: Invalid integer for %s, using default: %d", key, defaultValue)
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
		log.Printf("Warning: Invalid float for %s, using default: %v", key, defaultValue)
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
		log.Printf("Warning: Invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}

	return value
}
