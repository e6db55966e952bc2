// Package config loads minerd configuration from environment variables with
// sensible defaults.
package config

import (
	"fmt"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config holds the configuration for a minerd process
type Config struct {
	// Service identification
	ServiceName string
	Version     string
	Environment string

	// Pool connection
	PoolURL        string
	WalletAddress  string
	WorkerPassword string
	UserAgent      string
	DialTimeout    time.Duration
	WriteTimeout   time.Duration

	// Mining
	NumThreads        int
	Intensity         float64
	HashAlgorithm     string
	UsePoolDifficulty bool
	ShareQueueSize    int
	StatsInterval     time.Duration

	// Host API
	APIListenAddr string

	// Report sinks; an empty URL disables the sink
	KafkaBrokers     []string
	KafkaShareTopic  string
	PostgresURL      string
	RedisURL         string
	InfluxURL        string
	InfluxToken      string
	InfluxOrg        string
	InfluxBucket     string
	ZMQStatsEndpoint string

	// Logging
	LogLevel  string
	LogFormat string
	LogFile   string
}

// DefaultUserAgent is sent with mining.subscribe.
const DefaultUserAgent = "kuzadesign-miner/1.0"

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		ServiceName: getEnv("SERVICE_NAME", "minerd"),
		Version:     getEnv("VERSION", "dev"),
		Environment: getEnv("ENVIRONMENT", "development"),

		PoolURL:        getEnv("POOL_URL", ""),
		WalletAddress:  getEnv("WALLET_ADDRESS", ""),
		WorkerPassword: getEnv("WORKER_PASSWORD", "x"),
		UserAgent:      getEnv("USER_AGENT", DefaultUserAgent),
		DialTimeout:    getEnvDuration("DIAL_TIMEOUT", 10*time.Second),
		WriteTimeout:   getEnvDuration("WRITE_TIMEOUT", 5*time.Second),

		NumThreads:        getEnvInt("NUM_THREADS", min(4, runtime.NumCPU())),
		Intensity:         getEnvFloat("INTENSITY", 0.75),
		HashAlgorithm:     getEnv("HASH_ALGORITHM", "blake3"),
		UsePoolDifficulty: getEnvBool("USE_POOL_DIFFICULTY", false),
		ShareQueueSize:    getEnvInt("SHARE_QUEUE_SIZE", 256),
		StatsInterval:     getEnvDuration("STATS_INTERVAL", 2*time.Second),

		APIListenAddr: getEnv("API_LISTEN_ADDR", ""),

		KafkaBrokers:     getEnvSlice("KAFKA_BROKERS", nil),
		KafkaShareTopic:  getEnv("KAFKA_SHARE_TOPIC", "miner.shares"),
		PostgresURL:      getEnv("POSTGRES_URL", ""),
		RedisURL:         getEnv("REDIS_URL", ""),
		InfluxURL:        getEnv("INFLUX_URL", ""),
		InfluxToken:      getEnv("INFLUX_TOKEN", ""),
		InfluxOrg:        getEnv("INFLUX_ORG", "gominer"),
		InfluxBucket:     getEnv("INFLUX_BUCKET", "mining"),
		ZMQStatsEndpoint: getEnv("ZMQ_STATS_ENDPOINT", ""),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),
		LogFile:   getEnv("LOG_FILE", ""),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration after command-line overrides have been
// applied. Pool credentials are only required when there is no API through
// which mining can be started later.
func (c *Config) Validate() error {
	if err := c.validate(); err != nil {
		return err
	}
	if c.APIListenAddr == "" {
		if c.PoolURL == "" {
			return fmt.Errorf("POOL_URL is required when API_LISTEN_ADDR is not set")
		}
		if c.WalletAddress == "" {
			return fmt.Errorf("WALLET_ADDRESS is required when API_LISTEN_ADDR is not set")
		}
	}
	return nil
}

// validate performs basic validation of configuration values
func (c *Config) validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("SERVICE_NAME cannot be empty")
	}

	if c.NumThreads < 1 {
		return fmt.Errorf("NUM_THREADS must be at least 1")
	}

	if c.Intensity < 0 || c.Intensity > 1 {
		return fmt.Errorf("INTENSITY must be between 0 and 1")
	}

	switch c.HashAlgorithm {
	case "blake3", "sha256d":
	default:
		return fmt.Errorf("HASH_ALGORITHM must be blake3 or sha256d, got %q", c.HashAlgorithm)
	}

	if c.ShareQueueSize < 1 {
		return fmt.Errorf("SHARE_QUEUE_SIZE must be positive")
	}

	if c.StatsInterval <= 0 {
		return fmt.Errorf("STATS_INTERVAL must be positive")
	}

	if c.DialTimeout <= 0 || c.WriteTimeout <= 0 {
		return fmt.Errorf("DIAL_TIMEOUT and WRITE_TIMEOUT must be positive")
	}

	if c.InfluxURL != "" && c.InfluxToken == "" {
		return fmt.Errorf("INFLUX_TOKEN is required when INFLUX_URL is set")
	}

	return nil
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvSlice(key string, defaultValue []string) []string {
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
