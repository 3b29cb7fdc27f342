// Package config reads the basket service settings from the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	ServiceName    = "basket-service"
	ServiceVersion = "0.1.0"
)

// Store drivers accepted in STORE_DRIVER
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
)

type Config struct {
	HTTPPort string

	StoreDriver    string
	DBPath         string
	MigrationsPath string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MongoURI       string
	MongoDBName    string

	// empty disables the basket cache
	RedisAddr     string
	RedisPassword string

	// empty disables domain events
	KafkaBrokers    []string
	KafkaTopic      string
	CheckoutTopic   string
	CheckoutGroupID string

	// empty disables tracing
	OtelEndpoint string

	LogLevel       string
	LogDevelopment bool

	RequestTimeout  time.Duration
	ShutdownTimeout time.Duration
}

// Load reads the environment, applying defaults for anything unset
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		StoreDriver:     strings.ToLower(getEnv("STORE_DRIVER", DriverMemory)),
		DBPath:          getEnv("DB_PATH", "./basket.db"),
		MigrationsPath:  os.Getenv("MIGRATIONS_PATH"),
		DBHost:          getEnv("DB_HOST", "localhost"),
		DBUser:          getEnv("DB_USER", "postgres"),
		DBPassword:      getEnv("DB_PASSWORD", "postgres"),
		DBName:          getEnv("DB_NAME", "basketdb"),
		MongoURI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:     getEnv("MONGO_DB_NAME", "basketdb"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RedisPassword:   os.Getenv("REDIS_PASSWORD"),
		KafkaBrokers:    splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:      getEnv("KAFKA_TOPIC", "electronics-store-events"),
		CheckoutTopic:   getEnv("CHECKOUT_TOPIC", "checkout-completed"),
		CheckoutGroupID: getEnv("CHECKOUT_GROUP_ID", "basket-service-checkout"),
		OtelEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}

	var err error
	if cfg.DBPort, err = getEnvInt("DB_PORT", 5432); err != nil {
		return nil, err
	}
	if cfg.LogDevelopment, err = getEnvBool("LOG_DEV", false); err != nil {
		return nil, err
	}
	if cfg.RequestTimeout, err = getEnvDuration("REQUEST_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	if cfg.MigrationsPath == "" {
		cfg.MigrationsPath = "./internal/repository/migrations/" + cfg.StoreDriver
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreDriver {
	case DriverMemory, DriverSQLite, DriverPostgres, DriverMongo:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of memory, sqlite, postgres, mongo; got %q", c.StoreDriver)
	}
	if port, err := strconv.Atoi(c.HTTPPort); err != nil || port <= 0 || port > 65535 {
		return fmt.Errorf("HTTP_PORT must be a port number; got %q", c.HTTPPort)
	}
	if c.StoreDriver == DriverSQLite && c.DBPath == "" {
		return errors.New("DB_PATH cannot be empty for the sqlite driver")
	}
	if len(c.KafkaBrokers) > 0 && c.KafkaTopic == c.CheckoutTopic {
		return errors.New("KAFKA_TOPIC and CHECKOUT_TOPIC must differ")
	}
	if c.RequestTimeout <= 0 || c.ShutdownTimeout <= 0 {
		return errors.New("REQUEST_TIMEOUT and SHUTDOWN_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
