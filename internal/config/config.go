package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/fjod/go_cart/cart-pricing-service/internal/repository"
)

type Config struct {
	HTTPPort string
	LogLevel string

	MongoURI    string
	MongoDBName string

	RedisAddr     string
	RedisPassword string

	Postgres repository.Credentials

	CatalogURL  string
	ShippingURL string
	RatesURL    string

	RateRefreshInterval time.Duration
	CollaboratorTimeout time.Duration
	RequestTimeout      time.Duration
	ShutdownTimeout     time.Duration

	KafkaBrokers []string
}

// Load reads the environment after an optional .env file in the working
// directory. Variables already set take precedence over the file.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		MongoURI:    getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName: getEnv("MONGO_DB_NAME", "cartdb"),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		Postgres: repository.Credentials{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "pricing"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "internal/repository/migrations"),
		},

		CatalogURL:  getEnv("CATALOG_URL", "http://localhost:8081"),
		ShippingURL: getEnv("SHIPPING_URL", "http://localhost:8082"),
		RatesURL:    getEnv("RATES_URL", "http://localhost:8083/rates"),

		RateRefreshInterval: getEnvDuration("RATE_REFRESH_INTERVAL", time.Hour),
		CollaboratorTimeout: getEnvDuration("COLLABORATOR_TIMEOUT", 3*time.Second),
		RequestTimeout:      getEnvDuration("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:     getEnvDuration("SHUTDOWN_TIMEOUT", 10*time.Second),

		KafkaBrokers: getEnvList("KAFKA_BROKERS", "localhost:9092"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return v
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return defaultValue
}

// getEnvList splits a comma separated value, dropping empty entries.
func getEnvList(key, defaultValue string) []string {
	var out []string
	for _, part := range strings.Split(getEnv(key, defaultValue), ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
