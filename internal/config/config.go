// internal/config/config.go

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration
type Config struct {
	Environment string
	LogLevel    string
	Server      ServerConfig
	Database    DatabaseConfig
	NATS        NATSConfig
	Matching    MatchingConfig
	Classifier  ClassifierConfig
	Engine      EngineConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	CorsOrigins     []string
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
	SSLMode      string
}

// NATSConfig holds NATS configuration
type NATSConfig struct {
	URL            string
	MaxReconnects  int
	ReconnectWait  time.Duration
	ConnectTimeout time.Duration
}

// MatchingConfig holds the deterministic matching thresholds
type MatchingConfig struct {
	TimeWindowMinutes   int
	DistanceThresholdKm float64
	SimilarityThreshold float64
	MinCommonWords      int
	ActiveStatuses      []string
}

// ClassifierConfig holds classifier gateway configuration
type ClassifierConfig struct {
	Enabled bool
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// EngineConfig holds correlation engine configuration
type EngineConfig struct {
	CheckInterval       time.Duration
	MaxConcurrentGroups int
	StorageRetries      int
	RetryBackoff        time.Duration
	DegradeAfter        int
	EventsTopic         string
}

// Load loads configuration from environment variables
func Load() (Config, error) {
	config := Config{
		Environment: getEnv("APP_ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getEnvAsInt("SERVER_PORT", 8080),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 10*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			CorsOrigins:     getEnvAsSlice("SERVER_CORS_ORIGINS", []string{"*"}),
		},
		Database: DatabaseConfig{
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnvAsInt("DB_PORT", 5432),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			Database:     getEnv("DB_NAME", "triage"),
			MaxOpenConns: getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns: getEnvAsInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:  getEnvAsDuration("DB_MAX_LIFETIME", 5*time.Minute),
			SSLMode:      getEnv("DB_SSL_MODE", "disable"),
		},
		NATS: NATSConfig{
			URL:            getEnv("NATS_URL", "nats://localhost:4222"),
			MaxReconnects:  getEnvAsInt("NATS_MAX_RECONNECTS", 10),
			ReconnectWait:  getEnvAsDuration("NATS_RECONNECT_WAIT", 1*time.Second),
			ConnectTimeout: getEnvAsDuration("NATS_CONNECT_TIMEOUT", 2*time.Second),
		},
		Matching: MatchingConfig{
			TimeWindowMinutes:   getEnvAsInt("TIME_WINDOW_MINUTES", 60),
			DistanceThresholdKm: getEnvAsFloat("DISTANCE_THRESHOLD_KM", 1.0),
			SimilarityThreshold: getEnvAsFloat("SIMILARITY_THRESHOLD", 0.70),
			MinCommonWords:      getEnvAsInt("CONTENT_SIMILARITY_MIN_COMMON_WORDS", 2),
			ActiveStatuses:      getEnvAsSlice("ACTIVE_STATUSES", nil),
		},
		Classifier: ClassifierConfig{
			Enabled: getEnvAsBool("CLASSIFIER_ENABLED", true),
			BaseURL: getEnv("CLASSIFIER_URL", "http://localhost:8001"),
			APIKey:  getEnv("CLASSIFIER_API_KEY", ""),
			Timeout: getEnvAsDuration("CLASSIFIER_TIMEOUT", 30*time.Second),
		},
		Engine: EngineConfig{
			CheckInterval:       getEnvAsDuration("CHECK_INTERVAL", 15*time.Second),
			MaxConcurrentGroups: getEnvAsInt("MAX_CONCURRENT_GROUPS", 4),
			StorageRetries:      getEnvAsInt("STORAGE_RETRIES", 3),
			RetryBackoff:        getEnvAsDuration("RETRY_BACKOFF", 200*time.Millisecond),
			DegradeAfter:        getEnvAsInt("CLASSIFIER_DEGRADE_AFTER", 3),
			EventsTopic:         getEnv("ENGINE_EVENTS_TOPIC", "incident"),
		},
	}

	return config, validate(config)
}

// validate checks if config is valid
func validate(config Config) error {
	if config.Matching.TimeWindowMinutes <= 0 {
		return fmt.Errorf("time window must be positive")
	}
	if config.Matching.DistanceThresholdKm <= 0 {
		return fmt.Errorf("distance threshold must be positive")
	}
	if config.Matching.SimilarityThreshold < 0 || config.Matching.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be in [0,1]")
	}
	if config.Classifier.Enabled && config.Classifier.BaseURL == "" {
		return fmt.Errorf("classifier URL must be set when the classifier is enabled")
	}

	return nil
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	return strings.Split(valueStr, ",")
}
