package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Supported push sources
const (
	SourceSSE  = "sse"
	SourceMQTT = "mqtt"
)

// DefaultTelemetryURL is used when TELEMETRY_URL is not set
const DefaultTelemetryURL = "http://localhost:8080/events"

var ErrInvalidConfig = errors.New("invalid configuration")

type Config struct {
	VehicleID string

	// Push source
	TelemetrySource string
	TelemetryURL    string
	MQTTTopic       string
	MQTTUsername    string
	MQTTPassword    string
	MQTTClientID    string

	// Session tunables
	ConnectionTimeout time.Duration
	HistoryInterval   time.Duration
	HistoryCapacity   int

	// Dashboard
	HTTPAddr string

	// Logging
	LogLevel string
	LogFile  string

	// Alerts
	AlertThrottle      time.Duration
	TelegramBotToken   string
	TelegramChatID     string
	RabbitMQURL        string
	RabbitMQExchange   string
	RabbitMQRoutingKey string
	HardwareAlertURL   string

	// History archive
	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	ArchiveBatchSize           int
	ArchiveBatchTimeout        time.Duration
}

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	config := &Config{
		VehicleID:                  getEnv("VEHICLE_ID", "vehicle-001"),
		TelemetrySource:            strings.ToLower(getEnv("TELEMETRY_SOURCE", SourceSSE)),
		TelemetryURL:               getEnv("TELEMETRY_URL", DefaultTelemetryURL),
		MQTTTopic:                  getEnv("MQTT_TOPIC", "vehicle/telemetry"),
		MQTTUsername:               getEnv("MQTT_USERNAME", ""),
		MQTTPassword:               getEnv("MQTT_PASSWORD", ""),
		MQTTClientID:               getEnv("MQTT_CLIENT_ID", "drivewatch-dashboard"),
		ConnectionTimeout:          getEnvMillis("CONNECTION_TIMEOUT_MS", 5000),
		HistoryInterval:            getEnvMillis("HISTORY_INTERVAL_MS", 3000),
		HistoryCapacity:            getEnvInt("HISTORY_CAPACITY", 50),
		HTTPAddr:                   getEnv("HTTP_ADDR", ":8090"),
		LogLevel:                   getEnv("LOG_LEVEL", "info"),
		LogFile:                    getEnv("LOG_FILE", ""),
		AlertThrottle:              time.Duration(getEnvInt("ALERT_THROTTLE_SECONDS", 15)) * time.Second,
		TelegramBotToken:           getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:             getEnv("TELEGRAM_CHAT_ID", ""),
		RabbitMQURL:                getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange:           getEnv("RABBITMQ_EXCHANGE", "drivewatch.alerts"),
		RabbitMQRoutingKey:         getEnv("RABBITMQ_ROUTING_KEY", "vehicle.alert"),
		HardwareAlertURL:           getEnv("HARDWARE_ALERT_URL", ""),
		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		ArchiveBatchSize:           getEnvInt("ARCHIVE_BATCH_SIZE", 10),
		ArchiveBatchTimeout:        time.Duration(getEnvInt("ARCHIVE_BATCH_TIMEOUT_SECONDS", 30)) * time.Second,
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the tunables the session controller depends on
func (c *Config) Validate() error {
	switch c.TelemetrySource {
	case SourceSSE, SourceMQTT:
	default:
		return fmt.Errorf("%w: unsupported TELEMETRY_SOURCE %q", ErrInvalidConfig, c.TelemetrySource)
	}
	if c.TelemetryURL == "" {
		return fmt.Errorf("%w: TELEMETRY_URL is empty", ErrInvalidConfig)
	}
	if c.ConnectionTimeout <= 0 {
		return fmt.Errorf("%w: connection timeout must be positive", ErrInvalidConfig)
	}
	if c.HistoryInterval < 0 {
		return fmt.Errorf("%w: history interval must not be negative", ErrInvalidConfig)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("%w: history capacity must be positive", ErrInvalidConfig)
	}
	if c.ArchiveBatchSize <= 0 {
		return fmt.Errorf("%w: archive batch size must be positive", ErrInvalidConfig)
	}
	return nil
}

// TelegramEnabled reports whether Telegram alerts are configured
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != "" && c.TelegramChatID != ""
}

// ArchiveEnabled reports whether history should be archived to Firebase
func (c *Config) ArchiveEnabled() bool {
	return c.FirebaseDbUrl != "" && c.FirebaseServiceAccountJSON != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

func getEnvMillis(key string, defaultValue int) time.Duration {
	return time.Duration(getEnvInt(key, defaultValue)) * time.Millisecond
}
