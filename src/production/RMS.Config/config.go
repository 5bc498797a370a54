package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// PipelineConfig holds configuration for the ingestion pipeline service
type PipelineConfig struct {
	Server  ServerConfig  `json:"server"`
	MQTT    MQTTConfig    `json:"mqtt"`
	Redis   RedisConfig   `json:"redis"`
	Queue   QueueConfig   `json:"queue"`
	Breaker BreakerConfig `json:"breaker"`
	Fanout  FanoutConfig  `json:"fanout"`
	Dedup   DedupConfig   `json:"dedup"`
	Logging LoggingConfig `json:"logging"`
}

// SinkConfig holds configuration for the persistence sink service
type SinkConfig struct {
	Redis   RedisConfig   `json:"redis"`
	Queue   QueueConfig   `json:"queue"`
	Breaker BreakerConfig `json:"breaker"`
	Mongo   MongoConfig   `json:"mongo"`
	Logging LoggingConfig `json:"logging"`

	// PollInterval is how long the drain worker sleeps when the queue is empty.
	PollInterval time.Duration `json:"poll_interval"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// MQTTConfig holds MQTT transport configuration
type MQTTConfig struct {
	BrokerHost  string        `json:"broker_host"`
	BrokerPort  int           `json:"broker_port"`
	BrokerUser  string        `json:"broker_user"`
	BrokerPass  string        `json:"broker_pass"`
	UseTLS      bool          `json:"use_tls"`
	CACertPath  string        `json:"ca_cert_path"`
	TopicPrefix string        `json:"topic_prefix"`
	ClientID    string        `json:"client_id"`
	KeepAlive   time.Duration `json:"keep_alive"`
	PingTimeout time.Duration `json:"ping_timeout"`
}

// RedisConfig holds queue backend configuration
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// QueueConfig holds durable queue configuration
type QueueConfig struct {
	Name             string        `json:"name"`
	DLQName          string        `json:"dlq_name"`
	MaxRetryAttempts int           `json:"max_retry_attempts"`
	RetryDelay       time.Duration `json:"retry_delay"`
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	MaxFailures  int           `json:"max_failures"`
	ResetTimeout time.Duration `json:"reset_timeout"`
}

// FanoutConfig holds live fan-out server configuration
type FanoutConfig struct {
	PingInterval   time.Duration `json:"ping_interval"`
	MaxMissedPings int           `json:"max_missed_pings"`
	SendBuffer     int           `json:"send_buffer"`
}

// DedupConfig holds the dedup window tunables. The compaction thresholds are
// tunable constants, not a capacity plan.
type DedupConfig struct {
	HighWaterMark int `json:"high_water_mark"`
	RetainOnSweep int `json:"retain_on_sweep"`
}

// MongoConfig holds sink storage configuration
type MongoConfig struct {
	URI        string `json:"uri"`
	Database   string `json:"database"`
	Collection string `json:"collection"`
}

// LoggingConfig holds logging-related configuration
type LoggingConfig struct {
	Level        string `json:"level"`
	Format       string `json:"format"` // json or text
	Output       string `json:"output"` // stdout or stderr
	EnableCaller bool   `json:"enable_caller"`
}

// LoadPipelineConfig loads configuration for the ingestion pipeline service
func LoadPipelineConfig() (*PipelineConfig, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	config := &PipelineConfig{
		Server: ServerConfig{
			Port:         getEnv("PIPELINE_PORT", "9010"),
			ReadTimeout:  getDuration("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDuration("WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getDuration("IDLE_TIMEOUT", 120*time.Second),
		},
		MQTT:    loadMQTTConfig("sensor-pipeline"),
		Redis:   loadRedisConfig(),
		Queue:   loadQueueConfig(),
		Breaker: loadBreakerConfig(),
		Fanout: FanoutConfig{
			PingInterval:   getDuration("FANOUT_PING_INTERVAL", 30*time.Second),
			MaxMissedPings: getInt("FANOUT_MAX_MISSED_PINGS", 2),
			SendBuffer:     getInt("FANOUT_SEND_BUFFER", 64),
		},
		Dedup: DedupConfig{
			HighWaterMark: getInt("DEDUP_HIGH_WATER_MARK", 10000),
			RetainOnSweep: getInt("DEDUP_RETAIN_ON_SWEEP", 5000),
		},
		Logging: loadLoggingConfig(),
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// LoadSinkConfig loads configuration for the persistence sink service
func LoadSinkConfig() (*SinkConfig, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	config := &SinkConfig{
		Redis:   loadRedisConfig(),
		Queue:   loadQueueConfig(),
		Breaker: loadBreakerConfig(),
		Mongo: MongoConfig{
			URI:        getEnv("MONGO_URI", "mongodb://localhost:27017"),
			Database:   getEnv("MONGO_DB", "roomsense"),
			Collection: getEnv("MONGO_COLLECTION", "readings"),
		},
		Logging:      loadLoggingConfig(),
		PollInterval: getDuration("SINK_POLL_INTERVAL", 500*time.Millisecond),
	}

	if config.Mongo.URI == "" {
		return nil, fmt.Errorf("MONGO_URI is required")
	}

	return config, nil
}

func loadMQTTConfig(defaultClientID string) MQTTConfig {
	return MQTTConfig{
		BrokerHost:  getEnv("BROKER_HOST", "localhost"),
		BrokerPort:  getInt("BROKER_PORT", 1883),
		BrokerUser:  getEnv("BROKER_USER", ""),
		BrokerPass:  getEnv("BROKER_PASS", ""),
		UseTLS:      getBool("BROKER_TLS", false),
		CACertPath:  getEnv("BROKER_CA_FILE", ""),
		TopicPrefix: getEnv("MQTT_TOPIC_PREFIX", "roomsense"),
		ClientID:    getEnv("MQTT_CLIENT_ID", defaultClientID),
		KeepAlive:   getDuration("MQTT_KEEP_ALIVE", 30*time.Second),
		PingTimeout: getDuration("MQTT_PING_TIMEOUT", 10*time.Second),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: getEnv("REDIS_PASSWORD", ""),
		DB:       getInt("REDIS_DB", 0),
	}
}

func loadQueueConfig() QueueConfig {
	return QueueConfig{
		Name:             getEnv("QUEUE_NAME", "sensor_readings_queue"),
		DLQName:          getEnv("QUEUE_DLQ_NAME", "sensor_readings_dlq"),
		MaxRetryAttempts: getInt("QUEUE_MAX_RETRY_ATTEMPTS", 3),
		RetryDelay:       getDuration("QUEUE_RETRY_DELAY", 1*time.Second),
	}
}

func loadBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures:  getInt("BREAKER_MAX_FAILURES", 5),
		ResetTimeout: getDuration("BREAKER_RESET_TIMEOUT", 60*time.Second),
	}
}

func loadLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:        getEnv("LOG_LEVEL", "info"),
		Format:       getEnv("LOG_FORMAT", "text"),
		Output:       getEnv("LOG_OUTPUT", "stdout"),
		EnableCaller: getBool("LOG_ENABLE_CALLER", false),
	}
}

// Validate validates the pipeline configuration
func (c *PipelineConfig) Validate() error {
	if c.MQTT.TopicPrefix == "" {
		return fmt.Errorf("MQTT_TOPIC_PREFIX is required")
	}
	if c.Queue.Name == "" || c.Queue.DLQName == "" {
		return fmt.Errorf("QUEUE_NAME and QUEUE_DLQ_NAME are required")
	}
	if c.Queue.Name == c.Queue.DLQName {
		return fmt.Errorf("QUEUE_NAME and QUEUE_DLQ_NAME must differ")
	}
	if c.Queue.MaxRetryAttempts < 1 {
		return fmt.Errorf("QUEUE_MAX_RETRY_ATTEMPTS must be at least 1")
	}
	if c.Breaker.MaxFailures < 1 {
		return fmt.Errorf("BREAKER_MAX_FAILURES must be at least 1")
	}
	if c.Dedup.RetainOnSweep >= c.Dedup.HighWaterMark {
		return fmt.Errorf("DEDUP_RETAIN_ON_SWEEP must be below DEDUP_HIGH_WATER_MARK")
	}
	return nil
}

// GetMQTTBrokerURL returns the MQTT broker URL
func (c *MQTTConfig) GetMQTTBrokerURL() string {
	scheme := "tcp"
	if c.UseTLS {
		scheme = "tcps"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, c.BrokerHost, c.BrokerPort)
}

// Helper functions for environment variable parsing

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return intValue
}

func getBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if value == "1" || value == "true" || value == "TRUE" {
		return true
	}
	if value == "0" || value == "false" || value == "FALSE" {
		return false
	}
	log.Fatalf("invalid %s: %q (expected true/false or 1/0)", key, value)
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		log.Fatalf("invalid %s: %v", key, err)
	}
	return duration
}
