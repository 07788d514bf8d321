package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Inbound topics consumed when KAFKA_TOPICS is not set.
var DefaultTopics = []string{
	"mokametrics.telemetry.cnc",
	"mokametrics.telemetry.lathe",
	"mokametrics.telemetry.assembly",
	"mokametrics.telemetry.testing",
	"mokametrics.production.lot_completion",
}

// Config holds all configuration values
type Config struct {
	// PostgreSQL
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBURL      string
	DBCACert   string

	// Kafka
	KafkaBrokers         []string
	KafkaGroupID         string
	KafkaTopics          []string
	KafkaAutoOffsetReset string // "earliest" or "latest"
	KafkaSessionTimeout  time.Duration
	KafkaCACert          string
	KafkaCert            string // optional client cert
	KafkaKey             string // optional client key

	// Producer
	ProducerAcks    string // "all", "one" or "none"
	ProducerTimeout time.Duration
	ProducerRetries int
	OrderTopic      string
	DeadLetterTopic string

	// Consumer loop
	ProcessBackoff     time.Duration
	MaxProcessAttempts int
	HandlerTimeout     time.Duration

	// InfluxDB 3
	InfluxHost     string
	InfluxToken    string
	InfluxDatabase string

	// HTTP
	HTTPAddr    string
	WSJWTSecret string

	LogLevel string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_GROUP_ID", "mokametrics-backend")
	v.SetDefault("KAFKA_TOPICS", strings.Join(DefaultTopics, ","))
	v.SetDefault("KAFKA_AUTO_OFFSET_RESET", "earliest")
	v.SetDefault("KAFKA_SESSION_TIMEOUT", "30s")
	v.SetDefault("KAFKA_PRODUCER_ACKS", "all")
	v.SetDefault("KAFKA_PRODUCER_TIMEOUT", "30s")
	v.SetDefault("KAFKA_PRODUCER_RETRIES", 3)
	v.SetDefault("KAFKA_ORDER_TOPIC", "mokametrics.order")
	v.SetDefault("KAFKA_DEAD_LETTER_TOPIC", "mokametrics.deadletter")
	v.SetDefault("CONSUMER_PROCESS_BACKOFF", "5s")
	v.SetDefault("CONSUMER_MAX_PROCESS_ATTEMPTS", 3)
	v.SetDefault("CONSUMER_HANDLER_TIMEOUT", "30s")
	v.SetDefault("INFLUX_DATABASE", "mokametrics")
	v.SetDefault("HTTP_ADDR", ":8080")
	v.SetDefault("LOG_LEVEL", "info")
}

// LoadConfig reads .env (if present) and the process environment.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load() // ignore error, fallback to env vars

	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	return fromViper(v)
}

func fromViper(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		DBHost:     v.GetString("DB_HOST"),
		DBPort:     v.GetString("DB_PORT"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBURL:      v.GetString("DB_URL"),
		DBCACert:   v.GetString("DB_CA_CERT"),

		KafkaBrokers:         splitList(v.GetString("KAFKA_BROKERS")),
		KafkaGroupID:         v.GetString("KAFKA_GROUP_ID"),
		KafkaTopics:          splitList(v.GetString("KAFKA_TOPICS")),
		KafkaAutoOffsetReset: strings.ToLower(v.GetString("KAFKA_AUTO_OFFSET_RESET")),
		KafkaSessionTimeout:  v.GetDuration("KAFKA_SESSION_TIMEOUT"),
		KafkaCACert:          v.GetString("KAFKA_CA_CERT"),
		KafkaCert:            v.GetString("KAFKA_CLIENT_CERT"),
		KafkaKey:             v.GetString("KAFKA_CLIENT_KEY"),

		ProducerAcks:    strings.ToLower(v.GetString("KAFKA_PRODUCER_ACKS")),
		ProducerTimeout: v.GetDuration("KAFKA_PRODUCER_TIMEOUT"),
		ProducerRetries: v.GetInt("KAFKA_PRODUCER_RETRIES"),
		OrderTopic:      v.GetString("KAFKA_ORDER_TOPIC"),
		DeadLetterTopic: v.GetString("KAFKA_DEAD_LETTER_TOPIC"),

		ProcessBackoff:     v.GetDuration("CONSUMER_PROCESS_BACKOFF"),
		MaxProcessAttempts: v.GetInt("CONSUMER_MAX_PROCESS_ATTEMPTS"),
		HandlerTimeout:     v.GetDuration("CONSUMER_HANDLER_TIMEOUT"),

		InfluxHost:     v.GetString("INFLUX_HOST"),
		InfluxToken:    v.GetString("INFLUX_TOKEN"),
		InfluxDatabase: v.GetString("INFLUX_DATABASE"),

		HTTPAddr:    v.GetString("HTTP_ADDR"),
		WSJWTSecret: v.GetString("WS_JWT_SECRET"),
		LogLevel:    v.GetString("LOG_LEVEL"),
	}

	// Build DB URL if not provided
	if cfg.DBURL == "" && cfg.DBHost != "" {
		sslMode := "disable"
		if cfg.DBCACert != "" {
			sslMode = "verify-full"
		}
		cfg.DBURL = fmt.Sprintf(
			"postgresql://%s:%s@%s:%s/%s?sslmode=%s",
			cfg.DBUser, cfg.DBPassword, cfg.DBHost, cfg.DBPort, cfg.DBName, sslMode,
		)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c *Config) Validate() error {
	if len(c.KafkaBrokers) == 0 {
		return fmt.Errorf("KAFKA_BROKERS is required")
	}
	if c.KafkaGroupID == "" {
		return fmt.Errorf("KAFKA_GROUP_ID is required")
	}
	switch c.KafkaAutoOffsetReset {
	case "earliest", "latest":
	default:
		return fmt.Errorf("KAFKA_AUTO_OFFSET_RESET must be earliest or latest, got %q", c.KafkaAutoOffsetReset)
	}
	switch c.ProducerAcks {
	case "all", "one", "none":
	default:
		return fmt.Errorf("KAFKA_PRODUCER_ACKS must be all, one or none, got %q", c.ProducerAcks)
	}
	if c.MaxProcessAttempts < 1 {
		return fmt.Errorf("CONSUMER_MAX_PROCESS_ATTEMPTS must be at least 1")
	}
	if c.DBURL == "" {
		return fmt.Errorf("DB_URL or DB_HOST is required")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
