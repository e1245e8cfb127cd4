package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the HTTP API process.
// Values are primarily loaded from environment variables with sane defaults
// so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	ActiveCacheTTL time.Duration

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN string

	JWTSecret string

	// CompletedRetention of 0 keeps completed rides forever.
	CompletedRetention     time.Duration
	RetentionSweepInterval time.Duration

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:               ":8080",
		ReadTimeout:            5 * time.Second,
		WriteTimeout:           10 * time.Second,
		IdleTimeout:            120 * time.Second,
		ShutdownTimeout:        15 * time.Second,
		ActiveCacheTTL:         30 * time.Second,
		KafkaTopic:             "ride-events",
		RetentionSweepInterval: time.Hour,
		LogLevel:               "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setDurationFromEnv(&cfg.ActiveCacheTTL, "ACTIVE_CACHE_TTL", &errs)

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.JWTSecret = os.Getenv("AUTH_JWT_SECRET")

	setDurationFromEnv(&cfg.CompletedRetention, "COMPLETED_RETENTION", &errs)
	setDurationFromEnv(&cfg.RetentionSweepInterval, "RETENTION_SWEEP_INTERVAL", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("AUTH_JWT_SECRET is required"))
	}
	if cfg.ActiveCacheTTL <= 0 {
		errs = append(errs, fmt.Errorf("ACTIVE_CACHE_TTL must be > 0"))
	}
	if cfg.CompletedRetention < 0 {
		errs = append(errs, fmt.Errorf("COMPLETED_RETENTION must be >= 0"))
	}
	if cfg.RetentionSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("RETENTION_SWEEP_INTERVAL must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

// ConsumerConfig configures the ride event consumer that maintains timelines.
type ConsumerConfig struct {
	KafkaBrokers  []string
	KafkaTopic    string
	KafkaGroup    string
	RedisAddr     string
	RedisPassword string
	LogLevel      string
}

func LoadConsumerConfig() (ConsumerConfig, error) {
	cfg := ConsumerConfig{
		KafkaBrokers: []string{"localhost:9092"},
		KafkaTopic:   "ride-events",
		KafkaGroup:   "rideshare-timeline",
		RedisAddr:    "localhost:6379",
		LogLevel:     "info",
	}
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")
	setStringFromEnv(&cfg.KafkaGroup, "KAFKA_GROUP")
	setStringFromEnv(&cfg.RedisAddr, "REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	if len(cfg.KafkaBrokers) == 0 {
		return cfg, fmt.Errorf("KAFKA_BROKERS must name at least one broker")
	}
	return cfg, nil
}

// ClientConfig configures the rider CLI.
type ClientConfig struct {
	APIBaseURL   string
	Token        string
	PollInterval time.Duration
	Timeout      time.Duration
}

func LoadClientConfig() (ClientConfig, error) {
	cfg := ClientConfig{
		APIBaseURL:   "http://localhost:8080",
		PollInterval: 3 * time.Second,
		Timeout:      10 * time.Second,
	}
	var errs []error
	setStringFromEnv(&cfg.APIBaseURL, "RIDESHARE_API")
	cfg.Token = strings.TrimSpace(os.Getenv("RIDESHARE_TOKEN"))
	setDurationFromEnv(&cfg.PollInterval, "POLL_INTERVAL", &errs)
	setDurationFromEnv(&cfg.Timeout, "RIDESHARE_TIMEOUT", &errs)
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if cfg.PollInterval <= 0 {
		errs = append(errs, fmt.Errorf("POLL_INTERVAL must be > 0"))
	}
	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
