package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	OrderServiceName        = "order-service"
	NotificationServiceName = "notification-service"
	ServiceVersion          = "0.1.0"
)

// Dependency names as they appear in breaker introspection.
const (
	ProductDependency = "product_service"
	UserDependency    = "user_service"
	PaymentDependency = "payment_service"
)

const (
	DefaultHTTPAddr          = ":8000"
	DefaultBreakerThreshold  = 5
	DefaultBreakerOpenPeriod = 60 * time.Second
	DefaultDependencyTimeout = 10 * time.Second
	DefaultExchange          = "order_events"
	DefaultQueue             = "notification_queue"
	DefaultRetryAttempts     = 5
	DefaultRetryDelay        = 5 * time.Second
	DefaultUserCacheTTL      = 5 * time.Minute
	PaymentAPIKeyHeader      = "X-Service-API-Key"
)

const (
	LogsPath      = "/otlp/v1/logs"
	TracesPath    = "/otlp/v1/traces"
	MetricsPath   = "/otlp/v1/metrics"
	ExportTimeout = 30 * time.Second
	MaxQueueSize  = 2048
)

// Broker kinds accepted by EVENT_BROKER.
const (
	BrokerRabbitMQ = "rabbitmq"
	BrokerKafka    = "kafka"
	BrokerNone     = "none"
)

type Config struct {
	ServiceName string
	HTTPAddr    string
	LogLevel    string

	Database     DatabaseConfig
	Dependencies DependencyConfig
	Breaker      BreakerConfig
	Broker       BrokerConfig
	Consumer     ConsumerConfig
	SMTP         SMTPConfig
	RateLimit    RateLimitConfig
	Otel         OtelConfig

	JWTSecret    string
	RedisURL     string
	UserCacheTTL time.Duration
}

type DatabaseConfig struct {
	Driver string
	URL    string
}

type DependencyConfig struct {
	ProductURL    string
	UserURL       string
	PaymentURL    string
	PaymentAPIKey string
	Timeout       time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	OpenDuration     time.Duration
}

type BrokerConfig struct {
	Kind        string
	RabbitMQURL string
	KafkaBroker string
	Exchange    string
}

type ConsumerConfig struct {
	Queue              string
	RetryAttempts      int
	RetryDelay         time.Duration
	FailurePolicy      string
	DeadLetterExchange string
}

type SMTPConfig struct {
	Host      string
	Port      int
	User      string
	Password  string
	FromEmail string
	FromName  string
}

type RateLimitConfig struct {
	RPS   float64
	Burst int
	// TrustedProxies lists CIDRs whose X-Forwarded-For header is honored.
	TrustedProxies []string
}

type OtelConfig struct {
	Endpoint     string
	AuthHeader   string
	LogsProtocol string
}

// LoadConfig reads the environment for the named service and validates the
// variables that service cannot run without.
func LoadConfig(service string) (*Config, error) {
	l := &loader{}
	config := &Config{
		ServiceName: service,
		HTTPAddr:    getenv("HTTP_ADDR", DefaultHTTPAddr),
		Database: DatabaseConfig{
			Driver: getenv("DATABASE_DRIVER", "pgx"),
			URL:    os.Getenv("DATABASE_URL"),
		},
		Dependencies: DependencyConfig{
			ProductURL:    strings.TrimRight(getenv("PRODUCT_SERVICE_URL", "http://product-service:8000"), "/"),
			UserURL:       strings.TrimRight(getenv("USER_SERVICE_URL", "http://user-service:8000"), "/"),
			PaymentURL:    strings.TrimRight(getenv("PAYMENT_SERVICE_URL", "http://payment-service:8000"), "/"),
			PaymentAPIKey: os.Getenv("PAYMENT_SERVICE_API_KEY"),
			Timeout:       l.duration("DEPENDENCY_TIMEOUT", DefaultDependencyTimeout),
		},
		Breaker: BreakerConfig{
			FailureThreshold: l.int("BREAKER_FAILURE_THRESHOLD", DefaultBreakerThreshold),
			OpenDuration:     l.duration("BREAKER_OPEN_DURATION", DefaultBreakerOpenPeriod),
		},
		Broker: BrokerConfig{
			Kind:        strings.ToLower(getenv("EVENT_BROKER", BrokerRabbitMQ)),
			RabbitMQURL: os.Getenv("RABBITMQ_URL"),
			KafkaBroker: os.Getenv("KAFKA_BROKER"),
			Exchange:    getenv("EVENT_EXCHANGE", DefaultExchange),
		},
		Consumer: ConsumerConfig{
			Queue:              getenv("NOTIFICATION_QUEUE", DefaultQueue),
			RetryAttempts:      l.int("CONSUMER_RETRY_ATTEMPTS", DefaultRetryAttempts),
			RetryDelay:         l.duration("CONSUMER_RETRY_DELAY", DefaultRetryDelay),
			FailurePolicy:      strings.ToLower(getenv("CONSUMER_FAILURE_POLICY", "ack")),
			DeadLetterExchange: os.Getenv("DEAD_LETTER_EXCHANGE"),
		},
		SMTP: SMTPConfig{
			Host:      getenv("SMTP_HOST", "mailpit"),
			Port:      l.int("SMTP_PORT", 1025),
			User:      os.Getenv("SMTP_USER"),
			Password:  os.Getenv("SMTP_PASSWORD"),
			FromEmail: getenv("SMTP_FROM_EMAIL", "noreply@example.com"),
			FromName:  getenv("SMTP_FROM_NAME", "Order Service"),
		},
		RateLimit: RateLimitConfig{
			RPS:   l.float("RATE_LIMIT_RPS", 0),
			Burst: l.int("RATE_LIMIT_BURST", 20),

			TrustedProxies: splitList(os.Getenv("RATE_LIMIT_TRUSTED_PROXIES")),
		},
		Otel: OtelConfig{
			Endpoint:     os.Getenv("OTEL_ENDPOINT"),
			AuthHeader:   os.Getenv("OTEL_AUTH_HEADER"),
			LogsProtocol: strings.ToLower(getenv("OTEL_LOGS_PROTOCOL", "http")),
		},
		LogLevel:     strings.ToLower(getenv("LOG_LEVEL", "info")),
		JWTSecret:    os.Getenv("JWT_SECRET_KEY"),
		RedisURL:     os.Getenv("REDIS_URL"),
		UserCacheTTL: l.duration("USER_CACHE_TTL", DefaultUserCacheTTL),
	}
	if l.err != nil {
		return nil, l.err
	}

	if err := config.validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) validate() error {
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("BREAKER_FAILURE_THRESHOLD must be positive")
	}
	if c.Consumer.RetryAttempts <= 0 {
		return fmt.Errorf("CONSUMER_RETRY_ATTEMPTS must be positive")
	}

	switch c.Broker.Kind {
	case BrokerRabbitMQ:
		if c.Broker.RabbitMQURL == "" {
			return fmt.Errorf("RABBITMQ_URL environment variable is required")
		}
	case BrokerKafka:
		if c.Broker.KafkaBroker == "" {
			return fmt.Errorf("KAFKA_BROKER environment variable is required")
		}
	case BrokerNone:
		if c.ServiceName == NotificationServiceName {
			return fmt.Errorf("EVENT_BROKER=none is not supported by %s", c.ServiceName)
		}
	default:
		return fmt.Errorf("unknown EVENT_BROKER %q", c.Broker.Kind)
	}

	switch c.Consumer.FailurePolicy {
	case "ack", "requeue", "dead-letter":
	default:
		return fmt.Errorf("unknown CONSUMER_FAILURE_POLICY %q", c.Consumer.FailurePolicy)
	}

	if c.Otel.Endpoint != "" && c.Otel.AuthHeader == "" {
		return fmt.Errorf("OTEL_AUTH_HEADER environment variable is required when OTEL_ENDPOINT is set")
	}

	if c.ServiceName == OrderServiceName {
		if c.Database.URL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required")
		}
		if c.JWTSecret == "" {
			return fmt.Errorf("JWT_SECRET_KEY environment variable is required")
		}
		if c.Dependencies.PaymentAPIKey == "" {
			return fmt.Errorf("PAYMENT_SERVICE_API_KEY environment variable is required")
		}
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// loader keeps the first parse error so LoadConfig can report it once.
type loader struct {
	err error
}

func (l *loader) int(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return n
}

func (l *loader) float(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return f
}

func (l *loader) duration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil && l.err == nil {
		l.err = fmt.Errorf("invalid %s: %w", key, err)
	}
	return d
}
