package bootstrap

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	StorageDriverPostgres = "postgres"
	StorageDriverMemory   = "memory"
)

type Config struct {
	ServiceID   string
	Environment string

	HTTPPort int
	GRPCPort int

	StorageDriver     string
	DatabaseURL       string
	MaxDBConns        int32
	DBConnMaxLifetime time.Duration
	RedisURL          string

	KafkaBrokers               []string
	KafkaConsumerGroup         string
	KafkaTopicPaymentConfirmed string
	KafkaTopicCancelRequested  string

	OutboxPollInterval   time.Duration
	OutboxBatchSize      int
	ConsumerPollInterval time.Duration

	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayTimeout   time.Duration

	PayoutsEnabled      bool
	PayoutSecurityKey   string
	PayoutBalanceCheck  bool
	PayoutRatePerSecond float64
	PayoutBurst         int
	PayoutAttemptTTL    time.Duration
	PayoutDrainTimeout  time.Duration

	CommissionRate      decimal.Decimal
	Currency            string
	DefaultCancelReason string
	IdempotencyTTL      time.Duration
	EventDedupTTL       time.Duration

	JWTIssuer        string
	JWTSecret        string
	JWTPublicKeyPEM  string
	JWTPublicKeyFile string

	OTLPEndpoint    string
	OTLPInsecure    bool
	TraceSampleRate float64
}

type configFile struct {
	Service struct {
		ID          string `yaml:"id"`
		Environment string `yaml:"environment"`
		HTTPPort    int    `yaml:"http_port"`
		GRPCPort    int    `yaml:"grpc_port"`
	} `yaml:"service"`
	Storage struct {
		Driver      string `yaml:"driver"`
		PostgresURL string `yaml:"postgres_url"`
		MaxConns    int32  `yaml:"max_conns"`
	} `yaml:"storage"`
	Dependencies struct {
		RedisURL                   string   `yaml:"redis_url"`
		KafkaBrokers               []string `yaml:"kafka_brokers"`
		KafkaConsumerGroup         string   `yaml:"kafka_consumer_group"`
		KafkaTopicPaymentConfirmed string   `yaml:"kafka_topic_payment_confirmed"`
		KafkaTopicCancelRequested  string   `yaml:"kafka_topic_cancel_requested"`
	} `yaml:"dependencies"`
	Gateway struct {
		BaseURL string `yaml:"base_url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"gateway"`
	Commission struct {
		Rate     string `yaml:"rate"`
		Currency string `yaml:"currency"`
	} `yaml:"commission"`
	Payout struct {
		Enabled       *bool   `yaml:"enabled"`
		BalanceCheck  *bool   `yaml:"balance_check"`
		RatePerSecond float64 `yaml:"rate_per_second"`
		Burst         int     `yaml:"burst"`
		AttemptTTL    string  `yaml:"attempt_ttl"`
		DrainTimeout  string  `yaml:"drain_timeout"`
	} `yaml:"payout"`
	Auth struct {
		JWTIssuer        string `yaml:"jwt_issuer"`
		JWTPublicKeyFile string `yaml:"jwt_public_key_file"`
	} `yaml:"auth"`
	Telemetry struct {
		OTLPEndpoint string  `yaml:"otlp_endpoint"`
		Insecure     bool    `yaml:"insecure"`
		SampleRate   float64 `yaml:"sample_rate"`
	} `yaml:"telemetry"`
}

func LoadConfig(path string) (Config, error) {
	cfg := Config{
		ServiceID:                  "M92-Order-Settlement-Service",
		Environment:                "development",
		HTTPPort:                   8080,
		GRPCPort:                   9090,
		StorageDriver:              StorageDriverPostgres,
		MaxDBConns:                 20,
		DBConnMaxLifetime:          30 * time.Minute,
		KafkaConsumerGroup:         "m92-order-settlement-service",
		KafkaTopicPaymentConfirmed: "payment.confirmed",
		KafkaTopicCancelRequested:  "order.cancel_requested",
		OutboxPollInterval:         2 * time.Second,
		OutboxBatchSize:            100,
		ConsumerPollInterval:       2 * time.Second,
		GatewayTimeout:             10 * time.Second,
		PayoutsEnabled:             true,
		PayoutBalanceCheck:         true,
		PayoutRatePerSecond:        5,
		PayoutBurst:                5,
		PayoutAttemptTTL:           72 * time.Hour,
		PayoutDrainTimeout:         15 * time.Second,
		CommissionRate:             decimal.RequireFromString("0.15"),
		Currency:                   "KRW",
		DefaultCancelReason:        "customer request",
		IdempotencyTTL:             7 * 24 * time.Hour,
		EventDedupTTL:              7 * 24 * time.Hour,
		TraceSampleRate:            1.0,
	}

	raw, err := os.ReadFile(path)
	if err == nil {
		var f configFile
		if unmarshalErr := yaml.Unmarshal(raw, &f); unmarshalErr != nil {
			return Config{}, fmt.Errorf("parse config file: %w", unmarshalErr)
		}
		if err := applyFile(&cfg, f); err != nil {
			return Config{}, err
		}
	}

	cfg.ServiceID = envOrDefault("SERVICE_ID", cfg.ServiceID)
	cfg.Environment = envOrDefault("ENVIRONMENT", cfg.Environment)
	cfg.HTTPPort = envInt("HTTP_PORT", cfg.HTTPPort)
	cfg.GRPCPort = envInt("GRPC_PORT", cfg.GRPCPort)
	cfg.StorageDriver = strings.ToLower(envOrDefault("STORAGE_DRIVER", cfg.StorageDriver))
	cfg.DatabaseURL = envOrDefault("DB_URL", envOrDefault("POSTGRES_URL", cfg.DatabaseURL))
	cfg.MaxDBConns = int32(envInt("DB_MAX_CONNS", int(cfg.MaxDBConns)))
	cfg.DBConnMaxLifetime = envDuration("DB_CONN_MAX_LIFETIME", cfg.DBConnMaxLifetime)
	cfg.RedisURL = envOrDefault("REDIS_URL", cfg.RedisURL)
	cfg.KafkaBrokers = envCSV("KAFKA_BROKERS", cfg.KafkaBrokers)
	cfg.KafkaConsumerGroup = envOrDefault("KAFKA_CONSUMER_GROUP", cfg.KafkaConsumerGroup)
	cfg.KafkaTopicPaymentConfirmed = envOrDefault("KAFKA_TOPIC_PAYMENT_CONFIRMED", cfg.KafkaTopicPaymentConfirmed)
	cfg.KafkaTopicCancelRequested = envOrDefault("KAFKA_TOPIC_CANCEL_REQUESTED", cfg.KafkaTopicCancelRequested)
	cfg.OutboxPollInterval = time.Duration(envInt("OUTBOX_POLL_SECONDS", int(cfg.OutboxPollInterval.Seconds()))) * time.Second
	cfg.OutboxBatchSize = envInt("OUTBOX_BATCH_SIZE", cfg.OutboxBatchSize)
	cfg.ConsumerPollInterval = time.Duration(envInt("CONSUMER_POLL_SECONDS", int(cfg.ConsumerPollInterval.Seconds()))) * time.Second
	cfg.GatewayBaseURL = envOrDefault("TOSS_BASE_URL", cfg.GatewayBaseURL)
	cfg.GatewaySecretKey = envOrDefault("TOSS_SECRET_KEY", cfg.GatewaySecretKey)
	cfg.GatewayTimeout = envDuration("TOSS_TIMEOUT", cfg.GatewayTimeout)
	cfg.PayoutsEnabled = envBool("PAYOUTS_ENABLED", cfg.PayoutsEnabled)
	cfg.PayoutSecurityKey = envOrDefault("TOSS_SECURITY_KEY", cfg.PayoutSecurityKey)
	cfg.PayoutBalanceCheck = envBool("PAYOUT_BALANCE_CHECK", cfg.PayoutBalanceCheck)
	cfg.PayoutBurst = envInt("PAYOUT_BURST", cfg.PayoutBurst)
	cfg.PayoutAttemptTTL = envDuration("PAYOUT_ATTEMPT_TTL", cfg.PayoutAttemptTTL)
	cfg.PayoutDrainTimeout = envDuration("PAYOUT_DRAIN_TIMEOUT", cfg.PayoutDrainTimeout)
	cfg.Currency = envOrDefault("CURRENCY", cfg.Currency)
	cfg.IdempotencyTTL = time.Duration(envInt("IDEMPOTENCY_TTL_HOURS", int(cfg.IdempotencyTTL.Hours()))) * time.Hour
	cfg.EventDedupTTL = time.Duration(envInt("EVENT_DEDUP_TTL_HOURS", int(cfg.EventDedupTTL.Hours()))) * time.Hour
	cfg.JWTIssuer = envOrDefault("JWT_ISSUER", cfg.JWTIssuer)
	cfg.JWTSecret = envOrDefault("JWT_SECRET", cfg.JWTSecret)
	cfg.JWTPublicKeyPEM = envOrDefault("JWT_PUBLIC_KEY", cfg.JWTPublicKeyPEM)
	cfg.JWTPublicKeyFile = envOrDefault("JWT_PUBLIC_KEY_FILE", cfg.JWTPublicKeyFile)
	cfg.OTLPEndpoint = envOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", cfg.OTLPEndpoint)
	cfg.OTLPInsecure = envBool("OTEL_EXPORTER_OTLP_INSECURE", cfg.OTLPInsecure)
	if raw := strings.TrimSpace(os.Getenv("COMMISSION_RATE")); raw != "" {
		rate, err := decimal.NewFromString(raw)
		if err != nil {
			return Config{}, fmt.Errorf("parse COMMISSION_RATE: %w", err)
		}
		cfg.CommissionRate = rate
	}
	if raw := strings.TrimSpace(os.Getenv("PAYOUT_RATE_PER_SECOND")); raw != "" {
		if v, err := strconv.ParseFloat(raw, 64); err == nil {
			cfg.PayoutRatePerSecond = v
		}
	}

	if cfg.JWTPublicKeyPEM == "" && cfg.JWTPublicKeyFile != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyFile)
		if err != nil {
			return Config{}, fmt.Errorf("read jwt public key: %w", err)
		}
		cfg.JWTPublicKeyPEM = string(pem)
	}
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyFile(cfg *Config, f configFile) error {
	if f.Service.ID != "" {
		cfg.ServiceID = f.Service.ID
	}
	if f.Service.Environment != "" {
		cfg.Environment = f.Service.Environment
	}
	if f.Service.HTTPPort > 0 {
		cfg.HTTPPort = f.Service.HTTPPort
	}
	if f.Service.GRPCPort > 0 {
		cfg.GRPCPort = f.Service.GRPCPort
	}
	if f.Storage.Driver != "" {
		cfg.StorageDriver = strings.ToLower(f.Storage.Driver)
	}
	if f.Storage.PostgresURL != "" {
		cfg.DatabaseURL = f.Storage.PostgresURL
	}
	if f.Storage.MaxConns > 0 {
		cfg.MaxDBConns = f.Storage.MaxConns
	}
	if f.Dependencies.RedisURL != "" {
		cfg.RedisURL = f.Dependencies.RedisURL
	}
	if len(f.Dependencies.KafkaBrokers) > 0 {
		cfg.KafkaBrokers = trimNonEmpty(f.Dependencies.KafkaBrokers)
	}
	if f.Dependencies.KafkaConsumerGroup != "" {
		cfg.KafkaConsumerGroup = f.Dependencies.KafkaConsumerGroup
	}
	if f.Dependencies.KafkaTopicPaymentConfirmed != "" {
		cfg.KafkaTopicPaymentConfirmed = f.Dependencies.KafkaTopicPaymentConfirmed
	}
	if f.Dependencies.KafkaTopicCancelRequested != "" {
		cfg.KafkaTopicCancelRequested = f.Dependencies.KafkaTopicCancelRequested
	}
	if f.Gateway.BaseURL != "" {
		cfg.GatewayBaseURL = f.Gateway.BaseURL
	}
	var err error
	if cfg.GatewayTimeout, err = parseDuration("gateway.timeout", f.Gateway.Timeout, cfg.GatewayTimeout); err != nil {
		return err
	}
	if f.Commission.Rate != "" {
		rate, err := decimal.NewFromString(f.Commission.Rate)
		if err != nil {
			return fmt.Errorf("parse commission.rate: %w", err)
		}
		cfg.CommissionRate = rate
	}
	if f.Commission.Currency != "" {
		cfg.Currency = f.Commission.Currency
	}
	if f.Payout.Enabled != nil {
		cfg.PayoutsEnabled = *f.Payout.Enabled
	}
	if f.Payout.BalanceCheck != nil {
		cfg.PayoutBalanceCheck = *f.Payout.BalanceCheck
	}
	if f.Payout.RatePerSecond > 0 {
		cfg.PayoutRatePerSecond = f.Payout.RatePerSecond
	}
	if f.Payout.Burst > 0 {
		cfg.PayoutBurst = f.Payout.Burst
	}
	if cfg.PayoutAttemptTTL, err = parseDuration("payout.attempt_ttl", f.Payout.AttemptTTL, cfg.PayoutAttemptTTL); err != nil {
		return err
	}
	if cfg.PayoutDrainTimeout, err = parseDuration("payout.drain_timeout", f.Payout.DrainTimeout, cfg.PayoutDrainTimeout); err != nil {
		return err
	}
	if f.Auth.JWTIssuer != "" {
		cfg.JWTIssuer = f.Auth.JWTIssuer
	}
	if f.Auth.JWTPublicKeyFile != "" {
		cfg.JWTPublicKeyFile = f.Auth.JWTPublicKeyFile
	}
	if f.Telemetry.OTLPEndpoint != "" {
		cfg.OTLPEndpoint = f.Telemetry.OTLPEndpoint
	}
	cfg.OTLPInsecure = cfg.OTLPInsecure || f.Telemetry.Insecure
	if f.Telemetry.SampleRate > 0 {
		cfg.TraceSampleRate = f.Telemetry.SampleRate
	}
	return nil
}

func (c Config) validate() error {
	switch c.StorageDriver {
	case StorageDriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("missing DB_URL/POSTGRES_URL")
		}
	case StorageDriverMemory:
	default:
		return fmt.Errorf("unsupported storage driver %q", c.StorageDriver)
	}
	if c.GatewaySecretKey == "" {
		return fmt.Errorf("missing TOSS_SECRET_KEY")
	}
	if c.PayoutsEnabled {
		key, err := hex.DecodeString(c.PayoutSecurityKey)
		if err != nil || len(key) != 32 {
			return fmt.Errorf("TOSS_SECURITY_KEY must be 64 hex characters when payouts are enabled")
		}
	}
	if !c.CommissionRate.IsPositive() || c.CommissionRate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("commission rate must be in (0, 1), got %s", c.CommissionRate)
	}
	if c.JWTSecret == "" && c.JWTPublicKeyPEM == "" {
		return fmt.Errorf("missing JWT_SECRET or JWT_PUBLIC_KEY")
	}
	return nil
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", field, err)
	}
	return d, nil
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(name string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	switch strings.ToLower(raw) {
	case "1", "true", "yes":
		return true
	case "0", "false", "no":
		return false
	default:
		return fallback
	}
}

func envDuration(name string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}

func envCSV(name string, fallback []string) []string {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return fallback
	}
	return trimNonEmpty(strings.Split(raw, ","))
}

func trimNonEmpty(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			out = append(out, s)
		}
	}
	return out
}
