package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/segyhp/lending-engine/pkg/utils"
)

// Config holds all configuration for our application
type Config struct {
	Server    ServerConfig    `mapstructure:",squash"`
	Database  DatabaseConfig  `mapstructure:",squash"`
	Redis     RedisConfig     `mapstructure:",squash"`
	Kafka     KafkaConfig     `mapstructure:",squash"`
	Gateway   GatewayConfig   `mapstructure:",squash"`
	Scheduler SchedulerConfig `mapstructure:",squash"`
	Logging   LoggingConfig   `mapstructure:",squash"`
	Business  BusinessConfig  `mapstructure:",squash"`
	Health    HealthConfig    `mapstructure:",squash"`
}

type ServerConfig struct {
	Port         string        `mapstructure:"SERVER_PORT"`
	Host         string        `mapstructure:"SERVER_HOST"`
	Env          string        `mapstructure:"ENV"`
	ReadTimeout  time.Duration `mapstructure:"SERVER_READ_TIMEOUT"`
	WriteTimeout time.Duration `mapstructure:"SERVER_WRITE_TIMEOUT"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"DATABASE_URL"`
	Host            string        `mapstructure:"DATABASE_HOST"`
	Port            string        `mapstructure:"DATABASE_PORT"`
	Name            string        `mapstructure:"DATABASE_NAME"`
	User            string        `mapstructure:"DATABASE_USER"`
	Password        string        `mapstructure:"DATABASE_PASSWORD"`
	SSLMode         string        `mapstructure:"DATABASE_SSLMODE"`
	MaxOpenConns    int           `mapstructure:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `mapstructure:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `mapstructure:"DATABASE_CONN_MAX_LIFETIME"`
	MigrationsPath  string        `mapstructure:"DATABASE_MIGRATIONS_PATH"`
}

// DSN returns DATABASE_URL when set, otherwise a key/value connection string.
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type RedisConfig struct {
	Host     string `mapstructure:"REDIS_HOST"`
	Port     string `mapstructure:"REDIS_PORT"`
	Password string `mapstructure:"REDIS_PASSWORD"`
	DB       int    `mapstructure:"REDIS_DB"`
}

type KafkaConfig struct {
	Brokers    string `mapstructure:"KAFKA_BROKERS"`
	Topic      string `mapstructure:"KAFKA_TOPIC"`
	MaxRetries int    `mapstructure:"KAFKA_MAX_RETRIES"`
}

// BrokerList splits the comma separated KAFKA_BROKERS value.
func (k KafkaConfig) BrokerList() []string {
	var brokers []string
	for _, b := range strings.Split(k.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

type GatewayConfig struct {
	BaseURL         string        `mapstructure:"GATEWAY_BASE_URL"`
	SecretKey       string        `mapstructure:"GATEWAY_SECRET_KEY"`
	Timeout         time.Duration `mapstructure:"GATEWAY_TIMEOUT"`
	ConfirmTimeout  time.Duration `mapstructure:"GATEWAY_CONFIRM_TIMEOUT"`
	RetryWait       time.Duration `mapstructure:"GATEWAY_RETRY_WAIT"`
	ExpiryDays      int           `mapstructure:"GATEWAY_INSTRUMENT_EXPIRY_DAYS"`
	DisbursePayee   string        `mapstructure:"GATEWAY_DISBURSE_PAYEE"`
	CollectionPayer string        `mapstructure:"GATEWAY_COLLECTION_PAYER"`
}

type SchedulerConfig struct {
	OverdueSpec string `mapstructure:"SCHEDULER_OVERDUE_SPEC"`
	Timezone    string `mapstructure:"SCHEDULER_TIMEZONE"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"LOG_LEVEL"`
	Format string `mapstructure:"LOG_FORMAT"`
	Output string `mapstructure:"LOG_OUTPUT"`
}

type BusinessConfig struct {
	FirstPaymentOffsetDays int           `mapstructure:"FIRST_PAYMENT_OFFSET_DAYS"`
	LateFeeDailyRate       string        `mapstructure:"LATE_FEE_DAILY_RATE"`
	DefaultAfterDays       int           `mapstructure:"DEFAULT_AFTER_DAYS"`
	SettlementGuardTTL     time.Duration `mapstructure:"SETTLEMENT_GUARD_TTL"`
	AccountCacheTTL        time.Duration `mapstructure:"ACCOUNT_CACHE_TTL"`
}

type HealthConfig struct {
	Timeout string `mapstructure:"HEALTH_CHECK_TIMEOUT"`
}

// Load reads configuration from environment variables and files
func Load() (*Config, error) {
	// .env is optional; real environment variables win over it
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("SERVER_READ_TIMEOUT", "15s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "15s")

	v.SetDefault("DATABASE_URL", "")
	v.SetDefault("DATABASE_HOST", "localhost")
	v.SetDefault("DATABASE_PORT", "5432")
	v.SetDefault("DATABASE_NAME", "lending")
	v.SetDefault("DATABASE_USER", "postgres")
	v.SetDefault("DATABASE_PASSWORD", "postgres")
	v.SetDefault("DATABASE_SSLMODE", "disable")
	v.SetDefault("DATABASE_MAX_OPEN_CONNS", 25)
	v.SetDefault("DATABASE_MAX_IDLE_CONNS", 5)
	v.SetDefault("DATABASE_CONN_MAX_LIFETIME", "5m")
	v.SetDefault("DATABASE_MIGRATIONS_PATH", "scripts/migrations")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", "6379")
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)

	v.SetDefault("KAFKA_BROKERS", "")
	v.SetDefault("KAFKA_TOPIC", "lending.events")
	v.SetDefault("KAFKA_MAX_RETRIES", 3)

	v.SetDefault("GATEWAY_BASE_URL", "https://api.tosspayments.com")
	v.SetDefault("GATEWAY_SECRET_KEY", "")
	v.SetDefault("GATEWAY_TIMEOUT", "10s")
	v.SetDefault("GATEWAY_CONFIRM_TIMEOUT", "15s")
	v.SetDefault("GATEWAY_RETRY_WAIT", "500ms")
	v.SetDefault("GATEWAY_INSTRUMENT_EXPIRY_DAYS", 7)
	v.SetDefault("GATEWAY_DISBURSE_PAYEE", "borrower")
	v.SetDefault("GATEWAY_COLLECTION_PAYER", "borrower")

	v.SetDefault("SCHEDULER_OVERDUE_SPEC", "0 10 0 * * *")
	v.SetDefault("SCHEDULER_TIMEZONE", "Asia/Seoul")

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("LOG_OUTPUT", "stdout")

	v.SetDefault("FIRST_PAYMENT_OFFSET_DAYS", 30)
	v.SetDefault("LATE_FEE_DAILY_RATE", "0.0005")
	v.SetDefault("DEFAULT_AFTER_DAYS", 90)
	v.SetDefault("SETTLEMENT_GUARD_TTL", "2m")
	v.SetDefault("ACCOUNT_CACHE_TTL", "10m")

	v.SetDefault("HEALTH_CHECK_TIMEOUT", "5s")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("SERVER_PORT is required")
	}

	if c.Database.URL == "" && c.Database.Host == "" {
		return fmt.Errorf("DATABASE_URL or DATABASE_HOST is required")
	}

	if c.Gateway.ExpiryDays <= 0 {
		return fmt.Errorf("GATEWAY_INSTRUMENT_EXPIRY_DAYS must be greater than 0")
	}

	if c.Gateway.Timeout <= 0 || c.Gateway.ConfirmTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT and GATEWAY_CONFIRM_TIMEOUT must be positive")
	}

	if c.Business.FirstPaymentOffsetDays <= 0 {
		return fmt.Errorf("FIRST_PAYMENT_OFFSET_DAYS must be greater than 0")
	}

	if c.Business.DefaultAfterDays <= 0 {
		return fmt.Errorf("DEFAULT_AFTER_DAYS must be greater than 0")
	}

	rate, err := utils.DecimalFromString(c.Business.LateFeeDailyRate)
	if err != nil {
		return fmt.Errorf("LATE_FEE_DAILY_RATE must be a valid decimal: %w", err)
	}
	if rate.IsNegative() {
		return fmt.Errorf("LATE_FEE_DAILY_RATE must not be negative")
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid location: %w", err)
	}

	if _, err := time.ParseDuration(c.Health.Timeout); err != nil {
		return fmt.Errorf("HEALTH_CHECK_TIMEOUT must be a valid duration: %w", err)
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// GetLateFeeDailyRate returns the late fee daily rate as decimal
func (c *Config) GetLateFeeDailyRate() decimal.Decimal {
	rate, _ := utils.DecimalFromString(c.Business.LateFeeDailyRate)
	return rate
}

// GetHealthTimeout returns the health check timeout as duration
func (c *Config) GetHealthTimeout() time.Duration {
	timeout, _ := time.ParseDuration(c.Health.Timeout)
	return timeout
}

// GetSchedulerLocation returns the scheduler timezone
func (c *Config) GetSchedulerLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
