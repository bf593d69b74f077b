package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/spf13/viper"

	apperrors "github.com/jwalitptl/reschedule-agent/pkg/errors"
	"github.com/jwalitptl/reschedule-agent/pkg/validator"
)

type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	CallService CallServiceConfig `mapstructure:"call_service"`
	Campaign    CampaignConfig    `mapstructure:"campaign"`
	Redis       RedisConfig       `mapstructure:"redis"`
	Database    DatabaseConfig    `mapstructure:"database"`
	Auth        AuthConfig        `mapstructure:"auth"`
	Email       EmailConfig       `mapstructure:"email"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
	Security    SecurityConfig    `mapstructure:"security"`
	Logging     LoggingConfig     `mapstructure:"logging"`
	Monitoring  MonitoringConfig  `mapstructure:"monitoring"`
	Worker      WorkerConfig      `mapstructure:"worker"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"min=1"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxHeaderBytes  int           `mapstructure:"max_header_bytes"`
	Mode            string        `mapstructure:"mode" validate:"oneof=debug release test"`
}

type CallServiceConfig struct {
	BaseURL         string        `mapstructure:"base_url" validate:"required,url"`
	APIKey          string        `mapstructure:"api_key" validate:"required,not_placeholder"`
	AgentID         string        `mapstructure:"agent_id" validate:"required,not_placeholder"`
	FromNumber      string        `mapstructure:"from_number" validate:"omitempty,e164,not_placeholder"`
	RequestTimeout  time.Duration `mapstructure:"request_timeout"`
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	AnalysisGrace   time.Duration `mapstructure:"analysis_grace"`
	MaxWait         time.Duration `mapstructure:"max_wait"`
	RecoveryMaxWait time.Duration `mapstructure:"recovery_max_wait"`
	PhoneNumberTTL  time.Duration `mapstructure:"phone_number_ttl"`
}

type CampaignConfig struct {
	MaxCandidates int `mapstructure:"max_candidates" validate:"min=1"`
}

type RedisConfig struct {
	Enabled      bool          `mapstructure:"enabled"`
	URL          string        `mapstructure:"url"`
	Channel      string        `mapstructure:"channel"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Name            string        `mapstructure:"name"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the lib/pq connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type AuthConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Secret       string `mapstructure:"secret"`
	ExpiryHours  int    `mapstructure:"expiry_hours"`
}

type EmailConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	Host       string   `mapstructure:"host"`
	Port       int      `mapstructure:"port"`
	Username   string   `mapstructure:"username"`
	Password   string   `mapstructure:"password"`
	From       string   `mapstructure:"from"`
	Recipients []string `mapstructure:"recipients"`
}

type RateLimitConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

type SecurityConfig struct {
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	AllowedMethods []string `mapstructure:"allowed_methods"`
	AllowedHeaders []string `mapstructure:"allowed_headers"`
	// ArchiveKey is a base64 AES key for outcomes stored by the worker.
	ArchiveKey string `mapstructure:"archive_key"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format" validate:"oneof=console json"`
}

type MonitoringConfig struct {
	Namespace string `mapstructure:"namespace"`
}

type WorkerConfig struct {
	Port            int           `mapstructure:"port"`
	RetryAttempts   int           `mapstructure:"retry_attempts"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	RetentionDays   int           `mapstructure:"retention_days"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
}

// secrets are read from the environment and win over file values.
type secrets struct {
	RetellAPIKey  string `envconfig:"RETELL_API_KEY"`
	RetellAgentID string `envconfig:"RETELL_AGENT_ID"`
	FromNumber    string `envconfig:"FROM_NUMBER"`
	JWTSecret     string `envconfig:"JWT_SECRET"`
	SMTPPassword  string `envconfig:"SMTP_PASSWORD"`
	DBPassword    string `envconfig:"DB_PASSWORD"`
	ArchiveKey    string `envconfig:"ARCHIVE_ENCRYPTION_KEY"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.max_header_bytes", 1<<20)
	v.SetDefault("server.mode", "release")

	v.SetDefault("call_service.base_url", "https://api.retellai.com")
	v.SetDefault("call_service.api_key", "")
	v.SetDefault("call_service.agent_id", "")
	v.SetDefault("call_service.from_number", "")
	v.SetDefault("call_service.request_timeout", "30s")
	v.SetDefault("call_service.poll_interval", "5s")
	v.SetDefault("call_service.analysis_grace", "3s")
	v.SetDefault("call_service.max_wait", "600s")
	v.SetDefault("call_service.recovery_max_wait", "120s")
	v.SetDefault("call_service.phone_number_ttl", "5m")

	v.SetDefault("campaign.max_candidates", 5)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.channel", "campaign.progress")
	v.SetDefault("redis.max_retries", 3)
	v.SetDefault("redis.retry_backoff", "100ms")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)

	v.SetDefault("database.enabled", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.name", "reschedule")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	v.SetDefault("auth.enabled", false)
	v.SetDefault("auth.username", "operator")
	v.SetDefault("auth.password_hash", "")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.expiry_hours", 12)

	v.SetDefault("email.enabled", false)
	v.SetDefault("email.host", "localhost")
	v.SetDefault("email.port", 587)
	v.SetDefault("email.username", "")
	v.SetDefault("email.password", "")
	v.SetDefault("email.from", "")
	v.SetDefault("email.recipients", []string{})

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_second", 10)
	v.SetDefault("rate_limit.burst", 20)

	v.SetDefault("security.allowed_origins", []string{"*"})
	v.SetDefault("security.allowed_methods", []string{"GET", "POST", "OPTIONS"})
	v.SetDefault("security.allowed_headers", []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"})
	v.SetDefault("security.archive_key", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")

	v.SetDefault("monitoring.namespace", "reschedule")

	v.SetDefault("worker.port", 8081)
	v.SetDefault("worker.retry_attempts", 3)
	v.SetDefault("worker.retry_delay", "2s")
	v.SetDefault("worker.retention_days", 90)
	v.SetDefault("worker.cleanup_interval", "24h")
}

// Load reads config.yml from the usual locations (or CONFIG_FILE), applies
// environment overrides and returns the result without validating it.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/app")
	v.AddConfigPath("/app/config")
	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	var s secrets
	if err := envconfig.Process("", &s); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}
	applySecrets(&cfg, s)

	return &cfg, nil
}

func applySecrets(cfg *Config, s secrets) {
	override := func(dst *string, val string) {
		if val != "" {
			*dst = val
		}
	}
	override(&cfg.CallService.APIKey, s.RetellAPIKey)
	override(&cfg.CallService.AgentID, s.RetellAgentID)
	override(&cfg.CallService.FromNumber, s.FromNumber)
	override(&cfg.Auth.Secret, s.JWTSecret)
	override(&cfg.Email.Password, s.SMTPPassword)
	override(&cfg.Database.Password, s.DBPassword)
	override(&cfg.Security.ArchiveKey, s.ArchiveKey)
}

// Validate checks the settings the API needs before it can place calls.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.Auth.Enabled {
		if len(c.Auth.Secret) < 32 {
			return apperrors.Validation("auth.secret must be at least 32 characters when auth is enabled")
		}
		if c.Auth.PasswordHash == "" {
			return apperrors.Validation("auth.password_hash is required when auth is enabled")
		}
	}
	if c.Email.Enabled && c.Email.From == "" {
		return apperrors.Validation("email.from is required when email is enabled")
	}
	if c.Database.Enabled && c.Database.Host == "" {
		return apperrors.Validation("database.host is required when the archive is enabled")
	}
	return nil
}
