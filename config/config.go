package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	AES        AESConfig        `mapstructure:"aes"`
	Admin      AdminConfig      `mapstructure:"admin"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Tokens     TokenConfig      `mapstructure:"tokens"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
	Mode string `mapstructure:"mode"` // debug, release, test
}

type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// AESConfig configures the encryption service. Either a 64-char hex key,
// or a passphrase + salt from which the key is derived with PBKDF2.
type AESConfig struct {
	Key        string `mapstructure:"key"`
	Passphrase string `mapstructure:"passphrase"`
	Salt       string `mapstructure:"salt"`
}

// AdminConfig holds credentials for the admin ops surface.
type AdminConfig struct {
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	JWTSecret string        `mapstructure:"jwt_secret"`
	JWTExpiry time.Duration `mapstructure:"jwt_expiry"`
	JWTIssuer string        `mapstructure:"jwt_issuer"`
}

// ProcessingConfig tunes the lifecycle engine and dispatcher.
type ProcessingConfig struct {
	LockTimeout          time.Duration `mapstructure:"lock_timeout"`
	ProcessingTimeout    time.Duration `mapstructure:"processing_timeout"`
	MaxRetries           int           `mapstructure:"max_retries"`
	BaseRetryDelay       time.Duration `mapstructure:"base_retry_delay"`
	QueueCapacity        int           `mapstructure:"queue_capacity"`
	Workers              int           `mapstructure:"workers"`            // 0 => NumCPU
	GlobalConcurrency    int           `mapstructure:"global_concurrency"` // 0 => 2*NumCPU
	TeamConcurrency      int           `mapstructure:"team_concurrency"`
	AllowConcurrentTeams bool          `mapstructure:"allow_concurrent_teams"`
	RetrySweepInterval   time.Duration `mapstructure:"retry_sweep_interval"`
}

// WebhookConfig tunes the delivery engine.
type WebhookConfig struct {
	Workers          int           `mapstructure:"workers"` // 0 => 2*NumCPU
	QueueCapacity    int           `mapstructure:"queue_capacity"`
	DefaultTimeout   time.Duration `mapstructure:"default_timeout"`
	UserAgent        string        `mapstructure:"user_agent"`
	ReplayProtection bool          `mapstructure:"replay_protection"`
	MaxPayloadBytes  int           `mapstructure:"max_payload_bytes"`
}

// TokenConfig tunes the expiring-token layer.
type TokenConfig struct {
	TTL              time.Duration `mapstructure:"ttl"`
	MaxTokensPerTeam int           `mapstructure:"max_tokens_per_team"`
	CleanupInterval  time.Duration `mapstructure:"cleanup_interval"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Pretty bool   `mapstructure:"pretty"` // human-readable output (dev only)
}

// Load reads configuration from file and environment variables.
// Environment variables override file values. Prefix: PGC (Payment
// Gateway Core). Nested keys use underscore: PGC_DATABASE_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "postgres")
	v.SetDefault("database.dbname", "payment_core")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 20)
	v.SetDefault("database.min_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("aes.key", "")
	v.SetDefault("aes.passphrase", "")
	v.SetDefault("aes.salt", "")
	v.SetDefault("admin.username", "")
	v.SetDefault("admin.password", "")
	v.SetDefault("admin.jwt_secret", "")
	v.SetDefault("admin.jwt_expiry", "12h")
	v.SetDefault("admin.jwt_issuer", "payment-gateway-core")
	v.SetDefault("processing.lock_timeout", "30s")
	v.SetDefault("processing.processing_timeout", "2m")
	v.SetDefault("processing.max_retries", 3)
	v.SetDefault("processing.base_retry_delay", "100ms")
	v.SetDefault("processing.queue_capacity", 10000)
	v.SetDefault("processing.workers", 0)
	v.SetDefault("processing.global_concurrency", 0)
	v.SetDefault("processing.team_concurrency", 5)
	v.SetDefault("processing.allow_concurrent_teams", true)
	v.SetDefault("processing.retry_sweep_interval", "10s")
	v.SetDefault("webhook.workers", 0)
	v.SetDefault("webhook.queue_capacity", 10000)
	v.SetDefault("webhook.default_timeout", "30s")
	v.SetDefault("webhook.user_agent", "payment-gateway-core-webhook/1.0")
	v.SetDefault("webhook.replay_protection", true)
	v.SetDefault("webhook.max_payload_bytes", 262144)
	v.SetDefault("tokens.ttl", "15m")
	v.SetDefault("tokens.max_tokens_per_team", 100)
	v.SetDefault("tokens.cleanup_interval", "1m")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", false)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PGC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}
