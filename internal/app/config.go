package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the authguard server.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Cache         CacheConfig         `mapstructure:"cache"`
	Auth          AuthConfig          `mapstructure:"auth"`
	GeoIP         GeoIPConfig         `mapstructure:"geoip"`
	Email         EmailConfig         `mapstructure:"email"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Audit         AuditConfig         `mapstructure:"audit"`
	Maintenance   MaintenanceConfig   `mapstructure:"maintenance"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port           int             `mapstructure:"port"`
	LogLevel       string          `mapstructure:"log_level"`
	LogFormat      string          `mapstructure:"log_format"`
	TrustedProxies []string        `mapstructure:"trusted_proxies"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig bounds requests per client IP and route.
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
}

// DatabaseConfig describes connection options for the supported databases.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig represents host based database parameters.
type DBAuthConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// CacheConfig describes cache backends.
type CacheConfig struct {
	Redis RedisCacheConfig `mapstructure:"redis"`
}

// RedisCacheConfig holds Redis connection options.
type RedisCacheConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Address   string        `mapstructure:"address"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	TLS       bool          `mapstructure:"tls"`
	Timeout   time.Duration `mapstructure:"timeout"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// AuthConfig captures all authentication-related settings.
type AuthConfig struct {
	JWT     JWTSettings     `mapstructure:"jwt"`
	Session SessionSettings `mapstructure:"session"`
	Risk    RiskSettings    `mapstructure:"risk"`
	Devices DeviceSettings  `mapstructure:"devices"`
	Lockout LockoutSettings `mapstructure:"lockout"`
}

// JWTSettings configures JWT access tokens.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"access_token_ttl"`
}

// SessionSettings configures refresh tokens.
type SessionSettings struct {
	RefreshTTL     time.Duration `mapstructure:"refresh_token_ttl"`
	RememberMeTTL  time.Duration `mapstructure:"remember_me_ttl"`
	VerifierLength int           `mapstructure:"verifier_length"`
	BcryptCost     int           `mapstructure:"bcrypt_cost"`
	UserType       string        `mapstructure:"user_type"`
}

// RiskSettings configures the risk engine.
type RiskSettings struct {
	Enabled                 bool        `mapstructure:"enabled"`
	Weights                 RiskWeights `mapstructure:"weights"`
	TrustedDeviceAdjustment int         `mapstructure:"trusted_device_adjustment"`
	MediumThreshold         int         `mapstructure:"medium_threshold"`
	HighThreshold           int         `mapstructure:"high_threshold"`
	MaxTravelSpeedKmh       float64     `mapstructure:"max_travel_speed_kmh"`
	MaxSetSize              int         `mapstructure:"max_set_size"`
}

// RiskWeights assigns points per factor.
type RiskWeights struct {
	UntrustedDevice      int `mapstructure:"untrusted_device"`
	ImpossibleTravel     int `mapstructure:"impossible_travel"`
	NewCountry           int `mapstructure:"new_country"`
	NewCity              int `mapstructure:"new_city"`
	UnusualHour          int `mapstructure:"unusual_hour"`
	UnfamiliarDeviceType int `mapstructure:"unfamiliar_device_type"`
}

// DeviceSettings configures the device approval challenge.
type DeviceSettings struct {
	ApprovalTTL         time.Duration `mapstructure:"approval_ttl"`
	CodeLength          int           `mapstructure:"code_length"`
	TokenBytes          int           `mapstructure:"token_bytes"`
	MaxApprovalAttempts int           `mapstructure:"max_approval_attempts"`
	MaxRegeneration     int           `mapstructure:"max_regeneration"`
}

// LockoutSettings configures the brute-force guard.
type LockoutSettings struct {
	Schedule         []time.Duration `mapstructure:"schedule"`
	MaxAttempts      int             `mapstructure:"max_attempts"`
	PermanentLockout time.Duration   `mapstructure:"permanent_lockout"`
	Window           time.Duration   `mapstructure:"window"`
}

// GeoIPConfig points at an optional MaxMind City database.
type GeoIPConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	DatabasePath string `mapstructure:"database_path"`
	Language     string `mapstructure:"language"`
}

// EmailConfig captures outbound email settings.
type EmailConfig struct {
	SMTP SMTPConfig `mapstructure:"smtp"`
}

// SMTPConfig defines SMTP dialer settings for sending email.
type SMTPConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Host     string        `mapstructure:"host"`
	Port     int           `mapstructure:"port"`
	Username string        `mapstructure:"username"`
	Password string        `mapstructure:"password"`
	From     string        `mapstructure:"from"`
	UseTLS   bool          `mapstructure:"use_tls"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

// NotificationsConfig controls security mail delivery.
type NotificationsConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	AppName     string `mapstructure:"app_name"`
	ApprovalURL string `mapstructure:"approval_url"`
	BufferSize  int    `mapstructure:"buffer_size"`
	DropIfFull  bool   `mapstructure:"drop_if_full"`
}

// AuditConfig controls the audit pipeline.
type AuditConfig struct {
	Enabled       bool `mapstructure:"enabled"`
	BufferSize    int  `mapstructure:"buffer_size"`
	DropIfFull    bool `mapstructure:"drop_if_full"`
	RetentionDays int  `mapstructure:"retention_days"`
}

// MaintenanceConfig holds cron schedules for background cleanup.
type MaintenanceConfig struct {
	Enabled         bool   `mapstructure:"enabled"`
	TokenCleanup    string `mapstructure:"token_cleanup"`
	DeviceExpiry    string `mapstructure:"device_expiry"`
	AuditRetention  string `mapstructure:"audit_retention"`
	CacheEntryPurge string `mapstructure:"cache_entry_purge"`
	RunOnShutdown   bool   `mapstructure:"run_on_shutdown"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
}

// PrometheusConfig toggles the metrics endpoint.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// LoadConfig initialises application configuration using Viper with sensible defaults.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	v.AddConfigPath("./config")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	setDefaults(v)

	v.SetEnvPrefix("AUTHGUARD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if !errors.As(err, &cfgErr) {
			return nil, fmt.Errorf("config: read file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")
	v.SetDefault("server.rate_limit.enabled", true)
	v.SetDefault("server.rate_limit.requests", 100)
	v.SetDefault("server.rate_limit.window", "1m")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/authguard.sqlite")

	v.SetDefault("cache.redis.enabled", false)
	v.SetDefault("cache.redis.address", "127.0.0.1:6379")
	v.SetDefault("cache.redis.db", 0)
	v.SetDefault("cache.redis.tls", false)
	v.SetDefault("cache.redis.timeout", "5s")
	v.SetDefault("cache.redis.key_prefix", "authguard:")

	v.SetDefault("auth.jwt.issuer", "authguard")
	v.SetDefault("auth.jwt.access_token_ttl", "15m")
	v.SetDefault("auth.session.refresh_token_ttl", "24h")
	v.SetDefault("auth.session.remember_me_ttl", "720h") // 30 days
	v.SetDefault("auth.session.verifier_length", 32)
	v.SetDefault("auth.session.bcrypt_cost", 10)
	v.SetDefault("auth.session.user_type", "user")

	v.SetDefault("auth.risk.enabled", true)
	v.SetDefault("auth.risk.weights.untrusted_device", 20)
	v.SetDefault("auth.risk.weights.impossible_travel", 50)
	v.SetDefault("auth.risk.weights.new_country", 30)
	v.SetDefault("auth.risk.weights.new_city", 10)
	v.SetDefault("auth.risk.weights.unusual_hour", 10)
	v.SetDefault("auth.risk.weights.unfamiliar_device_type", 15)
	v.SetDefault("auth.risk.trusted_device_adjustment", 20)
	v.SetDefault("auth.risk.medium_threshold", 30)
	v.SetDefault("auth.risk.high_threshold", 60)
	v.SetDefault("auth.risk.max_travel_speed_kmh", 800)
	v.SetDefault("auth.risk.max_set_size", 20)

	v.SetDefault("auth.devices.approval_ttl", "15m")
	v.SetDefault("auth.devices.code_length", 6)
	v.SetDefault("auth.devices.token_bytes", 32)
	v.SetDefault("auth.devices.max_approval_attempts", 5)
	v.SetDefault("auth.devices.max_regeneration", 5)

	v.SetDefault("auth.lockout.schedule", "0s,0s,1m,2m,5m,15m,30m")
	v.SetDefault("auth.lockout.max_attempts", 10)
	v.SetDefault("auth.lockout.permanent_lockout", "24h")

	v.SetDefault("geoip.enabled", false)
	v.SetDefault("geoip.language", "en")

	v.SetDefault("email.smtp.enabled", false)
	v.SetDefault("email.smtp.port", 587)
	v.SetDefault("email.smtp.use_tls", true)
	v.SetDefault("email.smtp.timeout", "10s")

	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.app_name", "authguard")
	v.SetDefault("notifications.buffer_size", 256)
	v.SetDefault("notifications.drop_if_full", true)

	v.SetDefault("audit.enabled", true)
	v.SetDefault("audit.buffer_size", 1024)
	v.SetDefault("audit.drop_if_full", true)
	v.SetDefault("audit.retention_days", 90)

	v.SetDefault("maintenance.enabled", true)
	v.SetDefault("maintenance.token_cleanup", "@hourly")
	v.SetDefault("maintenance.device_expiry", "@every 15m")
	v.SetDefault("maintenance.audit_retention", "@daily")
	v.SetDefault("maintenance.cache_entry_purge", "@every 10m")
	v.SetDefault("maintenance.run_on_shutdown", true)

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}
