// Package config provides application configuration loading and management.
package config

import (
	"errors"
	"fmt"
	"log"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Bounds for the admin-adjustable pair cooldown.
const (
	MinCoolingHours = 1
	MaxCoolingHours = 720
)

// Config holds application configuration values loaded from file or environment variables.
type Config struct {
	Env  string `mapstructure:"APP_ENV"`
	Port string `mapstructure:"PORT"`

	GatewayHosts          string `mapstructure:"GATEWAY_HOSTS"`
	GatewayTimeoutSeconds int    `mapstructure:"GATEWAY_TIMEOUT_SECONDS"`
	AvatarURLTemplate     string `mapstructure:"AVATAR_URL_TEMPLATE"`
	ShowAvatar            bool   `mapstructure:"SHOW_AVATAR"`
	AvatarSize            int    `mapstructure:"AVATAR_SIZE"`
	DisplayNameMaxLength  int    `mapstructure:"DISPLAY_NAME_MAX_LENGTH"`

	EnableAdvancedGlobally bool   `mapstructure:"ENABLE_ADVANCED_GLOBALLY"`
	FeatureFlags           string `mapstructure:"FEATURE_FLAGS"`
	ConfirmWindowSeconds   int    `mapstructure:"CONFIRM_WINDOW_SECONDS"`
	ConfirmSweepSeconds    int    `mapstructure:"CONFIRM_SWEEP_SECONDS"`

	DefaultCoolingHours int `mapstructure:"DEFAULT_COOLING_HOURS"`
	MaxDailyBreakups    int `mapstructure:"MAX_DAILY_BREAKUPS"`
	BreakupBlockHours   int `mapstructure:"BREAKUP_BLOCK_HOURS"`
	MaxDailyWishes      int `mapstructure:"MAX_DAILY_WISHES"`
	MaxDailyRobAttempts int `mapstructure:"MAX_DAILY_ROB_ATTEMPTS"`
	MaxDailyLock        int `mapstructure:"MAX_DAILY_LOCK"`

	Timezone string `mapstructure:"TIMEZONE"`

	StoreDriver string `mapstructure:"STORE_DRIVER"`
	DataDir     string `mapstructure:"DATA_DIR"`
	SQLitePath  string `mapstructure:"SQLITE_PATH"`
	DBHost      string `mapstructure:"DB_HOST"`
	DBPort      string `mapstructure:"DB_PORT"`
	DBUser      string `mapstructure:"DB_USER"`
	DBPassword  string `mapstructure:"DB_PASSWORD"`
	DBName      string `mapstructure:"DB_NAME"`
	DBSSLMode   string `mapstructure:"DB_SSLMODE"`

	UsageBackend string `mapstructure:"USAGE_BACKEND"`
	RedisURL     string `mapstructure:"REDIS_URL"`

	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`

	TracingEnabled      bool    `mapstructure:"TRACING_ENABLED"`
	TracingExporter     string  `mapstructure:"TRACING_EXPORTER"`
	OTLPEndpoint        string  `mapstructure:"OTLP_ENDPOINT"`
	TracingSamplerRatio float64 `mapstructure:"TRACING_SAMPLER_RATIO"`
}

// SetDefaults registers default values on the given viper instance.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("PORT", "8390")
	v.SetDefault("GATEWAY_HOSTS", "127.0.0.1:3000")
	v.SetDefault("GATEWAY_TIMEOUT_SECONDS", 10)
	v.SetDefault("AVATAR_URL_TEMPLATE", "http://q.qlogo.cn/headimg_dl?dst_uin={user}&spec={size}")
	v.SetDefault("SHOW_AVATAR", true)
	v.SetDefault("AVATAR_SIZE", 100)
	v.SetDefault("DISPLAY_NAME_MAX_LENGTH", 10)
	v.SetDefault("ENABLE_ADVANCED_GLOBALLY", false)
	v.SetDefault("FEATURE_FLAGS", "")
	v.SetDefault("CONFIRM_WINDOW_SECONDS", 30)
	v.SetDefault("CONFIRM_SWEEP_SECONDS", 5)
	v.SetDefault("DEFAULT_COOLING_HOURS", 48)
	v.SetDefault("MAX_DAILY_BREAKUPS", 3)
	v.SetDefault("BREAKUP_BLOCK_HOURS", 24)
	v.SetDefault("MAX_DAILY_WISHES", 1)
	v.SetDefault("MAX_DAILY_ROB_ATTEMPTS", 2)
	v.SetDefault("MAX_DAILY_LOCK", 1)
	v.SetDefault("TIMEZONE", "Local")
	v.SetDefault("STORE_DRIVER", "file")
	v.SetDefault("DATA_DIR", "./data")
	v.SetDefault("SQLITE_PATH", "./data/dailypair.db")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "user")
	v.SetDefault("DB_PASSWORD", "password")
	v.SetDefault("DB_NAME", "dailypair")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("USAGE_BACKEND", "memory")
	v.SetDefault("REDIS_URL", "localhost:6379")
	v.SetDefault("WEBHOOK_SECRET", "")
	v.SetDefault("TRACING_ENABLED", false)
	v.SetDefault("TRACING_EXPORTER", "stdout")
	v.SetDefault("OTLP_ENDPOINT", "")
	v.SetDefault("TRACING_SAMPLER_RATIO", 1.0)
}

// LoadConfig loads application configuration from file and environment variables.
func LoadConfig() (*Config, error) {
	// A local .env only fills variables that are not already set.
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded environment from .env")
	}

	v := viper.GetViper()
	v.AddConfigPath(".")
	v.AddConfigPath("..")
	v.AddConfigPath("../..")
	v.SetConfigName("config")
	v.SetConfigType("yml")
	v.AutomaticEnv()

	// The base config file is optional.
	_ = v.ReadInConfig()

	env := v.GetString("APP_ENV")
	if env != "" && env != "development" {
		v.SetConfigName("config." + env)
		if err := v.MergeInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config.%s.yml: %w", env, err)
			}
		} else {
			log.Printf("Loaded profile-specific configuration: config.%s.yml", env)
		}
	}

	SetDefaults(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config into struct: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Validate ensures that required configuration values are present and consistent.
func (c *Config) Validate() error {
	if c.Port == "" {
		return errors.New("PORT is required")
	}
	if _, err := c.Hosts(); err != nil {
		return err
	}
	if c.GatewayTimeoutSeconds <= 0 {
		return errors.New("GATEWAY_TIMEOUT_SECONDS must be positive")
	}
	if c.DisplayNameMaxLength <= 0 {
		return errors.New("DISPLAY_NAME_MAX_LENGTH must be positive")
	}
	if c.DefaultCoolingHours < MinCoolingHours || c.DefaultCoolingHours > MaxCoolingHours {
		return fmt.Errorf("DEFAULT_COOLING_HOURS must be between %d and %d", MinCoolingHours, MaxCoolingHours)
	}
	if c.BreakupBlockHours <= 0 {
		return errors.New("BREAKUP_BLOCK_HOURS must be positive")
	}
	for name, v := range map[string]int{
		"MAX_DAILY_BREAKUPS":     c.MaxDailyBreakups,
		"MAX_DAILY_WISHES":       c.MaxDailyWishes,
		"MAX_DAILY_ROB_ATTEMPTS": c.MaxDailyRobAttempts,
		"MAX_DAILY_LOCK":         c.MaxDailyLock,
	} {
		if v < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	if c.ConfirmWindowSeconds <= 0 || c.ConfirmSweepSeconds <= 0 {
		return errors.New("CONFIRM_WINDOW_SECONDS and CONFIRM_SWEEP_SECONDS must be positive")
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	switch c.StoreDriver {
	case "file":
		if c.DataDir == "" {
			return errors.New("DATA_DIR is required for the file store")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return errors.New("SQLITE_PATH is required for the sqlite store")
		}
	case "postgres":
		if c.DBHost == "" || c.DBName == "" {
			return errors.New("DB_HOST and DB_NAME are required for the postgres store")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver)
	}

	switch c.UsageBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown USAGE_BACKEND %q", c.UsageBackend)
	}

	if c.IsProduction() {
		if len(c.WebhookSecret) < 32 {
			return errors.New("WEBHOOK_SECRET must be at least 32 characters in production")
		}
		if c.StoreDriver == "postgres" && (c.DBPassword == "password" || c.DBPassword == "") {
			return errors.New("a strong DB_PASSWORD is required in production")
		}
	} else if c.WebhookSecret == "" {
		log.Println("WARNING: WEBHOOK_SECRET is empty; the event webhook accepts unauthenticated requests.")
	}

	return nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production" || c.Env == "prod"
}

// Hosts parses GATEWAY_HOSTS into a list of host:port entries.
func (c *Config) Hosts() ([]string, error) {
	return ParseHosts(c.GatewayHosts)
}

// ParseHosts splits a comma-separated host:port list. Every entry must carry a numeric port.
func ParseHosts(raw string) ([]string, error) {
	var hosts []string
	for _, h := range strings.Split(raw, ",") {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		host, port, err := net.SplitHostPort(h)
		if err != nil || host == "" {
			return nil, fmt.Errorf("GATEWAY_HOSTS entry %q must be host:port", h)
		}
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			return nil, fmt.Errorf("GATEWAY_HOSTS entry %q has an invalid port", h)
		}
		hosts = append(hosts, h)
	}
	if len(hosts) == 0 {
		return nil, errors.New("GATEWAY_HOSTS must list at least one host:port")
	}
	return hosts, nil
}

// Location resolves TIMEZONE for day boundaries.
func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid TIMEZONE %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// GatewayTimeout returns the per-request timeout for outbound calls.
func (c *Config) GatewayTimeout() time.Duration {
	return time.Duration(c.GatewayTimeoutSeconds) * time.Second
}

// ConfirmWindow is how long an advanced-enable request waits for the phrase.
func (c *Config) ConfirmWindow() time.Duration {
	return time.Duration(c.ConfirmWindowSeconds) * time.Second
}

// ConfirmSweep is the interval of the expired-confirmation sweep.
func (c *Config) ConfirmSweep() time.Duration {
	return time.Duration(c.ConfirmSweepSeconds) * time.Second
}

// PostgresDSN builds the connection string for the postgres store.
func (c *Config) PostgresDSN() string {
	sslMode := c.DBSSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBUser, c.DBPassword, c.DBName, sslMode,
	)
}
