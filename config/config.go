package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all service configuration.
type Config struct {
	HTTPServer HTTPServerConfig
	Logger     LoggerConfig
	Redis      RedisConfig
	Google     GoogleConfig
	Calendar   CalendarConfig
	Watch      WatchConfig
	Notify     NotifyConfig

	// HTTPTimeout bounds every outbound provider and sink request.
	HTTPTimeout time.Duration
	// SyncTimeout bounds one detached sync pass.
	SyncTimeout time.Duration
}

type HTTPServerConfig struct {
	Port int
	// AdminToken guards the operator endpoints. Empty falls back to
	// watch.channel_token; both empty leaves them open.
	AdminToken string
}

type LoggerConfig struct {
	Level    string
	Encoding string
}

type RedisConfig struct {
	URL string
}

type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	RedirectURL  string
}

type CalendarConfig struct {
	ID          string
	UTCOffset   string
	HorizonDays int
}

type WatchConfig struct {
	CallbackURL   string
	ChannelToken  string
	RenewSchedule string
	SafetyMargin  time.Duration
}

type NotifyConfig struct {
	WebhookURL string
	MaxChunk   int
	RatePerSec float64
}

// Load reads an optional .env file, then config.yaml from ./config or ., then
// the environment. Environment keys are the upper-cased dotted names with
// dots replaced by underscores, e.g. REDIS_URL or GOOGLE_REFRESH_TOKEN.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error reading .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}
	return FromViper(v)
}

// FromViper builds a Config from v after applying defaults and env binding.
func FromViper(v *viper.Viper) (*Config, error) {
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	cfg := &Config{}
	cfg.HTTPServer.Port = v.GetInt("http_server.port")
	cfg.Logger.Level = v.GetString("logger.level")
	cfg.Logger.Encoding = v.GetString("logger.encoding")

	cfg.Redis.URL = v.GetString("redis.url")

	cfg.Google.ClientID = v.GetString("google.client_id")
	cfg.Google.ClientSecret = v.GetString("google.client_secret")
	cfg.Google.RefreshToken = v.GetString("google.refresh_token")
	cfg.Google.RedirectURL = v.GetString("google.redirect_url")

	cfg.Calendar.ID = v.GetString("calendar.id")
	cfg.Calendar.UTCOffset = v.GetString("calendar.utc_offset")
	cfg.Calendar.HorizonDays = v.GetInt("calendar.horizon_days")

	cfg.Watch.CallbackURL = v.GetString("watch.callback_url")
	cfg.Watch.ChannelToken = v.GetString("watch.channel_token")
	cfg.HTTPServer.AdminToken = v.GetString("http_server.admin_token")
	if cfg.HTTPServer.AdminToken == "" {
		cfg.HTTPServer.AdminToken = cfg.Watch.ChannelToken
	}
	cfg.Watch.RenewSchedule = v.GetString("watch.renew_schedule")
	cfg.Watch.SafetyMargin = v.GetDuration("watch.safety_margin")

	cfg.Notify.WebhookURL = v.GetString("notify.webhook_url")
	cfg.Notify.MaxChunk = v.GetInt("notify.max_chunk")
	cfg.Notify.RatePerSec = v.GetFloat64("notify.rate_per_sec")

	cfg.HTTPTimeout = v.GetDuration("http.timeout")
	cfg.SyncTimeout = v.GetDuration("sync.timeout")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	if c.HTTPServer.Port <= 0 || c.HTTPServer.Port > 65535 {
		return fmt.Errorf("config: invalid http_server.port %d", c.HTTPServer.Port)
	}
	if strings.TrimSpace(c.Calendar.ID) == "" {
		return fmt.Errorf("config: calendar.id is required")
	}
	if c.Calendar.HorizonDays <= 0 {
		return fmt.Errorf("config: calendar.horizon_days must be positive")
	}
	if c.Notify.MaxChunk <= 0 {
		return fmt.Errorf("config: notify.max_chunk must be positive")
	}
	if c.SyncTimeout <= 0 || c.HTTPTimeout <= 0 {
		return fmt.Errorf("config: http.timeout and sync.timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_server.port", 8080)
	v.SetDefault("http_server.admin_token", "")
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.encoding", "console")
	v.SetDefault("redis.url", "redis://localhost:6379")
	v.SetDefault("calendar.id", "primary")
	v.SetDefault("calendar.utc_offset", "+09:00")
	v.SetDefault("calendar.horizon_days", 14)
	v.SetDefault("watch.renew_schedule", "@every 30m")
	v.SetDefault("watch.safety_margin", 5*time.Minute)
	v.SetDefault("notify.max_chunk", 4096)
	v.SetDefault("notify.rate_per_sec", 1.0)
	v.SetDefault("http.timeout", 20*time.Second)
	v.SetDefault("sync.timeout", 2*time.Minute)

	// Registered so AutomaticEnv can resolve them without a config file.
	v.SetDefault("google.client_id", "")
	v.SetDefault("google.client_secret", "")
	v.SetDefault("google.refresh_token", "")
	v.SetDefault("google.redirect_url", "")
	v.SetDefault("watch.callback_url", "")
	v.SetDefault("watch.channel_token", "")
	v.SetDefault("notify.webhook_url", "")
}
