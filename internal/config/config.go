package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"neonetworker/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App        AppConfig        `yaml:"app"`
	HTTP       HTTPConfig       `yaml:"http"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	WhatsApp   WhatsAppConfig   `yaml:"whatsapp"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Google     GoogleConfig     `yaml:"google"`
	Stripe     StripeConfig     `yaml:"stripe"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Logging    LoggingConfig    `yaml:"logging"`
	Chat       ChatConfig       `yaml:"chat"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
	FrontendURL string `yaml:"frontend_url"`
}

type HTTPConfig struct {
	Port           int             `yaml:"port"`
	AllowedOrigins []string        `yaml:"allowed_origins"`
	RateLimit      RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type AuthConfig struct {
	SecretKey      string        `yaml:"secret_key"`
	JWTSecret      string        `yaml:"jwt_secret"`
	JWTExpiry      time.Duration `yaml:"jwt_expiry"`
	AdminEmails    []string      `yaml:"admin_emails"`
	BcryptCost     int           `yaml:"bcrypt_cost"`
	MinPasswordLen int           `yaml:"min_password_length"`
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type TelegramConfig struct {
	BotToken      string `yaml:"bot_token"`
	WebhookURL    string `yaml:"webhook_url"`
	WebhookSecret string `yaml:"webhook_secret"`
	AdminChatID   int64  `yaml:"admin_chat_id"`
	Debug         bool   `yaml:"debug"`
}

type WhatsAppConfig struct {
	AccessToken        string  `yaml:"access_token"`
	PhoneNumberID      string  `yaml:"phone_number_id"`
	BusinessAccountID  string  `yaml:"business_account_id"`
	WebhookVerifyToken string  `yaml:"webhook_verify_token"`
	AppID              string  `yaml:"app_id"`
	AppSecret          string  `yaml:"app_secret"`
	RefreshToken       string  `yaml:"refresh_token"`
	APIVersion         string  `yaml:"api_version"`
	BaseURL            string  `yaml:"base_url"`
	RPS                float64 `yaml:"rps"`
}

type OpenAIConfig struct {
	APIKey       string        `yaml:"api_key"`
	AssistantID  string        `yaml:"assistant_id"`
	Model        string        `yaml:"model"`
	BaseURL      string        `yaml:"base_url"`
	PollAttempts int           `yaml:"poll_attempts"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type GoogleConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
	RedirectURI  string `yaml:"redirect_uri"`
}

type StripeConfig struct {
	SecretKey string `yaml:"secret_key"`
	Currency  string `yaml:"currency"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool   `yaml:"prometheus_enabled"`
	PrometheusPort    int    `yaml:"prometheus_port"`
	SentryDSN         string `yaml:"sentry_dsn"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

type ChatConfig struct {
	RateLimitMessages int           `yaml:"rate_limit_messages"`
	RateLimitWindow   int           `yaml:"rate_limit_window"`
	StateTTL          time.Duration `yaml:"state_ttl"`
	UpdateTimeout     time.Duration `yaml:"update_timeout"`
}

type SchedulerConfig struct {
	Enabled         bool   `yaml:"enabled"`
	GoogleSync      string `yaml:"google_sync"`
	WhatsAppRefresh string `yaml:"whatsapp_refresh"`
}

// Load reads the YAML file at configPath (optional), applies environment
// overrides, defaults and validation.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	var config Config
	data, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		expandedData := []byte(os.ExpandEnv(string(data)))
		if err := yaml.Unmarshal(expandedData, &config); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist):
		// environment only
	default:
		return nil, err
	}

	config.applyEnv(os.Getenv)
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database url is required")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port %d", c.HTTP.Port)
	}
	return nil
}

// applyEnv overlays the deployment environment variables. Non-empty values win
// over the file.
func (c *Config) applyEnv(getenv func(string) string) {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}

	set(&c.Database.URL, "DATABASE_URL")
	set(&c.Auth.SecretKey, "SECRET_KEY")
	set(&c.Auth.JWTSecret, "JWT_SECRET_KEY")
	set(&c.Telegram.BotToken, "TELEGRAM_BOT_TOKEN")
	set(&c.Telegram.WebhookURL, "TELEGRAM_WEBHOOK_URL")
	set(&c.Telegram.WebhookSecret, "TELEGRAM_WEBHOOK_SECRET")
	set(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	set(&c.OpenAI.AssistantID, "OPENAI_ASSISTANT_ID")
	set(&c.Google.ClientID, "GOOGLE_CLIENT_ID")
	set(&c.Google.ClientSecret, "GOOGLE_CLIENT_SECRET")
	set(&c.Google.RedirectURI, "GOOGLE_REDIRECT_URI")
	set(&c.WhatsApp.AccessToken, "WHATSAPP_ACCESS_TOKEN")
	set(&c.WhatsApp.PhoneNumberID, "WHATSAPP_PHONE_NUMBER_ID")
	set(&c.WhatsApp.BusinessAccountID, "WHATSAPP_BUSINESS_ACCOUNT_ID")
	set(&c.WhatsApp.WebhookVerifyToken, "WHATSAPP_WEBHOOK_VERIFY_TOKEN")
	set(&c.WhatsApp.AppID, "WHATSAPP_APP_ID")
	set(&c.WhatsApp.AppSecret, "WHATSAPP_APP_SECRET")
	set(&c.WhatsApp.RefreshToken, "WHATSAPP_REFRESH_TOKEN")
	set(&c.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	set(&c.App.FrontendURL, "FRONTEND_URL")
	set(&c.Redis.Address, "REDIS_URL")
	set(&c.Monitoring.SentryDSN, "SENTRY_DSN")

	if v := strings.TrimSpace(getenv("ADMIN_EMAILS")); v != "" {
		c.Auth.AdminEmails = splitCSV(v)
	}
	if v := strings.TrimSpace(getenv("ADMIN_TELEGRAM_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Telegram.AdminChatID = id
		}
	}
	if v := strings.TrimSpace(getenv("PORT")); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.HTTP.Port = port
		}
	}
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "neo-networker"
	}
	if c.App.FrontendURL == "" {
		c.App.FrontendURL = "http://localhost:5173"
	}
	if c.HTTP.Port == 0 {
		c.HTTP.Port = 5002
	}
	if len(c.HTTP.AllowedOrigins) == 0 {
		c.HTTP.AllowedOrigins = []string{c.App.FrontendURL}
	}
	if c.HTTP.RateLimit.RPS > 0 && c.HTTP.RateLimit.Burst == 0 {
		c.HTTP.RateLimit.Burst = 10
	}

	// JWT secret falls back to the Flask-era SECRET_KEY
	if c.Auth.JWTSecret == "" {
		c.Auth.JWTSecret = c.Auth.SecretKey
	}
	if c.Auth.JWTExpiry == 0 {
		c.Auth.JWTExpiry = 24 * time.Hour
	}
	if c.Auth.BcryptCost == 0 {
		c.Auth.BcryptCost = 10
	}
	if c.Auth.MinPasswordLen == 0 {
		c.Auth.MinPasswordLen = 1
	}

	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 25
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 10
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 30 * time.Minute
	}

	if c.WhatsApp.APIVersion == "" {
		c.WhatsApp.APIVersion = "v18.0"
	}
	if c.WhatsApp.BaseURL == "" {
		c.WhatsApp.BaseURL = "https://graph.facebook.com"
	}
	if c.WhatsApp.RPS == 0 {
		c.WhatsApp.RPS = 20
	}

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-4o-mini"
	}
	if c.OpenAI.PollAttempts == 0 {
		c.OpenAI.PollAttempts = 30
	}
	if c.OpenAI.PollInterval == 0 {
		c.OpenAI.PollInterval = 500 * time.Millisecond
	}

	if c.Stripe.Currency == "" {
		c.Stripe.Currency = "usd"
	}

	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}

	if c.Chat.RateLimitMessages == 0 {
		c.Chat.RateLimitMessages = models.RateLimitMessages
	}
	if c.Chat.RateLimitWindow == 0 {
		c.Chat.RateLimitWindow = models.RateLimitWindow
	}
	if c.Chat.StateTTL == 0 {
		c.Chat.StateTTL = models.DefaultStateTTL * time.Second
	}
	if c.Chat.UpdateTimeout == 0 {
		c.Chat.UpdateTimeout = 30 * time.Second
	}

	if c.Scheduler.GoogleSync == "" {
		c.Scheduler.GoogleSync = "0 */6 * * *"
	}
	if c.Scheduler.WhatsAppRefresh == "" {
		c.Scheduler.WhatsAppRefresh = "30 3 * * *"
	}
}

// IsAdminEmail reports whether email is on the admin allow-list.
func (c AuthConfig) IsAdminEmail(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	for _, a := range c.AdminEmails {
		if strings.ToLower(strings.TrimSpace(a)) == email {
			return true
		}
	}
	return false
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
