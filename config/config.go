// Package config loads pmc settings from defaults, an optional YAML file and
// the environment.
//
// Every key can be set through a PMC_ variable, dots becoming underscores
// (server.admin_token is PMC_SERVER_ADMIN_TOKEN). The variable names used by
// earlier deployments, such as OPENAI_API_KEY and WHATSAPP_TOKEN, are also read.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Environments.
const (
	EnvDev  = "dev"
	EnvProd = "prod"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverMongo  = "mongo"
)

// LLM providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Config is the full pmc configuration.
type Config struct {
	Env string `mapstructure:"env"`

	Log      LogConfig      `mapstructure:"log"`
	Server   ServerConfig   `mapstructure:"server"`
	Jobs     JobsConfig     `mapstructure:"jobs"`
	Store    StoreConfig    `mapstructure:"store"`
	Mongo    MongoConfig    `mapstructure:"mongo"`
	LLM      LLMConfig      `mapstructure:"llm"`
	WhatsApp WhatsAppConfig `mapstructure:"whatsapp"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Embed    EmbedConfig    `mapstructure:"embeddings"`
	Bot      BotConfig      `mapstructure:"bot"`
	Parking  ParkingConfig  `mapstructure:"parking"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Addr                 string        `mapstructure:"addr"`
	AdminToken           string        `mapstructure:"admin_token"`
	WebhookRatePerMinute int           `mapstructure:"webhook_rate_per_minute"`
	WebhookBurst         int           `mapstructure:"webhook_burst"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`

	// TrustedProxies are proxy IPs or CIDRs allowed to set X-Forwarded-For.
	TrustedProxies []string `mapstructure:"trusted_proxies"`
}

// JobsConfig holds cron specs of the maintenance jobs. Empty disables a job.
type JobsConfig struct {
	PremiumSweep      string `mapstructure:"premium_sweep"`
	ConversationPrune string `mapstructure:"conversation_prune"`
	IndexResync       string `mapstructure:"index_resync"`
}

type StoreConfig struct {
	Driver     string `mapstructure:"driver"`
	SQLitePath string `mapstructure:"sqlite_path"`
}

type MongoConfig struct {
	URI      string        `mapstructure:"uri"`
	Database string        `mapstructure:"database"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	Provider    string  `mapstructure:"provider"`
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	BaseURL     string  `mapstructure:"base_url"`
	Temperature float64 `mapstructure:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens"`
}

type WhatsAppConfig struct {
	Token         string `mapstructure:"token"`
	PhoneNumberID string `mapstructure:"phone_number_id"`
	VerifyToken   string `mapstructure:"verify_token"`
	AppSecret     string `mapstructure:"app_secret"`
	APIVersion    string `mapstructure:"api_version"`
	BaseURL       string `mapstructure:"base_url"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

// EmbedConfig configures the Gemini embedder. Without a key semantic search
// falls back to lexical scoring.
type EmbedConfig struct {
	APIKey string `mapstructure:"api_key"`
	Model  string `mapstructure:"model"`
}

type BotConfig struct {
	HistoryTurns   int           `mapstructure:"history_turns"`
	HistoryKeep    int           `mapstructure:"history_keep"`
	MaxIterations  int           `mapstructure:"max_iterations"`
	Workers        int           `mapstructure:"workers"`
	QueueSize      int           `mapstructure:"queue_size"`
	HandlerTimeout time.Duration `mapstructure:"handler_timeout"`
}

type ParkingConfig struct {
	ReportThreshold int `mapstructure:"report_threshold"`
	ReferralDays    int `mapstructure:"referral_days"`
}

// legacyEnv maps keys to the variable names of earlier deployments.
var legacyEnv = map[string]string{
	"llm.api_key":              "OPENAI_API_KEY",
	"whatsapp.token":           "WHATSAPP_TOKEN",
	"whatsapp.phone_number_id": "PHONE_NUMBER_ID",
	"whatsapp.verify_token":    "VERIFY_TOKEN",
	"whatsapp.app_secret":      "APP_SECRET",
	"mongo.uri":                "MONGO_URI",
	"telegram.token":           "TELEGRAM_BOT_TOKEN",
	"embeddings.api_key":       "GEMINI_API_KEY",
	"server.admin_token":       "ADMIN_TOKEN",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("env", EnvProd)
	v.SetDefault("log.level", "info")

	v.SetDefault("server.addr", ":8000")
	v.SetDefault("server.admin_token", "")
	v.SetDefault("server.webhook_rate_per_minute", 120)
	v.SetDefault("server.webhook_burst", 30)
	v.SetDefault("server.shutdown_timeout", "5s")
	v.SetDefault("server.trusted_proxies", []string{})

	v.SetDefault("jobs.premium_sweep", "@hourly")
	v.SetDefault("jobs.conversation_prune", "0 4 * * *")
	v.SetDefault("jobs.index_resync", "30 3 * * *")

	v.SetDefault("store.driver", DriverSQLite)
	v.SetDefault("store.sqlite_path", "pmc.db")

	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "parqueaderos")
	v.SetDefault("mongo.timeout", "10s")

	v.SetDefault("llm.provider", ProviderOpenAI)
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.temperature", 0.3)
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("whatsapp.token", "")
	v.SetDefault("whatsapp.phone_number_id", "")
	v.SetDefault("whatsapp.verify_token", "")
	v.SetDefault("whatsapp.app_secret", "")
	v.SetDefault("whatsapp.api_version", "v22.0")
	v.SetDefault("whatsapp.base_url", "https://graph.facebook.com")

	v.SetDefault("telegram.token", "")

	v.SetDefault("embeddings.api_key", "")
	v.SetDefault("embeddings.model", "gemini-embedding-001")

	v.SetDefault("bot.history_turns", 5)
	v.SetDefault("bot.history_keep", 10)
	v.SetDefault("bot.max_iterations", 10)
	v.SetDefault("bot.workers", 16)
	v.SetDefault("bot.queue_size", 256)
	v.SetDefault("bot.handler_timeout", "2m")

	v.SetDefault("parking.report_threshold", 5)
	v.SetDefault("parking.referral_days", 7)
}

// Loader reads configuration and can watch its file for changes.
type Loader struct {
	v    *viper.Viper
	path string
}

// NewLoader creates a Loader. path may be empty, in which case pmc.yaml is
// looked up in the working directory and /etc/pmc.
func NewLoader(path string) *Loader {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PMC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for key, legacy := range legacyEnv {
		// BindEnv only fails without a key.
		_ = v.BindEnv(key, "PMC_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), legacy)
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("pmc")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/pmc")
	}
	return &Loader{v: v, path: path}
}

// Load reads the configuration. A missing file is fine unless a path was
// given explicitly.
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if l.path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return l.decode()
}

// File returns the config file in use, or "" when running on defaults and
// environment only.
func (l *Loader) File() string {
	return l.v.ConfigFileUsed()
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Load is NewLoader(path).Load().
func Load(path string) (*Config, error) {
	return NewLoader(path).Load()
}

// Validate checks enumerations and bounds.
func (c *Config) Validate() error {
	var errs []error
	switch c.Env {
	case EnvDev, EnvProd:
	default:
		errs = append(errs, fmt.Errorf("env must be %q or %q, got %q", EnvDev, EnvProd, c.Env))
	}
	switch c.Store.Driver {
	case DriverSQLite, DriverMongo:
	default:
		errs = append(errs, fmt.Errorf("store.driver must be %q or %q, got %q", DriverSQLite, DriverMongo, c.Store.Driver))
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAnthropic:
	default:
		errs = append(errs, fmt.Errorf("llm.provider must be %q or %q, got %q", ProviderOpenAI, ProviderAnthropic, c.LLM.Provider))
	}
	if c.Parking.ReportThreshold < 1 {
		errs = append(errs, errors.New("parking.report_threshold must be at least 1"))
	}
	if c.Parking.ReferralDays < 1 {
		errs = append(errs, errors.New("parking.referral_days must be at least 1"))
	}
	for _, p := range c.Server.TrustedProxies {
		if !validProxy(p) {
			errs = append(errs, fmt.Errorf("server.trusted_proxies: %q is not an IP or CIDR", p))
		}
	}
	if c.Bot.Workers < 1 || c.Bot.QueueSize < 1 {
		errs = append(errs, errors.New("bot.workers and bot.queue_size must be positive"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

func validProxy(s string) bool {
	s = strings.TrimSpace(s)
	if _, err := netip.ParsePrefix(s); err == nil {
		return true
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// Dev reports whether pmc runs in development mode.
func (c *Config) Dev() bool {
	return c.Env == EnvDev
}

// RequireWhatsApp checks the credentials the webhook server needs.
func (c *Config) RequireWhatsApp() error {
	var missing []string
	if c.WhatsApp.Token == "" {
		missing = append(missing, "whatsapp.token")
	}
	if c.WhatsApp.PhoneNumberID == "" {
		missing = append(missing, "whatsapp.phone_number_id")
	}
	if c.WhatsApp.VerifyToken == "" {
		missing = append(missing, "whatsapp.verify_token")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing settings: %s", strings.Join(missing, ", "))
	}
	return nil
}
