package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/sells-group/hydra/internal/browser"
	"github.com/sells-group/hydra/internal/enrich"
	"github.com/sells-group/hydra/internal/verify"
)

// Config holds the full application configuration.
type Config struct {
	Store      StoreConfig      `yaml:"store" mapstructure:"store"`
	Redis      RedisConfig      `yaml:"redis" mapstructure:"redis"`
	Worker     WorkerConfig     `yaml:"worker" mapstructure:"worker"`
	Mission    MissionConfig    `yaml:"mission" mapstructure:"mission"`
	Search     SearchConfig     `yaml:"search" mapstructure:"search"`
	Serper     APIConfig        `yaml:"serper" mapstructure:"serper"`
	Brave      APIConfig        `yaml:"brave" mapstructure:"brave"`
	Jina       JinaConfig       `yaml:"jina" mapstructure:"jina"`
	Perplexity PerplexityConfig `yaml:"perplexity" mapstructure:"perplexity"`
	Google     APIConfig        `yaml:"google" mapstructure:"google"`
	Firecrawl  APIConfig        `yaml:"firecrawl" mapstructure:"firecrawl"`
	Browser    BrowserConfig    `yaml:"browser" mapstructure:"browser"`
	Enrich     enrich.Config    `yaml:"enrich" mapstructure:"enrich"`
	Verify     verify.Config    `yaml:"verify" mapstructure:"verify"`
	Arbiter    ArbiterConfig    `yaml:"arbiter" mapstructure:"arbiter"`
	Anthropic  AnthropicConfig  `yaml:"anthropic" mapstructure:"anthropic"`
	Gemini     GeminiConfig     `yaml:"gemini" mapstructure:"gemini"`
	Monitoring MonitoringConfig `yaml:"monitoring" mapstructure:"monitoring"`
	Server     ServerConfig     `yaml:"server" mapstructure:"server"`
	Log        LogConfig        `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
}

// RedisConfig configures the optional delivery index. An empty Addr
// disables it.
type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db" validate:"min=0"`
	TTLHours int    `yaml:"ttl_hours" mapstructure:"ttl_hours" validate:"min=0"`
}

// WorkerConfig identifies this worker. Empty values are generated.
type WorkerConfig struct {
	ID       string `yaml:"id" mapstructure:"id"`
	Hostname string `yaml:"hostname" mapstructure:"hostname"`
}

// MissionConfig tunes the claim loop and healing.
type MissionConfig struct {
	PollIntervalSecs      int     `yaml:"poll_interval_secs" mapstructure:"poll_interval_secs" validate:"min=1"`
	PollJitter            float64 `yaml:"poll_jitter" mapstructure:"poll_jitter" validate:"min=0,max=1"`
	HealIntervalSecs      int     `yaml:"heal_interval_secs" mapstructure:"heal_interval_secs" validate:"min=1"`
	WorkerStaleAfterSecs  int     `yaml:"worker_stale_after_secs" mapstructure:"worker_stale_after_secs" validate:"min=1"`
	MissionTimeoutSecs    int     `yaml:"mission_timeout_secs" mapstructure:"mission_timeout_secs" validate:"min=0"`
	HeartbeatIntervalSecs int     `yaml:"heartbeat_interval_secs" mapstructure:"heartbeat_interval_secs" validate:"min=1"`
	MaxHeals              int     `yaml:"max_heals" mapstructure:"max_heals" validate:"min=1"`
	CandidateConcurrency  int     `yaml:"candidate_concurrency" mapstructure:"candidate_concurrency" validate:"min=1,max=50"`
	MaxCandidates         int     `yaml:"max_candidates" mapstructure:"max_candidates" validate:"min=1,max=100"`
}

// SearchConfig configures the provider cascade.
type SearchConfig struct {
	SufficientResults   int              `yaml:"sufficient_results" mapstructure:"sufficient_results" validate:"min=1"`
	ProviderTimeoutSecs int              `yaml:"provider_timeout_secs" mapstructure:"provider_timeout_secs" validate:"min=1"`
	Providers           []ProviderConfig `yaml:"providers" mapstructure:"providers" validate:"dive"`
}

// ProviderConfig places one provider in the cascade.
type ProviderConfig struct {
	Name            string  `yaml:"name" mapstructure:"name" validate:"oneof=serper brave jina perplexity google"`
	Enabled         bool    `yaml:"enabled" mapstructure:"enabled"`
	Priority        int     `yaml:"priority" mapstructure:"priority"`
	QuotaLimit      int     `yaml:"quota_limit" mapstructure:"quota_limit" validate:"min=0"`
	QuotaWindowSecs int     `yaml:"quota_window_secs" mapstructure:"quota_window_secs" validate:"min=0"`
	RatePerSec      float64 `yaml:"rate_per_sec" mapstructure:"rate_per_sec" validate:"min=0"`
}

// APIConfig holds a key and base URL for a keyed HTTP API.
type APIConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// JinaConfig holds Jina search and reader settings.
type JinaConfig struct {
	Key           string `yaml:"key" mapstructure:"key"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	SearchBaseURL string `yaml:"search_base_url" mapstructure:"search_base_url"`
}

// PerplexityConfig holds Perplexity API settings.
type PerplexityConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	Model   string `yaml:"model" mapstructure:"model"`
}

// BrowserConfig configures the browser search layer.
type BrowserConfig struct {
	browser.Config `yaml:",inline" mapstructure:",squash"`
	NavTimeoutSecs int     `yaml:"nav_timeout_secs" mapstructure:"nav_timeout_secs" validate:"min=1"`
	EnginesFile    string  `yaml:"engines_file" mapstructure:"engines_file"`
	PaceSecs       float64 `yaml:"pace_secs" mapstructure:"pace_secs" validate:"min=0"`
}

// ArbiterConfig selects the AI judge.
type ArbiterConfig struct {
	Provider    string `yaml:"provider" mapstructure:"provider" validate:"oneof=anthropic gemini none"`
	Model       string `yaml:"model" mapstructure:"model"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs" validate:"min=1"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key string `yaml:"key" mapstructure:"key"`
}

// GeminiConfig holds Gemini API settings.
type GeminiConfig struct {
	Key     string `yaml:"key" mapstructure:"key"`
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
}

// MonitoringConfig configures alerting. An empty WebhookURL disables it.
type MonitoringConfig struct {
	WebhookURL         string  `yaml:"webhook_url" mapstructure:"webhook_url"`
	CheckIntervalSecs  int     `yaml:"check_interval_secs" mapstructure:"check_interval_secs" validate:"min=0"`
	FatalRateThreshold float64 `yaml:"fatal_rate_threshold" mapstructure:"fatal_rate_threshold" validate:"min=0,max=1"`
}

// ServerConfig configures the status server. Port 0 disables it.
type ServerConfig struct {
	Port        int      `yaml:"port" mapstructure:"port" validate:"min=0,max=65535"`
	CORSOrigins []string `yaml:"cors_origins" mapstructure:"cors_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format" validate:"omitempty,oneof=json console"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	v.SetEnvPrefix("HYDRA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)
	for _, key := range secretKeys {
		_ = v.BindEnv(key)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// secretKeys have no default but must still be readable from HYDRA_* env.
var secretKeys = []string{
	"store.database_url",
	"redis.addr", "redis.password",
	"worker.id",
	"serper.key", "brave.key", "jina.key", "perplexity.key", "google.key", "firecrawl.key",
	"anthropic.key", "gemini.key",
	"monitoring.webhook_url",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store.driver", "postgres")
	v.SetDefault("redis.ttl_hours", 24*30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.cors_origins", []string{"*"})

	v.SetDefault("mission.poll_interval_secs", 5)
	v.SetDefault("mission.poll_jitter", 0.25)
	v.SetDefault("mission.heal_interval_secs", 60)
	v.SetDefault("mission.worker_stale_after_secs", 300)
	v.SetDefault("mission.mission_timeout_secs", 1800)
	v.SetDefault("mission.heartbeat_interval_secs", 30)
	v.SetDefault("mission.max_heals", 5)
	v.SetDefault("mission.candidate_concurrency", 4)
	v.SetDefault("mission.max_candidates", 20)

	v.SetDefault("search.sufficient_results", 10)
	v.SetDefault("search.provider_timeout_secs", 15)
	v.SetDefault("search.providers", []map[string]any{
		{"name": "serper", "enabled": true, "priority": 1, "quota_limit": 2500, "quota_window_secs": 30 * 24 * 3600, "rate_per_sec": 5},
		{"name": "google", "enabled": true, "priority": 2, "quota_limit": 1000, "quota_window_secs": 24 * 3600, "rate_per_sec": 5},
		{"name": "brave", "enabled": true, "priority": 3, "quota_limit": 2000, "quota_window_secs": 30 * 24 * 3600, "rate_per_sec": 1},
		{"name": "jina", "enabled": true, "priority": 4, "quota_limit": 0, "quota_window_secs": 0, "rate_per_sec": 2},
		{"name": "perplexity", "enabled": false, "priority": 5, "quota_limit": 500, "quota_window_secs": 24 * 3600, "rate_per_sec": 1},
	})

	v.SetDefault("serper.base_url", "https://google.serper.dev")
	v.SetDefault("brave.base_url", "https://api.search.brave.com/res/v1")
	v.SetDefault("jina.base_url", "https://r.jina.ai")
	v.SetDefault("jina.search_base_url", "https://s.jina.ai")
	v.SetDefault("perplexity.base_url", "https://api.perplexity.ai")
	v.SetDefault("perplexity.model", "sonar")
	v.SetDefault("google.base_url", "https://places.googleapis.com/v1")
	v.SetDefault("firecrawl.base_url", "https://api.firecrawl.dev/v1")

	v.SetDefault("browser.driver", "chromedp")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.nav_timeout_secs", 20)
	v.SetDefault("browser.pace_secs", 2)

	v.SetDefault("enrich.max_contact_pages", 3)
	v.SetDefault("enrich.roles", enrich.DefaultRoles)
	v.SetDefault("enrich.exclude_paths", []string{"/blog/*", "/news/*", "/press/*", "/*.pdf"})

	v.SetDefault("verify.smtp_enabled", true)
	v.SetDefault("verify.smtp_port", 25)
	v.SetDefault("verify.timeout_secs", 10)

	v.SetDefault("arbiter.provider", "anthropic")
	v.SetDefault("arbiter.timeout_secs", 12)

	v.SetDefault("monitoring.check_interval_secs", 300)
	v.SetDefault("monitoring.fatal_rate_threshold", 0.5)
}

// Validate checks struct constraints and the settings the given command
// mode requires.
func (c *Config) Validate(mode string) error {
	var errs []string

	if err := validator.New().Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return eris.Wrap(err, "config: validate")
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s failed %q (got %v)", fieldPath(fe), fe.Tag(), fe.Value()))
		}
	}

	switch mode {
	case "work", "heal", "enqueue", "migrate", "status":
		if c.Store.DatabaseURL == "" {
			errs = append(errs, "store.database_url is required")
		}
	case "search", "verify":
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if mode == "work" || mode == "search" {
		if !c.anyProviderUsable() && c.Browser.Driver == "none" {
			errs = append(errs, "search: no enabled provider has a key and the browser is disabled")
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// ProviderKey returns the API key configured for a provider name.
func (c *Config) ProviderKey(name string) string {
	switch name {
	case "serper":
		return c.Serper.Key
	case "brave":
		return c.Brave.Key
	case "jina":
		return c.Jina.Key
	case "perplexity":
		return c.Perplexity.Key
	case "google":
		return c.Google.Key
	}
	return ""
}

func (c *Config) anyProviderUsable() bool {
	for _, p := range c.Search.Providers {
		if p.Enabled && c.ProviderKey(p.Name) != "" {
			return true
		}
	}
	return false
}

// fieldPath renders a validator namespace ("Config.Mission.MaxHeals") in
// config-key form ("mission.max_heals").
func fieldPath(fe validator.FieldError) string {
	parts := strings.Split(fe.StructNamespace(), ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, p := range parts {
		parts[i] = snake(p)
	}
	return strings.Join(parts, ".")
}

func snake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if r >= 'A' && r <= 'Z' {
			if i > 0 && !(s[i-1] >= 'A' && s[i-1] <= 'Z') {
				b.WriteByte('_')
			}
			r += 'a' - 'A'
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
