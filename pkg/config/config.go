package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/biodoia/operatoros/pkg/database"
	"github.com/spf13/viper"
)

// EnvPrefix prefisso delle variabili d'ambiente che sovrascrivono la configurazione
const EnvPrefix = "OPERATOROS"

// Config rappresenta la configurazione completa dell'applicazione
type Config struct {
	Server        ServerConfig        `mapstructure:"server" yaml:"server"`
	Database      database.Config     `mapstructure:"database" yaml:"database"`
	Redis         RedisConfig         `mapstructure:"redis" yaml:"redis"`
	Routing       RoutingConfig       `mapstructure:"routing" yaml:"routing"`
	Orchestration OrchestrationConfig `mapstructure:"orchestration" yaml:"orchestration"`
	Backends      []BackendConfig     `mapstructure:"backends" yaml:"backends"`
	Notifications NotificationsConfig `mapstructure:"notifications" yaml:"notifications"`
	Monitoring    MonitoringConfig    `mapstructure:"monitoring" yaml:"monitoring"`
}

// ServerConfig configurazione del server HTTP
type ServerConfig struct {
	Port            int           `mapstructure:"port" yaml:"port"`
	Host            string        `mapstructure:"host" yaml:"host"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout"`
	// APIKeys chiavi accettate su /v1, vuoto = nessuna autenticazione
	APIKeys     []string `mapstructure:"api_keys" yaml:"api_keys"`
	RateLimit   int      `mapstructure:"rate_limit" yaml:"rate_limit"` // richieste al minuto per client
	CORSOrigins []string `mapstructure:"cors_origins" yaml:"cors_origins"`
}

// RedisConfig configurazione Redis, usata per il lock distribuito delle conversazioni
type RedisConfig struct {
	Host     string        `mapstructure:"host" yaml:"host"`
	Password string        `mapstructure:"password" yaml:"password"`
	DB       int           `mapstructure:"db" yaml:"db"`
	LockTTL  time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
}

// RoutingConfig configurazione della selezione dei backend
type RoutingConfig struct {
	Strategy        string        `mapstructure:"strategy" yaml:"strategy"` // "affinity", "latency_first", "priority"
	ThroughputBonus float64       `mapstructure:"throughput_bonus" yaml:"throughput_bonus"`
	ProbeOnStart    bool          `mapstructure:"probe_on_start" yaml:"probe_on_start"`
	ProbeTimeout    time.Duration `mapstructure:"probe_timeout" yaml:"probe_timeout"`
	ReprobeInterval time.Duration `mapstructure:"reprobe_interval" yaml:"reprobe_interval"`
}

// OrchestrationConfig parametri della macchina a stati e dello step executor
type OrchestrationConfig struct {
	MaxAttempts       int           `mapstructure:"max_attempts" yaml:"max_attempts"`
	AttemptTimeout    time.Duration `mapstructure:"attempt_timeout" yaml:"attempt_timeout"`
	BackoffStep       time.Duration `mapstructure:"backoff_step" yaml:"backoff_step"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff" yaml:"max_backoff"`
	MinResponseLength int           `mapstructure:"min_response_length" yaml:"min_response_length"`
	ContextWindow     int           `mapstructure:"context_window" yaml:"context_window"`
	MaxInputLength    int           `mapstructure:"max_input_length" yaml:"max_input_length"`
	HandoffMarker     string        `mapstructure:"handoff_marker" yaml:"handoff_marker"`
	DefaultPipeline   string        `mapstructure:"default_pipeline" yaml:"default_pipeline"`
	LockBackend       string        `mapstructure:"lock_backend" yaml:"lock_backend"` // "memory" o "redis"
	PersistTimeout    time.Duration `mapstructure:"persist_timeout" yaml:"persist_timeout"`
}

// BackendConfig configurazione di un singolo backend LLM
type BackendConfig struct {
	Name       string             `mapstructure:"name" yaml:"name"`
	Kind       string             `mapstructure:"kind" yaml:"kind"` // "anthropic", "openai", "compat"
	Model      string             `mapstructure:"model" yaml:"model"`
	BaseURL    string             `mapstructure:"base_url" yaml:"base_url,omitempty"`
	APIKey     string             `mapstructure:"api_key" yaml:"-"`
	APIKeyEnv  string             `mapstructure:"api_key_env" yaml:"api_key_env,omitempty"`
	Priority   int                `mapstructure:"priority" yaml:"priority"`
	Throughput float64            `mapstructure:"throughput" yaml:"throughput"`
	Disabled   bool               `mapstructure:"disabled" yaml:"disabled,omitempty"`
	Timeout    time.Duration      `mapstructure:"timeout" yaml:"timeout,omitempty"`
	RateLimit  RateLimitConfig    `mapstructure:"rate_limit" yaml:"rate_limit,omitempty"`
	Pricing    PricingConfig      `mapstructure:"pricing" yaml:"pricing,omitempty"`
	Affinity   map[string]float64 `mapstructure:"affinity" yaml:"affinity"`
}

// RateLimitConfig limite di richieste per backend (token bucket)
type RateLimitConfig struct {
	RPS   float64 `mapstructure:"rps" yaml:"rps"`
	Burst int     `mapstructure:"burst" yaml:"burst"`
}

// PricingConfig costo per mille token
type PricingConfig struct {
	InputPer1K  float64 `mapstructure:"input_per_1k" yaml:"input_per_1k"`
	OutputPer1K float64 `mapstructure:"output_per_1k" yaml:"output_per_1k"`
}

// NotificationsConfig configurazione delle notifiche
type NotificationsConfig struct {
	Enabled    bool          `mapstructure:"enabled" yaml:"enabled"`
	BufferSize int           `mapstructure:"buffer_size" yaml:"buffer_size"`
	Timeout    time.Duration `mapstructure:"timeout" yaml:"timeout"`
	Webhook    WebhookConfig `mapstructure:"webhook" yaml:"webhook"`
}

// WebhookConfig destinazione webhook per gli eventi di conversazione
type WebhookConfig struct {
	URL        string `mapstructure:"url" yaml:"url"`
	Secret     string `mapstructure:"secret" yaml:"-"`
	MaxRetries int    `mapstructure:"max_retries" yaml:"max_retries"`
}

// MonitoringConfig configurazione monitoring
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus" yaml:"prometheus"`
	Logging    LoggingConfig    `mapstructure:"logging" yaml:"logging"`
}

// PrometheusConfig configurazione dell'endpoint metriche
type PrometheusConfig struct {
	Enabled   bool   `mapstructure:"enabled" yaml:"enabled"`
	Namespace string `mapstructure:"namespace" yaml:"namespace"`
}

// LoggingConfig livello e formato dei log
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// Load carica la configurazione da file
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	// OPERATOROS_ORCHESTRATION_MAX_ATTEMPTS -> orchestration.max_attempts
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if len(cfg.Backends) == 0 {
		cfg.Backends = DefaultBackends()
	}

	return &cfg, nil
}

// setDefaults imposta i valori di default
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "5m")
	v.SetDefault("server.shutdown_timeout", "30s")
	v.SetDefault("server.rate_limit", 0)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	v.SetDefault("database.connection", "./data/operatoros.db")
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.log_level", "warn")

	// Redis defaults
	v.SetDefault("redis.host", "localhost:6379")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.lock_ttl", "10m")

	// Routing defaults
	v.SetDefault("routing.strategy", "affinity")
	v.SetDefault("routing.throughput_bonus", 0.1)
	v.SetDefault("routing.probe_on_start", true)
	v.SetDefault("routing.probe_timeout", "10s")
	v.SetDefault("routing.reprobe_interval", "5m")

	// Orchestration defaults
	v.SetDefault("orchestration.max_attempts", 3)
	v.SetDefault("orchestration.attempt_timeout", "15s")
	v.SetDefault("orchestration.backoff_step", "2s")
	v.SetDefault("orchestration.max_backoff", "30s")
	v.SetDefault("orchestration.min_response_length", 50)
	v.SetDefault("orchestration.context_window", 3)
	v.SetDefault("orchestration.max_input_length", 5000)
	v.SetDefault("orchestration.handoff_marker", "NEXT AGENT QUESTION:")
	v.SetDefault("orchestration.default_pipeline", "core")
	v.SetDefault("orchestration.lock_backend", "memory")
	v.SetDefault("orchestration.persist_timeout", "5s")

	// Notifications defaults
	v.SetDefault("notifications.enabled", true)
	v.SetDefault("notifications.buffer_size", 256)
	v.SetDefault("notifications.timeout", "10s")
	v.SetDefault("notifications.webhook.max_retries", 2)

	// Monitoring defaults
	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.namespace", "operatoros")
	v.SetDefault("monitoring.logging.level", "info")
	v.SetDefault("monitoring.logging.format", "json")
}

// DefaultBackends restituisce i tre backend standard con le loro tabelle di affinità
func DefaultBackends() []BackendConfig {
	return []BackendConfig{
		{
			Name:       "anthropic",
			Kind:       "anthropic",
			Model:      "claude-sonnet-4-20250514",
			APIKeyEnv:  "ANTHROPIC_API_KEY",
			Priority:   1,
			Throughput: 0.6,
			Pricing:    PricingConfig{InputPer1K: 0.003, OutputPer1K: 0.015},
			Affinity: map[string]float64{
				"financial": 0.9,
				"analysis":  0.9,
				"concise":   0.85,
				"creative":  0.8,
				"technical": 0.75,
				"research":  0.7,
			},
		},
		{
			Name:       "openai",
			Kind:       "openai",
			Model:      "gpt-4o",
			APIKeyEnv:  "OPENAI_API_KEY",
			Priority:   2,
			Throughput: 0.75,
			Pricing:    PricingConfig{InputPer1K: 0.0025, OutputPer1K: 0.01},
			Affinity: map[string]float64{
				"technical": 0.9,
				"creative":  0.85,
				"analysis":  0.8,
				"financial": 0.75,
				"research":  0.75,
				"concise":   0.7,
			},
		},
		{
			Name:       "gemini",
			Kind:       "compat",
			Model:      "gemini-2.5-flash",
			BaseURL:    "https://generativelanguage.googleapis.com/v1beta/openai",
			APIKeyEnv:  "GEMINI_API_KEY",
			Priority:   3,
			Throughput: 0.9,
			Pricing:    PricingConfig{InputPer1K: 0.0003, OutputPer1K: 0.0025},
			Affinity: map[string]float64{
				"research":  0.9,
				"concise":   0.75,
				"analysis":  0.75,
				"technical": 0.7,
				"creative":  0.65,
				"financial": 0.6,
			},
		},
	}
}

// ResolveAPIKey restituisce la chiave esplicita o quella letta da APIKeyEnv
func (b BackendConfig) ResolveAPIKey() string {
	if b.APIKey != "" {
		return b.APIKey
	}
	if b.APIKeyEnv != "" {
		return os.Getenv(b.APIKeyEnv)
	}
	return ""
}

// Validate valida la configurazione
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	switch c.Database.Type {
	case "sqlite", "postgres", "memory":
	default:
		return fmt.Errorf("unsupported database type: %s", c.Database.Type)
	}

	switch c.Routing.Strategy {
	case "", "affinity", "latency_first", "priority":
	default:
		return fmt.Errorf("unknown routing strategy: %s", c.Routing.Strategy)
	}

	o := c.Orchestration
	if o.MaxAttempts < 1 {
		return fmt.Errorf("orchestration.max_attempts must be >= 1, got %d", o.MaxAttempts)
	}
	if o.AttemptTimeout <= 0 {
		return fmt.Errorf("orchestration.attempt_timeout must be positive")
	}
	if o.BackoffStep < 0 {
		return fmt.Errorf("orchestration.backoff_step must not be negative")
	}
	if o.MaxInputLength < 1 {
		return fmt.Errorf("orchestration.max_input_length must be >= 1, got %d", o.MaxInputLength)
	}
	if o.ContextWindow < 0 {
		return fmt.Errorf("orchestration.context_window must not be negative")
	}
	if strings.TrimSpace(o.HandoffMarker) == "" {
		return fmt.Errorf("orchestration.handoff_marker must not be empty")
	}
	switch o.LockBackend {
	case "", "memory", "redis":
	default:
		return fmt.Errorf("unknown lock backend: %s", o.LockBackend)
	}

	if len(c.Backends) == 0 {
		return fmt.Errorf("no backends configured")
	}

	seen := make(map[string]bool, len(c.Backends))
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend without name")
		}
		if seen[b.Name] {
			return fmt.Errorf("duplicate backend: %s", b.Name)
		}
		seen[b.Name] = true

		switch b.Kind {
		case "anthropic", "openai", "compat":
		default:
			return fmt.Errorf("backend %s: unsupported kind %q", b.Name, b.Kind)
		}
		if b.Kind == "compat" && b.BaseURL == "" {
			return fmt.Errorf("backend %s: base_url required for compat backends", b.Name)
		}
		if b.Throughput < 0 || b.Throughput > 1 {
			return fmt.Errorf("backend %s: throughput must be within [0,1]", b.Name)
		}
		for cat, score := range b.Affinity {
			if score < 0 || score > 1 {
				return fmt.Errorf("backend %s: affinity %s must be within [0,1]", b.Name, cat)
			}
		}
	}

	return nil
}
