package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the realism services.
type Config struct {
	General   GeneralConfig   `mapstructure:"general"`
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Sapiom    SapiomConfig    `mapstructure:"sapiom"`
	Browser   BrowserConfig   `mapstructure:"browser"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Worker    WorkerConfig    `mapstructure:"worker"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

type GeneralConfig struct {
	Debug    bool   `mapstructure:"debug"`
	LogLevel string `mapstructure:"log_level"`
}

// ServerConfig contains HTTP server and auth settings.
type ServerConfig struct {
	Address         string        `mapstructure:"address"`
	JWTSecret       string        `mapstructure:"jwt_secret"`
	InternalToken   string        `mapstructure:"internal_token"`
	DevAuthBypass   bool          `mapstructure:"dev_auth_bypass"`
	CookieSecure    bool          `mapstructure:"cookie_secure"`
	SessionTTL      time.Duration `mapstructure:"session_ttl"`
	EmbeddedWorker  bool          `mapstructure:"embedded_worker"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	EventPoll       time.Duration `mapstructure:"event_poll"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" {
		return errors.New("server.address required")
	}
	if len(s.JWTSecret) < 16 {
		return errors.New("server.jwt_secret must be at least 16 characters")
	}
	if s.SessionTTL <= 0 {
		return errors.New("server.session_ttl must be positive")
	}
	return nil
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	APIKey          string        `mapstructure:"api_key"`
	BaseURL         string        `mapstructure:"base_url"`
	Model           string        `mapstructure:"model"`
	ClassifierModel string        `mapstructure:"classifier_model"`
	MaxTokens       int           `mapstructure:"max_tokens"`
	MaxIterations   int           `mapstructure:"max_iterations"`
	MaxAttempts     int           `mapstructure:"max_attempts"`
	Backoff         time.Duration `mapstructure:"backoff"`
	Timeout         time.Duration `mapstructure:"timeout"`
	WrapUpRatio     float64       `mapstructure:"wrap_up_ratio"`
}

func (l LLMConfig) Validate() error {
	if l.WrapUpRatio <= 0 || l.WrapUpRatio > 1 {
		return errors.New("llm.wrap_up_ratio must be in (0, 1]")
	}
	if l.MaxIterations <= 0 {
		return errors.New("llm.max_iterations must be positive")
	}
	return nil
}

// SapiomConfig configures the paid tool gateway.
type SapiomConfig struct {
	APIKey     string        `mapstructure:"api_key"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"`
	Burst      int           `mapstructure:"burst"`
	Linkup     string        `mapstructure:"linkup_url"`
	Anchor     string        `mapstructure:"anchor_url"`
	FAL        string        `mapstructure:"fal_url"`
	ElevenLabs string        `mapstructure:"elevenlabs_url"`
	Prelude    string        `mapstructure:"prelude_url"`
	Governance string        `mapstructure:"governance_url"`
}

// BrowserConfig controls the local headless browser fallback.
type BrowserConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

type StorageConfig struct {
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Addr() string { return r.Host + ":" + r.Port }

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return errors.New("storage.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return errors.New("storage.redis.port required")
	}
	return nil
}

// WorkerConfig tunes the step queue consumer.
type WorkerConfig struct {
	Stream       string        `mapstructure:"stream"`
	Group        string        `mapstructure:"group"`
	Block        time.Duration `mapstructure:"block"`
	BatchSize    int64         `mapstructure:"batch_size"`
	ClaimIdle    time.Duration `mapstructure:"claim_idle"`
	ClaimTTL     time.Duration `mapstructure:"claim_ttl"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
	StreamMaxLen int64         `mapstructure:"stream_max_len"`
}

func (w WorkerConfig) Validate() error {
	if strings.TrimSpace(w.Stream) == "" || strings.TrimSpace(w.Group) == "" {
		return errors.New("worker.stream and worker.group required")
	}
	return nil
}

// SchedulerConfig controls persistent job triggering.
type SchedulerConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
	LockTTL  time.Duration `mapstructure:"lock_ttl"`
}

// TelemetryConfig contains telemetry and monitoring settings.
type TelemetryConfig struct {
	Enabled      bool   `mapstructure:"enabled"`
	MetricsPort  int    `mapstructure:"metrics_port"`
	OTLPEndpoint string `mapstructure:"otlp_endpoint"`
}

func (t TelemetryConfig) Validate() error {
	if t.MetricsPort < 0 {
		return errors.New("telemetry.metrics_port cannot be negative")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("general.log_level", "info")

	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.session_ttl", 30*24*time.Hour)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.event_poll", 500*time.Millisecond)
	v.SetDefault("server.cookie_secure", true)

	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.model", "openai/gpt-4o")
	v.SetDefault("llm.classifier_model", "openai/gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.max_iterations", 15)
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.backoff", 2*time.Second)
	v.SetDefault("llm.timeout", 120*time.Second)
	v.SetDefault("llm.wrap_up_ratio", 0.9)

	v.SetDefault("sapiom.timeout", 45*time.Second)
	v.SetDefault("sapiom.rate_limit", 10.0)
	v.SetDefault("sapiom.burst", 5)

	v.SetDefault("browser.timeout", 30*time.Second)

	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", "6379")
	v.SetDefault("storage.redis.timeout", 5*time.Second)

	v.SetDefault("worker.stream", "job.step")
	v.SetDefault("worker.group", "realism-workers")
	v.SetDefault("worker.block", 5*time.Second)
	v.SetDefault("worker.batch_size", 16)
	v.SetDefault("worker.claim_idle", 2*time.Minute)
	v.SetDefault("worker.claim_ttl", 10*time.Minute)
	v.SetDefault("worker.max_attempts", 5)
	v.SetDefault("worker.stream_max_len", 100000)

	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.lock_ttl", 10*time.Minute)
}

// LoadConfig reads config.json from path, or from the usual locations when
// path is empty, and overlays REALISM_* environment variables. A missing
// file is not an error.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		if exe, err := os.Executable(); err == nil {
			exeDir := filepath.Dir(exe)
			v.AddConfigPath(exeDir)
			v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
		}
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("REALISM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	for _, check := range []func() error{
		cfg.Server.Validate,
		cfg.LLM.Validate,
		cfg.Storage.Redis.Validate,
		cfg.Worker.Validate,
		cfg.Telemetry.Validate,
	} {
		if err := check(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
