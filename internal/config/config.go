// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Config holds the entire application configuration. It is loaded once at
// startup and then shared across goroutines as a read-only value.
type Config struct {
	Logger    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	Anty      AntyConfig      `mapstructure:"anty" yaml:"anty"`
	Provision ProvisionConfig `mapstructure:"provision" yaml:"provision"`
	Browser   BrowserConfig   `mapstructure:"browser" yaml:"browser"`
	Engine    EngineConfig    `mapstructure:"engine" yaml:"engine"`
}

// LoggerConfig configures the global zap logger.
type LoggerConfig struct {
	Level       string `mapstructure:"level" yaml:"level"`
	Format      string `mapstructure:"format" yaml:"format"`
	AddSource   bool   `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int    `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int    `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool   `mapstructure:"compress" yaml:"compress"`
}

// AntyConfig holds the connection details for the remote anti-detect browser
// provider. The cloud base is bearer-token authenticated; the local base is
// the provider's locally running agent which starts/stops profiles.
type AntyConfig struct {
	Token     string `mapstructure:"token" yaml:"token"`
	CloudBase string `mapstructure:"cloud_base" yaml:"cloud_base"`
	LocalBase string `mapstructure:"local_base" yaml:"local_base"`

	// Per-call budgets. Creation calls get the widest budget; start is
	// deliberately short so a wedged profile cannot stall a worker; stop is
	// shorter still because it runs on cleanup paths.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	CreateTimeout  time.Duration `mapstructure:"create_timeout" yaml:"create_timeout"`
	StartTimeout   time.Duration `mapstructure:"start_timeout" yaml:"start_timeout"`
	StopTimeout    time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`

	// Client-side pacing toward the provider's shared request quota.
	// Zero disables the limiter.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit"`
	RateBurst int     `mapstructure:"rate_burst" yaml:"rate_burst"`
}

// ProvisionConfig tunes the create-and-start retry loop and the fingerprint
// generator parameters.
type ProvisionConfig struct {
	Platform       string `mapstructure:"platform" yaml:"platform"`
	BrowserType    string `mapstructure:"browser_type" yaml:"browser_type"`
	BrowserVersion string `mapstructure:"browser_version" yaml:"browser_version"`

	MaxRetries            int           `mapstructure:"max_retries" yaml:"max_retries"`
	FingerprintMaxRetries int           `mapstructure:"fingerprint_max_retries" yaml:"fingerprint_max_retries"`
	FingerprintBackoff    time.Duration `mapstructure:"fingerprint_backoff" yaml:"fingerprint_backoff"`

	ProxyFile   string   `mapstructure:"proxy_file" yaml:"proxy_file"`
	ProxyType   string   `mapstructure:"proxy_type" yaml:"proxy_type"`
	Tags        []string `mapstructure:"tags" yaml:"tags"`
	MainWebsite string   `mapstructure:"main_website" yaml:"main_website"`

	WebRTCMode       string `mapstructure:"webrtc_mode" yaml:"webrtc_mode"`
	TimezoneMode     string `mapstructure:"timezone_mode" yaml:"timezone_mode"`
	LocaleMode       string `mapstructure:"locale_mode" yaml:"locale_mode"`
	GeolocationMode  string `mapstructure:"geolocation_mode" yaml:"geolocation_mode"`
	MediaDevicesMode string `mapstructure:"media_devices_mode" yaml:"media_devices_mode"`
	PortsBlacklist   string `mapstructure:"ports_blacklist" yaml:"ports_blacklist"`
}

// BrowserConfig holds settings for attaching to started profiles.
type BrowserConfig struct {
	AttachTimeout time.Duration `mapstructure:"attach_timeout" yaml:"attach_timeout"`
	Debug         bool          `mapstructure:"debug" yaml:"debug"`
}

// EngineConfig configures the per-task worker engine.
type EngineConfig struct {
	Tasks       int           `mapstructure:"tasks" yaml:"tasks"`
	Concurrency int           `mapstructure:"concurrency" yaml:"concurrency"`
	TaskTimeout time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	TargetURL   string        `mapstructure:"target_url" yaml:"target_url"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "drawbot")
	v.SetDefault("logger.log_file", "drawbot.log")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Anty API --
	v.SetDefault("anty.cloud_base", "https://dolphin-anty-api.com")
	v.SetDefault("anty.local_base", "http://localhost:3001/v1.0")
	v.SetDefault("anty.request_timeout", "30s")
	v.SetDefault("anty.create_timeout", "60s")
	v.SetDefault("anty.start_timeout", "15s")
	v.SetDefault("anty.stop_timeout", "10s")
	v.SetDefault("anty.rate_limit", 0.0)
	v.SetDefault("anty.rate_burst", 1)

	// -- Provisioning --
	v.SetDefault("provision.platform", "macos")
	v.SetDefault("provision.browser_type", "anty")
	v.SetDefault("provision.browser_version", "132")
	v.SetDefault("provision.max_retries", 3)
	v.SetDefault("provision.fingerprint_max_retries", 20)
	v.SetDefault("provision.fingerprint_backoff", "100ms")
	v.SetDefault("provision.proxy_type", "http")
	v.SetDefault("provision.tags", []string{"drawbot"})
	v.SetDefault("provision.main_website", "")
	v.SetDefault("provision.webrtc_mode", "altered")
	v.SetDefault("provision.timezone_mode", "auto")
	v.SetDefault("provision.locale_mode", "auto")
	v.SetDefault("provision.geolocation_mode", "auto")
	v.SetDefault("provision.media_devices_mode", "real")
	v.SetDefault("provision.ports_blacklist", "3389,5900,5800,7070,6568,5938")

	// -- Browser --
	v.SetDefault("browser.attach_timeout", "10s")
	v.SetDefault("browser.debug", false)

	// -- Engine --
	v.SetDefault("engine.tasks", 1)
	v.SetDefault("engine.concurrency", 4)
	v.SetDefault("engine.task_timeout", "10m")
	v.SetDefault("engine.target_url", "")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data.
	v.BindEnv("anty.token", "DRAWBOT_ANTY_TOKEN")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Manually load the token if Unmarshal didn't pick it up.
	if cfg.Anty.Token == "" {
		cfg.Anty.Token = os.Getenv("DRAWBOT_ANTY_TOKEN")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.Anty.CloudBase == "" || c.Anty.LocalBase == "" {
		return fmt.Errorf("anty.cloud_base and anty.local_base are required")
	}
	if c.Provision.MaxRetries <= 0 {
		return fmt.Errorf("provision.max_retries must be a positive integer")
	}
	if c.Provision.FingerprintMaxRetries <= 0 {
		return fmt.Errorf("provision.fingerprint_max_retries must be a positive integer")
	}
	if c.Engine.Concurrency <= 0 {
		return fmt.Errorf("engine.concurrency must be a positive integer")
	}
	if c.Engine.Tasks <= 0 {
		return fmt.Errorf("engine.tasks must be a positive integer")
	}
	if c.Anty.StartTimeout <= 0 || c.Anty.StopTimeout <= 0 {
		return fmt.Errorf("anty.start_timeout and anty.stop_timeout must be positive durations")
	}
	return nil
}
