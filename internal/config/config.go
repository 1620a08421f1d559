package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPath               = "/etc/zenwifi/config.yaml"
	DefaultGRPCAddr           = "0.0.0.0:9000"
	DefaultHTTPAddr           = "0.0.0.0:8080"
	DefaultBaseURL            = "https://wifi.zenhq.com"
	DefaultPollInterval       = time.Minute
	DefaultRequestTimeout     = 10 * time.Second
	DefaultRateLimitPerMinute = 30
	DefaultStatePath          = "/var/lib/zenwifi/oauth/zenwifi.json"
	DefaultOAuthPrefix        = "zenwifi/oauth"
	DefaultRefreshInterval    = 10 * time.Minute
	DefaultMQTTPrefix         = "zenwifi"
	DefaultDiscoveryPrefix    = "homeassistant"
	DefaultMeasurement        = "zenwifi_thermostat"

	envPrefix = "ZENWIFI"
)

// Config is the daemon configuration decoded from YAML and the environment.
type Config struct {
	Core       CoreConfig       `mapstructure:"core" yaml:"core"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Zen        ZenConfig        `mapstructure:"zen" yaml:"zen"`
	OAuth      OAuthConfig      `mapstructure:"oauth" yaml:"oauth"`
	MQTT       MQTTConfig       `mapstructure:"mqtt" yaml:"mqtt"`
	Influx     InfluxConfig     `mapstructure:"influx" yaml:"influx"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
}

type CoreConfig struct {
	GRPCAddr      string `mapstructure:"grpc_addr" yaml:"grpc_addr"`
	HTTPAddr      string `mapstructure:"http_addr" yaml:"http_addr"`
	DashboardsDir string `mapstructure:"dashboards_dir" yaml:"dashboards_dir,omitempty"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	Output string `mapstructure:"output" yaml:"output,omitempty"`
}

// ZenConfig holds the cloud account and polling settings.
type ZenConfig struct {
	BaseURL            string        `mapstructure:"base_url" yaml:"base_url"`
	Username           string        `mapstructure:"username" yaml:"username"`
	Password           string        `mapstructure:"password" yaml:"password,omitempty"`
	PasswordFile       string        `mapstructure:"password_file" yaml:"password_file,omitempty"`
	PollInterval       time.Duration `mapstructure:"poll_interval" yaml:"poll_interval"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	RateLimitPerMinute int           `mapstructure:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	CacheTTL           time.Duration `mapstructure:"cache_ttl" yaml:"cache_ttl"`
}

// OAuthConfig controls token persistence and the optional S3 mirror.
type OAuthConfig struct {
	StatePath         string        `mapstructure:"state_path" yaml:"state_path"`
	RefreshInterval   time.Duration `mapstructure:"refresh_interval" yaml:"refresh_interval"`
	BlobEndpoint      string        `mapstructure:"blob_endpoint" yaml:"blob_endpoint,omitempty"`
	BlobBucket        string        `mapstructure:"blob_bucket" yaml:"blob_bucket,omitempty"`
	BlobPrefix        string        `mapstructure:"blob_prefix" yaml:"blob_prefix"`
	BlobRegion        string        `mapstructure:"blob_region" yaml:"blob_region,omitempty"`
	BlobAccessKeyFile string        `mapstructure:"blob_access_key_file" yaml:"blob_access_key_file,omitempty"`
	BlobSecretKeyFile string        `mapstructure:"blob_secret_key_file" yaml:"blob_secret_key_file,omitempty"`
}

// BlobEnabled reports whether an S3 mirror is configured.
func (o OAuthConfig) BlobEnabled() bool {
	return o.BlobEndpoint != "" || o.BlobBucket != ""
}

type MQTTConfig struct {
	Broker          string `mapstructure:"broker" yaml:"broker,omitempty"`
	ClientID        string `mapstructure:"client_id" yaml:"client_id"`
	Username        string `mapstructure:"username" yaml:"username,omitempty"`
	PasswordFile    string `mapstructure:"password_file" yaml:"password_file,omitempty"`
	Prefix          string `mapstructure:"prefix" yaml:"prefix"`
	Discovery       bool   `mapstructure:"discovery" yaml:"discovery"`
	DiscoveryPrefix string `mapstructure:"discovery_prefix" yaml:"discovery_prefix"`
}

func (m MQTTConfig) Enabled() bool {
	return m.Broker != ""
}

type InfluxConfig struct {
	URL         string `mapstructure:"url" yaml:"url,omitempty"`
	TokenFile   string `mapstructure:"token_file" yaml:"token_file,omitempty"`
	Org         string `mapstructure:"org" yaml:"org,omitempty"`
	Bucket      string `mapstructure:"bucket" yaml:"bucket,omitempty"`
	Measurement string `mapstructure:"measurement" yaml:"measurement"`
}

func (i InfluxConfig) Enabled() bool {
	return i.URL != ""
}

type AutomationConfig struct {
	Triggers []TriggerConfig `mapstructure:"triggers" yaml:"triggers,omitempty"`
}

// TriggerConfig binds a device trigger to a thermostat by id or name.
type TriggerConfig struct {
	Name   string        `mapstructure:"name" yaml:"name,omitempty"`
	Device string        `mapstructure:"device" yaml:"device"`
	Type   string        `mapstructure:"type" yaml:"type"`
	Above  *float64      `mapstructure:"above" yaml:"above,omitempty"`
	Below  *float64      `mapstructure:"below" yaml:"below,omitempty"`
	For    time.Duration `mapstructure:"for" yaml:"for,omitempty"`
}

// Load reads the YAML config at path, overlays ZENWIFI_* environment
// variables, applies defaults, and validates. An empty path reads only
// defaults and the environment.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")

	v.SetDefault("core.grpc_addr", DefaultGRPCAddr)
	v.SetDefault("core.http_addr", DefaultHTTPAddr)
	v.SetDefault("core.dashboards_dir", "")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "")

	v.SetDefault("zen.base_url", DefaultBaseURL)
	v.SetDefault("zen.username", "")
	v.SetDefault("zen.password", "")
	v.SetDefault("zen.password_file", "")
	v.SetDefault("zen.poll_interval", DefaultPollInterval)
	v.SetDefault("zen.request_timeout", DefaultRequestTimeout)
	v.SetDefault("zen.rate_limit_per_minute", DefaultRateLimitPerMinute)
	v.SetDefault("zen.cache_ttl", time.Duration(0))

	v.SetDefault("oauth.state_path", DefaultStatePath)
	v.SetDefault("oauth.refresh_interval", DefaultRefreshInterval)
	v.SetDefault("oauth.blob_endpoint", "")
	v.SetDefault("oauth.blob_bucket", "")
	v.SetDefault("oauth.blob_prefix", DefaultOAuthPrefix)
	v.SetDefault("oauth.blob_region", "")
	v.SetDefault("oauth.blob_access_key_file", "")
	v.SetDefault("oauth.blob_secret_key_file", "")

	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "zenwifi")
	v.SetDefault("mqtt.username", "")
	v.SetDefault("mqtt.password_file", "")
	v.SetDefault("mqtt.prefix", DefaultMQTTPrefix)
	v.SetDefault("mqtt.discovery", true)
	v.SetDefault("mqtt.discovery_prefix", DefaultDiscoveryPrefix)

	v.SetDefault("influx.url", "")
	v.SetDefault("influx.token_file", "")
	v.SetDefault("influx.org", "")
	v.SetDefault("influx.bucket", "")
	v.SetDefault("influx.measurement", DefaultMeasurement)

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Validate enforces invariants that decoding cannot express.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if cfg.Core.GRPCAddr == "" {
		return fmt.Errorf("core.grpc_addr is required")
	}
	if cfg.Core.HTTPAddr == "" {
		return fmt.Errorf("core.http_addr is required")
	}

	if strings.TrimSpace(cfg.Zen.BaseURL) == "" {
		return fmt.Errorf("zen.base_url is required")
	}
	if strings.TrimSpace(cfg.Zen.Username) == "" {
		return fmt.Errorf("zen.username is required")
	}
	if cfg.Zen.Password == "" && cfg.Zen.PasswordFile == "" {
		return fmt.Errorf("zen.password or zen.password_file is required")
	}
	if cfg.Zen.PollInterval < 10*time.Second {
		return fmt.Errorf("zen.poll_interval must be at least 10s")
	}
	if cfg.Zen.RequestTimeout <= 0 {
		return fmt.Errorf("zen.request_timeout must be positive")
	}
	if cfg.Zen.RateLimitPerMinute <= 0 {
		return fmt.Errorf("zen.rate_limit_per_minute must be positive")
	}

	if cfg.OAuth.StatePath == "" {
		return fmt.Errorf("oauth.state_path is required")
	}
	if !filepath.IsAbs(cfg.OAuth.StatePath) {
		return fmt.Errorf("oauth.state_path must be absolute")
	}
	if cfg.OAuth.BlobEnabled() {
		if cfg.OAuth.BlobEndpoint == "" {
			return fmt.Errorf("oauth.blob_endpoint is required")
		}
		if cfg.OAuth.BlobBucket == "" {
			return fmt.Errorf("oauth.blob_bucket is required")
		}
		if cfg.OAuth.BlobAccessKeyFile == "" {
			return fmt.Errorf("oauth.blob_access_key_file is required")
		}
		if cfg.OAuth.BlobSecretKeyFile == "" {
			return fmt.Errorf("oauth.blob_secret_key_file is required")
		}
	}

	if cfg.MQTT.Enabled() && cfg.MQTT.Prefix == "" {
		return fmt.Errorf("mqtt.prefix is required")
	}

	if cfg.Influx.Enabled() {
		if cfg.Influx.Org == "" {
			return fmt.Errorf("influx.org is required")
		}
		if cfg.Influx.Bucket == "" {
			return fmt.Errorf("influx.bucket is required")
		}
	}

	for i, trigger := range cfg.Automation.Triggers {
		if trigger.Device == "" {
			return fmt.Errorf("automation.triggers[%d].device is required", i)
		}
		if trigger.Type == "" {
			return fmt.Errorf("automation.triggers[%d].type is required", i)
		}
		if trigger.For < 0 {
			return fmt.Errorf("automation.triggers[%d].for must not be negative", i)
		}
	}

	return nil
}

// ResolvePassword returns the inline password or reads password_file.
func (z ZenConfig) ResolvePassword() (string, error) {
	if z.Password != "" {
		return z.Password, nil
	}
	return ReadSecretFile(z.PasswordFile)
}

// ReadSecretFile reads a single-line secret, trimming whitespace.
func ReadSecretFile(path string) (string, error) {
	if path == "" {
		return "", fmt.Errorf("secret file path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	secret := strings.TrimSpace(string(data))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

// Render encodes the effective config as YAML with secrets redacted.
func Render(cfg *Config) ([]byte, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	redacted := *cfg
	if redacted.Zen.Password != "" {
		redacted.Zen.Password = "REDACTED"
	}
	return yaml.Marshal(&redacted)
}
