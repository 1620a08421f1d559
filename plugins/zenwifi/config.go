package zenwifi

import (
	"fmt"
	"strings"
	"time"

	"github.com/DanrwAU/zenwifi/internal/config"
	"github.com/DanrwAU/zenwifi/internal/oauth"
	"github.com/DanrwAU/zenwifi/internal/rate"
)

const (
	// PluginID doubles as the device identifier domain and the oauth
	// provider name.
	PluginID = "zenwifi"

	tokenPath = "/api/token"
)

// Config defines runtime configuration for the Zen client and coordinator.
type Config struct {
	BaseURL            string
	Credentials        oauth.Credentials
	StatePath          string
	PollInterval       time.Duration
	RequestTimeout     time.Duration
	RateLimitPerMinute int
	CacheTTL           time.Duration
}

// ConfigFromApp resolves the account password and copies the Zen settings
// out of the daemon config.
func ConfigFromApp(cfg *config.Config) (Config, error) {
	if cfg == nil {
		return Config{}, fmt.Errorf("zenwifi config is required")
	}
	password, err := cfg.Zen.ResolvePassword()
	if err != nil {
		return Config{}, fmt.Errorf("zenwifi password: %w", err)
	}
	return Config{
		BaseURL: strings.TrimRight(strings.TrimSpace(cfg.Zen.BaseURL), "/"),
		Credentials: oauth.Credentials{
			Username: strings.TrimSpace(cfg.Zen.Username),
			Password: password,
		},
		StatePath:          cfg.OAuth.StatePath,
		PollInterval:       cfg.Zen.PollInterval,
		RequestTimeout:     cfg.Zen.RequestTimeout,
		RateLimitPerMinute: cfg.Zen.RateLimitPerMinute,
		CacheTTL:           cfg.Zen.CacheTTL,
	}, nil
}

func (c Config) baseURL() string {
	if c.BaseURL == "" {
		return config.DefaultBaseURL
	}
	return c.BaseURL
}

func (c Config) requestTimeout() time.Duration {
	if c.RequestTimeout <= 0 {
		return config.DefaultRequestTimeout
	}
	return c.RequestTimeout
}

func (c Config) pollInterval() time.Duration {
	if c.PollInterval <= 0 {
		return config.DefaultPollInterval
	}
	return c.PollInterval
}

// OAuthDeclaration points the token manager at the account token endpoint.
func (c Config) OAuthDeclaration() oauth.Declaration {
	return oauth.Declaration{
		Provider:  PluginID,
		TokenURL:  c.baseURL() + tokenPath,
		StatePath: c.StatePath,
	}
}

// RateDeclaration is the request budget shared by every API call.
func (c Config) RateDeclaration() rate.Declaration {
	limit := c.RateLimitPerMinute
	if limit <= 0 {
		limit = config.DefaultRateLimitPerMinute
	}
	return rate.Provider(PluginID).
		MaxRequestsPer(rate.Minute, limit).
		ReadHeaders(rate.StandardHeaders()).
		CacheFor(c.CacheTTL)
}
