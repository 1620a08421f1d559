package oauth

import (
	"time"

	"github.com/DanrwAU/zenwifi/internal/config"
)

const DefaultRefreshInterval = 10 * time.Minute

// RefreshInterval resolves the proactive refresh period. A negative
// configured interval disables proactive refresh.
func RefreshInterval(cfg config.OAuthConfig) time.Duration {
	if cfg.RefreshInterval < 0 {
		return 0
	}
	if cfg.RefreshInterval > 0 {
		return cfg.RefreshInterval
	}
	return DefaultRefreshInterval
}
