package rate

import "time"

// Window represents a rate-limit bucket period.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return "unknown"
	}
}

func (w Window) Duration() time.Duration {
	switch w {
	case Hour:
		return time.Hour
	case Day:
		return 24 * time.Hour
	default:
		return time.Minute
	}
}

// Headers names the response headers a provider uses to signal limits.
type Headers struct {
	RetryAfter string
	Remaining  string
}

// StandardHeaders returns the common Retry-After mapping.
func StandardHeaders() Headers {
	return Headers{
		RetryAfter: "Retry-After",
		Remaining:  "X-RateLimit-Remaining",
	}
}

// Declaration is an immutable description of a provider's request budget.
type Declaration struct {
	provider string
	limits   map[Window]int
	cacheTTL time.Duration
	headers  Headers
}

// Provider starts a declaration for a provider.
func Provider(name string) Declaration {
	return Declaration{provider: name}
}

func (d Declaration) ProviderName() string {
	return d.provider
}

func (d Declaration) MaxRequestsPer(window Window, limit int) Declaration {
	limits := make(map[Window]int, len(d.limits)+1)
	for w, l := range d.limits {
		limits[w] = l
	}
	limits[window] = limit
	d.limits = limits
	return d
}

// CacheFor serves identical GET responses from memory for ttl when the
// budget is exhausted.
func (d Declaration) CacheFor(ttl time.Duration) Declaration {
	d.cacheTTL = ttl
	return d
}

func (d Declaration) ReadHeaders(headers Headers) Declaration {
	d.headers = headers
	return d
}

func (d Declaration) Limits() map[Window]int {
	return d.limits
}

func (d Declaration) CacheTTL() time.Duration {
	return d.cacheTTL
}

func (d Declaration) Headers() Headers {
	return d.headers
}
