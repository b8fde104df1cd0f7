package providers

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// LookupResult is one provider's opinion of a phone number
type LookupResult struct {
	IsBad       bool    `json:"is_bad"`
	Confidence  float64 `json:"confidence"`
	ReportCount int     `json:"report_count,omitempty"`
	Label       string  `json:"label,omitempty"`
}

// Provider is a pluggable external phone reputation source. Each
// provider is independently timeboxed by the checker; a failing
// provider is skipped, never fatal.
type Provider interface {
	// Slug returns the unique identifier for this provider
	Slug() string

	// Name returns the human-readable name of this provider
	Name() string

	// Lookup queries the provider for a normalized number
	Lookup(ctx context.Context, normalizedNumber string) (*LookupResult, error)

	// IsEnabled reports whether this provider is configured and active
	IsEnabled() bool

	// Timeout returns the per-lookup deadline for this provider
	Timeout() time.Duration
}

// Config holds configuration for a provider
type Config struct {
	Enabled   bool          `json:"enabled"`
	APIURL    string        `json:"api_url,omitempty"`
	APIKey    string        `json:"api_key,omitempty"`
	Timeout   time.Duration `json:"timeout,omitempty"`
	RateLimit rate.Limit    `json:"rate_limit,omitempty"` // lookups per second
}

// DefaultConfig returns default provider configuration
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Timeout:   5 * time.Second,
		RateLimit: 10,
	}
}

// BaseProvider provides common functionality for providers
type BaseProvider struct {
	slug    string
	name    string
	config  Config
	limiter *rate.Limiter
}

// NewBaseProvider creates a new base provider
func NewBaseProvider(slug, name string, cfg Config) *BaseProvider {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = DefaultConfig().RateLimit
	}
	return &BaseProvider{
		slug:    slug,
		name:    name,
		config:  cfg,
		limiter: rate.NewLimiter(cfg.RateLimit, int(cfg.RateLimit)),
	}
}

// Slug returns the unique identifier for this provider
func (p *BaseProvider) Slug() string {
	return p.slug
}

// Name returns the human-readable name of this provider
func (p *BaseProvider) Name() string {
	return p.name
}

// IsEnabled reports whether this provider is active
func (p *BaseProvider) IsEnabled() bool {
	return p.config.Enabled
}

// Timeout returns the per-lookup deadline
func (p *BaseProvider) Timeout() time.Duration {
	return p.config.Timeout
}

// Config returns the current configuration
func (p *BaseProvider) Config() Config {
	return p.config
}

// Wait blocks until the provider's rate limiter admits a lookup
func (p *BaseProvider) Wait(ctx context.Context) error {
	return p.limiter.Wait(ctx)
}
