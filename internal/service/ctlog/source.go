package ctlog

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/andres10976/certharvest/internal/domainname"
	"github.com/andres10976/certharvest/internal/metrics"
	"github.com/andres10976/certharvest/internal/model"
)

// Version is reported in the User-Agent of every provider request.
var Version = "dev"

var (
	ErrInvalidDomain      = errors.New("invalid domain")
	ErrTransientFetch     = errors.New("transient fetch failure")
	ErrUnknownProvider    = errors.New("unknown CT provider")
	ErrMissingCredentials = errors.New("missing provider credentials")
	ErrNoBody             = errors.New("issuance has no certificate body")
)

// Provider selects a Source implementation.
type Provider string

const (
	ProviderCertSpotter  Provider = "certspotter"
	ProviderCrtSh        Provider = "crtsh"
	ProviderCrtShDNSName Provider = "crtsh-dnsname"
)

// SummaryOptions scope a summary request.
type SummaryOptions struct {
	IncludeSubdomains bool
	IncludeExpired    bool
}

// Source lists the certificates a CT aggregator knows for a domain and
// fetches their bodies.
type Source interface {
	// FetchSummary returns one Issuance per logged certificate. domain is
	// validated before any request is sent.
	FetchSummary(ctx context.Context, domain string, opts SummaryOptions) ([]model.Issuance, error)
	// FetchBody returns the PEM or DER body of iss.
	FetchBody(ctx context.Context, iss model.Issuance) ([]byte, error)
}

type Config struct {
	Provider       Provider
	BaseURL        string
	APIKey         string
	RateLimit      float64
	RateBurst      int
	MaxRetries     int
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

type Option func(*options)

type options struct {
	httpClient *http.Client
	newBackOff func() backoff.BackOff
	metrics    *metrics.Metrics
	log        *zap.Logger
}

// WithHTTPClient replaces the client built from Config timeouts.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithBackOff replaces the exponential retry schedule.
func WithBackOff(f func() backoff.BackOff) Option {
	return func(o *options) { o.newBackOff = f }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.log = l }
}

// New returns the Source for cfg.Provider.
func New(cfg Config, opts ...Option) (Source, error) {
	o := options{
		newBackOff: newExponentialBackOff,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.metrics == nil {
		o.metrics = metrics.Discard()
	}
	if o.log == nil {
		o.log = zap.NewNop()
	}
	if o.httpClient == nil {
		o.httpClient = newHTTPClient(cfg.ConnectTimeout, cfg.ReadTimeout)
	}

	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	burst := max(cfg.RateBurst, 1)

	f := &fetcher{
		provider:   string(cfg.Provider),
		client:     o.httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: max(cfg.MaxRetries, 0),
		newBackOff: o.newBackOff,
		header:     http.Header{"User-Agent": {"certharvest/" + Version}},
		metrics:    o.metrics,
		log:        o.log.With(zap.String("provider", string(cfg.Provider))),
	}

	switch cfg.Provider {
	case ProviderCertSpotter:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("%w: %s requires an API key", ErrMissingCredentials, cfg.Provider)
		}
		f.header.Set("Authorization", "Bearer "+cfg.APIKey)
		return newCertSpotter(f, orDefault(cfg.BaseURL, defaultCertSpotterURL)), nil
	case ProviderCrtSh:
		return newCrtSh(f, orDefault(cfg.BaseURL, defaultCrtShURL), false), nil
	case ProviderCrtShDNSName:
		return newCrtSh(f, orDefault(cfg.BaseURL, defaultCrtShURL), true), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, cfg.Provider)
	}
}

// LoadAPIKey reads a provider credential from a secret file.
func LoadAPIKey(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read API key: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func validateDomain(domain string) (string, error) {
	if err := domainname.Validate(domain); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidDomain, err)
	}
	return strings.TrimSuffix(strings.ToLower(domain), "."), nil
}

func newHTTPClient(connectTimeout, readTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = 5 * time.Second
	}
	if readTimeout <= 0 {
		readTimeout = 30 * time.Second
	}
	dialer := &net.Dialer{
		Timeout:   connectTimeout,
		KeepAlive: 60 * time.Second,
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   connectTimeout,
			ResponseHeaderTimeout: readTimeout,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   32,
		},
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
