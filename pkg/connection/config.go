package connection

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/surrealdb/signalr.go/internal/codec"
	"github.com/surrealdb/signalr.go/pkg/constants"
	"github.com/surrealdb/signalr.go/pkg/logger"
	"github.com/surrealdb/signalr.go/pkg/metrics"
)

// Config holds everything a Connection needs before it is started.
// Use Option values with New rather than filling it directly.
type Config struct {
	// URL is the connection endpoint, such as "http://localhost:8080/signalr".
	URL string

	// QueryString is appended to every request the connection makes.
	QueryString string

	// Origin is the origin the client considers itself to run on.
	// When it differs from the URL's scheme and host the connection is
	// treated as cross-domain and serverSentEvents is not auto-selected.
	Origin string

	Logger     logger.Logger
	HTTPClient *http.Client
	Clock      clockwork.Clock
	Metrics    metrics.Collector
	Registry   *Registry

	Marshaler   codec.Marshaler
	Unmarshaler codec.Unmarshaler

	// ReconnectDelay is the wait before a transport retries after losing its stream.
	ReconnectDelay time.Duration

	// KeepAliveWarnAt is the fraction of the negotiated keep-alive timeout
	// after which the connectionSlow event fires.
	KeepAliveWarnAt float64
}

type Option func(*Config)

// WithQueryString sets extra query parameters, either as "a=1&b=2" or as url.Values.
func WithQueryString(qs any) Option {
	return func(c *Config) {
		switch v := qs.(type) {
		case string:
			c.QueryString = strings.TrimPrefix(v, "?")
		case url.Values:
			c.QueryString = v.Encode()
		case map[string]string:
			values := url.Values{}
			for k, val := range v {
				values.Set(k, val)
			}
			c.QueryString = values.Encode()
		}
	}
}

func WithOrigin(origin string) Option {
	return func(c *Config) {
		c.Origin = origin
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// WithLogging switches between a debug level text logger on stderr and one
// that only reports warnings and errors.
func WithLogging(enabled bool) Option {
	return func(c *Config) {
		level := slog.LevelWarn
		if enabled {
			level = slog.LevelDebug
		}
		c.Logger = logger.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Config) {
		c.HTTPClient = client
	}
}

// WithClock replaces the clock used for every timer. Tests pass a clockwork.FakeClock.
func WithClock(clock clockwork.Clock) Option {
	return func(c *Config) {
		c.Clock = clock
	}
}

func WithMetrics(m metrics.Collector) Option {
	return func(c *Config) {
		c.Metrics = m
	}
}

// WithRegistry sets the transports available for negotiation and their priority.
func WithRegistry(r *Registry) Option {
	return func(c *Config) {
		c.Registry = r
	}
}

func WithMarshaler(m codec.Marshaler, u codec.Unmarshaler) Option {
	return func(c *Config) {
		c.Marshaler = m
		c.Unmarshaler = u
	}
}

func WithReconnectDelay(d time.Duration) Option {
	return func(c *Config) {
		c.ReconnectDelay = d
	}
}

func WithKeepAliveWarnAt(fraction float64) Option {
	return func(c *Config) {
		c.KeepAliveWarnAt = fraction
	}
}

// NewConfig returns the defaults for the given endpoint.
func NewConfig(endpoint string) *Config {
	return &Config{
		URL:             endpoint,
		Logger:          logger.Discard(),
		HTTPClient:      &http.Client{},
		Clock:           clockwork.NewRealClock(),
		Metrics:         metrics.Nop{},
		Registry:        NewRegistry(),
		Marshaler:       codec.JSON{},
		Unmarshaler:     codec.JSON{},
		ReconnectDelay:  constants.DefaultReconnectDelay,
		KeepAliveWarnAt: constants.DefaultKeepAliveWarnAt,
	}
}

// Validate checks that the configured URL can be connected to.
func (c *Config) Validate() error {
	u, err := url.Parse(c.URL)
	if err != nil {
		return fmt.Errorf("invalid connection url %q: %w", c.URL, err)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: %q", constants.ErrNoBaseURL, c.URL)
	}
	switch u.Scheme {
	case constants.HTTPScheme, constants.HTTPSecureScheme:
	default:
		return fmt.Errorf("%w: %s", constants.ErrUnsupportedScheme, u.Scheme)
	}
	if c.KeepAliveWarnAt <= 0 || c.KeepAliveWarnAt >= 1 {
		return fmt.Errorf("keep-alive warn fraction must be within (0, 1), got %v", c.KeepAliveWarnAt)
	}
	return nil
}
