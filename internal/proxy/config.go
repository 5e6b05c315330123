package proxy

import (
	"net"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/die-net/gatehouse/internal/dialer"
)

const (
	DefaultUpstreamTimeout    = 100 * time.Second
	DefaultNegotiationTimeout = 10 * time.Second
	DefaultMaxHeaderBytes     = 64 << 10
	DefaultMaxCacheEntryBytes = 1 << 20
)

type Config struct {
	// Authenticate checks Proxy-Authorization credentials. Nil accepts all.
	Authenticate func(name, pass string) bool

	// IsBlacklisted reports whether a destination host is denied. Nil
	// denies nothing.
	IsBlacklisted func(host string) bool

	// UpstreamTimeout bounds the upstream connect.
	UpstreamTimeout time.Duration

	// CacheTTL is the lifetime of cached responses.
	CacheTTL time.Duration

	// NegotiationTimeout bounds reading the request head.
	NegotiationTimeout time.Duration

	// MaxHeaderBytes caps the request head.
	MaxHeaderBytes int

	// MaxCacheEntryBytes caps how much of one response is cached. Responses
	// that grow past it stop being recorded.
	MaxCacheEntryBytes int

	KeepAlive net.KeepAliveConfig

	// Dialer opens upstream connections. Defaults to a direct dialer bounded
	// by UpstreamTimeout.
	Dialer dialer.Dialer

	// Observer receives lifecycle notifications. Defaults to logging them.
	Observer Observer

	// Logger to use. The global zerolog logger is used if nil.
	Logger *zerolog.Logger
}

func (c Config) withDefaults() Config {
	if c.Authenticate == nil {
		c.Authenticate = func(string, string) bool { return true }
	}
	if c.IsBlacklisted == nil {
		c.IsBlacklisted = func(string) bool { return false }
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = DefaultUpstreamTimeout
	}
	if c.NegotiationTimeout <= 0 {
		c.NegotiationTimeout = DefaultNegotiationTimeout
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if c.MaxCacheEntryBytes <= 0 {
		c.MaxCacheEntryBytes = DefaultMaxCacheEntryBytes
	}
	if c.Dialer == nil {
		c.Dialer = dialer.NewDirectDialer(dialer.Config{
			DialTimeout: c.UpstreamTimeout,
			KeepAlive:   c.KeepAlive,
		})
	}
	return c
}

// resolve applies defaults and picks the logger and observer.
func (c Config) resolve() (Config, Observer, zerolog.Logger) {
	c = c.withDefaults()

	logger := log.Logger
	if c.Logger != nil {
		logger = *c.Logger
	}

	obs := c.Observer
	if obs == nil {
		obs = NewLogObserver(logger)
	}
	return c, obs, logger
}
