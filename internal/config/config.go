// Package config loads the gatehouse TOML configuration file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server     ServerConfig  `toml:"server"`
	Cache      CacheConfig   `toml:"cache"`
	Access     AccessConfig  `toml:"access"`
	Logging    LoggingConfig `toml:"logging"`
	LoadedPath string        `toml:"-"`
}

type ServerConfig struct {
	Listen             string `toml:"listen"`
	SOCKS5Listen       string `toml:"socks5_listen"`
	ControlListen      string `toml:"control_listen"`
	UpstreamTimeout    string `toml:"upstream_timeout"`
	NegotiationTimeout string `toml:"negotiation_timeout"`
	TCPKeepAlive       string `toml:"tcp_keepalive"`
	ReusePort          bool   `toml:"reuse_port"`
}

type CacheConfig struct {
	TTL           string `toml:"ttl"`
	MaxEntryBytes int    `toml:"max_entry_bytes"`
}

// AccessConfig holds the destination blacklist and the proxy user table.
// An empty user table lets every well-formed credential through.
type AccessConfig struct {
	Blacklist []string          `toml:"blacklist"`
	Users     map[string]string `toml:"users"`
}

type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

func (s *ServerConfig) GetUpstreamTimeout() time.Duration {
	return parseDuration(s.UpstreamTimeout, 100*time.Second)
}

func (s *ServerConfig) GetNegotiationTimeout() time.Duration {
	return parseDuration(s.NegotiationTimeout, 10*time.Second)
}

func (c *CacheConfig) GetTTL() time.Duration {
	return parseDuration(c.TTL, 360*time.Second)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:             "127.0.0.1:8080",
			UpstreamTimeout:    "100s",
			NegotiationTimeout: "10s",
			TCPKeepAlive:       "45:45:3",
		},
		Cache: CacheConfig{
			TTL:           "360s",
			MaxEntryBytes: 1 << 20,
		},
		Access: AccessConfig{
			Users: map[string]string{},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads path over the defaults. An empty path searches the
// standard locations and returns the defaults if none exists.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()

	configPath := path
	if configPath == "" {
		locations := []string{
			"./gatehouse.toml",
			os.ExpandEnv("$HOME/.config/gatehouse/config.toml"),
			"/etc/gatehouse/config.toml",
		}
		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				configPath = loc
				break
			}
		}
	}

	if configPath != "" {
		md, err := toml.DecodeFile(configPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("config %s: %w", configPath, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return nil, fmt.Errorf("config %s: unknown keys: %s", configPath, strings.Join(keys, ", "))
		}
		cfg.LoadedPath = configPath
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values that would otherwise fall back to a default
// silently.
func (c *Config) Validate() error {
	var errs []error
	for name, v := range map[string]string{
		"server.upstream_timeout":    c.Server.UpstreamTimeout,
		"server.negotiation_timeout": c.Server.NegotiationTimeout,
		"cache.ttl":                  c.Cache.TTL,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	if c.Cache.MaxEntryBytes < 0 {
		errs = append(errs, fmt.Errorf("cache.max_entry_bytes: must be >= 0, got %d", c.Cache.MaxEntryBytes))
	}
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: want console or json, got %q", c.Logging.Format))
	}
	for user := range c.Access.Users {
		if user == "" || strings.Contains(user, ":") {
			errs = append(errs, fmt.Errorf("access.users: invalid user name %q", user))
		}
	}
	return errors.Join(errs...)
}
