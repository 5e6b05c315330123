package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gatehouse.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestConfig(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())
		assert.Equal(t, "127.0.0.1:8080", cfg.Server.Listen)
		assert.Equal(t, 100*time.Second, cfg.Server.GetUpstreamTimeout())
		assert.Equal(t, 10*time.Second, cfg.Server.GetNegotiationTimeout())
		assert.Equal(t, 360*time.Second, cfg.Cache.GetTTL())
		assert.Equal(t, 1<<20, cfg.Cache.MaxEntryBytes)
		assert.Empty(t, cfg.Access.Users)
	})

	t.Run("load non-existent explicit path", func(t *testing.T) {
		_, err := LoadConfig("/non/existent/path")
		require.Error(t, err)
	})

	t.Run("load from file", func(t *testing.T) {
		path := writeConfig(t, `
[server]
listen = "0.0.0.0:3128"
socks5_listen = "127.0.0.1:1080"
upstream_timeout = "5s"
reuse_port = true

[cache]
ttl = "10m"

[access]
blacklist = ["blocked.example", "*.ads.example"]

[access.users]
alice = "secret"

[logging]
level = "debug"
format = "json"
`)

		cfg, err := LoadConfig(path)
		require.NoError(t, err)
		assert.Equal(t, path, cfg.LoadedPath)
		assert.Equal(t, "0.0.0.0:3128", cfg.Server.Listen)
		assert.Equal(t, "127.0.0.1:1080", cfg.Server.SOCKS5Listen)
		assert.Equal(t, 5*time.Second, cfg.Server.GetUpstreamTimeout())
		assert.True(t, cfg.Server.ReusePort)
		assert.Equal(t, 10*time.Minute, cfg.Cache.GetTTL())
		// Unset keys keep their defaults.
		assert.Equal(t, 10*time.Second, cfg.Server.GetNegotiationTimeout())
		assert.Equal(t, 1<<20, cfg.Cache.MaxEntryBytes)
		assert.Equal(t, []string{"blocked.example", "*.ads.example"}, cfg.Access.Blacklist)
		assert.Equal(t, map[string]string{"alice": "secret"}, cfg.Access.Users)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, "json", cfg.Logging.Format)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeConfig(t, "[server]\nlisten_port = 8080\n")
		_, err := LoadConfig(path)
		require.ErrorContains(t, err, "server.listen_port")
	})

	t.Run("syntax error", func(t *testing.T) {
		path := writeConfig(t, "[server\n")
		_, err := LoadConfig(path)
		require.Error(t, err)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := writeConfig(t, `
[server]
upstream_timeout = "soon"

[cache]
ttl = "-1s"
max_entry_bytes = -5

[access.users]
"a:b" = "x"

[logging]
format = "xml"
`)
		_, err := LoadConfig(path)
		require.Error(t, err)
		for _, want := range []string{"server.upstream_timeout", "cache.ttl", "cache.max_entry_bytes", "access.users", "logging.format"} {
			assert.ErrorContains(t, err, want)
		}
	})

	t.Run("invalid durations fall back", func(t *testing.T) {
		cfg := NewDefaultConfig()
		cfg.Cache.TTL = "invalid"
		cfg.Server.UpstreamTimeout = ""
		assert.Equal(t, 360*time.Second, cfg.Cache.GetTTL())
		assert.Equal(t, 100*time.Second, cfg.Server.GetUpstreamTimeout())
	})
}
