package dialer

import (
	"context"
	"fmt"
	"net"
	"time"
)

// Config bounds and tunes direct upstream connections.
type Config struct {
	// DialTimeout limits DNS lookup plus TCP connect on top of the caller's
	// context. Zero adds no limit.
	DialTimeout time.Duration

	// KeepAlive is applied to every upstream socket.
	KeepAlive net.KeepAliveConfig
}

type directDialer struct {
	cfg Config
}

// NewDirectDialer returns a Dialer that connects straight to the destination.
func NewDirectDialer(cfg Config) Dialer {
	return &directDialer{cfg: cfg}
}

func (f *directDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if f.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.cfg.DialTimeout)
		defer cancel()
	}

	dd := net.Dialer{KeepAliveConfig: f.cfg.KeepAlive}
	conn, err := dd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	return conn, nil
}
