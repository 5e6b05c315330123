package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/gatehouse/internal/cache"
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("proxy: server closed")

// Server is the HTTP forward proxy. It owns the response cache shared by all
// of its connections.
type Server struct {
	ctx    context.Context
	cancel context.CancelFunc
	cfg    Config
	cache  *cache.Cache
	obs    Observer
	log    zerolog.Logger

	mu        sync.Mutex
	listeners map[net.Listener]struct{}
	closed    bool
	conns     sync.WaitGroup
}

// NewServer constructs a proxy server with the given config.
//
// Serve starts accepting connections on a listener; Close stops every
// listener and tears down in-flight connections. Canceling ctx has the same
// effect on connections as Close.
func NewServer(ctx context.Context, cfg Config) *Server {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, obs, logger := cfg.resolve()

	var cacheObs cache.Observer
	if co, ok := obs.(cache.Observer); ok {
		cacheObs = co
	}

	s := &Server{
		cfg:       cfg,
		cache:     cache.New(cfg.CacheTTL, cacheObs),
		obs:       obs,
		log:       logger,
		listeners: make(map[net.Listener]struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	return s
}

// Cache returns the server's response cache.
func (s *Server) Cache() *cache.Cache {
	return s.cache
}

// Serve accepts connections on ln and handles each in its own goroutine. It
// always returns a non-nil error; after Close that error is ErrServerClosed.
func (s *Server) Serve(ln net.Listener) error {
	if !s.trackListener(ln) {
		return ErrServerClosed
	}
	defer s.untrackListener(ln)

	host, port := splitAddr(ln.Addr())
	s.obs.Listening(host, port)

	var backoff acceptBackoff
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			s.obs.Error(fmt.Errorf("accept: %w", err))
			if !backoff.wait(s.ctx) {
				return ErrServerClosed
			}
			continue
		}
		backoff.reset()

		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			_ = c.Close()
			return ErrServerClosed
		}
		s.conns.Add(1)
		s.mu.Unlock()

		go func() {
			defer s.conns.Done()
			s.serveConn(c)
		}()
	}
}

// Close stops all listeners, closes every in-flight connection and waits for
// their goroutines to exit.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	var errs []error
	for ln := range s.listeners {
		if err := ln.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			errs = append(errs, err)
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.conns.Wait()
	s.obs.Closed()
	return errors.Join(errs...)
}

func (s *Server) trackListener(ln net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.listeners[ln] = struct{}{}
	return true
}

func (s *Server) untrackListener(ln net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, ln)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// acceptBackoff spaces out retries after transient Accept failures such as
// running out of file descriptors.
type acceptBackoff struct {
	delay time.Duration
}

const maxAcceptBackoff = time.Second

// wait sleeps for the next delay and reports false if ctx ended first.
func (b *acceptBackoff) wait(ctx context.Context) bool {
	if b.delay == 0 {
		b.delay = 5 * time.Millisecond
	} else {
		b.delay = min(2*b.delay, maxAcceptBackoff)
	}
	t := time.NewTimer(b.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (b *acceptBackoff) reset() {
	b.delay = 0
}

func splitAddr(addr net.Addr) (string, int) {
	if ta, ok := addr.(*net.TCPAddr); ok {
		return ta.IP.String(), ta.Port
	}
	host, port, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String(), 0
	}
	n, _ := strconv.Atoi(port)
	return host, n
}
