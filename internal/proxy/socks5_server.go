package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/gatehouse/internal/socks5"
)

// SOCKS5Server serves SOCKS5 CONNECT under the same policy as the HTTP
// proxy: username/password checked by Authenticate, destinations checked by
// IsBlacklisted. Tunnels never touch the response cache.
type SOCKS5Server struct {
	ctx context.Context
	cfg Config
	obs Observer
	log zerolog.Logger
}

func NewSOCKS5Server(ctx context.Context, cfg Config) *SOCKS5Server {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, obs, logger := cfg.resolve()
	return &SOCKS5Server{ctx: ctx, cfg: cfg, obs: obs, log: logger.With().Str("proto", "socks5").Logger()}
}

func (s *SOCKS5Server) Serve(ln net.Listener) error {
	host, port := splitAddr(ln.Addr())
	s.obs.Listening(host, port)

	var backoff acceptBackoff
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("accept: %w", err)
			}
			s.obs.Error(fmt.Errorf("socks5 accept: %w", err))
			if !backoff.wait(s.ctx) {
				return ErrServerClosed
			}
			continue
		}
		backoff.reset()
		go func() {
			if err := s.handle(c); err != nil {
				s.obs.Error(fmt.Errorf("socks5: %w", err))
			}
		}()
	}
}

func (s *SOCKS5Server) handle(conn net.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	if s.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(s.cfg.NegotiationTimeout))
	}

	user, err := socks5.ServerNegotiate(conn, s.cfg.Authenticate)
	if err != nil {
		log.Info().Err(err).Str("user", user).Msg("request refused")
		return nil
	}

	req, err := socks5.ServerReadRequest(conn)
	if err != nil {
		return err
	}
	if req.Cmd != socks5.CmdConnect {
		socks5.WriteCommandNotSupportedReply(conn, req.Atyp)
		return fmt.Errorf("unsupported command %d", req.Cmd)
	}

	host, port, err := socks5.SplitRequestAddress(req)
	if err != nil {
		return err
	}
	host = strings.ToLower(host)
	dst := net.JoinHostPort(host, port)
	log = log.With().Str("dest", dst).Logger()

	if s.cfg.IsBlacklisted(host) {
		socks5.WriteNotAllowedReply(conn, req.Atyp)
		log.Info().Err(fmt.Errorf("%w: %s", ErrPolicyDenied, host)).Msg("request refused")
		return nil
	}

	dctx, dcancel := context.WithTimeout(ctx, s.cfg.UpstreamTimeout)
	up, err := s.cfg.Dialer.DialContext(dctx, "tcp", dst)
	dcancel()
	if err != nil {
		socks5.WriteConnectionRefusedReply(conn, req.Atyp)
		return &UpstreamConnectError{Addr: dst, Err: err}
	}
	defer up.Close()

	if err := socks5.WriteSuccessReply(conn, up.LocalAddr()); err != nil {
		return err
	}
	_ = conn.SetDeadline(time.Time{})

	log.Debug().Str("user", user).Msg("tunnel established")
	return CopyBidirectional(ctx, conn, up, nil)
}
