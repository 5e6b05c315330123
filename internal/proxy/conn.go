package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/gatehouse/internal/auth"
	"github.com/die-net/gatehouse/internal/cache"
	"github.com/die-net/gatehouse/internal/message"
)

const (
	tunnelEstablishedResponse = "HTTP/1.1 200 OK\r\n\r\n"
	notFoundResponse          = "HTTP/1.1 404 Not Found\r\n\r\nNot found."
	proxyAuthResponse         = "HTTP/1.1 407 Unauthorized\r\nProxy-Authenticate: Basic realm=\"Proxy Authentication\"\r\n\r\nAccess denied"
	badRequestResponse        = "HTTP/1.1 400 Bad Request\r\nContent-Type: text/plain; charset=utf-8\r\nConnection: close\r\n\r\nBad request.\r\n"
	badGatewayFormat          = "HTTP/1.1 502 Bad Gateway\r\nContent-Type: text/html; charset=utf-8\r\nConnection: close\r\n\r\n" +
		"<html><body><h1>502 Bad Gateway</h1><p>Proxy encountered an error: %s %s</p></body></html>"

	// lingerTimeout bounds the drain after a terminal response so the client
	// sees the response instead of a reset.
	lingerTimeout = 500 * time.Millisecond
	lingerBytes   = 64 << 10
)

type connState int

const (
	stateAwaitFirstBytes connState = iota
	stateParsed
	stateBlacklistChecked
	stateAuthChecked
	stateCacheLookedUp
	stateServedFromCache
	stateRelaying
	stateClosed
	stateError
)

func (s connState) String() string {
	switch s {
	case stateAwaitFirstBytes:
		return "await_first_bytes"
	case stateParsed:
		return "parsed"
	case stateBlacklistChecked:
		return "blacklist_checked"
	case stateAuthChecked:
		return "auth_checked"
	case stateCacheLookedUp:
		return "cache_looked_up"
	case stateServedFromCache:
		return "served_from_cache"
	case stateRelaying:
		return "relaying"
	case stateClosed:
		return "closed"
	case stateError:
		return "error"
	default:
		return "unknown"
	}
}

// proxyConn carries one client connection through the proxy state machine.
// Only the first request head on the connection is parsed; everything after
// it is relayed as opaque bytes.
type proxyConn struct {
	srv    *Server
	cfg    *Config
	client net.Conn
	log    zerolog.Logger
	state  connState

	req    *message.Request
	tunnel bool
	host   string
	port   int
}

func (s *Server) serveConn(c net.Conn) {
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	// Server shutdown unblocks a connection stuck in any read.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stop()
	defer c.Close()

	pc := &proxyConn{
		srv:    s,
		cfg:    &s.cfg,
		client: c,
		log:    s.log.With().Str("remote", c.RemoteAddr().String()).Logger(),
	}
	pc.finish(pc.serve(ctx))
}

func (pc *proxyConn) serve(ctx context.Context) error {
	raw, err := pc.readHead()
	if err != nil || len(raw) == 0 {
		return err
	}

	req, err := message.Parse(raw)
	if err == nil {
		pc.setState(stateParsed)
		err = pc.resolve(req)
	}
	if err != nil {
		return errors.Join(err, pc.reject(badRequestResponse))
	}
	pc.srv.obs.Connection(req)

	if pc.cfg.IsBlacklisted(pc.host) {
		return errors.Join(fmt.Errorf("%w: %s", ErrPolicyDenied, pc.host), pc.reject(notFoundResponse))
	}
	pc.setState(stateBlacklistChecked)

	if err := pc.authenticate(); err != nil {
		return errors.Join(err, pc.reject(proxyAuthResponse))
	}
	pc.setState(stateAuthChecked)

	if !pc.tunnel {
		if body, ok := pc.srv.cache.Get(pc.host); ok {
			pc.setState(stateCacheLookedUp)
			pc.log.Debug().Int("bytes", len(body)).Msg("cache hit")
			err := pc.writeResponse(body)
			pc.setState(stateServedFromCache)
			pc.linger()
			return err
		}
	}
	pc.setState(stateCacheLookedUp)

	upstream, err := pc.dial(ctx)
	if err != nil {
		var uce *UpstreamConnectError
		if errors.As(err, &uce) {
			resp := fmt.Sprintf(badGatewayFormat, uce.Code(), html.EscapeString(uce.Err.Error()))
			return errors.Join(err, pc.reject(resp))
		}
		return err
	}
	defer upstream.Close()
	pc.setState(stateRelaying)

	if pc.tunnel {
		return pc.relayTunnel(ctx, upstream)
	}
	return pc.relayPlain(ctx, upstream)
}

func (pc *proxyConn) finish(err error) {
	switch {
	case err == nil:
		pc.setState(stateClosed)
	case errors.Is(err, ErrPolicyDenied), errors.Is(err, ErrAuth):
		pc.log.Info().Err(err).Msg("request refused")
		pc.setState(stateClosed)
	default:
		pc.setState(stateError)
		pc.srv.obs.Error(err)
	}
}

func (pc *proxyConn) setState(s connState) {
	pc.log.Trace().Str("from", pc.state.String()).Str("to", s.String()).Msg("state")
	pc.state = s
}

// readHead reads until the end of the request head, EOF, or MaxHeaderBytes.
func (pc *proxyConn) readHead() ([]byte, error) {
	_ = pc.client.SetReadDeadline(time.Now().Add(pc.cfg.NegotiationTimeout))
	defer func() { _ = pc.client.SetReadDeadline(time.Time{}) }()

	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := pc.client.Read(chunk)
		buf = append(buf, chunk[:n]...)
		if headComplete(buf) {
			return buf, nil
		}
		if len(buf) >= pc.cfg.MaxHeaderBytes {
			perr := &message.ParseError{Reason: "request head exceeds " + strconv.Itoa(pc.cfg.MaxHeaderBytes) + " bytes"}
			return nil, errors.Join(perr, pc.reject(badRequestResponse))
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return buf, nil
			}
			return nil, &SocketError{Op: "read request", Err: err}
		}
	}
}

func headComplete(b []byte) bool {
	return bytes.Contains(b, []byte("\r\n\r\n")) || bytes.Contains(b, []byte("\n\n")) || bytes.Contains(b, []byte("\n\r\n"))
}

// resolve picks the destination. Tunnels go to the request target; plain
// requests go to the Host header, falling back to the target. An explicit
// port wins over the 443/80 defaults.
func (pc *proxyConn) resolve(req *message.Request) error {
	pc.req = req
	pc.tunnel = req.Method == http.MethodConnect

	if pc.tunnel {
		pc.host, pc.port = req.Host, req.Port
		if pc.port == 0 {
			pc.port = 443
		}
	} else {
		pc.host, pc.port = splitHostHeader(req.Header.Get("host"))
		if pc.host == "" {
			pc.host, pc.port = req.Host, req.Port
		}
		if pc.port == 0 {
			pc.port = 80
		}
	}

	pc.host = strings.ToLower(pc.host)
	if pc.host == "" {
		return &message.ParseError{Reason: "no destination host"}
	}
	pc.log = pc.log.With().Str("dest", pc.addr()).Logger()
	return nil
}

func splitHostHeader(v string) (string, int) {
	v = strings.TrimSpace(v)
	host, port, err := net.SplitHostPort(v)
	if err != nil {
		return strings.TrimSuffix(strings.TrimPrefix(v, "["), "]"), 0
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		n = 0
	}
	return host, n
}

func (pc *proxyConn) addr() string {
	return net.JoinHostPort(pc.host, strconv.Itoa(pc.port))
}

func (pc *proxyConn) authenticate() error {
	if !pc.req.Header.Has("proxy-authorization") {
		return fmt.Errorf("%w: no credentials", ErrAuth)
	}
	creds, err := auth.ParseBasic(pc.req.Header.Get("proxy-authorization"))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuth, err)
	}
	if !pc.cfg.Authenticate(creds.Name, creds.Pass) {
		return fmt.Errorf("%w: user %q rejected", ErrAuth, creds.Name)
	}
	return nil
}

func (pc *proxyConn) dial(ctx context.Context) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, pc.cfg.UpstreamTimeout)
	defer cancel()

	addr := pc.addr()
	up, err := pc.cfg.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &UpstreamConnectError{Addr: addr, Err: err}
	}
	return up, nil
}

func (pc *proxyConn) relayTunnel(ctx context.Context, upstream net.Conn) error {
	if err := pc.writeResponse([]byte(tunnelEstablishedResponse)); err != nil {
		return err
	}
	// Bytes the client pipelined behind the CONNECT head belong upstream.
	if pc.req.Body != "" {
		if _, err := io.WriteString(upstream, pc.req.Body); err != nil {
			return &SocketError{Op: "upstream write", Err: err}
		}
	}
	return CopyBidirectional(ctx, pc.client, upstream, nil)
}

func (pc *proxyConn) relayPlain(ctx context.Context, upstream net.Conn) error {
	out := pc.req.Clone()
	out.Header.Del("proxy-authorization")
	if _, err := upstream.Write(out.Bytes()); err != nil {
		return &SocketError{Op: "upstream write", Err: err}
	}

	rec := &cacheRecorder{cache: pc.srv.cache, key: pc.host, max: pc.cfg.MaxCacheEntryBytes}
	return CopyBidirectional(ctx, pc.client, upstream, rec)
}

func (pc *proxyConn) writeResponse(b []byte) error {
	_ = pc.client.SetWriteDeadline(time.Now().Add(pc.cfg.NegotiationTimeout))
	defer func() { _ = pc.client.SetWriteDeadline(time.Time{}) }()

	if _, err := pc.client.Write(b); err != nil {
		return &SocketError{Op: "write response", Err: err}
	}
	return nil
}

// reject writes a terminal response and lets the client read it before the
// connection is closed.
func (pc *proxyConn) reject(resp string) error {
	err := pc.writeResponse([]byte(resp))
	pc.linger()
	return err
}

// linger half-closes the client and drains what it still sends, so closing
// with unread input doesn't reset the connection under the response.
func (pc *proxyConn) linger() {
	tc, ok := pc.client.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tc.CloseWrite(); err != nil {
		return
	}
	_ = tc.SetReadDeadline(time.Now().Add(lingerTimeout))
	_, _ = io.Copy(io.Discard, io.LimitReader(tc, lingerBytes))
}

// cacheRecorder accumulates one upstream response and stores it under key
// after every chunk. A response that outgrows max is dropped from the cache
// rather than stored truncated.
type cacheRecorder struct {
	cache *cache.Cache
	key   string
	max   int
	buf   []byte
	over  bool
}

func (r *cacheRecorder) Write(p []byte) (int, error) {
	if r.over {
		return len(p), nil
	}
	if len(r.buf)+len(p) > r.max {
		r.over = true
		if len(r.buf) > 0 {
			r.cache.Remove(r.key)
		}
		r.buf = nil
		return len(p), nil
	}
	r.buf = append(r.buf, p...)
	r.cache.Set(r.key, r.buf)
	return len(p), nil
}
