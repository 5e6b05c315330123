package message

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/url"
	"slices"
	"strconv"
	"strings"
)

// ErrEmpty is returned by Parse when there is nothing to parse.
var ErrEmpty = errors.New("empty request")

// ParseError reports a malformed request line or header line.
type ParseError struct {
	Line   int // 1-based; 0 when the error isn't tied to a line
	Reason string
	Text   string
}

func (e *ParseError) Error() string {
	if e.Line == 0 {
		return "parse request: " + e.Reason
	}
	return fmt.Sprintf("parse request: line %d: %s: %q", e.Line, e.Reason, e.Text)
}

// Header holds header fields keyed by lowercase name.
type Header map[string]string

// Get returns the value of name, matched case-insensitively.
func (h Header) Get(name string) string {
	return h[strings.ToLower(name)]
}

// Set stores value under the lowercase form of name.
func (h Header) Set(name, value string) {
	h[strings.ToLower(name)] = value
}

// Del removes name, matched case-insensitively.
func (h Header) Del(name string) {
	delete(h, strings.ToLower(name))
}

// Has reports whether name is present.
func (h Header) Has(name string) bool {
	_, ok := h[strings.ToLower(name)]
	return ok
}

// Clone returns a copy of h.
func (h Header) Clone() Header {
	c := make(Header, len(h))
	for k, v := range h {
		c[k] = v
	}
	return c
}

// Request is a parsed HTTP request head.
//
// Host and Port come from the request target. Port is 0 when the target
// carries no port; callers pick the default. Scheme and Path are set only for
// absolute-form ("http://host/path") and origin-form ("/path") targets.
type Request struct {
	Method string
	Scheme string
	Host   string
	Port   int
	Path   string
	Proto  string
	Header Header
	Body   string
}

// Parse parses raw as a request line, header block and optional body.
func Parse(raw []byte) (*Request, error) {
	if len(raw) == 0 {
		return nil, ErrEmpty
	}

	head, body := splitHead(raw)
	lines := strings.Split(head, "\n")

	requestLine := strings.TrimSpace(lines[0])
	if requestLine == "" {
		return nil, ErrEmpty
	}
	fields := strings.Fields(requestLine)
	if len(fields) != 3 {
		return nil, &ParseError{Line: 1, Reason: "malformed request line", Text: requestLine}
	}

	r := &Request{
		Method: fields[0],
		Proto:  fields[2],
		Header: make(Header),
		Body:   body,
	}
	if err := r.parseTarget(fields[1]); err != nil {
		return nil, &ParseError{Line: 1, Reason: err.Error(), Text: fields[1]}
	}

	for i, line := range lines[1:] {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			break
		}
		name, value, ok := strings.Cut(line, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, &ParseError{Line: i + 2, Reason: "malformed header", Text: line}
		}
		r.Header.Set(name, strings.TrimSpace(value))
	}

	return r, nil
}

// splitHead separates the header block from the body at the first blank
// line. Bare LF line endings are tolerated.
func splitHead(raw []byte) (string, string) {
	at, n := -1, 0
	for _, sep := range []string{"\r\n\r\n", "\n\r\n", "\n\n"} {
		if i := bytes.Index(raw, []byte(sep)); i >= 0 && (at < 0 || i < at) {
			at, n = i, len(sep)
		}
	}
	if at < 0 {
		return string(raw), ""
	}
	return string(raw[:at]), string(raw[at+n:])
}

func (r *Request) parseTarget(target string) error {
	switch {
	case strings.Contains(target, "://"):
		u, err := url.Parse(target)
		if err != nil {
			return fmt.Errorf("invalid target: %w", err)
		}
		if u.Hostname() == "" {
			return errors.New("missing host in target")
		}
		r.Scheme = strings.ToLower(u.Scheme)
		r.Host = u.Hostname()
		r.Path = u.RequestURI()
		return r.setPort(u.Port())
	case strings.HasPrefix(target, "/"):
		r.Path = target
		return nil
	}

	host, port, err := net.SplitHostPort(target)
	if err != nil {
		// No port; the whole target is the host.
		r.Host = strings.TrimSuffix(strings.TrimPrefix(target, "["), "]")
		return nil
	}
	r.Host = host
	return r.setPort(port)
}

func (r *Request) setPort(port string) error {
	if port == "" {
		return nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	r.Port = n
	return nil
}

// Authority returns host[:port] for the request target, without a port when
// none was given.
func (r *Request) Authority() string {
	if r.Port == 0 {
		if strings.Contains(r.Host, ":") {
			return "[" + r.Host + "]"
		}
		return r.Host
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(r.Port))
}

// Target rebuilds the request target in the form it was parsed from.
func (r *Request) Target() string {
	switch {
	case r.Path == "":
		return r.Authority()
	case r.Host == "":
		return r.Path
	}
	scheme := r.Scheme
	if scheme == "" {
		scheme = "http"
	}
	return scheme + "://" + r.Authority() + r.Path
}

// Bytes serializes r as a request line, one header per line, a blank line and
// the body. Headers are written in name order.
func (r *Request) Bytes() []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s %s %s\r\n", r.Method, r.Target(), r.Proto)

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(&b, "%s: %s\r\n", name, r.Header[name])
	}

	b.WriteString("\r\n")
	b.WriteString(r.Body)
	return b.Bytes()
}

// Clone returns a deep copy of r.
func (r *Request) Clone() *Request {
	c := *r
	c.Header = r.Header.Clone()
	return &c
}
