package message

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		raw  string
		want *Request
	}{
		{
			name: "connect with port",
			raw:  "CONNECT example.com:443 HTTP/1.1\r\nProxy-Authorization: Basic dTpw\r\n\r\n",
			want: &Request{
				Method: "CONNECT",
				Host:   "example.com",
				Port:   443,
				Proto:  "HTTP/1.1",
				Header: Header{"proxy-authorization": "Basic dTpw"},
			},
		},
		{
			name: "authority without port",
			raw:  "GET example.com HTTP/1.1\r\nHost: example.com\r\n\r\n",
			want: &Request{
				Method: "GET",
				Host:   "example.com",
				Proto:  "HTTP/1.1",
				Header: Header{"host": "example.com"},
			},
		},
		{
			name: "absolute form",
			raw:  "GET http://example.com:8080/a/b?c=d HTTP/1.1\r\nHost: example.com:8080\r\n\r\n",
			want: &Request{
				Method: "GET",
				Scheme: "http",
				Host:   "example.com",
				Port:   8080,
				Path:   "/a/b?c=d",
				Proto:  "HTTP/1.1",
				Header: Header{"host": "example.com:8080"},
			},
		},
		{
			name: "origin form",
			raw:  "GET /index.html HTTP/1.0\r\nHost: example.com\r\n\r\n",
			want: &Request{
				Method: "GET",
				Path:   "/index.html",
				Proto:  "HTTP/1.0",
				Header: Header{"host": "example.com"},
			},
		},
		{
			name: "ipv6 authority",
			raw:  "CONNECT [::1]:8443 HTTP/1.1\r\n\r\n",
			want: &Request{
				Method: "CONNECT",
				Host:   "::1",
				Port:   8443,
				Proto:  "HTTP/1.1",
				Header: Header{},
			},
		},
		{
			name: "body and value containing colon",
			raw:  "POST example.com:80 HTTP/1.1\r\nHost: example.com\r\nX-Time: 12:30:00\r\n\r\nhello=world",
			want: &Request{
				Method: "POST",
				Host:   "example.com",
				Port:   80,
				Proto:  "HTTP/1.1",
				Header: Header{"host": "example.com", "x-time": "12:30:00"},
				Body:   "hello=world",
			},
		},
		{
			name: "bare newlines",
			raw:  "GET example.com HTTP/1.1\nHost: example.com\n\nbody",
			want: &Request{
				Method: "GET",
				Host:   "example.com",
				Proto:  "HTTP/1.1",
				Header: Header{"host": "example.com"},
				Body:   "body",
			},
		},
		{
			name: "bare newline head with crlf body",
			raw:  "POST / HTTP/1.1\nHost: a\n\nbody\r\n\r\nmore",
			want: &Request{
				Method: "POST",
				Path:   "/",
				Proto:  "HTTP/1.1",
				Header: Header{"host": "a"},
				Body:   "body\r\n\r\nmore",
			},
		},
		{
			name: "bare newline head with header-like body",
			raw:  "POST / HTTP/1.1\nHost: a\n\nx: y\r\n\r\n",
			want: &Request{
				Method: "POST",
				Path:   "/",
				Proto:  "HTTP/1.1",
				Header: Header{"host": "a"},
				Body:   "x: y\r\n\r\n",
			},
		},
		{
			name: "head without terminator",
			raw:  "GET example.com HTTP/1.1\r\nHost: example.com",
			want: &Request{
				Method: "GET",
				Host:   "example.com",
				Proto:  "HTTP/1.1",
				Header: Header{"host": "example.com"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseErrors(t *testing.T) {
	t.Parallel()

	_, err := Parse(nil)
	require.ErrorIs(t, err, ErrEmpty)

	_, err = Parse([]byte("\r\n\r\n"))
	require.ErrorIs(t, err, ErrEmpty)

	tests := []struct {
		name string
		raw  string
		line int
	}{
		{name: "two fields", raw: "GET example.com\r\n\r\n", line: 1},
		{name: "bad port", raw: "CONNECT example.com:https HTTP/1.1\r\n\r\n", line: 1},
		{name: "port out of range", raw: "CONNECT example.com:70000 HTTP/1.1\r\n\r\n", line: 1},
		{name: "header without colon", raw: "GET example.com HTTP/1.1\r\nHost: a\r\nbogus\r\n\r\n", line: 3},
		{name: "empty header name", raw: "GET example.com HTTP/1.1\r\n: value\r\n\r\n", line: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(tt.raw))
			var pe *ParseError
			require.True(t, errors.As(err, &pe), "got %v", err)
			assert.Equal(t, tt.line, pe.Line)
		})
	}
}

func TestHeaderNamesCaseInsensitive(t *testing.T) {
	t.Parallel()

	upper, err := Parse([]byte("GET example.com HTTP/1.1\r\nHost: example.com\r\n\r\n"))
	require.NoError(t, err)
	lower, err := Parse([]byte("GET example.com HTTP/1.1\r\nhost: example.com\r\n\r\n"))
	require.NoError(t, err)

	assert.Equal(t, upper.Header, lower.Header)
	assert.Equal(t, "example.com", upper.Header.Get("HOST"))
	assert.True(t, lower.Header.Has("Host"))
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	reqs := []*Request{
		{
			Method: "GET",
			Host:   "example.com",
			Port:   80,
			Proto:  "HTTP/1.1",
			Header: Header{"host": "example.com", "accept": "*/*"},
		},
		{
			Method: "POST",
			Host:   "example.com",
			Port:   8080,
			Proto:  "HTTP/1.1",
			Header: Header{"host": "example.com", "content-length": "7"},
			Body:   "a=b&c=d",
		},
		{
			Method: "CONNECT",
			Host:   "2001:db8::1",
			Port:   443,
			Proto:  "HTTP/1.1",
			Header: Header{},
		},
		{
			Method: "GET",
			Scheme: "http",
			Host:   "example.com",
			Path:   "/x?y=z",
			Proto:  "HTTP/1.1",
			Header: Header{"host": "example.com"},
		},
	}

	for _, r := range reqs {
		got, err := Parse(r.Bytes())
		require.NoError(t, err)
		assert.Equal(t, r, got)
	}
}

func TestBytes(t *testing.T) {
	t.Parallel()

	r := &Request{
		Method: "GET",
		Host:   "example.com",
		Port:   80,
		Proto:  "HTTP/1.1",
		Header: Header{"user-agent": "t", "host": "example.com"},
	}
	assert.Equal(t, "GET example.com:80 HTTP/1.1\r\nhost: example.com\r\nuser-agent: t\r\n\r\n", string(r.Bytes()))

	r.Port = 0
	r.Body = "payload"
	assert.Equal(t, "GET example.com HTTP/1.1\r\nhost: example.com\r\nuser-agent: t\r\n\r\npayload", string(r.Bytes()))
}

func TestClone(t *testing.T) {
	t.Parallel()

	r, err := Parse([]byte("GET example.com HTTP/1.1\r\nProxy-Authorization: x\r\n\r\n"))
	require.NoError(t, err)

	c := r.Clone()
	c.Header.Del("proxy-authorization")
	assert.True(t, r.Header.Has("proxy-authorization"))
	assert.False(t, c.Header.Has("proxy-authorization"))
}
