package testutil

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

func StartSingleAcceptServer(t *testing.T, ctx context.Context, handler func(net.Conn)) (net.Listener, func()) {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()

	wait := func() {
		_ = ln.Close()
		wg.Wait()
	}

	return ln, wait
}

// Origin is a minimal HTTP/1.x origin that answers every request with a fixed
// response and closes the connection.
type Origin struct {
	net.Listener

	mu       sync.Mutex
	requests []string
	accepted atomic.Int64
}

// StartOrigin serves response on a loopback port until ctx ends or the
// listener is closed.
func StartOrigin(t *testing.T, ctx context.Context, response string) *Origin {
	t.Helper()

	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	o := &Origin{Listener: ln}

	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			o.accepted.Add(1)
			go o.serve(c, response)
		}
	}()

	return o
}

func (o *Origin) serve(c net.Conn, response string) {
	defer c.Close()

	// Read the head only; the proxy may send any request-target form.
	var head strings.Builder
	br := bufio.NewReader(c)
	for {
		line, err := br.ReadString('\n')
		head.WriteString(line)
		if err != nil {
			return
		}
		if line == "\r\n" || line == "\n" {
			break
		}
	}

	o.mu.Lock()
	o.requests = append(o.requests, head.String())
	o.mu.Unlock()

	_, _ = io.WriteString(c, response)
}

// Accepted returns how many connections the origin has accepted.
func (o *Origin) Accepted() int {
	return int(o.accepted.Load())
}

// Requests returns the raw request heads received so far.
func (o *Origin) Requests() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.requests...)
}
