package dialer

import (
	"context"
	"errors"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/die-net/gatehouse/internal/testutil"
)

func TestDirectDialer(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	echoLn := testutil.StartEchoTCPServer(t, ctx)
	defer echoLn.Close()

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second})
	c, err := d.DialContext(ctx, "tcp", echoLn.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()

	testutil.AssertEcho(t, c, c, []byte("hello"))
}

func TestDirectDialerRefused(t *testing.T) {
	t.Parallel()

	addr := testutil.ClosedAddr(t)

	d := NewDirectDialer(Config{DialTimeout: 2 * time.Second})
	_, err := d.DialContext(context.Background(), "tcp", addr)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, syscall.ECONNREFUSED) {
		t.Fatalf("expected ECONNREFUSED, got %v", err)
	}
}

func TestDialerFunc(t *testing.T) {
	t.Parallel()

	want := errors.New("nope")
	var got string
	d := DialerFunc(func(_ context.Context, _, address string) (net.Conn, error) {
		got = address
		return nil, want
	})
	if _, err := d.DialContext(context.Background(), "tcp", "example.com:80"); !errors.Is(err, want) {
		t.Fatalf("err = %v", err)
	}
	if got != "example.com:80" {
		t.Fatalf("address = %q", got)
	}
}
