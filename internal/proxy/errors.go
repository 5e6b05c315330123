package proxy

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
)

var (
	// ErrPolicyDenied is returned when the destination is blacklisted.
	ErrPolicyDenied = errors.New("destination denied by policy")

	// ErrAuth is returned when proxy credentials are missing or rejected.
	ErrAuth = errors.New("proxy authentication failed")
)

// UpstreamConnectError reports a failed upstream dial.
type UpstreamConnectError struct {
	Addr string
	Err  error
}

func (e *UpstreamConnectError) Error() string {
	return fmt.Sprintf("upstream connect %s: %v", e.Addr, e.Err)
}

func (e *UpstreamConnectError) Unwrap() error { return e.Err }

// Code returns a short errno-style label for the failure.
func (e *UpstreamConnectError) Code() string {
	var ne net.Error
	switch {
	case errors.Is(e.Err, syscall.ECONNREFUSED):
		return "ECONNREFUSED"
	case errors.Is(e.Err, context.DeadlineExceeded), errors.Is(e.Err, os.ErrDeadlineExceeded),
		errors.As(e.Err, &ne) && ne.Timeout():
		return "ETIMEDOUT"
	case errors.Is(e.Err, syscall.EHOSTUNREACH):
		return "EHOSTUNREACH"
	case errors.Is(e.Err, syscall.ENETUNREACH):
		return "ENETUNREACH"
	default:
		return "EUPSTREAM"
	}
}

// SocketError reports an I/O failure on either leg of a connection.
type SocketError struct {
	Op  string
	Err error
}

func (e *SocketError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *SocketError) Unwrap() error { return e.Err }
