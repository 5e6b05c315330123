package socks5

import (
	"errors"
	"fmt"
	"net"
	"slices"

	txsocks5 "github.com/txthinking/socks5"
)

var (
	// ErrNoAcceptableMethod is returned when the client can't do
	// username/password authentication.
	ErrNoAcceptableMethod = errors.New("socks5: client does not offer username/password")

	// ErrAuthFailed is returned when the credentials are rejected.
	ErrAuthFailed = errors.New("socks5: authentication failed")
)

// Authenticator checks a username/password pair.
type Authenticator func(name, pass string) bool

// ServerNegotiate performs method selection and RFC 1929 authentication. It
// returns the authenticated username.
func ServerNegotiate(conn net.Conn, authenticate Authenticator) (string, error) {
	neg, err := txsocks5.NewNegotiationRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("negotiation request: %w", err)
	}

	if !slices.Contains(neg.Methods, txsocks5.MethodUsernamePassword) {
		writeNoAcceptableMethods(conn)
		return "", ErrNoAcceptableMethod
	}
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodUsernamePassword).WriteTo(conn); err != nil {
		return "", fmt.Errorf("negotiation reply: %w", err)
	}

	urq, err := txsocks5.NewUserPassNegotiationRequestFrom(conn)
	if err != nil {
		return "", fmt.Errorf("read userpass: %w", err)
	}
	name := string(urq.Uname)
	if authenticate != nil && !authenticate(name, string(urq.Passwd)) {
		_, _ = txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusFailure).WriteTo(conn)
		return name, fmt.Errorf("%w: user %q", ErrAuthFailed, name)
	}
	if _, err := txsocks5.NewUserPassNegotiationReply(txsocks5.UserPassStatusSuccess).WriteTo(conn); err != nil {
		return name, fmt.Errorf("write userpass: %w", err)
	}
	return name, nil
}

// ServerReadRequest reads the client's command request.
func ServerReadRequest(conn net.Conn) (*txsocks5.Request, error) {
	req, err := txsocks5.NewRequestFrom(conn)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	return req, nil
}

// SplitRequestAddress returns the destination host and port of req.
func SplitRequestAddress(req *txsocks5.Request) (string, string, error) {
	host, port, err := net.SplitHostPort(req.Address())
	if err != nil {
		return "", "", fmt.Errorf("request address: %w", err)
	}
	return host, port, nil
}
