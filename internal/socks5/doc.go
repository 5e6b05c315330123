// Package socks5 holds the SOCKS5 handshake used by the gatehouse SOCKS5
// front-end.
//
// It wraps the low-level protocol types in github.com/txthinking/socks5. The
// server side always requires RFC 1929 username/password authentication and
// checks it with a caller-supplied predicate, mirroring Proxy-Authorization on
// the HTTP side. The client side exists for tests and tooling.
package socks5
