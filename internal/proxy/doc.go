// Package proxy implements the gatehouse listener-side proxy servers.
//
// It contains the HTTP forward proxy (CONNECT tunnels and plain requests with
// a host-keyed response cache), the SOCKS5 front-end sharing the same access
// policy, and shared connection plumbing such as keepalive listeners and
// bidirectional copy.
package proxy
