// Package dialer opens the upstream leg of a proxied connection.
//
// Every dial is bounded by the configured timeout; the proxy treats a timeout
// the same as a refused connection.
package dialer
