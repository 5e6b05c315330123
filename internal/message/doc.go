// Package message parses and re-serializes the first HTTP/1.x request head
// seen on a proxied connection.
//
// It is deliberately small: a request line, a flat lowercase header map, and
// whatever body bytes arrived together with the head. Chunked encoding,
// trailers, and repeated header fields are not modeled.
package message
