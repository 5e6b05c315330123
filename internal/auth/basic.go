// Package auth parses proxy credentials and checks them against a static
// user table.
package auth

import (
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"strings"
)

var (
	ErrUnsupportedScheme = errors.New("unsupported authorization scheme")
	ErrMalformed         = errors.New("malformed credentials")
)

// Credentials is a username/password pair taken from Proxy-Authorization.
type Credentials struct {
	Name string
	Pass string
}

// ParseBasic parses a "Basic <base64(name:pass)>" header value. The password
// may itself contain colons.
func ParseBasic(value string) (Credentials, error) {
	scheme, encoded, ok := strings.Cut(strings.TrimSpace(value), " ")
	if !ok {
		return Credentials{}, ErrMalformed
	}
	if !strings.EqualFold(scheme, "Basic") {
		return Credentials{}, ErrUnsupportedScheme
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Credentials{}, ErrMalformed
	}

	name, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return Credentials{}, ErrMalformed
	}
	return Credentials{Name: name, Pass: pass}, nil
}

// BasicHeader returns the Proxy-Authorization value for name and pass.
func BasicHeader(name, pass string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(name+":"+pass))
}

// Users is a static name to password table.
type Users map[string]string

// Authenticate reports whether name and pass match an entry. An empty table
// accepts everyone.
func (u Users) Authenticate(name, pass string) bool {
	if len(u) == 0 {
		return true
	}
	want, ok := u[name]
	if !ok {
		// Compare anyway so unknown names take as long as bad passwords.
		want = pass + "x"
	}
	match := subtle.ConstantTimeCompare([]byte(want), []byte(pass)) == 1
	return ok && match
}
