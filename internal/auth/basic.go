// Package auth implements HTTP Basic authentication for the tokenmeter service.
// Credentials are compared in constant time so a mismatch position leaks nothing.
package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"net"
	"net/http"

	core "github.com/tokenwise/tokenmeter/internal"
)

// BasicAuth authenticates requests against a single configured credential pair.
type BasicAuth struct {
	userDigest [sha256.Size]byte
	passDigest [sha256.Size]byte
	disabled   bool
}

// New returns a BasicAuth expecting the given username and password.
// The credentials are stored as SHA-256 digests; comparing digests instead of
// the raw strings keeps the comparison constant-time regardless of length.
func New(username, password string) *BasicAuth {
	return &BasicAuth{
		userDigest: sha256.Sum256([]byte(username)),
		passDigest: sha256.Sum256([]byte(password)),
	}
}

// Disabled returns an authenticator that accepts every request, issuing an
// anonymous identity keyed by the client's remote host. Intended for
// deployments that explicitly turn the gate off.
func Disabled() *BasicAuth {
	return &BasicAuth{disabled: true}
}

// Authenticate verifies the Authorization header. Missing, malformed, and
// incorrect credentials all fail with the identical error; the response never
// reveals which part of the pair was wrong.
func (a *BasicAuth) Authenticate(_ context.Context, r *http.Request) (*core.Identity, error) {
	if a.disabled {
		return &core.Identity{Subject: remoteHost(r), AuthMethod: "anonymous"}, nil
	}

	user, pass, ok := r.BasicAuth()
	if !ok {
		return nil, core.ErrUnauthorized
	}

	userDigest := sha256.Sum256([]byte(user))
	passDigest := sha256.Sum256([]byte(pass))

	// Both comparisons always run; combining with & instead of && avoids a
	// short-circuit that would distinguish a wrong username from a wrong password.
	userOK := subtle.ConstantTimeCompare(userDigest[:], a.userDigest[:])
	passOK := subtle.ConstantTimeCompare(passDigest[:], a.passDigest[:])
	if userOK&passOK != 1 {
		return nil, core.ErrUnauthorized
	}

	return &core.Identity{Subject: user, AuthMethod: "basic"}, nil
}

// remoteHost returns the host portion of the request's remote address,
// falling back to the raw address when it has no port.
func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
