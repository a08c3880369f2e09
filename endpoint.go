// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

// Endpoint names either a TCP address or a unix domain socket path.
type Endpoint struct {
	// Network is either "tcp" or "unix".
	Network string

	// Address is "host:port" for tcp and a filesystem path for unix.
	Address string
}

// String returns the endpoint in the form accepted by [ParseEndpoint].
func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}

// ErrInvalidEndpoint indicates that [ParseEndpoint] could not make
// sense of its input.
var ErrInvalidEndpoint = errors.New("invalid endpoint")

// ParseEndpoint parses an address or path string into an [Endpoint].
//
// Accepted forms:
//   - "unix:/tmp/echo.sock" or any string containing a slash: unix socket
//   - "tcp:127.0.0.1:12345" or "127.0.0.1:12345": TCP
func ParseEndpoint(s string) (Endpoint, error) {
	switch {
	case strings.HasPrefix(s, "unix:"):
		return newUnixEndpoint(s, strings.TrimPrefix(s, "unix:"))
	case strings.HasPrefix(s, "tcp:"):
		return newTCPEndpoint(s, strings.TrimPrefix(s, "tcp:"))
	case strings.Contains(s, "/"):
		return newUnixEndpoint(s, s)
	default:
		return newTCPEndpoint(s, s)
	}
}

func newUnixEndpoint(orig, path string) (Endpoint, error) {
	if path == "" {
		return Endpoint{}, fmt.Errorf("%w: %q: empty socket path", ErrInvalidEndpoint, orig)
	}
	return Endpoint{Network: "unix", Address: path}, nil
}

func newTCPEndpoint(orig, address string) (Endpoint, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		return Endpoint{}, fmt.Errorf("%w: %q: %w", ErrInvalidEndpoint, orig, err)
	}
	return Endpoint{Network: "tcp", Address: address}, nil
}

// NewEndpointFunc returns a [Func] that always returns the given [Endpoint].
func NewEndpointFunc(endpoint Endpoint) Func[Unit, Endpoint] {
	return FuncAdapter[Unit, Endpoint](func(ctx context.Context, _ Unit) (Endpoint, error) {
		return endpoint, nil
	})
}
