// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"time"
)

// NewListenFunc returns a new [*ListenFunc] with default listener.
//
// The cfg argument contains the common configuration for linepump operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewListenFunc(cfg *Config, logger SLogger) *ListenFunc {
	return &ListenFunc{
		ErrClassifier: cfg.ErrClassifier,
		Listener:      cfg.Listener,
		Logger:        logger,
		TimeNow:       cfg.TimeNow,
	}
}

// ListenFunc binds an [Endpoint] and returns the [net.Listener].
//
// For unix endpoints, a socket file left behind by a previous run is
// removed before binding. Regular files and directories at the same
// path are never touched and cause the bind to fail.
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ListenFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewListenFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Listener is the [Listener] to use.
	//
	// Set by [NewListenFunc] from [Config.Listener].
	Listener Listener

	// Logger is the [SLogger] to use.
	//
	// Set by [NewListenFunc] to the user-provided logger.
	Logger SLogger

	// TimeNow is the function to get the current time.
	//
	// Set by [NewListenFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[Endpoint, net.Listener] = &ListenFunc{}

// Call invokes the [*ListenFunc] to listen on the given [Endpoint].
func (op *ListenFunc) Call(ctx context.Context, endpoint Endpoint) (net.Listener, error) {
	t0 := op.TimeNow()
	op.logListenStart(endpoint, t0)
	ln, err := op.listen(ctx, endpoint)
	op.logListenDone(endpoint, t0, ln, err)
	return ln, err
}

func (op *ListenFunc) listen(ctx context.Context, endpoint Endpoint) (net.Listener, error) {
	if endpoint.Network == "unix" {
		if err := removeStaleSocket(endpoint.Address); err != nil {
			return nil, err
		}
	}
	ln, err := op.Listener.Listen(ctx, endpoint.Network, endpoint.Address)
	if err != nil {
		return nil, err
	}
	return ln, nil
}

// removeStaleSocket removes path when it is a unix socket.
func removeStaleSocket(path string) error {
	info, err := os.Lstat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if info.Mode()&fs.ModeSocket == 0 {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (op *ListenFunc) logListenStart(endpoint Endpoint, t0 time.Time) {
	op.Logger.Info(
		"listenStart",
		slog.String("localAddr", endpoint.Address),
		slog.String("protocol", endpoint.Network),
		slog.Time("t", t0),
	)
}

func (op *ListenFunc) logListenDone(endpoint Endpoint, t0 time.Time, ln net.Listener, err error) {
	laddr := endpoint.Address
	if ln != nil {
		laddr = ln.Addr().String()
	}
	op.Logger.Info(
		"listenDone",
		slog.Any("err", err),
		slog.String("errClass", op.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr),
		slog.String("protocol", endpoint.Network),
		slog.Time("t0", t0),
		slog.Time("t", op.TimeNow()),
	)
}
