// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Default values used by [NewConfig].
const (
	// DefaultPollInterval is the upper bound on how long a pump worker
	// waits for inbound data before servicing its outbound queue again.
	DefaultPollInterval = 100 * time.Millisecond

	// DefaultReadBufferSize is the size of the scratch buffer each pump
	// worker reads into.
	DefaultReadBufferSize = 2048
)

// Listener abstracts the [*net.ListenConfig] behavior.
type Listener interface {
	Listen(ctx context.Context, network, address string) (net.Listener, error)
}

// Config holds common configuration for linepump operations.
//
// Pass this to constructor functions to pre-wire dependencies.
// All fields have sensible defaults set by [NewConfig].
type Config struct {
	// AcceptBackOff returns the retry policy applied by [*Server] when
	// Accept fails with an error other than the listener being closed.
	//
	// Set by [NewConfig] to an exponential backoff that never gives up.
	AcceptBackOff func() backoff.BackOff

	// Dialer is used by [*ConnectFunc].
	//
	// Set by [NewConfig] to [*net.Dialer].
	Dialer Dialer

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewConfig] to [DefaultErrClassifier].
	ErrClassifier ErrClassifier

	// Listener is used by [*ListenFunc].
	//
	// Set by [NewConfig] to [*net.ListenConfig].
	Listener Listener

	// Metrics collects counters. A nil value disables metrics.
	//
	// Set by [NewConfig] to nil.
	Metrics *Metrics

	// PollInterval bounds both the wait for inbound data and the latency
	// of outbound messages and cancellation. Smaller values cost CPU.
	//
	// Set by [NewConfig] to [DefaultPollInterval].
	PollInterval time.Duration

	// ReadBufferSize is the size of the per-pump read scratch buffer.
	//
	// Set by [NewConfig] to [DefaultReadBufferSize].
	ReadBufferSize int

	// TimeNow returns the current time.
	//
	// Set by [NewConfig] to [time.Now].
	TimeNow func() time.Time
}

// NewConfig creates a [*Config] with sensible defaults.
func NewConfig() *Config {
	return &Config{
		AcceptBackOff:  newAcceptBackOff,
		Dialer:         &net.Dialer{},
		ErrClassifier:  DefaultErrClassifier,
		Listener:       &net.ListenConfig{},
		Metrics:        nil,
		PollInterval:   DefaultPollInterval,
		ReadBufferSize: DefaultReadBufferSize,
		TimeNow:        time.Now,
	}
}

func newAcceptBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = time.Second
	b.MaxElapsedTime = 0
	return b
}
