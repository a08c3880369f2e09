// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubListener is a [net.Listener] whose Accept is scripted by the test.
type stubListener struct {
	acceptFunc func() (net.Conn, error)
	closeOnce  sync.Once
	closed     chan struct{}
}

func newStubListener(acceptFunc func() (net.Conn, error)) *stubListener {
	return &stubListener{acceptFunc: acceptFunc, closed: make(chan struct{})}
}

func (l *stubListener) Accept() (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, net.ErrClosed
	default:
	}
	return l.acceptFunc()
}

func (l *stubListener) Close() error {
	l.closeOnce.Do(func() { close(l.closed) })
	return nil
}

func (l *stubListener) Addr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 12345}
}

// newTestServer starts a server over a fresh listener for network.
func newTestServer(t *testing.T, cfg *Config, network string) *Server {
	t.Helper()
	srv := NewServer(context.Background(), cfg, newTestListener(t, network), DefaultSLogger())
	t.Cleanup(func() { srv.Close() })
	return srv
}

// dialServer connects a client to srv.
func dialServer(t *testing.T, srv *Server) net.Conn {
	t.Helper()
	conn, err := net.Dial(srv.Addr().Network(), srv.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// waitConnected polls srv until it adopts a client.
func waitConnected(t *testing.T, srv *Server) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, _ = srv.Recv()
		return srv.Connected()
	}, 5*time.Second, time.Millisecond)
}

// NewServerFunc populates all fields from Config and the provided logger.
func TestNewServerFunc(t *testing.T) {
	fn := NewServerFunc(NewConfig(), DefaultSLogger())

	require.NotNil(t, fn)
	assert.NotNil(t, fn.AcceptBackOff)
	assert.NotNil(t, fn.ErrClassifier)
	assert.NotNil(t, fn.Logger)
	assert.NotNil(t, fn.ObserveConn)
	assert.NotNil(t, fn.Pump)
	assert.NotNil(t, fn.TimeNow)
	assert.Nil(t, fn.Metrics)
}

// Without clients, Recv returns nothing and Send fails.
func TestServerWithoutClient(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), "tcp")
	assert.True(t, srv.Listening())

	for range 20 {
		_, ok := srv.Recv()
		assert.False(t, ok)
		time.Sleep(time.Millisecond)
	}
	assert.False(t, srv.Connected())
	assert.ErrorIs(t, srv.Send("nobody"), ErrNoActiveConnection)
}

// A client line reaches Recv and a reply reaches the client.
func TestServerEcho(t *testing.T) {
	for _, network := range testNetworks {
		t.Run(network, func(t *testing.T) {
			srv := newTestServer(t, newTestConfig(), network)
			client := dialServer(t, srv)

			_, err := client.Write([]byte("ping\n"))
			require.NoError(t, err)

			line := eventuallyRecv(t, srv)
			assert.Equal(t, "ping", line)
			require.NoError(t, srv.Send(line))

			assert.Equal(t, "ping\n", readExactly(t, client, len("ping\n")))
		})
	}
}

// A second client is not served until the first one leaves.
func TestServerSingleSlot(t *testing.T) {
	for _, network := range testNetworks {
		t.Run(network, func(t *testing.T) {
			srv := newTestServer(t, newTestConfig(), network)

			first := dialServer(t, srv)
			waitConnected(t, srv)

			second := dialServer(t, srv)
			_, err := second.Write([]byte("from second\n"))
			require.NoError(t, err)

			// The second client waits in the backlog.
			deadline := time.Now().Add(100 * time.Millisecond)
			for time.Now().Before(deadline) {
				line, ok := srv.Recv()
				assert.False(t, ok, "unexpected line %q", line)
				time.Sleep(time.Millisecond)
			}

			_, err = first.Write([]byte("from first\n"))
			require.NoError(t, err)
			assert.Equal(t, "from first", eventuallyRecv(t, srv))

			require.NoError(t, first.Close())
			assert.Equal(t, "from second", eventuallyRecv(t, srv))
			assert.True(t, srv.Connected())
		})
	}
}

// Lines sent right before the client leaves are still received.
func TestServerDrainsDepartingClient(t *testing.T) {
	srv := newTestServer(t, newTestConfig(), "unix")
	client := dialServer(t, srv)
	waitConnected(t, srv)

	_, err := client.Write([]byte("one\ntwo\n"))
	require.NoError(t, err)
	require.NoError(t, client.Close())

	assert.Equal(t, "one", eventuallyRecv(t, srv))
	assert.Equal(t, "two", eventuallyRecv(t, srv))

	require.Eventually(t, func() bool {
		_, _ = srv.Recv()
		return !srv.Connected()
	}, 5*time.Second, time.Millisecond)
	assert.ErrorIs(t, srv.Send("gone"), ErrNoActiveConnection)
}

// Close is idempotent and the server is inert afterwards.
func TestServerClose(t *testing.T) {
	srv := NewServer(context.Background(), newTestConfig(), newTestListener(t, "tcp"), DefaultSLogger())
	client := dialServer(t, srv)
	waitConnected(t, srv)

	require.NoError(t, srv.Close())
	assert.NoError(t, srv.Close())
	assert.False(t, srv.Listening())

	_, ok := srv.Recv()
	assert.False(t, ok)
	assert.False(t, srv.Connected())
	assert.ErrorIs(t, srv.Send("late"), ErrServerClosed)

	// The client observes the connection going away.
	require.NoError(t, client.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, err := client.Read(make([]byte, 1))
	assert.Error(t, err)
}

// Cancelling the construction context stops the current client.
func TestServerContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ctx, newTestConfig(), newTestListener(t, "tcp"), DefaultSLogger())
	defer srv.Close()
	dialServer(t, srv)
	waitConnected(t, srv)

	cancel()

	require.Eventually(t, func() bool {
		_, _ = srv.Recv()
		return !srv.Connected()
	}, 5*time.Second, time.Millisecond)
}

// Cancelling the construction context with no client stops listening,
// and later clients are refused instead of adopted.
func TestServerContextCancelWithoutClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	srv := NewServer(ctx, newTestConfig(), newTestListener(t, "tcp"), DefaultSLogger())
	defer srv.Close()
	require.True(t, srv.Listening())

	cancel()

	require.Eventually(t, func() bool { return !srv.Listening() }, 5*time.Second, time.Millisecond)
	_, err := net.Dial(srv.Addr().Network(), srv.Addr().String())
	assert.Error(t, err)
	_, _ = srv.Recv()
	assert.False(t, srv.Connected())
	assert.NoError(t, srv.Close())
}

// Transient accept errors are retried with backoff.
func TestServerAcceptRetry(t *testing.T) {
	local, remote := newConnPair(t, "tcp")
	var calls atomic.Int32
	ln := newStubListener(func() (net.Conn, error) {
		switch calls.Add(1) {
		case 1, 2:
			return nil, errors.New("too many open files")
		case 3:
			return local, nil
		default:
			// Only one admission is granted while the client is served.
			t.Error("unexpected Accept")
			return nil, net.ErrClosed
		}
	})

	cfg := newTestConfig()
	cfg.AcceptBackOff = func() backoff.BackOff { return backoff.NewConstantBackOff(time.Millisecond) }
	cfg.Metrics = NewMetrics(prometheus.NewRegistry())
	logger, sink := newCapturingLogger()

	srv := NewServer(context.Background(), cfg, ln, logger)
	defer srv.Close()

	_, err := remote.Write([]byte("made it\n"))
	require.NoError(t, err)
	assert.Equal(t, "made it", eventuallyRecv(t, srv))

	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, 2.0, testutil.ToFloat64(cfg.Metrics.acceptErrors))
	assert.Equal(t, 1.0, testutil.ToFloat64(cfg.Metrics.accepts))

	messages := sink.messages()
	assert.Contains(t, messages, "acceptStart")
	assert.Contains(t, messages, "acceptDone")
	assert.Contains(t, messages, "acceptRetry")
}

// A closed listener ends the accept goroutine without retrying.
func TestServerListenerClosedExternally(t *testing.T) {
	ln := newTestListener(t, "tcp")
	srv := NewServer(context.Background(), newTestConfig(), ln, DefaultSLogger())

	require.NoError(t, ln.Close())
	require.Eventually(t, func() bool { return !srv.Listening() }, 5*time.Second, time.Millisecond)
	assert.Error(t, srv.Close())
}

// Recv may be polled concurrently with Send and Close.
func TestServerConcurrentUse(t *testing.T) {
	srv := NewServer(context.Background(), newTestConfig(), newTestListener(t, "unix"), DefaultSLogger())
	client := dialServer(t, srv)
	waitConnected(t, srv)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				_, _ = srv.Recv()
				_ = srv.Send("x")
				_ = srv.Connected()
			}
		}()
	}

	_, _ = client.Write([]byte("hello\n"))
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, srv.Close())
	close(stop)
	wg.Wait()
}
