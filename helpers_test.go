// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bassosimone/netstub"
	"github.com/bassosimone/slogstub"
	"github.com/stretchr/testify/require"
)

// recordSink collects log records emitted from any goroutine.
type recordSink struct {
	mu      sync.Mutex
	records []slog.Record
}

// snapshot returns a copy of the records collected so far.
func (s *recordSink) snapshot() []slog.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]slog.Record(nil), s.records...)
}

// messages returns the message of every record collected so far.
func (s *recordSink) messages() []string {
	var out []string
	for _, r := range s.snapshot() {
		out = append(out, r.Message)
	}
	return out
}

// find returns the first record with the given message.
func (s *recordSink) find(msg string) (slog.Record, bool) {
	for _, r := range s.snapshot() {
		if r.Message == msg {
			return r, true
		}
	}
	return slog.Record{}, false
}

// recordAttr returns the value of the attribute with the given key.
func recordAttr(r slog.Record, key string) (slog.Value, bool) {
	var (
		found bool
		value slog.Value
	)
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			found, value = true, a.Value
			return false
		}
		return true
	})
	return value, found
}

// newCapturingLogger returns a logger that captures all log records into
// the returned sink. The caller can inspect the sink after exercising the
// code under test to verify which events were emitted.
func newCapturingLogger() (*slog.Logger, *recordSink) {
	sink := &recordSink{}
	handler := &slogstub.FuncHandler{
		EnabledFunc: func(ctx context.Context, level slog.Level) bool {
			return true
		},
		HandleFunc: func(ctx context.Context, record slog.Record) error {
			sink.mu.Lock()
			sink.records = append(sink.records, record)
			sink.mu.Unlock()
			return nil
		},
	}
	return slog.New(handler), sink
}

// newMinimalConn returns a [*netstub.FuncConn] with only LocalAddrFunc and
// RemoteAddrFunc set. This is the minimum needed for code that calls
// [safeconn.LocalAddr], [safeconn.RemoteAddr], and [safeconn.Network]
// during construction.
func newMinimalConn() *netstub.FuncConn {
	return &netstub.FuncConn{
		LocalAddrFunc:  func() net.Addr { return &net.TCPAddr{} },
		RemoteAddrFunc: func() net.Addr { return &net.TCPAddr{} },
	}
}

// newIdleConn returns a [*netstub.FuncConn] whose reads always time out
// and whose writes, deadlines, and close succeed. Tests override the
// functions they care about.
func newIdleConn() *netstub.FuncConn {
	conn := newMinimalConn()
	conn.ReadFunc = func(b []byte) (int, error) {
		time.Sleep(time.Millisecond)
		return 0, &net.OpError{Op: "read", Net: "tcp", Err: os.ErrDeadlineExceeded}
	}
	conn.WriteFunc = func(b []byte) (int, error) { return len(b), nil }
	conn.SetReadDeadFunc = func(time.Time) error { return nil }
	conn.SetWriteDeaFunc = func(time.Time) error { return nil }
	conn.CloseFunc = func() error { return nil }
	return conn
}

// newTestConfig returns a [*Config] with a short poll interval.
func newTestConfig() *Config {
	cfg := NewConfig()
	cfg.PollInterval = 5 * time.Millisecond
	return cfg
}

// testNetworks lists the transports every end-to-end test runs against.
var testNetworks = []string{"tcp", "unix"}

// newTestListener listens on a fresh loopback endpoint for network.
func newTestListener(t *testing.T, network string) net.Listener {
	t.Helper()
	address := "127.0.0.1:0"
	if network == "unix" {
		address = filepath.Join(t.TempDir(), "s.sock")
	}
	ln, err := net.Listen(network, address)
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })
	return ln
}

// newConnPair returns two connected ends of a network stream.
func newConnPair(t *testing.T, network string) (local, remote net.Conn) {
	t.Helper()
	ln := newTestListener(t, network)

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			close(accepted)
			return
		}
		accepted <- conn
	}()

	remote, err := net.Dial(network, ln.Addr().String())
	require.NoError(t, err)
	local, ok := <-accepted
	require.True(t, ok, "accept failed")

	t.Cleanup(func() {
		local.Close()
		remote.Close()
	})
	return local, remote
}

// lineReceiver is implemented by [*Pump], [*Server], and [*InputPump] adapters.
type lineReceiver interface {
	Recv() (string, bool)
}

// eventuallyRecv polls r until it yields a line or the timeout expires.
func eventuallyRecv(t *testing.T, r lineReceiver) string {
	t.Helper()
	var line string
	require.Eventually(t, func() bool {
		var ok bool
		line, ok = r.Recv()
		return ok
	}, 5*time.Second, time.Millisecond)
	return line
}

// readExactly reads size bytes from conn, failing after a timeout.
func readExactly(t *testing.T, conn net.Conn, size int) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	buf := make([]byte, size)
	_, err := io.ReadFull(conn, buf)
	require.NoError(t, err)
	return string(buf)
}
