// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/bassosimone/linepump/errkind"
	"github.com/bassosimone/safeconn"
	"github.com/cenkalti/backoff/v4"
)

var (
	// ErrNoActiveConnection is returned by [*Server.Send] when no client
	// is connected.
	ErrNoActiveConnection = errors.New("no active connection")

	// ErrServerClosed is returned by [*Server.Send] after [*Server.Close].
	ErrServerClosed = errors.New("server closed")
)

// NewServerFunc returns a new [*ServerFunc].
//
// The cfg argument contains the common configuration for linepump operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewServerFunc(cfg *Config, logger SLogger) *ServerFunc {
	return &ServerFunc{
		AcceptBackOff: cfg.AcceptBackOff,
		ErrClassifier: cfg.ErrClassifier,
		Logger:        logger,
		Metrics:       cfg.Metrics,
		ObserveConn:   NewObserveConnFunc(cfg, logger),
		Pump:          NewPumpFunc(cfg, logger),
		TimeNow:       cfg.TimeNow,
	}
}

// ServerFunc turns a [net.Listener] into a running [*Server].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call].
type ServerFunc struct {
	// AcceptBackOff returns the retry policy for failed accepts.
	//
	// Set by [NewServerFunc] from [Config.AcceptBackOff].
	AcceptBackOff func() backoff.BackOff

	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewServerFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewServerFunc] to the user-provided logger.
	Logger SLogger

	// Metrics receives accept counters (may be nil).
	//
	// Set by [NewServerFunc] from [Config.Metrics].
	Metrics *Metrics

	// ObserveConn wraps each accepted connection before pumping it.
	//
	// Set by [NewServerFunc] using [NewObserveConnFunc].
	ObserveConn Func[net.Conn, net.Conn]

	// Pump starts the pump for each admitted connection.
	//
	// Set by [NewServerFunc] using [NewPumpFunc].
	Pump *PumpFunc

	// TimeNow is the function to get the current time.
	//
	// Set by [NewServerFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Listener, *Server] = &ServerFunc{}

// Call starts a [*Server] owning ln. It never fails.
//
// Like [*PumpFunc.Call], the server keeps using ctx after Call returns:
// pumps are cancelled when ctx is done and accepting stops.
func (op *ServerFunc) Call(ctx context.Context, ln net.Listener) (*Server, error) {
	return op.Start(ctx, ln), nil
}

// NewServer is a shortcut for NewServerFunc(cfg, logger).Start(ctx, ln).
func NewServer(ctx context.Context, cfg *Config, ln net.Listener, logger SLogger) *Server {
	return NewServerFunc(cfg, logger).Start(ctx, ln)
}

// Server serves at most one client at a time over a listener.
//
// A background goroutine accepts exactly one connection per free slot.
// While a client is being served no Accept is in progress, so further
// clients wait in the kernel backlog until the current one goes away.
// The owner drives the server by polling [*Server.Recv], which also
// adopts newly accepted clients and releases finished ones.
//
// All methods are safe to call from multiple goroutines.
type Server struct {
	acceptDone chan struct{}
	accepted   chan net.Conn
	admit      chan struct{}
	cancel     context.CancelFunc
	closeErr   error
	closeOnce  sync.Once
	ctx        context.Context
	listener   net.Listener
	op         *ServerFunc

	// lnCloseOnce closes the listener exactly once, either from Close or
	// when ctx is done, and lnCloseErr records the result.
	lnCloseOnce sync.Once
	lnCloseErr  error

	// mu protects closed and pump.
	mu     sync.Mutex
	closed bool
	pump   *Pump
}

// Start starts a [*Server] owning ln.
func (op *ServerFunc) Start(ctx context.Context, ln net.Listener) *Server {
	ctx, cancel := context.WithCancel(ctx)
	s := &Server{
		acceptDone: make(chan struct{}),
		accepted:   make(chan net.Conn, 1),
		admit:      make(chan struct{}, 1),
		cancel:     cancel,
		ctx:        ctx,
		listener:   ln,
		op:         op,
	}
	s.admit <- struct{}{}

	// Accept does not watch ctx, so closing the listener is what unblocks it.
	context.AfterFunc(ctx, func() { s.closeListener() })
	go s.acceptLoop()
	return s
}

func (s *Server) closeListener() error {
	s.lnCloseOnce.Do(func() {
		s.lnCloseErr = s.listener.Close()
	})
	return s.lnCloseErr
}

// Addr returns the listener address.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Listening reports whether the server may still accept clients. It
// turns false once the listener is closed or the context is done.
func (s *Server) Listening() bool {
	select {
	case <-s.acceptDone:
		return false
	default:
		return true
	}
}

// Connected reports whether a client is currently being served.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pump != nil && !s.pump.Finished()
}

// Recv returns the next line from the current client, or false if
// there is none. It never blocks.
//
// When no client is being served, Recv adopts a connection accepted in
// the background, if any, and returns false. When the current client
// has gone away and all its lines have been received, Recv releases it,
// lets the next client in, and returns false.
func (s *Server) Recv() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", false
	}

	if s.pump != nil {
		// Check before draining so that no line framed in between is lost.
		finished := s.pump.Finished()
		if line, ok := s.pump.Recv(); ok {
			return line, true
		}
		if finished {
			s.pump.Stop()
			s.pump = nil
			s.grant()
		}
		return "", false
	}

	select {
	case conn := <-s.accepted:
		s.pump = s.adopt(conn)
	default:
	}
	return "", false
}

// adopt wraps conn and starts its pump.
func (s *Server) adopt(conn net.Conn) *Pump {
	observed, err := s.op.ObserveConn.Call(s.ctx, conn)
	if err != nil {
		observed = conn
	}
	return s.op.Pump.Start(s.ctx, observed)
}

// grant lets the accept goroutine accept one more connection.
func (s *Server) grant() {
	select {
	case s.admit <- struct{}{}:
	default:
	}
}

// Send enqueues msg for the current client.
//
// It returns [ErrNoActiveConnection] when no client is being served and
// [ErrServerClosed] after [*Server.Close].
func (s *Server) Send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServerClosed
	}
	if s.pump == nil {
		return ErrNoActiveConnection
	}
	if err := s.pump.Send(msg); err != nil {
		return ErrNoActiveConnection
	}
	return nil
}

// Close closes the listener, stops the current pump, and waits for the
// accept goroutine to exit. Close is idempotent: later calls return the
// result of the first one.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		pump := s.pump
		s.pump = nil
		s.mu.Unlock()

		s.cancel()
		err := s.closeListener()
		<-s.acceptDone
		if pump != nil {
			pump.Stop()
		}
		select {
		case conn := <-s.accepted:
			conn.Close()
		default:
		}
		s.closeErr = err
	})
	return s.closeErr
}

func (s *Server) acceptLoop() {
	defer close(s.acceptDone)
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.admit:
		}

		conn, err := s.acceptWithRetry()
		if err != nil {
			return
		}
		// The channel has room: one admission means one accepted conn.
		s.accepted <- conn
	}
}

// acceptWithRetry accepts one connection, backing off on transient
// errors. It fails only when the listener is closed or ctx is done.
func (s *Server) acceptWithRetry() (net.Conn, error) {
	policy := backoff.WithContext(s.op.AcceptBackOff(), s.ctx)
	return backoff.RetryNotifyWithData(func() (net.Conn, error) {
		conn, err := s.accept()
		switch {
		case err == nil:
			return conn, nil
		case errkind.IsClosed(err) || s.ctx.Err() != nil:
			return nil, backoff.Permanent(err)
		default:
			s.op.Metrics.acceptFailed()
			return nil, err
		}
	}, policy, func(err error, delay time.Duration) {
		s.op.Logger.Info(
			"acceptRetry",
			slog.Duration("delay", delay),
			slog.Any("err", err),
			slog.String("errClass", s.op.ErrClassifier.Classify(err)),
			slog.String("localAddr", s.listener.Addr().String()),
		)
	})
}

func (s *Server) accept() (net.Conn, error) {
	laddr := s.listener.Addr()
	t0 := s.op.TimeNow()
	s.op.Logger.Info(
		"acceptStart",
		slog.String("localAddr", laddr.String()),
		slog.String("protocol", laddr.Network()),
		slog.Time("t", t0),
	)

	conn, err := s.listener.Accept()
	if err != nil {
		conn = nil
	} else {
		s.op.Metrics.accepted()
	}

	s.op.Logger.Info(
		"acceptDone",
		slog.Any("err", err),
		slog.String("errClass", s.op.ErrClassifier.Classify(err)),
		slog.String("localAddr", laddr.String()),
		slog.String("protocol", laddr.Network()),
		slog.String("remoteAddr", safeconn.RemoteAddr(conn)),
		slog.Time("t0", t0),
		slog.Time("t", s.op.TimeNow()),
	)
	return conn, err
}
