// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/bassosimone/linepump/errkind"
	"github.com/bassosimone/safeconn"
)

// Conn is the capability set a transport must offer to be pumped.
//
// Read deadlines stand in for non-blocking mode: the worker arms a
// deadline one poll interval ahead and treats its expiry as "no data
// yet". Write deadlines are only used to abort a stuck write on stop.
//
// Both [*net.TCPConn] and [*net.UnixConn] satisfy Conn, and so does
// any [net.Conn].
type Conn interface {
	io.Reader
	io.Writer
	io.Closer
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

var (
	_ Conn = &net.TCPConn{}
	_ Conn = &net.UnixConn{}
)

// PumpState is the lifecycle state of a [*Pump].
//
// A pump starts in [PumpRunning] and moves exactly once into one of the
// terminal states. There is no restart.
type PumpState int

const (
	// PumpRunning means the worker goroutine is still alive.
	PumpRunning PumpState = iota

	// PumpClosed means the peer closed the stream.
	PumpClosed

	// PumpCancelled means [*Pump.Stop] was called or the context
	// passed at construction was done.
	PumpCancelled

	// PumpFailed means a read or write failed. See [*Pump.Err].
	PumpFailed
)

// String implements [fmt.Stringer].
func (s PumpState) String() string {
	switch s {
	case PumpRunning:
		return "running"
	case PumpClosed:
		return "closed"
	case PumpCancelled:
		return "cancelled"
	case PumpFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrPumpFinished is returned by [*Pump.Send] once the worker has exited.
var ErrPumpFinished = errors.New("pump finished")

// NewPumpFunc returns a new [*PumpFunc].
//
// The cfg argument contains the common configuration for linepump operations.
//
// The logger argument is the [SLogger] to use for structured logging.
func NewPumpFunc(cfg *Config, logger SLogger) *PumpFunc {
	return &PumpFunc{
		ErrClassifier:  cfg.ErrClassifier,
		Logger:         logger,
		Metrics:        cfg.Metrics,
		PollInterval:   cfg.PollInterval,
		ReadBufferSize: cfg.ReadBufferSize,
		TimeNow:        cfg.TimeNow,
	}
}

// PumpFunc wraps a connection into a running [*Pump].
//
// All fields are safe to modify after construction but before first use.
// Fields must not be mutated concurrently with calls to [Call] or [Start].
type PumpFunc struct {
	// ErrClassifier classifies errors for structured logging.
	//
	// Set by [NewPumpFunc] from [Config.ErrClassifier].
	ErrClassifier ErrClassifier

	// Logger is the [SLogger] to use.
	//
	// Set by [NewPumpFunc] to the user-provided logger.
	Logger SLogger

	// Metrics receives line and lifecycle counters (may be nil).
	//
	// Set by [NewPumpFunc] from [Config.Metrics].
	Metrics *Metrics

	// PollInterval bounds each wait for inbound data.
	//
	// Set by [NewPumpFunc] from [Config.PollInterval].
	PollInterval time.Duration

	// ReadBufferSize is the size of the read scratch buffer.
	//
	// Set by [NewPumpFunc] from [Config.ReadBufferSize].
	ReadBufferSize int

	// TimeNow is the function to get the current time.
	//
	// Set by [NewPumpFunc] from [Config.TimeNow].
	TimeNow func() time.Time
}

var _ Func[net.Conn, *Pump] = &PumpFunc{}

// Call starts a [*Pump] owning conn. It never fails.
//
// Unlike most Func implementations, the pump keeps using ctx after Call
// returns: when ctx is done the pump is cancelled.
func (op *PumpFunc) Call(ctx context.Context, conn net.Conn) (*Pump, error) {
	return op.Start(ctx, conn), nil
}

// NewPump is a shortcut for NewPumpFunc(cfg, logger).Start(ctx, conn).
func NewPump(ctx context.Context, cfg *Config, conn Conn, logger SLogger) *Pump {
	return NewPumpFunc(cfg, logger).Start(ctx, conn)
}

// Pump relays newline-framed text over a [Conn] on behalf of a caller
// that must never block.
//
// The pump owns the connection and runs one worker goroutine. The
// caller enqueues outbound messages with [*Pump.Send] and polls inbound
// lines with [*Pump.Recv]. The worker closes the connection on exit.
//
// Always call [*Pump.Stop] or [*Pump.Close] when done, typically with
// defer. A pump that becomes unreachable without being stopped is
// cancelled by the garbage collector as a last resort.
type Pump struct {
	cancel   context.CancelFunc
	cleanup  runtime.Cleanup
	done     chan struct{}
	inbound  *lineQueue
	outbound *lineQueue
	result   *pumpResult
	stopOnce sync.Once
	wake     *pumpWaker
}

// pumpResult is written by the worker before it closes done.
type pumpResult struct {
	state PumpState
	err   error
}

// Start starts a [*Pump] owning conn. The pump is cancelled when ctx is done.
func (op *PumpFunc) Start(ctx context.Context, conn Conn) *Pump {
	pollInterval := op.PollInterval
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	bufferSize := op.ReadBufferSize
	if bufferSize <= 0 {
		bufferSize = DefaultReadBufferSize
	}

	workerCtx, cancel := context.WithCancel(ctx)
	laddr, raddr, protocol := connAddrs(conn)
	w := &pumpWorker{
		bufferSize:    bufferSize,
		conn:          conn,
		done:          make(chan struct{}),
		errClassifier: op.ErrClassifier,
		framer:        NewLineFramer(),
		inbound:       newLineQueue(),
		laddr:         laddr,
		logger:        op.Logger,
		metrics:       op.Metrics,
		outbound:      newLineQueue(),
		pollInterval:  pollInterval,
		protocol:      protocol,
		raddr:         raddr,
		result:        &pumpResult{state: PumpRunning},
		spanID:        NewSpanID(),
		timeNow:       op.TimeNow,
		wake:          &pumpWaker{conn: conn},
	}

	p := &Pump{
		cancel:   cancel,
		done:     w.done,
		inbound:  w.inbound,
		outbound: w.outbound,
		result:   w.result,
		wake:     w.wake,
	}
	p.cleanup = runtime.AddCleanup(p, func(cancel context.CancelFunc) { cancel() }, cancel)

	// The worker must not reference p, otherwise p never becomes unreachable.
	stopWaking := context.AfterFunc(workerCtx, w.wake.abort)
	op.Metrics.pumpStarted()
	go w.run(workerCtx, stopWaking)
	return p
}

// Send enqueues msg for transmission, appending a newline if missing.
//
// Send never blocks: the outbound queue is unbounded and the worker
// writes at most one message per poll cycle, in enqueue order. It
// returns [ErrPumpFinished] once the worker has exited. A message
// accepted while the worker is exiting may still be discarded.
func (p *Pump) Send(msg string) error {
	if !strings.HasSuffix(msg, "\n") {
		msg += "\n"
	}
	if p.Finished() {
		return ErrPumpFinished
	}
	if err := p.outbound.push(msg); err != nil {
		return ErrPumpFinished
	}
	p.wake.nudge()
	return nil
}

// Recv returns the next inbound line without its newline, or false if
// none is queued. It never blocks.
//
// Lines framed before the worker exited remain available to Recv.
func (p *Pump) Recv() (string, bool) {
	return p.inbound.tryPop()
}

// Stop cancels the worker and waits for it to exit. Once Stop returns
// the connection is closed and no longer touched.
//
// Stop is idempotent and safe to call from multiple goroutines.
func (p *Pump) Stop() {
	p.stopOnce.Do(func() {
		p.cleanup.Stop()
		p.cancel()
	})
	<-p.done
}

// Close implements [io.Closer] by calling [*Pump.Stop]. It returns nil.
func (p *Pump) Close() error {
	p.Stop()
	return nil
}

// Finished reports whether the worker has exited. It never blocks.
func (p *Pump) Finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the worker exits.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// State returns [PumpRunning] or the terminal state reached.
func (p *Pump) State() PumpState {
	if !p.Finished() {
		return PumpRunning
	}
	return p.result.state
}

// Err returns the I/O error that ended the pump, if the state is
// [PumpFailed], and nil otherwise.
func (p *Pump) Err() error {
	if !p.Finished() {
		return nil
	}
	return p.result.err
}

// pumpWaker interrupts a read blocked on its deadline. After shutdown
// it no longer touches the connection.
type pumpWaker struct {
	conn   Conn
	mu     sync.Mutex
	closed bool
}

// nudge expires the pending read so that queued output goes out now.
func (w *pumpWaker) nudge() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		_ = w.conn.SetReadDeadline(time.Now())
	}
}

// abort expires pending reads and writes so the worker sees cancellation.
func (w *pumpWaker) abort() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.closed {
		now := time.Now()
		_ = w.conn.SetReadDeadline(now)
		_ = w.conn.SetWriteDeadline(now)
	}
}

func (w *pumpWaker) shutdown() {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()
}

// pumpWorker is the state owned by the worker goroutine.
type pumpWorker struct {
	bufferSize    int
	conn          Conn
	done          chan struct{}
	errClassifier ErrClassifier
	framer        *LineFramer
	inbound       *lineQueue
	laddr         string
	logger        SLogger
	metrics       *Metrics
	outbound      *lineQueue
	pollInterval  time.Duration
	protocol      string
	raddr         string
	result        *pumpResult
	spanID        string
	timeNow       func() time.Time
	wake          *pumpWaker
}

func (w *pumpWorker) run(ctx context.Context, stopWaking func() bool) {
	t0 := w.timeNow()
	w.logPumpStart(t0)
	state, err := w.loop(ctx)
	w.finish(stopWaking, state, err)
	w.logPumpDone(t0, state, err)
	close(w.done)
}

func (w *pumpWorker) loop(ctx context.Context) (PumpState, error) {
	buf := make([]byte, w.bufferSize)
	for {
		if ctx.Err() != nil {
			return PumpCancelled, nil
		}

		if msg, ok := w.outbound.tryPop(); ok {
			if err := w.writeLine(msg); err != nil {
				return w.failure(ctx, "write", err)
			}
		}

		if err := w.armReadDeadline(); err != nil {
			return w.failure(ctx, "setReadDeadline", err)
		}
		count, err := w.conn.Read(buf)
		if count > 0 {
			w.deliver(buf[:count])
		}
		switch {
		case err == nil && count == 0:
			return PumpClosed, nil
		case err == nil:
			// got data
		case errkind.IsEOF(err):
			return PumpClosed, nil
		case errkind.IsWouldBlock(err):
			// no data yet, or woken up by Send or cancellation
		default:
			return w.failure(ctx, "read", err)
		}
	}
}

// armReadDeadline bounds the next read by the poll interval. A message
// pushed after the deadline is armed nudges the deadline itself, so we only
// need to shorten the wait for output that was already queued.
//
// Deadlines use the wall clock, like the waker. The configured TimeNow
// only stamps log events and may be replaced by callers.
func (w *pumpWorker) armReadDeadline() error {
	now := time.Now()
	if err := w.conn.SetReadDeadline(now.Add(w.pollInterval)); err != nil {
		return err
	}
	if w.outbound.len() > 0 {
		return w.conn.SetReadDeadline(now.Add(min(w.pollInterval, time.Millisecond)))
	}
	return nil
}

// failure maps an I/O error to a terminal state. Errors caused by our
// own cancellation expiring the deadlines count as cancellation.
func (w *pumpWorker) failure(ctx context.Context, op string, err error) (PumpState, error) {
	if ctx.Err() != nil && errkind.IsWouldBlock(err) {
		return PumpCancelled, nil
	}
	w.logger.Error(
		"pumpIOError",
		slog.Any("err", err),
		slog.String("errClass", w.errClassifier.Classify(err)),
		slog.String("ioOperation", op),
		slog.String("localAddr", w.laddr),
		slog.String("protocol", w.protocol),
		slog.String("remoteAddr", w.raddr),
		slog.String("spanID", w.spanID),
		slog.Time("t", w.timeNow()),
	)
	return PumpFailed, err
}

func (w *pumpWorker) writeLine(msg string) error {
	data := []byte(msg)
	for len(data) > 0 {
		count, err := w.conn.Write(data)
		if err != nil {
			return err
		}
		if count <= 0 {
			return io.ErrShortWrite
		}
		data = data[count:]
	}
	w.metrics.addLines(directionOut, 1)
	w.logger.Debug(
		"lineSend",
		slog.String("line", strings.TrimSuffix(msg, "\n")),
		slog.String("spanID", w.spanID),
		slog.Time("t", w.timeNow()),
	)
	return nil
}

func (w *pumpWorker) deliver(chunk []byte) {
	lines := w.framer.Feed(chunk)
	for _, line := range lines {
		// The inbound queue is never disposed, so push cannot fail.
		_ = w.inbound.push(line)
		w.logger.Debug(
			"lineRecv",
			slog.String("line", line),
			slog.String("spanID", w.spanID),
			slog.Time("t", w.timeNow()),
		)
	}
	w.metrics.addLines(directionIn, len(lines))
}

func (w *pumpWorker) finish(stopWaking func() bool, state PumpState, err error) {
	stopWaking()
	w.wake.shutdown()
	_ = w.conn.Close()
	w.outbound.dispose()
	w.result.state = state
	w.result.err = err
	w.metrics.pumpFinished(state)
}

func (w *pumpWorker) logPumpStart(t0 time.Time) {
	w.logger.Info(
		"pumpStart",
		slog.String("localAddr", w.laddr),
		slog.Duration("pollInterval", w.pollInterval),
		slog.String("protocol", w.protocol),
		slog.String("remoteAddr", w.raddr),
		slog.String("spanID", w.spanID),
		slog.Time("t", t0),
	)
}

func (w *pumpWorker) logPumpDone(t0 time.Time, state PumpState, err error) {
	w.logger.Info(
		"pumpDone",
		slog.Any("err", err),
		slog.String("errClass", w.errClassifier.Classify(err)),
		slog.String("localAddr", w.laddr),
		slog.Int("pendingBytes", w.framer.Pending()),
		slog.String("protocol", w.protocol),
		slog.String("remoteAddr", w.raddr),
		slog.String("spanID", w.spanID),
		slog.String("state", state.String()),
		slog.Time("t0", t0),
		slog.Time("t", w.timeNow()),
	)
	w.framer.Release()
}

// connAddrs returns the addresses to log for conn. Transports that are
// not a [net.Conn] log empty strings.
func connAddrs(conn Conn) (laddr, raddr, protocol string) {
	nc, ok := conn.(net.Conn)
	if !ok {
		return "", "", ""
	}
	return safeconn.LocalAddr(nc), safeconn.RemoteAddr(nc), safeconn.Network(nc)
}
