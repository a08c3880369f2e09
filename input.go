// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"bufio"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
)

// LineSource is a blocking source of interactive lines.
//
// A [*readline.Instance] is a LineSource. Use [NewReaderLineSource]
// for pipes and regular files.
type LineSource interface {
	Readline() (string, error)
}

var _ LineSource = &readline.Instance{}

// NewReaderLineSource returns a [*ReaderLineSource] reading from r.
func NewReaderLineSource(r io.Reader) *ReaderLineSource {
	return &ReaderLineSource{r: bufio.NewReader(r), closer: asCloser(r)}
}

func asCloser(r io.Reader) io.Closer {
	if c, ok := r.(io.Closer); ok {
		return c
	}
	return nil
}

// ReaderLineSource adapts an [io.Reader] to [LineSource].
type ReaderLineSource struct {
	closer io.Closer
	r      *bufio.Reader
}

var _ LineSource = &ReaderLineSource{}

// Readline returns the next line including its newline, if any. A last
// line without newline is returned with a nil error; [io.EOF] follows.
func (s *ReaderLineSource) Readline() (string, error) {
	line, err := s.r.ReadString('\n')
	if line != "" && errors.Is(err, io.EOF) {
		return line, nil
	}
	return line, err
}

// Close closes the underlying reader when it is an [io.Closer].
func (s *ReaderLineSource) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// InputPump republishes lines from a blocking [LineSource] on a queue
// that the owner polls without blocking.
type InputPump struct {
	cancel   context.CancelFunc
	done     chan struct{}
	inbound  *lineQueue
	src      LineSource
	stopOnce sync.Once
}

// NewInputPump starts reading src in the background until it fails, it
// reaches EOF, or ctx is done. Lines are whitespace-trimmed.
func NewInputPump(ctx context.Context, src LineSource, logger SLogger) *InputPump {
	ctx, cancel := context.WithCancel(ctx)
	p := &InputPump{
		cancel:  cancel,
		done:    make(chan struct{}),
		inbound: newLineQueue(),
		src:     src,
	}
	go p.run(ctx, logger)
	return p
}

func (p *InputPump) run(ctx context.Context, logger SLogger) {
	defer close(p.done)
	t0 := time.Now()
	logger.Debug("inputStart", slog.Time("t", t0))

	var err error
	for ctx.Err() == nil {
		var line string
		if line, err = p.src.Readline(); err != nil {
			break
		}
		if ctx.Err() != nil {
			break
		}
		_ = p.inbound.push(strings.TrimSpace(line))
	}

	if errors.Is(err, io.EOF) {
		err = nil
	}
	logger.Debug(
		"inputDone",
		slog.Any("err", err),
		slog.Time("t0", t0),
		slog.Time("t", time.Now()),
	)
}

// ReadLine returns the next input line, or false if none is queued. It
// never blocks. Lines read before the source ended remain available.
func (p *InputPump) ReadLine() (string, bool) {
	return p.inbound.tryPop()
}

// Done returns a channel closed when the background reader exits.
func (p *InputPump) Done() <-chan struct{} {
	return p.done
}

// Finished reports whether the background reader has exited.
func (p *InputPump) Finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Stop cancels the reader and closes the source if it is an [io.Closer].
//
// Stop does not wait: a source that cannot be interrupted keeps its
// goroutine blocked until the next line arrives, which is then dropped.
func (p *InputPump) Stop() {
	p.stopOnce.Do(func() {
		p.cancel()
		if c, ok := p.src.(io.Closer); ok {
			_ = c.Close()
		}
	})
}
