// SPDX-License-Identifier: GPL-3.0-or-later

// Package linepump relays newline-framed text over a single stream
// connection on behalf of a caller that must never block.
//
// # Core Abstraction
//
// Setup steps are expressed as composable operations:
//
//	type Func[A, B any] interface {
//		Call(ctx context.Context, input A) (B, error)
//	}
//
// Each Func has exactly one success mode and one failure mode and can
// be chained with [Compose2], [Compose3], and [Compose4].
//
// # Available Primitives
//
// Connection establishment:
//   - [ParseEndpoint]: turns "unix:/path", "/path", "tcp:host:port", or
//     "host:port" into an [Endpoint]
//   - [ConnectFunc]: dials an [Endpoint] over TCP or a unix domain socket
//   - [ListenFunc]: binds an [Endpoint], removing a stale unix socket file
//   - [ObserveConnFunc]: observes connections for logging I/O operations
//
// Line relaying:
//   - [Pump]: owns one connection and a worker goroutine; the caller
//     enqueues lines with [*Pump.Send] and polls with [*Pump.Recv]
//   - [Server]: serves at most one [Pump] at a time over a listener
//   - [InputPump]: republishes lines from a blocking [LineSource], such
//     as a terminal, on a queue the caller polls
//   - [LineFramer]: splits a byte stream into lines
//
// # Polling Model
//
// The owner runs a single-threaded loop that calls Recv or ReadLine on
// each component, sends replies, and sleeps briefly. None of these calls
// block. Each [Pump] worker waits for inbound data for at most
// [Config.PollInterval], writes at most one queued message per cycle,
// and otherwise never touches the caller's state.
//
// # Connection Lifecycle
//
// A [Pump] OWNS its connection and closes it when the worker exits,
// which happens when the peer closes the stream, on an I/O error, or on
// [*Pump.Stop]. The terminal state is available from [*Pump.State].
// Always stop a pump when done with it, typically with defer.
//
// A [Server] OWNS its listener. It accepts a new connection only once
// the previous pump has finished and its lines have been received, so
// further clients wait in the kernel backlog.
//
// # Observability
//
// All primitives support structured logging via [SLogger] (compatible
// with [log/slog]). By default, logging is disabled.
//
// Span events come in *Start/*Done pairs (connect, listen, accept, pump,
// close) and share the localAddr, remoteAddr, protocol, and t fields.
// Completion events additionally include t0, err, and errClass. Line and
// I/O events are emitted at [slog.LevelDebug]; an I/O error that ends a
// pump is emitted at [slog.LevelError]; everything else uses
// [slog.LevelInfo]. Each pump tags its events with a spanID generated
// by [NewSpanID].
//
// Counters are exported through [Metrics] when [Config.Metrics] is set.
package linepump
