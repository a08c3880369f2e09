// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import "context"

// Func is one step in bringing up a line relay: parsing an endpoint,
// dialing or listening, observing the connection, and finally wrapping
// it into a [*Pump] or a [*Server].
//
// Steps chain with [Compose2], [Compose3], and [Compose4].
//
// When a Func receives a closeable resource and fails, it closes the
// resource before returning, so a failed pipeline leaks nothing.
type Func[A, B any] interface {
	Call(ctx context.Context, input A) (B, error)
}

// FuncAdapter turns a plain function into a [Func].
type FuncAdapter[A, B any] func(ctx context.Context, input A) (B, error)

// Call implements [Func].
func (f FuncAdapter[A, B]) Call(ctx context.Context, input A) (B, error) {
	return f(ctx, input)
}
