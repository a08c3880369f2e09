// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"github.com/bassosimone/runtimex"
	"github.com/google/uuid"
)

// NewSpanID returns a UUIDv7 identifying the lifetime of one connection.
//
// [*Pump] and [*Server] attach it to their logger under the spanID key, so
// that every event from connect (or accept) to pumpDone correlates.
//
// This function panics if the system random number generator fails.
func NewSpanID() string {
	return runtimex.PanicOnError1(uuid.NewV7()).String()
}
