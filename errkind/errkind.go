// SPDX-License-Identifier: GPL-3.0-or-later

// Package errkind sorts stream I/O errors into the few kinds that a
// polling reader must tell apart: no data yet, end of stream, the
// handle was closed locally, and everything else.
package errkind

import (
	"errors"
	"io"
	"net"
	"os"
)

// IsWouldBlock reports whether err only means that no data was ready
// before the read deadline. Such errors are retried on the next poll.
func IsWouldBlock(err error) bool {
	return errors.Is(err, os.ErrDeadlineExceeded) ||
		errors.Is(err, errEAGAIN) ||
		errors.Is(err, errEWOULDBLOCK)
}

// IsEOF reports whether err means the peer closed its write half.
func IsEOF(err error) bool {
	return errors.Is(err, io.EOF)
}

// IsClosed reports whether err comes from using a handle after it was
// closed on our side (e.g., a listener closed to stop an Accept).
func IsClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
