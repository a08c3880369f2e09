//go:build !unix && !windows

// SPDX-License-Identifier: GPL-3.0-or-later

package errkind

import "errors"

// These platforms never report would-block errnos from deadline reads.
var (
	errEAGAIN      = errors.New("EAGAIN")
	errEWOULDBLOCK = errEAGAIN
)
