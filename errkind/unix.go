//go:build unix

// SPDX-License-Identifier: GPL-3.0-or-later

package errkind

import "golang.org/x/sys/unix"

const (
	errEAGAIN      = unix.EAGAIN
	errEWOULDBLOCK = unix.EWOULDBLOCK
)
