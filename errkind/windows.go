//go:build windows

// SPDX-License-Identifier: GPL-3.0-or-later

package errkind

import "golang.org/x/sys/windows"

const (
	errEAGAIN      = windows.WSAEWOULDBLOCK
	errEWOULDBLOCK = windows.WSAEWOULDBLOCK
)
