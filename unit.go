// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

// Unit carries no value. It is the input of the first [Func] in a
// pipeline, such as the one returned by [NewEndpointFunc].
type Unit struct{}
