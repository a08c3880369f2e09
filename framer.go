// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"bytes"
	"strings"

	"github.com/valyala/bytebufferpool"
)

// LineFramer reassembles newline-terminated lines from arbitrary chunks.
//
// Bytes after the last newline stay buffered until a later [Feed]
// completes them. Output does not depend on how the stream was chunked.
//
// A LineFramer is not safe for concurrent use.
type LineFramer struct {
	buf *bytebufferpool.ByteBuffer
}

// NewLineFramer returns an empty [*LineFramer] backed by a pooled buffer.
//
// Call [*LineFramer.Release] when done to return the buffer to the pool.
func NewLineFramer() *LineFramer {
	return &LineFramer{buf: bytebufferpool.Get()}
}

// Feed appends chunk and returns every line completed by it, in order,
// without the trailing newline. Invalid UTF-8 is replaced with U+FFFD.
//
// Decoding happens per complete line, so a multi-byte character split
// across two chunks decodes correctly.
func (f *LineFramer) Feed(chunk []byte) []string {
	f.buf.Write(chunk)

	var lines []string
	data := f.buf.B
	for {
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, strings.ToValidUTF8(string(data[:idx]), "\uFFFD"))
		data = data[idx+1:]
	}

	// Compact the remainder to the front of the buffer.
	n := copy(f.buf.B, data)
	f.buf.B = f.buf.B[:n]
	return lines
}

// Pending returns the number of buffered bytes not yet part of a line.
func (f *LineFramer) Pending() int {
	return f.buf.Len()
}

// Release returns the buffer to the pool. The framer must not be used
// afterwards. Release is idempotent.
func (f *LineFramer) Release() {
	if f.buf != nil {
		bytebufferpool.Put(f.buf)
		f.buf = nil
	}
}
