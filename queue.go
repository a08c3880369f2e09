// SPDX-License-Identifier: GPL-3.0-or-later

package linepump

import (
	"sync"

	"github.com/Workiva/go-datastructures/queue"
)

// lineQueue is an unbounded FIFO of strings with a non-blocking pop.
//
// Many goroutines may push. Pops are serialized by mu so that the
// emptiness check and the Get that follows it are atomic.
type lineQueue struct {
	mu sync.Mutex
	q  *queue.Queue
}

// lineQueueHint is the initial capacity hint passed to the queue.
const lineQueueHint = 16

func newLineQueue() *lineQueue {
	return &lineQueue{q: queue.New(lineQueueHint)}
}

// push appends line and returns [queue.ErrDisposed] after dispose.
func (lq *lineQueue) push(line string) error {
	return lq.q.Put(line)
}

// tryPop returns the oldest line, or false if the queue is empty or
// has been disposed. It never blocks.
func (lq *lineQueue) tryPop() (string, bool) {
	lq.mu.Lock()
	defer lq.mu.Unlock()
	if lq.q.Disposed() || lq.q.Empty() {
		return "", false
	}
	items, err := lq.q.Get(1)
	if err != nil || len(items) != 1 {
		return "", false
	}
	line, ok := items[0].(string)
	return line, ok
}

// len returns the number of queued lines.
func (lq *lineQueue) len() int {
	return int(lq.q.Len())
}

// dispose rejects further pushes and drops anything still queued.
func (lq *lineQueue) dispose() {
	lq.q.Dispose()
}
