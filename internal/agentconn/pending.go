package agentconn

import "sync"

// pendingQueue buffers encoded frames sent while a connection is not open.
// It is a bounded FIFO: once the limit is reached, pushing a new frame
// displaces the oldest one. The queue is drained exactly once when the
// socket opens; drained frames are not requeued on write failure.
type pendingQueue struct {
	mu      sync.Mutex
	frames  [][]byte
	limit   int
	dropped uint64
}

func newPendingQueue(limit int) *pendingQueue {
	if limit <= 0 {
		limit = 1
	}
	return &pendingQueue{limit: limit}
}

// push appends a frame, displacing the oldest one if the queue is full.
// Returns true if a frame was displaced.
func (q *pendingQueue) push(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	displaced := false
	if len(q.frames) >= q.limit {
		copy(q.frames, q.frames[1:])
		q.frames = q.frames[:len(q.frames)-1]
		q.dropped++
		displaced = true
	}
	q.frames = append(q.frames, data)
	return displaced
}

// drain removes and returns all queued frames in FIFO order.
func (q *pendingQueue) drain() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := q.frames
	q.frames = nil
	return out
}

func (q *pendingQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

func (q *pendingQueue) droppedCount() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
