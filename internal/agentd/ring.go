package agentd

// byteRing keeps the most recent capacity bytes of shell output so a
// reconnecting console can be shown what it missed. Appends past capacity
// drop from the front. Not safe for concurrent use; the owning session's
// mutex guards it.
type byteRing struct {
	buf      []byte
	capacity int
}

func newByteRing(capacity int) *byteRing {
	return &byteRing{capacity: capacity}
}

// append adds chunk, evicting the oldest bytes if needed. A chunk larger
// than the whole ring keeps only its tail.
func (r *byteRing) append(chunk []byte) {
	if len(chunk) >= r.capacity {
		r.buf = append(r.buf[:0], chunk[len(chunk)-r.capacity:]...)
		return
	}
	r.buf = append(r.buf, chunk...)
	if over := len(r.buf) - r.capacity; over > 0 {
		r.buf = append(r.buf[:0], r.buf[over:]...)
	}
}

// snapshot returns a copy of the buffered bytes, oldest first.
func (r *byteRing) snapshot() []byte {
	out := make([]byte, len(r.buf))
	copy(out, r.buf)
	return out
}

func (r *byteRing) size() int {
	return len(r.buf)
}
