package agentlogs

// lineRing holds the most recent maxLines lines in arrival order. Appends
// past capacity evict from the front, the way the terminal scrollback buffer
// trims old output. Not safe for concurrent use; the owning stream's mutex
// guards it.
type lineRing struct {
	lines    []Line
	maxLines int
}

// append adds a batch and reports how many old lines were evicted to stay
// within capacity.
func (r *lineRing) append(batch []Line) (evicted int) {
	r.lines = append(r.lines, batch...)
	if len(r.lines) > r.maxLines {
		evicted = len(r.lines) - r.maxLines
		r.lines = r.lines[evicted:]
	}
	return evicted
}

// snapshot returns a copy of the buffer contents, oldest first.
func (r *lineRing) snapshot() []Line {
	out := make([]Line, len(r.lines))
	copy(out, r.lines)
	return out
}

// size returns the number of buffered lines.
func (r *lineRing) size() int {
	return len(r.lines)
}
