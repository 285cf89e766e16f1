package agentd

import (
	"bytes"
	"testing"
)

func TestByteRing_KeepsEverythingUnderCapacity(t *testing.T) {
	r := newByteRing(16)
	r.append([]byte("hello "))
	r.append([]byte("world"))

	if got := string(r.snapshot()); got != "hello world" {
		t.Fatalf("snapshot = %q, want %q", got, "hello world")
	}
	if r.size() != 11 {
		t.Fatalf("size = %d, want 11", r.size())
	}
}

func TestByteRing_EvictsOldestWhenOver(t *testing.T) {
	r := newByteRing(8)
	r.append([]byte("abcdef"))
	r.append([]byte("ghij"))

	if got := string(r.snapshot()); got != "cdefghij" {
		t.Fatalf("snapshot = %q, want %q", got, "cdefghij")
	}
	if r.size() != 8 {
		t.Fatalf("size = %d, want 8", r.size())
	}
}

func TestByteRing_OversizedChunkKeepsTail(t *testing.T) {
	r := newByteRing(4)
	r.append([]byte("abcdefgh"))

	if got := string(r.snapshot()); got != "efgh" {
		t.Fatalf("snapshot = %q, want %q", got, "efgh")
	}

	// A chunk exactly at capacity replaces the whole ring.
	r.append([]byte("wxyz"))
	if got := string(r.snapshot()); got != "wxyz" {
		t.Fatalf("snapshot = %q, want %q", got, "wxyz")
	}
}

func TestByteRing_SnapshotIsACopy(t *testing.T) {
	r := newByteRing(8)
	r.append([]byte("data"))

	snap := r.snapshot()
	snap[0] = 'X'

	if !bytes.Equal(r.snapshot(), []byte("data")) {
		t.Fatalf("mutating a snapshot changed the ring: %q", r.snapshot())
	}
}

func TestByteRing_EmptySnapshot(t *testing.T) {
	r := newByteRing(8)
	if got := r.snapshot(); len(got) != 0 {
		t.Fatalf("empty ring snapshot = %q, want empty", got)
	}
}
