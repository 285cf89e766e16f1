// Package agentlogs streams container logs from remote agents into bounded,
// render-friendly buffers.
//
// A [Stream] is one log tail: the console sends docker_logs_stream
// start/stop commands over the per-server WebSocket and the agent answers
// with data and end frames. Inbound chunks are split into lines, classified
// (see [DetectLevel]) and parked in a per-stream pending queue. One shared
// timer flushes every stream's pending lines into its buffer together, so a
// chatty container costs one UI update per flush interval instead of one per
// line. Buffers hold the most recent lines only; old lines are evicted once
// the cap is reached.
//
// Stream ids are client-generated UUIDs and are never reused: an ended
// stream stays registered (state Ended) until explicitly removed, so data
// frames that race with the end notice hit the state check and are dropped.
package agentlogs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
	"github.com/EnderKC/BetterMonitor-sub000/internal/schedule"
)

// StreamState is the lifecycle state of one log stream.
type StreamState int

const (
	// StreamStarting means the start command is sent but no data has
	// arrived yet.
	StreamStarting StreamState = iota
	// StreamStreaming means at least one data chunk has arrived.
	StreamStreaming
	// StreamEnded is terminal. Ended stream ids are never reused.
	StreamEnded
)

// String returns the state name for logs and listings.
func (s StreamState) String() string {
	switch s {
	case StreamStarting:
		return "starting"
	case StreamStreaming:
		return "streaming"
	case StreamEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// scrollThreshold is how close to the bottom, in pixels, the viewport must be
// for auto-scroll to stay engaged.
const scrollThreshold = 50.0

// ErrStreamNotFound is returned for operations on an unknown stream id.
var ErrStreamNotFound = errors.New("log stream not found")

// ErrStreamEnded is returned for operations on a stream that has already
// ended.
var ErrStreamEnded = errors.New("log stream already ended")

// FlushEvent is one batched delivery to a stream's flush callback.
type FlushEvent struct {
	StreamID string
	// Lines are the lines appended by this flush, in arrival order.
	Lines []Line
	// Evicted is how many old lines were dropped to keep the buffer
	// within its cap.
	Evicted int
	// ScrollToBottom asks the viewer to follow the tail. Never true while
	// the user has scrolled away from the bottom.
	ScrollToBottom bool
	// Ended marks the final flush of the stream; Lines then includes the
	// synthetic marker line.
	Ended     bool
	EndReason string
}

// FlushFunc receives batched stream updates.
type FlushFunc func(ev FlushEvent)

// Stream is the console-side record of one container log tail.
type Stream struct {
	ID          string
	ServerID    uint
	ContainerID string
	StartedAt   time.Time

	mu         sync.Mutex
	state      StreamState
	buf        lineRing
	pending    []Line
	carry      string // partial line awaiting its newline
	autoScroll bool
	endReason  string
	onFlush    FlushFunc
}

// State returns the stream's lifecycle state.
func (s *Stream) State() StreamState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// AutoScroll reports whether the viewer is following the tail.
func (s *Stream) AutoScroll() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoScroll
}

// Lines returns a copy of the visible buffer, oldest first. Pending lines
// that have not been flushed yet are not included.
func (s *Stream) Lines() []Line {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.snapshot()
}

// SetOnFlush installs or replaces the flush callback, for viewers that
// attach after the stream started. Passing nil detaches.
func (s *Stream) SetOnFlush(fn FlushFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onFlush = fn
}

// flush moves pending lines into the buffer and notifies the callback.
// Nothing happens when there is nothing pending and the stream is not
// ending.
func (s *Stream) flush(ended bool, reason string) {
	s.mu.Lock()
	batch := s.pending
	s.pending = nil
	evicted := 0
	if len(batch) > 0 {
		evicted = s.buf.append(batch)
	}
	scroll := s.autoScroll && len(batch) > 0
	fn := s.onFlush
	s.mu.Unlock()

	if len(batch) == 0 && !ended {
		return
	}
	promLinesBuffered.Add(float64(len(batch)))
	if evicted > 0 {
		promLinesEvicted.Add(float64(evicted))
	}
	if fn != nil {
		fn(FlushEvent{
			StreamID:       s.ID,
			Lines:          batch,
			Evicted:        evicted,
			ScrollToBottom: scroll,
			Ended:          ended,
			EndReason:      reason,
		})
	}
}

// StreamInfo is a point-in-time snapshot for listings.
type StreamInfo struct {
	ID          string    `json:"id"`
	ServerID    uint      `json:"server_id"`
	ContainerID string    `json:"container_id"`
	State       string    `json:"state"`
	Lines       int       `json:"lines"`
	AutoScroll  bool      `json:"auto_scroll"`
	StartedAt   time.Time `json:"started_at"`
	EndReason   string    `json:"end_reason,omitempty"`
}

func (s *Stream) info() StreamInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StreamInfo{
		ID:          s.ID,
		ServerID:    s.ServerID,
		ContainerID: s.ContainerID,
		State:       s.state.String(),
		Lines:       s.buf.size(),
		AutoScroll:  s.autoScroll,
		StartedAt:   s.StartedAt,
		EndReason:   s.endReason,
	}
}

// Connection is the slice of the connection manager the registry needs.
type Connection interface {
	EnsureOpen(ctx context.Context, serverID uint) error
	Send(serverID uint, f protocol.Frame) error
}

// Config holds the registry's tunables.
type Config struct {
	// MaxLines caps each stream's visible buffer. Default 5000.
	MaxLines int
	// FlushInterval is the shared micro-batch period. Default 100ms.
	FlushInterval time.Duration
	// StartTimeout bounds how long Start waits for the connection to
	// open. Default 5s.
	StartTimeout time.Duration
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxLines:      5000,
		FlushInterval: 100 * time.Millisecond,
		StartTimeout:  5 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxLines <= 0 {
		c.MaxLines = d.MaxLines
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = d.FlushInterval
	}
	if c.StartTimeout <= 0 {
		c.StartTimeout = d.StartTimeout
	}
	return c
}

// StartOptions configures a new stream.
type StartOptions struct {
	// Tail is how many historical lines the agent should send first.
	Tail int
	// OnFlush receives batched updates. May be nil and attached later
	// with Stream.SetOnFlush.
	OnFlush FlushFunc
}

// Registry tracks every log stream across all servers, feeds them from the
// frame router and flushes them together on one shared timer.
type Registry struct {
	cfg  Config
	conn Connection

	mu      sync.RWMutex
	streams map[string]*Stream

	flushTask *schedule.Task
}

// NewRegistry creates an empty stream registry sending through conn.
func NewRegistry(conn Connection, cfg Config) *Registry {
	r := &Registry{
		cfg:     cfg.withDefaults(),
		conn:    conn,
		streams: make(map[string]*Stream),
	}
	r.flushTask = schedule.NewTask(r.flushAll)
	return r
}

// Start opens a log stream for a container. The connection is brought up
// first when it is down, bounded by StartTimeout; the start command is only
// sent once the link is open, so an abandoned start cannot fire later.
// Timestamps are always requested from the agent.
func (r *Registry) Start(ctx context.Context, serverID uint, containerID string, opts StartOptions) (*Stream, error) {
	if containerID == "" {
		return nil, errors.New("container id required")
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.StartTimeout)
	defer cancel()
	if err := r.conn.EnsureOpen(waitCtx, serverID); err != nil {
		return nil, fmt.Errorf("connection for server %d not open: %w", serverID, err)
	}

	s := &Stream{
		ID:          uuid.New().String(),
		ServerID:    serverID,
		ContainerID: containerID,
		StartedAt:   time.Now(),
		state:       StreamStarting,
		buf:         lineRing{maxLines: r.cfg.MaxLines},
		autoScroll:  true,
		onFlush:     opts.OnFlush,
	}

	r.mu.Lock()
	r.streams[s.ID] = s
	r.mu.Unlock()

	if err := r.conn.Send(serverID, protocol.NewLogStreamStart(s.ID, containerID, opts.Tail)); err != nil {
		r.mu.Lock()
		delete(r.streams, s.ID)
		r.mu.Unlock()
		return nil, fmt.Errorf("send stream start: %w", err)
	}

	promStreamsStarted.Inc()
	log.Printf("[logs] started stream %s for container %s on server %d (tail %d)",
		s.ID, containerID, serverID, opts.Tail)
	return s, nil
}

// Get returns a stream by id.
func (r *Registry) Get(streamID string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[streamID]
	return s, ok
}

// OnData ingests one raw chunk for a stream. Chunks are split on newlines;
// a trailing partial line is carried until its newline arrives. Data for
// ended streams is inert: an end notice may race with chunks already in
// flight.
func (r *Registry) OnData(streamID, chunk string) {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	if r.ingest(s, chunk) {
		r.flushTask.Schedule(r.cfg.FlushInterval)
	}
}

// ingest splits the chunk into the stream's pending queue and reports
// whether a flush should be scheduled.
func (r *Registry) ingest(s *Stream, chunk string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StreamEnded {
		return false
	}
	if s.state == StreamStarting {
		s.state = StreamStreaming
	}

	pieces := strings.Split(s.carry+chunk, "\n")
	s.carry = pieces[len(pieces)-1]
	for _, p := range pieces[:len(pieces)-1] {
		s.pending = append(s.pending, NewLine(p))
	}
	return len(s.pending) > 0
}

// OnEnd terminates a stream: remaining pending lines are flushed and a
// synthetic marker line describing the reason is appended. A
// "container_stopped" end is a normal termination, not an error.
func (r *Registry) OnEnd(streamID, reason string) {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	r.end(s, reason)
}

// end moves the stream to Ended exactly once and delivers the final flush.
func (r *Registry) end(s *Stream, reason string) {
	s.mu.Lock()
	if s.state == StreamEnded {
		s.mu.Unlock()
		return
	}
	s.state = StreamEnded
	s.endReason = reason
	if s.carry != "" {
		s.pending = append(s.pending, NewLine(s.carry))
		s.carry = ""
	}
	s.pending = append(s.pending, newMarkerLine(endReasonText(reason)))
	s.mu.Unlock()

	s.flush(true, reason)
	promStreamsEnded.Inc()
	log.Printf("[logs] stream %s ended: %s", s.ID, endReasonText(reason))
}

// Stop ends a stream on the user's request. The stop command is sent only if
// the agent is actually streaming; local state goes to Ended immediately
// without waiting for the agent, so the UI stays responsive.
func (r *Registry) Stop(streamID string) error {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return fmt.Errorf("stop stream %s: %w", streamID, ErrStreamNotFound)
	}

	s.mu.Lock()
	state := s.state
	s.mu.Unlock()
	if state == StreamEnded {
		return fmt.Errorf("stop stream %s: %w", streamID, ErrStreamEnded)
	}
	if state == StreamStreaming {
		if err := r.conn.Send(s.ServerID, protocol.NewLogStreamStop(streamID)); err != nil {
			log.Printf("[logs] stop send failed for stream %s: %v", streamID, err)
		}
	}
	r.end(s, "stopped_by_user")
	return nil
}

// Remove stops a stream if needed and drops it from the registry. Late
// frames for the id then miss the map and are discarded. Removing an
// already-ended or unknown stream is fine, so Stop's error is not checked.
func (r *Registry) Remove(streamID string) {
	_ = r.Stop(streamID)
	r.mu.Lock()
	delete(r.streams, streamID)
	r.mu.Unlock()
}

// DropServer ends and removes every stream belonging to a server without
// sending stop commands. Used when the server itself is being forgotten.
// Returns how many streams were dropped.
func (r *Registry) DropServer(serverID uint) int {
	r.mu.Lock()
	var dropped []*Stream
	for id, s := range r.streams {
		if s.ServerID == serverID {
			dropped = append(dropped, s)
			delete(r.streams, id)
		}
	}
	r.mu.Unlock()

	for _, s := range dropped {
		r.end(s, "connection_closed")
	}
	if len(dropped) > 0 {
		log.Printf("[logs] dropped %d stream(s) for server %d", len(dropped), serverID)
	}
	return len(dropped)
}

// ObserveScroll updates auto-scroll from the viewer's distance to the
// bottom. Scrolling away disengages following; scrolling back within the
// threshold re-engages it.
func (r *Registry) ObserveScroll(streamID string, distanceFromBottom float64) {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.autoScroll = distanceFromBottom <= scrollThreshold
	s.mu.Unlock()
}

// SetAutoScroll is the explicit follow-the-tail toggle.
func (r *Registry) SetAutoScroll(streamID string, on bool) {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	s.mu.Lock()
	s.autoScroll = on
	s.mu.Unlock()
}

// List returns snapshots of all streams for a server, oldest first.
func (r *Registry) List(serverID uint) []StreamInfo {
	r.mu.RLock()
	var out []StreamInfo
	for _, s := range r.streams {
		if s.ServerID == serverID {
			out = append(out, s.info())
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// Count returns the number of registered streams across all servers,
// including ended ones not yet removed.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.streams)
}

// flushAll drains every stream's pending queue into its buffer. Runs on the
// shared timer.
func (r *Registry) flushAll() {
	r.mu.RLock()
	streams := make([]*Stream, 0, len(r.streams))
	for _, s := range r.streams {
		streams = append(streams, s)
	}
	r.mu.RUnlock()

	for _, s := range streams {
		s.flush(false, "")
	}
}

// HandleLogData routes a data frame from the frame router. Frames for
// unknown streams or the wrong server are dropped.
func (r *Registry) HandleLogData(serverID uint, streamID, logs string) {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	if s.ServerID != serverID {
		log.Printf("[logs] data frame for stream %s arrived on server %d, belongs to %d, dropped",
			streamID, serverID, s.ServerID)
		return
	}
	if r.ingest(s, logs) {
		r.flushTask.Schedule(r.cfg.FlushInterval)
	}
}

// HandleLogEnd routes an end frame from the frame router.
func (r *Registry) HandleLogEnd(serverID uint, streamID, reason string) {
	r.mu.RLock()
	s := r.streams[streamID]
	r.mu.RUnlock()
	if s == nil {
		return
	}
	if s.ServerID != serverID {
		log.Printf("[logs] end frame for stream %s arrived on server %d, belongs to %d, dropped",
			streamID, serverID, s.ServerID)
		return
	}
	r.end(s, reason)
}
