package agentd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"sync"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/EnderKC/BetterMonitor-sub000/internal/logutil"
	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// LogStreamer runs the active container log streams. Each stream is one
// goroutine copying from the Docker log reader into docker_logs_stream_data
// frames until the container stops, the console stops the stream, or the
// connection it rides on dies.
type LogStreamer struct {
	engine Engine

	mu      sync.Mutex
	streams map[string]context.CancelFunc
}

func NewLogStreamer(engine Engine) *LogStreamer {
	return &LogStreamer{
		engine:  engine,
		streams: make(map[string]context.CancelFunc),
	}
}

// Start opens the container's logs and begins forwarding chunks. The stream
// lives under parent, so it dies with the connection that requested it.
func (l *LogStreamer) Start(parent context.Context, p protocol.LogStreamPayload, emit EmitFunc) {
	if p.StreamID == "" || p.ContainerID == "" {
		return
	}

	ctx, cancel := context.WithCancel(parent)
	l.mu.Lock()
	if _, exists := l.streams[p.StreamID]; exists {
		l.mu.Unlock()
		cancel()
		log.Printf("[logs] duplicate start for stream %s ignored", p.StreamID)
		return
	}
	l.streams[p.StreamID] = cancel
	l.mu.Unlock()

	go l.run(ctx, p, emit)
}

// Stop cancels one stream. Unknown ids are a no-op; the console stops
// streams it has already discarded locally.
func (l *LogStreamer) Stop(streamID string) {
	l.mu.Lock()
	cancel := l.streams[streamID]
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Count returns the number of running streams.
func (l *LogStreamer) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.streams)
}

func (l *LogStreamer) run(ctx context.Context, p protocol.LogStreamPayload, emit EmitFunc) {
	defer func() {
		l.mu.Lock()
		delete(l.streams, p.StreamID)
		l.mu.Unlock()
	}()

	rc, tty, err := l.engine.Logs(ctx, p.ContainerID, p.Tail, p.Timestamps)
	if err != nil {
		if errors.Is(err, ErrDockerUnavailable) {
			emit(protocol.NewLogEnd(p.StreamID, "docker_unavailable"))
			return
		}
		log.Printf("[logs] stream %s for %s: %v", p.StreamID, logutil.Truncate(p.ContainerID, 16), err)
		emit(protocol.NewLogEnd(p.StreamID, fmt.Sprintf("failed to open logs: %v", err)))
		return
	}
	defer rc.Close()
	log.Printf("[logs] stream %s started for %s (tail=%d)", p.StreamID, logutil.Truncate(p.ContainerID, 16), p.Tail)

	dst := &frameWriter{streamID: p.StreamID, emit: emit}
	if tty {
		_, err = io.Copy(dst, rc)
	} else {
		// Non-TTY containers multiplex stdout/stderr; demux both into
		// the same frame stream.
		_, err = stdcopy.StdCopy(dst, dst, rc)
	}

	if ctx.Err() != nil {
		// Stopped by the console or the connection died. The console has
		// already ended the stream locally, so no end frame.
		return
	}
	reason := "container_stopped"
	if err != nil {
		reason = fmt.Sprintf("stream failed: %v", err)
	}
	emit(protocol.NewLogEnd(p.StreamID, reason))
}

// frameWriter turns each chunk written by the log copier into one
// docker_logs_stream_data frame.
type frameWriter struct {
	streamID string
	emit     EmitFunc
}

func (w *frameWriter) Write(p []byte) (int, error) {
	if len(p) > 0 {
		w.emit(protocol.NewLogData(w.streamID, string(p)))
	}
	return len(p), nil
}
