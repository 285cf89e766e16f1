package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentlogs"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"github.com/EnderKC/BetterMonitor-sub000/internal/logutil"
	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
)

// defaultLogTail is how many historical lines a log stream starts with
// when the browser does not ask for a specific tail.
const defaultLogTail = 200

// maxLogTail bounds the tail parameter so a single stream cannot ask the
// agent for an unbounded history dump.
const maxLogTail = 5000

// ListContainers proxies the agent's container list.
// GET /api/servers/{id}/docker/containers
func ListContainers(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	client, err := agentClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve server")
		return
	}
	containers, err := client.ListContainers(r.Context())
	if err != nil {
		log.Printf("Container list failed for server %d: %v", id, err)
		writeError(w, http.StatusBadGateway, "Failed to list containers")
		return
	}
	if containers == nil {
		containers = []agentrest.ContainerInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"containers": containers})
}

// InspectContainer proxies the agent's container detail view.
// GET /api/servers/{id}/docker/containers/{cid}
func InspectContainer(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	cid := chi.URLParam(r, "cid")
	if cid == "" {
		writeError(w, http.StatusBadRequest, "Container ID required")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	client, err := agentClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve server")
		return
	}
	detail, err := client.InspectContainer(r.Context(), cid)
	if err != nil {
		log.Printf("Container inspect failed for %s on server %d: %v", logutil.Truncate(cid, 16), id, err)
		writeError(w, http.StatusBadGateway, "Failed to inspect container")
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

// ContainerAction runs a lifecycle action (start, stop, restart, remove)
// against a container on the agent.
// POST /api/servers/{id}/docker/containers/{cid}/{action}
func ContainerAction(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	cid := chi.URLParam(r, "cid")
	action := chi.URLParam(r, "action")
	if cid == "" {
		writeError(w, http.StatusBadRequest, "Container ID required")
		return
	}
	switch action {
	case agentrest.ActionStart, agentrest.ActionStop, agentrest.ActionRestart, agentrest.ActionRemove:
	default:
		writeError(w, http.StatusBadRequest, "Invalid container action")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	client, err := agentClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve server")
		return
	}
	if err := client.ContainerAction(r.Context(), cid, action); err != nil {
		log.Printf("Container %s failed for %s on server %d: %v", action, logutil.Truncate(cid, 16), id, err)
		writeError(w, http.StatusBadGateway, "Container action failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "action": action})
}

// ListImages proxies the agent's image list.
// GET /api/servers/{id}/docker/images
func ListImages(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid server ID")
		return
	}
	if _, err := database.GetServer(id); err != nil {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}

	client, err := agentClient(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve server")
		return
	}
	images, err := client.ListImages(r.Context())
	if err != nil {
		log.Printf("Image list failed for server %d: %v", id, err)
		writeError(w, http.StatusBadGateway, "Failed to list images")
		return
	}
	if images == nil {
		images = []agentrest.ImageInfo{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"images": images})
}

// logBatchMessage is one console-to-browser update on a log stream
// socket. Type is "batch" for incremental updates and "end" for the
// final message.
type logBatchMessage struct {
	Type           string           `json:"type"`
	StreamID       string           `json:"stream_id"`
	Lines          []agentlogs.Line `json:"lines"`
	Evicted        int              `json:"evicted,omitempty"`
	ScrollToBottom bool             `json:"scroll_to_bottom,omitempty"`
	EndReason      string           `json:"end_reason,omitempty"`
}

type logControlMsg struct {
	Type               string  `json:"type"`
	DistanceFromBottom float64 `json:"distance_from_bottom"`
}

// ContainerLogsWS streams a container's logs to the browser.
//
// The console starts a log stream on the agent, batches incoming lines,
// and pushes each batch as a JSON text message. The browser reports its
// scroll position ({"type":"scroll","distance_from_bottom":...}) so the
// console can pause auto-scroll while the user reads history. Closing
// the socket stops the stream on the agent.
// GET /api/servers/{id}/docker/containers/{cid}/logs/ws?tail=N
func ContainerLogsWS(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(r, "id")
	if err != nil {
		http.Error(w, "Invalid server ID", http.StatusBadRequest)
		return
	}
	cid := chi.URLParam(r, "cid")
	if cid == "" {
		http.Error(w, "Container ID required", http.StatusBadRequest)
		return
	}
	tail := defaultLogTail
	if v := r.URL.Query().Get("tail"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "Invalid tail parameter", http.StatusBadRequest)
			return
		}
		tail = n
		if tail > maxLogTail {
			tail = maxLogTail
		}
	}
	if LogRegistry == nil {
		http.Error(w, "Stream registry not initialized", http.StatusServiceUnavailable)
		return
	}

	clientConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("Failed to accept log websocket: %v", err)
		return
	}
	defer clientConn.CloseNow()

	ctx := r.Context()

	clientConn.SetReadLimit(1024 * 1024)

	relayCtx, relayCancel := context.WithCancel(ctx)
	defer relayCancel()

	writer := &wsBridgeWriter{ctx: relayCtx, conn: clientConn}

	stream, err := LogRegistry.Start(ctx, id, cid, agentlogs.StartOptions{
		Tail: tail,
		OnFlush: func(ev agentlogs.FlushEvent) {
			msg := logBatchMessage{
				Type:           "batch",
				StreamID:       ev.StreamID,
				Lines:          ev.Lines,
				Evicted:        ev.Evicted,
				ScrollToBottom: ev.ScrollToBottom,
			}
			if ev.Ended {
				msg.Type = "end"
				msg.EndReason = ev.EndReason
			}
			writer.text(msg)
			if ev.Ended {
				relayCancel()
			}
		},
	})
	if err != nil {
		log.Printf("Log bridge for container %s: %v", logutil.Truncate(cid, 16), err)
		clientConn.Close(4500, "Failed to start log stream")
		return
	}
	defer LogRegistry.Remove(stream.ID)

	if err := writer.text(map[string]string{"type": "stream_info", "stream_id": stream.ID}); err != nil {
		return
	}

	log.Printf("Log bridge attached: stream=%s container=%s server=%d tail=%d",
		stream.ID, logutil.Truncate(cid, 16), id, tail)

	for {
		msgType, data, err := clientConn.Read(relayCtx)
		if err != nil {
			break
		}
		if msgType != websocket.MessageText {
			continue
		}
		var msg logControlMsg
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "scroll" {
			LogRegistry.ObserveScroll(stream.ID, msg.DistanceFromBottom)
		}
	}

	log.Printf("Log bridge detached: stream=%s server=%d", stream.ID, id)
	clientConn.Close(websocket.StatusNormalClosure, "")
}
