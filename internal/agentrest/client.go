// Package agentrest is the HTTP client for an agent's REST surface.
//
// The realtime traffic (terminals, log streams, heartbeats) rides the
// multiplexed WebSocket owned by agentconn; everything request-shaped
// (file reads and saves, container listings, certificate and website
// inventory) goes over plain HTTPS to the same agent, authenticated
// with the same per-server token as a bearer header.
package agentrest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/config"
)

// Request deadlines come from the per-call context in do, so the shared
// client carries no timeout of its own.
var httpClient = &http.Client{}

// Client talks to a single agent. It is cheap to construct per request;
// the underlying http.Client is shared.
type Client struct {
	baseURL string
	token   string
}

// NewClient builds a client for the given agent endpoint.
func NewClient(ep agentconn.Endpoint) *Client {
	scheme := "http"
	if ep.UseTLS {
		scheme = "https"
	}
	return &Client{
		baseURL: fmt.Sprintf("%s://%s", scheme, net.JoinHostPort(ep.Host, strconv.Itoa(ep.Port))),
		token:   ep.Token,
	}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	timeout := config.Cfg.AgentRequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("agent request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("agent returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode agent response: %w", err)
	}
	return nil
}

// Health fetches the agent's health report.
func (c *Client) Health(ctx context.Context) (AgentHealth, error) {
	var out AgentHealth
	err := c.do(ctx, http.MethodGet, "/api/health", nil, nil, &out)
	return out, err
}

// ListFiles lists the directory at path on the agent host.
func (c *Client) ListFiles(ctx context.Context, path string) ([]FileEntry, error) {
	var out []FileEntry
	err := c.do(ctx, http.MethodGet, "/api/files/list", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// ReadFile fetches the contents of a file on the agent host.
func (c *Client) ReadFile(ctx context.Context, path string) (FileContent, error) {
	var out FileContent
	err := c.do(ctx, http.MethodGet, "/api/files", url.Values{"path": {path}}, nil, &out)
	return out, err
}

// WriteFile replaces the contents of a file on the agent host.
func (c *Client) WriteFile(ctx context.Context, path, content string) error {
	return c.do(ctx, http.MethodPut, "/api/files", nil, writeFileRequest{Path: path, Content: content}, nil)
}

// ListContainers lists the Docker containers on the agent host,
// including stopped ones.
func (c *Client) ListContainers(ctx context.Context) ([]ContainerInfo, error) {
	var out []ContainerInfo
	err := c.do(ctx, http.MethodGet, "/api/docker/containers", nil, nil, &out)
	return out, err
}

// InspectContainer fetches the detailed view of one container.
func (c *Client) InspectContainer(ctx context.Context, containerID string) (ContainerDetail, error) {
	var out ContainerDetail
	if containerID == "" {
		return out, fmt.Errorf("container id is required")
	}
	path := "/api/docker/containers/" + url.PathEscape(containerID)
	err := c.do(ctx, http.MethodGet, path, nil, nil, &out)
	return out, err
}

// ContainerAction runs a lifecycle action against one container.
func (c *Client) ContainerAction(ctx context.Context, containerID, action string) error {
	switch action {
	case ActionStart, ActionStop, ActionRestart, ActionRemove:
	default:
		return fmt.Errorf("unsupported container action %q", action)
	}
	if containerID == "" {
		return fmt.Errorf("container id is required")
	}
	path := fmt.Sprintf("/api/docker/containers/%s/%s", url.PathEscape(containerID), action)
	return c.do(ctx, http.MethodPost, path, nil, nil, nil)
}

// ListImages lists the Docker images on the agent host.
func (c *Client) ListImages(ctx context.Context) ([]ImageInfo, error) {
	var out []ImageInfo
	err := c.do(ctx, http.MethodGet, "/api/docker/images", nil, nil, &out)
	return out, err
}

// ListCertificates fetches the agent's TLS certificate inventory.
func (c *Client) ListCertificates(ctx context.Context) ([]CertificateInfo, error) {
	var out []CertificateInfo
	err := c.do(ctx, http.MethodGet, "/api/certificates", nil, nil, &out)
	return out, err
}

// ListWebsites fetches the agent's website inventory.
func (c *Client) ListWebsites(ctx context.Context) ([]WebsiteInfo, error) {
	var out []WebsiteInfo
	err := c.do(ctx, http.MethodGet, "/api/websites", nil, nil, &out)
	return out, err
}
