// Package agentfiles exposes the remote file editor: directory
// browsing, file reads and saves proxied to an agent's REST surface.
//
// Saves are tracked per server. While one is running, SaveInFlight
// reports true and the connection manager defers any reconnect for
// that server, so an editor save is never cut off by a link bounce.
package agentfiles

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"sync"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentrest"
)

var (
	// ErrInvalidPath rejects paths that are empty, relative or not in
	// canonical form. Handlers map it to HTTP 400.
	ErrInvalidPath = errors.New("invalid file path")

	// ErrFileTooLarge rejects saves above the editable size limit.
	ErrFileTooLarge = errors.New("file exceeds the editable size limit")
)

const maxSaveBytes = 2 << 20

// API is the slice of the agent REST surface the file editor uses.
type API interface {
	ListFiles(ctx context.Context, path string) ([]agentrest.FileEntry, error)
	ReadFile(ctx context.Context, path string) (agentrest.FileContent, error)
	WriteFile(ctx context.Context, path, content string) error
}

// newFileAPI builds the agent client for an endpoint. Tests swap it out.
var newFileAPI = func(ep agentconn.Endpoint) API {
	return agentrest.NewClient(ep)
}

// Service proxies file operations to agents and tracks in-flight saves.
type Service struct {
	resolver agentconn.ServerResolver

	mu     sync.Mutex
	saving map[uint]int
}

var _ agentconn.SaveGuard = (*Service)(nil)

func NewService(resolver agentconn.ServerResolver) *Service {
	return &Service{
		resolver: resolver,
		saving:   make(map[uint]int),
	}
}

// List returns the directory listing at dirPath on the server's host.
func (s *Service) List(ctx context.Context, serverID uint, dirPath string) ([]agentrest.FileEntry, error) {
	if err := validatePath(dirPath); err != nil {
		return nil, err
	}
	api, err := s.apiFor(ctx, serverID)
	if err != nil {
		return nil, err
	}
	return api.ListFiles(ctx, dirPath)
}

// Read fetches the contents of filePath on the server's host.
func (s *Service) Read(ctx context.Context, serverID uint, filePath string) (agentrest.FileContent, error) {
	if err := validatePath(filePath); err != nil {
		return agentrest.FileContent{}, err
	}
	api, err := s.apiFor(ctx, serverID)
	if err != nil {
		return agentrest.FileContent{}, err
	}
	return api.ReadFile(ctx, filePath)
}

// Save writes content to filePath on the server's host. The server's
// save counter is held for the whole round trip, including endpoint
// resolution, so reconnects are deferred until the write lands.
func (s *Service) Save(ctx context.Context, serverID uint, filePath, content string) error {
	if err := validatePath(filePath); err != nil {
		return err
	}
	if len(content) > maxSaveBytes {
		return fmt.Errorf("%w: %d bytes", ErrFileTooLarge, len(content))
	}

	s.beginSave(serverID)
	defer s.endSave(serverID)

	api, err := s.apiFor(ctx, serverID)
	if err != nil {
		return err
	}
	if err := api.WriteFile(ctx, filePath, content); err != nil {
		return fmt.Errorf("failed to save %s: %w", filePath, err)
	}
	log.Printf("[files] saved %s on server %d (%d bytes)", filePath, serverID, len(content))
	return nil
}

// SaveInFlight reports whether any save for the server is still
// running. The connection manager consults it before recycling a link.
func (s *Service) SaveInFlight(serverID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saving[serverID] > 0
}

func (s *Service) beginSave(serverID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saving[serverID]++
}

func (s *Service) endSave(serverID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.saving[serverID]; n <= 1 {
		delete(s.saving, serverID)
	} else {
		s.saving[serverID] = n - 1
	}
}

func (s *Service) apiFor(ctx context.Context, serverID uint) (API, error) {
	ep, err := s.resolver.ResolveServer(ctx, serverID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve server %d: %w", serverID, err)
	}
	return newFileAPI(ep), nil
}

// validatePath accepts only absolute, already-canonical paths. Cleaning
// server side would silently rewrite what the user asked for, so
// non-canonical input is rejected instead.
func validatePath(p string) error {
	if p == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidPath)
	}
	if strings.ContainsRune(p, 0) {
		return fmt.Errorf("%w: path contains a NUL byte", ErrInvalidPath)
	}
	if !strings.HasPrefix(p, "/") {
		return fmt.Errorf("%w: %s is not absolute", ErrInvalidPath, p)
	}
	if p != path.Clean(p) {
		return fmt.Errorf("%w: %s is not canonical", ErrInvalidPath, p)
	}
	return nil
}
