package handlers

import (
	"context"
	"errors"
	"fmt"

	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/crypto"
	"github.com/EnderKC/BetterMonitor-sub000/internal/database"
	"gorm.io/gorm"
)

// DBResolver resolves agent endpoints from the servers table, decrypting
// the stored token. It backs both the connection manager and the REST
// proxies, so every component dials with the same credentials.
type DBResolver struct{}

func (DBResolver) ResolveServer(ctx context.Context, serverID uint) (agentconn.Endpoint, error) {
	srv, err := database.GetServer(serverID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return agentconn.Endpoint{}, agentconn.ErrServerNotFound
		}
		return agentconn.Endpoint{}, fmt.Errorf("load server %d: %w", serverID, err)
	}

	token, err := crypto.Decrypt(srv.TokenEncrypted)
	if err != nil {
		return agentconn.Endpoint{}, fmt.Errorf("decrypt token for server %d: %w", serverID, err)
	}

	return agentconn.Endpoint{
		Host:   srv.Host,
		Port:   srv.Port,
		UseTLS: srv.UseTLS,
		Token:  token,
	}, nil
}
