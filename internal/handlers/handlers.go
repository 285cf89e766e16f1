// Package handlers implements the console's HTTP surface: server
// inventory CRUD, connection control and status, browser WebSocket
// bridges for terminals and container log streams, and REST proxies to
// the agents (files, docker, certificates, websites).
//
// The shared managers are package variables assigned from main during
// startup, before the router starts serving.
package handlers

import (
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentconn"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentfiles"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentlogs"
	"github.com/EnderKC/BetterMonitor-sub000/internal/agentterm"
)

// ConnMgr owns the agent WebSocket connections. Set from main.go.
var ConnMgr *agentconn.Manager

// TermRegistry tracks shell sessions across all servers. Set from main.go.
var TermRegistry *agentterm.Registry

// LogRegistry tracks container log streams across all servers. Set from main.go.
var LogRegistry *agentlogs.Registry

// FileSvc proxies file operations and guards in-flight saves. Set from main.go.
var FileSvc *agentfiles.Service

// Resolver maps server ids to agent endpoints. Set from main.go.
var Resolver agentconn.ServerResolver
