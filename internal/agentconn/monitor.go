// monitor.go stores per-server agent identity and monitoring samples.
//
// Agents describe themselves in a welcome frame on connect and piggyback
// resource usage samples on heartbeat and monitor frames. The console keeps
// only the most recent sample per server; history is out of scope here.

package agentconn

import (
	"sync"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/protocol"
)

// ServerInfo is the latest known agent identity and monitoring sample for a server.
type ServerInfo struct {
	AgentVersion    string                 `json:"agent_version,omitempty"`
	Hostname        string                 `json:"hostname,omitempty"`
	OS              string                 `json:"os,omitempty"`
	Arch            string                 `json:"arch,omitempty"`
	DockerAvailable bool                   `json:"docker_available"`
	WelcomeAt       time.Time              `json:"welcome_at,omitempty"`
	LastSample      *protocol.MonitorStats `json:"last_sample,omitempty"`
	LastSampleAt    time.Time              `json:"last_sample_at,omitempty"`
	LastHeartbeatAt time.Time              `json:"last_heartbeat_at,omitempty"`
}

// infoStore keeps the latest ServerInfo per server.
type infoStore struct {
	mu   sync.RWMutex
	info map[uint]*ServerInfo
}

func newInfoStore() *infoStore {
	return &infoStore{info: make(map[uint]*ServerInfo)}
}

func (s *infoStore) entry(serverID uint) *ServerInfo {
	si, ok := s.info[serverID]
	if !ok {
		si = &ServerInfo{}
		s.info[serverID] = si
	}
	return si
}

// mergeWelcome records the agent identity announced on connect.
func (s *infoStore) mergeWelcome(serverID uint, w protocol.WelcomePayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si := s.entry(serverID)
	si.AgentVersion = w.AgentVersion
	si.Hostname = w.Hostname
	si.OS = w.OS
	si.Arch = w.Arch
	si.DockerAvailable = w.DockerAvailable
	si.WelcomeAt = time.Now()
}

// mergeStatus applies a partial info update. Status frames often carry only
// the field that changed, so empty fields keep their stored value.
func (s *infoStore) mergeStatus(serverID uint, p protocol.StatusPayload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si := s.entry(serverID)
	if p.AgentVersion != "" {
		si.AgentVersion = p.AgentVersion
	}
	if p.Hostname != "" {
		si.Hostname = p.Hostname
	}
	if p.OS != "" {
		si.OS = p.OS
	}
	if p.Arch != "" {
		si.Arch = p.Arch
	}
	if p.DockerAvailable != nil {
		si.DockerAvailable = *p.DockerAvailable
	}
}

// recordSample stores the most recent monitoring sample for a server.
func (s *infoStore) recordSample(serverID uint, stats protocol.MonitorStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	si := s.entry(serverID)
	sample := stats
	si.LastSample = &sample
	si.LastSampleAt = time.Now()
}

// recordHeartbeat stamps the time of the last heartbeat seen from the agent.
func (s *infoStore) recordHeartbeat(serverID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entry(serverID).LastHeartbeatAt = time.Now()
}

// get returns a copy of the stored info for a server.
func (s *infoStore) get(serverID uint) (ServerInfo, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	si, ok := s.info[serverID]
	if !ok {
		return ServerInfo{}, false
	}
	out := *si
	if si.LastSample != nil {
		sample := *si.LastSample
		out.LastSample = &sample
	}
	return out, true
}

// remove deletes the stored info for a server.
func (s *infoStore) remove(serverID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.info, serverID)
}
