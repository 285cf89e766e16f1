package agentrest

import "time"

// FileEntry is one directory listing row.
type FileEntry struct {
	Name        string    `json:"name"`
	Path        string    `json:"path"`
	Type        string    `json:"type"` // "file", "directory" or "symlink"
	Size        int64     `json:"size"`
	Permissions string    `json:"permissions"`
	ModifiedAt  time.Time `json:"modified_at"`
}

// FileContent is a file read response.
type FileContent struct {
	Path       string    `json:"path"`
	Content    string    `json:"content"`
	Size       int64     `json:"size"`
	ModifiedAt time.Time `json:"modified_at"`
}

// writeFileRequest is the body of a file save.
type writeFileRequest struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ContainerInfo is one row of the agent's container listing.
type ContainerInfo struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Image   string `json:"image"`
	State   string `json:"state"`  // running, exited, ...
	Status  string `json:"status"` // human text, e.g. "Up 3 hours"
	Created int64  `json:"created"`
}

// PortBinding is one published port of a container.
type PortBinding struct {
	ContainerPort string `json:"container_port"`
	Protocol      string `json:"protocol"`
	HostIP        string `json:"host_ip,omitempty"`
	HostPort      string `json:"host_port,omitempty"`
}

// ContainerDetail is the agent's detailed view of one container.
type ContainerDetail struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Image         string            `json:"image"`
	State         string            `json:"state"`
	Created       time.Time         `json:"created"`
	StartedAt     time.Time         `json:"started_at"`
	ExitCode      int               `json:"exit_code"`
	RestartPolicy string            `json:"restart_policy,omitempty"`
	Ports         []PortBinding     `json:"ports,omitempty"`
	Mounts        []string          `json:"mounts,omitempty"`
	Labels        map[string]string `json:"labels,omitempty"`
}

// ImageInfo is one row of the agent's image listing.
type ImageInfo struct {
	ID      string   `json:"id"`
	Tags    []string `json:"tags"`
	Size    int64    `json:"size"`
	Created int64    `json:"created"`
}

// Container actions the agent accepts.
const (
	ActionStart   = "start"
	ActionStop    = "stop"
	ActionRestart = "restart"
	ActionRemove  = "remove"
)

// CertificateInfo describes one certificate found on the agent host.
type CertificateInfo struct {
	Domain    string    `json:"domain"`
	Issuer    string    `json:"issuer"`
	SANs      []string  `json:"sans,omitempty"`
	NotBefore time.Time `json:"not_before"`
	NotAfter  time.Time `json:"not_after"`
	Expired   bool      `json:"expired"`
	Path      string    `json:"path"`
}

// WebsiteInfo describes one site configured on the agent host.
type WebsiteInfo struct {
	Domain     string `json:"domain"`
	Root       string `json:"root,omitempty"`
	Upstream   string `json:"upstream,omitempty"`
	SSL        bool   `json:"ssl"`
	ConfigPath string `json:"config_path"`
}

// AgentHealth is the agent's health report.
type AgentHealth struct {
	Status          string `json:"status"`
	Version         string `json:"version"`
	UptimeSeconds   int64  `json:"uptime"`
	DockerAvailable bool   `json:"docker_available"`
}
