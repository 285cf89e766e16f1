package database

import "time"

// Server is one managed remote server running an agent.
type Server struct {
	ID             uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name           string    `gorm:"uniqueIndex;not null;size:64" json:"name"`
	Host           string    `gorm:"not null" json:"host"`
	Port           int       `gorm:"not null;default:8211" json:"port"`
	UseTLS         bool      `gorm:"not null;default:false" json:"use_tls"`
	TokenEncrypted string    `json:"-"` // fernet-encrypted agent token
	SortOrder      int       `gorm:"not null;default:0" json:"sort_order"`
	CreatedAt      time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type Setting struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// Certificate is a TLS certificate inventoried from a server's agent,
// cached locally so the expiry sweep can run without the agent online.
type Certificate struct {
	ID            uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID      uint      `gorm:"not null;index;uniqueIndex:idx_server_domain" json:"server_id"`
	Domain        string    `gorm:"not null;uniqueIndex:idx_server_domain;size:255" json:"domain"`
	Issuer        string    `json:"issuer"`
	NotBefore     time.Time `json:"not_before"`
	NotAfter      time.Time `json:"not_after"`
	LastCheckedAt time.Time `json:"last_checked_at"`
}

// ConnectionLog records one agent connection lifecycle event (connected,
// disconnected, gave_up) for auditing flaky servers.
type ConnectionLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	ServerID  uint      `gorm:"not null;index" json:"server_id"`
	Event     string    `gorm:"not null;size:32" json:"event"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
