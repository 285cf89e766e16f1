package database

import (
	"encoding/json"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// setupTestDB points the package at an in-memory SQLite database.
func setupTestDB(t *testing.T) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	if err := db.AutoMigrate(&Server{}, &Setting{}, &Certificate{}, &ConnectionLog{}); err != nil {
		t.Fatalf("auto-migrate: %v", err)
	}
	DB = db
}

func TestServerRoundTrip(t *testing.T) {
	setupTestDB(t)

	s := Server{Name: "web-01", Host: "192.0.2.10", Port: 8211, UseTLS: true, TokenEncrypted: "gAAAAA"}
	if err := CreateServer(&s); err != nil {
		t.Fatalf("create server: %v", err)
	}

	loaded, err := GetServer(s.ID)
	if err != nil {
		t.Fatalf("load server: %v", err)
	}
	if loaded.Name != "web-01" || loaded.Host != "192.0.2.10" || loaded.Port != 8211 || !loaded.UseTLS {
		t.Errorf("loaded = %+v", loaded)
	}
	if loaded.TokenEncrypted != "gAAAAA" {
		t.Errorf("TokenEncrypted = %q", loaded.TokenEncrypted)
	}

	byName, err := GetServerByName("web-01")
	if err != nil {
		t.Fatalf("load by name: %v", err)
	}
	if byName.ID != s.ID {
		t.Errorf("by-name ID = %d, want %d", byName.ID, s.ID)
	}
}

func TestServerNameUnique(t *testing.T) {
	setupTestDB(t)

	if err := CreateServer(&Server{Name: "dup", Host: "a"}); err != nil {
		t.Fatalf("create first: %v", err)
	}
	if err := CreateServer(&Server{Name: "dup", Host: "b"}); err == nil {
		t.Fatal("duplicate server name accepted")
	}
}

func TestServerPortDefault(t *testing.T) {
	setupTestDB(t)

	s := Server{Name: "defaults", Host: "h"}
	if err := CreateServer(&s); err != nil {
		t.Fatalf("create: %v", err)
	}
	loaded, err := GetServer(s.ID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.Port != 8211 {
		t.Errorf("Port default = %d, want 8211", loaded.Port)
	}
}

func TestServerTokenNotInJSON(t *testing.T) {
	s := Server{Name: "json", Host: "h", TokenEncrypted: "secret"}

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(data, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := m["TokenEncrypted"]; ok {
		t.Error("TokenEncrypted should not appear in JSON output")
	}
	if _, ok := m["token_encrypted"]; ok {
		t.Error("token_encrypted should not appear in JSON output")
	}
}

func TestDeleteServerCascades(t *testing.T) {
	setupTestDB(t)

	s := Server{Name: "doomed", Host: "h"}
	if err := CreateServer(&s); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := ReplaceCertificates(s.ID, []Certificate{{Domain: "a.example.com"}}); err != nil {
		t.Fatalf("certs: %v", err)
	}
	if err := AppendConnectionLog(s.ID, "connected", ""); err != nil {
		t.Fatalf("log: %v", err)
	}

	if err := DeleteServer(s.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	certs, _ := ListCertificates(s.ID)
	if len(certs) != 0 {
		t.Errorf("certificates survived delete: %d", len(certs))
	}
	logs, _ := RecentConnectionLogs(s.ID, 10)
	if len(logs) != 0 {
		t.Errorf("connection logs survived delete: %d", len(logs))
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	setupTestDB(t)

	if err := SetSetting("k", "v1"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := SetSetting("k", "v2"); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, err := GetSetting("k")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != "v2" {
		t.Errorf("value = %q, want v2", got)
	}
	if err := DeleteSetting("k"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := GetSetting("k"); err == nil {
		t.Error("deleted setting still readable")
	}
}

func TestReplaceCertificatesSwapsInventory(t *testing.T) {
	setupTestDB(t)

	s := Server{Name: "certs", Host: "h"}
	if err := CreateServer(&s); err != nil {
		t.Fatalf("create: %v", err)
	}

	first := []Certificate{
		{Domain: "old.example.com", NotAfter: time.Now().Add(24 * time.Hour)},
	}
	if err := ReplaceCertificates(s.ID, first); err != nil {
		t.Fatalf("replace 1: %v", err)
	}

	second := []Certificate{
		{Domain: "a.example.com", NotAfter: time.Now().Add(48 * time.Hour)},
		{Domain: "b.example.com", NotAfter: time.Now().Add(72 * time.Hour)},
	}
	if err := ReplaceCertificates(s.ID, second); err != nil {
		t.Fatalf("replace 2: %v", err)
	}

	certs, err := ListCertificates(s.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(certs) != 2 {
		t.Fatalf("got %d certificates, want 2", len(certs))
	}
	if certs[0].Domain != "a.example.com" || certs[1].Domain != "b.example.com" {
		t.Errorf("domains = %q, %q", certs[0].Domain, certs[1].Domain)
	}
	for _, c := range certs {
		if c.LastCheckedAt.IsZero() {
			t.Errorf("LastCheckedAt not stamped for %s", c.Domain)
		}
	}
}

func TestExpiringCertificates(t *testing.T) {
	setupTestDB(t)

	s := Server{Name: "expiry", Host: "h"}
	if err := CreateServer(&s); err != nil {
		t.Fatalf("create: %v", err)
	}

	now := time.Now()
	certs := []Certificate{
		{Domain: "soon.example.com", NotAfter: now.Add(5 * 24 * time.Hour)},
		{Domain: "later.example.com", NotAfter: now.Add(90 * 24 * time.Hour)},
	}
	if err := ReplaceCertificates(s.ID, certs); err != nil {
		t.Fatalf("replace: %v", err)
	}

	expiring, err := ExpiringCertificates(now.Add(30 * 24 * time.Hour))
	if err != nil {
		t.Fatalf("expiring: %v", err)
	}
	if len(expiring) != 1 || expiring[0].Domain != "soon.example.com" {
		t.Errorf("expiring = %+v", expiring)
	}
}

func TestPruneConnectionLogs(t *testing.T) {
	setupTestDB(t)

	old := ConnectionLog{ServerID: 1, Event: "connected"}
	if err := DB.Create(&old).Error; err != nil {
		t.Fatalf("create old: %v", err)
	}
	// Backdate past the cutoff.
	if err := DB.Model(&old).Update("created_at", time.Now().Add(-48*time.Hour)).Error; err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if err := AppendConnectionLog(1, "disconnected", "code 1006"); err != nil {
		t.Fatalf("create recent: %v", err)
	}

	pruned, err := PruneConnectionLogs(time.Now().Add(-24 * time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if pruned != 1 {
		t.Errorf("pruned = %d, want 1", pruned)
	}

	logs, err := RecentConnectionLogs(1, 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(logs) != 1 || logs[0].Event != "disconnected" {
		t.Errorf("remaining logs = %+v", logs)
	}
}
