package database

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/EnderKC/BetterMonitor-sub000/internal/config"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var DB *gorm.DB

func Init() error {
	dbPath := config.Cfg.DatabasePath
	dbDir := filepath.Dir(dbPath)
	if dbDir != "" {
		if err := os.MkdirAll(dbDir, 0755); err != nil {
			return fmt.Errorf("create db directory: %w", err)
		}
	}

	var err error
	DB, err = gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	sqlDB, err := DB.DB()
	if err != nil {
		return fmt.Errorf("get sql.DB: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return fmt.Errorf("set busy timeout: %w", err)
	}

	if err := DB.AutoMigrate(&Server{}, &Setting{}, &Certificate{}, &ConnectionLog{}); err != nil {
		return fmt.Errorf("auto-migrate: %w", err)
	}

	if err := migrateSortOrder(); err != nil {
		return fmt.Errorf("migrate sort order: %w", err)
	}

	return nil
}

func Close() error {
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}
	return nil
}

// migrateSortOrder sets sort_order = id for existing rows that still have the default 0.
func migrateSortOrder() error {
	return DB.Model(&Server{}).Where("sort_order = 0").Update("sort_order", gorm.Expr("id")).Error
}

func GetSetting(key string) (string, error) {
	var s Setting
	if err := DB.Where("key = ?", key).First(&s).Error; err != nil {
		return "", err
	}
	return s.Value, nil
}

func SetSetting(key, value string) error {
	return DB.Where("key = ?", key).Assign(Setting{Value: value}).FirstOrCreate(&Setting{Key: key}).Error
}

func DeleteSetting(key string) error {
	return DB.Where("key = ?", key).Delete(&Setting{}).Error
}

// Server helpers

func GetServer(id uint) (*Server, error) {
	var s Server
	if err := DB.First(&s, id).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func GetServerByName(name string) (*Server, error) {
	var s Server
	if err := DB.Where("name = ?", name).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func ListServers() ([]Server, error) {
	var servers []Server
	if err := DB.Order("sort_order, id").Find(&servers).Error; err != nil {
		return nil, err
	}
	return servers, nil
}

func CreateServer(s *Server) error {
	return DB.Create(s).Error
}

func UpdateServer(s *Server) error {
	return DB.Save(s).Error
}

func DeleteServer(id uint) error {
	DB.Where("server_id = ?", id).Delete(&Certificate{})
	DB.Where("server_id = ?", id).Delete(&ConnectionLog{})
	return DB.Delete(&Server{}, id).Error
}

// Certificate helpers

// ReplaceCertificates swaps the cached certificate inventory for a server.
func ReplaceCertificates(serverID uint, certs []Certificate) error {
	return DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("server_id = ?", serverID).Delete(&Certificate{}).Error; err != nil {
			return err
		}
		now := time.Now()
		for i := range certs {
			certs[i].ID = 0
			certs[i].ServerID = serverID
			certs[i].LastCheckedAt = now
			if err := tx.Create(&certs[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func ListCertificates(serverID uint) ([]Certificate, error) {
	var certs []Certificate
	if err := DB.Where("server_id = ?", serverID).Order("domain").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// ExpiringCertificates returns certificates that expire before the deadline,
// across all servers, soonest first.
func ExpiringCertificates(deadline time.Time) ([]Certificate, error) {
	var certs []Certificate
	if err := DB.Where("not_after < ?", deadline).Order("not_after").Find(&certs).Error; err != nil {
		return nil, err
	}
	return certs, nil
}

// ConnectionLog helpers

func AppendConnectionLog(serverID uint, event, detail string) error {
	return DB.Create(&ConnectionLog{ServerID: serverID, Event: event, Detail: detail}).Error
}

func RecentConnectionLogs(serverID uint, limit int) ([]ConnectionLog, error) {
	var logs []ConnectionLog
	if err := DB.Where("server_id = ?", serverID).Order("id desc").Limit(limit).Find(&logs).Error; err != nil {
		return nil, err
	}
	return logs, nil
}

// PruneConnectionLogs deletes log rows older than the cutoff and returns how
// many were removed.
func PruneConnectionLogs(cutoff time.Time) (int64, error) {
	res := DB.Where("created_at < ?", cutoff).Delete(&ConnectionLog{})
	return res.RowsAffected, res.Error
}
