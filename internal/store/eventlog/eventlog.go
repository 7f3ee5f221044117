// Package eventlog keeps a local append-only audit trail of reconciliation
// findings and runtime incidents. It is evidence for the operator, not a
// source of truth; the system of record stays canonical.
package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"keel/internal/gateway/record"
)

// Event is one audit entry.
type Event struct {
	ID        string
	Kind      string
	Message   string
	Detail    json.RawMessage
	CreatedAt time.Time
}

type eventModel struct {
	ID            int64          `gorm:"column:id;primaryKey"`
	EventID       string         `gorm:"column:event_uuid;index"`
	Kind          string         `gorm:"column:kind;index"`
	Message       string         `gorm:"column:message"`
	Detail        datatypes.JSON `gorm:"column:detail"`
	CreatedAtUnix int64          `gorm:"column:created_at;index"`
}

func (eventModel) TableName() string { return "event_log" }

// Store is the SQLite-backed audit log.
type Store struct {
	db *gorm.DB
}

func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("eventlog: path must not be empty")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("eventlog: create dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&eventModel{}); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: keep contention low while the HTTP status reads run
	// alongside the reconcile loop's writes.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Append writes one audit entry. Satisfies the reconciler's Auditor.
func (s *Store) Append(ctx context.Context, kind, message string, detail record.Payload) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("eventlog: store not initialized")
	}
	var blob []byte
	if len(detail) > 0 {
		encoded, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("eventlog: encode detail: %w", err)
		}
		blob = encoded
	}
	model := eventModel{
		EventID:       uuid.NewString(),
		Kind:          kind,
		Message:       message,
		Detail:        datatypes.JSON(blob),
		CreatedAtUnix: time.Now().UnixMilli(),
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

// Recent returns the newest entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("eventlog: store not initialized")
	}
	if limit <= 0 {
		limit = 100
	}
	var models []eventModel
	err := s.db.WithContext(ctx).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(models))
	for _, m := range models {
		out = append(out, Event{
			ID:        m.EventID,
			Kind:      m.Kind,
			Message:   m.Message,
			Detail:    json.RawMessage(m.Detail),
			CreatedAt: time.UnixMilli(m.CreatedAtUnix),
		})
	}
	return out, nil
}
