// Package storage implements the optional execution history store via
// GORM. SQLite (pure Go, no CGO) is the default backend; PostgreSQL is
// available for deployments that already run one.
//
// The store is an audit/observability surface only — execution itself
// never reads from it, so disabling it (the default) changes nothing
// about request handling.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/jkaninda/kazi/internal/config"
)

// ExecutionRecord is one persisted execution outcome.
type ExecutionRecord struct {
	ID           string    `gorm:"primaryKey" json:"id"`
	PackageName  string    `gorm:"index" json:"packageName"`
	Version      string    `json:"version"`
	Tool         string    `json:"tool"`
	Success      bool      `json:"success"`
	ErrorCode    string    `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"error,omitempty"`
	DurationMs   int64     `json:"durationMs"`
	CreatedAt    time.Time `gorm:"index" json:"createdAt"`
}

// TableName keeps the table name stable across backends.
func (ExecutionRecord) TableName() string { return "executions" }

// NewRecordID returns a fresh record identifier.
func NewRecordID() string { return uuid.NewString() }

// HistoryStore persists and queries execution records.
type HistoryStore interface {
	Record(ctx context.Context, rec *ExecutionRecord) error
	ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Store implements HistoryStore on a gorm.DB.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open creates a HistoryStore from config. The sqlitePath is the
// default database location used when the SQLite backend has no
// explicit path configured.
func Open(cfg *config.HistoryConfig, sqlitePath string, logger *slog.Logger) (*Store, error) {
	var dialector gorm.Dialector
	switch cfg.HistoryDriver() {
	case "postgres":
		dialector = postgres.Open(cfg.Postgres.DSN)
	default:
		if err := os.MkdirAll(filepath.Dir(sqlitePath), 0750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
		// WAL mode for concurrent reads while executions are recorded.
		dialector = sqlite.Open(sqlitePath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening %s history store: %w", cfg.HistoryDriver(), err)
	}

	if cfg.HistoryDriver() == "postgres" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("accessing sql.DB: %w", err)
		}
		maxOpen := cfg.Postgres.MaxOpenConns
		if maxOpen <= 0 {
			maxOpen = 25
		}
		maxIdle := cfg.Postgres.MaxIdleConns
		if maxIdle <= 0 {
			maxIdle = 5
		}
		lifetime := cfg.Postgres.ConnMaxLifetimeS
		if lifetime <= 0 {
			lifetime = 1800
		}
		sqlDB.SetMaxOpenConns(maxOpen)
		sqlDB.SetMaxIdleConns(maxIdle)
		sqlDB.SetConnMaxLifetime(time.Duration(lifetime) * time.Second)
	}

	if err := db.AutoMigrate(&ExecutionRecord{}); err != nil {
		return nil, fmt.Errorf("migrating history schema: %w", err)
	}

	logger.Info("history store opened", slog.String("driver", cfg.HistoryDriver()))

	return &Store{db: db, logger: logger}, nil
}

// Record inserts one execution record.
func (s *Store) Record(ctx context.Context, rec *ExecutionRecord) error {
	if rec.ID == "" {
		rec.ID = NewRecordID()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return fmt.Errorf("recording execution: %w", err)
	}
	return nil
}

// ListRecent returns up to limit records, newest first.
func (s *Store) ListRecent(ctx context.Context, limit int) ([]ExecutionRecord, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	var recs []ExecutionRecord
	err := s.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("listing executions: %w", err)
	}
	return recs, nil
}

// PruneOlderThan deletes records created before cutoff and returns the
// number removed.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&ExecutionRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("pruning executions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Ping verifies database connectivity for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
