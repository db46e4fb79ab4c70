package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"nexstream/internal/core"
)

// brainRecord is the SQL row for a CacheRecord. Format lists are stored as JSON text.
type brainRecord struct {
	SourceURL    string `gorm:"primaryKey;type:varchar(512)"`
	Title        string
	Artist       string
	Album        string
	ImageURL     string
	DurationMs   int64
	ISRC         string `gorm:"index:idx_brain_isrc"`
	PreviewURL   string
	ResolvedURL  string
	Year         string
	Formats      string
	AudioFormats string
	Timestamp    time.Time
}

func (brainRecord) TableName() string {
	return "brain_records"
}

// SQLiteBackend stores brain records in a SQLite file through gorm.
type SQLiteBackend struct {
	db *gorm.DB
}

// NewSQLiteBackend opens (or creates) the database at path and migrates the schema.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db dir: %w", err)
		}
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("getting sql.DB from gorm: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := db.AutoMigrate(&brainRecord{}); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("auto migrate: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// Get returns the record for sourceURL, or nil when absent.
func (s *SQLiteBackend) Get(ctx context.Context, sourceURL string) (*core.CacheRecord, error) {
	var row brainRecord
	err := s.db.WithContext(ctx).First(&row, "source_url = ?", sourceURL).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("query brain record: %w", err)
	}
	return row.toCore()
}

// Put inserts or replaces the record.
func (s *SQLiteBackend) Put(ctx context.Context, record *core.CacheRecord) error {
	row, err := fromCore(record)
	if err != nil {
		return err
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(row).Error
	if err != nil {
		return fmt.Errorf("upsert brain record: %w", err)
	}
	return nil
}

// Keys returns every stored source URL.
func (s *SQLiteBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := s.db.WithContext(ctx).Model(&brainRecord{}).Pluck("source_url", &keys).Error; err != nil {
		return nil, fmt.Errorf("list brain keys: %w", err)
	}
	return keys, nil
}

// Ping checks the database connection.
func (s *SQLiteBackend) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database.
// Shared is false: the database file is owned by one process.
func (s *SQLiteBackend) Shared() bool { return false }

func (s *SQLiteBackend) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func fromCore(record *core.CacheRecord) (*brainRecord, error) {
	formats, err := json.Marshal(record.Formats)
	if err != nil {
		return nil, fmt.Errorf("encode formats: %w", err)
	}
	audioFormats, err := json.Marshal(record.AudioFormats)
	if err != nil {
		return nil, fmt.Errorf("encode audio formats: %w", err)
	}
	return &brainRecord{
		SourceURL:    record.SourceURL,
		Title:        record.Title,
		Artist:       record.Artist,
		Album:        record.Album,
		ImageURL:     record.ImageURL,
		DurationMs:   record.DurationMs,
		ISRC:         record.ISRC,
		PreviewURL:   record.PreviewURL,
		ResolvedURL:  record.ResolvedURL,
		Year:         record.Year,
		Formats:      string(formats),
		AudioFormats: string(audioFormats),
		Timestamp:    record.Timestamp,
	}, nil
}

func (r *brainRecord) toCore() (*core.CacheRecord, error) {
	record := &core.CacheRecord{
		SourceURL:   r.SourceURL,
		Title:       r.Title,
		Artist:      r.Artist,
		Album:       r.Album,
		ImageURL:    r.ImageURL,
		DurationMs:  r.DurationMs,
		ISRC:        r.ISRC,
		PreviewURL:  r.PreviewURL,
		ResolvedURL: r.ResolvedURL,
		Year:        r.Year,
		Timestamp:   r.Timestamp,
	}
	if r.Formats != "" {
		if err := json.Unmarshal([]byte(r.Formats), &record.Formats); err != nil {
			return nil, fmt.Errorf("decode formats: %w", err)
		}
	}
	if r.AudioFormats != "" {
		if err := json.Unmarshal([]byte(r.AudioFormats), &record.AudioFormats); err != nil {
			return nil, fmt.Errorf("decode audio formats: %w", err)
		}
	}
	return record, nil
}
