// Package store provides the key/value persistence contract and the reminder
// log built on top of it.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/victor-kironde/vk-reminder-bot/internal/models"
)

// KV is the read/write contract the bot consumes. Reads observe the latest
// successful write from the same process; no stronger consistency is assumed.
type KV interface {
	// Read returns the stored value for each key that has ever been written.
	// Keys never written are absent from the result.
	Read(ctx context.Context, keys []string) (map[string][]byte, error)

	// Write persists all changes. A failed write leaves prior values intact.
	Write(ctx context.Context, changes map[string][]byte) error
}

// MemoryKV is an in-memory KV for local runs and tests.
type MemoryKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemoryKV creates an empty MemoryKV.
func NewMemoryKV() *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte)}
}

// Read returns copies of the stored values for the given keys.
func (m *MemoryKV) Read(ctx context.Context, keys []string) (map[string][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := m.data[k]; ok {
			cp := make([]byte, len(v))
			copy(cp, v)
			out[k] = cp
		}
	}
	return out, nil
}

// Write stores copies of all changed values.
func (m *MemoryKV) Write(ctx context.Context, changes map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range changes {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.data[k] = cp
	}
	return nil
}

// GormKV stores values as key/value document rows via GORM (SQLite or MySQL).
type GormKV struct {
	db *gorm.DB
}

// NewGormKV creates a GormKV and migrates its backing table.
func NewGormKV(db *gorm.DB) (*GormKV, error) {
	if db == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	if err := db.AutoMigrate(&models.StorageRecord{}); err != nil {
		return nil, fmt.Errorf("store: migrate storage records: %w", err)
	}
	return &GormKV{db: db}, nil
}

// Read fetches the rows for the given keys.
func (g *GormKV) Read(ctx context.Context, keys []string) (map[string][]byte, error) {
	var rows []models.StorageRecord
	if err := g.db.WithContext(ctx).Where("key IN ?", keys).Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("store: read: %w", err)
	}
	out := make(map[string][]byte, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value
	}
	return out, nil
}

// Write upserts one row per changed key.
func (g *GormKV) Write(ctx context.Context, changes map[string][]byte) error {
	for k, v := range changes {
		rec := models.StorageRecord{Key: k, Value: v, UpdatedAt: time.Now()}
		err := g.db.WithContext(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
		}).Create(&rec).Error
		if err != nil {
			return fmt.Errorf("store: write %s: %w", k, err)
		}
	}
	return nil
}
