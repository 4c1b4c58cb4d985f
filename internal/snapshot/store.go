// Package snapshot persists the last-seen record set so the mirror can show
// stale data before the first remote fetch completes. The store is
// best-effort: it is never authoritative and callers tolerate its failures.
package snapshot

import (
	"context"

	"gorm.io/gorm"

	"github.com/lastmilehq/deliverysync/internal/domain"
)

// serviceRow wraps a Service with its position in the cache so Load can
// restore the original insertion order.
type serviceRow struct {
	Position       int `gorm:"primaryKey;autoIncrement:false"`
	domain.Service `gorm:"embedded"`
}

// TableName sets the snapshot table name.
func (serviceRow) TableName() string { return "service_snapshot" }

// Store implements domain.SnapshotStore on a GORM database.
type Store struct {
	db *gorm.DB
}

// New creates a Store backed by the given database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the snapshot table.
func (s *Store) Migrate() error {
	return s.db.AutoMigrate(&serviceRow{})
}

// Save atomically replaces the stored snapshot with items.
func (s *Store) Save(ctx context.Context, items []domain.Service) error {
	rows := make([]serviceRow, 0, len(items))
	for i := range items {
		rows = append(rows, serviceRow{Position: i, Service: items[i]})
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&serviceRow{}).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		return tx.CreateInBatches(rows, 200).Error
	})
	if err != nil {
		return domain.NewAppError(domain.CodeInternal, "failed to save snapshot", err)
	}
	return nil
}

// Load returns the stored snapshot in its original insertion order.
// An empty table yields an empty slice, not an error.
func (s *Store) Load(ctx context.Context) ([]domain.Service, error) {
	var rows []serviceRow
	if err := s.db.WithContext(ctx).Order("position").Find(&rows).Error; err != nil {
		return nil, domain.NewAppError(domain.CodeInternal, "failed to load snapshot", err)
	}
	items := make([]domain.Service, 0, len(rows))
	for i := range rows {
		items = append(items, rows[i].Service)
	}
	return items, nil
}
