package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// collectionRow stores a whole collection as one JSON document.
type collectionRow struct {
	Name      string         `gorm:"primaryKey;size:128"`
	Records   datatypes.JSON `gorm:"not null"`
	UpdatedAt time.Time
}

func (collectionRow) TableName() string { return "collections" }

// SQLStore keeps collections in a gorm-managed table (sqlite in practice).
type SQLStore struct {
	db     *gorm.DB
	logger zerolog.Logger
}

func NewSQLStore(db *gorm.DB, logger zerolog.Logger) *SQLStore {
	return &SQLStore{db: db, logger: logger}
}

// AutoMigrate creates the collections table.
func (s *SQLStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&collectionRow{}); err != nil {
		return fmt.Errorf("migrate collections table: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context, name string) []Record {
	records, err := s.Fetch(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", name).Msg("failed to load collection")
		return []Record{}
	}
	return records
}

func (s *SQLStore) Fetch(ctx context.Context, name string) ([]Record, error) {
	var row collectionRow
	err := s.db.WithContext(ctx).Where("name = ?", name).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", name, err)
	}
	records, err := decodeCollection(row.Records)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return records, nil
}

func (s *SQLStore) Save(ctx context.Context, name string, records []Record) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := encodeCollection(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	row := collectionRow{Name: name, Records: datatypes.JSON(data), UpdatedAt: time.Now().UTC()}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"records", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}
