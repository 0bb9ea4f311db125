package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
)

type queryable interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// PGStore keeps collections in the collections table created by the
// postgres migrations.
type PGStore struct {
	conn   queryable
	logger zerolog.Logger
}

// NewPGStore accepts a *pgxpool.Pool or any connection with the same
// query methods.
func NewPGStore(conn queryable, logger zerolog.Logger) *PGStore {
	return &PGStore{conn: conn, logger: logger}
}

func (s *PGStore) Load(ctx context.Context, name string) []Record {
	records, err := s.Fetch(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", name).Msg("failed to load collection")
		return []Record{}
	}
	return records
}

func (s *PGStore) Fetch(ctx context.Context, name string) ([]Record, error) {
	var raw []byte
	err := s.conn.QueryRow(ctx, `SELECT records FROM collections WHERE name = $1`, name).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return []Record{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", name, err)
	}
	records, err := decodeCollection(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return records, nil
}

func (s *PGStore) Save(ctx context.Context, name string, records []Record) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := encodeCollection(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	_, err = s.conn.Exec(ctx, `
		INSERT INTO collections (name, records, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (name) DO UPDATE SET records = EXCLUDED.records, updated_at = NOW()`,
		name, data)
	if err != nil {
		return fmt.Errorf("upsert %s: %w", name, err)
	}
	return nil
}
