// Package storage persists named collections of JSON records. A collection
// is always loaded and saved as a whole: Load never fails (missing or
// unreadable collections come back empty) and Save replaces the stored
// collection in one step.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
)

// ---------------------------------------------------------------------------
// Contract
// ---------------------------------------------------------------------------

// Record is one JSON-encoded item of a collection.
type Record = json.RawMessage

// Store is the persistence collaborator used by every domain component.
type Store interface {
	Load(ctx context.Context, name string) []Record
	Save(ctx context.Context, name string, records []Record) error
}

// Fetcher is implemented by stores that can tell a missing collection from
// one that failed to load.
type Fetcher interface {
	Fetch(ctx context.Context, name string) ([]Record, error)
}

var ErrInvalidName = errors.New("invalid collection name")

func validName(name string) bool {
	return name != "" && !strings.ContainsAny(name, `/\.`)
}

// ---------------------------------------------------------------------------
// Typed helpers
// ---------------------------------------------------------------------------

// LoadInto decodes a collection into values of type T. Records that fail to
// decode are logged and skipped.
func LoadInto[T any](ctx context.Context, s Store, name string, logger zerolog.Logger) []T {
	return decodeItems[T](s.Load(ctx, name), name, logger)
}

func decodeItems[T any](records []Record, name string, logger zerolog.Logger) []T {
	out := make([]T, 0, len(records))
	for i, r := range records {
		var v T
		if err := json.Unmarshal(r, &v); err != nil {
			logger.Warn().Err(err).Str("collection", name).Int("index", i).Msg("skipping malformed record")
			continue
		}
		out = append(out, v)
	}
	return out
}

// ReloadInto is LoadInto for state that is already held in memory: a read
// failure is returned instead of an empty collection, so callers can keep
// what they have. Stores that are not Fetchers fall back to Load.
func ReloadInto[T any](ctx context.Context, s Store, name string, logger zerolog.Logger) ([]T, error) {
	f, ok := s.(Fetcher)
	if !ok {
		return LoadInto[T](ctx, s, name, logger), nil
	}
	records, err := f.Fetch(ctx, name)
	if err != nil {
		return nil, err
	}
	return decodeItems[T](records, name, logger), nil
}

// SaveFrom encodes items and saves them as the named collection.
func SaveFrom[T any](ctx context.Context, s Store, name string, items []T) error {
	records := make([]Record, 0, len(items))
	for _, it := range items {
		b, err := json.Marshal(it)
		if err != nil {
			return fmt.Errorf("encode %s record: %w", name, err)
		}
		records = append(records, b)
	}
	if err := s.Save(ctx, name, records); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Encoding shared by the blob-style backends
// ---------------------------------------------------------------------------

func encodeCollection(records []Record) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "    ")
	if err := enc.Encode(records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeCollection(data []byte) ([]Record, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return []Record{}, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, err
	}
	if records == nil {
		records = []Record{}
	}
	return records, nil
}
