package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
)

// FileStore keeps one JSON file per collection under a data directory.
// Writes go to a temporary file that is renamed over the target.
type FileStore struct {
	fs     afero.Fs
	dir    string
	logger zerolog.Logger
	mu     sync.Mutex
}

// NewFileStore creates the data directory if needed.
func NewFileStore(fs afero.Fs, dir string, logger zerolog.Logger) (*FileStore, error) {
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", dir, err)
	}
	return &FileStore{fs: fs, dir: dir, logger: logger}, nil
}

func (s *FileStore) path(name string) string {
	return filepath.Join(s.dir, name+".json")
}

func (s *FileStore) Load(ctx context.Context, name string) []Record {
	records, err := s.Fetch(ctx, name)
	if err != nil {
		s.logger.Error().Err(err).Str("collection", name).Msg("failed to load collection")
		return []Record{}
	}
	return records
}

// Fetch reads a collection. A missing file is an empty collection; an
// unreadable or malformed one is an error.
func (s *FileStore) Fetch(_ context.Context, name string) ([]Record, error) {
	if !validName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	p := s.path(name)
	exists, err := afero.Exists(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", name, err)
	}
	if !exists {
		s.logger.Debug().Str("collection", name).Msg("collection file not found, starting empty")
		return []Record{}, nil
	}
	data, err := afero.ReadFile(s.fs, p)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	records, err := decodeCollection(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return records, nil
}

func (s *FileStore) Save(_ context.Context, name string, records []Record) error {
	if !validName(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	data, err := encodeCollection(records)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := afero.TempFile(s.fs, s.dir, name+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", name, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		s.fs.Remove(tmpName)
		return fmt.Errorf("write %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("close %s: %w", name, err)
	}
	if err := s.fs.Rename(tmpName, s.path(name)); err != nil {
		s.fs.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", name, err)
	}

	s.logger.Debug().Str("collection", name).Int("records", len(records)).Msg("collection saved")
	return nil
}
