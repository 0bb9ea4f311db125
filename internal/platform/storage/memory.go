package storage

import (
	"context"
	"sync"
)

// MemoryStore is a thread-safe in-memory Store for tests and dry runs.
// SetSaveError makes every following Save fail, which lets callers exercise
// their persistence-failure paths.
type MemoryStore struct {
	mu      sync.RWMutex
	data    map[string][]byte
	saves   map[string]int
	saveErr error
	loadErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data:  make(map[string][]byte),
		saves: make(map[string]int),
	}
}

func (m *MemoryStore) Load(ctx context.Context, name string) []Record {
	records, err := m.Fetch(ctx, name)
	if err != nil {
		return []Record{}
	}
	return records
}

func (m *MemoryStore) Fetch(_ context.Context, name string) ([]Record, error) {
	m.mu.RLock()
	raw, ok := m.data[name]
	loadErr := m.loadErr
	m.mu.RUnlock()
	if loadErr != nil {
		return nil, loadErr
	}
	if !ok {
		return []Record{}, nil
	}
	return decodeCollection(raw)
}

func (m *MemoryStore) Save(_ context.Context, name string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	data, err := encodeCollection(records)
	if err != nil {
		return err
	}
	m.data[name] = data
	m.saves[name]++
	return nil
}

// SetSaveError sets the error returned by Save. Pass nil to restore saving.
func (m *MemoryStore) SetSaveError(err error) {
	m.mu.Lock()
	m.saveErr = err
	m.mu.Unlock()
}

// SetLoadError makes Fetch fail (and Load come back empty) until reset
// with nil.
func (m *MemoryStore) SetLoadError(err error) {
	m.mu.Lock()
	m.loadErr = err
	m.mu.Unlock()
}

// Saves returns how many successful saves the named collection received.
func (m *MemoryStore) Saves(name string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves[name]
}

// Put stores raw bytes for a collection, bypassing encoding.
func (m *MemoryStore) Put(name string, raw []byte) {
	m.mu.Lock()
	m.data[name] = raw
	m.mu.Unlock()
}
