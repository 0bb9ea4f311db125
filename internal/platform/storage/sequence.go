package storage

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// CollectionSequences holds the persisted counters.
const CollectionSequences = "sequences"

type sequenceRecord struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// Sequence hands out monotonically increasing integers per name. Values are
// persisted so identifiers are never reused after deletions or restarts.
type Sequence struct {
	mu     sync.Mutex
	store  Store
	logger zerolog.Logger
	values map[string]int
	loaded bool
}

func NewSequence(store Store, logger zerolog.Logger) *Sequence {
	return &Sequence{store: store, logger: logger, values: make(map[string]int)}
}

func (q *Sequence) load(ctx context.Context) {
	if q.loaded {
		return
	}
	for _, r := range LoadInto[sequenceRecord](ctx, q.store, CollectionSequences, q.logger) {
		q.values[r.Name] = r.Value
	}
	q.loaded = true
}

// Next returns the next value for name. floor is the highest value already
// in use by existing data; the result is always greater than it.
func (q *Sequence) Next(ctx context.Context, name string, floor int) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.load(ctx)

	prev, had := q.values[name]
	next := prev
	if floor > next {
		next = floor
	}
	next++
	q.values[name] = next

	if err := q.save(ctx); err != nil {
		if had {
			q.values[name] = prev
		} else {
			delete(q.values, name)
		}
		return 0, err
	}
	return next, nil
}

// Current returns the last value handed out for name.
func (q *Sequence) Current(ctx context.Context, name string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.load(ctx)
	return q.values[name]
}

func (q *Sequence) save(ctx context.Context) error {
	records := make([]sequenceRecord, 0, len(q.values))
	for name, v := range q.values {
		records = append(records, sequenceRecord{Name: name, Value: v})
	}
	return SaveFrom(ctx, q.store, CollectionSequences, records)
}
