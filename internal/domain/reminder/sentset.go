package reminder

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SentSet remembers which reminders went out. Keys are
// "<appointment_id>_<patient_id>".
type SentSet interface {
	Has(ctx context.Context, key string) (bool, error)
	Add(ctx context.Context, key string) error
}

func sentKey(appointmentID, patientID string) string {
	return appointmentID + "_" + patientID
}

// MemorySentSet lives as long as the process; a restart forgets it.
type MemorySentSet struct {
	mu   sync.Mutex
	keys map[string]struct{}
}

func NewMemorySentSet() *MemorySentSet {
	return &MemorySentSet{keys: make(map[string]struct{})}
}

func (s *MemorySentSet) Has(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.keys[key]
	return ok, nil
}

func (s *MemorySentSet) Add(_ context.Context, key string) error {
	s.mu.Lock()
	s.keys[key] = struct{}{}
	s.mu.Unlock()
	return nil
}

func (s *MemorySentSet) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.keys)
}

const redisSentPrefix = "reminder:sent:"

// RedisSentSet keeps the keys in Redis so reminders survive restarts and
// are shared between instances. Keys expire after ttl; a reminder only
// matters for the day before the appointment.
type RedisSentSet struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisSentSet(client *redis.Client, ttl time.Duration) *RedisSentSet {
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &RedisSentSet{client: client, ttl: ttl}
}

func (s *RedisSentSet) Has(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, redisSentPrefix+key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *RedisSentSet) Add(ctx context.Context, key string) error {
	return s.client.Set(ctx, redisSentPrefix+key, time.Now().UTC().Format(time.RFC3339), s.ttl).Err()
}
