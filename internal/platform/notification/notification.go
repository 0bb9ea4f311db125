// Package notification keeps per-user in-app notifications: creation,
// read/sent state, listing and retention.
package notification

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/storage"
)

// ---------------------------------------------------------------------------
// Model
// ---------------------------------------------------------------------------

// Collection is the storage collection holding notifications.
const Collection = "notifications"

const idPrefix = "NOTIF-"

// Type classifies a notification by the event that produced it.
type Type string

const (
	TypeAppointmentConfirmation Type = "appointment_confirmation"
	TypeAppointmentPending      Type = "appointment_pending"
	TypeNewAppointment          Type = "new_appointment"
	TypeAppointmentCancelled    Type = "appointment_cancelled"
	TypeAppointmentDeleted      Type = "appointment_deleted"
	TypeAppointmentConfirmed    Type = "appointment_confirmed"
	TypeReminder                Type = "reminder"
	TypeStatusChange            Type = "status_change"
	TypeSystem                  Type = "system"
)

type Status string

const (
	StatusUnread Status = "unread"
	StatusRead   Status = "read"
	StatusSent   Status = "sent"
)

func (s Status) Valid() bool {
	return s == StatusUnread || s == StatusRead || s == StatusSent
}

type Notification struct {
	ID        string    `json:"notification_id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      Type      `json:"notification_type"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// ---------------------------------------------------------------------------
// Store
// ---------------------------------------------------------------------------

// Store holds notifications in memory and writes the whole collection
// through to storage on every change.
type Store struct {
	mu     sync.Mutex
	items  []Notification
	store  storage.Store
	seq    *storage.Sequence
	logger zerolog.Logger
	now    func() time.Time
}

func NewStore(ctx context.Context, st storage.Store, seq *storage.Sequence, logger zerolog.Logger) *Store {
	s := &Store{
		store:  st,
		seq:    seq,
		logger: logger.With().Str("component", "notifications").Logger(),
		now:    time.Now,
	}
	s.items = storage.LoadInto[Notification](ctx, st, Collection, s.logger)
	return s
}

// Reload re-reads the collection from storage.
func (s *Store) Reload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := storage.ReloadInto[Notification](ctx, s.store, Collection, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reload failed, keeping in-memory state")
		return
	}
	s.items = items
}

func (s *Store) persist(ctx context.Context) error {
	if err := storage.SaveFrom(ctx, s.store, Collection, s.items); err != nil {
		return apperr.Persistence(err, "Erreur lors de l'enregistrement des notifications")
	}
	return nil
}

// maxSuffix returns the highest numeric id in use, so a fresh counter
// never reissues an id present in older data.
func (s *Store) maxSuffix() int {
	highest := 0
	for _, n := range s.items {
		if !strings.HasPrefix(n.ID, idPrefix) {
			continue
		}
		num, err := strconv.Atoi(strings.TrimPrefix(n.ID, idPrefix))
		if err == nil && num > highest {
			highest = num
		}
	}
	return highest
}

func (s *Store) indexOf(id string) int {
	for i := range s.items {
		if s.items[i].ID == id {
			return i
		}
	}
	return -1
}

// Create records an unread notification for userID and persists it.
func (s *Store) Create(ctx context.Context, userID, title, message string, typ Type) (*Notification, error) {
	if userID == "" || title == "" {
		return nil, apperr.Validation("Destinataire et titre requis")
	}
	if typ == "" {
		typ = TypeSystem
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	num := s.maxSuffix() + 1
	if s.seq != nil {
		var err error
		num, err = s.seq.Next(ctx, Collection, s.maxSuffix())
		if err != nil {
			return nil, apperr.Persistence(err, "Impossible d'allouer un identifiant de notification")
		}
	}

	n := Notification{
		ID:        idPrefix + strconv.Itoa(num),
		UserID:    userID,
		Title:     title,
		Message:   message,
		Type:      typ,
		Status:    StatusUnread,
		CreatedAt: s.now(),
	}
	s.items = append(s.items, n)

	if err := s.persist(ctx); err != nil {
		s.items = s.items[:len(s.items)-1]
		return nil, err
	}

	s.logger.Debug().Str("notification_id", n.ID).Str("user_id", userID).Str("type", string(typ)).Msg("notification created")
	return &n, nil
}

func (s *Store) setStatus(ctx context.Context, id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return apperr.NotFound("Notification non trouvée")
	}
	prev := s.items[i].Status
	if prev == status {
		return nil
	}
	s.items[i].Status = status
	if err := s.persist(ctx); err != nil {
		s.items[i].Status = prev
		return err
	}
	return nil
}

func (s *Store) MarkRead(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusRead)
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	return s.setStatus(ctx, id, StatusSent)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return apperr.NotFound("Notification non trouvée")
	}
	prev := s.items
	s.items = make([]Notification, 0, len(prev)-1)
	s.items = append(s.items, prev[:i]...)
	s.items = append(s.items, prev[i+1:]...)

	if err := s.persist(ctx); err != nil {
		s.items = prev
		return err
	}
	return nil
}

func (s *Store) Get(id string) (*Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, apperr.NotFound("Notification non trouvée")
	}
	n := s.items[i]
	return &n, nil
}

// ListForUser returns the user's notifications, newest first. An empty
// status matches every status.
func (s *Store) ListForUser(userID string, status Status) []Notification {
	s.mu.Lock()
	out := make([]Notification, 0)
	for _, n := range s.items {
		if n.UserID != userID {
			continue
		}
		if status != "" && n.Status != status {
			continue
		}
		out = append(out, n)
	}
	s.mu.Unlock()

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

func (s *Store) UnreadCount(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, n := range s.items {
		if n.UserID == userID && n.Status == StatusUnread {
			count++
		}
	}
	return count
}

// Purge removes read and sent notifications created before cutoff.
// Unread notifications are always kept.
func (s *Store) Purge(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.items
	kept := make([]Notification, 0, len(prev))
	for _, n := range prev {
		if n.Status != StatusUnread && n.CreatedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, n)
	}
	removed := len(prev) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	s.items = kept
	if err := s.persist(ctx); err != nil {
		s.items = prev
		return 0, err
	}
	s.logger.Info().Int("removed", removed).Time("cutoff", cutoff).Msg("old notifications purged")
	return removed, nil
}
