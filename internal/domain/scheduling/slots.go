package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/storage"
)

// ScheduleStore owns doctor timeslots. Slots are matched by
// (doctor_id, start_time); nothing ties them to appointment records.
type ScheduleStore struct {
	mu         sync.Mutex
	slots      []TimeSlot
	store      storage.Store
	seq        *storage.Sequence
	slotLength time.Duration
	logger     zerolog.Logger
}

func NewScheduleStore(ctx context.Context, st storage.Store, seq *storage.Sequence, slotLength time.Duration, logger zerolog.Logger) *ScheduleStore {
	if slotLength <= 0 {
		slotLength = time.Hour
	}
	s := &ScheduleStore{
		store:      st,
		seq:        seq,
		slotLength: slotLength,
		logger:     logger.With().Str("component", "schedule").Logger(),
	}
	s.slots = storage.LoadInto[TimeSlot](ctx, st, CollectionTimeSlots, s.logger)
	return s
}

func (s *ScheduleStore) Reload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	slots, err := storage.ReloadInto[TimeSlot](ctx, s.store, CollectionTimeSlots, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reload failed, keeping in-memory state")
		return
	}
	s.slots = slots
}

// SlotLength is the duration of one generated slot.
func (s *ScheduleStore) SlotLength() time.Duration { return s.slotLength }

func (s *ScheduleStore) persist(ctx context.Context) error {
	if err := storage.SaveFrom(ctx, s.store, CollectionTimeSlots, s.slots); err != nil {
		return apperr.Persistence(err, "Erreur lors de l'enregistrement des créneaux")
	}
	return nil
}

func (s *ScheduleStore) maxID() int {
	highest := 0
	for _, sl := range s.slots {
		if sl.ID > highest {
			highest = sl.ID
		}
	}
	return highest
}

func (s *ScheduleStore) find(doctorID string, start time.Time) int {
	for i := range s.slots {
		if s.slots[i].DoctorID == doctorID && s.slots[i].StartTime.Equal(start) {
			return i
		}
	}
	return -1
}

// nextID is max+1 without a sequence, so ids may be reused after deletes.
func (s *ScheduleStore) nextID(ctx context.Context) (int, error) {
	if s.seq == nil {
		return s.maxID() + 1, nil
	}
	id, err := s.seq.Next(ctx, CollectionTimeSlots, s.maxID())
	if err != nil {
		return 0, apperr.Persistence(err, "Impossible d'allouer un identifiant de créneau")
	}
	return id, nil
}

// appendSlots allocates ids and persists; on failure nothing is kept.
func (s *ScheduleStore) appendSlots(ctx context.Context, slots []TimeSlot) ([]TimeSlot, error) {
	prev := s.slots
	for i := range slots {
		id, err := s.nextID(ctx)
		if err != nil {
			s.slots = prev
			return nil, err
		}
		slots[i].ID = id
		s.slots = append(s.slots, slots[i])
	}
	if err := s.persist(ctx); err != nil {
		s.slots = prev
		return nil, err
	}
	return slots, nil
}

func checkWindow(doctorID string, start, end time.Time) error {
	if doctorID == "" || start.IsZero() || end.IsZero() {
		return apperr.Validation("Tous les champs sont requis")
	}
	if !end.After(start) {
		return apperr.Validation("L'heure de fin doit être après le début")
	}
	return nil
}

// AddAvailability appends one free slot. Overlapping availability is not
// rejected.
func (s *ScheduleStore) AddAvailability(ctx context.Context, doctorID string, start, end time.Time) (*TimeSlot, error) {
	if err := checkWindow(doctorID, start, end); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	added, err := s.appendSlots(ctx, []TimeSlot{{DoctorID: doctorID, StartTime: start, EndTime: end, State: SlotFree}})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("doctor_id", doctorID).Time("start", start).Time("end", end).Msg("availability added")
	return &added[0], nil
}

// split cuts [start, end) into whole slots of slotLength.
func (s *ScheduleStore) split(start, end time.Time) [][2]time.Time {
	var out [][2]time.Time
	for t := start; !t.Add(s.slotLength).After(end); t = t.Add(s.slotLength) {
		out = append(out, [2]time.Time{t, t.Add(s.slotLength)})
	}
	return out
}

// AddAvailabilityRange adds a free slot for every whole slot length in
// [start, end) and returns how many were created. Starts that already
// have a slot are skipped.
func (s *ScheduleStore) AddAvailabilityRange(ctx context.Context, doctorID string, start, end time.Time) (int, error) {
	if err := checkWindow(doctorID, start, end); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var fresh []TimeSlot
	for _, w := range s.split(start, end) {
		if s.find(doctorID, w[0]) >= 0 {
			continue
		}
		fresh = append(fresh, TimeSlot{DoctorID: doctorID, StartTime: w[0], EndTime: w[1], State: SlotFree})
	}
	if len(fresh) == 0 {
		return 0, nil
	}
	if _, err := s.appendSlots(ctx, fresh); err != nil {
		return 0, err
	}
	s.logger.Info().Str("doctor_id", doctorID).Int("slots", len(fresh)).Msg("availability range added")
	return len(fresh), nil
}

// BlockRange blocks every whole slot in [start, end). Free slots become
// blocked, missing ones are created blocked, booked ones are left alone.
func (s *ScheduleStore) BlockRange(ctx context.Context, doctorID string, start, end time.Time) (int, error) {
	if err := checkWindow(doctorID, start, end); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := make([]TimeSlot, len(s.slots))
	copy(prev, s.slots)

	count := 0
	var fresh []TimeSlot
	for _, w := range s.split(start, end) {
		i := s.find(doctorID, w[0])
		switch {
		case i < 0:
			fresh = append(fresh, TimeSlot{DoctorID: doctorID, StartTime: w[0], EndTime: w[1], State: SlotBlocked})
		case s.slots[i].Free():
			s.slots[i].block()
			count++
		}
	}

	if len(fresh) > 0 {
		if _, err := s.appendSlots(ctx, fresh); err != nil {
			s.slots = prev
			return 0, err
		}
		count += len(fresh)
	} else if count > 0 {
		if err := s.persist(ctx); err != nil {
			s.slots = prev
			return 0, err
		}
	}
	return count, nil
}

func (s *ScheduleStore) filter(doctorID string, keep func(*TimeSlot) bool) []TimeSlot {
	s.mu.Lock()
	out := make([]TimeSlot, 0)
	for i := range s.slots {
		if s.slots[i].DoctorID == doctorID && keep(&s.slots[i]) {
			out = append(out, s.slots[i])
		}
	}
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// DoctorAvailability returns the doctor's free slots in start order.
func (s *ScheduleStore) DoctorAvailability(doctorID string) []TimeSlot {
	return s.filter(doctorID, (*TimeSlot).Free)
}

// DoctorSchedule returns every slot of the doctor in start order.
func (s *ScheduleStore) DoctorSchedule(doctorID string) []TimeSlot {
	return s.filter(doctorID, func(*TimeSlot) bool { return true })
}

// transition moves the slot at (doctorID, start) from state `from` by
// applying apply, then persists. A non-empty owner must match the slot's
// appointment. The slot is restored on failure.
func (s *ScheduleStore) transition(ctx context.Context, doctorID string, start time.Time, from SlotState, owner string, apply func(*TimeSlot)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.find(doctorID, start)
	if i < 0 {
		return apperr.NotFound("Créneau non trouvé")
	}
	sl := &s.slots[i]
	if sl.State != from || (owner != "" && sl.AppointmentID != owner) {
		return apperr.Conflict("Créneau %s non disponible (état: %s)", sl.StartTime.Format(time.RFC3339), sl.State)
	}

	prev := *sl
	apply(sl)
	if err := s.persist(ctx); err != nil {
		s.slots[i] = prev
		return err
	}
	return nil
}

// Reserve books a free slot for appointmentID.
func (s *ScheduleStore) Reserve(ctx context.Context, doctorID string, start time.Time, appointmentID string) error {
	return s.transition(ctx, doctorID, start, SlotFree, "", func(sl *TimeSlot) { sl.book(appointmentID) })
}

// Unreserve frees a booked slot whatever appointment holds it.
func (s *ScheduleStore) Unreserve(ctx context.Context, doctorID string, start time.Time) error {
	return s.transition(ctx, doctorID, start, SlotBooked, "", (*TimeSlot).release)
}

// ReleaseBooking frees the slot only when appointmentID holds it.
func (s *ScheduleStore) ReleaseBooking(ctx context.Context, doctorID string, start time.Time, appointmentID string) error {
	return s.transition(ctx, doctorID, start, SlotBooked, appointmentID, (*TimeSlot).release)
}

func (s *ScheduleStore) Block(ctx context.Context, doctorID string, start time.Time) error {
	return s.transition(ctx, doctorID, start, SlotFree, "", (*TimeSlot).block)
}

func (s *ScheduleStore) Unblock(ctx context.Context, doctorID string, start time.Time) error {
	return s.transition(ctx, doctorID, start, SlotBlocked, "", (*TimeSlot).release)
}
