package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/storage"
)

func newTestSlots(t *testing.T) (*ScheduleStore, *storage.MemoryStore) {
	t.Helper()
	mem := storage.NewMemoryStore()
	seq := storage.NewSequence(mem, zerolog.Nop())
	return NewScheduleStore(context.Background(), mem, seq, time.Hour, zerolog.Nop()), mem
}

func TestAddAvailability(t *testing.T) {
	s, _ := newTestSlots(t)
	ctx := context.Background()

	first, err := s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != 1 || first.State != SlotFree {
		t.Errorf("expected free slot 1, got %+v", first)
	}

	// overlapping availability is accepted
	if _, err := s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11)); err != nil {
		t.Errorf("expected duplicate availability to be accepted, got %v", err)
	}
	if n := len(s.DoctorSchedule("DR-1")); n != 2 {
		t.Errorf("expected 2 slots, got %d", n)
	}
}

func TestAddAvailability_Validation(t *testing.T) {
	s, _ := newTestSlots(t)
	_, err := s.AddAvailability(context.Background(), "DR-1", at(1, 11), at(1, 10))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
	_, err = s.AddAvailability(context.Background(), "", at(1, 10), at(1, 11))
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error for missing doctor, got %v", err)
	}
}

func TestSlotIDs_NotReusedAfterReload(t *testing.T) {
	s, mem := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))
	s.AddAvailability(ctx, "DR-1", at(1, 11), at(1, 12))

	// drop slot 2 behind the store's back
	mem.Put(CollectionTimeSlots, []byte(`[{"timeslot_id":1,"doctor_id":"DR-1","start_time":"2026-03-03T10:00:00Z","end_time":"2026-03-03T11:00:00Z","state":"free"}]`))
	s.Reload(ctx)

	sl, err := s.AddAvailability(ctx, "DR-1", at(1, 14), at(1, 15))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sl.ID != 3 {
		t.Errorf("expected id 3, got %d", sl.ID)
	}
}

func TestAddAvailability_WithoutSequence(t *testing.T) {
	s := NewScheduleStore(context.Background(), storage.NewMemoryStore(), nil, time.Hour, zerolog.Nop())
	ctx := context.Background()
	for want := 1; want <= 2; want++ {
		sl, err := s.AddAvailability(ctx, "DR-1", at(1, 8+want), at(1, 9+want))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if sl.ID != want {
			t.Errorf("expected id %d, got %d", want, sl.ID)
		}
	}
}

func TestAddAvailabilityRange(t *testing.T) {
	s, _ := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 9), at(1, 10))

	// 08:00-12:30 holds four whole slots, 09:00 already exists
	n, err := s.AddAvailabilityRange(ctx, "DR-1", at(1, 8), at(1, 12).Add(30*time.Minute))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 3 {
		t.Errorf("expected 3 new slots, got %d", n)
	}
	got := s.DoctorAvailability("DR-1")
	if len(got) != 4 {
		t.Fatalf("expected 4 free slots, got %d", len(got))
	}
	for i, h := range []int{8, 9, 10, 11} {
		if !got[i].StartTime.Equal(at(1, h)) {
			t.Errorf("slot %d: expected %v, got %v", i, at(1, h), got[i].StartTime)
		}
	}
}

func TestBlockRange(t *testing.T) {
	s, _ := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 9), at(1, 10))
	s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))
	s.Reserve(ctx, "DR-1", at(1, 10), "APT-1")

	n, err := s.BlockRange(ctx, "DR-1", at(1, 9), at(1, 12))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 blocked, got %d", n)
	}

	states := map[int]SlotState{}
	for _, sl := range s.DoctorSchedule("DR-1") {
		states[sl.StartTime.Hour()] = sl.State
	}
	want := map[int]SlotState{9: SlotBlocked, 10: SlotBooked, 11: SlotBlocked}
	for h, st := range want {
		if states[h] != st {
			t.Errorf("%02d:00: expected %s, got %s", h, st, states[h])
		}
	}
}

func TestReserveAndRelease(t *testing.T) {
	s, _ := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))

	if err := s.Reserve(ctx, "DR-1", at(1, 10), "APT-1"); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := s.Reserve(ctx, "DR-1", at(1, 10), "APT-2"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected conflict on double reserve, got %v", err)
	}
	if len(s.DoctorAvailability("DR-1")) != 0 {
		t.Error("expected no availability while booked")
	}

	if err := s.ReleaseBooking(ctx, "DR-1", at(1, 10), "APT-2"); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected release by another appointment to fail, got %v", err)
	}
	if err := s.ReleaseBooking(ctx, "DR-1", at(1, 10), "APT-1"); err != nil {
		t.Errorf("release: %v", err)
	}
	if err := s.Unreserve(ctx, "DR-1", at(1, 10)); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected unreserve of a free slot to fail, got %v", err)
	}
}

func TestReserve_NoExactMatch(t *testing.T) {
	s, _ := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))

	err := s.Reserve(ctx, "DR-1", at(1, 10).Add(time.Minute), "APT-1")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if apperr.Message(err) != "Créneau non trouvé" {
		t.Errorf("unexpected message %q", apperr.Message(err))
	}
}

func TestBlockAndUnblock(t *testing.T) {
	s, _ := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))

	if err := s.Block(ctx, "DR-1", at(1, 10)); err != nil {
		t.Fatalf("block: %v", err)
	}
	if err := s.Unreserve(ctx, "DR-1", at(1, 10)); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected a blocked slot not to count as booked, got %v", err)
	}
	if err := s.Block(ctx, "DR-1", at(1, 10)); !errors.Is(err, apperr.ErrConflict) {
		t.Errorf("expected double block to fail, got %v", err)
	}
	if err := s.Unblock(ctx, "DR-1", at(1, 10)); err != nil {
		t.Errorf("unblock: %v", err)
	}
	if len(s.DoctorAvailability("DR-1")) != 1 {
		t.Error("expected the slot to be free again")
	}
}

func TestTransition_PersistFailureRestores(t *testing.T) {
	s, mem := newTestSlots(t)
	ctx := context.Background()
	s.AddAvailability(ctx, "DR-1", at(1, 10), at(1, 11))
	mem.SetSaveError(errors.New("disk full"))

	if err := s.Block(ctx, "DR-1", at(1, 10)); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if s.DoctorSchedule("DR-1")[0].State != SlotFree {
		t.Error("expected the slot to be restored")
	}
	if _, err := s.AddAvailability(ctx, "DR-1", at(1, 12), at(1, 13)); err == nil {
		t.Error("expected add to fail")
	}
	if n := len(s.DoctorSchedule("DR-1")); n != 1 {
		t.Errorf("expected rollback to 1 slot, got %d", n)
	}
}

func TestTimeSlot_LegacyRecords(t *testing.T) {
	raw := `[
		{"timeslot_id":1,"doctor_id":"DR-1","start_time":"2026-03-03T10:00:00Z","end_time":"2026-03-03T11:00:00Z","is_reserved":false},
		{"timeslot_id":2,"doctor_id":"DR-1","start_time":"2026-03-03T11:00:00Z","end_time":"2026-03-03T12:00:00Z","is_reserved":true}
	]`
	var slots []TimeSlot
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if slots[0].State != SlotFree {
		t.Errorf("expected free, got %s", slots[0].State)
	}
	if slots[1].State != SlotBlocked {
		t.Errorf("expected reserved legacy slot to load as blocked, got %s", slots[1].State)
	}
}
