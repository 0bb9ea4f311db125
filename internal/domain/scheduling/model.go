package scheduling

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

const (
	CollectionAppointments = "appointments"
	CollectionTimeSlots    = "timeslots"
)

const appointmentPrefix = "APT-"

// ---------------------------------------------------------------------------
// Appointment
// ---------------------------------------------------------------------------

type Status string

const (
	StatusPending   Status = "pending"
	StatusPlanned   Status = "planned"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPlanned, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Active statuses hold the doctor's time.
func (s Status) Active() bool {
	return s == StatusPending || s == StatusPlanned
}

type Appointment struct {
	ID              string     `json:"appointment_id"`
	PatientID       string     `json:"patient_id"`
	DoctorID        string     `json:"doctor_id"`
	StartTime       time.Time  `json:"start_time"`
	EndTime         time.Time  `json:"end_time"`
	Reason          string     `json:"reason"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	ConfirmedAt     *time.Time `json:"confirmed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	BookedByPatient bool       `json:"booked_by_patient"`
}

// Overlaps uses half-open intervals: touching appointments do not overlap.
func (a *Appointment) Overlaps(start, end time.Time) bool {
	return start.Before(a.EndTime) && end.After(a.StartTime)
}

// appointmentNumber parses "APT-n" (or a bare number). ok is false for
// anything else.
func appointmentNumber(id string) (int, bool) {
	n, err := strconv.Atoi(strings.TrimPrefix(id, appointmentPrefix))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// ---------------------------------------------------------------------------
// TimeSlot
// ---------------------------------------------------------------------------

// SlotState says why a slot is or is not available.
type SlotState string

const (
	SlotFree    SlotState = "free"
	SlotBooked  SlotState = "booked"
	SlotBlocked SlotState = "blocked"
)

// TimeSlot is one unit of doctor availability. AppointmentID is set only
// while the slot is booked.
type TimeSlot struct {
	ID            int       `json:"timeslot_id"`
	DoctorID      string    `json:"doctor_id"`
	StartTime     time.Time `json:"start_time"`
	EndTime       time.Time `json:"end_time"`
	State         SlotState `json:"state"`
	AppointmentID string    `json:"appointment_id,omitempty"`
}

func (s *TimeSlot) Free() bool { return s.State == SlotFree }

func (s *TimeSlot) book(appointmentID string) {
	s.State = SlotBooked
	s.AppointmentID = appointmentID
}

func (s *TimeSlot) block() {
	s.State = SlotBlocked
	s.AppointmentID = ""
}

func (s *TimeSlot) release() {
	s.State = SlotFree
	s.AppointmentID = ""
}

// UnmarshalJSON also reads records that only carry the older
// "is_reserved" flag. A reserved slot of unknown cause loads as blocked.
func (s *TimeSlot) UnmarshalJSON(data []byte) error {
	type plain TimeSlot
	var p struct {
		plain
		IsReserved *bool `json:"is_reserved"`
	}
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*s = TimeSlot(p.plain)
	if s.State == "" {
		s.State = SlotFree
		if p.IsReserved != nil && *p.IsReserved {
			s.State = SlotBlocked
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// BookingRequest is the payload of POST /appointments.
type BookingRequest struct {
	PatientID   string    `json:"patient_id"`
	DoctorID    string    `json:"doctor_id" validate:"required"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time"`
	Reason      string    `json:"reason" validate:"required"`
	AutoConfirm *bool     `json:"auto_confirm,omitempty"`
}

// SlotRequest covers availability, block and unblock calls. EndTime is
// optional for single-slot calls and defaults to one slot length.
type SlotRequest struct {
	StartTime time.Time `json:"start_time" validate:"required"`
	EndTime   time.Time `json:"end_time"`
	Range     bool      `json:"range"`
}

type StatusRequest struct {
	Status Status `json:"status" validate:"required,oneof=pending planned cancelled completed"`
}
