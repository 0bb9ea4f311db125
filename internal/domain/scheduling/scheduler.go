// Package scheduling books, confirms, cancels and deletes appointments,
// keeps doctor timeslots, and fans changes out to notifications and email.
package scheduling

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/notification"
	"github.com/clinic/clinic/internal/platform/storage"
)

// ---------------------------------------------------------------------------
// Collaborators
// ---------------------------------------------------------------------------

// UserLookup resolves role ids to accounts; nil means unknown.
type UserLookup interface {
	Lookup(ctx context.Context, id string) *identity.User
}

// Notifier is the notification store as seen by the scheduler.
type Notifier interface {
	Create(ctx context.Context, userID, title, message string, typ notification.Type) (*notification.Notification, error)
	CreateAppointmentConfirmation(ctx context.Context, userID, appointmentID, doctorName string, start time.Time) (*notification.Notification, error)
	CreateStatusChange(ctx context.Context, userID, appointmentID, oldStatus, newStatus string) (*notification.Notification, error)
}

// Mailer sends appointment emails. Both calls are best-effort.
type Mailer interface {
	SendConfirmation(ctx context.Context, a Appointment) bool
	SendCancellation(ctx context.Context, a Appointment) bool
}

// Settings are the scheduling rules taken from configuration.
type Settings struct {
	MaxAdvanceDays int
	Location       *time.Location
}

// ---------------------------------------------------------------------------
// Scheduler
// ---------------------------------------------------------------------------

// Scheduler owns the appointment collection. Every mutation holds the lock
// across change and save and is rolled back when the save fails;
// notifications and emails go out after the lock is released.
type Scheduler struct {
	mu           sync.Mutex
	appointments []Appointment
	mailer       Mailer

	store    storage.Store
	seq      *storage.Sequence
	slots    *ScheduleStore
	notes    Notifier
	users    UserLookup
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

func NewScheduler(ctx context.Context, settings Settings, st storage.Store, seq *storage.Sequence, slots *ScheduleStore, notes Notifier, users UserLookup, logger zerolog.Logger) *Scheduler {
	if settings.MaxAdvanceDays <= 0 {
		settings.MaxAdvanceDays = 365
	}
	if settings.Location == nil {
		settings.Location = time.Local
	}
	s := &Scheduler{
		store:    st,
		seq:      seq,
		slots:    slots,
		notes:    notes,
		users:    users,
		settings: settings,
		logger:   logger.With().Str("component", "scheduler").Logger(),
		now:      time.Now,
	}
	s.appointments = storage.LoadInto[Appointment](ctx, st, CollectionAppointments, s.logger)
	return s
}

// SetMailer wires the confirmation/cancellation email sender. The
// dispatcher reads appointments from the scheduler, so it is attached
// after both exist.
func (s *Scheduler) SetMailer(m Mailer) {
	s.mu.Lock()
	s.mailer = m
	s.mu.Unlock()
}

// Location is the clinic time zone used for display and day boundaries.
func (s *Scheduler) Location() *time.Location { return s.settings.Location }

// Reload re-reads appointments from storage. List endpoints call it so
// writes from other processes become visible; mutations trust memory.
func (s *Scheduler) Reload(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	items, err := storage.ReloadInto[Appointment](ctx, s.store, CollectionAppointments, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("reload failed, keeping in-memory state")
		return
	}
	s.appointments = items
}

func (s *Scheduler) persist(ctx context.Context, action string) error {
	if err := storage.SaveFrom(ctx, s.store, CollectionAppointments, s.appointments); err != nil {
		s.logger.Error().Err(err).Str("action", action).Msg("failed to save appointments")
		return apperr.Persistence(err, "Erreur lors de %s", action)
	}
	return nil
}

// nextID returns APT-(max+1), where max also covers ids handed out before
// and since deleted. Ids that do not parse are ignored.
func (s *Scheduler) nextID(ctx context.Context) (string, error) {
	highest := 0
	for _, a := range s.appointments {
		if n, ok := appointmentNumber(a.ID); ok && n > highest {
			highest = n
		}
	}
	if s.seq == nil {
		return fmt.Sprintf("%s%d", appointmentPrefix, highest+1), nil
	}
	n, err := s.seq.Next(ctx, CollectionAppointments, highest)
	if err != nil {
		return "", apperr.Persistence(err, "Impossible d'allouer un identifiant de rendez-vous")
	}
	return fmt.Sprintf("%s%d", appointmentPrefix, n), nil
}

func (s *Scheduler) indexOf(id string) int {
	for i := range s.appointments {
		if s.appointments[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Scheduler) checkTime(start, end time.Time) error {
	now := s.now()
	if !start.After(now) {
		return apperr.Validation("Le rdv doit être dans le futur")
	}
	if start.After(now.AddDate(0, 0, s.settings.MaxAdvanceDays)) {
		return apperr.Validation("Le rdv ne peut pas être à plus de %d jours", s.settings.MaxAdvanceDays)
	}
	if !end.After(start) {
		return apperr.Validation("L'heure de fin doit être après le début")
	}
	return nil
}

// conflict returns the first active appointment of doctorID overlapping
// [start, end), skipping excludeID.
func (s *Scheduler) conflict(doctorID string, start, end time.Time, excludeID string) *Appointment {
	for i := range s.appointments {
		a := &s.appointments[i]
		if a.ID == excludeID || a.DoctorID != doctorID || !a.Status.Active() {
			continue
		}
		if a.Overlaps(start, end) {
			return a
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Mutations
// ---------------------------------------------------------------------------

// BookAppointment creates an appointment. Auto-confirmed bookings (made by
// the patient) start planned; the others wait for a secretary as pending.
func (s *Scheduler) BookAppointment(ctx context.Context, patientID, doctorID string, start, end time.Time, reason string, autoConfirm bool) (*Appointment, error) {
	if patientID == "" || doctorID == "" || reason == "" || start.IsZero() || end.IsZero() {
		return nil, apperr.Validation("Tous les champs sont requis")
	}
	if err := s.checkTime(start, end); err != nil {
		return nil, err
	}

	s.mu.Lock()
	if c := s.conflict(doctorID, start, end, ""); c != nil {
		s.mu.Unlock()
		return nil, apperr.Conflict("Conflit avec rdv %s", c.ID)
	}

	id, err := s.nextID(ctx)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	now := s.now()
	a := Appointment{
		ID:              id,
		PatientID:       patientID,
		DoctorID:        doctorID,
		StartTime:       start,
		EndTime:         end,
		Reason:          reason,
		Status:          StatusPending,
		CreatedAt:       now,
		BookedByPatient: autoConfirm,
	}
	if autoConfirm {
		a.Status = StatusPlanned
		a.ConfirmedAt = &now
	}

	s.appointments = append(s.appointments, a)
	if err := s.persist(ctx, "la prise de rendez-vous"); err != nil {
		s.appointments = s.appointments[:len(s.appointments)-1]
		s.mu.Unlock()
		return nil, err
	}
	mailer := s.mailer
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", a.ID).Str("doctor_id", doctorID).Str("status", string(a.Status)).Msg("appointment booked")

	s.notifyBooked(ctx, a)
	if autoConfirm && mailer != nil {
		mailer.SendConfirmation(ctx, a)
	}
	if s.slots != nil {
		if err := s.slots.Reserve(ctx, doctorID, start, a.ID); err != nil {
			s.logger.Debug().Err(err).Str("appointment_id", a.ID).Msg("no free timeslot reserved")
		}
	}
	return &a, nil
}

// CancelAppointment marks the appointment cancelled. The record stays.
// Cancelling an already cancelled appointment changes nothing and sends
// nothing; alreadyCancelled reports that case.
func (s *Scheduler) CancelAppointment(ctx context.Context, id string) (a *Appointment, alreadyCancelled bool, err error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, false, apperr.NotFound("Rdv non trouvé")
	}
	if s.appointments[i].Status == StatusCancelled {
		cur := s.appointments[i]
		s.mu.Unlock()
		return &cur, true, nil
	}

	prev := s.appointments[i]
	now := s.now()
	s.appointments[i].Status = StatusCancelled
	s.appointments[i].CancelledAt = &now
	if err := s.persist(ctx, "l'annulation"); err != nil {
		s.appointments[i] = prev
		s.mu.Unlock()
		return nil, false, err
	}
	cur := s.appointments[i]
	mailer := s.mailer
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", id).Str("previous_status", string(prev.Status)).Msg("appointment cancelled")

	s.notifyPair(ctx, cur, "Rendez-vous Annulé", "annulé", notification.TypeAppointmentCancelled)
	s.releaseSlot(ctx, cur)
	if mailer != nil {
		mailer.SendCancellation(ctx, cur)
	}
	return &cur, false, nil
}

// ValidateAppointment confirms a pending appointment.
func (s *Scheduler) ValidateAppointment(ctx context.Context, id string) (*Appointment, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, apperr.NotFound("Rdv non trouvé")
	}
	if s.appointments[i].Status != StatusPending {
		s.mu.Unlock()
		return nil, apperr.Validation("Le rdv n'est pas en attente")
	}

	prev := s.appointments[i]
	now := s.now()
	s.appointments[i].Status = StatusPlanned
	s.appointments[i].ConfirmedAt = &now
	if err := s.persist(ctx, "la validation"); err != nil {
		s.appointments[i] = prev
		s.mu.Unlock()
		return nil, err
	}
	cur := s.appointments[i]
	mailer := s.mailer
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", id).Msg("appointment validated")

	s.notifyValidated(ctx, cur)
	if mailer != nil {
		mailer.SendConfirmation(ctx, cur)
	}
	return &cur, nil
}

// DeleteAppointment removes the record. Participants are notified before
// the removal is saved.
func (s *Scheduler) DeleteAppointment(ctx context.Context, id string) (*Appointment, error) {
	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, apperr.NotFound("Rdv non trouvé")
	}
	target := s.appointments[i]
	s.mu.Unlock()

	s.notifyPair(ctx, target, "Rendez-vous Supprimé", "supprimé", notification.TypeAppointmentDeleted)

	s.mu.Lock()
	i = s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, apperr.NotFound("Rdv non trouvé")
	}
	prev := s.appointments
	s.appointments = make([]Appointment, 0, len(prev)-1)
	s.appointments = append(s.appointments, prev[:i]...)
	s.appointments = append(s.appointments, prev[i+1:]...)
	if err := s.persist(ctx, "la suppression"); err != nil {
		s.appointments = prev
		s.mu.Unlock()
		return nil, err
	}
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", id).Msg("appointment deleted")
	s.releaseSlot(ctx, target)
	return &target, nil
}

// ChangeStatus applies a staff status change. Confirmation and
// cancellation go through ValidateAppointment and CancelAppointment; the
// other moves notify the patient of the change.
func (s *Scheduler) ChangeStatus(ctx context.Context, id string, status Status) (*Appointment, error) {
	if !status.Valid() {
		return nil, apperr.Validation("Statut invalide: %s", status)
	}

	s.mu.Lock()
	i := s.indexOf(id)
	if i < 0 {
		s.mu.Unlock()
		return nil, apperr.NotFound("Rdv non trouvé")
	}
	from := s.appointments[i].Status
	s.mu.Unlock()

	switch {
	case from == status:
		a, err := s.Get(id)
		return a, err
	case !from.Active():
		return nil, apperr.Validation("Le rdv %s est %s, son statut ne peut plus changer", id, from)
	case status == StatusCancelled:
		a, _, err := s.CancelAppointment(ctx, id)
		return a, err
	case from == StatusPending && status == StatusPlanned:
		return s.ValidateAppointment(ctx, id)
	}

	s.mu.Lock()
	i = s.indexOf(id)
	if i < 0 || s.appointments[i].Status != from {
		s.mu.Unlock()
		return nil, apperr.Conflict("Le rdv %s a été modifié entre-temps", id)
	}
	prev := s.appointments[i]
	now := s.now()
	s.appointments[i].Status = status
	switch status {
	case StatusCompleted:
		s.appointments[i].CompletedAt = &now
	case StatusPending:
		s.appointments[i].ConfirmedAt = nil
	}
	if err := s.persist(ctx, "la mise à jour du statut"); err != nil {
		s.appointments[i] = prev
		s.mu.Unlock()
		return nil, err
	}
	cur := s.appointments[i]
	s.mu.Unlock()

	s.logger.Info().Str("appointment_id", id).Str("from", string(from)).Str("to", string(status)).Msg("appointment status changed")
	if _, err := s.notes.CreateStatusChange(ctx, cur.PatientID, cur.ID, string(from), string(status)); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", id).Msg("status change notification failed")
	}
	return &cur, nil
}

// ---------------------------------------------------------------------------
// Boundary
// ---------------------------------------------------------------------------

func bookedMessage(id string) string { return fmt.Sprintf("Rendez-vous %s pris avec succès", id) }
func cancelledMessage(id string) string { return fmt.Sprintf("Rendez-vous %s annulé", id) }
func alreadyCancelledMessage(id string) string { return fmt.Sprintf("Rendez-vous %s déjà annulé", id) }
func validatedMessage(id string) string { return fmt.Sprintf("Rendez-vous %s validé", id) }
func deletedMessage(id string) string { return fmt.Sprintf("Rendez-vous %s supprimé", id) }
func statusMessage(a *Appointment) string { return fmt.Sprintf("Rendez-vous %s: statut %s", a.ID, a.Status) }

// guard turns an operation into the (ok, message) pair shown to users. It
// never panics.
func (s *Scheduler) guard(op string, fn func() (string, error)) (ok bool, msg string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Interface("panic", r).Str("op", op).Msg("scheduler operation panicked")
			ok, msg = false, fmt.Sprintf("Erreur lors de %s", op)
		}
	}()
	msg, err := fn()
	if err != nil {
		return false, apperr.Message(err)
	}
	return true, msg
}

func (s *Scheduler) Book(ctx context.Context, patientID, doctorID string, start, end time.Time, reason string, autoConfirm bool) (bool, string) {
	return s.guard("la prise de rendez-vous", func() (string, error) {
		a, err := s.BookAppointment(ctx, patientID, doctorID, start, end, reason, autoConfirm)
		if err != nil {
			return "", err
		}
		return bookedMessage(a.ID), nil
	})
}

func (s *Scheduler) Cancel(ctx context.Context, id string) (bool, string) {
	return s.guard("l'annulation", func() (string, error) {
		_, already, err := s.CancelAppointment(ctx, id)
		if err != nil {
			return "", err
		}
		if already {
			return alreadyCancelledMessage(id), nil
		}
		return cancelledMessage(id), nil
	})
}

func (s *Scheduler) Validate(ctx context.Context, id string) (bool, string) {
	return s.guard("la validation", func() (string, error) {
		if _, err := s.ValidateAppointment(ctx, id); err != nil {
			return "", err
		}
		return validatedMessage(id), nil
	})
}

func (s *Scheduler) Delete(ctx context.Context, id string) (bool, string) {
	return s.guard("la suppression", func() (string, error) {
		if _, err := s.DeleteAppointment(ctx, id); err != nil {
			return "", err
		}
		return deletedMessage(id), nil
	})
}

func (s *Scheduler) UpdateStatus(ctx context.Context, id string, status Status) (bool, string) {
	return s.guard("la mise à jour du statut", func() (string, error) {
		a, err := s.ChangeStatus(ctx, id, status)
		if err != nil {
			return "", err
		}
		return statusMessage(a), nil
	})
}

// ---------------------------------------------------------------------------
// Queries
// ---------------------------------------------------------------------------

func (s *Scheduler) filter(keep func(*Appointment) bool) []Appointment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Appointment, 0)
	for i := range s.appointments {
		if keep(&s.appointments[i]) {
			out = append(out, s.appointments[i])
		}
	}
	return out
}

func (s *Scheduler) Get(id string) (*Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexOf(id)
	if i < 0 {
		return nil, apperr.NotFound("Rdv non trouvé")
	}
	a := s.appointments[i]
	return &a, nil
}

func (s *Scheduler) All() []Appointment {
	return s.filter(func(*Appointment) bool { return true })
}

func (s *Scheduler) ForPatient(patientID string) []Appointment {
	return s.filter(func(a *Appointment) bool { return a.PatientID == patientID })
}

func (s *Scheduler) ForDoctor(doctorID string) []Appointment {
	return s.filter(func(a *Appointment) bool { return a.DoctorID == doctorID })
}

func (s *Scheduler) ByStatus(status Status) []Appointment {
	return s.filter(func(a *Appointment) bool { return a.Status == status })
}

// OnDay returns the appointments starting on day's calendar date in the
// clinic time zone, ordered by start time.
func (s *Scheduler) OnDay(day time.Time) []Appointment {
	loc := s.settings.Location
	y, m, d := day.In(loc).Date()
	from := time.Date(y, m, d, 0, 0, 0, 0, loc)
	to := from.AddDate(0, 0, 1)

	out := s.filter(func(a *Appointment) bool {
		return !a.StartTime.Before(from) && a.StartTime.Before(to)
	})
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out
}

// ---------------------------------------------------------------------------
// Slots
// ---------------------------------------------------------------------------

func (s *Scheduler) releaseSlot(ctx context.Context, a Appointment) {
	if s.slots == nil {
		return
	}
	if err := s.slots.ReleaseBooking(ctx, a.DoctorID, a.StartTime, a.ID); err != nil {
		s.logger.Debug().Err(err).Str("appointment_id", a.ID).Msg("no booked timeslot released")
	}
}
