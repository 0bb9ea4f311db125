// Package reminder sends appointment emails: confirmations and
// cancellations on behalf of the scheduler, and reminders for the next
// day's planned appointments, either from a background loop or on demand.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/domain/scheduling"
	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/mail"
	"github.com/clinic/clinic/internal/platform/notification"
)

var ErrAlreadyRunning = errors.New("reminder loop already running")

const msgNotConfigured = "Email manager non configuré"

// Appointments is the scheduler as seen by the dispatcher.
type Appointments interface {
	Reload(ctx context.Context)
	ByStatus(status scheduling.Status) []scheduling.Appointment
	Location() *time.Location
}

// Reminders records the in-app reminder next to each email.
type Reminders interface {
	CreateReminder(ctx context.Context, userID, doctorName string, start time.Time) (*notification.Notification, error)
}

type Settings struct {
	Interval      time.Duration
	RetryInterval time.Duration
}

// Summary is the outcome of a manual reminder run.
type Summary struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

type Dispatcher struct {
	mu      sync.Mutex
	running bool

	sender   mail.Sender
	appts    Appointments
	users    scheduling.UserLookup
	notes    Reminders
	sent     SentSet
	settings Settings
	logger   zerolog.Logger
	now      func() time.Time
}

func NewDispatcher(sender mail.Sender, appts Appointments, users scheduling.UserLookup, notes Reminders, sent SentSet, settings Settings, logger zerolog.Logger) *Dispatcher {
	if settings.Interval <= 0 {
		settings.Interval = time.Hour
	}
	if settings.RetryInterval <= 0 {
		settings.RetryInterval = 5 * time.Minute
	}
	if sent == nil {
		sent = NewMemorySentSet()
	}
	return &Dispatcher{
		sender:   sender,
		appts:    appts,
		users:    users,
		notes:    notes,
		sent:     sent,
		settings: settings,
		logger:   logger.With().Str("component", "reminder").Logger(),
		now:      time.Now,
	}
}

// ---------------------------------------------------------------------------
// Emails
// ---------------------------------------------------------------------------

type renderFunc func(mail.AppointmentEmail) (subject, html string, err error)

// recipient resolves the patient address and the names shown in the email.
func (d *Dispatcher) recipient(ctx context.Context, a scheduling.Appointment) (string, mail.AppointmentEmail, bool) {
	patient := d.users.Lookup(ctx, a.PatientID)
	if patient == nil || patient.Email == "" {
		d.logger.Warn().Str("patient_id", a.PatientID).Msg("patient not found or without email")
		return "", mail.AppointmentEmail{}, false
	}
	doctor := d.users.Lookup(ctx, a.DoctorID)
	if doctor == nil {
		d.logger.Warn().Str("doctor_id", a.DoctorID).Msg("doctor not found")
		return "", mail.AppointmentEmail{}, false
	}

	local := a.StartTime.In(d.appts.Location())
	return patient.Email, mail.AppointmentEmail{
		PatientName: patient.FullName(),
		DoctorName:  doctor.FullName(),
		Date:        notification.FormatDate(local),
		Time:        notification.FormatTime(local),
		Reason:      a.Reason,
	}, true
}

// deliver renders and sends one appointment email. Failures are logged as
// delivery errors and reported as false.
func (d *Dispatcher) deliver(ctx context.Context, kind string, a scheduling.Appointment, render renderFunc) (mail.AppointmentEmail, bool) {
	if !d.sender.Configured() {
		d.logger.Debug().Str("kind", kind).Str("appointment_id", a.ID).Msg("mail not configured, email skipped")
		return mail.AppointmentEmail{}, false
	}
	to, data, ok := d.recipient(ctx, a)
	if !ok {
		return data, false
	}
	subject, html, err := render(data)
	if err != nil {
		d.logger.Error().Err(err).Str("kind", kind).Msg("email rendering failed")
		return data, false
	}
	if err := d.sender.Send(ctx, to, subject, html); err != nil {
		err = apperr.Delivery(err, "Échec de l'envoi de l'email %s", kind)
		d.logger.Error().Err(err).Str("appointment_id", a.ID).Str("to", to).Msg("email delivery failed")
		return data, false
	}
	d.logger.Info().Str("kind", kind).Str("appointment_id", a.ID).Str("to", to).Msg("email sent")
	return data, true
}

func (d *Dispatcher) SendConfirmation(ctx context.Context, a scheduling.Appointment) bool {
	_, ok := d.deliver(ctx, "confirmation", a, mail.RenderConfirmation)
	return ok
}

func (d *Dispatcher) SendCancellation(ctx context.Context, a scheduling.Appointment) bool {
	_, ok := d.deliver(ctx, "cancellation", a, mail.RenderCancellation)
	return ok
}

// sendReminder emails the patient and, when that worked, leaves a
// "Rappel de Rendez-vous" notification.
func (d *Dispatcher) sendReminder(ctx context.Context, a scheduling.Appointment) bool {
	data, ok := d.deliver(ctx, "reminder", a, mail.RenderReminder)
	if !ok {
		return false
	}
	if d.notes != nil {
		if _, err := d.notes.CreateReminder(ctx, a.PatientID, data.DoctorName, a.StartTime.In(d.appts.Location())); err != nil {
			d.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("reminder notification failed")
		}
	}
	return true
}

// SendTestEmail checks the mail configuration by writing to to.
func (d *Dispatcher) SendTestEmail(ctx context.Context, to string) bool {
	if !d.sender.Configured() {
		d.logger.Warn().Msg("test email requested but mail is not configured")
		return false
	}
	if !mail.ValidAddress(to) {
		d.logger.Warn().Str("to", to).Msg("test email to invalid address")
		return false
	}
	now := d.now().In(d.appts.Location())
	subject, html, err := mail.RenderTest(now.Format("02/01/2006 à 15:04"))
	if err != nil {
		d.logger.Error().Err(err).Msg("test email rendering failed")
		return false
	}
	if err := d.sender.Send(ctx, to, subject, html); err != nil {
		d.logger.Error().Err(apperr.Delivery(err, "Échec de l'email de test")).Str("to", to).Msg("test email failed")
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Reminders
// ---------------------------------------------------------------------------

// tomorrow returns the planned appointments starting on the next calendar
// day in the clinic time zone.
func (d *Dispatcher) tomorrow(ctx context.Context) []scheduling.Appointment {
	loc := d.appts.Location()
	y, m, day := d.now().In(loc).AddDate(0, 0, 1).Date()

	d.appts.Reload(ctx)
	var out []scheduling.Appointment
	for _, a := range d.appts.ByStatus(scheduling.StatusPlanned) {
		ay, am, ad := a.StartTime.In(loc).Date()
		if ay == y && am == m && ad == day {
			out = append(out, a)
		}
	}
	return out
}

// Scan sends the reminders for tomorrow that have not gone out yet and
// returns how many were sent. An error means the sent set could not be
// consulted; the scan stops there.
func (d *Dispatcher) Scan(ctx context.Context) (int, error) {
	sent := 0
	for _, a := range d.tomorrow(ctx) {
		key := sentKey(a.ID, a.PatientID)
		seen, err := d.sent.Has(ctx, key)
		if err != nil {
			return sent, fmt.Errorf("check reminder %s: %w", key, err)
		}
		if seen || !d.sendReminder(ctx, a) {
			continue
		}
		if err := d.sent.Add(ctx, key); err != nil {
			return sent + 1, fmt.Errorf("record reminder %s: %w", key, err)
		}
		sent++
	}
	return sent, nil
}

// SendTomorrowReminders runs a reminder pass on demand. It does not consult
// the background loop's sent set.
func (d *Dispatcher) SendTomorrowReminders(ctx context.Context) Summary {
	if !d.sender.Configured() {
		return Summary{Success: false, Message: msgNotConfigured}
	}
	count := 0
	for _, a := range d.tomorrow(ctx) {
		if d.sendReminder(ctx, a) {
			count++
		}
	}
	if count == 0 {
		return Summary{Success: true, Message: "Aucun rendez-vous confirmé pour demain"}
	}
	return Summary{Success: true, Message: fmt.Sprintf("Rappels envoyés pour %d rendez-vous de demain", count), Count: count}
}

// Start launches the reminder loop. It scans immediately, then every
// Interval, or after RetryInterval when a scan failed. The loop ends when
// ctx is cancelled.
func (d *Dispatcher) Start(ctx context.Context) error {
	if !d.sender.Configured() {
		d.logger.Error().Msg("reminder loop not started: mail not configured")
		return mail.ErrNotConfigured
	}

	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		d.logger.Info().Msg("reminder loop already running")
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()

	d.logger.Info().Dur("interval", d.settings.Interval).Msg("reminder loop started")
	go d.loop(ctx)
	return nil
}

func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer func() {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		d.logger.Info().Msg("reminder loop stopped")
	}()

	for {
		wait := d.settings.Interval
		n, err := d.Scan(ctx)
		if err != nil {
			d.logger.Error().Err(err).Dur("retry_in", d.settings.RetryInterval).Msg("reminder scan failed")
			wait = d.settings.RetryInterval
		} else if n > 0 {
			d.logger.Info().Int("sent", n).Msg("reminders sent")
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}
