package scheduling

import (
	"context"
	"fmt"

	"github.com/clinic/clinic/internal/platform/notification"
)

func (s *Scheduler) displayName(ctx context.Context, id, fallback string) string {
	if s.users == nil {
		return fallback
	}
	if u := s.users.Lookup(ctx, id); u != nil {
		if name := u.FullName(); name != "" {
			return name
		}
	}
	return fallback
}

func (s *Scheduler) doctorName(ctx context.Context, id string) string {
	return s.displayName(ctx, id, "le médecin")
}

func (s *Scheduler) patientName(ctx context.Context, id string) string {
	return s.displayName(ctx, id, "le patient")
}

// when formats the start of a in the clinic time zone.
func (s *Scheduler) when(a Appointment) (date, clock string) {
	local := a.StartTime.In(s.settings.Location)
	return notification.FormatDate(local), notification.FormatTime(local)
}

func (s *Scheduler) notify(ctx context.Context, a Appointment, userID, title, message string, typ notification.Type) {
	if _, err := s.notes.Create(ctx, userID, title, message, typ); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID).Str("user_id", userID).Str("type", string(typ)).Msg("notification failed")
	}
}

func (s *Scheduler) notifyBooked(ctx context.Context, a Appointment) {
	date, clock := s.when(a)
	doctor := s.doctorName(ctx, a.DoctorID)

	if a.Status == StatusPlanned {
		if _, err := s.notes.CreateAppointmentConfirmation(ctx, a.PatientID, a.ID, doctor, a.StartTime.In(s.settings.Location)); err != nil {
			s.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("confirmation notification failed")
		}
	} else {
		s.notify(ctx, a, a.PatientID, "Rendez-vous en Attente",
			fmt.Sprintf("Votre rdv avec %s du %s à %s est en attente de confirmation.", doctor, date, clock),
			notification.TypeAppointmentPending)
	}

	s.notify(ctx, a, a.DoctorID, "Nouveau Rendez-vous",
		fmt.Sprintf("Un nouveau rdv a été pris par %s pour le %s à %s. Raison: %s", s.patientName(ctx, a.PatientID), date, clock, a.Reason),
		notification.TypeNewAppointment)
}

func (s *Scheduler) notifyValidated(ctx context.Context, a Appointment) {
	date, clock := s.when(a)
	if _, err := s.notes.CreateAppointmentConfirmation(ctx, a.PatientID, a.ID, s.doctorName(ctx, a.DoctorID), a.StartTime.In(s.settings.Location)); err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID).Msg("confirmation notification failed")
	}
	s.notify(ctx, a, a.DoctorID, "Rendez-vous Confirmé",
		fmt.Sprintf("Le rdv avec %s du %s à %s a été confirmé.", s.patientName(ctx, a.PatientID), date, clock),
		notification.TypeAppointmentConfirmed)
}

// notifyPair tells both participants that a was cancelled or deleted;
// verb is the past participle used in the message.
func (s *Scheduler) notifyPair(ctx context.Context, a Appointment, title, verb string, typ notification.Type) {
	date, clock := s.when(a)
	s.notify(ctx, a, a.PatientID, title,
		fmt.Sprintf("Votre rdv avec %s du %s à %s a été %s.", s.doctorName(ctx, a.DoctorID), date, clock, verb), typ)
	s.notify(ctx, a, a.DoctorID, title,
		fmt.Sprintf("Le rdv avec %s du %s à %s a été %s.", s.patientName(ctx, a.PatientID), date, clock, verb), typ)
}
