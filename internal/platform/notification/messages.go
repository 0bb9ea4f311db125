package notification

import (
	"context"
	"fmt"
	"time"
)

const (
	DateLayout = "02/01/2006"
	TimeLayout = "15:04"
)

// FormatDate and FormatTime render appointment times the way every
// notification and email shows them.
func FormatDate(t time.Time) string { return t.Format(DateLayout) }
func FormatTime(t time.Time) string { return t.Format(TimeLayout) }

func (s *Store) CreateAppointmentConfirmation(ctx context.Context, userID, appointmentID, doctorName string, start time.Time) (*Notification, error) {
	msg := fmt.Sprintf("Votre rdv avec %s le %s à %s a été confirmé. ID: %s",
		doctorName, FormatDate(start), FormatTime(start), appointmentID)
	return s.Create(ctx, userID, "Confirmation de Rendez-vous", msg, TypeAppointmentConfirmation)
}

func (s *Store) CreateReminder(ctx context.Context, userID, doctorName string, start time.Time) (*Notification, error) {
	msg := fmt.Sprintf("Rappel : Vous avez un rdv avec %s le %s à %s",
		doctorName, FormatDate(start), FormatTime(start))
	return s.Create(ctx, userID, "Rappel de Rendez-vous", msg, TypeReminder)
}

func (s *Store) CreateStatusChange(ctx context.Context, userID, appointmentID, oldStatus, newStatus string) (*Notification, error) {
	msg := fmt.Sprintf("Le statut de votre rdv %s a changé de '%s' à '%s'",
		appointmentID, oldStatus, newStatus)
	return s.Create(ctx, userID, "Changement de Statut", msg, TypeStatusChange)
}

func (s *Store) CreateSystem(ctx context.Context, userID, title, message string) (*Notification, error) {
	return s.Create(ctx, userID, title, message, TypeSystem)
}
