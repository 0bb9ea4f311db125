package mail

import (
	"bytes"
	"fmt"
	"html/template"
)

// AppointmentEmail fills the appointment templates. Date and Time are
// already formatted for display.
type AppointmentEmail struct {
	PatientName string
	DoctorName  string
	Date        string
	Time        string
	Reason      string
}

const appointmentLayout = `<html>
<body>
    <h2>{{.Heading}}</h2>
    <p>Bonjour {{.PatientName}},</p>

    <p>{{.Intro}}</p>

    <div style="background-color: #f5f5f5; padding: 15px; border-radius: 5px; margin: 20px 0;">
        <p><strong>Date :</strong> {{.Date}}</p>
        <p><strong>Heure :</strong> {{.Time}}</p>
        <p><strong>Médecin :</strong> Dr. {{.DoctorName}}</p>
        <p><strong>Raison :</strong> {{.Reason}}</p>
    </div>

    <p>{{.Closing}}</p>

    <p>Cordialement,<br>
    <em>Équipe Médicale</em></p>
</body>
</html>
`

const testLayout = `<html>
<body>
    <h2>Test de Configuration Email</h2>
    <p>Cet email confirme que votre configuration email fonctionne correctement.</p>
    <p><strong>Date et heure :</strong> {{.}}</p>
    <p>Si vous recevez cet email, votre configuration est opérationnelle !</p>
    <hr>
    <p><em>Système de Gestion de Rendez-vous Médicaux</em></p>
</body>
</html>
`

var (
	appointmentTmpl = template.Must(template.New("appointment").Parse(appointmentLayout))
	testTmpl        = template.Must(template.New("test").Parse(testLayout))
)

const (
	SubjectConfirmation = "Confirmation de Rendez-vous"
	SubjectCancellation = "Annulation de Rendez-vous"
	SubjectReminder     = "Rappel de Rendez-vous - Demain"
	SubjectTest         = "Test de Configuration - Système de Rendez-vous"
)

const arrivalNotice = "Merci de vous présenter 10 minutes avant l'heure du rendez-vous."

type appointmentView struct {
	AppointmentEmail
	Heading string
	Intro   template.HTML
	Closing string
}

func renderAppointment(view appointmentView) (string, error) {
	if view.Reason == "" {
		view.Reason = "Consultation"
	}
	var buf bytes.Buffer
	if err := appointmentTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render %s email: %w", view.Heading, err)
	}
	return buf.String(), nil
}

func RenderConfirmation(data AppointmentEmail) (subject, html string, err error) {
	html, err = renderAppointment(appointmentView{
		AppointmentEmail: data,
		Heading:          "Confirmation de Rendez-vous",
		Intro:            "Votre rendez-vous a été confirmé avec succès :",
		Closing:          arrivalNotice,
	})
	return SubjectConfirmation, html, err
}

func RenderCancellation(data AppointmentEmail) (subject, html string, err error) {
	html, err = renderAppointment(appointmentView{
		AppointmentEmail: data,
		Heading:          "Annulation de Rendez-vous",
		Intro:            "Votre rendez-vous a été annulé :",
		Closing:          "Pour prendre un nouveau rendez-vous, veuillez contacter notre secrétariat.",
	})
	return SubjectCancellation, html, err
}

func RenderReminder(data AppointmentEmail) (subject, html string, err error) {
	html, err = renderAppointment(appointmentView{
		AppointmentEmail: data,
		Heading:          "Rappel de Rendez-vous",
		Intro:            "Ceci est un rappel pour votre rendez-vous <strong>demain</strong> :",
		Closing:          arrivalNotice,
	})
	return SubjectReminder, html, err
}

// RenderTest renders the configuration test email; sentAt is already
// formatted ("02/01/2006 à 15:04").
func RenderTest(sentAt string) (subject, html string, err error) {
	var buf bytes.Buffer
	if err := testTmpl.Execute(&buf, sentAt); err != nil {
		return "", "", fmt.Errorf("render test email: %w", err)
	}
	return SubjectTest, buf.String(), nil
}
