package prescription

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

const Collection = "prescriptions"

const idPrefix = "PR-"

type Medication struct {
	Name      string `json:"name" validate:"required"`
	Dosage    string `json:"dosage" validate:"required"`
	Frequency string `json:"frequency" validate:"required"`
	Duration  string `json:"duration" validate:"required"`
	Notes     string `json:"notes,omitempty"`
}

type Prescription struct {
	ID           string       `json:"prescription_id"`
	PatientID    string       `json:"patient_id"`
	DoctorID     string       `json:"doctor_id"`
	Date         time.Time    `json:"date"`
	Medications  []Medication `json:"medications"`
	Instructions string       `json:"instructions"`
}

// FormattedDate renders the issue date as dd/mm/yyyy in loc.
func (p *Prescription) FormattedDate(loc *time.Location) string {
	return p.Date.In(loc).Format("02/01/2006")
}

func (p Prescription) clone() Prescription {
	p.Medications = append([]Medication(nil), p.Medications...)
	return p
}

// newID returns "PR-" followed by eight upper-case hex digits.
func newID() string {
	return idPrefix + strings.ToUpper(uuid.NewString()[:8])
}

// CreateRequest is the payload of POST /prescriptions. DoctorID is taken
// from the caller when a doctor writes.
type CreateRequest struct {
	PatientID    string       `json:"patient_id" validate:"required"`
	DoctorID     string       `json:"doctor_id"`
	Medications  []Medication `json:"medications" validate:"required,min=1,dive"`
	Instructions string       `json:"instructions"`
}

// UpdateRequest leaves fields that are absent untouched.
type UpdateRequest struct {
	Medications  *[]Medication `json:"medications,omitempty" validate:"omitempty,min=1,dive"`
	Instructions *string       `json:"instructions,omitempty"`
}
