package identity

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/clinic/clinic/internal/platform/auth"
)

// Collection holds user records.
const Collection = "users"

type Role string

const (
	RolePatient   Role = "Patient"
	RoleDoctor    Role = "Doctor"
	RoleSecretary Role = "Secretary"
)

func (r Role) Valid() bool {
	return r == RolePatient || r == RoleDoctor || r == RoleSecretary
}

// AuthRole maps the stored role onto the token role used by RBAC.
func (r Role) AuthRole() string {
	switch r {
	case RolePatient:
		return auth.RolePatient
	case RoleDoctor:
		return auth.RoleDoctor
	case RoleSecretary:
		return auth.RoleSecretary
	}
	return ""
}

// ParseRole accepts either the stored or the token spelling.
func ParseRole(s string) (Role, bool) {
	switch strings.ToLower(s) {
	case "patient":
		return RolePatient, true
	case "doctor":
		return RoleDoctor, true
	case "secretary":
		return RoleSecretary, true
	}
	return "", false
}

type PatientProfile struct {
	PatientID            string `json:"patient_id"`
	DateOfBirth          string `json:"date_of_birth"`
	SocialSecurityNumber string `json:"social_security_number"`
}

type DoctorProfile struct {
	DoctorID  string `json:"doctor_id"`
	StaffID   string `json:"staff_id"`
	Specialty string `json:"specialty"`
}

type SecretaryProfile struct {
	SecretaryID string `json:"secretary_id"`
	StaffID     string `json:"staff_id"`
}

// User is a registered account. Exactly one profile matching Role is set.
type User struct {
	ID        int    `json:"user_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password,omitempty"`
	Role      Role   `json:"role"`

	Patient   *PatientProfile   `json:"patient,omitempty"`
	Doctor    *DoctorProfile    `json:"doctor,omitempty"`
	Secretary *SecretaryProfile `json:"secretary,omitempty"`
}

// RoleID is the identifier other records refer to: PAT-n, DR-n or SEC-n.
func (u *User) RoleID() string {
	switch {
	case u.Patient != nil:
		return u.Patient.PatientID
	case u.Doctor != nil:
		return u.Doctor.DoctorID
	case u.Secretary != nil:
		return u.Secretary.SecretaryID
	}
	return ""
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// Redacted returns a copy without the password, for API responses.
func (u User) Redacted() User {
	u.Password = ""
	return u
}

// matches reports whether id is the user's role id or numeric user id.
func (u *User) matches(id string) bool {
	if id == "" {
		return false
	}
	if id == u.RoleID() {
		return true
	}
	n, err := strconv.Atoi(id)
	return err == nil && n == u.ID
}

// newProfile builds the role profile for a freshly allocated user id.
func newProfile(u *User, dateOfBirth, ssn, specialty string) {
	n := strconv.Itoa(u.ID)
	switch u.Role {
	case RolePatient:
		u.Patient = &PatientProfile{PatientID: "PAT-" + n, DateOfBirth: dateOfBirth, SocialSecurityNumber: ssn}
	case RoleDoctor:
		u.Doctor = &DoctorProfile{DoctorID: "DR-" + n, StaffID: "STAFF-" + n, Specialty: specialty}
	case RoleSecretary:
		u.Secretary = &SecretaryProfile{SecretaryID: "SEC-" + n, StaffID: "STAFF-" + n}
	}
}

// flatUser is the older record layout with role fields at the top level.
type flatUser struct {
	PatientID            string `json:"patient_id"`
	DateOfBirth          string `json:"date_of_birth"`
	SocialSecurityNumber string `json:"social_security_number"`
	DoctorID             string `json:"doctor_id"`
	Specialty            string `json:"specialty"`
	SecretaryID          string `json:"secretary_id"`
	StaffID              string `json:"staff_id"`
}

// UnmarshalJSON accepts both the nested profile layout and the flat one.
func (u *User) UnmarshalJSON(data []byte) error {
	type plain User
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*u = User(p)
	if u.Patient != nil || u.Doctor != nil || u.Secretary != nil {
		return nil
	}

	var flat flatUser
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	switch {
	case flat.PatientID != "":
		u.Patient = &PatientProfile{PatientID: flat.PatientID, DateOfBirth: flat.DateOfBirth, SocialSecurityNumber: flat.SocialSecurityNumber}
	case flat.DoctorID != "":
		u.Doctor = &DoctorProfile{DoctorID: flat.DoctorID, StaffID: flat.StaffID, Specialty: flat.Specialty}
	case flat.SecretaryID != "":
		u.Secretary = &SecretaryProfile{SecretaryID: flat.SecretaryID, StaffID: flat.StaffID}
	}
	return nil
}

// Registration is the sign-up payload.
type Registration struct {
	Role        Role   `json:"role" validate:"required,oneof=Patient Doctor Secretary"`
	FirstName   string `json:"first_name" validate:"required"`
	LastName    string `json:"last_name" validate:"required"`
	Email       string `json:"email" validate:"required,email"`
	Phone       string `json:"phone" validate:"required,mindigits=10"`
	Password    string `json:"password" validate:"required"`
	DateOfBirth string `json:"date_of_birth"`
	SSN         string `json:"social_security_number"`
	Specialty   string `json:"specialty"`
}

type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}
