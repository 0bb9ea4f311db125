package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/config"
	"github.com/clinic/clinic/internal/domain/identity"
	"github.com/clinic/clinic/internal/platform/mail"
	"github.com/clinic/clinic/internal/platform/storage"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Port:                      "0",
		Env:                       "development",
		StorageDriver:             "file",
		DataDir:                   t.TempDir(),
		SMTPHost:                  "smtp.example.test",
		SMTPPort:                  587,
		MaxAdvanceDays:            365,
		AppointmentDuration:       time.Hour,
		Timezone:                  "UTC",
		ReminderInterval:          time.Hour,
		ReminderRetryInterval:     5 * time.Minute,
		NotificationRetentionDays: 90,
		MaintenanceSchedule:       "@daily",
	}
}

func newTestApp(t *testing.T, cfg *config.Config) *app {
	t.Helper()
	a, err := buildApp(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("buildApp: %v", err)
	}
	t.Cleanup(a.Close)
	return a
}

func do(t *testing.T, h http.Handler, method, target, body, userID, role string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
		req.Header.Set("X-User-Role", role)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestOpenStore_SQLiteMemory(t *testing.T) {
	cfg := testConfig(t)
	cfg.StorageDriver = "sqlite"
	cfg.SQLitePath = ":memory:"

	be, err := openStore(context.Background(), cfg, zerolog.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer be.close()

	if be.pinger == nil {
		t.Fatal("expected a pinger for sqlite")
	}
	if err := be.pinger.Ping(context.Background()); err != nil {
		t.Errorf("ping failed: %v", err)
	}
}

func TestMailSettings_Precedence(t *testing.T) {
	cfg := testConfig(t)
	saved := mail.NewSettingsStore(storage.NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	if got := mailSettings(ctx, cfg, saved); got.Complete() {
		t.Errorf("expected incomplete settings, got %+v", got)
	}

	saved.Save(ctx, mail.Settings{Host: "smtp.saved.test", Port: 465, Username: "saved@clinic.test", Password: "pw"})
	if got := mailSettings(ctx, cfg, saved); got.Username != "saved@clinic.test" {
		t.Errorf("expected saved settings, got %+v", got)
	}

	cfg.SMTPUsername = "env@clinic.test"
	cfg.SMTPPassword = "secret"
	if got := mailSettings(ctx, cfg, saved); got.Username != "env@clinic.test" || got.Host != "smtp.example.test" {
		t.Errorf("expected environment settings to win, got %+v", got)
	}
}

func TestBuildApp_RedisURLInvalid(t *testing.T) {
	cfg := testConfig(t)
	cfg.RedisURL = "not a url"
	if _, err := buildApp(context.Background(), cfg, zerolog.Nop()); err == nil {
		t.Error("expected an error for an unparsable REDIS_URL")
	}
}

func TestServer_Health(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	e := a.newServer()

	rec := do(t, e, http.MethodGet, "/health", "", "", "")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	rec = do(t, e, http.MethodGet, "/health/db", "", "", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"storage":"file"`) {
		t.Errorf("unexpected /health/db response %d %s", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("expected a request id header")
	}
}

func TestServer_BookingFlow(t *testing.T) {
	a := newTestApp(t, testConfig(t))
	e := a.newServer()
	ctx := context.Background()

	doctor, err := a.users.Register(ctx, identity.Registration{
		Role: identity.RoleDoctor, FirstName: "Marie", LastName: "Curie",
		Email: "marie@clinic.test", Phone: "0102030405", Password: "pw", Specialty: "Radiologie",
	})
	if err != nil {
		t.Fatalf("register doctor: %v", err)
	}
	patient, err := a.users.Register(ctx, identity.Registration{
		Role: identity.RolePatient, FirstName: "Jean", LastName: "Dupont",
		Email: "jean@clinic.test", Phone: "0607080910", Password: "pw",
		DateOfBirth: "01/01/1980", SSN: "1800175123456",
	})
	if err != nil {
		t.Fatalf("register patient: %v", err)
	}

	start := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Hour)
	slotBody := fmt.Sprintf(`{"start_time":%q}`, start.Format(time.RFC3339))
	rec := do(t, e, http.MethodPost, "/api/v1/doctors/"+doctor.RoleID()+"/availability", slotBody, doctor.RoleID(), "doctor")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for availability, got %d %s", rec.Code, rec.Body.String())
	}

	bookBody := fmt.Sprintf(`{"doctor_id":%q,"start_time":%q,"reason":"Contrôle"}`, doctor.RoleID(), start.Format(time.RFC3339))
	rec = do(t, e, http.MethodPost, "/api/v1/appointments", bookBody, patient.RoleID(), "patient")
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for booking, got %d %s", rec.Code, rec.Body.String())
	}
	var booked struct {
		Appointment struct {
			ID        string `json:"appointment_id"`
			PatientID string `json:"patient_id"`
			Status    string `json:"status"`
		} `json:"appointment"`
	}
	json.Unmarshal(rec.Body.Bytes(), &booked)
	if booked.Appointment.ID != "APT-1" || booked.Appointment.PatientID != patient.RoleID() {
		t.Errorf("unexpected appointment %+v", booked.Appointment)
	}

	// the same doctor and time is taken now
	rec = do(t, e, http.MethodPost, "/api/v1/appointments", bookBody, patient.RoleID(), "patient")
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for a double booking, got %d", rec.Code)
	}

	// a patient may not validate
	rec = do(t, e, http.MethodPost, "/api/v1/appointments/APT-1/validate", "", patient.RoleID(), "patient")
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rec.Code)
	}

	rec = do(t, e, http.MethodGet, "/api/v1/notifications/unread-count?user_id="+patient.RoleID(), "", patient.RoleID(), "patient")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for unread count, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"unread":1`) {
		t.Errorf("expected one confirmation notification, got %s", rec.Body.String())
	}
}

func TestStartBackground_RemindersNeedMail(t *testing.T) {
	cfg := testConfig(t)
	cfg.RemindersEnabled = true
	a := newTestApp(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.startBackground(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.reminders.Running() {
		t.Error("expected the reminder loop to stay off without mail credentials")
	}
}
