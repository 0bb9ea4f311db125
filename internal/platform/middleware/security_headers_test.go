package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/clinic/clinic/internal/platform/apperr"
)

func newHeadersServer(p SecurityPolicy) *echo.Echo {
	e := echo.New()
	e.Use(SecurityHeaders(p))
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/api/v1/appointments/:id", func(c echo.Context) error {
		return apperr.HTTP(apperr.NotFound("Rdv non trouvé"))
	})
	return e
}

func TestSecurityHeaders_ClinicPolicy(t *testing.T) {
	tests := []struct {
		name       string
		production bool
		path       string
		status     int
		noStore    bool
	}{
		{"health is cacheable", false, "/health", http.StatusOK, false},
		{"api error is private", false, "/api/v1/appointments/APT-9", http.StatusNotFound, true},
		{"production health", true, "/health", http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newHeadersServer(ClinicSecurityPolicy(tt.production))
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			h := rec.Header()
			if h.Get("X-Content-Type-Options") != "nosniff" || h.Get("X-Frame-Options") != "DENY" {
				t.Error("expected base headers on every response")
			}
			if got := h.Get("Cache-Control") == "no-store"; got != tt.noStore {
				t.Errorf("no-store: got %v, want %v", got, tt.noStore)
			}
			if got := h.Get("Strict-Transport-Security") != ""; got != tt.production {
				t.Errorf("hsts: got %v, want %v", got, tt.production)
			}
		})
	}
}

func TestSecurityPolicy_Private(t *testing.T) {
	p := SecurityPolicy{PrivatePrefixes: []string{"/api/", "/exports/"}}
	for path, want := range map[string]bool{
		"/api/v1/prescriptions": true,
		"/exports/2026-03.csv":  true,
		"/health/db":            false,
		"/apidocs":              false,
	} {
		if got := p.private(path); got != want {
			t.Errorf("%s: got %v, want %v", path, got, want)
		}
	}
}
