package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestKinds_MatchWithErrorsIs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		kind error
		code int
	}{
		{"validation", Validation("Tous les champs sont requis"), ErrValidation, http.StatusBadRequest},
		{"conflict", Conflict("Conflit avec rdv %s", "APT-1"), ErrConflict, http.StatusConflict},
		{"not found", NotFound("Rdv non trouvé"), ErrNotFound, http.StatusNotFound},
		{"persistence", Persistence(errors.New("disk full"), "save appointments"), ErrPersistence, http.StatusInternalServerError},
		{"delivery", Delivery(errors.New("dial tcp"), "send mail"), ErrDelivery, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.kind) {
				t.Errorf("errors.Is(%v, %v) = false", tt.err, tt.kind)
			}
			if got := StatusCode(tt.err); got != tt.code {
				t.Errorf("StatusCode = %d, want %d", got, tt.code)
			}
		})
	}
}

func TestPersistence_KeepsCause(t *testing.T) {
	cause := errors.New("disk full")
	err := fmt.Errorf("book: %w", Persistence(cause, "save appointments"))

	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable through errors.Is")
	}
	if got := Message(err); got != "save appointments" {
		t.Errorf("Message = %q, want %q", got, "save appointments")
	}
	if got := err.Error(); got != "book: save appointments: disk full" {
		t.Errorf("Error = %q", got)
	}
}

func TestMessage_PlainError(t *testing.T) {
	if got := Message(errors.New("boom")); got != "boom" {
		t.Errorf("Message = %q, want boom", got)
	}
	if got := Message(nil); got != "" {
		t.Errorf("Message(nil) = %q, want empty", got)
	}
}

func TestStatusCode_Unknown(t *testing.T) {
	if got := StatusCode(errors.New("other")); got != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", got)
	}
}

func TestHTTP(t *testing.T) {
	err := HTTP(Conflict("Conflit avec rdv %s", "APT-1"))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", httpErr.Code)
	}
	if httpErr.Message != "Conflit avec rdv APT-1" {
		t.Errorf("unexpected message %v", httpErr.Message)
	}
	if HTTP(nil) != nil {
		t.Error("expected nil for nil error")
	}
}
