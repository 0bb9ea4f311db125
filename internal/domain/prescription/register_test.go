package prescription

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/storage"
)

var testDate = time.Date(2026, 3, 2, 9, 30, 0, 0, time.UTC)

func newTestRegister(t *testing.T) (*Register, *storage.MemoryStore) {
	t.Helper()
	mem := storage.NewMemoryStore()
	r := NewRegister(context.Background(), mem, zerolog.Nop())
	r.now = func() time.Time { return testDate }
	return r, mem
}

func amoxicillin() []Medication {
	return []Medication{{Name: "Amoxicilline", Dosage: "1 g", Frequency: "2 fois par jour", Duration: "7 jours"}}
}

func TestNewID_Format(t *testing.T) {
	re := regexp.MustCompile(`^PR-[0-9A-F]{8}$`)
	for i := 0; i < 20; i++ {
		if id := newID(); !re.MatchString(id) {
			t.Errorf("unexpected id %q", id)
		}
	}
}

func TestRegister_Create(t *testing.T) {
	r, mem := newTestRegister(t)
	p, err := r.Create(context.Background(), "PAT-1", "DR-1", amoxicillin(), "Pendant les repas")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !p.Date.Equal(testDate) || p.FormattedDate(time.UTC) != "02/03/2026" {
		t.Errorf("unexpected date %v", p.Date)
	}
	if createdMessage(p.ID) != fmt.Sprintf("Ordonnance %s créée avec succès", p.ID) {
		t.Error("unexpected message")
	}
	if mem.Saves(Collection) != 1 {
		t.Errorf("expected one save, got %d", mem.Saves(Collection))
	}

	// survives a restart
	again := NewRegister(context.Background(), mem, zerolog.Nop())
	got, err := again.Get(p.ID)
	if err != nil {
		t.Fatalf("expected the prescription to be persisted: %v", err)
	}
	if got.Medications[0].Name != "Amoxicilline" || got.Instructions != "Pendant les repas" {
		t.Errorf("unexpected prescription %+v", got)
	}
}

func TestRegister_CreateRequiresParticipants(t *testing.T) {
	r, _ := newTestRegister(t)
	_, err := r.Create(context.Background(), "", "DR-1", amoxicillin(), "")
	if !errors.Is(err, apperr.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestRegister_CreateRetriesTakenID(t *testing.T) {
	r, _ := newTestRegister(t)
	ids := []string{"PR-AAAAAAAA", "PR-AAAAAAAA", "PR-BBBBBBBB"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}
	ctx := context.Background()
	first, _ := r.Create(ctx, "PAT-1", "DR-1", amoxicillin(), "")
	second, _ := r.Create(ctx, "PAT-1", "DR-1", amoxicillin(), "")
	if first.ID != "PR-AAAAAAAA" || second.ID != "PR-BBBBBBBB" {
		t.Errorf("unexpected ids %s %s", first.ID, second.ID)
	}
}

func TestRegister_CreatePersistFailure(t *testing.T) {
	r, mem := newTestRegister(t)
	mem.SetSaveError(errors.New("disk full"))
	_, err := r.Create(context.Background(), "PAT-1", "DR-1", amoxicillin(), "")
	if !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if apperr.Message(err) != "Erreur lors de la sauvegarde de l'ordonnance" {
		t.Errorf("unexpected message %q", apperr.Message(err))
	}
	if len(r.All()) != 0 {
		t.Error("expected rollback")
	}
}

func TestRegister_Update(t *testing.T) {
	r, mem := newTestRegister(t)
	ctx := context.Background()
	p, _ := r.Create(ctx, "PAT-1", "DR-1", amoxicillin(), "Pendant les repas")

	note := "À jeun"
	got, err := r.Update(ctx, p.ID, nil, &note)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Instructions != "À jeun" || len(got.Medications) != 1 {
		t.Errorf("expected only instructions to change, got %+v", got)
	}

	meds := append(amoxicillin(), Medication{Name: "Paracétamol", Dosage: "500 mg", Frequency: "si douleur", Duration: "5 jours"})
	got, _ = r.Update(ctx, p.ID, &meds, nil)
	if len(got.Medications) != 2 || got.Instructions != "À jeun" {
		t.Errorf("expected only medications to change, got %+v", got)
	}

	mem.SetSaveError(errors.New("disk full"))
	empty := ""
	if _, err := r.Update(ctx, p.ID, nil, &empty); !errors.Is(err, apperr.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if cur, _ := r.Get(p.ID); cur.Instructions != "À jeun" {
		t.Error("expected rollback of the update")
	}
}

func TestRegister_UpdateNotFound(t *testing.T) {
	r, _ := newTestRegister(t)
	_, err := r.Update(context.Background(), "PR-00000000", nil, nil)
	if !errors.Is(err, apperr.ErrNotFound) || apperr.Message(err) != "Ordonnance non trouvée" {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestRegister_Delete(t *testing.T) {
	r, _ := newTestRegister(t)
	ctx := context.Background()
	p, _ := r.Create(ctx, "PAT-1", "DR-1", amoxicillin(), "")
	r.Create(ctx, "PAT-2", "DR-1", amoxicillin(), "")

	if err := r.Delete(ctx, p.ID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get(p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Error("expected the prescription to be gone")
	}
	if err := r.Delete(ctx, p.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
	if len(r.All()) != 1 {
		t.Errorf("expected 1 left, got %d", len(r.All()))
	}
}

func TestRegister_Queries(t *testing.T) {
	r, _ := newTestRegister(t)
	ctx := context.Background()
	r.Create(ctx, "PAT-1", "DR-1", amoxicillin(), "")
	r.Create(ctx, "PAT-1", "DR-2", amoxicillin(), "")
	r.Create(ctx, "PAT-2", "DR-1", amoxicillin(), "")

	if n := len(r.ForPatient("PAT-1")); n != 2 {
		t.Errorf("expected 2 for PAT-1, got %d", n)
	}
	if n := len(r.ForDoctor("DR-1")); n != 2 {
		t.Errorf("expected 2 for DR-1, got %d", n)
	}
}

func TestRegister_ReturnsCopies(t *testing.T) {
	r, _ := newTestRegister(t)
	p, _ := r.Create(context.Background(), "PAT-1", "DR-1", amoxicillin(), "")
	p.Medications[0].Name = "changed"
	if got, _ := r.Get(p.ID); got.Medications[0].Name != "Amoxicilline" {
		t.Error("expected callers not to alias stored medications")
	}
}
