// Package prescription keeps the prescriptions doctors write for their
// patients.
package prescription

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/storage"
)

// Register holds every prescription in memory and writes the whole
// collection through on each change.
type Register struct {
	mu     sync.Mutex
	items  []Prescription
	store  storage.Store
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

func NewRegister(ctx context.Context, st storage.Store, logger zerolog.Logger) *Register {
	r := &Register{
		store:  st,
		logger: logger.With().Str("component", "prescriptions").Logger(),
		now:    time.Now,
		newID:  newID,
	}
	r.items = storage.LoadInto[Prescription](ctx, st, Collection, r.logger)
	return r
}

func (r *Register) Reload(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	items, err := storage.ReloadInto[Prescription](ctx, r.store, Collection, r.logger)
	if err != nil {
		r.logger.Warn().Err(err).Msg("reload failed, keeping in-memory state")
		return
	}
	r.items = items
}

func (r *Register) persist(ctx context.Context, failure string) error {
	if err := storage.SaveFrom(ctx, r.store, Collection, r.items); err != nil {
		r.logger.Error().Err(err).Msg("failed to save prescriptions")
		return apperr.Persistence(err, "%s", failure)
	}
	return nil
}

func (r *Register) indexOf(id string) int {
	for i := range r.items {
		if r.items[i].ID == id {
			return i
		}
	}
	return -1
}

func (r *Register) freshID() string {
	for {
		id := r.newID()
		if r.indexOf(id) < 0 {
			return id
		}
	}
}

func createdMessage(id string) string { return fmt.Sprintf("Ordonnance %s créée avec succès", id) }
func updatedMessage(id string) string { return fmt.Sprintf("Ordonnance %s mise à jour avec succès", id) }
func deletedMessage(id string) string { return fmt.Sprintf("Ordonnance %s supprimée avec succès", id) }

func (r *Register) Create(ctx context.Context, patientID, doctorID string, meds []Medication, instructions string) (*Prescription, error) {
	if patientID == "" || doctorID == "" {
		return nil, apperr.Validation("Patient et médecin requis")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	p := Prescription{
		ID:           r.freshID(),
		PatientID:    patientID,
		DoctorID:     doctorID,
		Date:         r.now(),
		Medications:  append([]Medication{}, meds...),
		Instructions: instructions,
	}
	r.items = append(r.items, p)
	if err := r.persist(ctx, "Erreur lors de la sauvegarde de l'ordonnance"); err != nil {
		r.items = r.items[:len(r.items)-1]
		return nil, err
	}
	r.logger.Info().Str("prescription_id", p.ID).Str("patient_id", patientID).Int("medications", len(meds)).Msg("prescription created")
	out := p.clone()
	return &out, nil
}

func (r *Register) Get(id string) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i := r.indexOf(id)
	if i < 0 {
		return nil, apperr.NotFound("Ordonnance non trouvée")
	}
	p := r.items[i].clone()
	return &p, nil
}

// Update replaces the medications and/or instructions; nil leaves a field
// as it is.
func (r *Register) Update(ctx context.Context, id string, meds *[]Medication, instructions *string) (*Prescription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return nil, apperr.NotFound("Ordonnance non trouvée")
	}
	prev := r.items[i]
	if meds != nil {
		r.items[i].Medications = append([]Medication{}, (*meds)...)
	}
	if instructions != nil {
		r.items[i].Instructions = *instructions
	}
	if err := r.persist(ctx, "Erreur lors de la mise à jour"); err != nil {
		r.items[i] = prev
		return nil, err
	}
	p := r.items[i].clone()
	return &p, nil
}

func (r *Register) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	i := r.indexOf(id)
	if i < 0 {
		return apperr.NotFound("Ordonnance non trouvée")
	}
	prev := r.items
	r.items = make([]Prescription, 0, len(prev)-1)
	r.items = append(r.items, prev[:i]...)
	r.items = append(r.items, prev[i+1:]...)
	if err := r.persist(ctx, "Erreur lors de la suppression"); err != nil {
		r.items = prev
		return err
	}
	r.logger.Info().Str("prescription_id", id).Msg("prescription deleted")
	return nil
}

func (r *Register) filter(keep func(*Prescription) bool) []Prescription {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Prescription, 0)
	for i := range r.items {
		if keep(&r.items[i]) {
			out = append(out, r.items[i].clone())
		}
	}
	return out
}

func (r *Register) All() []Prescription {
	return r.filter(func(*Prescription) bool { return true })
}

func (r *Register) ForPatient(patientID string) []Prescription {
	return r.filter(func(p *Prescription) bool { return p.PatientID == patientID })
}

func (r *Register) ForDoctor(doctorID string) []Prescription {
	return r.filter(func(p *Prescription) bool { return p.DoctorID == doctorID })
}
