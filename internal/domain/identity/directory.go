// Package identity manages clinic accounts: registration, login and lookup
// of patients, doctors and secretaries.
package identity

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/apperr"
	"github.com/clinic/clinic/internal/platform/storage"
	"github.com/clinic/clinic/internal/platform/validation"
)

var ErrInvalidCredentials = errors.New("Email ou mot de passe incorrect")

var registrationMessages = map[string]string{
	"role":       "Rôle invalide",
	"first_name": "Tous les champs sont requis",
	"last_name":  "Tous les champs sont requis",
	"email":      "Format d'email invalide",
	"phone":      "Numéro de téléphone invalide",
	"password":   "Tous les champs sont requis",
}

// Directory is the user store. Lookup is the collaborator contract used
// by scheduling and reminders.
type Directory struct {
	mu       sync.RWMutex
	users    []User
	store    storage.Store
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewDirectory(ctx context.Context, st storage.Store, validate *validator.Validate, logger zerolog.Logger) *Directory {
	if validate == nil {
		validate = validation.New()
	}
	d := &Directory{
		store:    st,
		validate: validate,
		logger:   logger.With().Str("component", "users").Logger(),
	}
	d.users = storage.LoadInto[User](ctx, st, Collection, d.logger)
	return d
}

func (d *Directory) Reload(ctx context.Context) {
	d.mu.Lock()
	defer d.mu.Unlock()
	users, err := storage.ReloadInto[User](ctx, d.store, Collection, d.logger)
	if err != nil {
		d.logger.Warn().Err(err).Msg("reload failed, keeping in-memory state")
		return
	}
	d.users = users
}

func (d *Directory) persist(ctx context.Context) error {
	if err := storage.SaveFrom(ctx, d.store, Collection, d.users); err != nil {
		return apperr.Persistence(err, "Erreur lors de l'enregistrement des utilisateurs")
	}
	return nil
}

func (d *Directory) nextID() int {
	highest := 0
	for _, u := range d.users {
		if u.ID > highest {
			highest = u.ID
		}
	}
	return highest + 1
}

func (d *Directory) findByEmail(email string) int {
	for i := range d.users {
		if strings.EqualFold(d.users[i].Email, email) {
			return i
		}
	}
	return -1
}

// Register validates the payload and creates the account with its role
// profile.
func (d *Directory) Register(ctx context.Context, req Registration) (*User, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := d.validate.Struct(req); err != nil {
		return nil, apperr.Validation(validation.Message(err, registrationMessages, "Données d'inscription invalides"))
	}
	if req.Role == RolePatient {
		if req.DateOfBirth == "" {
			return nil, apperr.Validation("Tous les champs sont requis")
		}
		if err := d.validate.Var(req.SSN, "required,mindigits=10"); err != nil {
			return nil, apperr.Validation("Numéro de sécurité sociale invalide")
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.findByEmail(req.Email) >= 0 {
		return nil, apperr.Conflict("Un utilisateur avec cet email existe déjà")
	}

	u := User{
		ID:        d.nextID(),
		FirstName: req.FirstName,
		LastName:  req.LastName,
		Email:     req.Email,
		Phone:     req.Phone,
		Password:  req.Password,
		Role:      req.Role,
	}
	newProfile(&u, req.DateOfBirth, req.SSN, req.Specialty)

	d.users = append(d.users, u)
	if err := d.persist(ctx); err != nil {
		d.users = d.users[:len(d.users)-1]
		return nil, err
	}

	d.logger.Info().Int("user_id", u.ID).Str("role_id", u.RoleID()).Msg("user registered")
	return &u, nil
}

// Login re-reads the collection, then checks the credentials.
func (d *Directory) Login(ctx context.Context, email, password string) (*User, error) {
	d.Reload(ctx)

	d.mu.RLock()
	defer d.mu.RUnlock()
	i := d.findByEmail(strings.TrimSpace(email))
	if i < 0 || d.users[i].Password != password {
		return nil, ErrInvalidCredentials
	}
	u := d.users[i]
	return &u, nil
}

// Lookup resolves a role id (PAT-1, DR-2, SEC-3) or a numeric user id.
// It returns nil when no user matches.
func (d *Directory) Lookup(_ context.Context, id string) *User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for i := range d.users {
		if d.users[i].matches(id) {
			u := d.users[i]
			return &u
		}
	}
	return nil
}

// List returns every user, or only those of role when it is set.
func (d *Directory) List(role Role) []User {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		if role != "" && u.Role != role {
			continue
		}
		out = append(out, u)
	}
	return out
}

// Delete removes the user matching id (role id or user id).
func (d *Directory) Delete(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	idx := -1
	for i := range d.users {
		if d.users[i].matches(id) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return apperr.NotFound("Utilisateur non trouvé")
	}

	prev := d.users
	d.users = make([]User, 0, len(prev)-1)
	d.users = append(d.users, prev[:idx]...)
	d.users = append(d.users, prev[idx+1:]...)
	if err := d.persist(ctx); err != nil {
		d.users = prev
		return err
	}
	d.logger.Info().Str("id", id).Msg("user deleted")
	return nil
}

// DisplayName returns the user's full name, or id when unknown.
func (d *Directory) DisplayName(ctx context.Context, id string) string {
	if u := d.Lookup(ctx, id); u != nil {
		if name := u.FullName(); name != "" {
			return name
		}
	}
	return id
}

