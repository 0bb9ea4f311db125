package mail

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/clinic/clinic/internal/platform/storage"
)

// SettingsCollection persists credentials set at runtime.
const SettingsCollection = "mail_config"

// SettingsStore persists the runtime mail account.
type SettingsStore struct {
	store  storage.Store
	logger zerolog.Logger
}

func NewSettingsStore(st storage.Store, logger zerolog.Logger) *SettingsStore {
	return &SettingsStore{store: st, logger: logger}
}

// Load returns the saved settings, if any.
func (s *SettingsStore) Load(ctx context.Context) (Settings, bool) {
	saved := storage.LoadInto[Settings](ctx, s.store, SettingsCollection, s.logger)
	if len(saved) == 0 {
		return Settings{}, false
	}
	return saved[len(saved)-1], true
}

func (s *SettingsStore) Save(ctx context.Context, settings Settings) error {
	return storage.SaveFrom(ctx, s.store, SettingsCollection, []Settings{settings})
}
