package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type item struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

func newFileStore(t *testing.T) (*FileStore, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	s, err := NewFileStore(fs, "/data", zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	return s, fs
}

func newSQLStore(t *testing.T) *SQLStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	s := NewSQLStore(db, zerolog.Nop())
	if err := s.AutoMigrate(); err != nil {
		t.Fatalf("AutoMigrate: %v", err)
	}
	return s
}

func TestStores_RoundTrip(t *testing.T) {
	fileStore, _ := newFileStore(t)
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fileStore,
		"sql":    newSQLStore(t),
	}

	for name, s := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if got := s.Load(ctx, "appointments"); len(got) != 0 {
				t.Fatalf("expected empty collection, got %d records", len(got))
			}

			in := []item{{ID: "APT-1", Name: "Élodie"}, {ID: "APT-2", Name: "<b>"}}
			if err := SaveFrom(ctx, s, "appointments", in); err != nil {
				t.Fatalf("SaveFrom: %v", err)
			}
			out := LoadInto[item](ctx, s, "appointments", zerolog.Nop())
			if len(out) != 2 {
				t.Fatalf("expected 2 items, got %d", len(out))
			}
			if out[0] != in[0] || out[1] != in[1] {
				t.Errorf("expected %v, got %v", in, out)
			}

			// a second save replaces the whole collection
			if err := SaveFrom(ctx, s, "appointments", in[:1]); err != nil {
				t.Fatalf("SaveFrom: %v", err)
			}
			out = LoadInto[item](ctx, s, "appointments", zerolog.Nop())
			if len(out) != 1 {
				t.Errorf("expected 1 item after replace, got %d", len(out))
			}
		})
	}
}

func TestFileStore_WritesIndentedJSON(t *testing.T) {
	s, fs := newFileStore(t)
	ctx := context.Background()

	if err := SaveFrom(ctx, s, "users", []item{{ID: "PAT-1", Name: "Zoé"}}); err != nil {
		t.Fatalf("SaveFrom: %v", err)
	}

	data, err := afero.ReadFile(fs, "/data/users.json")
	if err != nil {
		t.Fatalf("read file: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "\n        \"id\": \"PAT-1\"") {
		t.Errorf("expected 4-space indentation, got:\n%s", text)
	}
	if !strings.Contains(text, "Zoé") {
		t.Errorf("expected non-ASCII text kept verbatim, got:\n%s", text)
	}

	entries, err := afero.ReadDir(fs, "/data")
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temporary file left behind: %s", e.Name())
		}
	}
}

func TestFileStore_MalformedFileLoadsEmpty(t *testing.T) {
	s, fs := newFileStore(t)
	if err := afero.WriteFile(fs, "/data/timeslots.json", []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := s.Load(context.Background(), "timeslots"); len(got) != 0 {
		t.Errorf("expected empty collection, got %d records", len(got))
	}
}

func TestReloadInto_ReportsReadFailures(t *testing.T) {
	s, fs := newFileStore(t)
	ctx := context.Background()

	got, err := ReloadInto[item](ctx, s, "timeslots", zerolog.Nop())
	if err != nil || len(got) != 0 {
		t.Fatalf("expected a missing collection to reload empty, got %v %v", got, err)
	}

	if err := afero.WriteFile(fs, "/data/timeslots.json", []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := ReloadInto[item](ctx, s, "timeslots", zerolog.Nop()); err == nil {
		t.Error("expected an error for a malformed collection")
	}

	mem := NewMemoryStore()
	SaveFrom(ctx, mem, "items", []item{{ID: "1", Name: "a"}})
	mem.SetLoadError(errors.New("connection reset"))
	if _, err := ReloadInto[item](ctx, mem, "items", zerolog.Nop()); err == nil {
		t.Error("expected the load error to be returned")
	}
	mem.SetLoadError(nil)
	if got, err := ReloadInto[item](ctx, mem, "items", zerolog.Nop()); err != nil || len(got) != 1 {
		t.Errorf("expected one item, got %v %v", got, err)
	}
}

func TestFileStore_InvalidName(t *testing.T) {
	s, _ := newFileStore(t)
	err := s.Save(context.Background(), "../etc/passwd", nil)
	if !errors.Is(err, ErrInvalidName) {
		t.Errorf("expected ErrInvalidName, got %v", err)
	}
	if got := s.Load(context.Background(), "../etc/passwd"); len(got) != 0 {
		t.Errorf("expected empty load for invalid name, got %d", len(got))
	}
}

func TestLoadInto_SkipsMalformedRecords(t *testing.T) {
	m := NewMemoryStore()
	m.Put("notifications", []byte(`[{"id":"NOTIF-1","name":"a"}, "oops", {"id":"NOTIF-2","name":"b"}]`))

	out := LoadInto[item](context.Background(), m, "notifications", zerolog.Nop())
	if len(out) != 2 {
		t.Fatalf("expected 2 valid items, got %d", len(out))
	}
	if out[1].ID != "NOTIF-2" {
		t.Errorf("expected NOTIF-2, got %s", out[1].ID)
	}
}

func TestMemoryStore_SaveError(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	boom := errors.New("disk full")

	m.SetSaveError(boom)
	err := SaveFrom(ctx, m, "appointments", []item{{ID: "APT-1"}})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped save error, got %v", err)
	}
	if m.Saves("appointments") != 0 {
		t.Errorf("expected 0 saves, got %d", m.Saves("appointments"))
	}

	m.SetSaveError(nil)
	if err := SaveFrom(ctx, m, "appointments", []item{{ID: "APT-1"}}); err != nil {
		t.Fatalf("SaveFrom: %v", err)
	}
	if m.Saves("appointments") != 1 {
		t.Errorf("expected 1 save, got %d", m.Saves("appointments"))
	}
}

func TestSequence_Next(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seq := NewSequence(m, zerolog.Nop())

	for want := 1; want <= 3; want++ {
		got, err := seq.Next(ctx, "notifications", 0)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if got != want {
			t.Errorf("expected %d, got %d", want, got)
		}
	}

	// the floor lifts the counter past ids already present in data
	got, err := seq.Next(ctx, "timeslots", 41)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != 42 {
		t.Errorf("expected 42, got %d", got)
	}

	// a fresh sequence over the same store resumes where the last one stopped
	reloaded := NewSequence(m, zerolog.Nop())
	got, err = reloaded.Next(ctx, "notifications", 0)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if got != 4 {
		t.Errorf("expected 4 after reload, got %d", got)
	}
}

func TestSequence_SaveFailureDoesNotAdvance(t *testing.T) {
	m := NewMemoryStore()
	ctx := context.Background()
	seq := NewSequence(m, zerolog.Nop())

	if _, err := seq.Next(ctx, "notifications", 0); err != nil {
		t.Fatalf("Next: %v", err)
	}

	m.SetSaveError(errors.New("read-only"))
	if _, err := seq.Next(ctx, "notifications", 0); err == nil {
		t.Fatal("expected error when save fails")
	}
	if seq.Current(ctx, "notifications") != 1 {
		t.Errorf("expected counter to stay at 1, got %d", seq.Current(ctx, "notifications"))
	}

	m.SetSaveError(nil)
	got, _ := seq.Next(ctx, "notifications", 0)
	if got != 2 {
		t.Errorf("expected 2, got %d", got)
	}
}

func TestSequence_Concurrent(t *testing.T) {
	seq := NewSequence(NewMemoryStore(), zerolog.Nop())
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	seen := make(map[int]bool)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := seq.Next(ctx, "notifications", 0)
			if err != nil {
				t.Errorf("Next: %v", err)
				return
			}
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(seen) != 50 {
		t.Errorf("expected 50 distinct values, got %d", len(seen))
	}
}
