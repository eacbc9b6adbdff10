package session

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/99designs/keyring"
)

func newTestStore() *Store {
	return NewStore(keyring.NewArrayKeyring(nil))
}

func TestSaveLoadClear(t *testing.T) {
	store := newTestStore()
	expires := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	saved := Session{
		UserID:      "google:123",
		Email:       "ann@example.com",
		DisplayName: "Ann",
		PhotoURL:    "https://example.com/ann.png",
		LoggedIn:    true,
		AccessToken: "token",
		ExpiresAt:   expires,
	}
	if err := store.Save(saved); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if loaded.UserID != saved.UserID || loaded.Email != saved.Email || !loaded.ExpiresAt.Equal(expires) {
		t.Fatalf("unexpected session %+v", loaded)
	}

	if err := store.Clear(); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session after clear, got %v", err)
	}
	if err := store.Clear(); err != nil {
		t.Fatalf("second clear must be a no-op, got %v", err)
	}
}

func TestSaveRejectsInvalidSessions(t *testing.T) {
	store := newTestStore()
	if err := store.Save(Session{Email: "ann@example.com", LoggedIn: true}); !errors.Is(err, ErrMissingUser) {
		t.Fatalf("expected missing user error, got %v", err)
	}
	if err := store.Save(Session{UserID: "u1", Email: "not-an-email", LoggedIn: true}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected invalid email error, got %v", err)
	}
}

func TestLoadTreatsLoggedOutAsNoSession(t *testing.T) {
	store := newTestStore()
	if err := store.Save(Session{UserID: "u1", LoggedIn: false}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.Load(); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected no session, got %v", err)
	}
}

func TestExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	if (Session{}).Expired(now) {
		t.Fatalf("zero expiry never expires")
	}
	if !(Session{ExpiresAt: now}).Expired(now) {
		t.Fatalf("expected expiry at boundary")
	}
	if (Session{ExpiresAt: now.Add(time.Minute)}).Expired(now) {
		t.Fatalf("unexpected expiry")
	}
}

func TestOpenFileBackendUsesConfiguredPassword(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "keyring")
	prompted := false
	cfg := Config{
		FileDir:  dir,
		Password: "correct horse",
		Backends: []keyring.BackendType{keyring.FileBackend},
		Prompt: func(string) (string, error) {
			prompted = true
			return "", errors.New("unexpected prompt")
		},
	}
	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Save(Session{UserID: "google:123", LoggedIn: true}); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if prompted {
		t.Fatalf("configured password must not prompt")
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	loaded, err := reopened.Load()
	if err != nil || loaded.UserID != "google:123" {
		t.Fatalf("expected stored session, got %+v (%v)", loaded, err)
	}
}

func TestOpenFileBackendPromptsWithoutPassword(t *testing.T) {
	prompts := 0
	store, err := Open(Config{
		FileDir:  filepath.Join(t.TempDir(), "keyring"),
		Backends: []keyring.BackendType{keyring.FileBackend},
		Prompt: func(string) (string, error) {
			prompts++
			return "", errors.New("no terminal")
		},
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	if err := store.Save(Session{UserID: "google:123", LoggedIn: true}); err == nil {
		t.Fatalf("expected save to fail when the password prompt fails")
	}
	if prompts == 0 {
		t.Fatalf("expected the file backend to ask for a password")
	}
}
