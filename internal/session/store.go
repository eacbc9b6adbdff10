package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/99designs/keyring"
	"github.com/mcnijman/go-emailaddress"
)

const (
	serviceName = "moochie"
	itemKey     = "session"
)

var (
	// ErrNoSession is returned when nobody is signed in.
	ErrNoSession = errors.New("session: not signed in")
	// ErrInvalidEmail rejects sessions with a malformed email address.
	ErrInvalidEmail = errors.New("session: invalid email address")
	// ErrMissingUser rejects sessions without a user id.
	ErrMissingUser = errors.New("session: user id required")
)

// Session is the signed-in user's profile and backend access token.
type Session struct {
	UserID      string    `json:"userId"`
	Email       string    `json:"email"`
	DisplayName string    `json:"displayName"`
	PhotoURL    string    `json:"photoUrl"`
	LoggedIn    bool      `json:"loggedIn"`
	AccessToken string    `json:"accessToken"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Expired reports whether the access token is past its expiry at now.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

type Config struct {
	FileDir  string
	Password string
	Backends []keyring.BackendType
	// Prompt asks for the file backend password when Password is empty.
	// Defaults to keyring.TerminalPrompt.
	Prompt keyring.PromptFunc
}

// Store keeps the session as one JSON item in the OS keyring.
type Store struct {
	ring keyring.Keyring
}

// Open opens the platform keyring, falling back to an encrypted file.
func Open(cfg Config) (*Store, error) {
	backends := cfg.Backends
	if len(backends) == 0 {
		backends = []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		}
	}
	fileDir := cfg.FileDir
	if fileDir == "" {
		fileDir = "~/.config/moochie/keyring"
	}
	ring, err := keyring.Open(keyring.Config{
		ServiceName:              serviceName,
		AllowedBackends:          backends,
		FileDir:                  fileDir,
		FilePasswordFunc:         filePasswordFunc(cfg),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewStore(ring), nil
}

// filePasswordFunc is only consulted when the encrypted file backend is the
// one in use.
func filePasswordFunc(cfg Config) keyring.PromptFunc {
	if cfg.Password != "" {
		return keyring.FixedStringPrompt(cfg.Password)
	}
	if cfg.Prompt != nil {
		return cfg.Prompt
	}
	return keyring.TerminalPrompt
}

// NewStore wraps an already opened keyring.
func NewStore(ring keyring.Keyring) *Store {
	return &Store{ring: ring}
}

// Save validates and persists the session.
func (s *Store) Save(session Session) error {
	if strings.TrimSpace(session.UserID) == "" {
		return ErrMissingUser
	}
	if email := strings.TrimSpace(session.Email); email != "" {
		if _, err := emailaddress.Parse(email); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidEmail, err)
		}
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.ring.Set(keyring.Item{
		Key:         itemKey,
		Data:        payload,
		Label:       "Moochie session",
		Description: "Moochie sign-in session",
	}); err != nil {
		return fmt.Errorf("storing session: %w", err)
	}
	return nil
}

// Load returns the stored session or ErrNoSession.
func (s *Store) Load() (Session, error) {
	item, err := s.ring.Get(itemKey)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return Session{}, ErrNoSession
	}
	if err != nil {
		return Session{}, fmt.Errorf("reading session: %w", err)
	}
	var session Session
	if err := json.Unmarshal(item.Data, &session); err != nil {
		return Session{}, fmt.Errorf("decoding session: %w", err)
	}
	if !session.LoggedIn || session.UserID == "" {
		return Session{}, ErrNoSession
	}
	return session, nil
}

// Clear signs the user out. Clearing an empty store is not an error.
func (s *Store) Clear() error {
	err := s.ring.Remove(itemKey)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("removing session: %w", err)
	}
	return nil
}
