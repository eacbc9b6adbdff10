package preferences

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/glebarez/go-sqlite"
	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/MarcoPoloResearchLab/moochie/internal/room"
)

// Keys of the stored preference rows.
const (
	KeyRoomCode           = "room_code"
	KeyLastImageTimestamp = "last_image_timestamp"
	KeyPushToken          = "push_token"
	KeyWidgetImageURI     = "widget_image_uri"
)

const tableName = "preferences"

const createTableSQL = `CREATE TABLE IF NOT EXISTS preferences (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// Preferences is the device-local user preference record.
type Preferences struct {
	RoomCode           string
	LastImageTimestamp string
	PushToken          string
	WidgetImageURI     string
}

// Store persists preferences as key/value rows.
type Store struct {
	db *sqlx.DB
}

type row struct {
	Key   string `db:"key"`
	Value string `db:"value"`
}

// Open opens (or creates) the SQLite file at path and ensures the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "unable to open the preferences database")
	}
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "unable to enable WAL mode")
	}
	store := NewStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewStore wraps an open database handle.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the preferences table when missing.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return errors.Wrap(err, "unable to create the preferences table")
	}
	return nil
}

// Get returns the value stored under key. The boolean is false when the key
// has never been set.
func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	wrapMsg := fmt.Sprintf("unable to read preference `%s`", key)

	statement, args, err := sq.StatementBuilder.
		Select("value").From(tableName).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return "", false, errors.Wrap(err, wrapMsg)
	}

	var value string
	err = s.db.GetContext(ctx, &value, statement, args...)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrap(err, wrapMsg)
	}
	return value, true, nil
}

// Set stores value under key, replacing any previous value.
func (s *Store) Set(ctx context.Context, key, value string) error {
	wrapMsg := fmt.Sprintf("unable to store preference `%s`", key)

	statement, args, err := sq.StatementBuilder.
		Insert(tableName).Columns("key", "value").
		Values(key, value).
		Suffix("ON CONFLICT(key) DO UPDATE SET value = excluded.value").
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}

	if _, err := s.db.ExecContext(ctx, statement, args...); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// Delete removes key.
func (s *Store) Delete(ctx context.Context, key string) error {
	wrapMsg := fmt.Sprintf("unable to delete preference `%s`", key)

	statement, args, err := sq.StatementBuilder.
		Delete(tableName).
		Where(sq.Eq{"key": key}).
		ToSql()
	if err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	if _, err := s.db.ExecContext(ctx, statement, args...); err != nil {
		return errors.Wrap(err, wrapMsg)
	}
	return nil
}

// Load reads every known preference at once.
func (s *Store) Load(ctx context.Context) (Preferences, error) {
	wrapMsg := "unable to load preferences"

	statement, args, err := sq.StatementBuilder.
		Select("key", "value").From(tableName).
		ToSql()
	if err != nil {
		return Preferences{}, errors.Wrap(err, wrapMsg)
	}

	var rows []row
	if err := s.db.SelectContext(ctx, &rows, statement, args...); err != nil {
		return Preferences{}, errors.Wrap(err, wrapMsg)
	}

	var prefs Preferences
	for _, r := range rows {
		switch r.Key {
		case KeyRoomCode:
			prefs.RoomCode = r.Value
		case KeyLastImageTimestamp:
			prefs.LastImageTimestamp = r.Value
		case KeyPushToken:
			prefs.PushToken = r.Value
		case KeyWidgetImageURI:
			prefs.WidgetImageURI = r.Value
		}
	}
	return prefs, nil
}

// RoomCode returns the saved room code, or "" when none is saved.
func (s *Store) RoomCode(ctx context.Context) (string, error) {
	value, _, err := s.Get(ctx, KeyRoomCode)
	return value, err
}

// SetRoomCode validates and saves the room code.
func (s *Store) SetRoomCode(ctx context.Context, rawCode string) error {
	code, err := room.NewCode(rawCode)
	if err != nil {
		return err
	}
	return s.Set(ctx, KeyRoomCode, code.String())
}

// LastImageTimestamp returns the last seen image token, or "".
func (s *Store) LastImageTimestamp(ctx context.Context) (string, error) {
	value, _, err := s.Get(ctx, KeyLastImageTimestamp)
	return value, err
}

func (s *Store) SetLastImageTimestamp(ctx context.Context, token string) error {
	return s.Set(ctx, KeyLastImageTimestamp, token)
}

func (s *Store) PushToken(ctx context.Context) (string, error) {
	value, _, err := s.Get(ctx, KeyPushToken)
	return value, err
}

func (s *Store) SetPushToken(ctx context.Context, token string) error {
	return s.Set(ctx, KeyPushToken, strings.TrimSpace(token))
}

// WidgetImageURI returns the URI last shown by the widget, or "".
func (s *Store) WidgetImageURI(ctx context.Context) (string, error) {
	value, _, err := s.Get(ctx, KeyWidgetImageURI)
	return value, err
}

func (s *Store) SetWidgetImageURI(ctx context.Context, uri string) error {
	return s.Set(ctx, KeyWidgetImageURI, uri)
}
