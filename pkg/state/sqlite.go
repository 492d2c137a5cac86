package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// SQLStore implements Store on an embedded SQLite database. Terminal
// transitions ride on SQLite's write serialization: the outcome row is
// inserted with ON CONFLICT DO NOTHING and the rows-affected count decides
// who won.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLite opens (or creates) the database at path and applies the
// schema.
func OpenSQLite(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	s := NewSQLStore(db)
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLStore wraps an existing database handle. Callers own the handle's
// lifecycle and must have applied the schema (see Migrate).
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate applies the store schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS records (
			token      TEXT PRIMARY KEY,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE TABLE IF NOT EXISTS record_fields (
			token TEXT NOT NULL REFERENCES records(token),
			name  TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (token, name)
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLStore) Close() error { return s.db.Close() }

// Create implements Store.Create.
func (s *SQLStore) Create(ctx context.Context, token Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO records (token) VALUES (?) ON CONFLICT (token) DO NOTHING`, string(token))
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to create record: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

// GetField implements Store.GetField.
func (s *SQLStore) GetField(ctx context.Context, token Token, name string) (string, error) {
	if err := token.Validate(); err != nil {
		return "", err
	}
	var value string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM record_fields WHERE token = ? AND name = ?`, string(token), name).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		if err := s.requireRecord(ctx, token); err != nil {
			return "", err
		}
		return "", ErrFieldAbsent
	}
	if err != nil {
		return "", fmt.Errorf("failed to read field %s: %w", name, err)
	}
	return value, nil
}

// SetField implements Store.SetField.
func (s *SQLStore) SetField(ctx context.Context, token Token, name, value string) error {
	if name == FieldOutcome {
		return s.Complete(ctx, token, Outcome(value), nil)
	}
	if err := token.Validate(); err != nil {
		return err
	}
	if err := s.requireRecord(ctx, token); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO record_fields (token, name, value) VALUES (?, ?, ?)
		ON CONFLICT (token, name) DO UPDATE SET value = excluded.value`,
		string(token), name, value)
	if err != nil {
		return fmt.Errorf("failed to write field %s: %w", name, err)
	}
	return nil
}

// Complete implements Store.Complete. The outcome row and detail rows are
// committed in one transaction, so a loser observes ErrAlreadyTerminal and
// leaves nothing behind.
func (s *SQLStore) Complete(ctx context.Context, token Token, outcome Outcome, detail map[string]string) error {
	if err := checkTerminalArgs(token, outcome); err != nil {
		return err
	}
	if err := s.requireRecord(ctx, token); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO record_fields (token, name, value) VALUES (?, ?, ?)
		ON CONFLICT (token, name) DO NOTHING`,
		string(token), FieldOutcome, string(outcome))
	if err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to write outcome: %w", err)
	}
	if n == 0 {
		return ErrAlreadyTerminal
	}

	for name, value := range detail {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO record_fields (token, name, value) VALUES (?, ?, ?)
			ON CONFLICT (token, name) DO UPDATE SET value = excluded.value`,
			string(token), name, value); err != nil {
			return fmt.Errorf("failed to write field %s: %w", name, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	return nil
}

// Terminal implements Store.Terminal.
func (s *SQLStore) Terminal(ctx context.Context, token Token) (bool, error) {
	outcome, err := CurrentOutcome(ctx, s, token)
	if err != nil {
		return false, err
	}
	return outcome.IsTerminal(), nil
}

func (s *SQLStore) requireRecord(ctx context.Context, token Token) error {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM records WHERE token = ?)`, string(token)).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up record: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return nil
}
