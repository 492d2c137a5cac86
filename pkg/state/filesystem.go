package state

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"syscall"
)

// Field names are also file names, so they get the same hostile-input
// treatment as tokens.
var fieldPattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// terminalDir is the per-record subdirectory that holds the outcome and its
// detail fields. It is created in one shot by renaming a fully written
// staging directory into place, which is what makes the terminal
// transition atomic and exactly-once on POSIX filesystems.
const terminalDir = "outcome.d"

// FileSystemStore implements Store on a shared directory tree, one
// directory per token. This is the default backend; the mail server can
// mount the same tree and poll it through this package.
type FileSystemStore struct {
	rootDir string
}

// NewFileSystemStore creates the store layout under rootDir.
func NewFileSystemStore(rootDir string) (*FileSystemStore, error) {
	for _, dir := range []string{filepath.Join(rootDir, "state"), filepath.Join(rootDir, "staging")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}
	return &FileSystemStore{rootDir: rootDir}, nil
}

func (s *FileSystemStore) recordDir(token Token) string {
	return filepath.Join(s.rootDir, "state", string(token))
}

// Create implements Store.Create. os.Mkdir is atomic on the token
// directory, so exactly one racer wins.
func (s *FileSystemStore) Create(_ context.Context, token Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	if err := os.Mkdir(s.recordDir(token), 0o755); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return ErrConflict
		}
		return fmt.Errorf("failed to create record: %w", err)
	}
	return nil
}

// GetField implements Store.GetField. Terminal fields live under outcome.d
// and shadow any pre-terminal value of the same name.
func (s *FileSystemStore) GetField(_ context.Context, token Token, name string) (string, error) {
	if err := token.Validate(); err != nil {
		return "", err
	}
	if !fieldPattern.MatchString(name) {
		return "", fmt.Errorf("invalid field name %q", name)
	}
	dir := s.recordDir(token)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("failed to stat record: %w", err)
	}
	for _, path := range []string{filepath.Join(dir, terminalDir, name), filepath.Join(dir, name)} {
		b, err := os.ReadFile(path)
		if err == nil {
			return string(b), nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to read field %s: %w", name, err)
		}
	}
	return "", ErrFieldAbsent
}

// SetField implements Store.SetField. Plain fields are written to a temp
// file and renamed into place, never read-modify-write. The outcome field
// is diverted through the terminal guard.
func (s *FileSystemStore) SetField(ctx context.Context, token Token, name, value string) error {
	if name == FieldOutcome {
		return s.Complete(ctx, token, Outcome(value), nil)
	}
	if err := token.Validate(); err != nil {
		return err
	}
	if !fieldPattern.MatchString(name) {
		return fmt.Errorf("invalid field name %q", name)
	}
	dir := s.recordDir(token)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat record: %w", err)
	}
	return writeFileAtomic(dir, name, value)
}

// Complete implements Store.Complete. The outcome and its detail fields are
// staged in a scratch directory and renamed to outcome.d in a single
// operation; a loser's rename fails because the target already exists.
func (s *FileSystemStore) Complete(ctx context.Context, token Token, outcome Outcome, detail map[string]string) error {
	if err := checkTerminalArgs(token, outcome); err != nil {
		return err
	}
	dir := s.recordDir(token)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to stat record: %w", err)
	}
	if _, err := os.Stat(filepath.Join(dir, terminalDir)); err == nil {
		return ErrAlreadyTerminal
	}

	staging, err := os.MkdirTemp(filepath.Join(s.rootDir, "staging"), string(token)+"-")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(staging)

	if err := os.WriteFile(filepath.Join(staging, FieldOutcome), []byte(outcome), 0o644); err != nil {
		return fmt.Errorf("failed to stage outcome: %w", err)
	}
	for name, value := range detail {
		if !fieldPattern.MatchString(name) {
			return fmt.Errorf("invalid field name %q", name)
		}
		if err := os.WriteFile(filepath.Join(staging, name), []byte(value), 0o644); err != nil {
			return fmt.Errorf("failed to stage field %s: %w", name, err)
		}
	}

	if err := os.Rename(staging, filepath.Join(dir, terminalDir)); err != nil {
		if errors.Is(err, fs.ErrExist) || errors.Is(err, syscall.ENOTEMPTY) {
			return ErrAlreadyTerminal
		}
		return fmt.Errorf("failed to commit outcome: %w", err)
	}
	return nil
}

// Terminal implements Store.Terminal.
func (s *FileSystemStore) Terminal(ctx context.Context, token Token) (bool, error) {
	outcome, err := CurrentOutcome(ctx, s, token)
	if err != nil {
		return false, err
	}
	return outcome.IsTerminal(), nil
}

func writeFileAtomic(dir, name, value string) error {
	tmp, err := os.CreateTemp(dir, "."+name+".tmp-")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(value); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write field %s: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write field %s: %w", name, err)
	}
	if err := os.Rename(tmpName, filepath.Join(dir, name)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to commit field %s: %w", name, err)
	}
	return nil
}
