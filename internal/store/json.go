package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"timedsend/internal/domain"
)

// JSONFile keeps the schedules as one JSON array in a single file, guarded
// by <path>.lock.
type JSONFile struct {
	path string
	lock *FileLock
	log  zerolog.Logger
}

// OpenJSON creates the parent directory and, on first use, the file holding
// an empty array.
func OpenJSON(path string, lockTimeout time.Duration, log zerolog.Logger) (*JSONFile, error) {
	if path == "" {
		return nil, errors.New("store path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}
	s := &JSONFile{
		path: path,
		lock: NewFileLock(path+".lock", lockTimeout),
		log:  log.With().Str("component", "store").Str("path", path).Logger(),
	}
	err := s.lock.With(context.Background(), func() error {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return s.write(nil)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *JSONFile) Path() string { return s.path }

func (s *JSONFile) Close() error { return nil }

func (s *JSONFile) Load(ctx context.Context) ([]domain.Schedule, error) {
	var out []domain.Schedule
	err := s.lock.With(ctx, func() error {
		out = s.read()
		return nil
	})
	return out, err
}

func (s *JSONFile) Save(ctx context.Context, schedules []domain.Schedule) error {
	return s.lock.With(ctx, func() error {
		return s.write(schedules)
	})
}

func (s *JSONFile) Update(ctx context.Context, fn func([]domain.Schedule) ([]domain.Schedule, error)) error {
	return s.lock.With(ctx, func() error {
		next, err := fn(s.read())
		if err != nil {
			return err
		}
		return s.write(next)
	})
}

// read never fails: a missing or malformed file is an empty sequence.
func (s *JSONFile) read() []domain.Schedule {
	b, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			s.log.Warn().Err(err).Msg("read schedules failed; using empty list")
		}
		return []domain.Schedule{}
	}
	var out []domain.Schedule
	if err := json.Unmarshal(b, &out); err != nil {
		s.log.Warn().Err(err).Msg("schedule file malformed; using empty list")
		return []domain.Schedule{}
	}
	if out == nil {
		out = []domain.Schedule{}
	}
	return out
}

// write replaces the file through a temp file and rename.
func (s *JSONFile) write(schedules []domain.Schedule) error {
	if schedules == nil {
		schedules = []domain.Schedule{}
	}
	b, err := json.MarshalIndent(schedules, "", "  ")
	if err != nil {
		return fmt.Errorf("encode schedules: %w", err)
	}
	f, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(append(b, '\n')); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("write schedules: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("sync schedules: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("replace schedules: %w", err)
	}
	return nil
}
