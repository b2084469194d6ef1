package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"timedsend/internal/domain"
)

var (
	ErrNotFound  = errors.New("schedule not found")
	ErrDuplicate = errors.New("schedule already exists")
)

// Backend persists the whole schedule sequence. Every call is a single
// exclusive lock scope; Update is the load+mutate+save unit all mutations
// go through.
type Backend interface {
	Load(ctx context.Context) ([]domain.Schedule, error)
	Save(ctx context.Context, schedules []domain.Schedule) error
	Update(ctx context.Context, fn func([]domain.Schedule) ([]domain.Schedule, error)) error
	Close() error
}

type Config struct {
	Driver      string
	Path        string
	LockTimeout time.Duration
}

const (
	DriverJSON   = "json"
	DriverSQLite = "sqlite"
)

func Open(cfg Config, log zerolog.Logger) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", DriverJSON:
		return OpenJSON(cfg.Path, cfg.LockTimeout, log)
	case DriverSQLite:
		return OpenSQLite(cfg.Path)
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}
