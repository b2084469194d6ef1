package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gofrs/flock"
)

var ErrLockTimeout = errors.New("timed out waiting for store lock")

const lockRetryDelay = 50 * time.Millisecond

// FileLock is an exclusive advisory lock on a sibling marker file. It
// serializes holders across processes through flock(2) and within the
// process through a mutex, since flock is per open file description.
type FileLock struct {
	path    string
	timeout time.Duration
	mu      sync.Mutex
}

func NewFileLock(path string, timeout time.Duration) *FileLock {
	return &FileLock{path: path, timeout: timeout}
}

func (l *FileLock) Path() string { return l.path }

// With runs fn while holding the lock. Waiting for the lock is bounded by
// the lock timeout and by ctx.
func (l *FileLock) With(ctx context.Context, fn func() error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	fl := flock.New(l.path)
	ok, err := fl.TryLockContext(ctx, lockRetryDelay)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
		}
		return fmt.Errorf("lock %s: %w", l.path, err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
	}
	defer func() { _ = fl.Close() }()

	return fn()
}
