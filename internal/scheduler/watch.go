package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

type fileStamp struct {
	mod  time.Time
	size int64
}

func stampOf(path string) (fileStamp, bool) {
	fi, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, false
	}
	return fileStamp{mod: fi.ModTime(), size: fi.Size()}, true
}

// recordOwnWrite remembers the store file as the last pass left it.
func (s *Service) recordOwnWrite() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if s.watchPath == "" {
		return
	}
	if st, ok := stampOf(s.watchPath); ok {
		s.ownWrite = st
	}
}

// isOwnWrite reports whether the store file is still exactly as the last
// pass wrote it.
func (s *Service) isOwnWrite() bool {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	st, ok := stampOf(s.watchPath)
	return ok && st.mod.Equal(s.ownWrite.mod) && st.size == s.ownWrite.size
}

// WatchStore triggers a pass whenever the schedule file at path changes, so
// schedules added while the engine sleeps are picked up promptly. Changes
// made by the engine's own passes are ignored. It returns when ctx is
// canceled.
func (s *Service) WatchStore(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("store watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory: writes replace the file through rename.
	dir, file := filepath.Dir(path), filepath.Base(path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	s.watchMu.Lock()
	s.watchPath = path
	s.watchMu.Unlock()
	s.recordOwnWrite()
	s.log.Debug().Str("dir", dir).Str("file", file).Msg("store watcher started")

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != file {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if s.passing.Load() || s.isOwnWrite() {
				continue
			}
			s.Trigger()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			s.log.Warn().Err(err).Msg("store watcher error")
		}
	}
}
