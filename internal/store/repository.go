package store

import (
	"context"
	"fmt"
	"time"

	"timedsend/internal/domain"
)

// Repository implements the schedule operations on top of a Backend. Each
// mutation is exactly one Backend.Update, i.e. one lock scope, and records
// are addressed by id rather than by position.
type Repository struct {
	backend Backend
	now     func() time.Time
}

func NewRepository(b Backend) *Repository {
	return &Repository{backend: b, now: time.Now}
}

// WithClock replaces the clock used for created_at. Tests only.
func (r *Repository) WithClock(now func() time.Time) *Repository {
	r.now = now
	return r
}

func (r *Repository) Backend() Backend { return r.backend }

// Add validates s and appends it as a new pending record.
func (r *Repository) Add(ctx context.Context, s domain.Schedule) (domain.Schedule, error) {
	if s.ID == "" {
		s.ID = domain.NewID()
	}
	if s.Status == "" {
		s.Status = domain.StatusPending
	}
	if s.NextRun == "" {
		s.NextRun = s.Time
	}
	if s.CreatedAt.IsZero() {
		s.CreatedAt = domain.Timestamp{Time: r.now()}
	}
	if err := domain.Validate(s); err != nil {
		return domain.Schedule{}, err
	}
	err := r.backend.Update(ctx, func(all []domain.Schedule) ([]domain.Schedule, error) {
		all = backfillIDs(all)
		if indexOf(all, s.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
		}
		return append(all, s), nil
	})
	if err != nil {
		return domain.Schedule{}, err
	}
	return s, nil
}

// List returns every record in persisted order. Records written without an
// id get one assigned and persisted first.
func (r *Repository) List(ctx context.Context) ([]domain.Schedule, error) {
	all, err := r.backend.Load(ctx)
	if err != nil {
		return nil, err
	}
	if !missingIDs(all) {
		return all, nil
	}
	err = r.backend.Update(ctx, func(cur []domain.Schedule) ([]domain.Schedule, error) {
		all = backfillIDs(cur)
		return all, nil
	})
	return all, err
}

func (r *Repository) Get(ctx context.Context, id string) (domain.Schedule, error) {
	all, err := r.List(ctx)
	if err != nil {
		return domain.Schedule{}, err
	}
	i := indexOf(all, id)
	if i < 0 {
		return domain.Schedule{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return all[i], nil
}

// Due returns the records eligible to fire at now.
func (r *Repository) Due(ctx context.Context, now time.Time) ([]domain.Schedule, error) {
	all, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	return domain.Due(all, now), nil
}

// Remove deletes the record and returns it together with the position it
// held, which Restore accepts to undo the removal.
func (r *Repository) Remove(ctx context.Context, id string) (domain.Schedule, int, error) {
	var removed domain.Schedule
	pos := -1
	err := r.backend.Update(ctx, func(all []domain.Schedule) ([]domain.Schedule, error) {
		all = backfillIDs(all)
		pos = indexOf(all, id)
		if pos < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		removed = all[pos]
		return append(all[:pos:pos], all[pos+1:]...), nil
	})
	if err != nil {
		return domain.Schedule{}, -1, err
	}
	return removed, pos, nil
}

// Restore reinserts a removed record at pos, clamped to the current length.
func (r *Repository) Restore(ctx context.Context, s domain.Schedule, pos int) error {
	if s.ID == "" {
		s.ID = domain.NewID()
	}
	if err := domain.Validate(s); err != nil {
		return err
	}
	return r.backend.Update(ctx, func(all []domain.Schedule) ([]domain.Schedule, error) {
		all = backfillIDs(all)
		if indexOf(all, s.ID) >= 0 {
			return nil, fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
		}
		if pos < 0 || pos > len(all) {
			pos = len(all)
		}
		out := make([]domain.Schedule, 0, len(all)+1)
		out = append(out, all[:pos]...)
		out = append(out, s)
		return append(out, all[pos:]...), nil
	})
}

// Outcome is the result of MarkCompleted.
type Outcome struct {
	Schedule domain.Schedule
	// Next is the pending occurrence appended for a recurring schedule that
	// completed successfully.
	Next *domain.Schedule
}

// MarkCompleted records a delivery attempt. Success marks the record
// completed and, when it recurs, appends its next pending occurrence;
// failure marks it failed. Failed records are never selected again.
func (r *Repository) MarkCompleted(ctx context.Context, id string, success bool, now time.Time) (Outcome, error) {
	var out Outcome
	err := r.backend.Update(ctx, func(all []domain.Schedule) ([]domain.Schedule, error) {
		all = backfillIDs(all)
		i := indexOf(all, id)
		if i < 0 {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		s := &all[i]
		s.LastRun = domain.NewTimestamp(now)
		s.Attempts++
		if !success {
			s.Status = domain.StatusFailed
			out = Outcome{Schedule: *s}
			return all, nil
		}
		s.Status = domain.StatusCompleted
		out = Outcome{Schedule: *s}
		if s.Recurring.IsNone() {
			return all, nil
		}
		next := nextOccurrence(*s, now)
		out.Next = &next
		return append(all, next), nil
	})
	if err != nil {
		return Outcome{}, err
	}
	out.Schedule = out.Schedule.Clone()
	return out, nil
}

func nextOccurrence(s domain.Schedule, now time.Time) domain.Schedule {
	at := s.Time
	if next, err := domain.Advance(s.Recurring, s.Time, now); err == nil {
		at = domain.Clock(next)
	}
	n := s.Clone()
	n.ID = domain.NewID()
	n.Time = at
	n.NextRun = at
	n.Status = domain.StatusPending
	n.LastRun = nil
	n.Attempts = 0
	n.LastFiredDate = now.Format(domain.DateLayout)
	return n
}

func indexOf(all []domain.Schedule, id string) int {
	for i := range all {
		if all[i].ID == id {
			return i
		}
	}
	return -1
}

func missingIDs(all []domain.Schedule) bool {
	for i := range all {
		if all[i].ID == "" {
			return true
		}
	}
	return false
}

func backfillIDs(all []domain.Schedule) []domain.Schedule {
	for i := range all {
		if all[i].ID == "" {
			all[i].ID = domain.NewID()
		}
	}
	return all
}
