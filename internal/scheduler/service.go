package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"timedsend/internal/domain"
	"timedsend/internal/metrics"
	"timedsend/internal/resolver"
	"timedsend/internal/store"
)

type Driver interface {
	Ready(ctx context.Context) (bool, error)
	SendMessage(ctx context.Context, contact, message string) error
	SendPoll(ctx context.Context, contact, question string, options []string) (string, error)
}

type ContactResolver interface {
	Resolve(ctx context.Context, contact string) resolver.Result
}

type Options struct {
	Interval time.Duration
	// StrictContacts fails a delivery whose group lookup failed instead of
	// sending to the unresolved name.
	StrictContacts bool
}

// firedLimit bounds the duplicate-fire set to one entry per minute of a day.
const firedLimit = 24 * 60

// Service is the dispatch engine: it turns due schedules into driver calls
// and writes the outcome back to the store.
type Service struct {
	repo     *store.Repository
	driver   Driver
	resolver ContactResolver
	log      zerolog.Logger

	interval time.Duration
	boundary cron.Schedule
	strict   bool
	now      func() time.Time

	fired   map[string]struct{}
	trigger chan struct{}
	stop    chan struct{}
	once    sync.Once

	// passing is set while a pass runs; the store watcher ignores the
	// engine's own writes through it and ownWrite.
	passing   atomic.Bool
	watchMu   sync.Mutex
	watchPath string
	ownWrite  fileStamp
}

func NewService(repo *store.Repository, drv Driver, res ContactResolver, opts Options, log zerolog.Logger) *Service {
	if opts.Interval <= 0 {
		opts.Interval = 10 * time.Second
	}
	return &Service{
		repo:     repo,
		driver:   drv,
		resolver: res,
		log:      log.With().Str("component", "dispatch").Logger(),
		interval: opts.Interval,
		boundary: boundarySchedule(opts.Interval),
		strict:   opts.StrictContacts,
		now:      time.Now,
		fired:    make(map[string]struct{}),
		trigger:  make(chan struct{}, 1),
		stop:     make(chan struct{}),
	}
}

// WithClock replaces the wall clock. Tests only.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Start runs passes until ctx is canceled or Stop is called. A pass that has
// begun always runs to completion; cancellation is observed between passes.
func (s *Service) Start(ctx context.Context) {
	log := s.log
	log.Info().Dur("interval", s.interval).Msg("dispatch service started")

	passCtx := context.WithoutCancel(ctx)
	s.RunPass(passCtx, s.now())

	for {
		now := s.now()
		timer := time.NewTimer(s.boundary.Next(now).Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			log.Info().Msg("dispatch service stopped")
			return
		case <-s.stop:
			timer.Stop()
			log.Info().Msg("dispatch service stopped")
			return
		case <-s.trigger:
			timer.Stop()
			s.RunPass(passCtx, s.now())
		case <-timer.C:
			s.RunPass(passCtx, s.now())
		}
	}
}

func (s *Service) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// Trigger requests an early pass. Requests made while one is pending are
// coalesced.
func (s *Service) Trigger() {
	select {
	case s.trigger <- struct{}{}:
	default:
	}
}

type PassReport struct {
	Skipped    bool
	Due        int
	Sent       int
	Failed     int
	Suppressed int
}

// RunPass performs one evaluation at now. When the driver is not ready the
// whole pass is skipped without touching the store.
func (s *Service) RunPass(ctx context.Context, now time.Time) PassReport {
	s.passing.Store(true)
	defer func() {
		s.recordOwnWrite()
		s.passing.Store(false)
	}()
	return s.runPass(ctx, now)
}

func (s *Service) runPass(ctx context.Context, now time.Time) PassReport {
	ready, err := s.driver.Ready(ctx)
	if err != nil || !ready {
		ev := s.log.Warn()
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("driver not ready; skipping pass")
		metrics.DispatchPasses.WithLabelValues("skipped").Inc()
		return PassReport{Skipped: true}
	}
	metrics.DispatchPasses.WithLabelValues("ran").Inc()

	due, err := s.repo.Due(ctx, now)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to get due schedules")
		return PassReport{}
	}

	report := PassReport{Due: len(due)}
	for _, sched := range due {
		key := sched.ID + "|" + domain.Clock(now)
		if _, done := s.fired[key]; done {
			report.Suppressed++
			metrics.Deliveries.WithLabelValues(string(sched.Kind), "suppressed").Inc()
			continue
		}
		s.markFired(key)

		if s.processSchedule(ctx, sched, now) {
			report.Sent++
		} else {
			report.Failed++
		}
	}
	return report
}

func (s *Service) markFired(key string) {
	s.fired[key] = struct{}{}
	if len(s.fired) > firedLimit {
		s.fired = make(map[string]struct{})
	}
}

func (s *Service) processSchedule(ctx context.Context, sched domain.Schedule, now time.Time) bool {
	log := s.log.With().
		Str("schedule_id", sched.ID).
		Str("contact", sched.Contact).
		Str("type", string(sched.Kind)).
		Str("time", sched.RunAt()).
		Logger()

	sendErr := s.deliver(ctx, sched)
	success := sendErr == nil
	if success {
		metrics.Deliveries.WithLabelValues(string(sched.Kind), "sent").Inc()
	} else {
		metrics.Deliveries.WithLabelValues(string(sched.Kind), "failed").Inc()
	}

	out, err := s.repo.MarkCompleted(ctx, sched.ID, success, now)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			log.Warn().Msg("schedule removed while sending; outcome not recorded")
		} else {
			log.Error().Err(err).Bool("sent", success).Msg("failed to record delivery outcome")
		}
		return success
	}

	if !success {
		log.Error().Err(sendErr).Msg("delivery failed")
		return false
	}
	ev := log.Info()
	if out.Next != nil {
		metrics.Recurrences.WithLabelValues(string(sched.Recurring)).Inc()
		ev = ev.Str("next_id", out.Next.ID).Str("next_run", out.Next.NextRun)
	}
	ev.Msg("schedule completed")
	return true
}

func (s *Service) deliver(ctx context.Context, sched domain.Schedule) error {
	res := s.resolver.Resolve(ctx, sched.Contact)
	metrics.Resolutions.WithLabelValues(string(res.Outcome)).Inc()
	if s.strict && res.Outcome == resolver.LookupFailed {
		return fmt.Errorf("resolve %q: %w", sched.Contact, res.Err)
	}

	switch sched.Kind {
	case domain.KindMessage:
		return s.driver.SendMessage(ctx, res.Address, sched.Message)
	case domain.KindPoll:
		_, err := s.driver.SendPoll(ctx, res.Address, sched.Question, sched.Options)
		return err
	}
	return fmt.Errorf("unknown schedule type %q", sched.Kind)
}

var secondsParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// boundarySchedule aligns wake-ups to wall-clock multiples of interval when
// it divides a minute or an hour, so sleeping never accumulates drift.
func boundarySchedule(interval time.Duration) cron.Schedule {
	if interval%time.Second == 0 {
		secs := int(interval / time.Second)
		var expr string
		switch {
		case secs > 0 && secs < 60 && 60%secs == 0:
			expr = fmt.Sprintf("*/%d * * * * *", secs)
		case secs >= 60 && secs%60 == 0 && secs/60 < 60 && 60%(secs/60) == 0:
			expr = fmt.Sprintf("0 */%d * * * *", secs/60)
		}
		if expr != "" {
			if sched, err := secondsParser.Parse(expr); err == nil {
				return sched
			}
		}
	}
	return cron.Every(interval)
}
