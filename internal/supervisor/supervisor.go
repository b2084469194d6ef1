package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"

	"timedsend/internal/metrics"
)

var ErrRestartsExhausted = errors.New("restart attempts exhausted")

type State string

const (
	StateNotStarted State = "not_started"
	StateStarting   State = "starting"
	StateHealthy    State = "healthy"
	StateUnhealthy  State = "unhealthy"
	StateRestarting State = "restarting"
	StateFailed     State = "failed"
)

// Runner owns one OS process (or an equivalent) for the supervisor.
type Runner interface {
	Start(ctx context.Context) error
	Alive() bool
	// Stop asks the process to exit and kills it if it is still alive after
	// timeout.
	Stop(timeout time.Duration) error
}

// ExternalRunner stands in for a process managed outside the supervisor.
// Restarting it only waits out the backoff and probes again.
type ExternalRunner struct{}

func (ExternalRunner) Start(context.Context) error { return nil }
func (ExternalRunner) Alive() bool                 { return true }
func (ExternalRunner) Stop(time.Duration) error    { return nil }

// Probe reports a process as healthy by returning nil.
type Probe func(ctx context.Context) error

// AliveProbe probes a process by liveness only.
func AliveProbe(r Runner) Probe {
	return func(context.Context) error {
		if !r.Alive() {
			return errors.New("process not running")
		}
		return nil
	}
}

type Process struct {
	Name   string
	Runner Runner
	Probe  Probe
	// Grace is waited after launch before the start probe.
	Grace time.Duration
}

type Options struct {
	PollInterval time.Duration
	BaseBackoff  time.Duration
	MaxRestarts  int
	StopTimeout  time.Duration
}

func (o *Options) defaults() {
	if o.PollInterval <= 0 {
		o.PollInterval = 10 * time.Second
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Second
	}
	if o.MaxRestarts <= 0 {
		o.MaxRestarts = 5
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = 5 * time.Second
	}
}

// Backoff returns the delay before restart attempt n (1-based): base doubled
// for every earlier attempt.
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt <= 1 {
		return base
	}
	return base << (attempt - 1)
}

type managed struct {
	Process
	state    State
	restarts int
}

// Supervisor starts its processes in order, polls their health and restarts
// failed ones with exponential backoff.
type Supervisor struct {
	opts  Options
	log   zerolog.Logger
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	procs []*managed
}

func New(opts Options, log zerolog.Logger, procs ...Process) *Supervisor {
	opts.defaults()
	s := &Supervisor{
		opts:  opts,
		log:   log.With().Str("component", "supervisor").Logger(),
		sleep: sleepCtx,
	}
	for _, p := range procs {
		s.procs = append(s.procs, &managed{Process: p, state: StateNotStarted})
	}
	return s
}

// WithSleeper replaces the wall-clock sleep used for grace periods, polling
// and backoff. Tests only.
func (s *Supervisor) WithSleeper(fn func(ctx context.Context, d time.Duration) error) *Supervisor {
	s.sleep = fn
	return s
}

func (s *Supervisor) State(name string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.procs {
		if p.Name == name {
			return p.state
		}
	}
	return ""
}

func (s *Supervisor) Restarts(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.procs {
		if p.Name == name {
			return p.restarts
		}
	}
	return 0
}

// Run starts every process, then supervises them until ctx is canceled or a
// process exhausts its restart budget. All processes are stopped before Run
// returns. Cancellation is not an error.
func (s *Supervisor) Run(ctx context.Context) error {
	defer s.shutdown()

	s.log.Info().Int("processes", len(s.procs)).Msg("supervisor started")
	for _, p := range s.procs {
		if !s.start(ctx, p) && ctx.Err() == nil {
			s.log.Error().Str("process", p.Name).Msg("initial start failed; will restart on next poll")
		}
	}
	if ctx.Err() != nil {
		return nil
	}
	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	s.log.Info().Msg("all processes started, entering supervision mode")

	for {
		if err := s.sleep(ctx, s.opts.PollInterval); err != nil {
			return nil
		}
		if err := s.Poll(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// Poll probes every process once and restarts those that fail.
func (s *Supervisor) Poll(ctx context.Context) error {
	for _, p := range s.procs {
		perr := p.Probe(ctx)
		if perr == nil {
			s.markHealthy(p)
			continue
		}
		s.setState(p, StateUnhealthy)
		s.log.Error().Err(perr).Str("process", p.Name).Msg("process unhealthy")
		if err := s.restart(ctx, p); err != nil {
			return err
		}
	}
	if iv, _ := daemon.SdWatchdogEnabled(false); iv > 0 {
		_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	}
	return nil
}

// start launches p, waits its grace period and probes it once. A failed start
// does not count against the restart budget.
func (s *Supervisor) start(ctx context.Context, p *managed) bool {
	log := s.log.With().Str("process", p.Name).Logger()
	s.setState(p, StateStarting)
	log.Info().Msg("starting process")

	if err := p.Runner.Start(ctx); err != nil {
		s.setState(p, StateUnhealthy)
		log.Error().Err(err).Msg("failed to launch process")
		return false
	}
	if p.Grace > 0 {
		if err := s.sleep(ctx, p.Grace); err != nil {
			return false
		}
	}
	if err := p.Probe(ctx); err != nil {
		s.setState(p, StateUnhealthy)
		log.Error().Err(err).Msg("process failed start probe")
		return false
	}
	s.markHealthy(p)
	log.Info().Msg("process started")
	return true
}

func (s *Supervisor) restart(ctx context.Context, p *managed) error {
	s.mu.Lock()
	p.restarts++
	attempt := p.restarts
	s.mu.Unlock()
	metrics.ProcessRestarts.WithLabelValues(p.Name).Inc()

	log := s.log.With().Str("process", p.Name).Int("attempt", attempt).Logger()
	if attempt > s.opts.MaxRestarts {
		s.setState(p, StateFailed)
		log.Error().Int("max_restarts", s.opts.MaxRestarts).Msg("max restarts reached, giving up")
		return fmt.Errorf("%s: %w", p.Name, ErrRestartsExhausted)
	}

	s.setState(p, StateRestarting)
	delay := Backoff(s.opts.BaseBackoff, attempt)
	log.Warn().Dur("backoff", delay).Msg("restarting process")
	if err := s.sleep(ctx, delay); err != nil {
		return err
	}
	if err := p.Runner.Stop(s.opts.StopTimeout); err != nil {
		log.Warn().Err(err).Msg("stop before restart")
	}
	s.start(ctx, p)
	return nil
}

func (s *Supervisor) markHealthy(p *managed) {
	s.mu.Lock()
	recovered := p.state != StateHealthy && p.restarts > 0
	p.state = StateHealthy
	p.restarts = 0
	s.mu.Unlock()
	metrics.SetProcessHealthy(p.Name, true)
	if recovered {
		s.log.Info().Str("process", p.Name).Msg("process recovered")
	}
}

func (s *Supervisor) setState(p *managed, st State) {
	s.mu.Lock()
	p.state = st
	s.mu.Unlock()
	metrics.SetProcessHealthy(p.Name, st == StateHealthy)
}

func (s *Supervisor) shutdown() {
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)
	s.log.Info().Msg("cleaning up processes")
	// Reverse start order: the dispatch engine goes before its driver.
	for i := len(s.procs) - 1; i >= 0; i-- {
		p := s.procs[i]
		if err := p.Runner.Stop(s.opts.StopTimeout); err != nil {
			s.log.Error().Err(err).Str("process", p.Name).Msg("error stopping process")
		}
		s.mu.Lock()
		if p.state != StateFailed {
			p.state = StateNotStarted
		}
		s.mu.Unlock()
		metrics.SetProcessHealthy(p.Name, false)
	}
	s.log.Info().Msg("cleanup complete")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
