package supervisor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timedsend/internal/driver"
	"timedsend/internal/driver/drivertest"
)

type fakeRunner struct {
	name  string
	order *[]string

	mu     sync.Mutex
	alive  bool
	starts int
	stops  int
}

func (r *fakeRunner) Start(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = true
	r.starts++
	return nil
}

func (r *fakeRunner) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.alive
}

func (r *fakeRunner) Stop(time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = false
	r.stops++
	if r.order != nil {
		*r.order = append(*r.order, r.name)
	}
	return nil
}

func (r *fakeRunner) crash() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alive = false
}

type sleepLog struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (l *sleepLog) sleep(ctx context.Context, d time.Duration) error {
	l.mu.Lock()
	l.delays = append(l.delays, d)
	l.mu.Unlock()
	return ctx.Err()
}

func (l *sleepLog) except(skip time.Duration) []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []time.Duration
	for _, d := range l.delays {
		if d != skip {
			out = append(out, d)
		}
	}
	return out
}

func TestBackoff(t *testing.T) {
	var got []time.Duration
	for n := 1; n <= 5; n++ {
		got = append(got, Backoff(5*time.Second, n))
	}
	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}, got)
}

func TestRun_ExhaustsRestartsAndTearsDown(t *testing.T) {
	var order []string
	drv := &fakeRunner{name: "driver", order: &order}
	disp := &fakeRunner{name: "dispatch", order: &order}

	probes := 0
	failing := func(context.Context) error {
		probes++
		if probes == 1 {
			return nil
		}
		return errors.New("HTTP 503")
	}

	sl := &sleepLog{}
	s := New(Options{PollInterval: time.Second, BaseBackoff: 5 * time.Second, MaxRestarts: 5}, zerolog.Nop(),
		Process{Name: "driver", Runner: drv, Probe: failing},
		Process{Name: "dispatch", Runner: disp, Probe: AliveProbe(disp)},
	).WithSleeper(sl.sleep)

	err := s.Run(context.Background())
	require.ErrorIs(t, err, ErrRestartsExhausted)

	assert.Equal(t, []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second}, sl.except(time.Second))
	assert.Equal(t, StateFailed, s.State("driver"))
	assert.Equal(t, 6, s.Restarts("driver"))
	assert.Equal(t, 6, drv.starts)
	assert.False(t, drv.Alive())
	assert.False(t, disp.Alive())
	assert.Equal(t, []string{"dispatch", "driver"}, order[len(order)-2:])
}

func TestPoll_TwoFailedProbesRestartOnceThenRecover(t *testing.T) {
	fake := drivertest.New()
	defer fake.Close()
	client := driver.New(driver.Config{URL: fake.URL})

	drv := &fakeRunner{name: "driver"}
	sl := &sleepLog{}
	s := New(Options{PollInterval: 10 * time.Second, BaseBackoff: 5 * time.Second}, zerolog.Nop(),
		Process{Name: "driver", Runner: drv, Probe: client.Ping},
	).WithSleeper(sl.sleep)
	ctx := context.Background()

	require.True(t, s.start(ctx, s.procs[0]))
	assert.Equal(t, StateHealthy, s.State("driver"))

	fake.QueueStatus(http.StatusServiceUnavailable, http.StatusServiceUnavailable)
	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, 1, s.Restarts("driver"))
	assert.Equal(t, StateUnhealthy, s.State("driver"))
	assert.Equal(t, 2, drv.starts)
	assert.Equal(t, []time.Duration{5 * time.Second}, sl.except(0))

	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, 0, s.Restarts("driver"))
	assert.Equal(t, StateHealthy, s.State("driver"))
	assert.Equal(t, 2, drv.starts)
}

func TestPoll_RestartsCrashedProcess(t *testing.T) {
	disp := &fakeRunner{name: "dispatch"}
	sl := &sleepLog{}
	s := New(Options{}, zerolog.Nop(),
		Process{Name: "dispatch", Runner: disp, Probe: AliveProbe(disp), Grace: 2 * time.Second},
	).WithSleeper(sl.sleep)
	ctx := context.Background()

	require.True(t, s.start(ctx, s.procs[0]))
	disp.crash()

	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, StateHealthy, s.State("dispatch"))
	assert.Equal(t, 0, s.Restarts("dispatch"))
	assert.Equal(t, 2, disp.starts)
	assert.Equal(t, 1, disp.stops)
	assert.Equal(t, []time.Duration{2 * time.Second, 5 * time.Second, 2 * time.Second}, sl.except(0))
}

func TestRun_CancelStopsEverything(t *testing.T) {
	var order []string
	drv := &fakeRunner{name: "driver", order: &order}
	disp := &fakeRunner{name: "dispatch", order: &order}

	ctx, cancel := context.WithCancel(context.Background())
	polls := 0
	sleeper := func(ctx context.Context, d time.Duration) error {
		if d == time.Minute {
			polls++
			if polls == 3 {
				cancel()
			}
		}
		return ctx.Err()
	}

	s := New(Options{PollInterval: time.Minute}, zerolog.Nop(),
		Process{Name: "driver", Runner: drv, Probe: AliveProbe(drv)},
		Process{Name: "dispatch", Runner: disp, Probe: AliveProbe(disp)},
	).WithSleeper(sleeper)

	require.NoError(t, s.Run(ctx))
	assert.Equal(t, 3, polls)
	assert.Equal(t, []string{"dispatch", "driver"}, order)
	assert.Equal(t, 1, drv.starts)
	assert.Equal(t, StateNotStarted, s.State("driver"))
}

func TestExecRunner_StreamsOutputAndStops(t *testing.T) {
	var buf safeBuffer
	log := zerolog.New(&buf)

	r := NewExecRunner("echo", Command{Path: "sh", Args: []string{"-c", "echo hello from child; exec sleep 30"}}, log)
	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Alive())
	require.Error(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return bytes.Contains(buf.Bytes(), []byte("hello from child")) }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, r.Stop(2*time.Second))
	assert.False(t, r.Alive())
	require.NoError(t, r.Stop(time.Second))
}

func TestExecRunner_DetectsExit(t *testing.T) {
	r := NewExecRunner("short", Command{Path: "true"}, zerolog.Nop())
	require.NoError(t, r.Start(context.Background()))
	require.Eventually(t, func() bool { return !r.Alive() }, 2*time.Second, 10*time.Millisecond)
	assert.Error(t, AliveProbe(r)(context.Background()))

	assert.Error(t, NewExecRunner("empty", Command{}, zerolog.Nop()).Start(context.Background()))
}

type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *safeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *safeBuffer) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

func TestExecRunner_NotAliveOnceChildExitsLeavingHelper(t *testing.T) {
	r := NewExecRunner("leaky", Command{Path: "sh", Args: []string{"-c", "sleep 20 & exit 1"}}, zerolog.Nop())
	require.NoError(t, r.Start(context.Background()))

	require.Eventually(t, func() bool { return !r.Alive() }, 3*time.Second, 20*time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(200 * time.Millisecond) }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop blocked on the leftover helper")
	}
}

func TestExecRunner_StopKillsGroupIgnoringTerm(t *testing.T) {
	r := NewExecRunner("stubborn", Command{Path: "sh", Args: []string{"-c", "trap '' TERM; sleep 20 & wait"}}, zerolog.Nop())
	require.NoError(t, r.Start(context.Background()))
	time.Sleep(100 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- r.Stop(200 * time.Millisecond) }()
	select {
	case err := <-stopped:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return within its bound")
	}
	assert.False(t, r.Alive())
}

func TestExternalRunner_ProbeOnlyRestart(t *testing.T) {
	fake := drivertest.New()
	defer fake.Close()
	client := driver.New(driver.Config{URL: fake.URL})

	sl := &sleepLog{}
	s := New(Options{}, zerolog.Nop(),
		Process{Name: "driver", Runner: ExternalRunner{}, Probe: client.Ping},
	).WithSleeper(sl.sleep)
	ctx := context.Background()

	require.True(t, s.start(ctx, s.procs[0]))
	fake.QueueStatus(http.StatusServiceUnavailable)
	require.NoError(t, s.Poll(ctx))
	assert.Equal(t, StateHealthy, s.State("driver"))
	assert.Equal(t, 0, s.Restarts("driver"))
	assert.Equal(t, []time.Duration{5 * time.Second}, sl.except(0))
}
