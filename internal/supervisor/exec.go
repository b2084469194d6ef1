package supervisor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// pipeGrace bounds how long Wait keeps reading output that a leftover
// grandchild still holds open after the child itself exited.
const pipeGrace = 500 * time.Millisecond

// Command describes an OS process to launch.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

// ExecRunner runs a Command as the leader of its own process group and
// streams its output into the logger line by line. Signals go to the whole
// group, so helpers the child spawned are stopped with it.
type ExecRunner struct {
	cmd Command
	log zerolog.Logger

	mu   sync.Mutex
	proc *exec.Cmd
	done chan struct{}
}

func NewExecRunner(name string, cmd Command, log zerolog.Logger) *ExecRunner {
	return &ExecRunner{cmd: cmd, log: log.With().Str("process", name).Logger()}
}

func (r *ExecRunner) Start(ctx context.Context) error {
	if r.cmd.Path == "" {
		return fmt.Errorf("command is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running() {
		return fmt.Errorf("already running (pid %d)", r.proc.Process.Pid)
	}

	c := exec.Command(r.cmd.Path, r.cmd.Args...)
	c.Dir = r.cmd.Dir
	c.Env = append(os.Environ(), r.cmd.Env...)
	c.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	stdout := &lineLogger{log: r.log, stream: "stdout"}
	stderr := &lineLogger{log: r.log, stream: "stderr"}
	c.Stdout, c.Stderr = stdout, stderr
	c.WaitDelay = pipeGrace
	if err := c.Start(); err != nil {
		return fmt.Errorf("start %s: %w", r.cmd.Path, err)
	}

	done := make(chan struct{})
	go func() {
		err := c.Wait()
		stdout.flush()
		stderr.flush()
		ev := r.log.Info()
		if err != nil {
			ev = r.log.Warn().Err(err)
		}
		ev.Int("pid", c.Process.Pid).Msg("process exited")
		close(done)
	}()

	r.proc, r.done = c, done
	r.log.Info().Int("pid", c.Process.Pid).Str("path", r.cmd.Path).Msg("process launched")
	return nil
}

func (r *ExecRunner) Alive() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running()
}

func (r *ExecRunner) running() bool {
	if r.proc == nil {
		return false
	}
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Stop sends SIGTERM to the process group, waits up to timeout and then
// kills the group. It never waits longer than twice timeout plus the pipe
// grace.
func (r *ExecRunner) Stop(timeout time.Duration) error {
	r.mu.Lock()
	proc, done := r.proc, r.done
	r.mu.Unlock()
	if proc == nil {
		return nil
	}
	pgid := proc.Process.Pid

	select {
	case <-done:
		// The leader is gone; clear out anything left in its group.
		_ = signalGroup(pgid, syscall.SIGKILL)
		return nil
	default:
	}

	if err := signalGroup(pgid, syscall.SIGTERM); err != nil {
		r.log.Warn().Err(err).Msg("terminate failed")
	}
	select {
	case <-done:
		_ = signalGroup(pgid, syscall.SIGKILL)
		return nil
	case <-time.After(timeout):
	}

	r.log.Warn().Dur("timeout", timeout).Msg("process did not exit, killing")
	if err := signalGroup(pgid, syscall.SIGKILL); err != nil {
		return fmt.Errorf("kill: %w", err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(timeout + pipeGrace):
		return fmt.Errorf("pid %d still running after kill", pgid)
	}
}

func signalGroup(pgid int, sig syscall.Signal) error {
	if err := syscall.Kill(-pgid, sig); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}

// lineLogger is an io.Writer that logs every complete line it receives.
type lineLogger struct {
	log    zerolog.Logger
	stream string

	mu  sync.Mutex
	buf []byte
}

const maxLine = 64 * 1024

func (w *lineLogger) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		if i < 0 {
			break
		}
		w.emit(w.buf[:i])
		w.buf = w.buf[i+1:]
	}
	if len(w.buf) > maxLine {
		w.emit(w.buf)
		w.buf = nil
	}
	return len(p), nil
}

func (w *lineLogger) flush() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.emit(w.buf)
		w.buf = nil
	}
}

func (w *lineLogger) emit(line []byte) {
	w.log.Info().Str("stream", w.stream).Msg(string(bytes.TrimRight(line, "\r")))
}
