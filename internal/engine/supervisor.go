package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the lifecycle state of the supervised engine.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateBackoff  State = "backoff"
	StateFailed   State = "failed"
)

// ErrAlreadyRunning is returned by Start while the engine is running.
var ErrAlreadyRunning = errors.New("engine already running")

// maxLineLength bounds a single forwarded output line.
const maxLineLength = 64 * 1024

// Config holds configuration for a supervised engine.
type Config struct {
	// Command is the engine executable.
	Command string

	// Args are passed to Command.
	Args []string

	// Env is appended to the inherited environment (key=value).
	Env []string

	// WorkDir is the working directory. Empty inherits ours.
	WorkDir string

	// Restart re-launches the engine when it exits unexpectedly.
	Restart bool

	// RestartDelay is the first backoff delay. Default: 1s.
	RestartDelay time.Duration

	// MaxRestartDelay caps the doubling backoff. Default: 1m.
	MaxRestartDelay time.Duration

	// StableThreshold is how long a run must last before the backoff
	// resets. Default: 30s.
	StableThreshold time.Duration

	// MaxRestarts limits consecutive restarts. 0 means unlimited.
	MaxRestarts int

	// StopTimeout is how long Stop waits after SIGTERM before SIGKILL.
	// Default: 10s.
	StopTimeout time.Duration

	// OnExit is called each time the engine exits. err is nil for a
	// requested stop.
	OnExit func(err error)
}

// Logger defines the logging interface for the supervisor.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Stats is a snapshot of the supervised engine.
type Stats struct {
	Command  string `json:"command"`
	State    State  `json:"state"`
	PID      int    `json:"pid,omitempty"`
	Uptime   string `json:"uptime,omitempty"`
	Restarts int    `json:"restarts"`
	LastExit string `json:"last_exit,omitempty"`
}

// Supervisor runs the engine and restarts it on failure.
type Supervisor struct {
	cfg    Config
	logger Logger

	mu        sync.RWMutex
	cmd       *exec.Cmd
	state     State
	restarts  int
	lastExit  error
	startedAt time.Time
	stopping  bool
	done      chan struct{}
	stopCh    chan struct{}
}

// NewSupervisor creates a supervisor. Zero durations take their defaults.
func NewSupervisor(cfg Config) *Supervisor {
	if cfg.RestartDelay <= 0 {
		cfg.RestartDelay = time.Second
	}
	if cfg.MaxRestartDelay <= 0 {
		cfg.MaxRestartDelay = time.Minute
	}
	if cfg.MaxRestartDelay < cfg.RestartDelay {
		cfg.MaxRestartDelay = cfg.RestartDelay
	}
	if cfg.StableThreshold <= 0 {
		cfg.StableThreshold = 30 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}

	return &Supervisor{
		cfg:    cfg,
		logger: noopLogger{},
		state:  StateStopped,
	}
}

// SetLogger sets the logger for the supervisor.
func (s *Supervisor) SetLogger(logger Logger) {
	s.logger = logger
}

// Start launches the engine and begins supervising it. It fails if the
// first launch fails; later launches are retried per the restart policy.
func (s *Supervisor) Start(ctx context.Context) error {
	if s.cfg.Command == "" {
		return errors.New("engine command is required")
	}

	s.mu.Lock()
	if s.state != StateStopped && s.state != StateFailed {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.state = StateStarting
	s.stopping = false
	s.restarts = 0
	s.done = make(chan struct{})
	s.stopCh = make(chan struct{})
	s.mu.Unlock()

	cmd, err := s.launch()
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.lastExit = err
		close(s.done)
		s.mu.Unlock()
		return err
	}

	go s.supervise(ctx, cmd)
	return nil
}

// launch starts one engine process.
func (s *Supervisor) launch() (*exec.Cmd, error) {
	cmd := exec.Command(s.cfg.Command, s.cfg.Args...) //nolint:gosec // command comes from operator config
	// Own process group so Stop reaches anything the engine spawns
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if len(s.cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cfg.Env...)
	}
	if s.cfg.WorkDir != "" {
		cmd.Dir = s.cfg.WorkDir
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting engine %s: %w", s.cfg.Command, err)
	}

	s.mu.Lock()
	s.cmd = cmd
	s.state = StateRunning
	s.startedAt = time.Now()
	stopping := s.stopping
	s.mu.Unlock()

	go s.forward("stdout", stdout)
	go s.forward("stderr", stderr)

	// Stop raced the relaunch; the supervise loop reaps it
	if stopping {
		_ = syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	s.logger.Info("engine started", "command", s.cfg.Command, "pid", cmd.Process.Pid)
	return cmd, nil
}

// forward logs the engine's output one line at a time.
func (s *Supervisor) forward(stream string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxLineLength)
	for scanner.Scan() {
		s.logger.Debug("engine output", "stream", stream, "line", scanner.Text())
	}
	if err := scanner.Err(); err != nil && !errors.Is(err, os.ErrClosed) {
		s.logger.Debug("engine output closed", "stream", stream, "error", err)
	}
}

// supervise waits on the running engine and restarts it as configured.
func (s *Supervisor) supervise(ctx context.Context, cmd *exec.Cmd) {
	defer func() {
		s.mu.Lock()
		close(s.done)
		s.mu.Unlock()
	}()

	delay := s.cfg.RestartDelay
	for {
		exitErr := cmd.Wait()

		s.mu.Lock()
		stopping := s.stopping
		ran := time.Since(s.startedAt)
		s.cmd = nil
		s.mu.Unlock()

		if stopping {
			s.setStopped(nil)
			s.logger.Info("engine stopped")
			s.notifyExit(nil)
			return
		}

		if exitErr == nil {
			exitErr = errors.New("engine exited")
		}
		s.logger.Warn("engine exited unexpectedly", "error", exitErr, "ran_for", ran.Round(time.Millisecond))
		s.notifyExit(exitErr)

		if !s.cfg.Restart {
			s.setFailed(exitErr)
			return
		}

		// A long enough run earns a fresh backoff
		if ran >= s.cfg.StableThreshold {
			delay = s.cfg.RestartDelay
			s.mu.Lock()
			s.restarts = 0
			s.mu.Unlock()
		}

		s.mu.Lock()
		s.restarts++
		attempt := s.restarts
		s.lastExit = exitErr
		s.state = StateBackoff
		stopCh := s.stopCh
		s.mu.Unlock()

		if s.cfg.MaxRestarts > 0 && attempt > s.cfg.MaxRestarts {
			s.logger.Error("engine restart limit reached", "restarts", attempt-1)
			s.setFailed(exitErr)
			return
		}

		s.logger.Info("restarting engine", "attempt", attempt, "delay", delay)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setStopped(exitErr)
			return
		case <-stopCh:
			timer.Stop()
			s.setStopped(exitErr)
			return
		case <-timer.C:
		}

		delay = nextDelay(delay, s.cfg.MaxRestartDelay)

		next, err := s.launch()
		if err != nil {
			s.logger.Error("failed to restart engine", "error", err)
			s.setFailed(err)
			return
		}
		cmd = next
	}
}

// nextDelay doubles the backoff up to limit.
func nextDelay(current, limit time.Duration) time.Duration {
	next := current * 2
	if next > limit || next <= 0 {
		return limit
	}
	return next
}

func (s *Supervisor) setStopped(lastExit error) {
	s.mu.Lock()
	s.state = StateStopped
	if lastExit != nil {
		s.lastExit = lastExit
	}
	s.mu.Unlock()
}

func (s *Supervisor) setFailed(err error) {
	s.mu.Lock()
	s.state = StateFailed
	s.lastExit = err
	s.mu.Unlock()
}

func (s *Supervisor) notifyExit(err error) {
	if s.cfg.OnExit != nil {
		s.cfg.OnExit(err)
	}
}

// Stop terminates the engine: SIGTERM to its process group, then SIGKILL
// after StopTimeout. Stop is safe to call when nothing runs.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if s.done == nil || s.stopping {
		s.mu.Unlock()
		return nil
	}
	s.stopping = true
	close(s.stopCh)
	cmd := s.cmd
	done := s.done
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		<-done
		return nil
	}

	pid := cmd.Process.Pid
	s.logger.Info("stopping engine", "pid", pid)
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
		s.logger.Warn("failed to signal engine", "error", err)
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		s.logger.Warn("engine ignored SIGTERM, killing", "timeout", s.cfg.StopTimeout)
	}

	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf("killing engine: %w", err)
	}
	<-done
	return nil
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Stats returns a snapshot of the engine.
func (s *Supervisor) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		Command:  s.cfg.Command,
		State:    s.state,
		Restarts: s.restarts,
	}
	if s.cmd != nil && s.cmd.Process != nil {
		stats.PID = s.cmd.Process.Pid
	}
	if s.state == StateRunning {
		stats.Uptime = time.Since(s.startedAt).Round(time.Second).String()
	}
	if s.lastExit != nil {
		stats.LastExit = s.lastExit.Error()
	}
	return stats
}
