// ABOUTME: Supervisor starts, stops and tracks provider processes by server name.
// ABOUTME: It resolves names to live rpc.Conns and records handshake completion per generation.

package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sort"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/2389/mcp-hub/internal/fault"
	"github.com/2389/mcp-hub/internal/rpc"
)

// Defaults applied when Config leaves a duration unset.
const (
	DefaultStartupGrace = 500 * time.Millisecond
	DefaultStopTimeout  = 3 * time.Second
)

// drainWait bounds how long an exited provider's stdout may stay open (held
// by a grandchild, say) before the connection is closed anyway.
const drainWait = time.Second

// LaunchSpec describes how to spawn one provider.
type LaunchSpec struct {
	Name       string
	Command    string
	Args       []string
	WorkingDir string
	Env        map[string]string
}

// Config configures a Supervisor.
type Config struct {
	Servers      []LaunchSpec
	StartupGrace time.Duration
	StopTimeout  time.Duration
	CallTimeout  time.Duration
	Logger       *slog.Logger
}

type record struct {
	spec LaunchSpec

	mu          sync.Mutex
	state       State
	initialized bool
	generation  uint64
	cmd         *exec.Cmd
	conn        *rpc.Conn
	exited      chan struct{}
	stderr      *tailBuffer
	stopping    bool
	pid         int
	startedAt   time.Time
	lastErr     error
}

// Supervisor owns the provider processes.
type Supervisor struct {
	cfg     Config
	logger  *slog.Logger
	order   []string
	records map[string]*record

	obsMu     sync.RWMutex
	observers []func(Event)
}

// New creates a Supervisor with every server NotStarted.
func New(cfg Config) (*Supervisor, error) {
	if cfg.StartupGrace <= 0 {
		cfg.StartupGrace = DefaultStartupGrace
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = rpc.DefaultTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Supervisor{
		cfg:     cfg,
		logger:  logger.With("component", "supervisor"),
		records: make(map[string]*record, len(cfg.Servers)),
	}
	for _, spec := range cfg.Servers {
		if spec.Name == "" {
			return nil, errors.New("server name is required")
		}
		if spec.Command == "" {
			return nil, fmt.Errorf("server %s: command is required", spec.Name)
		}
		if _, dup := s.records[spec.Name]; dup {
			return nil, fmt.Errorf("duplicate server name: %s", spec.Name)
		}
		s.records[spec.Name] = &record{spec: spec, state: NotStarted}
		s.order = append(s.order, spec.Name)
	}
	return s, nil
}

// Names returns the configured server names in configuration order.
func (s *Supervisor) Names() []string {
	return append([]string(nil), s.order...)
}

// OnStateChange registers fn to be called after every state transition.
// fn runs synchronously and must not call back into the Supervisor.
func (s *Supervisor) OnStateChange(fn func(Event)) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Supervisor) emit(ev Event) {
	ev.At = time.Now()
	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, fn := range observers {
		fn(ev)
	}
}

func (s *Supervisor) record(name string) (*record, error) {
	r, ok := s.records[name]
	if !ok {
		return nil, &fault.Error{Kind: fault.ServerNotConfigured, Server: name, Detail: "no such server"}
	}
	return r, nil
}

// Start spawns the server's process and waits out the startup grace period.
// A process that exits during the grace period leaves the server Dead and
// returns a ProcessStartFailure. Starting a Starting or Running server is a
// no-op.
func (s *Supervisor) Start(ctx context.Context, name string) error {
	r, err := s.record(name)
	if err != nil {
		return err
	}
	logger := s.logger.With("server", name)

	r.mu.Lock()
	if r.state == Starting || r.state == Running {
		r.mu.Unlock()
		return nil
	}
	from := r.state
	r.state = Starting
	r.generation++
	gen := r.generation
	r.initialized = false
	r.stopping = false
	r.lastErr = nil

	p, err := spawn(r.spec, s.logger)
	if err != nil {
		r.state = Dead
		r.lastErr = err
		r.mu.Unlock()
		s.emit(Event{Server: name, From: from, To: Dead, Generation: gen, Err: err})
		logger.Error("failed to start provider", "command", r.spec.Command, "error", err)
		return &fault.Error{Kind: fault.ProcessStartFailure, Server: name, Detail: "spawn failed", Err: err}
	}
	exited := make(chan struct{})
	r.cmd = p.cmd
	r.exited = exited
	r.stderr = p.stderr
	r.pid = p.cmd.Process.Pid
	pid := r.pid
	r.mu.Unlock()

	s.emit(Event{Server: name, From: from, To: Starting, PID: pid, Generation: gen})
	logger.Info("provider starting", "command", r.spec.Command, "pid", pid, "generation", gen)

	go s.watch(r, gen, p, exited)

	timer := time.NewTimer(s.cfg.StartupGrace)
	defer timer.Stop()
	select {
	case <-exited:
		return s.startFailure(r, gen)
	case <-ctx.Done():
		_ = s.Stop(context.Background(), name)
		return fault.FromContext(ctx.Err()).WithServer(name)
	case <-timer.C:
	}

	r.mu.Lock()
	if r.generation != gen || r.state != Starting {
		r.mu.Unlock()
		return s.startFailure(r, gen)
	}
	conn := rpc.NewConn(p.stdin, p.stdout,
		rpc.WithName(name),
		rpc.WithTimeout(s.cfg.CallTimeout),
		rpc.WithLogger(s.logger),
	)
	r.conn = conn
	r.state = Running
	r.startedAt = time.Now()
	r.mu.Unlock()

	s.emit(Event{Server: name, From: Starting, To: Running, PID: pid, Generation: gen})
	logger.Info("✓ provider running", "pid", pid)
	return nil
}

func (s *Supervisor) startFailure(r *record, gen uint64) error {
	r.mu.Lock()
	tail := r.stderr
	lastErr := r.lastErr
	r.mu.Unlock()

	detail := "process exited during startup"
	if lastErr != nil {
		detail = fmt.Sprintf("process exited during startup: %v", lastErr)
	}
	stderr := ""
	if tail != nil {
		tail.wait(time.Second)
		stderr = tail.String()
	}
	s.logger.Error("provider exited immediately",
		"server", r.spec.Name,
		"generation", gen,
		"error", lastErr,
		"stderr", stderr,
	)
	if stderr != "" {
		detail += ": " + stderr
	}
	ferr := &fault.Error{Kind: fault.ProcessStartFailure, Server: r.spec.Name, Detail: detail, Err: lastErr}

	r.mu.Lock()
	if r.generation == gen {
		r.lastErr = ferr
	}
	r.mu.Unlock()
	return ferr
}

// watch waits for the process to exit and marks the server Dead.
func (s *Supervisor) watch(r *record, gen uint64, p *process, exited chan struct{}) {
	waitErr := p.cmd.Wait()

	r.mu.Lock()
	if r.generation != gen {
		r.mu.Unlock()
		close(exited)
		return
	}
	from := r.state
	conn := r.conn
	stopping := r.stopping
	r.state = Dead
	r.initialized = false
	r.conn = nil
	if waitErr == nil && !stopping {
		waitErr = errors.New("process exited")
	}
	if !stopping {
		r.lastErr = waitErr
	}
	pid := r.pid
	r.mu.Unlock()

	// The record is already Dead, so no new call can reach conn. The call in
	// flight still gets whatever the provider wrote before exiting.
	if conn != nil {
		_ = conn.Drain(drainWait)
	} else {
		p.closePipes()
	}
	close(exited)

	if stopping {
		s.logger.Info("provider stopped", "server", r.spec.Name, "pid", pid)
	} else if from == Running {
		s.logger.Warn("provider exited", "server", r.spec.Name, "pid", pid, "error", waitErr, "stderr", p.stderr.String())
	}
	s.emit(Event{Server: r.spec.Name, From: from, To: Dead, PID: pid, Generation: gen, Err: waitErr})
}

// StartAll starts every configured server concurrently. Failures do not stop
// the remaining servers; they are joined into the returned error.
func (s *Supervisor) StartAll(ctx context.Context) error {
	return s.each(ctx, s.Start)
}

// each runs fn for every server concurrently and joins the failures.
func (s *Supervisor) each(ctx context.Context, fn func(context.Context, string) error) error {
	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, name := range s.order {
		g.Go(func() error {
			if err := fn(ctx, name); err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// Stop terminates the server's process: the stdio pipes are closed, then
// SIGTERM is sent, then the process is killed if it has not exited within the
// stop timeout. Stopping a server that is not running is a no-op.
func (s *Supervisor) Stop(ctx context.Context, name string) error {
	r, err := s.record(name)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if r.state != Starting && r.state != Running {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	cmd := r.cmd
	conn := r.conn
	exited := r.exited
	r.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}

	var termErr error
	if err := cmd.Process.Signal(syscall.SIGTERM); err != nil && !errors.Is(err, os.ErrProcessDone) {
		termErr = err
	}

	timer := time.NewTimer(s.cfg.StopTimeout)
	defer timer.Stop()
	select {
	case <-exited:
		return nil
	case <-timer.C:
	case <-ctx.Done():
	}

	s.logger.Warn("provider did not exit, killing", "server", name, "pid", cmd.Process.Pid)
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("stopping %s: %w", name, errors.Join(termErr, err))
	}
	select {
	case <-exited:
	case <-time.After(time.Second):
		return fmt.Errorf("stopping %s: process did not exit after kill", name)
	}
	return nil
}

// StopAll stops every server concurrently. Every server is attempted even if
// some fail; failures are joined into the returned error.
func (s *Supervisor) StopAll(ctx context.Context) error {
	return s.each(ctx, s.Stop)
}

// Restart stops the server if running and starts it again.
func (s *Supervisor) Restart(ctx context.Context, name string) error {
	if err := s.Stop(ctx, name); err != nil {
		return err
	}
	return s.Start(ctx, name)
}

// Conn returns the live connection to a Running server.
func (s *Supervisor) Conn(name string) (*rpc.Conn, error) {
	r, err := s.record(name)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Running || r.conn == nil {
		return nil, &fault.Error{Kind: fault.ServerNotAvailable, Server: name, Detail: "state " + r.state.String()}
	}
	return r.conn, nil
}

// Initialized reports whether the server's current process completed the
// handshake, along with the process generation it refers to.
func (s *Supervisor) Initialized(name string) (bool, uint64, error) {
	r, err := s.record(name)
	if err != nil {
		return false, 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.initialized, r.generation, nil
}

// MarkInitialized records a completed handshake for generation gen. It
// returns false if the server is no longer Running that generation.
func (s *Supervisor) MarkInitialized(name string, gen uint64) bool {
	r, err := s.record(name)
	if err != nil {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != Running || r.generation != gen {
		return false
	}
	r.initialized = true
	return true
}

// Status returns a snapshot of one server.
func (s *Supervisor) Status(name string) (Status, error) {
	r, err := s.record(name)
	if err != nil {
		return Status{}, err
	}
	return r.status(), nil
}

// Snapshot returns the status of every server in configuration order.
func (s *Supervisor) Snapshot() []Status {
	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.records[name].status())
	}
	return out
}

// Running returns the names of Running servers, sorted.
func (s *Supervisor) Running() []string {
	var names []string
	for _, st := range s.Snapshot() {
		if st.State == Running {
			names = append(names, st.Name)
		}
	}
	sort.Strings(names)
	return names
}

func (r *record) status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	st := Status{
		Name:        r.spec.Name,
		Command:     r.spec.Command,
		State:       r.state,
		Initialized: r.initialized,
		Generation:  r.generation,
		StartedAt:   r.startedAt,
	}
	if r.state == Starting || r.state == Running {
		st.PID = r.pid
	}
	if r.lastErr != nil {
		st.LastError = r.lastErr.Error()
	}
	return st
}
