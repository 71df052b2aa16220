package terminal

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/shellgate/shellgate/internal/events"
	"github.com/shellgate/shellgate/internal/infrastructure/config"
	"github.com/shellgate/shellgate/internal/infrastructure/logging"
	"github.com/shellgate/shellgate/internal/infrastructure/monitoring"
	"github.com/shellgate/shellgate/internal/shared/id"
	"go.uber.org/zap"
)

// Spawner abstracts the PTY adapter's spawn entry point so registry
// tests can substitute an in-memory handle.
type Spawner func(plan LaunchPlan, workingDir string, size Size) (Handle, error)

// CreateRequest describes a new session.
type CreateRequest struct {
	Kind Kind
	// Reference is the profile alias for KindProfile, or the shell
	// program (optional) for KindShell.
	Reference  string
	Args       []string
	WorkingDir string
	Size       Size
	Sandboxed  bool
}

// Registry is the process-wide owner of all sessions. Sessions are
// exposed to callers only by reference; the registry is the sole
// component that inserts and removes them.
type Registry struct {
	cfg      config.TerminalConfig
	launcher *Launcher
	spawn    Spawner
	profiles ProfileResolver
	bus      *events.Bus
	metrics  *monitoring.Metrics
	log      *logging.Logger

	mu        sync.RWMutex
	sessions  map[id.SessionID]*Session
	byProfile map[string]id.SessionID

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRegistry creates a session registry and starts its janitor.
func NewRegistry(cfg config.TerminalConfig, launcher *Launcher, profiles ProfileResolver, bus *events.Bus, metrics *monitoring.Metrics, log *logging.Logger) *Registry {
	r := &Registry{
		cfg:       cfg,
		launcher:  launcher,
		spawn:     Spawn,
		profiles:  profiles,
		bus:       bus,
		metrics:   metrics,
		log:       log,
		sessions:  make(map[id.SessionID]*Session),
		byProfile: make(map[string]id.SessionID),
		stop:      make(chan struct{}),
	}
	go r.janitor()
	return r
}

// WithSpawner substitutes the spawn function, for tests.
func (r *Registry) WithSpawner(spawn Spawner) *Registry {
	r.spawn = spawn
	return r
}

// Create resolves, sandboxes, and spawns a new session. On any failure
// before registration nothing is left visible in List.
func (r *Registry) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	size := req.Size
	if size.Cols == 0 || size.Rows == 0 {
		size = DefaultSize
	}

	plan, workingDir, reference, err := r.resolve(req)
	if err != nil {
		r.countFailure(err)
		return nil, err
	}

	plan, err = r.launcher.Prepare(plan, workingDir, req.Sandboxed)
	if err != nil {
		r.countFailure(err)
		return nil, err
	}

	handle, err := r.spawn(plan, workingDir, size)
	if err != nil {
		r.countFailure(err)
		return nil, err
	}

	sid := id.NewSessionID()
	sess := newSession(sid, req.Kind, reference, workingDir, req.Sandboxed, size, handle, r.cfg.KillGrace, r.log, r.metrics, r.onStateChange)

	r.mu.Lock()
	// Re-check the one-active-session-per-profile rule under the lock;
	// a concurrent Create for the same alias may have won.
	if req.Kind == KindProfile {
		if existingID, ok := r.byProfile[reference]; ok {
			if existing := r.sessions[existingID]; existing != nil && !existing.Terminated() {
				r.mu.Unlock()
				handle.Close() //nolint:errcheck // spawned process must not leak
				return nil, fmt.Errorf("profile %q: %w", reference, ErrProfileBusy)
			}
		}
		r.byProfile[reference] = sid
	}
	r.sessions[sid] = sess
	r.mu.Unlock()

	if r.metrics != nil {
		r.metrics.SessionsCreated.WithLabelValues(string(req.Kind), strconv.FormatBool(req.Sandboxed)).Inc()
		r.metrics.SessionsActive.Inc()
	}
	r.bus.Publish(events.Event{
		Type:      events.SessionCreated,
		SessionID: sid.String(),
		State:     string(StatusStarting),
	})
	r.log.Info("session created",
		zap.String("session_id", sid.String()),
		zap.String("kind", string(req.Kind)),
		zap.String("reference", reference),
		zap.Bool("sandboxed", req.Sandboxed),
		zap.Int("pid", handle.PID()),
	)

	sess.start()
	return sess, nil
}

// resolve turns a request into a launch plan, working directory, and
// display reference.
func (r *Registry) resolve(req CreateRequest) (LaunchPlan, string, string, error) {
	switch req.Kind {
	case KindProfile:
		if r.profiles == nil {
			return LaunchPlan{}, "", "", fmt.Errorf("no profile store configured: %w", ErrNotFound)
		}
		spec, ok := r.profiles.ResolveProfile(req.Reference)
		if !ok {
			return LaunchPlan{}, "", "", fmt.Errorf("profile %q: %w", req.Reference, ErrNotFound)
		}
		if active := r.activeProfileSession(req.Reference); active != "" {
			return LaunchPlan{}, "", "", fmt.Errorf("profile %q (session %s): %w", req.Reference, active, ErrProfileBusy)
		}

		args := spec.Args
		if len(req.Args) > 0 {
			args = append(append([]string{}, spec.Args...), req.Args...)
		}
		workingDir := firstNonEmpty(req.WorkingDir, spec.WorkingDir, homeDir())
		env := baseEnv()
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		return LaunchPlan{Command: spec.Command, Args: args, Env: env}, workingDir, req.Reference, nil

	case KindShell:
		shell := firstNonEmpty(req.Reference, os.Getenv("SHELL"), r.cfg.DefaultShell)
		args := req.Args
		if len(args) == 0 {
			args = []string{"-l"}
		}
		workingDir := firstNonEmpty(req.WorkingDir, homeDir())
		env := append(baseEnv(), "SHELL="+shell)
		return LaunchPlan{Command: shell, Args: args, Env: env}, workingDir, shell, nil

	default:
		return LaunchPlan{}, "", "", fmt.Errorf("unknown session kind %q", req.Kind)
	}
}

func (r *Registry) activeProfileSession(alias string) id.SessionID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sid, ok := r.byProfile[alias]
	if !ok {
		return ""
	}
	if sess := r.sessions[sid]; sess != nil && !sess.Terminated() {
		return sid
	}
	return ""
}

// onStateChange relays session transitions onto the event bus.
func (r *Registry) onStateChange(s *Session, status Status, exitCode *int) {
	switch status {
	case StatusTerminated:
		if r.metrics != nil {
			r.metrics.SessionsActive.Dec()
			r.metrics.SessionsTerminated.Inc()
		}
		r.bus.Publish(events.Event{
			Type:      events.SessionTerminated,
			SessionID: s.ID.String(),
			State:     string(status),
			ExitCode:  exitCode,
		})
		r.log.Info("session terminated",
			zap.String("session_id", s.ID.String()),
			zap.Any("exit_code", exitCode),
		)
	default:
		r.bus.Publish(events.Event{
			Type:      events.SessionStateChanged,
			SessionID: s.ID.String(),
			State:     string(status),
		})
	}
}

// Get returns a session by id.
func (r *Registry) Get(sid id.SessionID) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	return sess, nil
}

// List snapshots all sessions in creation order.
func (r *Registry) List() []Summary {
	r.mu.RLock()
	summaries := make([]Summary, 0, len(r.sessions))
	for _, sess := range r.sessions {
		summaries = append(summaries, sess.Summary())
	}
	r.mu.RUnlock()

	// Session ids are ULIDs, so lexical order is creation order.
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries
}

// Attach subscribes a gateway to a session's output.
func (r *Registry) Attach(sid id.SessionID) (*Subscription, error) {
	sess, err := r.Get(sid)
	if err != nil {
		return nil, err
	}
	return sess.Attach()
}

// Terminate ends a session. Idempotent: terminating an already
// terminated session succeeds without effect.
func (r *Registry) Terminate(ctx context.Context, sid id.SessionID) error {
	sess, err := r.Get(sid)
	if err != nil {
		return err
	}
	return sess.Terminate(ctx)
}

// Reap removes a Terminated session from the registry. A non-terminated
// session is rejected with ErrInvalidState and stays registered.
func (r *Registry) Reap(sid id.SessionID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.sessions[sid]
	if !ok {
		return ErrNotFound
	}
	if !sess.Terminated() {
		return ErrInvalidState
	}
	r.removeLocked(sid, sess)
	return nil
}

// CleanupTerminated reaps every Terminated session now and returns how
// many were removed.
func (r *Registry) CleanupTerminated() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for sid, sess := range r.sessions {
		if sess.Terminated() {
			r.removeLocked(sid, sess)
			removed++
		}
	}
	return removed
}

func (r *Registry) removeLocked(sid id.SessionID, sess *Session) {
	delete(r.sessions, sid)
	if sess.Kind == KindProfile && r.byProfile[sess.Reference] == sid {
		delete(r.byProfile, sess.Reference)
	}
	if r.metrics != nil {
		r.metrics.SessionsReaped.Inc()
	}
	r.log.Debug("session reaped", zap.String("session_id", sid.String()))
}

// janitor reaps Terminated sessions that outlived the retention window.
func (r *Registry) janitor() {
	interval := r.cfg.JanitorInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
			r.reapExpired()
		}
	}
}

func (r *Registry) reapExpired() {
	cutoff := time.Now().Add(-r.cfg.Retention)

	r.mu.Lock()
	defer r.mu.Unlock()
	for sid, sess := range r.sessions {
		if !sess.Terminated() {
			continue
		}
		if at := sess.TerminatedAt(); !at.IsZero() && at.Before(cutoff) {
			r.removeLocked(sid, sess)
		}
	}
}

// Shutdown terminates every live session and stops the janitor.
func (r *Registry) Shutdown(ctx context.Context) {
	r.stopOnce.Do(func() { close(r.stop) })

	r.mu.RLock()
	live := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		if !sess.Terminated() {
			live = append(live, sess)
		}
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sess := range live {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			_ = s.Terminate(ctx)
		}(sess)
	}
	wg.Wait()
}

func (r *Registry) countFailure(err error) {
	if r.metrics == nil {
		return
	}
	r.metrics.SpawnFailures.WithLabelValues(failureReason(err)).Inc()
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrSandboxUnavailable):
		return "sandbox_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrProfileBusy):
		return "profile_busy"
	default:
		return "spawn_error"
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// baseEnv carries the minimal environment every session needs.
func baseEnv() []string {
	env := []string{"TERM=xterm-256color", "HOME=" + homeDir()}
	for _, key := range []string{"PATH", "LANG", "LC_ALL", "USER", "LOGNAME"} {
		if v := os.Getenv(key); v != "" {
			env = append(env, key+"="+v)
		}
	}
	return env
}
