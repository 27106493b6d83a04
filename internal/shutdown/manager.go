// Package shutdown coordinates graceful shutdown of the aktibguard server.
package shutdown

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// State represents the current shutdown state.
type State string

const (
	// StateRunning indicates the server is accepting telemetry.
	StateRunning State = "running"
	// StateDraining indicates intake is closed and in-flight ingests are finishing.
	StateDraining State = "draining"
	// StateStopping indicates components are being stopped.
	StateStopping State = "stopping"
	// StateComplete indicates shutdown is complete.
	StateComplete State = "complete"
)

// Drainer is a unit of work that can stop accepting new work and wait for
// the work it already accepted.
type Drainer interface {
	Close()
	Drain(ctx context.Context) error
}

// Status represents the current shutdown status.
type Status struct {
	State         State         `json:"state"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	TimeRemaining time.Duration `json:"time_remaining,omitempty"`
	Accepting     bool          `json:"accepting_telemetry"`
	Message       string        `json:"message,omitempty"`
}

// Config holds configuration for the shutdown manager.
type Config struct {
	// Timeout bounds the whole shutdown.
	Timeout time.Duration

	// DrainTimeout bounds the wait for in-flight ingests.
	DrainTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:      30 * time.Second,
		DrainTimeout: 10 * time.Second,
	}
}

type stopHook struct {
	name string
	fn   func(ctx context.Context) error
}

// Manager runs the shutdown sequence: close intake, drain in-flight work,
// then run the registered stop hooks in registration order.
type Manager struct {
	config    Config
	drainer   Drainer
	logger    zerolog.Logger
	mu        sync.RWMutex
	state     State
	startedAt *time.Time
	hooks     []stopHook
	accepting atomic.Bool
	doneCh    chan struct{}
	once      sync.Once
	err       error
}

// NewManager creates a new shutdown manager. drainer may be nil.
func NewManager(config Config, drainer Drainer, logger zerolog.Logger) *Manager {
	if config.Timeout <= 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.DrainTimeout <= 0 || config.DrainTimeout > config.Timeout {
		config.DrainTimeout = config.Timeout / 3
	}
	m := &Manager{
		config:  config,
		drainer: drainer,
		logger:  logger.With().Str("component", "shutdown_manager").Logger(),
		state:   StateRunning,
		doneCh:  make(chan struct{}),
	}
	m.accepting.Store(true)
	return m
}

// OnStop registers a hook run after the drain. Hooks run in registration
// order; a failing hook is logged and does not stop the others.
func (m *Manager) OnStop(name string, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, stopHook{name: name, fn: fn})
}

// IsAccepting reports whether telemetry intake is open.
func (m *Manager) IsAccepting() bool {
	return m.accepting.Load()
}

// GetState returns the current shutdown state.
func (m *Manager) GetState() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// GetStatus returns the current shutdown status.
func (m *Manager) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := Status{
		State:     m.state,
		StartedAt: m.startedAt,
		Accepting: m.accepting.Load(),
	}

	if m.startedAt != nil {
		remaining := m.config.Timeout - time.Since(*m.startedAt)
		if remaining > 0 {
			status.TimeRemaining = remaining
		}
	}

	switch m.state {
	case StateRunning:
		status.Message = "Server is running normally"
	case StateDraining:
		status.Message = "Server is draining in-flight telemetry"
	case StateStopping:
		status.Message = "Server is stopping components"
	case StateComplete:
		status.Message = "Shutdown complete"
	}

	return status
}

// Shutdown runs the shutdown sequence once and blocks until it is complete
// or the timeout expires. Later calls return the first call's result.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.once.Do(func() {
		m.err = m.doShutdown(ctx)
	})
	return m.err
}

func (m *Manager) doShutdown(parent context.Context) error {
	m.logger.Info().
		Dur("timeout", m.config.Timeout).
		Dur("drain_timeout", m.config.DrainTimeout).
		Msg("initiating graceful shutdown")

	ctx, cancel := context.WithTimeout(parent, m.config.Timeout)
	defer cancel()

	now := time.Now()
	m.mu.Lock()
	m.startedAt = &now
	m.state = StateDraining
	hooks := append([]stopHook(nil), m.hooks...)
	m.mu.Unlock()

	m.accepting.Store(false)

	var errs []error

	// Phase 1: close intake and wait for in-flight ingests
	if m.drainer != nil {
		m.drainer.Close()
		drainCtx, drainCancel := context.WithTimeout(ctx, m.config.DrainTimeout)
		if err := m.drainer.Drain(drainCtx); err != nil {
			m.logger.Warn().Err(err).Msg("drain timed out with ingests still in flight")
			errs = append(errs, err)
		} else {
			m.logger.Info().Msg("in-flight ingests drained")
		}
		drainCancel()
	}

	// Phase 2: stop components
	m.setState(StateStopping)
	for _, h := range hooks {
		if ctx.Err() != nil {
			m.logger.Warn().Str("hook", h.name).Msg("shutdown timeout reached, skipping remaining hooks")
			errs = append(errs, ctx.Err())
			break
		}
		if err := h.fn(ctx); err != nil {
			m.logger.Error().Err(err).Str("hook", h.name).Msg("stop hook failed")
			errs = append(errs, err)
			continue
		}
		m.logger.Debug().Str("hook", h.name).Msg("stopped")
	}

	m.setState(StateComplete)
	close(m.doneCh)

	m.logger.Info().
		Dur("duration", time.Since(now)).
		Msg("graceful shutdown complete")

	return errors.Join(errs...)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Done returns a channel that is closed when shutdown is complete.
func (m *Manager) Done() <-chan struct{} {
	return m.doneCh
}

// WaitForShutdown blocks until shutdown is complete.
func (m *Manager) WaitForShutdown() {
	<-m.doneCh
}
