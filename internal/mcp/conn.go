package mcp

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"reflect"
	"sync"
	"time"

	"github.com/meridian-ai/meridian/internal/backoff"
	"github.com/meridian-ai/meridian/internal/bus"
	"github.com/meridian-ai/meridian/internal/observability"
)

// State is a connection manager's lifecycle state.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
	StateError        State = "error"
)

var allStates = []State{
	StateDisconnected, StateConnecting, StateConnected, StateReconnecting, StateError,
}

// Config parameterizes one connection manager.
type Config struct {
	// Name identifies the server in events, metrics, and tool routing.
	Name string

	// Backoff is the reconnection strategy.
	Backoff backoff.Strategy

	// CheckInterval is the period between health probes while connected.
	CheckInterval time.Duration

	// HealthTimeout bounds one health probe.
	HealthTimeout time.Duration

	// FetchTimeout bounds one capability fetch.
	FetchTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Backoff == (backoff.Strategy{}) {
		c.Backoff = backoff.Default()
	}
	if c.CheckInterval <= 0 {
		c.CheckInterval = 30 * time.Second
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = 5 * time.Second
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = 30 * time.Second
	}
	return c
}

// ConnManager owns one server connection: the lifecycle state machine, the
// background maintenance and health-check tasks, and the cached capability
// set. A stop signal cancels both background tasks.
type ConnManager struct {
	cfg       Config
	connectFn ConnectFunc
	logger    *slog.Logger
	metrics   *observability.Metrics
	events    *bus.Bus

	// randFn feeds the backoff jitter; tests inject a fixed value.
	randFn func() float64

	mu        sync.Mutex
	state     State
	session   Session
	artifacts Artifacts
	stop      chan struct{}
	running   bool
	wg        sync.WaitGroup
}

// NewConnManager creates a manager in the DISCONNECTED state. Metrics and
// events may be nil.
func NewConnManager(cfg Config, connectFn ConnectFunc, logger *slog.Logger, metrics *observability.Metrics, events *bus.Bus) *ConnManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &ConnManager{
		cfg:       cfg.withDefaults(),
		connectFn: connectFn,
		logger:    logger.With("component", "mcp", "server", cfg.Name),
		metrics:   metrics,
		events:    events,
		randFn:    rand.Float64,
		state:     StateDisconnected,
	}
}

// Name returns the server name.
func (m *ConnManager) Name() string { return m.cfg.Name }

// State returns the current lifecycle state.
func (m *ConnManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect starts the maintenance task. Valid only from DISCONNECTED; use
// RetryConnection to leave ERROR.
func (m *ConnManager) Connect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateDisconnected {
		return fmt.Errorf("mcp: connect from %s not permitted", m.state)
	}
	return m.startLocked()
}

// RetryConnection restarts the maintenance task after the backoff budget
// was exhausted. Valid only from ERROR.
func (m *ConnManager) RetryConnection() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateError {
		return fmt.Errorf("mcp: retry from %s not permitted", m.state)
	}
	return m.startLocked()
}

func (m *ConnManager) startLocked() error {
	m.stop = make(chan struct{})
	m.running = true
	m.wg.Add(1)
	go m.maintain(m.stop)
	return nil
}

// Disconnect signals the background tasks to stop, waits for them, and
// settles in DISCONNECTED. Safe from any state.
func (m *ConnManager) Disconnect() {
	m.mu.Lock()
	if m.running {
		close(m.stop)
		m.running = false
	}
	m.mu.Unlock()
	m.wg.Wait()
	m.setState(StateDisconnected)
}

// maintain is the connection-maintenance task: connect, hand off to the
// health checker while connected, and walk the backoff schedule on loss.
func (m *ConnManager) maintain(stop chan struct{}) {
	defer m.wg.Done()

	attempt := 0
	for {
		m.setState(StateConnecting)

		ctx, cancel := stopContext(stop)
		sess, err := m.connectFn(ctx)
		if err == nil {
			if initErr := sess.Initialize(ctx); initErr != nil {
				sess.Close()
				err = initErr
			}
		}

		if err == nil {
			attempt = 0
			m.mu.Lock()
			m.session = sess
			m.mu.Unlock()
			m.setState(StateConnected)
			m.refreshArtifacts(ctx, sess)

			stopped := m.superviseHealth(ctx, stop, sess)

			m.mu.Lock()
			m.session = nil
			m.mu.Unlock()
			sess.Close()
			cancel()
			if stopped {
				return
			}
			m.logger.Warn("session lost")
		} else {
			cancel()
			select {
			case <-stop:
				return
			default:
			}
			m.logger.Warn("connect failed", "error", err)
		}

		m.setState(StateReconnecting)
		attempt++
		if !m.cfg.Backoff.ShouldRetry(attempt) {
			m.logger.Error("reconnection budget exhausted", "attempts", attempt-1)
			m.setState(StateError)
			m.mu.Lock()
			m.running = false
			m.mu.Unlock()
			return
		}

		delay := m.cfg.Backoff.DelayWithRand(attempt, m.randFn())
		if m.metrics != nil {
			m.metrics.MCPReconnectAttempts.WithLabelValues(m.cfg.Name).Inc()
		}
		if m.events != nil {
			m.events.Publish(bus.ReconnectProgress{
				Server:         m.cfg.Name,
				Attempts:       attempt,
				MaxAttempts:    m.cfg.Backoff.MaxAttempts,
				NextRetryDelay: delay,
			})
		}

		select {
		case <-stop:
			return
		case <-time.After(delay):
		}
	}
}

// superviseHealth probes the session until the stop signal fires (returns
// true) or a probe fails (returns false).
func (m *ConnManager) superviseHealth(ctx context.Context, stop chan struct{}, sess Session) bool {
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return true
		case <-ticker.C:
			probeCtx, cancel := context.WithTimeout(ctx, m.cfg.HealthTimeout)
			_, err := sess.ListTools(probeCtx)
			cancel()
			if err != nil {
				m.logger.Warn("health check failed", "error", err)
				return false
			}
		}
	}
}

// refreshArtifacts fetches the server's capability set and publishes
// whether it changed. Fetch failures degrade to the previous set.
func (m *ConnManager) refreshArtifacts(ctx context.Context, sess Session) {
	fetchCtx, cancel := context.WithTimeout(ctx, m.cfg.FetchTimeout)
	defer cancel()

	var next Artifacts
	var err error
	if next.Tools, err = sess.ListTools(fetchCtx); err != nil {
		m.logger.Warn("tool fetch failed", "error", err)
		return
	}
	if next.Prompts, err = sess.ListPrompts(fetchCtx); err != nil {
		m.logger.Debug("prompt fetch failed", "error", err)
	}
	if next.Resources, err = sess.ListResources(fetchCtx); err != nil {
		m.logger.Debug("resource fetch failed", "error", err)
	}

	m.mu.Lock()
	changed := !reflect.DeepEqual(m.artifacts, next)
	m.artifacts = next
	m.mu.Unlock()

	if m.events != nil {
		m.events.Publish(bus.ArtifactsFetched{Server: m.cfg.Name, Changed: changed})
	}
}

// RefreshArtifacts re-fetches the capability set on the live session.
func (m *ConnManager) RefreshArtifacts(ctx context.Context) error {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return fmt.Errorf("mcp: server %s not connected", m.cfg.Name)
	}
	m.refreshArtifacts(ctx, sess)
	return nil
}

// Artifacts returns the last fetched capability set.
func (m *ConnManager) Artifacts() Artifacts {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.artifacts
}

// CallTool invokes a tool on the live session.
func (m *ConnManager) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	m.mu.Lock()
	sess := m.session
	m.mu.Unlock()
	if sess == nil {
		return "", fmt.Errorf("mcp: server %s not connected", m.cfg.Name)
	}
	return sess.CallTool(ctx, name, args)
}

func (m *ConnManager) setState(next State) {
	m.mu.Lock()
	prev := m.state
	m.state = next
	m.mu.Unlock()
	if prev == next {
		return
	}

	m.logger.Debug("connection state changed", "from", prev, "to", next)
	if m.metrics != nil {
		for _, s := range allStates {
			value := 0.0
			if s == next {
				value = 1.0
			}
			m.metrics.MCPConnectionState.WithLabelValues(m.cfg.Name, string(s)).Set(value)
		}
	}
	if m.events != nil {
		m.events.Publish(bus.ConnectionStatusChanged{Server: m.cfg.Name, Status: string(next)})
	}
}

// stopContext derives a context cancelled when the stop channel closes.
func stopContext(stop chan struct{}) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
