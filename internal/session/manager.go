package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/meridian-ai/meridian/internal/conversation"
	"github.com/meridian-ai/meridian/internal/observability"
	"github.com/meridian-ai/meridian/internal/state"
)

const (
	sessionKeyPrefix = "session:"

	// legacySessionKey is where versions predating multi-session support
	// stored their single session.
	legacySessionKey = "session"
)

// Key returns the provider key for a session.
func Key(id string) string {
	return sessionKeyPrefix + id
}

// Summary is the listing view of a stored session.
type Summary struct {
	ID           string
	Title        string
	Model        string
	LastActiveAt string
}

// Manager owns the loaded sessions and keeps exactly one active. Sessions
// are auto-saved when deactivated and on Close.
type Manager struct {
	logger   *slog.Logger
	provider state.Provider
	metrics  *observability.Metrics

	systemPrompt string
	convCfg      conversation.Config

	mu       sync.Mutex
	sessions map[string]*Session
	activeID string
}

// NewManager creates a manager over the given provider.
func NewManager(provider state.Provider, metrics *observability.Metrics, systemPrompt string, convCfg conversation.Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger:       logger.With("component", "session"),
		provider:     provider,
		metrics:      metrics,
		systemPrompt: systemPrompt,
		convCfg:      convCfg,
		sessions:     make(map[string]*Session),
	}
}

// Init migrates any legacy single-session snapshot into the multi-session
// key layout. Safe to call when no legacy snapshot exists.
func (m *Manager) Init(ctx context.Context) error {
	raw, found, err := m.provider.Load(ctx, legacySessionKey)
	if err != nil {
		return fmt.Errorf("session: probe legacy snapshot: %w", err)
	}
	if !found {
		return nil
	}

	var legacy Session
	if err := json.Unmarshal(raw, &legacy); err != nil {
		m.logger.Warn("legacy session snapshot unreadable, leaving in place", "error", err)
		return nil
	}
	if legacy.ID == "" {
		migrated := New(legacy.Title, legacy.Model, m.systemPrompt, m.convCfg)
		migrated.Conversation = legacy.Conversation
		legacy = *migrated
	}
	if err := m.save(ctx, &legacy); err != nil {
		return fmt.Errorf("session: migrate legacy snapshot: %w", err)
	}
	if err := m.provider.Delete(ctx, legacySessionKey); err != nil {
		m.logger.Warn("legacy snapshot not removed after migration", "error", err)
	}
	m.logger.Info("migrated legacy session", "id", legacy.ID)
	return nil
}

// Create makes a new session, saves it, and activates it.
func (m *Manager) Create(ctx context.Context, title, model string) (*Session, error) {
	sess := New(title, model, m.systemPrompt, m.convCfg)

	m.mu.Lock()
	if err := m.deactivateLocked(ctx); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	m.sessions[sess.ID] = sess
	m.activeID = sess.ID
	m.mu.Unlock()

	if m.metrics != nil {
		m.metrics.ActiveSessions.Inc()
	}
	if err := m.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Active returns the currently active session, if any.
func (m *Manager) Active() (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[m.activeID]
	return sess, ok
}

// Switch saves the active session and activates the named one, loading it
// from the provider if it is not resident.
func (m *Manager) Switch(ctx context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[id]
	if !ok {
		loaded, err := m.load(ctx, id)
		if err != nil {
			return nil, err
		}
		sess = loaded
		m.sessions[id] = sess
	}

	if err := m.deactivateLocked(ctx); err != nil {
		return nil, err
	}
	m.activeID = id
	sess.Touch()
	return sess, nil
}

// deactivateLocked auto-saves the active session before it loses the slot.
func (m *Manager) deactivateLocked(ctx context.Context) error {
	if current, ok := m.sessions[m.activeID]; ok {
		if err := m.save(ctx, current); err != nil {
			return err
		}
	}
	m.activeID = ""
	return nil
}

// Save persists one session.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	return m.save(ctx, sess)
}

func (m *Manager) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("session: encode %s: %w", sess.ID, err)
	}
	if err := m.provider.Save(ctx, Key(sess.ID), raw); err != nil {
		return fmt.Errorf("session: persist %s: %w", sess.ID, err)
	}
	return nil
}

func (m *Manager) load(ctx context.Context, id string) (*Session, error) {
	raw, found, err := m.provider.Load(ctx, Key(id))
	if err != nil {
		return nil, fmt.Errorf("session: load %s: %w", id, err)
	}
	if !found {
		return nil, fmt.Errorf("session: %s not found", id)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("session: decode %s: %w", id, err)
	}
	return &sess, nil
}

// List returns summaries of every stored session, most recently active
// first.
func (m *Manager) List(ctx context.Context) ([]Summary, error) {
	keys, err := m.provider.ListKeys(ctx, sessionKeyPrefix)
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var out []Summary
	for _, key := range keys {
		// Keys come back in sanitized form; recover the id suffix.
		id := strings.TrimPrefix(key, "session_")
		id = strings.TrimPrefix(id, sessionKeyPrefix)
		sess, err := m.load(ctx, id)
		if err != nil {
			m.logger.Warn("unreadable session skipped", "key", key, "error", err)
			continue
		}
		out = append(out, Summary{
			ID:           sess.ID,
			Title:        sess.Title,
			Model:        sess.Model,
			LastActiveAt: sess.LastActiveAt.Format("2006-01-02 15:04:05"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastActiveAt > out[j].LastActiveAt })
	return out, nil
}

// Delete removes a stored session. Deleting the active session clears the
// active slot.
func (m *Manager) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	if m.activeID == id {
		m.activeID = ""
		if m.metrics != nil {
			m.metrics.ActiveSessions.Dec()
		}
	}
	m.mu.Unlock()
	return m.provider.Delete(ctx, Key(id))
}

// Close auto-saves the active session on shutdown.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deactivateLocked(ctx)
}
