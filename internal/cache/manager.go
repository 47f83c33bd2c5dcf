// Package cache manages provider-side context caches: server objects holding
// static prompt content that later calls reference by handle instead of
// re-sending the text.
package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sync/singleflight"

	"github.com/vnmchuo/modelgate/pkg/logger"
)

// Entry is a live server-side cache object.
type Entry struct {
	// Name is the provider resource handle.
	Name       string
	Model      string
	ExpireTime time.Time
}

// Expired reports whether the entry is no longer usable at now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpireTime.After(now)
}

// Backend creates and deletes server-side cache objects.
type Backend interface {
	Create(ctx context.Context, model, content string, ttl time.Duration) (Entry, error)
	Delete(ctx context.Context, name string) error
}

// Manager maps application cache keys to server-side cache objects. Concurrent
// first calls for the same key share a single create.
type Manager struct {
	backend Backend
	log     *slog.Logger
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]Entry
	group   singleflight.Group
}

// Option customizes a Manager.
type Option func(*Manager)

// WithLogger replaces the component logger.
func WithLogger(l *slog.Logger) Option { return func(m *Manager) { m.log = l } }

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

func NewManager(backend Backend, opts ...Option) *Manager {
	m := &Manager{
		backend: backend,
		log:     logger.NewComponentLogger("cache"),
		now:     time.Now,
		entries: make(map[string]Entry),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateOrReuse returns the live entry for cacheKey, creating one when absent.
// An expired entry is replaced; deleting its server object is best effort.
func (m *Manager) CreateOrReuse(ctx context.Context, model, content, cacheKey string, ttl time.Duration) (Entry, error) {
	if e, ok := m.live(cacheKey); ok {
		return e, nil
	}

	v, err, _ := m.group.Do(cacheKey, func() (any, error) {
		// another caller may have finished while we queued
		if e, ok := m.live(cacheKey); ok {
			return e, nil
		}

		m.mu.Lock()
		stale, hadStale := m.entries[cacheKey]
		m.mu.Unlock()
		if hadStale {
			if err := m.backend.Delete(ctx, stale.Name); err != nil {
				m.log.Warn("failed to delete expired context cache",
					"cache_key", cacheKey, "name", stale.Name, "error", err)
			}
		}

		entry, err := m.backend.Create(ctx, model, content, ttl)
		if err != nil {
			return Entry{}, errors.Wrapf(err, "create context cache %s", cacheKey)
		}

		m.mu.Lock()
		m.entries[cacheKey] = entry
		m.mu.Unlock()
		m.log.Info("context cache created", "cache_key", cacheKey, "name", entry.Name,
			"model", model, "expires_at", entry.ExpireTime)
		return entry, nil
	})
	if err != nil {
		return Entry{}, err
	}
	return v.(Entry), nil
}

// Get returns the live entry for cacheKey without creating one.
func (m *Manager) Get(cacheKey string) (Entry, bool) {
	return m.live(cacheKey)
}

// Delete removes the server object and the local entry. It returns false
// when cacheKey is unknown.
func (m *Manager) Delete(ctx context.Context, cacheKey string) (bool, error) {
	m.mu.Lock()
	e, ok := m.entries[cacheKey]
	if ok {
		delete(m.entries, cacheKey)
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := m.backend.Delete(ctx, e.Name); err != nil {
		return true, errors.Wrapf(err, "delete context cache %s", e.Name)
	}
	return true, nil
}

func (m *Manager) live(cacheKey string) (Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[cacheKey]
	if !ok || e.Expired(m.now()) {
		return Entry{}, false
	}
	return e, true
}
