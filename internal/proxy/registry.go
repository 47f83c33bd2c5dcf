package proxy

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrRunNotFound is returned when a run is unknown to, or owned by someone
// other than, the requesting organization.
var ErrRunNotFound = errors.New("run not found")

// DefaultCallerTTL evicts callers idle for this long.
const DefaultCallerTTL = 2 * time.Hour

type callerEntry struct {
	caller  *Caller
	owner   string
	touched time.Time
}

// CallerRegistry maps run ids to live Callers. Entries idle for longer than
// the TTL are removed by Sweep.
type CallerRegistry struct {
	ttl time.Duration
	now func() time.Time

	mu      sync.Mutex
	entries map[string]*callerEntry
}

// NewCallerRegistry creates a registry. ttl <= 0 disables eviction.
func NewCallerRegistry(ttl time.Duration) *CallerRegistry {
	return &CallerRegistry{ttl: ttl, now: time.Now, entries: make(map[string]*callerEntry)}
}

// Get returns the caller for runID. Unknown runs yield (nil, false).
func (r *CallerRegistry) Get(runID string) (*Caller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[runID]
	if !ok {
		return nil, false
	}
	e.touched = r.now()
	return e.caller, true
}

func (r *CallerRegistry) Set(runID string, c *Caller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[runID] = &callerEntry{caller: c, touched: r.now()}
}

// GetOrCreate returns the caller owner holds for runID, creating it with
// create when the run is new. A run held by another owner yields
// ErrRunNotFound.
func (r *CallerRegistry) GetOrCreate(owner, runID string, create func() (*Caller, error)) (*Caller, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[runID]; ok {
		if e.owner != owner {
			return nil, ErrRunNotFound
		}
		e.touched = r.now()
		return e.caller, nil
	}
	c, err := create()
	if err != nil {
		return nil, err
	}
	r.entries[runID] = &callerEntry{caller: c, owner: owner, touched: r.now()}
	return c, nil
}

// ClearOwned drops runID if owner holds it and reports whether it did.
func (r *CallerRegistry) ClearOwned(owner, runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[runID]
	if !ok || e.owner != owner {
		return false
	}
	delete(r.entries, runID)
	return true
}

func (r *CallerRegistry) Clear(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, runID)
}

func (r *CallerRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Sweep drops idle entries and returns how many were removed.
func (r *CallerRegistry) Sweep() int {
	if r.ttl <= 0 {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := r.now().Add(-r.ttl)
	removed := 0
	for id, e := range r.entries {
		if e.touched.Before(cutoff) {
			delete(r.entries, id)
			removed++
		}
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *CallerRegistry) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep()
		}
	}
}
