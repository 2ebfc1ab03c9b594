// Package cache holds the last successfully processed result per area.
//
// Every store and every read goes through a structural deep copy so a caller
// can never reach the stored maps through a returned result, and the stored
// entry can never be reached through the argument the caller handed in.
// Staleness is not evaluated here; the orchestrator judges it against the
// result's own validity snapshot.
package cache

import (
	"sync"
	"time"

	"spotwatcher/internal/pricing"
)

// Entry pairs a stored result with its store time and originating source.
type Entry struct {
	Result   *pricing.ProcessedResult
	StoredAt time.Time
	Source   string
}

type areaCache struct {
	mu    sync.RWMutex
	entry *Entry
}

// Manager is a per-area result store. Areas never share locks.
type Manager struct {
	mu    sync.RWMutex
	areas map[string]*areaCache
}

// NewManager constructs an empty cache manager.
func NewManager() *Manager {
	return &Manager{areas: make(map[string]*areaCache)}
}

func (m *Manager) area(name string) *areaCache {
	m.mu.RLock()
	ac, ok := m.areas[name]
	m.mu.RUnlock()
	if ok {
		return ac
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if ac, ok = m.areas[name]; ok {
		return ac
	}
	ac = &areaCache{}
	m.areas[name] = ac
	return ac
}

// Store writes a deep copy of result for the area, stamped with storedAt.
func (m *Manager) Store(area string, result *pricing.ProcessedResult, storedAt time.Time) {
	if result == nil {
		return
	}
	ac := m.area(area)

	ac.mu.Lock()
	defer ac.mu.Unlock()
	ac.entry = &Entry{
		Result:   result.Clone(),
		StoredAt: storedAt,
		Source:   result.Source,
	}
}

// Get returns a deep copy of the area's entry, or nil when nothing is stored.
func (m *Manager) Get(area string) *Entry {
	ac := m.area(area)

	ac.mu.RLock()
	defer ac.mu.RUnlock()
	if ac.entry == nil {
		return nil
	}
	return &Entry{
		Result:   ac.entry.Result.Clone(),
		StoredAt: ac.entry.StoredAt,
		Source:   ac.entry.Source,
	}
}
