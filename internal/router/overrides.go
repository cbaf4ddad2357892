package router

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/glmrouter/internal/persistence"
)

// overrideStore is the operator override table of spec.md §4.11: a
// bounded key→model map, persisted atomically on every mutation when
// persistence is enabled. Key is either a request model string or "*".
type overrideStore struct {
	mu            sync.RWMutex
	entries       map[string]string
	maxOverrides  int
	path          string
	persistEnable bool
}

func newOverrideStore(path string, maxOverrides int, persistEnabled bool) *overrideStore {
	return &overrideStore{
		entries:       make(map[string]string),
		maxOverrides:  maxOverrides,
		path:          path,
		persistEnable: persistEnabled,
	}
}

// load reads the overrides file, if any, into the store. Called once at
// startup; a missing file is not an error.
func (s *overrideStore) load() error {
	data, err := persistence.ReadFile(s.path)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	s.mu.Lock()
	s.entries = m
	s.mu.Unlock()
	return nil
}

// get returns the override for requestModel, falling back to the "*"
// wildcard entry.
func (s *overrideStore) get(requestModel string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if m, ok := s.entries[requestModel]; ok {
		return m, true
	}
	if m, ok := s.entries["*"]; ok {
		return m, true
	}
	return "", false
}

// set installs an override for key → model, rejecting new keys once the
// store is at maxOverrides capacity. Triggers atomic persistence when
// enabled.
func (s *overrideStore) set(key, model string) error {
	s.mu.Lock()
	_, exists := s.entries[key]
	if !exists && s.maxOverrides > 0 && len(s.entries) >= s.maxOverrides {
		s.mu.Unlock()
		return newError(KindConfigurationInvalid, "override store at capacity (%d)", s.maxOverrides)
	}
	s.entries[key] = model
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return s.persist(snapshot)
}

// clear removes the override for key, if present, and persists.
func (s *overrideStore) clear(key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	snapshot := s.snapshotLocked()
	s.mu.Unlock()
	return s.persist(snapshot)
}

func (s *overrideStore) snapshotLocked() map[string]string {
	out := make(map[string]string, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out
}

// all returns a snapshot of every override.
func (s *overrideStore) all() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

func (s *overrideStore) persist(snapshot map[string]string) error {
	if !s.persistEnable || s.path == "" {
		return nil
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return newError(KindPersistenceFailed, "marshal overrides: %v", err)
	}
	if err := persistence.WriteAtomic(s.path, data, 0o644); err != nil {
		return newError(KindPersistenceFailed, "write overrides: %v", err)
	}
	return nil
}
