package router

import (
	"sync"

	"github.com/goccy/go-json"

	"github.com/blueberrycongee/glmrouter/internal/config"
	"github.com/blueberrycongee/glmrouter/internal/metrics"
	"github.com/blueberrycongee/glmrouter/internal/persistence"
)

// configPersister durably writes the normalized routing config after an
// admin update, per spec.md §4.11: only when the normalizer reported
// migrated=true and the config's hash differs from the marker recorded at
// the last write. The marker lives in a companion file next to the config
// JSON so a restarted process doesn't re-write an already-persisted
// config on its first update.
type configPersister struct {
	mu            sync.Mutex
	path          string
	persistEnable bool
	lastHash      string
}

func newConfigPersister(path string, persistEnabled bool) *configPersister {
	return &configPersister{path: path, persistEnable: persistEnabled}
}

func (p *configPersister) markerPath() string {
	return p.path + ".marker"
}

// load reads any previously-written hash marker into the persister. A
// missing marker file is not an error.
func (p *configPersister) load() error {
	if !p.persistEnable || p.path == "" {
		return nil
	}
	data, err := persistence.ReadFile(p.markerPath())
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}
	p.mu.Lock()
	p.lastHash = string(data)
	p.mu.Unlock()
	return nil
}

// persist writes cfg and its hash marker when persistence is enabled and
// the hash differs from the last-written marker. It reports
// (persisted=false, nil) both when persistence is disabled and when the
// hash is unchanged — neither is a failure. On write failure it
// increments the migration-write-failure counter and returns the error;
// the caller's in-memory config has already been swapped in by this
// point, matching spec.md's PersistenceFailed handling.
func (p *configPersister) persist(cfg *config.RoutingConfig) (bool, error) {
	if !p.persistEnable || p.path == "" {
		return false, nil
	}
	hash := config.ConfigHash(cfg)

	p.mu.Lock()
	unchanged := hash != "" && hash == p.lastHash
	p.mu.Unlock()
	if unchanged {
		return false, nil
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		metrics.ConfigMigrationWriteFailures.Inc()
		return false, newError(KindPersistenceFailed, "marshal config: %v", err)
	}
	if err := persistence.WriteAtomic(p.path, data, 0o644); err != nil {
		metrics.ConfigMigrationWriteFailures.Inc()
		return false, newError(KindPersistenceFailed, "write config: %v", err)
	}
	if err := persistence.WriteAtomic(p.markerPath(), []byte(hash), 0o644); err != nil {
		metrics.ConfigMigrationWriteFailures.Inc()
		return false, newError(KindPersistenceFailed, "write config marker: %v", err)
	}

	p.mu.Lock()
	p.lastHash = hash
	p.mu.Unlock()
	return true, nil
}
