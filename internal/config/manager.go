package config

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Manager owns the live RoutingConfig and hot-swaps it atomically on
// reload, mirroring the teacher's fsnotify-driven atomic.Pointer pattern.
type Manager struct {
	config      atomic.Pointer[RoutingConfig]
	path        string
	watcher     *fsnotify.Watcher
	onChange    []func(*RoutingConfig)
	logger      *slog.Logger
	checksum    atomic.Value
	loadedAt    atomic.Value
	reloadCount atomic.Uint64
}

// NewManager loads path as a YAML routing config, normalizes it, and
// returns a Manager serving the result. A nil logger is replaced with
// slog.Default().
func NewManager(path string, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	cfg, _, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	m := &Manager{path: path, logger: logger}
	m.store(cfg)
	return m, nil
}

// LoadFile reads and normalizes a YAML config file. It returns the
// normalized config plus the full NormalizeResult (migrated flag,
// warnings) so callers can decide whether to persist the normalized
// form back to disk.
func LoadFile(path string) (*RoutingConfig, NormalizeResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NormalizeResult{}, fmt.Errorf("read config file: %w", err)
	}
	result, err := NormalizeYAML(data)
	if err != nil {
		return nil, NormalizeResult{}, fmt.Errorf("normalize config: %w", err)
	}
	if v := Validate(result.Config); !v.Valid {
		return nil, result, fmt.Errorf("invalid config: %s", v.Error)
	}
	return result.Config, result, nil
}

// Get returns the currently active configuration. Safe for concurrent use.
func (m *Manager) Get() *RoutingConfig {
	return m.config.Load()
}

// OnChange registers a callback invoked after every successful reload or
// Update call.
func (m *Manager) OnChange(fn func(*RoutingConfig)) {
	m.onChange = append(m.onChange, fn)
}

// ManagerStatus reports metadata about the active configuration.
type ManagerStatus struct {
	Path        string
	Checksum    string
	LoadedAt    time.Time
	ReloadCount uint64
}

// Status returns the manager's current metadata snapshot.
func (m *Manager) Status() ManagerStatus {
	status := ManagerStatus{Path: m.path, ReloadCount: m.reloadCount.Load()}
	if v, ok := m.checksum.Load().(string); ok {
		status.Checksum = v
	}
	if v, ok := m.loadedAt.Load().(time.Time); ok {
		status.LoadedAt = v
	}
	return status
}

// Update atomically replaces the active configuration with cfg. Callers
// are expected to have already run Validate; Update does not re-validate.
func (m *Manager) Update(cfg *RoutingConfig) {
	m.store(cfg)
	for _, fn := range m.onChange {
		fn(cfg)
	}
}

// Watch starts watching the config file for external edits, debouncing
// rapid writes before reloading.
func (m *Manager) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	m.watcher = watcher
	if err := watcher.Add(m.path); err != nil {
		_ = watcher.Close()
		return err
	}
	go m.watchLoop(ctx)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context) {
	const debounceDelay = 500 * time.Millisecond
	var debounceTimer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			_ = m.watcher.Close()
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(debounceDelay, func() {
					if err := m.Reload(); err != nil {
						m.logger.Error("failed to reload routing config, keeping current", "error", err)
					}
				})
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Error("config watcher error", "error", err)
		}
	}
}

// Reload re-reads the config file from disk and swaps it in on success.
func (m *Manager) Reload() error {
	cfg, _, err := LoadFile(m.path)
	if err != nil {
		return err
	}
	m.Update(cfg)
	m.logger.Info("routing config reloaded", "path", m.path)
	return nil
}

// Close stops the file watcher, if running.
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}

func (m *Manager) store(cfg *RoutingConfig) {
	m.config.Store(cfg)
	m.checksum.Store(ConfigHash(cfg))
	m.loadedAt.Store(time.Now().UTC())
	m.reloadCount.Add(1)
}

// ConfigHash returns a stable content hash of cfg, used as the migration
// marker: a config is only persisted when its hash differs from the
// marker recorded at the last write.
func ConfigHash(cfg *RoutingConfig) string {
	data, err := marshalStable(cfg)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
