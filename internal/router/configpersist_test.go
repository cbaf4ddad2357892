package router

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/blueberrycongee/glmrouter/internal/config"
)

func testPersistConfig() *config.RoutingConfig {
	return &config.RoutingConfig{
		Version: config.CurrentVersion,
		Enabled: true,
		Tiers: map[config.Tier]config.TierConfig{
			config.TierMedium: {Models: []string{"glm-4"}, Strategy: config.StrategyQuality},
		},
	}
}

func TestConfigPersister_DisabledIsNoop(t *testing.T) {
	p := newConfigPersister("", false)
	persisted, err := p.persist(testPersistConfig())
	require.NoError(t, err)
	require.False(t, persisted)
}

func TestConfigPersister_WritesConfigAndMarkerOnFirstCall(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.normalized.json")
	p := newConfigPersister(path, true)

	persisted, err := p.persist(testPersistConfig())
	require.NoError(t, err)
	require.True(t, persisted)

	_, err = os.Stat(path)
	require.NoError(t, err)
	_, err = os.Stat(path + ".marker")
	require.NoError(t, err)
}

func TestConfigPersister_SkipsWriteWhenHashUnchanged(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.normalized.json")
	p := newConfigPersister(path, true)
	cfg := testPersistConfig()

	first, err := p.persist(cfg)
	require.NoError(t, err)
	require.True(t, first)

	second, err := p.persist(cfg)
	require.NoError(t, err)
	require.False(t, second)
}

func TestConfigPersister_WritesAgainWhenHashChanges(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.normalized.json")
	p := newConfigPersister(path, true)
	cfg := testPersistConfig()

	_, err := p.persist(cfg)
	require.NoError(t, err)

	cfg.Enabled = false
	changed, err := p.persist(cfg)
	require.NoError(t, err)
	require.True(t, changed)
}

func TestConfigPersister_LoadRestoresMarkerAcrossRestarts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.normalized.json")
	cfg := testPersistConfig()

	first := newConfigPersister(path, true)
	persisted, err := first.persist(cfg)
	require.NoError(t, err)
	require.True(t, persisted)

	restarted := newConfigPersister(path, true)
	require.NoError(t, restarted.load())

	persistedAgain, err := restarted.persist(cfg)
	require.NoError(t, err)
	require.False(t, persistedAgain)
}

func TestConfigPersister_LoadMissingMarkerIsNotError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routing.normalized.json")
	p := newConfigPersister(path, true)
	require.NoError(t, p.load())
}
