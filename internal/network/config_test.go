package network

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worldchains.ai/internal/ledger"
)

func TestLoad_DefaultsWhenNoPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())
	require.Equal(t, []string{"HUB", "WORLD_1", "WORLD_2"}, cfg.IDs())
	w1, ok := cfg.Spec("WORLD_1")
	require.True(t, ok)
	require.Equal(t, "HUB", w1.HubID, "single hub becomes the default hub")
	require.Equal(t, BackendSQLite, w1.Backend)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "worlds.yaml")
	doc := `
store:
  backend: memory
transfer:
  max_attempts: 4
  initial_interval: 3s
sweep_every: 2s
ledgers:
  - id: H
    kind: HUB
    region: global
    max_achievements: 10
  - id: A
    kind: world
    region: eu
  - id: B
    kind: world
    region: us
    backend: sqlite
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 4, cfg.Transfer.MaxAttempts)
	require.Equal(t, 3*time.Second, cfg.Transfer.InitialInterval)
	require.Equal(t, time.Minute, cfg.Transfer.MaxInterval)
	require.Equal(t, 2*time.Second, cfg.SweepEvery)

	h, _ := cfg.Spec("H")
	require.Equal(t, ledger.KindHub, h.Kind)
	a, _ := cfg.Spec("A")
	require.Equal(t, "H", a.HubID)
	require.Equal(t, BackendMemory, a.Backend)
	b, _ := cfg.Spec("B")
	require.Equal(t, BackendSQLite, b.Backend)

	lc := cfg.LedgerConfig(h)
	require.Equal(t, 10, lc.MaxAchievements)
	require.Equal(t, 4, lc.Transfer.MaxAttempts)
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]Config{
		"empty": {},
		"dup": {Ledgers: []LedgerSpec{
			{ID: "A", Kind: ledger.KindWorld},
			{ID: "A", Kind: ledger.KindWorld},
		}},
		"kind": {Ledgers: []LedgerSpec{{ID: "A", Kind: "castle"}}},
		"hub is a world": {Ledgers: []LedgerSpec{
			{ID: "A", Kind: ledger.KindWorld, HubID: "B"},
			{ID: "B", Kind: ledger.KindWorld},
		}},
		"hub with hub": {Ledgers: []LedgerSpec{
			{ID: "H", Kind: ledger.KindHub, HubID: "H"},
		}},
		"redis without addr": {Store: StoreSpec{Backend: BackendRedis}, Ledgers: []LedgerSpec{
			{ID: "A", Kind: ledger.KindWorld},
		}},
		"backend": {Store: StoreSpec{Backend: "tape"}, Ledgers: []LedgerSpec{
			{ID: "A", Kind: ledger.KindWorld},
		}},
	}
	for name, cfg := range cases {
		t.Run(name, func(t *testing.T) {
			cfg.Normalize()
			require.Error(t, cfg.Validate())
		})
	}
}

func TestNormalize_NoDefaultHubWhenAmbiguous(t *testing.T) {
	cfg := Config{Ledgers: []LedgerSpec{
		{ID: "H1", Kind: ledger.KindHub},
		{ID: "H2", Kind: ledger.KindHub},
		{ID: "A", Kind: ledger.KindWorld},
	}}
	cfg.Normalize()
	require.NoError(t, cfg.Validate())
	a, _ := cfg.Spec("A")
	require.Empty(t, a.HubID)
}

func TestLoad_ShippedConfig(t *testing.T) {
	cfg, err := Load(filepath.Join("..", "..", "configs", "worlds.yaml"))
	require.NoError(t, err)
	require.Equal(t, []string{"ARENA", "HUB", "WORLD_1", "WORLD_2"}, cfg.IDs())
	arena, ok := cfg.Spec("ARENA")
	require.True(t, ok)
	require.Equal(t, BackendMemory, arena.Backend)
	require.Equal(t, "HUB", arena.HubID)
	require.Equal(t, 2*time.Second, cfg.Transfer.InitialInterval)
	require.Equal(t, time.Minute, cfg.Transfer.MaxInterval)
	require.Equal(t, 5*time.Second, cfg.SweepEvery)
}
