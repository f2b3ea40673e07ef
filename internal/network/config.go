package network

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/retry"
)

const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendRedis  = "redis"
)

// Config describes a network of ledgers, usually loaded from worlds.yaml.
type Config struct {
	Ledgers []LedgerSpec `yaml:"ledgers"`
	Store   StoreSpec    `yaml:"store"`

	// Transfer is the retry schedule for unacknowledged transfers.
	Transfer   retry.Policy  `yaml:"transfer"`
	SweepEvery time.Duration `yaml:"sweep_every"`
	// SnapshotEveryBlocks writes a snapshot of a ledger every N blocks. 0 disables.
	SnapshotEveryBlocks uint64 `yaml:"snapshot_every_blocks"`
}

type LedgerSpec struct {
	ID     string      `yaml:"id"`
	Kind   ledger.Kind `yaml:"kind"`
	Region string      `yaml:"region"`
	// HubID defaults to the only hub of the network, if there is exactly one.
	HubID           string `yaml:"hub_id"`
	MaxAchievements int    `yaml:"max_achievements"`
	// Backend overrides Store.Backend for this ledger.
	Backend string `yaml:"backend"`
}

type StoreSpec struct {
	Backend     string `yaml:"backend"`
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var fileCfg Config
	if err := yaml.Unmarshal(b, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("worlds.yaml: %w", err)
	}
	fileCfg.Normalize()
	if err := fileCfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("worlds.yaml: %w", err)
	}
	return fileCfg, nil
}

func defaults() Config {
	return Config{
		Ledgers: []LedgerSpec{
			{ID: "HUB", Kind: ledger.KindHub, Region: "global", MaxAchievements: 1000},
			{ID: "WORLD_1", Kind: ledger.KindWorld, Region: "eu-west"},
			{ID: "WORLD_2", Kind: ledger.KindWorld, Region: "us-east"},
		},
		Store:               StoreSpec{Backend: BackendSQLite},
		Transfer:            retry.DefaultPolicy(),
		SweepEvery:          5 * time.Second,
		SnapshotEveryBlocks: 1000,
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	if strings.TrimSpace(c.Store.Backend) == "" {
		c.Store.Backend = BackendSQLite
	}
	if c.Store.RedisPrefix == "" {
		c.Store.RedisPrefix = "worldchains"
	}
	c.Transfer = c.Transfer.Normalize()
	if c.SweepEvery <= 0 {
		c.SweepEvery = 5 * time.Second
	}
	var hubs []string
	for i := range c.Ledgers {
		c.Ledgers[i].ID = strings.TrimSpace(c.Ledgers[i].ID)
		c.Ledgers[i].Kind = ledger.Kind(strings.ToLower(string(c.Ledgers[i].Kind)))
		if c.Ledgers[i].Kind == ledger.KindHub {
			hubs = append(hubs, c.Ledgers[i].ID)
		}
		if c.Ledgers[i].Backend == "" {
			c.Ledgers[i].Backend = c.Store.Backend
		}
	}
	if len(hubs) != 1 {
		return
	}
	for i := range c.Ledgers {
		if c.Ledgers[i].Kind == ledger.KindWorld && c.Ledgers[i].HubID == "" {
			c.Ledgers[i].HubID = hubs[0]
		}
	}
}

func (c Config) Validate() error {
	if len(c.Ledgers) == 0 {
		return fmt.Errorf("ledgers must not be empty")
	}
	kinds := map[string]ledger.Kind{}
	for _, l := range c.Ledgers {
		if l.ID == "" {
			return fmt.Errorf("ledger id must not be empty")
		}
		if _, dup := kinds[l.ID]; dup {
			return fmt.Errorf("duplicate ledger id: %s", l.ID)
		}
		if !l.Kind.Valid() {
			return fmt.Errorf("ledger %s kind %q must be world or hub", l.ID, l.Kind)
		}
		if l.MaxAchievements < 0 {
			return fmt.Errorf("ledger %s max_achievements must be >= 0", l.ID)
		}
		switch l.Backend {
		case BackendMemory, BackendSQLite, BackendRedis:
		default:
			return fmt.Errorf("ledger %s backend %q must be memory, sqlite or redis", l.ID, l.Backend)
		}
		if l.Backend == BackendRedis && c.Store.RedisAddr == "" {
			return fmt.Errorf("ledger %s uses redis but store.redis_addr is empty", l.ID)
		}
		kinds[l.ID] = l.Kind
	}
	for _, l := range c.Ledgers {
		if l.HubID == "" {
			continue
		}
		if l.Kind != ledger.KindWorld {
			return fmt.Errorf("ledger %s: only world ledgers report to a hub", l.ID)
		}
		if kinds[l.HubID] != ledger.KindHub {
			return fmt.Errorf("ledger %s hub_id %q is not a hub ledger", l.ID, l.HubID)
		}
	}
	return nil
}

// IDs returns the ledger ids in sorted order.
func (c Config) IDs() []string {
	out := make([]string, 0, len(c.Ledgers))
	for _, l := range c.Ledgers {
		out = append(out, l.ID)
	}
	sort.Strings(out)
	return out
}

func (c Config) Spec(id string) (LedgerSpec, bool) {
	for _, l := range c.Ledgers {
		if l.ID == id {
			return l, true
		}
	}
	return LedgerSpec{}, false
}

// LedgerConfig is the ledger.Config for one entry of the network.
func (c Config) LedgerConfig(l LedgerSpec) ledger.Config {
	return ledger.Config{
		ID:              l.ID,
		Kind:            l.Kind,
		Region:          l.Region,
		HubID:           l.HubID,
		MaxAchievements: l.MaxAchievements,
		Transfer:        c.Transfer,
	}
}
