package ledger

import (
	json "github.com/goccy/go-json"

	"worldchains.ai/internal/protocol"
)

// Store namespaces.
const (
	NSPlayers            = "players"
	NSInventories        = "inventories"
	NSQuests             = "quests"
	NSPendingTransfers   = "pending_transfers"
	NSTransferReceipts   = "transfer_receipts"
	NSGuilds             = "guilds"
	NSPlayerGuilds       = "player_guilds"
	NSGuildJoinRequests  = "guild_join_requests"
	NSBattles            = "battles"
	NSPlayerBattles      = "player_battles"
	NSPlayerAchievements = "player_achievements"
	NSAchievements       = "achievements"
	NSWorldChains        = "world_chains"
	NSSeenFacts          = "seen_facts"
	NSCounters           = "counters"
	NSMeta               = "meta"
)

// Namespaces lists every namespace a ledger writes, in snapshot order.
var Namespaces = []string{
	NSPlayers, NSInventories, NSQuests,
	NSPendingTransfers, NSTransferReceipts,
	NSGuilds, NSPlayerGuilds, NSGuildJoinRequests,
	NSBattles, NSPlayerBattles,
	NSPlayerAchievements, NSAchievements, NSWorldChains,
	NSSeenFacts, NSCounters, NSMeta,
}

// Counter keys.
const (
	CounterTotalChains       = "total_chains"
	CounterTotalAchievements = "total_achievements"
)

type PlayerState = protocol.PlayerState

type InventoryItem struct {
	Slot   string          `json:"slot"`
	ItemID string          `json:"item_id"`
	Params json.RawMessage `json:"params,omitempty"`
}

type Inventory struct {
	Items []InventoryItem `json:"items"`
}

type Quest struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	Text      string `json:"text"`
	Completed bool   `json:"completed"`
	Progress  uint32 `json:"progress"`
}

type TransferStatus string

const (
	TransferInitiated TransferStatus = "initiated"
	TransferRetrying  TransferStatus = "retrying"
	TransferExpired   TransferStatus = "expired"
)

// PendingTransfer is the source-side record of an unacknowledged migration.
type PendingTransfer struct {
	TransferID  string         `json:"transfer_id"`
	Source      string         `json:"source"`
	Destination string         `json:"destination"`
	PlayerID    string         `json:"player_id"`
	AuthToken   string         `json:"auth_token"`
	Timestamp   uint64         `json:"timestamp"`
	Attempts    int            `json:"attempts"`
	NextRetryAt uint64         `json:"next_retry_at"`
	Status      TransferStatus `json:"status"`
}

// TransferReceipt is the destination-side record of the last applied transfer.
type TransferReceipt struct {
	TransferID string `json:"transfer_id"`
	Source     string `json:"source"`
	AuthToken  string `json:"auth_token"`
	Timestamp  uint64 `json:"timestamp"`
	AppliedAt  uint64 `json:"applied_at"`
}

type Guild struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Members   []string `json:"members"`
	Resources uint64   `json:"resources"`
	Level     uint32   `json:"level"`
}

type BattleRecord struct {
	BattleID         string `json:"battle_id"`
	PlayerID         string `json:"player_id"`
	Opponent         string `json:"opponent"`
	Result           uint8  `json:"result"`
	DamageDealt      uint64 `json:"damage_dealt"`
	DamageTaken      uint64 `json:"damage_taken"`
	ExperienceGained uint64 `json:"experience_gained"`
	Timestamp        uint64 `json:"timestamp"`
	FactKey          string `json:"fact_key"`
}

type PlayerAchievement struct {
	AchievementID string `json:"achievement_id"`
	ChainID       string `json:"chain_id"`
	Timestamp     uint64 `json:"timestamp"`
	Metadata      string `json:"metadata"`
}

type AchievementRecord struct {
	AchievementID string `json:"achievement_id"`
	PlayerID      string `json:"player_id"`
	ChainID       string `json:"chain_id"`
	Timestamp     uint64 `json:"timestamp"`
	Metadata      string `json:"metadata"`
}

type WorldChainInfo struct {
	Region                string `json:"region"`
	RegistrationTimestamp uint64 `json:"registration_timestamp"`
	Active                bool   `json:"active"`
}

// SeenFact marks a fact key as applied.
type SeenFact struct {
	Kind   string `json:"kind"`
	Ref    string `json:"ref"`
	Height uint64 `json:"height"`
}

// PlaceholderGuildName names a guild created from a join that carried no name.
func PlaceholderGuildName(guildID string) string {
	return "Guild_" + guildID
}

func containsString(xs []string, s string) bool {
	for _, x := range xs {
		if x == s {
			return true
		}
	}
	return false
}
