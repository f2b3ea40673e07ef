package protocol

import "errors"

var errEmptyPayload = errors.New("empty payload")

// PlayerState is the scalar stat block of a player.
type PlayerState struct {
	Health     uint64 `json:"health"`
	MaxHealth  uint64 `json:"max_health"`
	Strength   uint64 `json:"strength"`
	Wisdomness uint64 `json:"wisdomness"`
	Benchpress uint64 `json:"benchpress"`
	Curl       uint64 `json:"curl"`
	Experience uint64 `json:"experience"`
	Level      uint64 `json:"level"`
}

// PLAYER_TRANSFER (source -> destination). Inventory and Quests are the
// JSON-encoded item and quest arrays.
type PlayerTransferMsg struct {
	TransferID string      `json:"transfer_id"`
	PlayerID   string      `json:"player_id"`
	State      PlayerState `json:"player_state"`
	Inventory  string      `json:"inventory"`
	Quests     string      `json:"quests"`
	AuthToken  string      `json:"auth_token"`
	Timestamp  uint64      `json:"timestamp"`
}

// TRANSFER_ACK (destination -> source)
type TransferAckMsg struct {
	TransferID string `json:"transfer_id"`
	PlayerID   string `json:"player_id"`
}

// GUILD_JOIN_REQUEST. GuildName is optional; receivers fall back to a
// placeholder when it is empty.
type GuildJoinRequestMsg struct {
	PlayerID  string `json:"player_id"`
	GuildID   string `json:"guild_id"`
	GuildName string `json:"guild_name,omitempty"`
}

// BATTLE_RESULT. Result is 0 loss, 1 draw, 2 win.
type BattleResultMsg struct {
	BattleID         string `json:"battle_id"`
	PlayerID         string `json:"player_id"`
	Opponent         string `json:"opponent"`
	Result           uint8  `json:"result"`
	DamageDealt      uint64 `json:"damage_dealt"`
	DamageTaken      uint64 `json:"damage_taken"`
	ExperienceGained uint64 `json:"experience_gained"`
}

// ACHIEVEMENT_SUBMITTED (world -> hub)
type AchievementSubmittedMsg struct {
	PlayerID      string `json:"player_id"`
	AchievementID string `json:"achievement_id"`
	ChainID       string `json:"chain_id"`
	Timestamp     uint64 `json:"timestamp"`
	Metadata      string `json:"metadata"`
}

// WORLD_CHAIN_REGISTERED (world -> hub)
type WorldChainRegisteredMsg struct {
	ChainID string `json:"chain_id"`
	Region  string `json:"region"`
}
