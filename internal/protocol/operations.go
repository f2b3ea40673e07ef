package protocol

// Operation types accepted by a ledger.
const (
	OpSavePlayerState    = "SAVE_PLAYER_STATE"
	OpSaveInventory      = "SAVE_INVENTORY"
	OpSaveQuests         = "SAVE_QUESTS"
	OpTransferPlayer     = "TRANSFER_PLAYER"
	OpJoinGuild          = "JOIN_GUILD"
	OpRecordBattle       = "RECORD_BATTLE"
	OpReportAchievement  = "REPORT_ACHIEVEMENT"
	OpRegisterWithHub    = "REGISTER_WITH_HUB"
	OpSubmitAchievement  = "SUBMIT_ACHIEVEMENT"
	OpRegisterWorldChain = "REGISTER_WORLD_CHAIN"
)

// Operation is a flat request; Type selects which fields are read.
type Operation struct {
	Type string `json:"type"`
	Ref  string `json:"ref,omitempty"` // client correlation id, echoed back

	PlayerID string       `json:"player_id,omitempty"`
	State    *PlayerState `json:"player_state,omitempty"`

	// JSON arrays, validated on write.
	Inventory string `json:"inventory,omitempty"`
	Quests    string `json:"quests,omitempty"`

	Destination string `json:"destination,omitempty"`
	AuthToken   string `json:"auth_token,omitempty"`

	GuildID      string `json:"guild_id,omitempty"`
	GuildName    string `json:"guild_name,omitempty"`
	TargetLedger string `json:"target_ledger,omitempty"`

	BattleID         string `json:"battle_id,omitempty"`
	Opponent         string `json:"opponent,omitempty"`
	Result           uint8  `json:"result,omitempty"`
	DamageDealt      uint64 `json:"damage_dealt,omitempty"`
	DamageTaken      uint64 `json:"damage_taken,omitempty"`
	ExperienceGained uint64 `json:"experience_gained,omitempty"`
	ReportTo         string `json:"report_to,omitempty"`

	AchievementID string `json:"achievement_id,omitempty"`
	ChainID       string `json:"chain_id,omitempty"`
	Timestamp     uint64 `json:"timestamp,omitempty"`
	Metadata      string `json:"metadata,omitempty"`

	Region string `json:"region,omitempty"`
}

// Gateway frame types.
const (
	TypeHello    = "HELLO"
	TypeWelcome  = "WELCOME"
	TypeOp       = "OP"
	TypeOpResult = "OP_RESULT"
)

// HELLO (client -> gateway)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name,omitempty"`
}

// WELCOME (gateway -> client)
type WelcomeMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	SessionID       string   `json:"session_id"`
	Ledgers         []string `json:"ledgers"`
}

// OP (client -> gateway)
type OpMsg struct {
	Type     string    `json:"type"`
	LedgerID string    `json:"ledger_id"`
	Op       Operation `json:"op"`
}

// OP_RESULT (gateway -> client)
type OpResultMsg struct {
	Type       string `json:"type"`
	Ref        string `json:"ref,omitempty"`
	LedgerID   string `json:"ledger_id"`
	OK         bool   `json:"ok"`
	Outcome    string `json:"outcome,omitempty"`
	Height     uint64 `json:"height,omitempty"`
	TransferID string `json:"transfer_id,omitempty"`
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
}
