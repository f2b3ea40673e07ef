package protocol

import (
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
)

const Version = "1.0"

// Message kinds carried between ledgers.
const (
	KindPlayerTransfer       = "PLAYER_TRANSFER"
	KindTransferAck          = "TRANSFER_ACK"
	KindGuildJoinRequest     = "GUILD_JOIN_REQUEST"
	KindBattleResult         = "BATTLE_RESULT"
	KindAchievementSubmitted = "ACHIEVEMENT_SUBMITTED"
	KindWorldChainRegistered = "WORLD_CHAIN_REGISTERED"
)

// Envelope is the unit a channel moves from one ledger to another.
// Payload holds one of the *Msg types, JSON-encoded.
type Envelope struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	From    string          `json:"from"`
	To      string          `json:"to"`
	SentAt  int64           `json:"sent_at"` // unix micros
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope encodes payload and stamps a fresh envelope id.
func NewEnvelope(kind, from, to string, payload any, now time.Time) (Envelope, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		ID:      uuid.NewString(),
		Kind:    kind,
		From:    from,
		To:      to,
		SentAt:  now.UnixMicro(),
		Payload: b,
	}, nil
}

func EncodeEnvelope(env Envelope) ([]byte, error) {
	return json.Marshal(env)
}

func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	err := json.Unmarshal(b, &env)
	return env, err
}

// DecodePayload unmarshals the envelope payload into dst.
func (e Envelope) DecodePayload(dst any) error {
	if len(e.Payload) == 0 {
		return errEmptyPayload
	}
	return json.Unmarshal(e.Payload, dst)
}

// BaseFrame lets the gateway route client frames by type.
type BaseFrame struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseFrame, error) {
	var m BaseFrame
	err := json.Unmarshal(b, &m)
	return m, err
}
