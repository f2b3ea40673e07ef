package ledger

import (
	"context"
	"strconv"

	"worldchains.ai/internal/protocol"
)

const (
	BattleLoss uint8 = 0
	BattleDraw uint8 = 1
	BattleWin  uint8 = 2
)

// battleFactKey covers every reported field; the timestamp is assigned
// locally and would differ between deliveries.
func battleFactKey(m protocol.BattleResultMsg) string {
	return factKey("battle",
		m.BattleID,
		m.PlayerID,
		m.Opponent,
		strconv.FormatUint(uint64(m.Result), 10),
		strconv.FormatUint(m.DamageDealt, 10),
		strconv.FormatUint(m.DamageTaken, 10),
		strconv.FormatUint(m.ExperienceGained, 10),
	)
}

func (l *Ledger) recordBattleOp(ctx context.Context, op protocol.Operation) (Result, error) {
	m := protocol.BattleResultMsg{
		BattleID:         op.BattleID,
		PlayerID:         op.PlayerID,
		Opponent:         op.Opponent,
		Result:           op.Result,
		DamageDealt:      op.DamageDealt,
		DamageTaken:      op.DamageTaken,
		ExperienceGained: op.ExperienceGained,
	}
	res, err := l.recordBattle(ctx, m)
	if err != nil {
		return Result{}, err
	}
	if op.ReportTo != "" && op.ReportTo != l.cfg.ID {
		if err := l.send(ctx, op.ReportTo, protocol.KindBattleResult, m); err != nil {
			return Result{}, err
		}
	}
	return res, nil
}

// recordBattle stores the battle once. The seen-fact mark is written last
// so a run cut short by a store error resumes on redelivery.
func (l *Ledger) recordBattle(ctx context.Context, m protocol.BattleResultMsg) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	switch {
	case m.BattleID == "":
		return Result{}, badRequest("battle_id required")
	case m.PlayerID == "":
		return Result{}, badRequest("player_id required")
	case m.Result > BattleWin:
		return Result{}, badRequest("result %d out of range 0..2", m.Result)
	}

	key := battleFactKey(m)
	seen, err := l.factSeen(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if seen {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	var existing BattleRecord
	exists, err := l.get(ctx, NSBattles, m.BattleID, &existing)
	if err != nil {
		return Result{}, err
	}
	if exists && existing.FactKey != key {
		return Result{}, &ConflictError{Kind: "battle", Key: m.BattleID}
	}
	if !exists {
		rec := BattleRecord{
			BattleID:         m.BattleID,
			PlayerID:         m.PlayerID,
			Opponent:         m.Opponent,
			Result:           m.Result,
			DamageDealt:      m.DamageDealt,
			DamageTaken:      m.DamageTaken,
			ExperienceGained: m.ExperienceGained,
			Timestamp:        l.nowMicros(),
			FactKey:          key,
		}
		if err := l.put(ctx, NSBattles, m.BattleID, rec); err != nil {
			return Result{}, err
		}
	}

	var history []string
	if _, err := l.get(ctx, NSPlayerBattles, m.PlayerID, &history); err != nil {
		return Result{}, err
	}
	if !containsString(history, m.BattleID) {
		history = append(history, m.BattleID)
		if err := l.put(ctx, NSPlayerBattles, m.PlayerID, history); err != nil {
			return Result{}, err
		}
	}
	if err := l.markSeen(ctx, key, "battle", m.BattleID); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}
