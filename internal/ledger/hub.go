package ledger

import (
	"context"
	"fmt"

	"worldchains.ai/internal/protocol"
)

// achievementFactKey identifies an achievement by who earned what. The
// chain and timestamp of a resubmission do not make it a new fact.
func achievementFactKey(playerID, achievementID string) string {
	return factKey("achievement", playerID, achievementID)
}

func validateMetadata(raw string) (string, error) {
	if raw == "" {
		return "{}", nil
	}
	if err := protocol.ValidateJSON(protocol.SchemaMetadata, []byte(raw)); err != nil {
		return "", &DecodeError{Field: "metadata", Cause: err}
	}
	return raw, nil
}

func (l *Ledger) submitAchievementOp(ctx context.Context, op protocol.Operation) (Result, error) {
	m := protocol.AchievementSubmittedMsg{
		PlayerID:      op.PlayerID,
		AchievementID: op.AchievementID,
		ChainID:       op.ChainID,
		Timestamp:     op.Timestamp,
		Metadata:      op.Metadata,
	}
	return l.submitAchievement(ctx, m)
}

// submitAchievement indexes an achievement per player and per id and bumps
// total_achievements, once per fact key.
func (l *Ledger) submitAchievement(ctx context.Context, m protocol.AchievementSubmittedMsg) (Result, error) {
	if err := l.requireKind(KindHub); err != nil {
		return Result{}, err
	}
	if m.PlayerID == "" || m.AchievementID == "" {
		return Result{}, badRequest("player_id and achievement_id required")
	}
	meta, err := validateMetadata(m.Metadata)
	if err != nil {
		return Result{}, err
	}
	if m.Timestamp == 0 {
		m.Timestamp = l.nowMicros()
	}

	key := achievementFactKey(m.PlayerID, m.AchievementID)
	seen, err := l.factSeen(ctx, key)
	if err != nil {
		return Result{}, err
	}
	if seen {
		return Result{Outcome: OutcomeDuplicate}, nil
	}

	var mine []PlayerAchievement
	if _, err := l.get(ctx, NSPlayerAchievements, m.PlayerID, &mine); err != nil {
		return Result{}, err
	}
	has := false
	for _, a := range mine {
		if a.AchievementID == m.AchievementID {
			has = true
			break
		}
	}
	if !has {
		if l.cfg.MaxAchievements > 0 && len(mine) >= l.cfg.MaxAchievements {
			return Result{}, fmt.Errorf("%w: player %s has %d achievements", ErrLimit, m.PlayerID, len(mine))
		}
		mine = append(mine, PlayerAchievement{
			AchievementID: m.AchievementID,
			ChainID:       m.ChainID,
			Timestamp:     m.Timestamp,
			Metadata:      meta,
		})
		if err := l.put(ctx, NSPlayerAchievements, m.PlayerID, mine); err != nil {
			return Result{}, err
		}
	}

	var recs []AchievementRecord
	if _, err := l.get(ctx, NSAchievements, m.AchievementID, &recs); err != nil {
		return Result{}, err
	}
	listed := false
	for _, r := range recs {
		if r.PlayerID == m.PlayerID {
			listed = true
			break
		}
	}
	if !listed {
		recs = append(recs, AchievementRecord{
			AchievementID: m.AchievementID,
			PlayerID:      m.PlayerID,
			ChainID:       m.ChainID,
			Timestamp:     m.Timestamp,
			Metadata:      meta,
		})
		if err := l.put(ctx, NSAchievements, m.AchievementID, recs); err != nil {
			return Result{}, err
		}
	}

	if err := l.countFact(ctx, CounterTotalAchievements, key); err != nil {
		return Result{}, err
	}
	if err := l.markSeen(ctx, key, "achievement", m.PlayerID+"/"+m.AchievementID); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

func (l *Ledger) registerWorldChainOp(ctx context.Context, op protocol.Operation) (Result, error) {
	return l.registerWorldChain(ctx, protocol.WorldChainRegisteredMsg{ChainID: op.ChainID, Region: op.Region})
}

// registerWorldChain upserts the chain's info. total_chains is the number
// of registered chains, so re-registrations and redeliveries leave it alone.
func (l *Ledger) registerWorldChain(ctx context.Context, m protocol.WorldChainRegisteredMsg) (Result, error) {
	if err := l.requireKind(KindHub); err != nil {
		return Result{}, err
	}
	if m.ChainID == "" {
		return Result{}, badRequest("chain_id required")
	}
	var info WorldChainInfo
	exists, err := l.get(ctx, NSWorldChains, m.ChainID, &info)
	if err != nil {
		return Result{}, err
	}
	if exists && info.Active && info.Region == m.Region {
		// The counter write may have failed after the upsert.
		if err := l.syncChainCount(ctx); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeDuplicate}, nil
	}
	if !exists {
		info.RegistrationTimestamp = l.nowMicros()
	}
	info.Region = m.Region
	info.Active = true
	if err := l.put(ctx, NSWorldChains, m.ChainID, info); err != nil {
		return Result{}, err
	}
	if err := l.syncChainCount(ctx); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

func (l *Ledger) syncChainCount(ctx context.Context) error {
	ids, err := l.keys(ctx, NSWorldChains)
	if err != nil {
		return err
	}
	return l.syncCounter(ctx, CounterTotalChains, uint64(len(ids)))
}

// reportAchievement forwards an achievement earned on this world to its hub.
func (l *Ledger) reportAchievement(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if op.PlayerID == "" || op.AchievementID == "" {
		return Result{}, badRequest("player_id and achievement_id required")
	}
	if l.cfg.HubID == "" {
		return Result{}, badRequest("ledger %s has no hub configured", l.cfg.ID)
	}
	meta, err := validateMetadata(op.Metadata)
	if err != nil {
		return Result{}, err
	}
	ts := op.Timestamp
	if ts == 0 {
		ts = l.nowMicros()
	}
	m := protocol.AchievementSubmittedMsg{
		PlayerID:      op.PlayerID,
		AchievementID: op.AchievementID,
		ChainID:       l.cfg.ID,
		Timestamp:     ts,
		Metadata:      meta,
	}
	if err := l.send(ctx, l.cfg.HubID, protocol.KindAchievementSubmitted, m); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

func (l *Ledger) registerWithHub(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if l.cfg.HubID == "" {
		return Result{}, badRequest("ledger %s has no hub configured", l.cfg.ID)
	}
	region := op.Region
	if region == "" {
		region = l.cfg.Region
	}
	m := protocol.WorldChainRegisteredMsg{ChainID: l.cfg.ID, Region: region}
	if err := l.send(ctx, l.cfg.HubID, protocol.KindWorldChainRegistered, m); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}
