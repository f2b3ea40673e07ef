package ledger

import (
	"context"

	"worldchains.ai/internal/protocol"
)

// joinGuild asks the ledger that owns the guild to add the player, then
// records the request locally. The local list is an audit trail only.
func (l *Ledger) joinGuild(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	switch {
	case op.PlayerID == "":
		return Result{}, badRequest("player_id required")
	case op.GuildID == "":
		return Result{}, badRequest("guild_id required")
	case op.TargetLedger == "":
		return Result{}, badRequest("target_ledger required")
	}
	msg := protocol.GuildJoinRequestMsg{PlayerID: op.PlayerID, GuildID: op.GuildID, GuildName: op.GuildName}
	if err := l.send(ctx, op.TargetLedger, protocol.KindGuildJoinRequest, msg); err != nil {
		return Result{}, err
	}
	var reqs []string
	if _, err := l.get(ctx, NSGuildJoinRequests, op.GuildID, &reqs); err != nil {
		return Result{}, err
	}
	reqs = append(reqs, op.PlayerID)
	if err := l.put(ctx, NSGuildJoinRequests, op.GuildID, reqs); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

// acceptJoin creates the guild on first sight or set-adds the member.
// A placeholder name is replaced once a request carries a real one. The
// player's reverse index is written every time.
func (l *Ledger) acceptJoin(ctx context.Context, m protocol.GuildJoinRequestMsg) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if m.PlayerID == "" || m.GuildID == "" {
		return Result{}, badRequest("player_id and guild_id required")
	}
	var g Guild
	exists, err := l.get(ctx, NSGuilds, m.GuildID, &g)
	if err != nil {
		return Result{}, err
	}

	outcome := OutcomeDuplicate
	if !exists {
		name := m.GuildName
		if name == "" {
			name = PlaceholderGuildName(m.GuildID)
		}
		g = Guild{
			ID:        m.GuildID,
			Name:      name,
			Members:   []string{m.PlayerID},
			Resources: 0,
			Level:     1,
		}
		outcome = OutcomeApplied
	} else {
		if m.GuildName != "" && g.Name == PlaceholderGuildName(g.ID) && m.GuildName != g.Name {
			g.Name = m.GuildName
			outcome = OutcomeApplied
		}
		if !containsString(g.Members, m.PlayerID) {
			g.Members = append(g.Members, m.PlayerID)
			outcome = OutcomeApplied
		}
	}
	if outcome == OutcomeApplied {
		if err := l.put(ctx, NSGuilds, m.GuildID, g); err != nil {
			return Result{}, err
		}
	}
	if err := l.put(ctx, NSPlayerGuilds, m.PlayerID, m.GuildID); err != nil {
		return Result{}, err
	}
	return Result{Outcome: outcome}, nil
}
