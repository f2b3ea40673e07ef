package ledger

import "context"

// Read-only lookups. Call them from the goroutine that owns the ledger
// (Runtime.Query) or on a ledger that is not running.

func (l *Ledger) Player(ctx context.Context, playerID string) (PlayerState, bool, error) {
	var s PlayerState
	ok, err := l.get(ctx, NSPlayers, playerID, &s)
	return s, ok, err
}

func (l *Ledger) Inventory(ctx context.Context, playerID string) (Inventory, bool, error) {
	var inv Inventory
	ok, err := l.get(ctx, NSInventories, playerID, &inv)
	return inv, ok, err
}

func (l *Ledger) Quests(ctx context.Context, playerID string) ([]Quest, bool, error) {
	var q []Quest
	ok, err := l.get(ctx, NSQuests, playerID, &q)
	return q, ok, err
}

func (l *Ledger) PendingTransfer(ctx context.Context, playerID string) (PendingTransfer, bool, error) {
	var p PendingTransfer
	ok, err := l.get(ctx, NSPendingTransfers, playerID, &p)
	return p, ok, err
}

// PendingTransfers lists every pending record, expired ones included.
func (l *Ledger) PendingTransfers(ctx context.Context) ([]PendingTransfer, error) {
	ids, err := l.keys(ctx, NSPendingTransfers)
	if err != nil {
		return nil, err
	}
	out := make([]PendingTransfer, 0, len(ids))
	for _, id := range ids {
		p, ok, err := l.PendingTransfer(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (l *Ledger) TransferReceipt(ctx context.Context, playerID string) (TransferReceipt, bool, error) {
	var r TransferReceipt
	ok, err := l.get(ctx, NSTransferReceipts, playerID, &r)
	return r, ok, err
}

func (l *Ledger) Guild(ctx context.Context, guildID string) (Guild, bool, error) {
	var g Guild
	ok, err := l.get(ctx, NSGuilds, guildID, &g)
	return g, ok, err
}

func (l *Ledger) PlayerGuild(ctx context.Context, playerID string) (string, bool, error) {
	var id string
	ok, err := l.get(ctx, NSPlayerGuilds, playerID, &id)
	return id, ok, err
}

func (l *Ledger) JoinRequests(ctx context.Context, guildID string) ([]string, error) {
	var reqs []string
	_, err := l.get(ctx, NSGuildJoinRequests, guildID, &reqs)
	return reqs, err
}

func (l *Ledger) Battle(ctx context.Context, battleID string) (BattleRecord, bool, error) {
	var b BattleRecord
	ok, err := l.get(ctx, NSBattles, battleID, &b)
	return b, ok, err
}

func (l *Ledger) PlayerBattles(ctx context.Context, playerID string) ([]string, error) {
	var ids []string
	_, err := l.get(ctx, NSPlayerBattles, playerID, &ids)
	return ids, err
}

func (l *Ledger) PlayerAchievements(ctx context.Context, playerID string) ([]PlayerAchievement, error) {
	var out []PlayerAchievement
	_, err := l.get(ctx, NSPlayerAchievements, playerID, &out)
	return out, err
}

func (l *Ledger) AchievementRecords(ctx context.Context, achievementID string) ([]AchievementRecord, error) {
	var out []AchievementRecord
	_, err := l.get(ctx, NSAchievements, achievementID, &out)
	return out, err
}

func (l *Ledger) WorldChain(ctx context.Context, chainID string) (WorldChainInfo, bool, error) {
	var info WorldChainInfo
	ok, err := l.get(ctx, NSWorldChains, chainID, &info)
	return info, ok, err
}

func (l *Ledger) WorldChains(ctx context.Context) ([]string, error) {
	return l.keys(ctx, NSWorldChains)
}

// Counter returns 0 for a counter never incremented.
func (l *Ledger) Counter(ctx context.Context, name string) (uint64, error) {
	c, err := l.loadCounter(ctx, name)
	return c.Value, err
}
