package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"worldchains.ai/internal/protocol"
)

type botConfig struct {
	Name    string
	Players int
	Rounds  int
	Hub     string
	Worlds  []string
	Pause   time.Duration
	Seed    int64
}

type botStats struct {
	Ops       int
	Failed    int
	Transfers int
	Codes     map[string]int
}

type bot struct {
	conn  *websocket.Conn
	cfg   botConfig
	log   *zap.Logger
	rng   *rand.Rand
	stats botStats
	seq   int
}

type botPlayer struct {
	id    string
	home  string
	level uint64
}

// runBot says HELLO on conn and plays cfg.Rounds rounds for every player.
// Each round saves the player, records a battle, reports an achievement
// and transfers the player to the next world.
func runBot(ctx context.Context, conn *websocket.Conn, cfg botConfig, log *zap.Logger) (botStats, error) {
	if log == nil {
		log = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	b := &bot{conn: conn, cfg: cfg, log: log, rng: rand.New(rand.NewSource(seed)), stats: botStats{Codes: map[string]int{}}}

	welcome, err := b.hello()
	if err != nil {
		return b.stats, err
	}
	worlds := cfg.Worlds
	if len(worlds) == 0 {
		for _, id := range welcome.Ledgers {
			if id != cfg.Hub {
				worlds = append(worlds, id)
			}
		}
	}
	if len(worlds) == 0 {
		return b.stats, errors.New("no world ledgers to play on")
	}
	log.Info("connected", zap.String("session", welcome.SessionID), zap.Strings("worlds", worlds))

	players := make([]*botPlayer, cfg.Players)
	for i := range players {
		players[i] = &botPlayer{
			id:    fmt.Sprintf("%s-p%d", cfg.Name, i),
			home:  worlds[i%len(worlds)],
			level: 1,
		}
	}

	for round := 0; cfg.Rounds == 0 || round < cfg.Rounds; round++ {
		for _, p := range players {
			if err := ctx.Err(); err != nil {
				return b.stats, err
			}
			if err := b.play(p, worlds, round); err != nil {
				return b.stats, err
			}
		}
		if cfg.Pause > 0 {
			select {
			case <-ctx.Done():
				return b.stats, ctx.Err()
			case <-time.After(cfg.Pause):
			}
		}
	}
	return b.stats, nil
}

func (b *bot) hello() (protocol.WelcomeMsg, error) {
	if err := b.conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, ClientName: b.cfg.Name}); err != nil {
		return protocol.WelcomeMsg{}, fmt.Errorf("send HELLO: %w", err)
	}
	var w protocol.WelcomeMsg
	if err := b.conn.ReadJSON(&w); err != nil {
		return w, fmt.Errorf("read WELCOME: %w", err)
	}
	if w.Type != protocol.TypeWelcome {
		return w, fmt.Errorf("expected WELCOME, got %q", w.Type)
	}
	return w, nil
}

func (b *bot) play(p *botPlayer, worlds []string, round int) error {
	p.level++
	state := &protocol.PlayerState{
		Health:     100,
		MaxHealth:  100,
		Strength:   uint64(10 + b.rng.Intn(10)),
		Experience: p.level * 100,
		Level:      p.level,
	}
	ops := []protocol.Operation{
		{Type: protocol.OpSavePlayerState, PlayerID: p.id, State: state},
		{Type: protocol.OpSaveInventory, PlayerID: p.id, Inventory: `[{"slot":"main","item_id":"sword"}]`},
		{
			Type:             protocol.OpRecordBattle,
			PlayerID:         p.id,
			BattleID:         uuid.NewString(),
			Opponent:         fmt.Sprintf("npc-%d", b.rng.Intn(50)),
			Result:           uint8(b.rng.Intn(3)),
			DamageDealt:      uint64(b.rng.Intn(500)),
			DamageTaken:      uint64(b.rng.Intn(200)),
			ExperienceGained: 25,
		},
		{Type: protocol.OpReportAchievement, PlayerID: p.id, AchievementID: fmt.Sprintf("level-%d", p.level)},
	}
	for _, op := range ops {
		if _, err := b.do(p.home, op); err != nil {
			return err
		}
	}
	if len(worlds) < 2 {
		return nil
	}
	next := worlds[(indexOf(worlds, p.home)+1)%len(worlds)]
	res, err := b.do(p.home, protocol.Operation{
		Type:        protocol.OpTransferPlayer,
		PlayerID:    p.id,
		Destination: next,
		AuthToken:   uuid.NewString(),
		State:       state,
	})
	if err != nil {
		return err
	}
	if res.OK {
		b.stats.Transfers++
		b.log.Debug("transfer requested", zap.String("player", p.id), zap.String("from", p.home), zap.String("to", next), zap.String("transfer", res.TransferID), zap.Int("round", round))
		p.home = next
	}
	return nil
}

// do sends one OP and waits for its OP_RESULT. A failed operation is
// counted, not returned; only transport errors end the run.
func (b *bot) do(ledgerID string, op protocol.Operation) (protocol.OpResultMsg, error) {
	b.seq++
	op.Ref = fmt.Sprintf("r%d", b.seq)
	if err := b.conn.WriteJSON(protocol.OpMsg{Type: protocol.TypeOp, LedgerID: ledgerID, Op: op}); err != nil {
		return protocol.OpResultMsg{}, fmt.Errorf("send OP: %w", err)
	}
	var res protocol.OpResultMsg
	if err := b.conn.ReadJSON(&res); err != nil {
		return res, fmt.Errorf("read OP_RESULT: %w", err)
	}
	if res.Ref != op.Ref {
		return res, fmt.Errorf("result for %q while waiting on %q", res.Ref, op.Ref)
	}
	b.stats.Ops++
	if !res.OK {
		b.stats.Failed++
		b.stats.Codes[res.Code]++
		b.log.Warn("op failed", zap.String("ledger", ledgerID), zap.String("op", op.Type), zap.String("player", op.PlayerID), zap.String("code", res.Code), zap.String("message", res.Message))
	}
	return res, nil
}

func indexOf(ids []string, id string) int {
	for i, v := range ids {
		if v == id {
			return i
		}
	}
	return 0
}
