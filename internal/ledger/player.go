package ledger

import (
	"context"
	"fmt"

	json "github.com/goccy/go-json"

	"worldchains.ai/internal/protocol"
)

func (l *Ledger) savePlayerState(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if op.PlayerID == "" {
		return Result{}, badRequest("player_id required")
	}
	if op.State == nil {
		return Result{}, badRequest("player_state required")
	}
	if err := l.put(ctx, NSPlayers, op.PlayerID, *op.State); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

func (l *Ledger) saveInventory(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if op.PlayerID == "" {
		return Result{}, badRequest("player_id required")
	}
	inv, err := DecodeInventory(op.Inventory)
	if err != nil {
		return Result{}, err
	}
	if err := l.put(ctx, NSInventories, op.PlayerID, inv); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

func (l *Ledger) saveQuests(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if op.PlayerID == "" {
		return Result{}, badRequest("player_id required")
	}
	quests, err := DecodeQuests(op.Quests)
	if err != nil {
		return Result{}, err
	}
	if err := l.put(ctx, NSQuests, op.PlayerID, quests); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied}, nil
}

// DecodeInventory validates and parses a JSON item array.
func DecodeInventory(raw string) (Inventory, error) {
	if err := protocol.ValidateJSON(protocol.SchemaInventory, []byte(raw)); err != nil {
		return Inventory{}, &DecodeError{Field: "inventory", Cause: err}
	}
	var items []InventoryItem
	if err := json.Unmarshal([]byte(raw), &items); err != nil {
		return Inventory{}, &DecodeError{Field: "inventory", Cause: err}
	}
	if items == nil {
		items = []InventoryItem{}
	}
	return Inventory{Items: items}, nil
}

// DecodeQuests validates and parses a JSON quest array.
func DecodeQuests(raw string) ([]Quest, error) {
	if err := protocol.ValidateJSON(protocol.SchemaQuests, []byte(raw)); err != nil {
		return nil, &DecodeError{Field: "quests", Cause: err}
	}
	var quests []Quest
	if err := json.Unmarshal([]byte(raw), &quests); err != nil {
		return nil, &DecodeError{Field: "quests", Cause: err}
	}
	if quests == nil {
		quests = []Quest{}
	}
	return quests, nil
}

// playerSnapshot is the authoritative state a transfer carries.
type playerSnapshot struct {
	State     PlayerState
	Inventory string
	Quests    string
}

// readSnapshot loads the player from the store. A missing inventory or
// quest log travels as an empty array.
func (l *Ledger) readSnapshot(ctx context.Context, playerID string) (playerSnapshot, error) {
	var snap playerSnapshot
	ok, err := l.get(ctx, NSPlayers, playerID, &snap.State)
	if err != nil {
		return playerSnapshot{}, err
	}
	if !ok {
		return playerSnapshot{}, fmt.Errorf("%w: player %s", ErrNotFound, playerID)
	}

	inv := Inventory{Items: []InventoryItem{}}
	if _, err := l.get(ctx, NSInventories, playerID, &inv); err != nil {
		return playerSnapshot{}, err
	}
	if inv.Items == nil {
		inv.Items = []InventoryItem{}
	}
	b, err := json.Marshal(inv.Items)
	if err != nil {
		return playerSnapshot{}, err
	}
	snap.Inventory = string(b)

	quests := []Quest{}
	if _, err := l.get(ctx, NSQuests, playerID, &quests); err != nil {
		return playerSnapshot{}, err
	}
	if quests == nil {
		quests = []Quest{}
	}
	b, err = json.Marshal(quests)
	if err != nil {
		return playerSnapshot{}, err
	}
	snap.Quests = string(b)
	return snap, nil
}
