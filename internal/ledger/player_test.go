package ledger

import (
	"context"
	"errors"
	"testing"

	"worldchains.ai/internal/protocol"
)

func TestSaveInventory_DecodeFailureKeepsPrevious(t *testing.T) {
	ctx := context.Background()
	w := newTestLedger(t, "W", KindWorld)
	w.exec(t, protocol.Operation{Type: protocol.OpSaveInventory, PlayerID: "p1", Inventory: twoItems})

	for _, bad := range []string{`{"slot":`, `not json`, `[{"slot":"0"}]`, ``} {
		_, err := w.Execute(ctx, protocol.Operation{Type: protocol.OpSaveInventory, PlayerID: "p1", Inventory: bad})
		var de *DecodeError
		if !errors.As(err, &de) || de.Field != "inventory" {
			t.Fatalf("%q: expected inventory DecodeError, got %v", bad, err)
		}
		if Code(err) != protocol.ErrDecode {
			t.Fatalf("expected E_DECODE, got %s", Code(err))
		}
	}
	inv, ok, err := w.Inventory(ctx, "p1")
	if err != nil || !ok || len(inv.Items) != 2 || inv.Items[0].ItemID != "sword" {
		t.Fatalf("previous inventory must be unchanged: ok=%v err=%v %+v", ok, err, inv)
	}
}

func TestSaveQuests_ReplacesWholesale(t *testing.T) {
	ctx := context.Background()
	w := newTestLedger(t, "W", KindWorld)
	w.exec(t, protocol.Operation{Type: protocol.OpSaveQuests, PlayerID: "p1", Quests: oneQuest})
	w.exec(t, protocol.Operation{Type: protocol.OpSaveQuests, PlayerID: "p1", Quests: `[{"id":"q2","title":"b","text":"c","completed":true,"progress":10}]`})
	q, _, _ := w.Quests(ctx, "p1")
	if len(q) != 1 || q[0].ID != "q2" || !q[0].Completed || q[0].Progress != 10 {
		t.Fatalf("unexpected quests %+v", q)
	}

	_, err := w.Execute(ctx, protocol.Operation{Type: protocol.OpSaveQuests, PlayerID: "p1", Quests: `[{"id":"q3"}]`})
	var de *DecodeError
	if !errors.As(err, &de) || de.Field != "quests" {
		t.Fatalf("expected quests DecodeError, got %v", err)
	}
}

func TestSavePlayerState_Validation(t *testing.T) {
	ctx := context.Background()
	w := newTestLedger(t, "W", KindWorld)
	if _, err := w.Execute(ctx, protocol.Operation{Type: protocol.OpSavePlayerState, PlayerID: "p1"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("missing state: %v", err)
	}
	if _, err := w.Execute(ctx, protocol.Operation{Type: "NOPE"}); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("unknown op: %v", err)
	}
	hub := newTestLedger(t, "H", KindHub)
	_, err := hub.Execute(ctx, protocol.Operation{Type: protocol.OpSavePlayerState, PlayerID: "p1", State: &PlayerState{}})
	if !errors.Is(err, ErrWrongRole) || Code(err) != protocol.ErrWrongRole {
		t.Fatalf("expected wrong role, got %v", err)
	}
}

func TestStoreFailureSurfacesAndLedgerRecovers(t *testing.T) {
	ctx := context.Background()
	fs := &flakyStore{Store: newTestLedger(t, "tmp", KindWorld).st, failPut: map[string]bool{NSPlayers: true}}
	l, err := New(Config{ID: "W", Kind: KindWorld}, Options{Store: fs})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	op := protocol.Operation{Type: protocol.OpSavePlayerState, PlayerID: "p1", State: &PlayerState{Health: 5}}
	_, err = l.Execute(ctx, op)
	var se *StoreError
	if !errors.As(err, &se) || se.Namespace != NSPlayers || se.Key != "p1" || se.Op != "put" {
		t.Fatalf("expected StoreError on players/p1, got %v", err)
	}
	if !errors.Is(err, errDiskFull) || Code(err) != protocol.ErrStore || !Transient(err) {
		t.Fatalf("StoreError should wrap the cause and be transient: %v", err)
	}

	fs.failPut = nil
	res, err := l.Execute(ctx, op)
	if err != nil || res.Outcome != OutcomeApplied {
		t.Fatalf("ledger should be usable after a store failure: %+v %v", res, err)
	}
	if res.Height != 2 {
		t.Fatalf("failed entries still take a height, got %d", res.Height)
	}
}

func TestInit_RejectsKindMismatch(t *testing.T) {
	ctx := context.Background()
	w := newTestLedger(t, "X", KindWorld)
	w.exec(t, protocol.Operation{Type: protocol.OpSavePlayerState, PlayerID: "p1", State: &PlayerState{}})

	h, err := New(Config{ID: "X", Kind: KindHub}, Options{Store: w.st})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := h.Init(ctx); err == nil {
		t.Fatalf("expected kind mismatch error")
	}

	again, _ := New(Config{ID: "X", Kind: KindWorld}, Options{Store: w.st})
	if err := again.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if again.Height() != 1 {
		t.Fatalf("height should be restored from the store, got %d", again.Height())
	}
}

func TestNew_Validation(t *testing.T) {
	st := newTestLedger(t, "tmp", KindWorld).st
	cases := []Config{
		{Kind: KindWorld},
		{ID: "A", Kind: "moon"},
		{ID: "A", Kind: KindHub, MaxAchievements: -1},
	}
	for _, c := range cases {
		if _, err := New(c, Options{Store: st}); err == nil {
			t.Fatalf("expected error for %+v", c)
		}
	}
	if _, err := New(Config{ID: "A", Kind: KindWorld}, Options{}); err == nil {
		t.Fatalf("expected error without store")
	}
}

func TestCode(t *testing.T) {
	cases := map[string]error{
		protocol.ErrDecode:     &DecodeError{Field: "x", Cause: errors.New("bad")},
		protocol.ErrStore:      &StoreError{Op: "get", Namespace: "n", Cause: errors.New("io")},
		protocol.ErrChannel:    &SendError{To: "B", Kind: "K", Cause: errors.New("down")},
		protocol.ErrConflict:   &ConflictError{Kind: "battle", Key: "b1"},
		protocol.ErrBadRequest: badRequest("x"),
		protocol.ErrNotFound:   ErrNotFound,
		protocol.ErrWrongRole:  ErrWrongRole,
		protocol.ErrLimit:      ErrLimit,
		protocol.ErrInternal:   errors.New("boom"),
	}
	for want, err := range cases {
		if got := Code(err); got != want {
			t.Fatalf("Code(%v) = %s, want %s", err, got, want)
		}
		if !protocol.IsKnownCode(Code(err)) {
			t.Fatalf("unknown code for %v", err)
		}
	}
	if Code(nil) != "" {
		t.Fatalf("nil error has no code")
	}
}
