package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
	"worldchains.ai/internal/store"
)

type outbox struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	fail error
}

func (o *outbox) Send(_ context.Context, env protocol.Envelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail != nil {
		return o.fail
	}
	o.sent = append(o.sent, env)
	return nil
}

func (o *outbox) take() []protocol.Envelope {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := o.sent
	o.sent = nil
	return out
}

type fakeClock struct{ t time.Time }

func newClock() *fakeClock { return &fakeClock{t: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)} }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

// flakyStore fails Put for the namespaces listed in failPut.
type flakyStore struct {
	store.Store
	failPut map[string]bool
}

var errDiskFull = errors.New("disk full")

func (s *flakyStore) Put(ctx context.Context, ns, key string, v []byte) error {
	if s.failPut[ns] {
		return errDiskFull
	}
	return s.Store.Put(ctx, ns, key, v)
}

type testLedger struct {
	*Ledger
	out   *outbox
	clock *fakeClock
	st    store.Store
}

func newTestLedger(t testing.TB, id string, kind Kind, mutate ...func(*Config)) *testLedger {
	t.Helper()
	cfg := Config{
		ID:     id,
		Kind:   kind,
		Region: "eu",
		Transfer: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: time.Second,
			MaxInterval:     time.Minute,
			Multiplier:      2,
		},
	}
	for _, m := range mutate {
		m(&cfg)
	}
	tl := &testLedger{out: &outbox{}, clock: newClock(), st: store.NewMemory()}
	l, err := New(cfg, Options{Store: tl.st, Sender: tl.out, Now: tl.clock.Now})
	if err != nil {
		t.Fatalf("New(%s): %v", id, err)
	}
	if err := l.Init(context.Background()); err != nil {
		t.Fatalf("Init(%s): %v", id, err)
	}
	tl.Ledger = l
	return tl
}

func (tl *testLedger) exec(t testing.TB, op protocol.Operation) Result {
	t.Helper()
	res, err := tl.Execute(context.Background(), op)
	if err != nil {
		t.Fatalf("%s %s: %v", tl.ID(), op.Type, err)
	}
	return res
}

func (tl *testLedger) deliver(t testing.TB, env protocol.Envelope) Result {
	t.Helper()
	res, err := tl.Deliver(context.Background(), env)
	if err != nil {
		t.Fatalf("%s deliver %s: %v", tl.ID(), env.Kind, err)
	}
	return res
}

func mustEnvelope(t testing.TB, kind, from, to string, payload any) protocol.Envelope {
	t.Helper()
	env, err := protocol.NewEnvelope(kind, from, to, payload, time.Now())
	if err != nil {
		t.Fatalf("envelope: %v", err)
	}
	return env
}

const (
	twoItems = `[{"slot":"0","item_id":"sword","params":{"dmg":5}},{"slot":"1","item_id":"potion"}]`
	oneQuest = `[{"id":"q1","title":"Rats","text":"Clear the cellar","completed":false,"progress":1}]`
)

// seedPlayer stores p1-style state: health 80, level 2, two items, one quest.
func seedPlayer(t testing.TB, tl *testLedger, playerID string) {
	t.Helper()
	tl.exec(t, protocol.Operation{Type: protocol.OpSavePlayerState, PlayerID: playerID, State: &PlayerState{Health: 80, MaxHealth: 100, Level: 2, Strength: 7}})
	tl.exec(t, protocol.Operation{Type: protocol.OpSaveInventory, PlayerID: playerID, Inventory: twoItems})
	tl.exec(t, protocol.Operation{Type: protocol.OpSaveQuests, PlayerID: playerID, Quests: oneQuest})
}
