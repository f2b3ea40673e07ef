package channel

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
)

func env(t *testing.T, from, to string, n int) protocol.Envelope {
	t.Helper()
	e, err := protocol.NewEnvelope(protocol.KindBattleResult, from, to, protocol.BattleResultMsg{BattleID: string(rune('a' + n)), PlayerID: "p"}, time.Now())
	require.NoError(t, err)
	return e
}

type collector struct {
	mu   sync.Mutex
	got  []protocol.Envelope
	fail int
}

func (c *collector) handle(_ context.Context, e protocol.Envelope) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail > 0 {
		c.fail--
		return errors.New("transient")
	}
	c.got = append(c.got, e)
	return nil
}

func (c *collector) snapshot() []protocol.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Envelope(nil), c.got...)
}

func fastBus() *Bus {
	return NewBus(BusOptions{Capacity: 8, Redelivery: retry.Policy{InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond, Multiplier: 2}})
}

func consume(t *testing.T, b *Bus, to string, c *collector) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = b.Consume(ctx, to, c.handle) }()
}

func TestBus_FIFOAndSettle(t *testing.T) {
	b := fastBus()
	ctx := context.Background()
	var sent []protocol.Envelope
	for i := 0; i < 5; i++ {
		e := env(t, "A", "B", i)
		sent = append(sent, e)
		require.NoError(t, b.Send(ctx, e))
	}
	c := &collector{}
	consume(t, b, "B", c)

	require.Eventually(t, func() bool { return len(c.snapshot()) == 5 }, 2*time.Second, time.Millisecond)
	got := c.snapshot()
	for i := range sent {
		require.Equal(t, sent[i].ID, got[i].ID)
	}
	require.Equal(t, 0, b.Pending("B"))
}

func TestBus_RedeliversOnHandlerError(t *testing.T) {
	b := fastBus()
	c := &collector{fail: 3}
	consume(t, b, "B", c)
	e := env(t, "A", "B", 0)
	require.NoError(t, b.Send(context.Background(), e))

	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	require.Equal(t, e.ID, c.snapshot()[0].ID)
}

func TestBus_DuplicateInjectsRedelivery(t *testing.T) {
	b := fastBus()
	require.False(t, b.Duplicate("B"))
	c := &collector{}
	consume(t, b, "B", c)
	e := env(t, "A", "B", 0)
	require.NoError(t, b.Send(context.Background(), e))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, time.Millisecond)

	require.True(t, b.Duplicate("B"))
	require.Eventually(t, func() bool { return len(c.snapshot()) == 2 }, 2*time.Second, time.Millisecond)
	got := c.snapshot()
	require.Equal(t, got[0].ID, got[1].ID)
}

func TestBus_PauseResume(t *testing.T) {
	b := fastBus()
	b.Pause("B")
	c := &collector{}
	consume(t, b, "B", c)
	require.NoError(t, b.Send(context.Background(), env(t, "A", "B", 0)))
	time.Sleep(20 * time.Millisecond)
	require.Empty(t, c.snapshot())
	require.Equal(t, 1, b.Pending("B"))

	b.Resume("B")
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
}

func TestBus_RefuseCapacityClose(t *testing.T) {
	b := fastBus()
	ctx := context.Background()
	down := errors.New("link down")
	b.Refuse("B", down)
	require.ErrorIs(t, b.Send(ctx, env(t, "A", "B", 0)), down)
	b.Refuse("B", nil)

	for i := 0; i < 8; i++ {
		require.NoError(t, b.Send(ctx, env(t, "A", "B", i)))
	}
	require.ErrorIs(t, b.Send(ctx, env(t, "A", "B", 9)), ErrQueueFull)

	require.NoError(t, b.Close())
	require.ErrorIs(t, b.Send(ctx, env(t, "A", "C", 0)), ErrClosed)
	require.ErrorIs(t, b.Consume(ctx, "B", (&collector{}).handle), ErrClosed)
}

func TestBus_SingleConsumerPerDestination(t *testing.T) {
	b := fastBus()
	c := &collector{}
	consume(t, b, "B", c)
	require.Eventually(t, func() bool {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		defer cancel()
		return errors.Is(b.Consume(ctx, "B", c.handle), ErrConsumerTaken)
	}, time.Second, time.Millisecond)
}

type countingObserver struct {
	mu           sync.Mutex
	depth        map[string]int
	redeliveries int
}

func (o *countingObserver) SetQueueDepth(id string, n int) {
	o.mu.Lock()
	o.depth[id] = n
	o.mu.Unlock()
}

func (o *countingObserver) Redelivered(string) {
	o.mu.Lock()
	o.redeliveries++
	o.mu.Unlock()
}

func TestBus_Observer(t *testing.T) {
	obs := &countingObserver{depth: map[string]int{}}
	b := NewBus(BusOptions{Observer: obs, Redelivery: retry.Policy{InitialInterval: time.Millisecond, MaxInterval: time.Millisecond, Multiplier: 2}})
	require.NoError(t, b.Send(context.Background(), env(t, "A", "B", 0)))
	obs.mu.Lock()
	require.Equal(t, 1, obs.depth["B"])
	obs.mu.Unlock()

	c := &collector{fail: 1}
	consume(t, b, "B", c)
	require.Eventually(t, func() bool { return len(c.snapshot()) == 1 }, 2*time.Second, time.Millisecond)
	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Equal(t, 1, obs.redeliveries)
	require.Equal(t, 0, obs.depth["B"])
}
