package channel

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
)

type BusOptions struct {
	// Capacity bounds each destination queue. 0 means 4096.
	Capacity int
	// Redelivery spaces out attempts after a handler error. MaxAttempts
	// is ignored; delivery is retried until it succeeds.
	Redelivery retry.Policy
	Observer   Observer
	Logger     *zap.Logger
}

// Bus is the in-process Channel. Each destination has one queue, so
// order holds per destination and therefore per (from, to) pair. An
// envelope leaves its queue only after the handler accepted it.
type Bus struct {
	opts BusOptions
	log  *zap.Logger

	mu     sync.Mutex
	queues map[string]*busQueue
	closed bool
}

type busQueue struct {
	items    []protocol.Envelope
	last     *protocol.Envelope
	paused   bool
	refuse   error
	consumer bool
	wake     chan struct{}
}

func NewBus(opts BusOptions) *Bus {
	if opts.Capacity <= 0 {
		opts.Capacity = 4096
	}
	if opts.Redelivery.InitialInterval <= 0 {
		opts.Redelivery = retry.Policy{
			InitialInterval: 50 * time.Millisecond,
			MaxInterval:     5 * time.Second,
			Multiplier:      2,
		}
	}
	if opts.Redelivery.Multiplier < 1 {
		opts.Redelivery.Multiplier = 2
	}
	if opts.Redelivery.MaxInterval < opts.Redelivery.InitialInterval {
		opts.Redelivery.MaxInterval = opts.Redelivery.InitialInterval
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{opts: opts, log: log, queues: map[string]*busQueue{}}
}

func (b *Bus) queueLocked(to string) *busQueue {
	q := b.queues[to]
	if q == nil {
		q = &busQueue{wake: make(chan struct{}, 1)}
		b.queues[to] = q
	}
	return q
}

func (q *busQueue) notify() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (b *Bus) Send(_ context.Context, env protocol.Envelope) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	q := b.queueLocked(env.To)
	if q.refuse != nil {
		return q.refuse
	}
	if len(q.items) >= b.opts.Capacity {
		return ErrQueueFull
	}
	q.items = append(q.items, env)
	b.observeLocked(env.To, q)
	q.notify()
	return nil
}

func (b *Bus) observeLocked(to string, q *busQueue) {
	if b.opts.Observer != nil {
		b.opts.Observer.SetQueueDepth(to, len(q.items))
	}
}

// head returns the next deliverable envelope for ledgerID, if any, and
// the channel to wait on otherwise.
func (b *Bus) head(ledgerID string) (protocol.Envelope, bool, <-chan struct{}, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return protocol.Envelope{}, false, nil, ErrClosed
	}
	q := b.queueLocked(ledgerID)
	if q.paused || len(q.items) == 0 {
		return protocol.Envelope{}, false, q.wake, nil
	}
	return q.items[0], true, nil, nil
}

func (b *Bus) settle(ledgerID string, env protocol.Envelope) {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(ledgerID)
	if len(q.items) > 0 && q.items[0].ID == env.ID {
		q.items[0] = protocol.Envelope{}
		q.items = q.items[1:]
	}
	last := env
	q.last = &last
	b.observeLocked(ledgerID, q)
}

func (b *Bus) Consume(ctx context.Context, ledgerID string, h Handler) error {
	b.mu.Lock()
	q := b.queueLocked(ledgerID)
	if q.consumer {
		b.mu.Unlock()
		return ErrConsumerTaken
	}
	q.consumer = true
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		q.consumer = false
		b.mu.Unlock()
	}()

	failures := 0
	for {
		env, ok, wait, err := b.head(ledgerID)
		if err != nil {
			return err
		}
		if !ok {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-wait:
			}
			continue
		}

		if err := h(ctx, env); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			if b.opts.Observer != nil {
				b.opts.Observer.Redelivered(ledgerID)
			}
			b.log.Warn("delivery failed, will redeliver",
				zap.String("to", ledgerID),
				zap.String("kind", env.Kind),
				zap.String("id", env.ID),
				zap.Int("failures", failures),
				zap.Error(err))
			t := time.NewTimer(retry.Backoff(failures, b.opts.Redelivery))
			select {
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			case <-t.C:
			}
			continue
		}
		failures = 0
		b.settle(ledgerID, env)
	}
}

// Duplicate queues the last settled envelope for ledgerID again,
// simulating a redelivery. It reports false when nothing was settled yet.
func (b *Bus) Duplicate(ledgerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	q := b.queueLocked(ledgerID)
	if q.last == nil {
		return false
	}
	q.items = append(q.items, *q.last)
	b.observeLocked(ledgerID, q)
	q.notify()
	return true
}

// Pause holds delivery to ledgerID; Send keeps queueing.
func (b *Bus) Pause(ledgerID string) {
	b.mu.Lock()
	b.queueLocked(ledgerID).paused = true
	b.mu.Unlock()
}

func (b *Bus) Resume(ledgerID string) {
	b.mu.Lock()
	q := b.queueLocked(ledgerID)
	q.paused = false
	q.notify()
	b.mu.Unlock()
}

// Refuse makes Send to ledgerID fail with err. A nil err clears it.
func (b *Bus) Refuse(ledgerID string, err error) {
	b.mu.Lock()
	b.queueLocked(ledgerID).refuse = err
	b.mu.Unlock()
}

// Pending is the number of unsettled envelopes for ledgerID.
func (b *Bus) Pending(ledgerID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queueLocked(ledgerID).items)
}

func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, q := range b.queues {
		q.notify()
	}
	return nil
}
