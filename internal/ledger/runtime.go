package ledger

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"worldchains.ai/internal/persistence/snapshot"
	"worldchains.ai/internal/protocol"
)

type RuntimeOptions struct {
	// SweepEvery is the pending-transfer sweep period. 0 disables it.
	SweepEvery time.Duration
	// SnapshotEvery emits a snapshot to SnapshotSink every N blocks.
	SnapshotEvery uint64
	SnapshotSink  chan<- snapshot.LedgerV1
	QueueSize     int
}

// Runtime owns a Ledger and runs every call against it on one goroutine.
type Runtime struct {
	l    *Ledger
	opts RuntimeOptions

	ops     chan opReq
	inbox   chan deliverReq
	queries chan queryReq

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	lastSnapshot uint64
}

type opReq struct {
	Op   protocol.Operation
	Resp chan runResp
}

type deliverReq struct {
	Env  protocol.Envelope
	Resp chan runResp
}

type runResp struct {
	Res Result
	Err error
}

type queryReq struct {
	Fn   func(context.Context, *Ledger) error
	Resp chan error
}

func NewRuntime(l *Ledger, opts RuntimeOptions) *Runtime {
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	return &Runtime{
		l:            l,
		opts:         opts,
		ops:          make(chan opReq, opts.QueueSize),
		inbox:        make(chan deliverReq, opts.QueueSize),
		queries:      make(chan queryReq, opts.QueueSize),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
		lastSnapshot: l.Height(),
	}
}

func (r *Runtime) ID() string { return r.l.ID() }

func (r *Runtime) Kind() Kind { return r.l.Kind() }

func (r *Runtime) Run(ctx context.Context) error {
	defer close(r.done)

	var sweep <-chan time.Time
	if r.opts.SweepEvery > 0 {
		t := time.NewTicker(r.opts.SweepEvery)
		defer t.Stop()
		sweep = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.stop:
			return nil
		case req := <-r.ops:
			res, err := r.l.Execute(ctx, req.Op)
			req.Resp <- runResp{Res: res, Err: err}
			r.maybeSnapshot(ctx)
		case req := <-r.inbox:
			res, err := r.l.Deliver(ctx, req.Env)
			req.Resp <- runResp{Res: res, Err: err}
			r.maybeSnapshot(ctx)
		case req := <-r.queries:
			req.Resp <- req.Fn(ctx, r.l)
		case <-sweep:
			if _, err := r.l.SweepPendingTransfers(ctx); err != nil {
				r.l.log.Warn("sweep pending transfers", zap.Error(err))
			}
			r.maybeSnapshot(ctx)
		}
	}
}

func (r *Runtime) Stop() { r.stopOnce.Do(func() { close(r.stop) }) }

// Done is closed once Run has returned.
func (r *Runtime) Done() <-chan struct{} { return r.done }

func (r *Runtime) Execute(ctx context.Context, op protocol.Operation) (Result, error) {
	req := opReq{Op: op, Resp: make(chan runResp, 1)}
	select {
	case r.ops <- req:
	case <-r.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	return r.await(ctx, req.Resp)
}

func (r *Runtime) Deliver(ctx context.Context, env protocol.Envelope) (Result, error) {
	req := deliverReq{Env: env, Resp: make(chan runResp, 1)}
	select {
	case r.inbox <- req:
	case <-r.done:
		return Result{}, ErrStopped
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	return r.await(ctx, req.Resp)
}

func (r *Runtime) await(ctx context.Context, resp chan runResp) (Result, error) {
	select {
	case out := <-resp:
		return out.Res, out.Err
	case <-r.done:
		// Run may have answered just before exiting.
		select {
		case out := <-resp:
			return out.Res, out.Err
		default:
			return Result{}, ErrStopped
		}
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Query runs fn on the ledger goroutine. fn must not retain the ledger.
func (r *Runtime) Query(ctx context.Context, fn func(context.Context, *Ledger) error) error {
	req := queryReq{Fn: fn, Resp: make(chan error, 1)}
	select {
	case r.queries <- req:
	case <-r.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.Resp:
		return err
	case <-r.done:
		select {
		case err := <-req.Resp:
			return err
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Snapshot exports the ledger from inside the loop.
func (r *Runtime) Snapshot(ctx context.Context) (snapshot.LedgerV1, error) {
	var snap snapshot.LedgerV1
	err := r.Query(ctx, func(ctx context.Context, l *Ledger) error {
		var err error
		snap, err = l.Export(ctx)
		return err
	})
	return snap, err
}

func (r *Runtime) maybeSnapshot(ctx context.Context) {
	if r.opts.SnapshotEvery == 0 || r.opts.SnapshotSink == nil {
		return
	}
	h := r.l.Height()
	if h < r.lastSnapshot+r.opts.SnapshotEvery {
		return
	}
	snap, err := r.l.Export(ctx)
	if err != nil {
		r.l.log.Warn("snapshot export", zap.Error(err))
		return
	}
	select {
	case r.opts.SnapshotSink <- snap:
		r.lastSnapshot = h
	default:
		// Writer busy; retried on the next block.
	}
}
