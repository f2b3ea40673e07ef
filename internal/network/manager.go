// Package network runs a set of ledgers as one process: it builds their
// runtimes from a Config, pumps envelopes from the message channel into
// them and tracks which ledger each player currently lives on.
package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"worldchains.ai/internal/channel"
	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/persistence/snapshot"
	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/store"
)

const stateVersion = 1

var ErrUnknownLedger = errors.New("unknown ledger")

// ResidencyObserver is told the size of the residency map after each change.
type ResidencyObserver interface {
	SetResidents(n int)
}

type Deps struct {
	Channel   channel.Channel
	OpenStore func(ctx context.Context, spec LedgerSpec) (store.Store, error)
	// Blocks returns the block logger of a ledger. Optional; a returned
	// io.Closer is closed with the manager.
	Blocks func(spec LedgerSpec) (ledger.BlockLogger, error)
	// Restore returns the snapshot a freshly created ledger starts from.
	Restore      func(spec LedgerSpec) (snapshot.LedgerV1, bool, error)
	SnapshotSink chan<- snapshot.LedgerV1
	Logger       *zap.Logger
	Now          func() time.Time

	// StateFile persists the residency map. Empty keeps it in memory.
	StateFile       string
	PersistDebounce time.Duration
	Residents       ResidencyObserver
}

type persistedState struct {
	Version        int               `json:"version"`
	PlayerToLedger map[string]string `json:"player_to_ledger"`
}

type Manager struct {
	cfg  Config
	ch   channel.Channel
	log  *zap.Logger
	deps Deps

	runtimes map[string]*ledger.Runtime
	closers  []io.Closer

	mu             sync.RWMutex
	playerToLedger map[string]string
	started        bool

	stateFile       string
	persistDebounce time.Duration
	persistCh       chan struct{}
	persistFlush    chan chan struct{}
	persistStop     chan struct{}
	persistWG       sync.WaitGroup
	closeOnce       sync.Once
	closeErr        error
}

func NewManager(ctx context.Context, cfg Config, deps Deps) (*Manager, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Channel == nil {
		return nil, fmt.Errorf("network: channel required")
	}
	if deps.OpenStore == nil {
		deps.OpenStore = func(context.Context, LedgerSpec) (store.Store, error) { return store.NewMemory(), nil }
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		cfg:             cfg,
		ch:              deps.Channel,
		log:             log,
		deps:            deps,
		runtimes:        map[string]*ledger.Runtime{},
		playerToLedger:  map[string]string{},
		stateFile:       deps.StateFile,
		persistDebounce: deps.PersistDebounce,
	}
	if m.persistDebounce <= 0 {
		m.persistDebounce = 250 * time.Millisecond
	}
	for _, spec := range cfg.Ledgers {
		rt, err := m.openLedger(ctx, spec)
		if err != nil {
			_ = m.closeAll()
			return nil, fmt.Errorf("ledger %s: %w", spec.ID, err)
		}
		m.runtimes[spec.ID] = rt
	}
	m.loadState()
	m.observeResidents()
	if m.stateFile != "" {
		m.persistCh = make(chan struct{}, 1)
		m.persistFlush = make(chan chan struct{})
		m.persistStop = make(chan struct{})
		m.persistWG.Add(1)
		go m.persistLoop()
	}
	return m, nil
}

func (m *Manager) openLedger(ctx context.Context, spec LedgerSpec) (*ledger.Runtime, error) {
	st, err := m.deps.OpenStore(ctx, spec)
	if err != nil {
		return nil, err
	}
	m.closers = append(m.closers, st)
	var blocks ledger.BlockLogger
	if m.deps.Blocks != nil {
		if blocks, err = m.deps.Blocks(spec); err != nil {
			return nil, err
		}
		if c, ok := blocks.(io.Closer); ok {
			m.closers = append(m.closers, c)
		}
	}
	l, err := ledger.New(m.cfg.LedgerConfig(spec), ledger.Options{
		Store:  st,
		Sender: m.ch,
		Logger: m.log,
		Blocks: blocks,
		Now:    m.deps.Now,
	})
	if err != nil {
		return nil, err
	}
	if err := l.Init(ctx); err != nil {
		return nil, err
	}
	if m.deps.Restore != nil && l.Height() == 0 {
		snap, ok, err := m.deps.Restore(spec)
		if err != nil {
			return nil, fmt.Errorf("restore: %w", err)
		}
		if ok {
			if err := l.Restore(ctx, snap); err != nil {
				return nil, fmt.Errorf("restore: %w", err)
			}
			m.log.Info("restored ledger from snapshot", zap.String("ledger", spec.ID), zap.Uint64("height", l.Height()))
		}
	}
	return ledger.NewRuntime(l, ledger.RuntimeOptions{
		SweepEvery:    m.cfg.SweepEvery,
		SnapshotEvery: m.cfg.SnapshotEveryBlocks,
		SnapshotSink:  m.deps.SnapshotSink,
	}), nil
}

func (m *Manager) Config() Config { return m.cfg }

func (m *Manager) LedgerIDs() []string { return m.cfg.IDs() }

func (m *Manager) Runtime(id string) *ledger.Runtime { return m.runtimes[id] }

// Run drives every ledger loop and one channel consumer per ledger until
// ctx ends or one of them fails.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("network: already running")
	}
	m.started = true
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for id, rt := range m.runtimes {
		id, rt := id, rt
		g.Go(func() error {
			if err := rt.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ledger %s: %w", id, err)
			}
			return nil
		})
		g.Go(func() error {
			if err := m.ch.Consume(gctx, id, m.handler(id, rt)); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, channel.ErrClosed) {
				return fmt.Errorf("consume %s: %w", id, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// handler applies one envelope to rt. Only transient failures are handed
// back to the channel for redelivery; anything else is logged and settled.
func (m *Manager) handler(id string, rt *ledger.Runtime) channel.Handler {
	return func(ctx context.Context, env protocol.Envelope) error {
		res, err := rt.Deliver(ctx, env)
		if err != nil {
			fields := []zap.Field{
				zap.String("ledger", id),
				zap.String("kind", env.Kind),
				zap.String("from", env.From),
				zap.String("envelope", env.ID),
				zap.String("code", ledger.Code(err)),
				zap.Error(err),
			}
			if ledger.Transient(err) {
				m.log.Warn("delivery failed, will redeliver", fields...)
				return err
			}
			m.log.Warn("message rejected", fields...)
			return nil
		}
		if env.Kind == protocol.KindPlayerTransfer && res.Outcome == ledger.OutcomeApplied {
			var msg protocol.PlayerTransferMsg
			if err := env.DecodePayload(&msg); err == nil {
				m.setResidency(msg.PlayerID, id)
			}
		}
		return nil
	}
}

func (m *Manager) Execute(ctx context.Context, ledgerID string, op protocol.Operation) (ledger.Result, error) {
	rt := m.runtimes[ledgerID]
	if rt == nil {
		return ledger.Result{}, fmt.Errorf("%w: %s", ErrUnknownLedger, ledgerID)
	}
	res, err := rt.Execute(ctx, op)
	if err != nil {
		return res, err
	}
	if op.Type == protocol.OpSavePlayerState && op.PlayerID != "" {
		m.mu.RLock()
		_, known := m.playerToLedger[op.PlayerID]
		m.mu.RUnlock()
		if !known {
			m.setResidency(op.PlayerID, ledgerID)
		}
	}
	return res, nil
}

func (m *Manager) Query(ctx context.Context, ledgerID string, fn func(context.Context, *ledger.Ledger) error) error {
	rt := m.runtimes[ledgerID]
	if rt == nil {
		return fmt.Errorf("%w: %s", ErrUnknownLedger, ledgerID)
	}
	return rt.Query(ctx, fn)
}

// PlayerLedger reports the ledger a player was last installed on.
func (m *Manager) PlayerLedger(playerID string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.playerToLedger[playerID]
	return id, ok
}

func (m *Manager) setResidency(playerID, ledgerID string) {
	if playerID == "" || ledgerID == "" {
		return
	}
	m.mu.Lock()
	if m.playerToLedger[playerID] == ledgerID {
		m.mu.Unlock()
		return
	}
	m.playerToLedger[playerID] = ledgerID
	m.schedulePersistLocked()
	m.mu.Unlock()
	m.observeResidents()
}

func (m *Manager) observeResidents() {
	if m.deps.Residents == nil {
		return
	}
	m.mu.RLock()
	n := len(m.playerToLedger)
	m.mu.RUnlock()
	m.deps.Residents.SetResidents(n)
}

// Close stops the ledger loops, flushes residency and closes stores and
// block logs. The caller cancels Run's context first.
func (m *Manager) Close() error {
	m.closeOnce.Do(func() {
		m.mu.RLock()
		started := m.started
		m.mu.RUnlock()
		for _, rt := range m.runtimes {
			rt.Stop()
			if started {
				<-rt.Done()
			}
		}
		if m.persistStop != nil {
			close(m.persistStop)
		}
		m.persistWG.Wait()
		m.closeErr = m.closeAll()
	})
	return m.closeErr
}

func (m *Manager) closeAll() error {
	var errs []error
	for _, c := range m.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	m.closers = nil
	return errors.Join(errs...)
}

func (m *Manager) loadState() {
	if m.stateFile == "" {
		return
	}
	b, err := os.ReadFile(m.stateFile)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			m.log.Warn("read residency state", zap.String("path", m.stateFile), zap.Error(err))
		}
		return
	}
	var st persistedState
	if err := json.Unmarshal(b, &st); err != nil {
		m.log.Warn("decode residency state", zap.String("path", m.stateFile), zap.Error(err))
		return
	}
	for player, id := range st.PlayerToLedger {
		if player == "" || m.runtimes[id] == nil {
			continue
		}
		m.playerToLedger[player] = id
	}
}

func (m *Manager) schedulePersistLocked() {
	if m.stateFile == "" || m.persistCh == nil {
		return
	}
	select {
	case m.persistCh <- struct{}{}:
	default:
	}
}

func (m *Manager) persistLoop() {
	defer m.persistWG.Done()
	var timer *time.Timer
	stopTimer := func() {
		if timer == nil {
			return
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer = nil
	}
	for {
		var timerCh <-chan time.Time
		if timer != nil {
			timerCh = timer.C
		}
		select {
		case <-m.persistStop:
			stopTimer()
			m.persistNow()
			return
		case <-m.persistCh:
			stopTimer()
			timer = time.NewTimer(m.persistDebounce)
		case ack := <-m.persistFlush:
			stopTimer()
			m.persistNow()
			close(ack)
		case <-timerCh:
			timer = nil
			m.persistNow()
		}
	}
}

// FlushState writes the residency map now.
func (m *Manager) FlushState(ctx context.Context) error {
	if m.stateFile == "" || m.persistFlush == nil {
		return nil
	}
	ack := make(chan struct{})
	select {
	case m.persistFlush <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) persistNow() {
	m.mu.RLock()
	st := persistedState{Version: stateVersion, PlayerToLedger: make(map[string]string, len(m.playerToLedger))}
	for k, v := range m.playerToLedger {
		st.PlayerToLedger[k] = v
	}
	m.mu.RUnlock()

	b, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		m.log.Error("encode residency state", zap.Error(err))
		return
	}
	if err := os.MkdirAll(filepath.Dir(m.stateFile), 0o755); err != nil {
		m.log.Error("write residency state", zap.Error(err))
		return
	}
	tmp := m.stateFile + ".tmp"
	if err := os.WriteFile(tmp, append(b, '\n'), 0o644); err != nil {
		m.log.Error("write residency state", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, m.stateFile); err != nil {
		m.log.Error("write residency state", zap.Error(err))
	}
}
