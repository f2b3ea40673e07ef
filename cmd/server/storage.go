package main

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/network"
	"worldchains.ai/internal/persistence/archive"
	"worldchains.ai/internal/persistence/indexdb"
	persistlog "worldchains.ai/internal/persistence/log"
	"worldchains.ai/internal/persistence/snapshot"
	"worldchains.ai/internal/store"
	redisstore "worldchains.ai/internal/store/redis"
	"worldchains.ai/internal/store/sqlite"
)

func ledgerDir(dataDir, id string) string {
	return filepath.Join(dataDir, "ledgers", id)
}

// storeFactory opens the state store of each ledger. Redis-backed ledgers
// share one client, each under its own key prefix.
type storeFactory struct {
	dataDir string
	spec    network.StoreSpec
	redis   redis.UniversalClient
}

func newStoreFactory(ctx context.Context, dataDir string, spec network.StoreSpec) (*storeFactory, error) {
	f := &storeFactory{dataDir: dataDir, spec: spec}
	if spec.RedisAddr == "" {
		return f, nil
	}
	c := redis.NewClient(&redis.Options{Addr: spec.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := c.Ping(pingCtx).Err(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("redis %s: %w", spec.RedisAddr, err)
	}
	f.redis = c
	return f, nil
}

func (f *storeFactory) Open(_ context.Context, spec network.LedgerSpec) (store.Store, error) {
	switch spec.Backend {
	case network.BackendMemory:
		return store.NewMemory(), nil
	case network.BackendRedis:
		if f.redis == nil {
			return nil, fmt.Errorf("ledger %s: redis backend without redis_addr", spec.ID)
		}
		return redisstore.New(f.redis, f.spec.RedisPrefix+":"+spec.ID), nil
	default:
		return sqlite.Open(filepath.Join(ledgerDir(f.dataDir, spec.ID), "state.sqlite"))
	}
}

func (f *storeFactory) Close() error {
	if f.redis == nil {
		return nil
	}
	return f.redis.Close()
}

// closingBlocks fans entries out and closes the on-disk block log with the
// manager.
type closingBlocks struct {
	ledger.MultiBlockLogger
	log *persistlog.BlockLog
}

func (c closingBlocks) Close() error { return c.log.Close() }

func blockLoggers(dataDir string, met ledger.BlockLogger, idx *indexdb.SQLiteIndex) func(network.LedgerSpec) (ledger.BlockLogger, error) {
	return func(spec network.LedgerSpec) (ledger.BlockLogger, error) {
		bl := persistlog.NewBlockLog(ledgerDir(dataDir, spec.ID))
		multi := ledger.MultiBlockLogger{bl}
		if met != nil {
			multi = append(multi, met)
		}
		if idx != nil {
			multi = append(multi, idx)
		}
		return closingBlocks{MultiBlockLogger: multi, log: bl}, nil
	}
}

// restoreLatest seeds memory-backed ledgers from their newest snapshot.
// Durable backends already hold their state.
func restoreLatest(dataDir string) func(network.LedgerSpec) (snapshot.LedgerV1, bool, error) {
	return func(spec network.LedgerSpec) (snapshot.LedgerV1, bool, error) {
		if spec.Backend != network.BackendMemory {
			return snapshot.LedgerV1{}, false, nil
		}
		path, err := snapshot.Latest(filepath.Join(ledgerDir(dataDir, spec.ID), "snapshots"))
		if err != nil || path == "" {
			return snapshot.LedgerV1{}, false, err
		}
		snap, err := snapshot.ReadSnapshot(path)
		if err != nil {
			return snapshot.LedgerV1{}, false, fmt.Errorf("%s: %w", path, err)
		}
		if snap.Header.LedgerID != spec.ID {
			return snapshot.LedgerV1{}, false, fmt.Errorf("%s: snapshot of %q", path, snap.Header.LedgerID)
		}
		return snap, true, nil
	}
}

type snapshotWriter struct {
	dataDir string
	keep    int
	index   *indexdb.SQLiteIndex
	log     *zap.Logger
	now     func() time.Time

	mu sync.Mutex
}

func (w *snapshotWriter) Run(ctx context.Context, in <-chan snapshot.LedgerV1) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-in:
			w.write(snap)
		}
	}
}

// Final snapshots every runtime of mgr. Runtimes must still be running.
func (w *snapshotWriter) Final(ctx context.Context, mgr *network.Manager) {
	for _, id := range mgr.LedgerIDs() {
		rt := mgr.Runtime(id)
		if rt == nil {
			continue
		}
		snap, err := rt.Snapshot(ctx)
		if err != nil {
			w.log.Warn("final snapshot", zap.String("ledger", id), zap.Error(err))
			continue
		}
		w.write(snap)
	}
}

func (w *snapshotWriter) write(snap snapshot.LedgerV1) {
	w.mu.Lock()
	defer w.mu.Unlock()

	id := snap.Header.LedgerID
	dir := ledgerDir(w.dataDir, id)
	path := filepath.Join(dir, "snapshots", snapshot.FileName(snap.Header.Height))
	if err := snapshot.WriteSnapshot(path, snap); err != nil {
		w.log.Error("write snapshot", zap.String("ledger", id), zap.String("path", path), zap.Error(err))
		return
	}
	w.index.RecordSnapshot(path, snap)
	w.log.Info("snapshot written", zap.String("ledger", id), zap.Uint64("height", snap.Header.Height), zap.Int("entries", snap.Entries()))

	now := time.Now
	if w.now != nil {
		now = w.now
	}
	archived, err := archive.Rotate(dir, w.keep, now())
	if err != nil {
		w.log.Warn("archive snapshots", zap.String("ledger", id), zap.Error(err))
	}
	if len(archived) > 0 {
		w.log.Info("snapshots archived", zap.String("ledger", id), zap.Int("count", len(archived)))
	}
}
