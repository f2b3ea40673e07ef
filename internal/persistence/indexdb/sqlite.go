// Package indexdb keeps a queryable SQLite copy of block entries and
// snapshot metadata. The zstd block logs stay the source of truth; the
// index may drop entries under load.
package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/persistence/snapshot"
)

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropBlocks    atomic.Uint64
	dropSnapshots atomic.Uint64
}

type reqKind int

const (
	reqBlock reqKind = iota + 1
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	block    ledger.BlockEntry
	snapshot SnapshotRow
	flushed  chan struct{}
}

type SnapshotRow struct {
	Ledger    string `json:"ledger"`
	Height    uint64 `json:"height"`
	Path      string `json:"path"`
	Entries   int    `json:"entries"`
	CreatedAt int64  `json:"created_at"`
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropBlockTotal    uint64 `json:"drop_block_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{db: db, ch: make(chan req, 65536)}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	// NORMAL is enough for a secondary index.
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS blocks (
			ledger TEXT NOT NULL,
			height INTEGER NOT NULL,
			source TEXT NOT NULL,
			kind TEXT NOT NULL,
			ref TEXT NOT NULL,
			sender TEXT NOT NULL,
			outcome TEXT NOT NULL,
			code TEXT NOT NULL,
			error TEXT NOT NULL,
			at INTEGER NOT NULL,
			PRIMARY KEY (ledger, height)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_ref ON blocks(ref, ledger, height);`,
		`CREATE INDEX IF NOT EXISTS idx_blocks_code ON blocks(code, ledger, height);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			ledger TEXT NOT NULL,
			height INTEGER NOT NULL,
			path TEXT NOT NULL,
			entries INTEGER NOT NULL,
			created_at INTEGER NOT NULL,
			PRIMARY KEY (ledger, height)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteBlock queues an entry. It never blocks the ledger.
func (s *SQLiteIndex) WriteBlock(e ledger.BlockEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqBlock, block: e}:
	default:
		s.dropBlocks.Add(1)
	}
	return nil
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.LedgerV1) {
	if s == nil || s.closed.Load() {
		return
	}
	r := SnapshotRow{
		Ledger:    snap.Header.LedgerID,
		Height:    snap.Header.Height,
		Path:      path,
		Entries:   snap.Entries(),
		CreatedAt: snap.Header.CreatedAt,
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshots.Add(1)
	}
}

// Flush waits until everything queued so far is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, flushed: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropBlockTotal:    s.dropBlocks.Load(),
		DropSnapshotTotal: s.dropSnapshots.Load(),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertBlock, _ := s.db.Prepare(`INSERT OR REPLACE INTO blocks(ledger,height,source,kind,ref,sender,outcome,code,error,at) VALUES(?,?,?,?,?,?,?,?,?,?)`)
	insertSnapshot, _ := s.db.Prepare(`INSERT OR REPLACE INTO snapshots(ledger,height,path,entries,created_at) VALUES(?,?,?,?,?)`)
	defer func() {
		if insertBlock != nil {
			_ = insertBlock.Close()
		}
		if insertSnapshot != nil {
			_ = insertSnapshot.Close()
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.kind == reqFlush {
			commit()
			close(r.flushed)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		switch r.kind {
		case reqBlock:
			if insertBlock == nil {
				continue
			}
			b := r.block
			if _, err := tx.Stmt(insertBlock).Exec(
				b.Ledger, int64(b.Height), string(b.Source), b.Kind, b.Ref, b.From,
				b.Outcome, b.Code, b.Error, b.At,
			); err != nil {
				rollback()
				continue
			}
			opCount++
		case reqSnapshot:
			if insertSnapshot == nil {
				continue
			}
			sr := r.snapshot
			if _, err := tx.Stmt(insertSnapshot).Exec(sr.Ledger, int64(sr.Height), sr.Path, sr.Entries, sr.CreatedAt); err != nil {
				rollback()
				continue
			}
			opCount++
		}
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

// BlockFilter narrows Blocks. Empty fields match everything.
type BlockFilter struct {
	Ledger string
	Kind   string
	Ref    string
	Code   string
	// FailedOnly keeps entries that carry an error code.
	FailedOnly bool
	Limit      int
}

// Blocks returns matching entries, newest first.
func (s *SQLiteIndex) Blocks(ctx context.Context, f BlockFilter) ([]ledger.BlockEntry, error) {
	return queryBlocks(ctx, s.db, f)
}

func (s *SQLiteIndex) Snapshots(ctx context.Context, ledgerID string) ([]SnapshotRow, error) {
	return querySnapshots(ctx, s.db, ledgerID)
}

// Reader queries an index without running a writer goroutine.
type Reader struct{ db *sql.DB }

func OpenReader(path string) (*Reader, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return &Reader{db: db}, nil
}

func (r *Reader) Blocks(ctx context.Context, f BlockFilter) ([]ledger.BlockEntry, error) {
	return queryBlocks(ctx, r.db, f)
}

func (r *Reader) Snapshots(ctx context.Context, ledgerID string) ([]SnapshotRow, error) {
	return querySnapshots(ctx, r.db, ledgerID)
}

func (r *Reader) Close() error { return r.db.Close() }

func queryBlocks(ctx context.Context, db *sql.DB, f BlockFilter) ([]ledger.BlockEntry, error) {
	var (
		where []string
		args  []any
	)
	add := func(col, v string) {
		if v != "" {
			where = append(where, col+" = ?")
			args = append(args, v)
		}
	}
	add("ledger", f.Ledger)
	add("kind", f.Kind)
	add("ref", f.Ref)
	add("code", f.Code)
	if f.FailedOnly {
		where = append(where, "code != ''")
	}
	q := `SELECT ledger,height,source,kind,ref,sender,outcome,code,error,at FROM blocks`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY at DESC, ledger, height DESC"
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ledger.BlockEntry
	for rows.Next() {
		var (
			e      ledger.BlockEntry
			height int64
			source string
		)
		if err := rows.Scan(&e.Ledger, &height, &source, &e.Kind, &e.Ref, &e.From, &e.Outcome, &e.Code, &e.Error, &e.At); err != nil {
			return nil, err
		}
		e.Height = uint64(height)
		e.Source = ledger.Source(source)
		out = append(out, e)
	}
	return out, rows.Err()
}

func querySnapshots(ctx context.Context, db *sql.DB, ledgerID string) ([]SnapshotRow, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT ledger,height,path,entries,created_at FROM snapshots WHERE ledger = ? ORDER BY height DESC`, ledgerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRow
	for rows.Next() {
		var (
			r      SnapshotRow
			height int64
		)
		if err := rows.Scan(&r.Ledger, &height, &r.Path, &r.Entries, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Height = uint64(height)
		out = append(out, r)
	}
	return out, rows.Err()
}
