package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/persistence/snapshot"
	"worldchains.ai/internal/protocol"
)

func TestSQLiteIndex_BlocksAndSnapshots(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.sqlite")
	s, err := OpenSQLite(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	entries := []ledger.BlockEntry{
		{Height: 1, Ledger: "W1", Source: ledger.SourceOp, Kind: protocol.OpSavePlayerState, Ref: "p1", Outcome: "applied", At: 10},
		{Height: 2, Ledger: "W1", Source: ledger.SourceOp, Kind: protocol.OpTransferPlayer, Ref: "p1", Code: protocol.ErrBadRequest, Error: "bad", At: 20},
		{Height: 1, Ledger: "W2", Source: ledger.SourceMsg, Kind: protocol.KindPlayerTransfer, Ref: "p1", From: "W1", Outcome: "applied", At: 30},
	}
	for _, e := range entries {
		if err := s.WriteBlock(e); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	s.RecordSnapshot("/data/W1/snapshots/2.snap.zst", snapshot.LedgerV1{
		Header:     snapshot.Header{LedgerID: "W1", Height: 2, CreatedAt: 99},
		Namespaces: map[string]map[string][]byte{"players": {"p1": []byte("{}")}},
	})
	ctx := context.Background()
	if err := s.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := s.Blocks(ctx, BlockFilter{Ref: "p1"})
	if err != nil {
		t.Fatalf("blocks: %v", err)
	}
	if len(got) != 3 || got[0].Ledger != "W2" || got[0].From != "W1" || got[0].Source != ledger.SourceMsg {
		t.Fatalf("newest first: %+v", got)
	}
	failed, err := s.Blocks(ctx, BlockFilter{Ledger: "W1", FailedOnly: true})
	if err != nil {
		t.Fatalf("failed: %v", err)
	}
	if len(failed) != 1 || failed[0].Height != 2 || failed[0].Code != protocol.ErrBadRequest {
		t.Fatalf("failed filter: %+v", failed)
	}
	limited, _ := s.Blocks(ctx, BlockFilter{Limit: 1})
	if len(limited) != 1 {
		t.Fatalf("limit: %d", len(limited))
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	r, err := OpenReader(path)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer r.Close()
	snaps, err := r.Snapshots(ctx, "W1")
	if err != nil {
		t.Fatalf("snapshots: %v", err)
	}
	if len(snaps) != 1 || snaps[0].Height != 2 || snaps[0].Entries != 1 || snaps[0].CreatedAt != 99 {
		t.Fatalf("snapshot rows: %+v", snaps)
	}
	again, err := r.Blocks(ctx, BlockFilter{Ledger: "W2"})
	if err != nil || len(again) != 1 {
		t.Fatalf("reader blocks: %+v %v", again, err)
	}
}

func TestSQLiteIndex_DropsWhenQueueFull(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqBlock}

	_ = s.WriteBlock(ledger.BlockEntry{Height: 2})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.LedgerV1{})

	st := s.Stats()
	if st.DropBlockTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops: %+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestOpenReader_Missing(t *testing.T) {
	if _, err := OpenReader(filepath.Join(t.TempDir(), "nope.sqlite")); err == nil {
		t.Fatalf("expected error")
	}
}
