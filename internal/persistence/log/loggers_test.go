package log

import (
	"path/filepath"
	"testing"
	"time"

	"worldchains.ai/internal/ledger"
)

func TestBlockLog_WriteReadAcrossHours(t *testing.T) {
	dir := t.TempDir()
	bl := NewBlockLog(dir)
	clock := time.Date(2026, 3, 1, 10, 59, 0, 0, time.UTC)
	bl.w.now = func() time.Time { return clock }

	for h := uint64(1); h <= 3; h++ {
		if err := bl.WriteBlock(ledger.BlockEntry{Height: h, Ledger: "W1", Source: ledger.SourceOp, Kind: "SAVE_PLAYER_STATE"}); err != nil {
			t.Fatalf("write %d: %v", h, err)
		}
	}
	clock = clock.Add(2 * time.Minute)
	if err := bl.WriteBlock(ledger.BlockEntry{Height: 4, Ledger: "W1", Source: ledger.SourceMsg, Kind: "TRANSFER_ACK"}); err != nil {
		t.Fatalf("write 4: %v", err)
	}
	if err := bl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, _ := filepath.Glob(filepath.Join(dir, "blocks", "*.jsonl.zst"))
	if len(files) != 2 {
		t.Fatalf("expected hourly rotation into 2 files, got %v", files)
	}

	var heights []uint64
	if err := ReadBlocks(filepath.Join(dir, "blocks"), func(e ledger.BlockEntry) bool {
		heights = append(heights, e.Height)
		return true
	}); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if len(heights) != 4 || heights[0] != 1 || heights[3] != 4 {
		t.Fatalf("unexpected heights %v", heights)
	}
}

func TestBlockLog_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	clock := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i := uint64(1); i <= 2; i++ {
		bl := NewBlockLog(dir)
		bl.w.now = func() time.Time { return clock }
		if err := bl.WriteBlock(ledger.BlockEntry{Height: i, Ledger: "W1"}); err != nil {
			t.Fatalf("write: %v", err)
		}
		_ = bl.Close()
	}
	n := 0
	if err := ReadBlocks(filepath.Join(dir, "blocks"), func(ledger.BlockEntry) bool { n++; return true }); err != nil {
		t.Fatalf("ReadBlocks: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 entries across appended frames, got %d", n)
	}
}
