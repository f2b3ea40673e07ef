package archive

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"worldchains.ai/internal/persistence/snapshot"
)

func TestRotate_KeepsNewestAndArchivesRest(t *testing.T) {
	ledgerDir := filepath.Join(t.TempDir(), "ledgers", "W1")
	for _, h := range []uint64{10, 2, 30} {
		snap := snapshot.LedgerV1{
			Header:     snapshot.Header{LedgerID: "W1", Kind: "world", Height: h},
			Namespaces: map[string]map[string][]byte{"players": {"p": []byte("{}")}},
		}
		if err := snapshot.WriteSnapshot(filepath.Join(ledgerDir, "snapshots", snapshot.FileName(h)), snap); err != nil {
			t.Fatalf("write %d: %v", h, err)
		}
	}

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	archived, err := Rotate(ledgerDir, 1, now)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if len(archived) != 2 {
		t.Fatalf("archived=%v", archived)
	}
	if _, err := os.Stat(filepath.Join(ledgerDir, "snapshots", "30.snap.zst")); err != nil {
		t.Fatalf("newest snapshot must stay: %v", err)
	}
	if _, err := os.Stat(filepath.Join(ledgerDir, "snapshots", "2.snap.zst")); !os.IsNotExist(err) {
		t.Fatalf("old snapshot still live: %v", err)
	}

	metas, err := List(ledgerDir)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(metas) != 2 || metas[0].Height != 2 || metas[1].Height != 10 {
		t.Fatalf("metas=%+v", metas)
	}
	if metas[0].LedgerID != "W1" || metas[0].ArchivedAt != "2026-03-01T00:00:00Z" {
		t.Fatalf("meta fields: %+v", metas[0])
	}
	if _, err := snapshot.ReadHeader(archived[0]); err != nil {
		t.Fatalf("archived snapshot unreadable: %v", err)
	}

	again, err := Rotate(ledgerDir, 1, now)
	if err != nil || len(again) != 0 {
		t.Fatalf("second rotate: %v %v", again, err)
	}
}

func TestRotate_NoSnapshotDir(t *testing.T) {
	archived, err := Rotate(t.TempDir(), 3, time.Now())
	if err != nil || archived != nil {
		t.Fatalf("got %v %v", archived, err)
	}
}
