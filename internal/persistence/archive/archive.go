// Package archive moves old ledger snapshots out of the live snapshot
// directory so restart only scans the recent ones.
package archive

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"worldchains.ai/internal/persistence/snapshot"
)

type Meta struct {
	LedgerID   string `json:"ledger_id"`
	Kind       string `json:"kind"`
	Height     uint64 `json:"height"`
	Snapshot   string `json:"snapshot"`
	CreatedAt  int64  `json:"created_at"`
	ArchivedAt string `json:"archived_at"`
}

// Rotate keeps the newest keep snapshots under <ledgerDir>/snapshots and
// moves the rest to <ledgerDir>/archives/<height>/ next to a meta.json.
// It returns the archived paths.
func Rotate(ledgerDir string, keep int, now time.Time) ([]string, error) {
	if keep < 1 {
		keep = 1
	}
	dir := filepath.Join(ledgerDir, "snapshots")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	type snap struct {
		height uint64
		name   string
	}
	var snaps []snap
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".snap.zst") {
			continue
		}
		h, err := strconv.ParseUint(strings.TrimSuffix(e.Name(), ".snap.zst"), 10, 64)
		if err != nil {
			continue
		}
		snaps = append(snaps, snap{height: h, name: e.Name()})
	}
	if len(snaps) <= keep {
		return nil, nil
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].height < snaps[j].height })

	var archived []string
	for _, s := range snaps[:len(snaps)-keep] {
		src := filepath.Join(dir, s.name)
		hdr, err := snapshot.ReadHeader(src)
		if err != nil {
			return archived, fmt.Errorf("%s: %w", s.name, err)
		}
		archiveDir := filepath.Join(ledgerDir, "archives", fmt.Sprintf("%012d", s.height))
		if err := os.MkdirAll(archiveDir, 0o755); err != nil {
			return archived, err
		}
		dst := filepath.Join(archiveDir, s.name)
		if err := os.Rename(src, dst); err != nil {
			return archived, err
		}
		meta := Meta{
			LedgerID:   hdr.LedgerID,
			Kind:       hdr.Kind,
			Height:     hdr.Height,
			Snapshot:   s.name,
			CreatedAt:  hdr.CreatedAt,
			ArchivedAt: now.UTC().Format(time.RFC3339Nano),
		}
		if b, err := json.MarshalIndent(meta, "", "  "); err == nil {
			_ = os.WriteFile(filepath.Join(archiveDir, "meta.json"), b, 0o644)
		}
		archived = append(archived, dst)
	}
	return archived, nil
}

// List returns the metadata of every archived snapshot, oldest first.
func List(ledgerDir string) ([]Meta, error) {
	matches, err := filepath.Glob(filepath.Join(ledgerDir, "archives", "*", "meta.json"))
	if err != nil {
		return nil, err
	}
	sort.Strings(matches)
	out := make([]Meta, 0, len(matches))
	for _, path := range matches {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		var m Meta
		if err := json.Unmarshal(b, &m); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		out = append(out, m)
	}
	return out, nil
}
