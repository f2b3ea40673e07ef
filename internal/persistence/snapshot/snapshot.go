// Package snapshot stores full ledger dumps: a zstd stream holding one
// JSON header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

const Version = 1

type Header struct {
	Version   int    `json:"version"`
	LedgerID  string `json:"ledger_id"`
	Kind      string `json:"kind"`
	Height    uint64 `json:"height"`
	CreatedAt int64  `json:"created_at"` // unix micros
}

// LedgerV1 holds every namespace of a ledger store, raw values as stored.
type LedgerV1 struct {
	Header Header `json:"header"`

	Region     string                       `json:"region,omitempty"`
	Namespaces map[string]map[string][]byte `json:"namespaces"`
}

// Entries counts the keys across all namespaces.
func (s LedgerV1) Entries() int {
	n := 0
	for _, kv := range s.Namespaces {
		n += len(kv)
	}
	return n
}

// FileName is the on-disk name for a snapshot at height.
func FileName(height uint64) string {
	return fmt.Sprintf("%d.snap.zst", height)
}

// WriteSnapshot writes to a temp file and renames it into place.
func WriteSnapshot(path string, snap LedgerV1) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if snap.Header.CreatedAt == 0 {
		snap.Header.CreatedAt = time.Now().UnixMicro()
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap LedgerV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, err := json.Marshal(snap.Header)
	if err != nil {
		_ = enc.Close()
		return err
	}
	if _, err := bw.Write(hb); err != nil {
		_ = enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		_ = enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		_ = enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (LedgerV1, error) {
	var snap LedgerV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)
	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	return snap, nil
}

// ReadHeader decodes only the header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()
	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	if err := json.Unmarshal(line, &h); err != nil {
		return h, err
	}
	return h, nil
}

// Latest returns the snapshot in dir with the greatest height, or "" when
// there is none.
func Latest(dir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.snap.zst"))
	if err != nil {
		return "", err
	}
	type cand struct {
		h    uint64
		path string
	}
	var cands []cand
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".snap.zst")
		h, err := strconv.ParseUint(base, 10, 64)
		if err != nil {
			continue
		}
		cands = append(cands, cand{h: h, path: m})
	}
	if len(cands) == 0 {
		return "", nil
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].h < cands[j].h })
	return cands[len(cands)-1].path, nil
}
