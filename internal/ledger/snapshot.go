package ledger

import (
	"context"
	"fmt"
	"strconv"

	"worldchains.ai/internal/persistence/snapshot"
)

// Export dumps every namespace of the store at the current height.
func (l *Ledger) Export(ctx context.Context) (snapshot.LedgerV1, error) {
	snap := snapshot.LedgerV1{
		Header: snapshot.Header{
			Version:   snapshot.Version,
			LedgerID:  l.cfg.ID,
			Kind:      string(l.cfg.Kind),
			Height:    l.height,
			CreatedAt: l.now().UnixMicro(),
		},
		Region:     l.cfg.Region,
		Namespaces: make(map[string]map[string][]byte, len(Namespaces)),
	}
	for _, ns := range Namespaces {
		keys, err := l.keys(ctx, ns)
		if err != nil {
			return snapshot.LedgerV1{}, err
		}
		if len(keys) == 0 {
			continue
		}
		kv := make(map[string][]byte, len(keys))
		for _, k := range keys {
			v, ok, err := l.store.Get(ctx, ns, k)
			if err != nil {
				return snapshot.LedgerV1{}, &StoreError{Op: "get", Namespace: ns, Key: k, Cause: err}
			}
			if ok {
				kv[k] = v
			}
		}
		snap.Namespaces[ns] = kv
	}
	return snap, nil
}

// Restore loads a snapshot of this ledger into its store. Keys absent
// from the snapshot are left as they are.
func (l *Ledger) Restore(ctx context.Context, snap snapshot.LedgerV1) error {
	if snap.Header.LedgerID != l.cfg.ID {
		return fmt.Errorf("snapshot of %s cannot restore %s", snap.Header.LedgerID, l.cfg.ID)
	}
	if Kind(snap.Header.Kind) != l.cfg.Kind {
		return fmt.Errorf("snapshot kind %s does not match %s", snap.Header.Kind, l.cfg.Kind)
	}
	for ns, kv := range snap.Namespaces {
		for k, v := range kv {
			if err := l.store.Put(ctx, ns, k, v); err != nil {
				return &StoreError{Op: "put", Namespace: ns, Key: k, Cause: err}
			}
		}
	}
	l.height = snap.Header.Height
	if err := l.store.Put(ctx, NSMeta, "height", []byte(strconv.FormatUint(l.height, 10))); err != nil {
		return &StoreError{Op: "put", Namespace: NSMeta, Key: "height", Cause: err}
	}
	return nil
}
