package ledger

import (
	"context"
	"encoding/hex"
	"strconv"

	"lukechampine.com/blake3"
)

// factKey digests a fact's identifying fields. Fields are length-prefixed
// so ("ab","c") and ("a","bc") differ.
func factKey(kind string, fields ...string) string {
	h := blake3.New(32, nil)
	write := func(s string) {
		_, _ = h.Write([]byte(strconv.Itoa(len(s))))
		_, _ = h.Write([]byte{':'})
		_, _ = h.Write([]byte(s))
	}
	write(kind)
	for _, f := range fields {
		write(f)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (l *Ledger) factSeen(ctx context.Context, key string) (bool, error) {
	var sf SeenFact
	return l.get(ctx, NSSeenFacts, key, &sf)
}

// markSeen records the fact at the height it will commit under.
func (l *Ledger) markSeen(ctx context.Context, key, kind, ref string) error {
	return l.put(ctx, NSSeenFacts, key, SeenFact{Kind: kind, Ref: ref, Height: l.height + 1})
}

// counterRecord is the stored form of a counter. Pending holds the keys of
// facts already counted whose seen mark is not written yet, so a fact that
// comes back after a failed write is not counted twice.
type counterRecord struct {
	Value   uint64   `json:"value"`
	Pending []string `json:"pending,omitempty"`
}

func (l *Ledger) loadCounter(ctx context.Context, name string) (counterRecord, error) {
	var c counterRecord
	_, err := l.get(ctx, NSCounters, name, &c)
	return c, err
}

// countFact bumps counter name once for the fact key. Pending keys whose
// seen mark has landed since are dropped in the same write.
func (l *Ledger) countFact(ctx context.Context, name, key string) error {
	c, err := l.loadCounter(ctx, name)
	if err != nil {
		return err
	}
	var pending []string
	counted := false
	for _, k := range c.Pending {
		if k == key {
			counted = true
			pending = append(pending, k)
			continue
		}
		seen, err := l.factSeen(ctx, k)
		if err != nil {
			return err
		}
		if !seen {
			pending = append(pending, k)
		}
	}
	if counted && len(pending) == len(c.Pending) {
		return nil
	}
	if !counted {
		c.Value++
		pending = append(pending, key)
	}
	c.Pending = pending
	return l.put(ctx, NSCounters, name, c)
}

// syncCounter sets counter name to n.
func (l *Ledger) syncCounter(ctx context.Context, name string, n uint64) error {
	c, err := l.loadCounter(ctx, name)
	if err != nil {
		return err
	}
	if c.Value == n {
		return nil
	}
	c.Value = n
	return l.put(ctx, NSCounters, name, c)
}
