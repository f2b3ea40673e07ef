// Package store holds the keyed entity storage a ledger runs on.
//
// Values are opaque bytes (JSON-encoded entities); keys are grouped into
// namespaces. Implementations need not be safe for concurrent writers: a
// ledger owns its store and calls it from one goroutine.
package store

import (
	"context"
	"errors"

	json "github.com/goccy/go-json"
)

var ErrClosed = errors.New("store closed")

type Store interface {
	// Get returns ok=false when the key is absent.
	Get(ctx context.Context, ns, key string) (value []byte, ok bool, err error)
	Put(ctx context.Context, ns, key string, value []byte) error
	// Delete of an absent key is not an error.
	Delete(ctx context.Context, ns, key string) error
	// Keys returns the keys of ns in ascending order.
	Keys(ctx context.Context, ns string) ([]string, error)
	Close() error
}

// GetJSON decodes the value at (ns, key) into dst.
func GetJSON(ctx context.Context, s Store, ns, key string, dst any) (bool, error) {
	b, ok, err := s.Get(ctx, ns, key)
	if err != nil || !ok {
		return ok, err
	}
	if err := json.Unmarshal(b, dst); err != nil {
		return true, err
	}
	return true, nil
}

func PutJSON(ctx context.Context, s Store, ns, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Put(ctx, ns, key, b)
}
