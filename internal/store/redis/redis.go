// Package redis is a store.Store on Redis hashes, one hash per namespace.
package redis

import (
	"context"
	"errors"
	"sort"

	"github.com/redis/go-redis/v9"
)

type Store struct {
	client redis.UniversalClient
	prefix string
	owned  bool
}

// New wraps a shared client. Close leaves the client open.
func New(client redis.UniversalClient, prefix string) *Store {
	return &Store{client: client, prefix: prefix}
}

// Dial opens a client of its own for addr and pings it.
func Dial(ctx context.Context, addr, prefix string) (*Store, error) {
	c := redis.NewClient(&redis.Options{Addr: addr})
	if err := c.Ping(ctx).Err(); err != nil {
		_ = c.Close()
		return nil, err
	}
	return &Store{client: c, prefix: prefix, owned: true}, nil
}

func (s *Store) hash(ns string) string {
	return s.prefix + ":" + ns
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, bool, error) {
	b, err := s.client.HGet(ctx, s.hash(ns), key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return b, true, nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	return s.client.HSet(ctx, s.hash(ns), key, value).Err()
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	return s.client.HDel(ctx, s.hash(ns), key).Err()
}

func (s *Store) Keys(ctx context.Context, ns string) ([]string, error) {
	keys, err := s.client.HKeys(ctx, s.hash(ns)).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
