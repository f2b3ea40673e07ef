package redis

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestStore_AgainstServer(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	ctx := context.Background()
	s, err := Dial(ctx, addr, "wctest:"+uuid.NewString())
	require.NoError(t, err)
	defer s.Close()

	_, ok, err := s.Get(ctx, "players", "p1")
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, s.Put(ctx, "players", "p2", []byte(`{"level":2}`)))
	require.NoError(t, s.Put(ctx, "players", "p1", []byte(`{"level":1}`)))

	v, ok, err := s.Get(ctx, "players", "p1")
	require.NoError(t, err)
	require.True(t, ok)
	require.JSONEq(t, `{"level":1}`, string(v))

	keys, err := s.Keys(ctx, "players")
	require.NoError(t, err)
	require.Equal(t, []string{"p1", "p2"}, keys)

	require.NoError(t, s.Delete(ctx, "players", "p1"))
	require.NoError(t, s.Delete(ctx, "players", "p1"))
	keys, err = s.Keys(ctx, "players")
	require.NoError(t, err)
	require.Equal(t, []string{"p2"}, keys)
}
