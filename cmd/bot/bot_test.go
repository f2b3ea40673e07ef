package main

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"worldchains.ai/internal/channel"
	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/network"
	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
	"worldchains.ai/internal/transport/ws"
)

func TestRunBot_AgainstNetwork(t *testing.T) {
	bus := channel.NewBus(channel.BusOptions{})
	t.Cleanup(func() { _ = bus.Close() })
	mgr, err := network.NewManager(context.Background(), network.Config{
		Store: network.StoreSpec{Backend: network.BackendMemory},
		Ledgers: []network.LedgerSpec{
			{ID: "HUB", Kind: ledger.KindHub},
			{ID: "W1", Kind: ledger.KindWorld},
			{ID: "W2", Kind: ledger.KindWorld},
		},
		Transfer: retry.Policy{MaxAttempts: 3, InitialInterval: time.Hour},
	}, network.Deps{Channel: bus})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = mgr.Close()
	})

	srv := httptest.NewServer(ws.NewServer(mgr, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(10 * time.Second))

	st, err := runBot(context.Background(), conn, botConfig{Name: "t", Players: 2, Rounds: 1, Hub: "HUB", Seed: 7}, nil)
	require.NoError(t, err)
	require.Equal(t, 10, st.Ops)
	require.Zero(t, st.Failed, "%v", st.Codes)
	require.Equal(t, 2, st.Transfers)

	// Both players moved one world over and their achievements reached the hub.
	require.Eventually(t, func() bool {
		home0, ok0 := mgr.PlayerLedger("t-p0")
		home1, ok1 := mgr.PlayerLedger("t-p1")
		return ok0 && ok1 && home0 == "W2" && home1 == "W1"
	}, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		var n uint64
		_ = mgr.Query(context.Background(), "HUB", func(ctx context.Context, l *ledger.Ledger) error {
			var err error
			n, err = l.Counter(ctx, ledger.CounterTotalAchievements)
			return err
		})
		return n == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRunBot_NoWorlds(t *testing.T) {
	srv := httptest.NewServer(ws.NewServer(onlyHub{}, zap.NewNop()).Handler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	_, err = runBot(context.Background(), conn, botConfig{Name: "t", Players: 1, Rounds: 1, Hub: "HUB"}, nil)
	require.ErrorContains(t, err, "no world ledgers")
}

type onlyHub struct{}

func (onlyHub) Execute(context.Context, string, protocol.Operation) (ledger.Result, error) {
	return ledger.Result{}, nil
}

func (onlyHub) LedgerIDs() []string { return []string{"HUB"} }
