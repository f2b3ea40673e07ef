package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"worldchains.ai/internal/protocol"
)

func achievementEnv(t testing.TB, from string, m protocol.AchievementSubmittedMsg) protocol.Envelope {
	return mustEnvelope(t, protocol.KindAchievementSubmitted, from, "HUB", m)
}

func TestAchievement_ScenarioB_RedeliveryCountsOnce(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	env := achievementEnv(t, "C1", protocol.AchievementSubmittedMsg{PlayerID: "x", AchievementID: "ach1", ChainID: "C1", Timestamp: 10, Metadata: `{"boss":"dragon"}`})

	require.Equal(t, OutcomeApplied, hub.deliver(t, env).Outcome)
	require.Equal(t, OutcomeDuplicate, hub.deliver(t, env).Outcome)

	total, err := hub.Counter(ctx, CounterTotalAchievements)
	require.NoError(t, err)
	require.Equal(t, uint64(1), total)

	mine, err := hub.PlayerAchievements(ctx, "x")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	require.Equal(t, "C1", mine[0].ChainID)

	recs, err := hub.AchievementRecords(ctx, "ach1")
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Equal(t, "x", recs[0].PlayerID)
}

func TestAchievement_SameFactFromAnotherChainIsDuplicate(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: "ach1", ChainID: "C1"})
	res := hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: "ach1", ChainID: "C2"})
	require.Equal(t, OutcomeDuplicate, res.Outcome)

	hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "y", AchievementID: "ach1", ChainID: "C2"})
	total, _ := hub.Counter(ctx, CounterTotalAchievements)
	require.Equal(t, uint64(2), total)
	recs, _ := hub.AchievementRecords(ctx, "ach1")
	require.Len(t, recs, 2)
}

func TestAchievement_ChainDefaultsToSender(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	hub.deliver(t, achievementEnv(t, "W7", protocol.AchievementSubmittedMsg{PlayerID: "x", AchievementID: "a"}))
	mine, _ := hub.PlayerAchievements(ctx, "x")
	require.Len(t, mine, 1)
	require.Equal(t, "W7", mine[0].ChainID)
	require.Equal(t, "{}", mine[0].Metadata)
	require.NotZero(t, mine[0].Timestamp)
}

func TestAchievement_Validation(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)

	_, err := hub.Execute(ctx, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: "a", Metadata: `{broken`})
	var de *DecodeError
	require.True(t, errors.As(err, &de))
	require.Equal(t, "metadata", de.Field)

	total, _ := hub.Counter(ctx, CounterTotalAchievements)
	require.Zero(t, total)

	_, err = hub.Execute(ctx, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x"})
	require.ErrorIs(t, err, ErrBadRequest)

	world := newTestLedger(t, "W", KindWorld)
	_, err = world.Execute(ctx, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: "a"})
	require.ErrorIs(t, err, ErrWrongRole)
}

func TestAchievement_PerPlayerLimit(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub, func(c *Config) { c.MaxAchievements = 2 })
	for _, id := range []string{"a1", "a2"} {
		hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: id})
	}
	_, err := hub.Execute(ctx, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: "a3"})
	require.ErrorIs(t, err, ErrLimit)
	require.Equal(t, protocol.ErrLimit, Code(err))

	// Duplicates of an achievement already held are not limited.
	res := hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "x", AchievementID: "a2"})
	require.Equal(t, OutcomeDuplicate, res.Outcome)
	hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "y", AchievementID: "a3"})
}

func TestRegisterWorldChain_CountsFirstRegistrationOnly(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	reg := func(chain, region string) Result {
		return hub.deliver(t, mustEnvelope(t, protocol.KindWorldChainRegistered, chain, "HUB", protocol.WorldChainRegisteredMsg{ChainID: chain, Region: region}))
	}
	require.Equal(t, OutcomeApplied, reg("W1", "eu").Outcome)
	info, ok, _ := hub.WorldChain(ctx, "W1")
	require.True(t, ok)
	firstTS := info.RegistrationTimestamp

	require.Equal(t, OutcomeDuplicate, reg("W1", "eu").Outcome)

	hub.clock.advance(1000)
	require.Equal(t, OutcomeApplied, reg("W1", "us").Outcome)
	info, _, _ = hub.WorldChain(ctx, "W1")
	require.Equal(t, "us", info.Region)
	require.True(t, info.Active)
	require.Equal(t, firstTS, info.RegistrationTimestamp)

	hub.exec(t, protocol.Operation{Type: protocol.OpRegisterWorldChain, ChainID: "W2", Region: "ap"})
	total, _ := hub.Counter(ctx, CounterTotalChains)
	require.Equal(t, uint64(2), total)
	chains, _ := hub.WorldChains(ctx)
	require.Equal(t, []string{"W1", "W2"}, chains)
}

func TestAchievement_ResumesAfterPartialWrite(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	fs := &flakyStore{Store: hub.st, failPut: map[string]bool{NSSeenFacts: true}}
	hub.Ledger.store = fs
	env := achievementEnv(t, "C1", protocol.AchievementSubmittedMsg{PlayerID: "x", AchievementID: "ach1"})

	_, err := hub.Deliver(ctx, env)
	require.ErrorIs(t, err, errDiskFull)
	require.True(t, Transient(err))
	total, _ := hub.Counter(ctx, CounterTotalAchievements)
	require.Equal(t, uint64(1), total)

	fs.failPut = nil
	require.Equal(t, OutcomeApplied, hub.deliver(t, env).Outcome)
	require.Equal(t, OutcomeDuplicate, hub.deliver(t, env).Outcome)
	total, _ = hub.Counter(ctx, CounterTotalAchievements)
	require.Equal(t, uint64(1), total, "redelivery must not count the fact again")
	mine, _ := hub.PlayerAchievements(ctx, "x")
	require.Len(t, mine, 1)

	// The next fact drops the settled key from the pending list.
	hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "y", AchievementID: "ach1"})
	c, err := hub.loadCounter(ctx, CounterTotalAchievements)
	require.NoError(t, err)
	require.Equal(t, uint64(2), c.Value)
	require.Equal(t, []string{achievementFactKey("y", "ach1")}, c.Pending)
}

func TestAchievement_OtherFactsBetweenRetries(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	fs := &flakyStore{Store: hub.st, failPut: map[string]bool{NSSeenFacts: true}}
	hub.Ledger.store = fs
	env := achievementEnv(t, "C1", protocol.AchievementSubmittedMsg{PlayerID: "x", AchievementID: "ach1"})
	_, err := hub.Deliver(ctx, env)
	require.Error(t, err)

	fs.failPut = nil
	hub.exec(t, protocol.Operation{Type: protocol.OpSubmitAchievement, PlayerID: "y", AchievementID: "ach2"})
	hub.deliver(t, env)
	total, _ := hub.Counter(ctx, CounterTotalAchievements)
	require.Equal(t, uint64(2), total)
}

func TestRegisterWorldChain_ResumesAfterCounterFailure(t *testing.T) {
	ctx := context.Background()
	hub := newTestLedger(t, "HUB", KindHub)
	fs := &flakyStore{Store: hub.st, failPut: map[string]bool{NSCounters: true}}
	hub.Ledger.store = fs
	env := mustEnvelope(t, protocol.KindWorldChainRegistered, "W1", "HUB", protocol.WorldChainRegisteredMsg{ChainID: "W1", Region: "eu"})

	_, err := hub.Deliver(ctx, env)
	require.ErrorIs(t, err, errDiskFull)
	require.True(t, Transient(err))
	_, ok, _ := hub.WorldChain(ctx, "W1")
	require.True(t, ok, "chain upserted before the counter write")

	fs.failPut = nil
	require.Equal(t, OutcomeDuplicate, hub.deliver(t, env).Outcome)
	total, _ := hub.Counter(ctx, CounterTotalChains)
	require.Equal(t, uint64(1), total)
	require.Equal(t, OutcomeDuplicate, hub.deliver(t, env).Outcome)
	total, _ = hub.Counter(ctx, CounterTotalChains)
	require.Equal(t, uint64(1), total)
}

func TestWorldForwardsToHub(t *testing.T) {
	ctx := context.Background()
	w := newTestLedger(t, "W1", KindWorld, func(c *Config) { c.HubID = "HUB" })
	hub := newTestLedger(t, "HUB", KindHub)

	w.exec(t, protocol.Operation{Type: protocol.OpRegisterWithHub})
	w.exec(t, protocol.Operation{Type: protocol.OpReportAchievement, PlayerID: "x", AchievementID: "ach1", Metadata: `{"k":1}`})
	sent := w.out.take()
	require.Len(t, sent, 2)
	for _, env := range sent {
		require.Equal(t, "HUB", env.To)
		hub.deliver(t, env)
	}

	info, ok, _ := hub.WorldChain(ctx, "W1")
	require.True(t, ok)
	require.Equal(t, "eu", info.Region)
	mine, _ := hub.PlayerAchievements(ctx, "x")
	require.Len(t, mine, 1)
	require.Equal(t, "W1", mine[0].ChainID)

	_, err := w.Execute(ctx, protocol.Operation{Type: protocol.OpReportAchievement, PlayerID: "x", AchievementID: "a", Metadata: `[1]`})
	var de *DecodeError
	require.True(t, errors.As(err, &de))

	orphan := newTestLedger(t, "W9", KindWorld)
	_, err = orphan.Execute(ctx, protocol.Operation{Type: protocol.OpRegisterWithHub})
	require.ErrorIs(t, err, ErrBadRequest)
}
