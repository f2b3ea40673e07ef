package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
)

// transferPlayer snapshots the player from this ledger's own store and
// sends it to the destination. The pending record is written only after
// the channel accepted the message; the source copy stays until acked.
func (l *Ledger) transferPlayer(ctx context.Context, op protocol.Operation) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	switch {
	case op.PlayerID == "":
		return Result{}, badRequest("player_id required")
	case op.Destination == "":
		return Result{}, badRequest("destination required")
	case op.Destination == l.cfg.ID:
		return Result{}, badRequest("player %s already on %s", op.PlayerID, l.cfg.ID)
	case op.AuthToken == "":
		return Result{}, badRequest("auth_token required")
	}

	// Caller-supplied state only seeds the local store; the message is
	// always built from what the store holds afterwards.
	if op.State != nil {
		if _, err := l.savePlayerState(ctx, op); err != nil {
			return Result{}, err
		}
	}
	if op.Inventory != "" {
		if _, err := l.saveInventory(ctx, op); err != nil {
			return Result{}, err
		}
	}
	if op.Quests != "" {
		if _, err := l.saveQuests(ctx, op); err != nil {
			return Result{}, err
		}
	}

	snap, err := l.readSnapshot(ctx, op.PlayerID)
	if err != nil {
		return Result{}, err
	}

	now := l.nowMicros()
	p := PendingTransfer{
		TransferID:  uuid.NewString(),
		Source:      l.cfg.ID,
		Destination: op.Destination,
		PlayerID:    op.PlayerID,
		AuthToken:   op.AuthToken,
		Timestamp:   now,
		Attempts:    1,
		NextRetryAt: now + uint64(retry.Backoff(1, l.cfg.Transfer).Microseconds()),
		Status:      TransferInitiated,
	}
	if err := l.send(ctx, p.Destination, protocol.KindPlayerTransfer, transferMsg(p, snap)); err != nil {
		return Result{}, err
	}
	if err := l.put(ctx, NSPendingTransfers, p.PlayerID, p); err != nil {
		return Result{TransferID: p.TransferID}, err
	}
	return Result{Outcome: OutcomeApplied, TransferID: p.TransferID}, nil
}

func transferMsg(p PendingTransfer, snap playerSnapshot) protocol.PlayerTransferMsg {
	return protocol.PlayerTransferMsg{
		TransferID: p.TransferID,
		PlayerID:   p.PlayerID,
		State:      snap.State,
		Inventory:  snap.Inventory,
		Quests:     snap.Quests,
		AuthToken:  p.AuthToken,
		Timestamp:  p.Timestamp,
	}
}

// transferFactKey marks a transfer id as applied on its destination.
func transferFactKey(transferID string) string {
	return factKey("transfer", transferID)
}

// acceptTransfer installs a migrated player. Each step overwrites, so a
// retry after a failed step converges to the same state. The receipt and
// seen mark are written last; a transfer id that already has either is
// only acked again, since the player may have moved on and been released
// here since.
func (l *Ledger) acceptTransfer(ctx context.Context, from string, m protocol.PlayerTransferMsg) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	switch {
	case m.PlayerID == "":
		return Result{}, badRequest("player_id required")
	case m.TransferID == "":
		return Result{}, badRequest("transfer_id required")
	case m.AuthToken == "":
		return Result{}, badRequest("auth_token required")
	}

	var prev TransferReceipt
	hasReceipt, err := l.get(ctx, NSTransferReceipts, m.PlayerID, &prev)
	if err != nil {
		return Result{}, err
	}
	key := transferFactKey(m.TransferID)
	seen := hasReceipt && prev.TransferID == m.TransferID
	if !seen {
		if seen, err = l.factSeen(ctx, key); err != nil {
			return Result{}, err
		}
	}
	if seen {
		if err := l.ackTransfer(ctx, from, m); err != nil {
			return Result{}, err
		}
		return Result{Outcome: OutcomeDuplicate, TransferID: m.TransferID}, nil
	}

	if err := l.put(ctx, NSPlayers, m.PlayerID, m.State); err != nil {
		return Result{}, err
	}
	inv, err := DecodeInventory(m.Inventory)
	if err != nil {
		return Result{}, err
	}
	if err := l.put(ctx, NSInventories, m.PlayerID, inv); err != nil {
		return Result{}, err
	}
	quests, err := DecodeQuests(m.Quests)
	if err != nil {
		return Result{}, err
	}
	if err := l.put(ctx, NSQuests, m.PlayerID, quests); err != nil {
		return Result{}, err
	}
	rec := TransferReceipt{
		TransferID: m.TransferID,
		Source:     from,
		AuthToken:  m.AuthToken,
		Timestamp:  m.Timestamp,
		AppliedAt:  l.nowMicros(),
	}
	if err := l.put(ctx, NSTransferReceipts, m.PlayerID, rec); err != nil {
		return Result{}, err
	}
	if err := l.markSeen(ctx, key, "transfer", m.PlayerID+"/"+m.TransferID); err != nil {
		return Result{}, err
	}
	if err := l.ackTransfer(ctx, from, m); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied, TransferID: m.TransferID}, nil
}

func (l *Ledger) ackTransfer(ctx context.Context, from string, m protocol.PlayerTransferMsg) error {
	if from == "" {
		return nil
	}
	ack := protocol.TransferAckMsg{TransferID: m.TransferID, PlayerID: m.PlayerID}
	return l.send(ctx, from, protocol.KindTransferAck, ack)
}

// acceptTransferAck closes a migration on the source: the pending record
// and the source copy of the player go away. Acks for another transfer
// id are stale.
func (l *Ledger) acceptTransferAck(ctx context.Context, from string, m protocol.TransferAckMsg) (Result, error) {
	if err := l.requireKind(KindWorld); err != nil {
		return Result{}, err
	}
	if m.PlayerID == "" || m.TransferID == "" {
		return Result{}, badRequest("player_id and transfer_id required")
	}
	var p PendingTransfer
	ok, err := l.get(ctx, NSPendingTransfers, m.PlayerID, &p)
	if err != nil {
		return Result{}, err
	}
	if !ok || p.TransferID != m.TransferID || (from != "" && p.Destination != from) {
		return Result{Outcome: OutcomeDuplicate, TransferID: m.TransferID}, nil
	}
	for _, ns := range []string{NSPlayers, NSInventories, NSQuests} {
		if err := l.del(ctx, ns, m.PlayerID); err != nil {
			return Result{}, err
		}
	}
	if err := l.del(ctx, NSPendingTransfers, m.PlayerID); err != nil {
		return Result{}, err
	}
	return Result{Outcome: OutcomeApplied, TransferID: m.TransferID}, nil
}

// SweepReport counts what one sweep did.
type SweepReport struct {
	Retried int
	Expired int
	Failed  int
}

// SweepPendingTransfers resends every pending transfer whose retry time
// has passed, with the same transfer id. A transfer that used up its
// attempts is marked expired and left alone after that.
func (l *Ledger) SweepPendingTransfers(ctx context.Context) (SweepReport, error) {
	var rep SweepReport
	if l.cfg.Kind != KindWorld {
		return rep, nil
	}
	ids, err := l.keys(ctx, NSPendingTransfers)
	if err != nil {
		return rep, err
	}
	now := l.nowMicros()
	for _, id := range ids {
		var p PendingTransfer
		ok, err := l.get(ctx, NSPendingTransfers, id, &p)
		if err != nil {
			return rep, err
		}
		if !ok || p.Status == TransferExpired || now < p.NextRetryAt {
			continue
		}
		if p.Attempts >= l.cfg.Transfer.MaxAttempts {
			p.Status = TransferExpired
			_, err := l.commit(ctx, SourceSweep, "TRANSFER_EXPIRED", p.PlayerID, "", Result{Outcome: OutcomeApplied, TransferID: p.TransferID}, l.put(ctx, NSPendingTransfers, id, p))
			if err != nil {
				return rep, err
			}
			rep.Expired++
			continue
		}
		err = l.resend(ctx, &p, now)
		kind := "TRANSFER_RETRY"
		if p.Status == TransferExpired {
			kind = "TRANSFER_EXPIRED"
		}
		_, _ = l.commit(ctx, SourceSweep, kind, p.PlayerID, "", Result{Outcome: OutcomeApplied, TransferID: p.TransferID}, err)
		var sendErr *SendError
		switch {
		case err == nil:
			rep.Retried++
		case p.Status == TransferExpired && errors.Is(err, ErrNotFound):
			rep.Expired++
		case errors.As(err, &sendErr):
			rep.Failed++
		default:
			return rep, err
		}
	}
	if rep.Retried+rep.Expired+rep.Failed > 0 {
		l.log.Info("pending transfer sweep",
			zap.Int("retried", rep.Retried),
			zap.Int("expired", rep.Expired),
			zap.Int("failed", rep.Failed))
	}
	return rep, nil
}

// resend rebuilds the message from the retained source copy. The attempt
// is counted even when the channel refuses it.
func (l *Ledger) resend(ctx context.Context, p *PendingTransfer, now uint64) error {
	p.Attempts++
	p.Status = TransferRetrying
	p.NextRetryAt = now + uint64(retry.Backoff(p.Attempts, l.cfg.Transfer).Microseconds())

	snap, err := l.readSnapshot(ctx, p.PlayerID)
	if err != nil {
		p.Status = TransferExpired
		if perr := l.put(ctx, NSPendingTransfers, p.PlayerID, *p); perr != nil {
			return perr
		}
		return fmt.Errorf("source copy gone: %w", err)
	}
	sendErr := l.send(ctx, p.Destination, protocol.KindPlayerTransfer, transferMsg(*p, snap))
	if err := l.put(ctx, NSPendingTransfers, p.PlayerID, *p); err != nil {
		return err
	}
	return sendErr
}
