// Package channel moves envelopes between ledgers with at-least-once
// delivery and FIFO order per (from, to) pair.
package channel

import (
	"context"
	"errors"

	"worldchains.ai/internal/protocol"
)

var (
	ErrClosed        = errors.New("channel closed")
	ErrQueueFull     = errors.New("destination queue full")
	ErrConsumerTaken = errors.New("destination already has a consumer")
)

// Handler applies one envelope. A nil return settles the envelope; an
// error has it delivered again.
type Handler func(ctx context.Context, env protocol.Envelope) error

type Channel interface {
	Send(ctx context.Context, env protocol.Envelope) error
	// Consume feeds envelopes addressed to ledgerID to h until ctx ends.
	Consume(ctx context.Context, ledgerID string, h Handler) error
	Close() error
}

// Observer receives queue statistics. *metrics.Metrics satisfies it.
type Observer interface {
	SetQueueDepth(ledgerID string, n int)
	Redelivered(ledgerID string)
}
