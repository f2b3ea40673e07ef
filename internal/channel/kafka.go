package channel

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
)

type KafkaConfig struct {
	Brokers []string
	// TopicPrefix names destination topics <prefix>.<ledger_id>.
	TopicPrefix string
	// GroupPrefix names consumer groups <prefix>.<ledger_id>.
	GroupPrefix string
	Redelivery  retry.Policy
	// Observer gets consumer lag as queue depth and every redelivery.
	Observer Observer
	Logger   *zap.Logger
}

// Kafka is a Channel on one topic per destination ledger. Messages are
// keyed by the sending ledger, so a pair shares a partition and keeps its
// order. Offsets are committed only after the handler accepted the
// envelope.
type Kafka struct {
	cfg KafkaConfig
	log *zap.Logger
	w   *kafka.Writer

	mu      sync.Mutex
	readers map[string]*kafka.Reader
	closed  bool
}

func NewKafka(cfg KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "worldchains"
	}
	if cfg.GroupPrefix == "" {
		cfg.GroupPrefix = cfg.TopicPrefix
	}
	if cfg.Redelivery.InitialInterval <= 0 {
		cfg.Redelivery = retry.Policy{InitialInterval: 200 * time.Millisecond, MaxInterval: 10 * time.Second, Multiplier: 2}
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	w := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}
	return &Kafka{cfg: cfg, log: log, w: w, readers: map[string]*kafka.Reader{}}, nil
}

func (k *Kafka) Topic(ledgerID string) string {
	return k.cfg.TopicPrefix + "." + ledgerID
}

func (k *Kafka) group(ledgerID string) string {
	return k.cfg.GroupPrefix + "." + ledgerID
}

func (k *Kafka) Send(ctx context.Context, env protocol.Envelope) error {
	b, err := protocol.EncodeEnvelope(env)
	if err != nil {
		return err
	}
	return k.w.WriteMessages(ctx, kafka.Message{
		Topic: k.Topic(env.To),
		Key:   []byte(env.From),
		Value: b,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(env.Kind)},
		},
	})
}

func (k *Kafka) Consume(ctx context.Context, ledgerID string, h Handler) error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return ErrClosed
	}
	if _, ok := k.readers[ledgerID]; ok {
		k.mu.Unlock()
		return ErrConsumerTaken
	}
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.cfg.Brokers,
		Topic:    k.Topic(ledgerID),
		GroupID:  k.group(ledgerID),
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	k.readers[ledgerID] = r
	k.mu.Unlock()

	defer func() {
		k.mu.Lock()
		delete(k.readers, ledgerID)
		k.mu.Unlock()
		_ = r.Close()
	}()

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka fetch %s: %w", k.Topic(ledgerID), err)
		}
		env, err := protocol.DecodeEnvelope(m.Value)
		if err != nil {
			// Undecodable bytes never become valid; skip them.
			k.log.Error("drop undecodable envelope",
				zap.String("topic", m.Topic),
				zap.Int64("offset", m.Offset),
				zap.Error(err))
		} else if err := k.deliver(ctx, ledgerID, env, h); err != nil {
			return err
		}
		if err := r.CommitMessages(ctx, m); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("kafka commit %s: %w", k.Topic(ledgerID), err)
		}
		if k.cfg.Observer != nil {
			k.cfg.Observer.SetQueueDepth(ledgerID, int(max(r.Stats().Lag, 0)))
		}
	}
}

// deliver retries h until it accepts env or ctx ends.
func (k *Kafka) deliver(ctx context.Context, ledgerID string, env protocol.Envelope, h Handler) error {
	for failures := 1; ; failures++ {
		err := h(ctx, env)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if k.cfg.Observer != nil {
			k.cfg.Observer.Redelivered(ledgerID)
		}
		k.log.Warn("delivery failed, will redeliver",
			zap.String("to", ledgerID),
			zap.String("kind", env.Kind),
			zap.String("id", env.ID),
			zap.Int("failures", failures),
			zap.Error(err))
		t := time.NewTimer(retry.Backoff(failures, k.cfg.Redelivery))
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
	}
}

func (k *Kafka) Close() error {
	k.mu.Lock()
	k.closed = true
	k.mu.Unlock()
	return k.w.Close()
}
