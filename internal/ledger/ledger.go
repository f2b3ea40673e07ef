// Package ledger implements one strictly sequential ledger: its player,
// guild, battle and achievement state, the handlers for inbound messages
// and the outbound half of cross-ledger migration.
//
// A Ledger is not safe for concurrent use. Runtime serializes access.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"worldchains.ai/internal/protocol"
	"worldchains.ai/internal/retry"
	"worldchains.ai/internal/store"
)

type Kind string

const (
	KindWorld Kind = "world"
	KindHub   Kind = "hub"
)

func (k Kind) Valid() bool { return k == KindWorld || k == KindHub }

type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
)

// Result is what a successful operation or message handler returns.
type Result struct {
	Outcome    Outcome
	Height     uint64
	TransferID string
}

// Sender hands an envelope to a message channel.
type Sender interface {
	Send(ctx context.Context, env protocol.Envelope) error
}

type Config struct {
	ID     string
	Kind   Kind
	Region string
	// HubID receives achievement reports and registrations from a world.
	HubID string
	// MaxAchievements caps achievements per player on a hub. 0 = unlimited.
	MaxAchievements int
	Transfer        retry.Policy
}

type Options struct {
	Store  store.Store
	Sender Sender
	Logger *zap.Logger
	Blocks BlockLogger
	Now    func() time.Time
}

type Ledger struct {
	cfg    Config
	store  store.Store
	out    Sender
	log    *zap.Logger
	blocks BlockLogger
	now    func() time.Time

	height uint64
}

func New(cfg Config, opts Options) (*Ledger, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("ledger id required")
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("ledger %s: unknown kind %q", cfg.ID, cfg.Kind)
	}
	if cfg.MaxAchievements < 0 {
		return nil, fmt.Errorf("ledger %s: max achievements must be >= 0", cfg.ID)
	}
	if opts.Store == nil {
		return nil, fmt.Errorf("ledger %s: store required", cfg.ID)
	}
	cfg.Transfer = cfg.Transfer.Normalize()
	l := &Ledger{
		cfg:    cfg,
		store:  opts.Store,
		out:    opts.Sender,
		log:    opts.Logger,
		blocks: opts.Blocks,
		now:    opts.Now,
	}
	if l.log == nil {
		l.log = zap.NewNop()
	}
	l.log = l.log.With(zap.String("ledger", cfg.ID))
	if l.now == nil {
		l.now = time.Now
	}
	return l, nil
}

// Init checks the store belongs to a ledger of the same kind, records
// kind and region, and restores the block height.
func (l *Ledger) Init(ctx context.Context) error {
	b, ok, err := l.store.Get(ctx, NSMeta, "kind")
	if err != nil {
		return &StoreError{Op: "get", Namespace: NSMeta, Key: "kind", Cause: err}
	}
	if ok && Kind(b) != l.cfg.Kind {
		return fmt.Errorf("ledger %s: store holds a %s ledger, configured as %s", l.cfg.ID, b, l.cfg.Kind)
	}
	if b, ok, err := l.store.Get(ctx, NSMeta, "height"); err != nil {
		return &StoreError{Op: "get", Namespace: NSMeta, Key: "height", Cause: err}
	} else if ok {
		h, err := strconv.ParseUint(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("ledger %s: bad stored height %q", l.cfg.ID, b)
		}
		l.height = h
	}
	for k, v := range map[string]string{"kind": string(l.cfg.Kind), "region": l.cfg.Region} {
		if err := l.store.Put(ctx, NSMeta, k, []byte(v)); err != nil {
			return &StoreError{Op: "put", Namespace: NSMeta, Key: k, Cause: err}
		}
	}
	return nil
}

func (l *Ledger) ID() string     { return l.cfg.ID }
func (l *Ledger) Kind() Kind     { return l.cfg.Kind }
func (l *Ledger) Height() uint64 { return l.height }
func (l *Ledger) Config() Config { return l.cfg }

// Execute applies one client operation.
func (l *Ledger) Execute(ctx context.Context, op protocol.Operation) (Result, error) {
	var (
		res Result
		err error
	)
	switch op.Type {
	case protocol.OpSavePlayerState:
		res, err = l.savePlayerState(ctx, op)
	case protocol.OpSaveInventory:
		res, err = l.saveInventory(ctx, op)
	case protocol.OpSaveQuests:
		res, err = l.saveQuests(ctx, op)
	case protocol.OpTransferPlayer:
		res, err = l.transferPlayer(ctx, op)
	case protocol.OpJoinGuild:
		res, err = l.joinGuild(ctx, op)
	case protocol.OpRecordBattle:
		res, err = l.recordBattleOp(ctx, op)
	case protocol.OpReportAchievement:
		res, err = l.reportAchievement(ctx, op)
	case protocol.OpRegisterWithHub:
		res, err = l.registerWithHub(ctx, op)
	case protocol.OpSubmitAchievement:
		res, err = l.submitAchievementOp(ctx, op)
	case protocol.OpRegisterWorldChain:
		res, err = l.registerWorldChainOp(ctx, op)
	default:
		err = badRequest("unknown operation %q", op.Type)
	}
	return l.commit(ctx, SourceOp, op.Type, opRef(op), "", res, err)
}

// Deliver applies one inbound message.
func (l *Ledger) Deliver(ctx context.Context, env protocol.Envelope) (Result, error) {
	var (
		res Result
		err error
		ref string
	)
	switch env.Kind {
	case protocol.KindPlayerTransfer:
		var m protocol.PlayerTransferMsg
		if err = decodePayload(env, &m); err == nil {
			ref = m.PlayerID
			res, err = l.acceptTransfer(ctx, env.From, m)
		}
	case protocol.KindTransferAck:
		var m protocol.TransferAckMsg
		if err = decodePayload(env, &m); err == nil {
			ref = m.PlayerID
			res, err = l.acceptTransferAck(ctx, env.From, m)
		}
	case protocol.KindGuildJoinRequest:
		var m protocol.GuildJoinRequestMsg
		if err = decodePayload(env, &m); err == nil {
			ref = m.GuildID
			res, err = l.acceptJoin(ctx, m)
		}
	case protocol.KindBattleResult:
		var m protocol.BattleResultMsg
		if err = decodePayload(env, &m); err == nil {
			ref = m.BattleID
			res, err = l.recordBattle(ctx, m)
		}
	case protocol.KindAchievementSubmitted:
		var m protocol.AchievementSubmittedMsg
		if err = decodePayload(env, &m); err == nil {
			ref = m.PlayerID
			if m.ChainID == "" {
				m.ChainID = env.From
			}
			res, err = l.submitAchievement(ctx, m)
		}
	case protocol.KindWorldChainRegistered:
		var m protocol.WorldChainRegisteredMsg
		if err = decodePayload(env, &m); err == nil {
			ref = m.ChainID
			if m.ChainID == "" {
				m.ChainID = env.From
			}
			res, err = l.registerWorldChain(ctx, m)
		}
	default:
		err = badRequest("unknown message kind %q", env.Kind)
	}
	return l.commit(ctx, SourceMsg, env.Kind, ref, env.From, res, err)
}

func decodePayload(env protocol.Envelope, dst any) error {
	if err := env.DecodePayload(dst); err != nil {
		return &DecodeError{Field: "payload", Cause: err}
	}
	return nil
}

func opRef(op protocol.Operation) string {
	switch {
	case op.BattleID != "":
		return op.BattleID
	case op.PlayerID != "":
		return op.PlayerID
	case op.ChainID != "":
		return op.ChainID
	}
	return op.Ref
}

func (l *Ledger) commit(ctx context.Context, source Source, kind, ref, from string, res Result, err error) (Result, error) {
	l.height++
	if err != nil {
		res = Result{}
	}
	res.Height = l.height
	if perr := l.store.Put(ctx, NSMeta, "height", []byte(strconv.FormatUint(l.height, 10))); perr != nil {
		l.log.Warn("persist height", zap.Uint64("height", l.height), zap.Error(perr))
	}

	entry := BlockEntry{
		Height:  l.height,
		Ledger:  l.cfg.ID,
		Source:  source,
		Kind:    kind,
		Ref:     ref,
		From:    from,
		Outcome: string(res.Outcome),
		At:      l.now().UnixMicro(),
	}
	if err != nil {
		entry.Code = Code(err)
		entry.Error = err.Error()
		l.log.Warn("entry failed",
			zap.String("source", string(source)),
			zap.String("kind", kind),
			zap.String("ref", ref),
			zap.String("code", entry.Code),
			zap.Error(err))
	} else if res.Outcome == OutcomeDuplicate {
		l.log.Debug("duplicate ignored", zap.String("kind", kind), zap.String("ref", ref))
	}
	if l.blocks != nil {
		if werr := l.blocks.WriteBlock(entry); werr != nil {
			l.log.Warn("block log write", zap.Error(werr))
		}
	}
	return res, err
}

func (l *Ledger) nowMicros() uint64 {
	return uint64(l.now().UnixMicro())
}

func (l *Ledger) requireKind(k Kind) error {
	if l.cfg.Kind != k {
		return fmt.Errorf("%w: %s ledger %s", ErrWrongRole, l.cfg.Kind, l.cfg.ID)
	}
	return nil
}

func (l *Ledger) send(ctx context.Context, to, kind string, payload any) error {
	if l.out == nil {
		return &SendError{To: to, Kind: kind, Cause: errors.New("no channel attached")}
	}
	env, err := protocol.NewEnvelope(kind, l.cfg.ID, to, payload, l.now())
	if err != nil {
		return &SendError{To: to, Kind: kind, Cause: err}
	}
	if err := l.out.Send(ctx, env); err != nil {
		return &SendError{To: to, Kind: kind, Cause: err}
	}
	return nil
}

func (l *Ledger) get(ctx context.Context, ns, key string, dst any) (bool, error) {
	ok, err := store.GetJSON(ctx, l.store, ns, key, dst)
	if err != nil {
		return false, &StoreError{Op: "get", Namespace: ns, Key: key, Cause: err}
	}
	return ok, nil
}

func (l *Ledger) put(ctx context.Context, ns, key string, v any) error {
	if err := store.PutJSON(ctx, l.store, ns, key, v); err != nil {
		return &StoreError{Op: "put", Namespace: ns, Key: key, Cause: err}
	}
	return nil
}

func (l *Ledger) del(ctx context.Context, ns, key string) error {
	if err := l.store.Delete(ctx, ns, key); err != nil {
		return &StoreError{Op: "delete", Namespace: ns, Key: key, Cause: err}
	}
	return nil
}

func (l *Ledger) keys(ctx context.Context, ns string) ([]string, error) {
	keys, err := l.store.Keys(ctx, ns)
	if err != nil {
		return nil, &StoreError{Op: "keys", Namespace: ns, Cause: err}
	}
	return keys, nil
}
