// Package ws is the websocket operation gateway: a client says HELLO,
// then sends OP frames naming a ledger and gets one OP_RESULT per OP.
package ws

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/protocol"
)

// Executor runs operations against the ledgers of a network.
// *network.Manager satisfies it.
type Executor interface {
	Execute(ctx context.Context, ledgerID string, op protocol.Operation) (ledger.Result, error)
	LedgerIDs() []string
}

type Server struct {
	exec Executor
	log  *zap.Logger

	// OpTimeout bounds a single operation.
	OpTimeout time.Duration

	upgrader websocket.Upgrader
	sessions atomic.Int64
}

func NewServer(exec Executor, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		exec:      exec,
		log:       logger,
		OpTimeout: 10 * time.Second,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  64 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

// Sessions is the number of open connections.
func (s *Server) Sessions() int64 { return s.sessions.Load() }

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sessionID, ok := s.handshake(conn)
		if !ok {
			return
		}
		s.sessions.Add(1)
		defer s.sessions.Add(-1)
		log := s.log.With(zap.String("session", sessionID))
		log.Debug("session opened")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		known := map[string]bool{}
		for _, id := range s.exec.LedgerIDs() {
			known[id] = true
		}

		out := make(chan []byte, 16)
		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			for {
				select {
				case <-ctx.Done():
					return
				case b := <-out:
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			res := s.handleFrame(ctx, known, msg)
			if res == nil {
				continue
			}
			b, err := json.Marshal(res)
			if err != nil {
				log.Error("encode op result", zap.Error(err))
				continue
			}
			select {
			case out <- b:
			case <-ctx.Done():
			}
			if ctx.Err() != nil {
				break
			}
		}
		cancel()
		<-writerDone
		log.Debug("session closed")
	}
}

// handleFrame returns the OP_RESULT for an OP frame and nil for frames
// the gateway ignores.
func (s *Server) handleFrame(ctx context.Context, known map[string]bool, msg []byte) *protocol.OpResultMsg {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeOp {
		return nil
	}
	var req protocol.OpMsg
	if err := json.Unmarshal(msg, &req); err != nil {
		return &protocol.OpResultMsg{Type: protocol.TypeOpResult, Code: protocol.ErrProtoBadRequest, Message: err.Error()}
	}
	res := &protocol.OpResultMsg{Type: protocol.TypeOpResult, Ref: req.Op.Ref, LedgerID: req.LedgerID}
	if !known[req.LedgerID] {
		res.Code = protocol.ErrLedgerNotFound
		res.Message = "unknown ledger " + req.LedgerID
		return res
	}

	opCtx, cancel := context.WithTimeout(ctx, s.OpTimeout)
	defer cancel()
	out, err := s.exec.Execute(opCtx, req.LedgerID, req.Op)
	if err != nil {
		res.Code = ledger.Code(err)
		res.Message = err.Error()
		if !errors.Is(err, context.Canceled) {
			s.log.Debug("op failed",
				zap.String("ledger", req.LedgerID),
				zap.String("op", req.Op.Type),
				zap.String("code", res.Code),
				zap.Error(err))
		}
		return res
	}
	res.OK = true
	res.Outcome = string(out.Outcome)
	res.Height = out.Height
	res.TransferID = out.TransferID
	return res
}

func (s *Server) handshake(conn *websocket.Conn) (string, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return "", false
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected HELLO"), time.Now().Add(time.Second))
		return "", false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return "", false
	}
	if hello.ProtocolVersion != protocol.Version {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "bad protocol_version"), time.Now().Add(time.Second))
		return "", false
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       uuid.NewString(),
		Ledgers:         s.exec.LedgerIDs(),
	}
	if err := writeJSON(conn, welcome); err != nil {
		return "", false
	}
	return welcome.SessionID, true
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
