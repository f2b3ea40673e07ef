// Package query serves read-only JSON views of ledger state over HTTP.
package query

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"worldchains.ai/internal/ledger"
	"worldchains.ai/internal/protocol"
)

// Querier reads ledgers of a network. *network.Manager satisfies it.
type Querier interface {
	Query(ctx context.Context, ledgerID string, fn func(context.Context, *ledger.Ledger) error) error
	LedgerIDs() []string
	PlayerLedger(playerID string) (string, bool)
}

type Server struct {
	q   Querier
	log *zap.Logger

	// LoopbackOnly rejects requests that do not come from localhost.
	LoopbackOnly bool
	Timeout      time.Duration
}

func NewServer(q Querier, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{q: q, log: logger, Timeout: 5 * time.Second}
}

type LedgerSummary struct {
	ID     string `json:"id"`
	Kind   string `json:"kind"`
	Region string `json:"region"`
	Height uint64 `json:"height"`
}

type PlayerView struct {
	PlayerID  string                  `json:"player_id"`
	State     ledger.PlayerState      `json:"state"`
	Inventory ledger.Inventory        `json:"inventory"`
	Quests    []ledger.Quest          `json:"quests"`
	GuildID   string                  `json:"guild_id,omitempty"`
	Battles   []string                `json:"battles"`
	Pending   *ledger.PendingTransfer `json:"pending_transfer,omitempty"`
	// ArrivedFrom is the source of the last accepted transfer.
	ArrivedFrom string `json:"arrived_from,omitempty"`
}

type GuildView struct {
	ledger.Guild
	JoinRequests []string `json:"join_requests"`
}

type HubView struct {
	TotalChains       uint64   `json:"total_chains"`
	TotalAchievements uint64   `json:"total_achievements"`
	Chains            []string `json:"chains"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Routes registers the query endpoints on mux under /v1.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/ledgers", s.guard(s.handleLedgers))
	mux.HandleFunc("GET /v1/residency/{player}", s.guard(s.handleResidency))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/players/{player}", s.guard(s.handlePlayer))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/players/{player}/achievements", s.guard(s.handlePlayerAchievements))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/guilds/{guild}", s.guard(s.handleGuild))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/battles/{battle}", s.guard(s.handleBattle))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/transfers", s.guard(s.handlePending))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/achievements/{achievement}", s.guard(s.handleAchievement))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/chains/{chain}", s.guard(s.handleChain))
	mux.HandleFunc("GET /v1/ledgers/{ledger}/hub", s.guard(s.handleHub))
}

func (s *Server) guard(h http.HandlerFunc) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if s.LoopbackOnly && !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		h(rw, r)
	}
}

func (s *Server) handleLedgers(rw http.ResponseWriter, r *http.Request) {
	ids := s.q.LedgerIDs()
	out := make([]LedgerSummary, 0, len(ids))
	for _, id := range ids {
		var sum LedgerSummary
		err := s.query(r, id, func(_ context.Context, l *ledger.Ledger) error {
			sum = LedgerSummary{ID: l.ID(), Kind: string(l.Kind()), Region: l.Config().Region, Height: l.Height()}
			return nil
		})
		if err != nil {
			s.writeError(rw, err)
			return
		}
		out = append(out, sum)
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleResidency(rw http.ResponseWriter, r *http.Request) {
	player := r.PathValue("player")
	id, ok := s.q.PlayerLedger(player)
	if !ok {
		s.writeError(rw, ledger.ErrNotFound)
		return
	}
	writeJSON(rw, http.StatusOK, map[string]string{"player_id": player, "ledger_id": id})
}

func (s *Server) handlePlayer(rw http.ResponseWriter, r *http.Request) {
	player := r.PathValue("player")
	v := PlayerView{PlayerID: player}
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		state, ok, err := l.Player(ctx, player)
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrNotFound
		}
		v.State = state
		if v.Inventory, _, err = l.Inventory(ctx, player); err != nil {
			return err
		}
		if v.Quests, _, err = l.Quests(ctx, player); err != nil {
			return err
		}
		if v.GuildID, _, err = l.PlayerGuild(ctx, player); err != nil {
			return err
		}
		if v.Battles, err = l.PlayerBattles(ctx, player); err != nil {
			return err
		}
		p, ok, err := l.PendingTransfer(ctx, player)
		if err != nil {
			return err
		}
		if ok {
			v.Pending = &p
		}
		rec, ok, err := l.TransferReceipt(ctx, player)
		if err != nil {
			return err
		}
		if ok {
			v.ArrivedFrom = rec.Source
		}
		return nil
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	if v.Inventory.Items == nil {
		v.Inventory.Items = []ledger.InventoryItem{}
	}
	if v.Quests == nil {
		v.Quests = []ledger.Quest{}
	}
	if v.Battles == nil {
		v.Battles = []string{}
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handlePlayerAchievements(rw http.ResponseWriter, r *http.Request) {
	var out []ledger.PlayerAchievement
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		out, err = l.PlayerAchievements(ctx, r.PathValue("player"))
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	if out == nil {
		out = []ledger.PlayerAchievement{}
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleGuild(rw http.ResponseWriter, r *http.Request) {
	var v GuildView
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		g, ok, err := l.Guild(ctx, r.PathValue("guild"))
		if err != nil {
			return err
		}
		if !ok {
			return ledger.ErrNotFound
		}
		v.Guild = g
		v.JoinRequests, err = l.JoinRequests(ctx, g.ID)
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	if v.JoinRequests == nil {
		v.JoinRequests = []string{}
	}
	writeJSON(rw, http.StatusOK, v)
}

func (s *Server) handleBattle(rw http.ResponseWriter, r *http.Request) {
	var b ledger.BattleRecord
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		var (
			ok  bool
			err error
		)
		b, ok, err = l.Battle(ctx, r.PathValue("battle"))
		if err == nil && !ok {
			err = ledger.ErrNotFound
		}
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, b)
}

func (s *Server) handlePending(rw http.ResponseWriter, r *http.Request) {
	var out []ledger.PendingTransfer
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		out, err = l.PendingTransfers(ctx)
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleAchievement(rw http.ResponseWriter, r *http.Request) {
	var out []ledger.AchievementRecord
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		var err error
		out, err = l.AchievementRecords(ctx, r.PathValue("achievement"))
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	if out == nil {
		out = []ledger.AchievementRecord{}
	}
	writeJSON(rw, http.StatusOK, out)
}

func (s *Server) handleChain(rw http.ResponseWriter, r *http.Request) {
	var info ledger.WorldChainInfo
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		var (
			ok  bool
			err error
		)
		info, ok, err = l.WorldChain(ctx, r.PathValue("chain"))
		if err == nil && !ok {
			err = ledger.ErrNotFound
		}
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	writeJSON(rw, http.StatusOK, info)
}

func (s *Server) handleHub(rw http.ResponseWriter, r *http.Request) {
	var v HubView
	err := s.query(r, r.PathValue("ledger"), func(ctx context.Context, l *ledger.Ledger) error {
		if l.Kind() != ledger.KindHub {
			return ledger.ErrWrongRole
		}
		var err error
		if v.TotalChains, err = l.Counter(ctx, ledger.CounterTotalChains); err != nil {
			return err
		}
		if v.TotalAchievements, err = l.Counter(ctx, ledger.CounterTotalAchievements); err != nil {
			return err
		}
		v.Chains, err = l.WorldChains(ctx)
		return err
	})
	if err != nil {
		s.writeError(rw, err)
		return
	}
	if v.Chains == nil {
		v.Chains = []string{}
	}
	writeJSON(rw, http.StatusOK, v)
}

var errUnknownLedger = errors.New("unknown ledger")

func (s *Server) query(r *http.Request, ledgerID string, fn func(context.Context, *ledger.Ledger) error) error {
	known := false
	for _, id := range s.q.LedgerIDs() {
		if id == ledgerID {
			known = true
			break
		}
	}
	if !known {
		return errUnknownLedger
	}
	ctx, cancel := context.WithTimeout(r.Context(), s.Timeout)
	defer cancel()
	return s.q.Query(ctx, ledgerID, fn)
}

func (s *Server) writeError(rw http.ResponseWriter, err error) {
	body := errorBody{Code: ledger.Code(err), Message: err.Error()}
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, errUnknownLedger):
		body.Code = protocol.ErrLedgerNotFound
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrWrongRole):
		status = http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ledger.ErrStopped):
		status = http.StatusServiceUnavailable
	default:
		s.log.Warn("query failed", zap.Error(err))
	}
	writeJSON(rw, status, body)
}

func writeJSON(rw http.ResponseWriter, status int, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(v)
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
