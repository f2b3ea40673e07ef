// Command bot drives synthetic players through a running server over the
// gateway websocket: saves, battles, achievements and cross-ledger
// transfers.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"worldchains.ai/internal/logging"
)

func main() {
	var cfg botConfig
	var worlds string
	url := flag.String("url", "ws://localhost:8080/v1/ws", "gateway websocket url")
	flag.StringVar(&cfg.Name, "name", "bot", "client name sent in HELLO")
	flag.IntVar(&cfg.Players, "players", 4, "synthetic players")
	flag.IntVar(&cfg.Rounds, "rounds", 10, "rounds per player; 0 runs until interrupted")
	flag.StringVar(&cfg.Hub, "hub", "HUB", "hub ledger id, skipped for player traffic")
	flag.StringVar(&worlds, "worlds", "", "comma separated world ledgers (default: every ledger but the hub)")
	flag.DurationVar(&cfg.Pause, "pause", 200*time.Millisecond, "pause between rounds")
	logLevel := flag.String("log_level", "info", "log level")
	flag.Parse()
	for _, w := range strings.Split(worlds, ",") {
		if w = strings.TrimSpace(w); w != "" {
			cfg.Worlds = append(cfg.Worlds, w)
		}
	}

	logger, err := logging.New(logging.Config{Level: *logLevel, Environment: "development", Service: "worldchains-bot"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, *url, nil)
	if err != nil {
		logger.Fatal("dial", zap.String("url", *url), zap.Error(err))
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		_ = conn.Close()
	}()

	st, err := runBot(ctx, conn, cfg, logger)
	logger.Info("bot finished",
		zap.Int("ops", st.Ops),
		zap.Int("failed", st.Failed),
		zap.Int("transfers", st.Transfers),
		zap.Any("codes", st.Codes),
	)
	if err != nil && ctx.Err() == nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}
