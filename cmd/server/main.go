package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"worldchains.ai/internal/channel"
	"worldchains.ai/internal/logging"
	"worldchains.ai/internal/metrics"
	"worldchains.ai/internal/network"
	"worldchains.ai/internal/persistence/indexdb"
	"worldchains.ai/internal/persistence/snapshot"
)

// serverConfig is read from the environment; flags override it.
type serverConfig struct {
	Addr             string   `env:"WC_ADDR" envDefault:":8080"`
	DataDir          string   `env:"WC_DATA_DIR" envDefault:"./data"`
	WorldsPath       string   `env:"WC_WORLDS" envDefault:"./configs/worlds.yaml"`
	LogLevel         string   `env:"WC_LOG_LEVEL" envDefault:"info"`
	Environment      string   `env:"WC_ENV" envDefault:"production"`
	Channel          string   `env:"WC_CHANNEL" envDefault:"bus"`
	KafkaBrokers     []string `env:"WC_KAFKA_BROKERS" envSeparator:","`
	KafkaTopicPrefix string   `env:"WC_KAFKA_TOPIC_PREFIX" envDefault:"worldchains"`
	RedisAddr        string   `env:"WC_REDIS_ADDR"`
	DisableIndex     bool     `env:"WC_DISABLE_INDEX"`
	KeepSnapshots    int      `env:"WC_KEEP_SNAPSHOTS" envDefault:"3"`
	QueryLoopback    bool     `env:"WC_QUERY_LOOPBACK_ONLY"`
}

func loadServerConfig(args []string) (serverConfig, error) {
	var cfg serverConfig
	if err := env.Parse(&cfg); err != nil {
		return serverConfig{}, fmt.Errorf("parse env: %w", err)
	}
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", cfg.Addr, "http listen address")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "runtime data directory")
	fs.StringVar(&cfg.WorldsPath, "worlds", cfg.WorldsPath, "network config path (defaults are used when the file is missing)")
	fs.StringVar(&cfg.LogLevel, "log_level", cfg.LogLevel, "debug, info, warn or error")
	fs.StringVar(&cfg.Channel, "channel", cfg.Channel, "message channel: bus or kafka")
	brokers := fs.String("kafka_brokers", strings.Join(cfg.KafkaBrokers, ","), "comma separated kafka brokers")
	fs.StringVar(&cfg.RedisAddr, "redis_addr", cfg.RedisAddr, "redis address for the redis store backend")
	fs.BoolVar(&cfg.DisableIndex, "disable_index", cfg.DisableIndex, "disable the sqlite block index")
	fs.IntVar(&cfg.KeepSnapshots, "keep_snapshots", cfg.KeepSnapshots, "live snapshots kept per ledger; older ones are archived")
	if err := fs.Parse(args); err != nil {
		return serverConfig{}, err
	}
	cfg.KafkaBrokers = nil
	for _, b := range strings.Split(*brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
		}
	}
	switch cfg.Channel {
	case "bus":
	case "kafka":
		if len(cfg.KafkaBrokers) == 0 {
			return serverConfig{}, errors.New("channel kafka needs WC_KAFKA_BROKERS")
		}
	default:
		return serverConfig{}, fmt.Errorf("unknown channel %q", cfg.Channel)
	}
	return cfg, nil
}

func main() {
	cfg, err := loadServerConfig(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	logger, err := logging.New(logging.Config{Level: cfg.LogLevel, Environment: cfg.Environment, Service: "worldchains-server"})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg serverConfig, logger *zap.Logger) error {
	netCfg, err := loadNetwork(cfg.WorldsPath)
	if err != nil {
		return err
	}
	if cfg.RedisAddr != "" {
		netCfg.Store.RedisAddr = cfg.RedisAddr
	}
	if err := netCfg.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	sigCtx, stop := signalContext()
	defer stop()
	runCtx, cancelRun := context.WithCancel(context.Background())
	defer cancelRun()

	reg := prometheus.NewRegistry()
	met := metrics.New(reg)

	ch, err := openChannel(cfg, met, logger)
	if err != nil {
		return err
	}
	defer ch.Close()

	var idx *indexdb.SQLiteIndex
	if !cfg.DisableIndex {
		idx, err = indexdb.OpenSQLite(filepath.Join(cfg.DataDir, "index", "blocks.sqlite"))
		if err != nil {
			return fmt.Errorf("open block index: %w", err)
		}
		defer idx.Close()
	}

	stores, err := newStoreFactory(sigCtx, cfg.DataDir, netCfg.Store)
	if err != nil {
		return err
	}
	defer stores.Close()

	snapCh := make(chan snapshot.LedgerV1, 8)
	writer := &snapshotWriter{
		dataDir: cfg.DataDir,
		keep:    cfg.KeepSnapshots,
		index:   idx,
		log:     logger,
	}

	mgr, err := network.NewManager(sigCtx, netCfg, network.Deps{
		Channel:      ch,
		OpenStore:    stores.Open,
		Blocks:       blockLoggers(cfg.DataDir, met, idx),
		Restore:      restoreLatest(cfg.DataDir),
		SnapshotSink: snapCh,
		Logger:       logger,
		StateFile:    filepath.Join(cfg.DataDir, "network", "residency.json"),
		Residents:    met,
	})
	if err != nil {
		return err
	}

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		writer.Run(runCtx, snapCh)
	}()

	runErr := make(chan error, 1)
	go func() {
		runErr <- mgr.Run(runCtx)
		// A failed ledger loop takes the listener down with it.
		stop()
	}()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newMux(mgr, reg, cfg.QueryLoopback, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-sigCtx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = srv.Shutdown(ctx2)
	}()

	logger.Info("listening", zap.String("addr", cfg.Addr), zap.Strings("ledgers", mgr.LedgerIDs()), zap.String("channel", cfg.Channel))
	serveErr := srv.ListenAndServe()
	stop()

	// Ledger loops are still up: take a last snapshot of each before
	// stopping them.
	finalCtx, cancelFinal := context.WithTimeout(context.Background(), 10*time.Second)
	writer.Final(finalCtx, mgr)
	cancelFinal()
	cancelRun()

	var errs []error
	if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
		errs = append(errs, fmt.Errorf("listen: %w", serveErr))
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		errs = append(errs, err)
	}
	<-writerDone
	if err := mgr.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close network: %w", err))
	}
	return errors.Join(errs...)
}

func loadNetwork(path string) (network.Config, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return network.Load("")
		}
		return network.Config{}, err
	}
	return network.Load(path)
}

func openChannel(cfg serverConfig, met *metrics.Metrics, logger *zap.Logger) (channel.Channel, error) {
	if cfg.Channel == "kafka" {
		return channel.NewKafka(channel.KafkaConfig{
			Brokers:     cfg.KafkaBrokers,
			TopicPrefix: cfg.KafkaTopicPrefix,
			Observer:    met,
			Logger:      logger,
		})
	}
	return channel.NewBus(channel.BusOptions{Observer: met, Logger: logger}), nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-ch:
			cancel()
		case <-ctx.Done():
		}
	}()
	return ctx, cancel
}
