package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"saddlebag/internal/config"
	"saddlebag/internal/logging"
	"saddlebag/internal/shell"
	"saddlebag/pkg/bag"
	boltstore "saddlebag/pkg/store/bolt"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	dataDir := flag.String("data-dir", "", "data directory (overrides config)")
	name := flag.String("name", "", "store name (overrides config)")
	ephemeral := flag.Bool("ephemeral", false, "keep bags in memory only")
	logLevel := flag.String("log-level", "", "log level (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// CLI flags override config file values
	if *dataDir != "" {
		cfg.Store.DataDir = *dataDir
	}
	if *name != "" {
		cfg.Store.Name = *name
	}
	if *ephemeral {
		cfg.Store.Stateful = false
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	logging.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger := logging.For("main")

	cfg.Store.DataDir = config.ExpandHome(cfg.Store.DataDir)
	if cfg.Store.Stateful {
		if err := os.MkdirAll(cfg.Store.DataDir, 0700); err != nil {
			log.Fatalf("creating data dir: %v", err)
		}
	}

	mgr := bag.CreateManager(cfg.Store.Stateful,
		bag.WithStore(boltstore.Opener(cfg.DBPath(), cfg.Store.Name, cfg.Store.Version)),
		bag.WithQueueSize(cfg.Store.QueueSize),
		bag.WithErrorHandler(func(err error) {
			var pe *bag.PersistError
			if errors.As(err, &pe) {
				logger.Warn("bag persistence failed", "bag", pe.BagID, "op", pe.Op, "err", pe.Err)
				return
			}
			logger.Warn("bag persistence failed", "err", err)
		}),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if mgr.Stateful() {
		if _, err := mgr.LoadStatefulBags(ctx); err != nil {
			log.Fatalf("loading bags: %v", err)
		}
		logger.Info("store ready", "path", cfg.DBPath(), "bags", len(mgr.Names()))
	}

	reg := shell.NewCommandRegistry()
	reg.RegisterBuiltins()
	registerBagCommands(reg, mgr, newSession(mgr, "default"))

	if err := shell.RunStdio("[default]> ", reg); err != nil {
		logger.Error("shell", "err", err)
	}

	shutdown := context.Background()
	if d := cfg.Store.FlushTimeout.Duration; d > 0 {
		var stop context.CancelFunc
		shutdown, stop = context.WithTimeout(shutdown, d)
		defer stop()
	}
	if err := mgr.Close(shutdown); err != nil {
		slog.Error("closing store", "err", err)
		os.Exit(1)
	}
}
