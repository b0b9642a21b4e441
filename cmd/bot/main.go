package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"signalbot/internal/config"
	"signalbot/internal/engine"
	"signalbot/internal/exchange/bingx"
	"signalbot/internal/feed/ws"
	"signalbot/internal/logger"
	"signalbot/internal/loop"
	"signalbot/internal/risk"
	"signalbot/internal/state"
)

func main() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logger.New(logger.Config{
		Level:      cfg.Runtime.Log.Level,
		Format:     cfg.Runtime.Log.Format,
		Output:     cfg.Runtime.Log.File,
		MaxSize:    cfg.Runtime.Log.MaxSize,
		MaxBackups: cfg.Runtime.Log.MaxBackups,
		MaxAge:     cfg.Runtime.Log.MaxAge,
		Compress:   cfg.Runtime.Log.Compress,
	})

	logger.Info("Bot started.")
	if cfg.Runtime.DryRun {
		logger.Warn("Dry run mode: orders are logged, never sent.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	client := bingx.New(cfg.Exchange.BaseUrl, cfg.Exchange.ApiKey, cfg.Exchange.Secret, logger)

	feed := ws.New(cfg.Feed.WSUrl, logger)
	if err := feed.Connect(ctx); err != nil {
		logger.WithError(err).Fatal("Alert feed connection failed.")
	}
	defer feed.Close()

	tracker := state.NewTracker()
	gate := risk.NewGate(cfg.Trade, logger)
	eng := engine.New(cfg, client, logger)
	poller := loop.New(cfg, feed, gate, eng, tracker, client, logger)

	go func() {
		if err := poller.Run(ctx); err != nil && err != context.Canceled {
			logger.WithError(err).Fatal("Polling loop exited with an error.")
		}
	}()
	<-sigCh

	cancel()

	logger.Info("Bot stopped.")
}
