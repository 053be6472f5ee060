package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kitchme_bot/internal/availability"
	"kitchme_bot/internal/config"
	"kitchme_bot/internal/health"
	"kitchme_bot/internal/logging"
	"kitchme_bot/internal/report"
	"kitchme_bot/internal/store"
	"kitchme_bot/internal/telegram"
	"kitchme_bot/internal/track"
)

const (
	mongoConnectTimeout     = 10 * time.Second
	mongoDisconnectTimeout  = 5 * time.Second
	telegramShutdownTimeout = 10 * time.Second
	healthShutdownTimeout   = 5 * time.Second
)

func main() {
	configOnly := flag.Bool("config-only", false, "load and print configuration then exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logging.Error("configuration error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		logging.Error("logger setup error", logging.Fields{"error": err})
		fmt.Fprintf(os.Stderr, "logger setup error: %v\n", err)
		os.Exit(1)
	}

	if *configOnly {
		logging.Info("configuration check", logging.Fields{"event": "config_only"})
		fmt.Println("configuration check: ok")
		fmt.Println(config.FormatRedacted(cfg))
		return
	}

	logger.WithFields(logging.Fields{
		"event":    "startup",
		"mongo_db": cfg.MongoDB,
	}).Info("configuration loaded")

	connectCtx, cancel := context.WithTimeout(context.Background(), mongoConnectTimeout)
	mongoManager, err := store.NewManager(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.WithError(err).Error("mongo client setup error")
		fmt.Fprintf(os.Stderr, "mongo client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "mongo_client_ready").Info("mongo client initialized")

	// The bot starts regardless of store health. The tracker probes in the
	// background, and the first successful probe runs schema setup.
	tracker := availability.New(mongoManager.Ping, mongoManager.EnsureSchema, logger)

	probeCtx, cancelProbes := context.WithCancel(context.Background())
	go tracker.Run(probeCtx)

	recorder := track.NewRecorder(mongoManager.Users(), mongoManager.Events(), tracker, logger)
	statsEngine := report.NewEngine(mongoManager.Users(), mongoManager.Events(), tracker, logger)

	tgClient, err := telegram.NewClient(cfg, logger,
		telegram.WithRecorder(recorder),
		telegram.WithStatsProvider(statsEngine),
	)
	if err != nil {
		cancelProbes()
		logger.WithError(err).Error("telegram client setup error")
		fmt.Fprintf(os.Stderr, "telegram client setup error: %v\n", err)
		os.Exit(1)
	}

	logger.WithField("event", "telegram_ready").Info("telegram client initialized")

	signalCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	telegramCtx, cancelTelegram := context.WithCancel(context.Background())
	tgDone := make(chan struct{})

	go func() {
		tgClient.Start(telegramCtx)
		close(tgDone)
	}()

	schedulerCtx, cancelScheduler := context.WithCancel(context.Background())
	if cfg.ReportChatID != 0 {
		scheduler := report.NewScheduler(
			statsEngine,
			tgClient.SendText,
			cfg.ReportChatID,
			cfg.ReportHour,
			cfg.ReportMinute,
			telegram.FixedOffset(cfg.UTCOffsetHours),
			logger,
			report.WithEventRecorder(recorder),
		)
		go scheduler.Run(schedulerCtx)
	} else {
		logger.WithField("event", "report_disabled").Info("report chat is not configured, daily report disabled")
	}

	healthServer := health.NewServer(cfg.HTTPPort, tracker, logger)
	go func() {
		if err := healthServer.ListenAndServe(); err != nil {
			logger.WithError(err).Error("health server error")
		}
	}()

	select {
	case <-signalCtx.Done():
		logger.WithField("event", "shutdown_signal").Info("received termination signal, stopping telegram polling")
	case <-tgDone:
		logger.WithField("event", "telegram_stopped_early").Warn("telegram client stopped before shutdown signal")
	}

	cancelScheduler()
	cancelProbes()
	cancelTelegram()

	waitCtx, cancelWait := context.WithTimeout(context.Background(), telegramShutdownTimeout)
	select {
	case <-tgDone:
	case <-waitCtx.Done():
		logger.WithField("event", "telegram_shutdown_timeout").Warn("timed out waiting for telegram client to stop")
	}
	cancelWait()

	healthCtx, cancelHealth := context.WithTimeout(context.Background(), healthShutdownTimeout)
	if err := healthServer.Shutdown(healthCtx); err != nil {
		logger.WithError(err).Error("health server shutdown error")
	}
	cancelHealth()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
	if err := mongoManager.Close(shutdownCtx); err != nil {
		logger.WithError(err).Error("mongo disconnect error")
	} else {
		logger.WithField("event", "mongo_disconnect").Info("mongo client disconnected")
	}
	cancelShutdown()

	logger.WithField("event", "shutdown_complete").Info("shutdown complete")
}
