package main

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"keel/internal/config"
	"keel/internal/gateway/binance"
	"keel/internal/gateway/notifier"
	"keel/internal/gateway/record"
	"keel/internal/health"
	"keel/internal/journal"
	"keel/internal/logger"
	"keel/internal/reconcile"
	"keel/internal/runtime"
	"keel/internal/store/eventlog"
	statushttp "keel/internal/transport/http"
)

func main() {
	cfgPath := os.Getenv("KEEL_CONFIG")
	if cfgPath == "" {
		cfgPath = "configs/config.yaml"
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("load config failed: %v", err)
	}
	logFile, err := setupLogOutput(cfg.App.LogPath)
	if err != nil {
		log.Fatalf("init log file failed: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}
	logger.SetLevel(cfg.App.LogLevel)
	logger.Infof("config loaded (env=%s bot=%s symbol=%s)", cfg.App.Env, cfg.Bot.ID, cfg.Bot.Symbol)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gateway, err := record.NewClient(cfg.Record, cfg.Bot.ID)
	if err != nil {
		log.Fatalf("init record gateway failed: %v", err)
	}
	provider, err := binance.New(cfg.Exchange)
	if err != nil {
		log.Fatalf("init exchange provider failed: %v", err)
	}

	reporter := health.NewReporter(cfg.Bot.ID, gateway, health.Options{
		Tier:          cfg.Health.Tier,
		Window:        cfg.Health.Window(),
		Debounce:      cfg.Health.Debounce(),
		CriticalDelay: cfg.Health.CriticalDelay(),
	})

	var alerts *notifier.Alerts
	if cfg.Notify.Telegram.Enabled {
		tg := notifier.NewTelegram(cfg.Notify.Telegram.BotToken, cfg.Notify.Telegram.ChatID)
		alerts = notifier.NewAlerts(tg, cfg.Bot.ID)
	}

	events, err := eventlog.Open(cfg.Store.EventLogPath)
	if err != nil {
		log.Fatalf("init event log failed: %v", err)
	}
	defer events.Close()

	jrnl := journal.New(cfg.Journal, gateway, reporter)
	jrnl.SetAuditor(events)
	if alerts != nil {
		jrnl.SetAlerter(alerts)
	}
	confirmer := reconcile.NewOrderTrailConfirmer(jrnl, provider)
	reconciler := reconcile.New(cfg.Reconcile, cfg.Bot, gateway, provider, confirmer, reporter)
	if alerts != nil {
		reconciler.SetAlerter(alerts)
	}
	reconciler.SetAuditor(events)

	loop := runtime.NewLoop(cfg.Reconcile, reconciler, reporter)
	loop.SetAuditor(events)
	if alerts != nil {
		loop.SetAlerter(alerts)
	}

	if err := config.Watch(cfgPath, func(t config.RuntimeToggles) {
		logger.SetLevel(t.LogLevel)
		reporter.SetTier(t.Tier)
		logger.Infof("config reloaded (log_level=%s tier=%s)", t.LogLevel, t.Tier)
	}); err != nil {
		logger.Warnf("config watch unavailable: %v", err)
	}

	if cfg.Server.Enabled {
		srv, err := statushttp.NewServer(statushttp.ServerConfig{
			Addr:     cfg.Server.Addr,
			BotID:    cfg.Bot.ID,
			Symbol:   cfg.Bot.Symbol,
			Loop:     loop,
			Reporter: reporter,
			Gateway:  gateway,
			Events:   events,
		})
		if err != nil {
			log.Fatalf("init status server failed: %v", err)
		}
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.Errorf("status server exited: %v", err)
			}
		}()
		logger.Infof("status server listening on %s", srv.Addr())
	}

	loop.Run(ctx)

	// flush whatever evidence is still pending before exit
	flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reporter.FlushNow(flushCtx, "shutdown")
	logger.Infof("keel stopped")
}

func setupLogOutput(path string) (*os.File, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, nil
	}
	dir := filepath.Dir(trimmed)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	file, err := os.OpenFile(trimmed, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	mw := io.MultiWriter(os.Stdout, file)
	log.SetOutput(mw)
	logger.SetOutput(mw)
	return file, nil
}
