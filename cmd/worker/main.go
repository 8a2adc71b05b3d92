package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"referral-fee-bot/internal/browser"
	"referral-fee-bot/internal/config"
	"referral-fee-bot/internal/store"
	"referral-fee-bot/internal/telemetry"
	"referral-fee-bot/internal/totp"
	workerproc "referral-fee-bot/internal/worker"
)

func main() {
	cfg := config.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	if err := cfg.ValidateWorker(); err != nil {
		logger.Fatal("configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()

	st, err := store.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("connect postgres", zap.Error(err))
	}
	defer st.Close()

	if err := st.RunMigrations(ctx); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	var codes browser.CodeSource
	if cfg.TOTPSecret != "" {
		gen, err := totp.New(cfg.TOTPSecret)
		if err != nil {
			logger.Fatal("totp secret", zap.Error(err))
		}
		codes = gen
	}

	drv := browser.New(browser.Options{
		BaseURL:            cfg.BaseURL,
		LoginPath:          cfg.LoginPath,
		MatterPathTemplate: cfg.MatterPathTemplate,
		Headless:           cfg.Headless,
		NavTimeout:         cfg.NavTimeout,
		ElementWait:        cfg.ElementWait,
		SettleDelay:        cfg.SettleDelay,
		ScreenshotDir:      cfg.ScreenshotDir,
	}, logger.Named("browser"))

	// Launch failures are environmental; retry a few times before giving up.
	// The browser gets a background context so signal cancellation never
	// kills it mid-job; the processor owns graceful teardown.
	var launchErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if launchErr = drv.Launch(context.Background()); launchErr == nil {
			break
		}
		logger.Warn("browser launch failed", zap.Int("attempt", attempt), zap.Error(launchErr))
		time.Sleep(2 * time.Second)
	}
	if launchErr != nil {
		logger.Fatal("launch browser", zap.Error(launchErr))
	}

	session := browser.NewSession(drv, browser.Credentials{
		Username: cfg.Username,
		Password: cfg.Password,
	}, codes, logger.Named("session"))

	runner := workerproc.NewFeeRunner(drv, session, workerproc.FeeSelectors{
		Checkbox:   cfg.FeeCheckboxSelector,
		Assignee:   cfg.AssigneeSelector,
		Percentage: cfg.PercentageSelector,
	}, logger.Named("runner"))

	processor := workerproc.NewProcessor(cfg, st, runner, logger.Named("processor"))

	go func() {
		if err := http.ListenAndServe(cfg.MetricsAddr, telemetry.Handler()); err != nil {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()

	logger.Info("worker started",
		zap.Duration("poll_interval", cfg.PollInterval),
		zap.Bool("headless", cfg.Headless),
		zap.Bool("totp_configured", codes != nil),
	)
	if err := processor.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker stopped", zap.Error(err))
	}
	logger.Info("worker stopped")
}
