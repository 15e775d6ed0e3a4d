package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"drivewatch/config"
	"drivewatch/log"
	"drivewatch/models"
	"drivewatch/services"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	_ "go.uber.org/automaxprocs"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.GetInstance().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize structured logger
	logger := log.Init(log.Options{Level: cfg.LogLevel, File: cfg.LogFile})
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	source, err := services.NewSource(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create telemetry source", zap.Error(err))
	}

	controller := services.NewSessionController(cfg, source, logger)
	dashboard := services.NewDashboardServer(cfg.HTTPAddr, controller, logger)
	controller.AddListener(dashboard.Listener())

	// Initialize alert notifiers
	var notifiers []services.Notifier
	var telegramService *services.TelegramService
	if cfg.TelegramEnabled() {
		telegramService, err = services.NewTelegramService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
		}
		notifiers = append(notifiers, telegramService)
	}

	if cfg.RabbitMQURL != "" {
		rabbitService, err := services.NewRabbitMQService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize RabbitMQ service", zap.Error(err))
		}
		defer rabbitService.Close()
		notifiers = append(notifiers, rabbitService)
	}

	if cfg.HardwareAlertURL != "" {
		notifiers = append(notifiers, services.NewHardwareAlertService(logger, cfg.HardwareAlertURL, cfg.VehicleID))
		logger.Info("Hardware alert service initialized", zap.String("url", cfg.HardwareAlertURL))
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return dashboard.Run(gctx)
	})

	if len(notifiers) > 0 {
		alertEvents := make(chan models.SessionEvent, 32)
		controller.AddListener(services.ForwardEvents("alerts", alertEvents, models.EventReading))
		alertService := services.NewAlertService(cfg, logger, notifiers...)
		g.Go(func() error {
			alertService.Start(gctx, alertEvents)
			return nil
		})
	}

	var batchWriter *services.BatchWriterService
	if cfg.ArchiveEnabled() {
		firebaseService, err := services.NewFirebaseService(ctx, cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize Firebase service", zap.Error(err))
		}
		defer firebaseService.Close()

		historyEvents := make(chan models.SessionEvent, 128)
		controller.AddListener(services.ForwardEvents("archive", historyEvents, models.EventHistory))
		batchWriter = services.NewBatchWriterService(cfg, firebaseService, logger)
		g.Go(func() error {
			batchWriter.Start(gctx, historyEvents)
			return nil
		})
	}

	// Send startup notification
	if telegramService != nil {
		if err := telegramService.SendStartupMessage(cfg.TelemetryURL); err != nil {
			logger.Warn("Failed to send startup message", zap.Error(err))
		}
	}

	logger.Info("DriveWatch dashboard started",
		zap.String("vehicle_id", cfg.VehicleID),
		zap.String("source", cfg.TelemetrySource),
		zap.String("telemetry_url", cfg.TelemetryURL),
		zap.String("http_addr", cfg.HTTPAddr),
		zap.Duration("connection_timeout", cfg.ConnectionTimeout),
		zap.Duration("history_interval", cfg.HistoryInterval),
		zap.Int("history_capacity", cfg.HistoryCapacity),
		zap.Int("notifiers", len(notifiers)),
		zap.Bool("archive", cfg.ArchiveEnabled()),
	)

	controller.Start(gctx, cfg.TelemetryURL)

	err = g.Wait()

	// Perform cleanup
	logger.Info("Starting cleanup")
	controller.Stop()

	if batchWriter != nil && !batchWriter.WaitForShutdown(10*time.Second) {
		logger.Warn("Archive writer did not flush in time")
	}

	if err != nil {
		logger.Error("DriveWatch dashboard stopped with error", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("DriveWatch dashboard stopped")
}
