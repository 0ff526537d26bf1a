package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"github.com/KnotATypo/Telegram-Bots/internal/bot"
	"github.com/KnotATypo/Telegram-Bots/internal/classifier"
	"github.com/KnotATypo/Telegram-Bots/internal/dispatcher"
	"github.com/KnotATypo/Telegram-Bots/internal/metrics"
	"github.com/KnotATypo/Telegram-Bots/internal/powermeter"
	"github.com/KnotATypo/Telegram-Bots/internal/scheduler"
	"github.com/KnotATypo/Telegram-Bots/internal/storage"
	"github.com/KnotATypo/Telegram-Bots/internal/telegram"
	"github.com/KnotATypo/Telegram-Bots/internal/webhook"
	"github.com/KnotATypo/Telegram-Bots/pkg/config"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("Failed to load .env", zap.Error(err))
	}

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	// Load configuration
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", configPath))
	}

	configured, err := newLogger(cfg.Log)
	if err != nil {
		logger.Fatal("Failed to build logger", zap.Error(err))
	}
	logger = configured
	defer logger.Sync()

	// Initialize storage
	store, err := storage.New(storage.DatabaseConfig{
		Driver:   cfg.Database.Driver,
		Path:     cfg.Database.Path,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	logger.Info("Storage ready", zap.String("driver", cfg.Database.Driver))

	meter := powermeter.NewMeter(
		powermeter.NewFFmpegDecoder(cfg.PowerMeter.FFmpeg, cfg.PowerMeter.FFprobe, cfg.PowerMeter.Width, cfg.PowerMeter.Height),
		classifier.NewRedClassifier(cfg.PowerMeter.Width, cfg.PowerMeter.Height, uint8(cfg.PowerMeter.Intensity), cfg.PowerMeter.MinPixels),
		logger,
	)

	registry := webhook.NewRegistry()
	var runners []*scheduler.Runner

	tenants := make([]string, 0, len(cfg.Bots))
	for tenant := range cfg.Bots {
		tenants = append(tenants, tenant)
	}
	slices.Sort(tenants)

	for _, tenant := range tenants {
		botCfg := cfg.Bots[tenant]
		botLogger := logger.With(zap.String("tenant", tenant))

		client, err := telegram.New(botCfg.Token, cfg.Telegram.APIEndpoint, cfg.Telegram.FileEndpoint, botLogger)
		if err != nil {
			logger.Fatal("Failed to create Telegram client", zap.String("tenant", tenant), zap.Error(err))
		}

		switch botCfg.Kind {
		case config.KindExpiry:
			expiry := bot.NewExpiry(store, time.Now, botLogger)
			b := bot.New(tenant, botCfg.Secret, expiry, client, botLogger)
			registry.Register(b)

			schedule, err := scheduler.ParseDaily(botCfg.NotifyAt, time.Local)
			if err != nil {
				logger.Fatal("Invalid notification time", zap.String("tenant", tenant), zap.Error(err))
			}
			runners = append(runners, scheduler.NewRunner(tenant+"-notifier", schedule, notifier(expiry, b, botLogger), botLogger))
		case config.KindTools:
			tools := bot.NewTools(store, client, meter, time.Now, botLogger)
			registry.Register(bot.New(tenant, botCfg.Secret, tools, client, botLogger))
		}
	}

	// Handlers run on their own context so that in-flight events finish
	// during shutdown.
	d := dispatcher.New(cfg.Dispatcher.Workers, logger)
	d.Start(context.Background())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, r := range runners {
		r.Start(ctx)
	}

	server := webhook.NewServer(cfg.Server.Addr, registry, d, logger)
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case err := <-errCh:
		if err != nil {
			logger.Error("Webhook server failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shut down webhook server", zap.Error(err))
	}
	for _, r := range runners {
		r.Stop()
	}
	d.Stop()
	logger.Info("Stopped")
}

// notifier sends the expiry reminders due at the fire time.
func notifier(expiry *bot.Expiry, b *bot.Bot, logger *zap.Logger) scheduler.Job {
	return func(ctx context.Context, at time.Time) {
		replies, err := expiry.DueNotifications(ctx, at)
		if err != nil {
			logger.Error("Failed to collect expiry notifications", zap.Error(err))
			return
		}
		logger.Info("Sending expiry notifications", zap.Int("count", len(replies)))
		b.Deliver(ctx, replies...)
		metrics.NotificationsSent.Add(float64(len(replies)))
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if cfg.Development {
		zapCfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zapCfg.Level = zap.NewAtomicLevelAt(level)
	return zapCfg.Build()
}
