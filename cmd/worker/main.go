package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/vpetrenko/market-sentry/internal/config"
	"github.com/vpetrenko/market-sentry/internal/domain"
	"github.com/vpetrenko/market-sentry/internal/infrastructure/backend"
	"github.com/vpetrenko/market-sentry/internal/infrastructure/binance"
	"github.com/vpetrenko/market-sentry/internal/infrastructure/database"
	"github.com/vpetrenko/market-sentry/internal/infrastructure/telegram"
	"github.com/vpetrenko/market-sentry/internal/server"
	"github.com/vpetrenko/market-sentry/internal/worker"
)

type streamStatus struct {
	name   string
	stream *binance.MarketStream
}

func (s streamStatus) Name() string    { return s.name }
func (s streamStatus) Connected() bool { return s.stream.State() == binance.StateConnected }

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", slog.String("error", err.Error()))
		os.Exit(1)
	}

	defaultThreshold, err := decimal.NewFromString(cfg.VolumeThreshold)
	if err != nil {
		logger.Error("invalid VOLUME_THRESHOLD", slog.String("error", err.Error()))
		os.Exit(1)
	}

	rootCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx := rootCtx

	backendClient := backend.NewClient(cfg.BackendURL, cfg.BackendToken, cfg.BackendTimeout)

	var audit domain.AuditSink
	if cfg.PostgresDSN != "" {
		db, err := database.NewConnection(cfg.PostgresDSN)
		if err != nil {
			logger.Error("failed to connect to database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		repo := database.NewAuditRepository(db, logger)
		if err := repo.EnsureSchema(ctx); err != nil {
			logger.Error("failed to prepare audit schema", slog.String("error", err.Error()))
			os.Exit(1)
		}
		audit = repo
	}

	var fanout domain.Notifier
	if cfg.TelegramToken != "" {
		tg, err := telegram.NewNotifier(cfg.TelegramToken, cfg.TelegramChatID, logger)
		if err != nil {
			logger.Error("failed to init telegram notifier", slog.String("error", err.Error()))
			os.Exit(1)
		}
		fanout = tg
	}

	defaults := domain.Settings{
		VolumeThreshold: defaultThreshold,
		Window:          cfg.Window,
		Cooldown:        cfg.Cooldown,
	}

	g, ctx := errgroup.WithContext(ctx)

	var refreshers []server.Refresher
	var statuses []server.StreamStatus
	for _, name := range cfg.Streams {
		name = strings.ToLower(name)
		baseURL := binance.SpotStreamURL
		if name == "futures" {
			baseURL = binance.FuturesStreamURL
		}

		stream := binance.NewMarketStream(baseURL)
		mgr := worker.NewManager(worker.ManagerParams{
			Name:           name,
			Stream:         stream,
			Reconciler:     worker.NewReconciler(backendClient, cfg.SymbolOverride, cfg.QuoteSuffix, logger),
			Rules:          backendClient,
			Settings:       backendClient,
			Notifier:       backendClient,
			Fanout:         fanout,
			Audit:          audit,
			Defaults:       defaults,
			ReconcileEvery: cfg.ReconcileInterval,
			RefreshEvery:   cfg.RefreshInterval,
			Logger:         logger,
		})

		refreshers = append(refreshers, mgr)
		statuses = append(statuses, streamStatus{name: name, stream: stream})
		g.Go(func() error { return mgr.Run(ctx) })
	}

	admin := server.NewAdmin(cfg.AdminToken, refreshers, statuses, logger)
	g.Go(func() error { return admin.Run(ctx, cfg.AdminAddr) })

	logger.Info("market-sentry started",
		slog.String("env", cfg.Env),
		slog.Any("streams", cfg.Streams),
		slog.Bool("audit", audit != nil),
		slog.Bool("telegram", fanout != nil))

	if err := g.Wait(); err != nil && rootCtx.Err() == nil {
		logger.Error("worker exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("stopped gracefully")
}
