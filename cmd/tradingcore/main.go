// Command tradingcore boots the full trading core: matching engine,
// price engine, portfolio store, settlement coordinator, analytics
// recorder, market orchestration, and the webhook HTTP/websocket
// surface, all sharing one Postgres-compatible store and one event bus.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/marketsim/tradingcore/internal/analytics"
	"github.com/marketsim/tradingcore/internal/circuitbreaker"
	"github.com/marketsim/tradingcore/internal/config"
	"github.com/marketsim/tradingcore/internal/core/events"
	"github.com/marketsim/tradingcore/internal/market"
	"github.com/marketsim/tradingcore/internal/matching"
	"github.com/marketsim/tradingcore/internal/metrics"
	"github.com/marketsim/tradingcore/internal/portfolio"
	"github.com/marketsim/tradingcore/internal/priceengine"
	"github.com/marketsim/tradingcore/internal/settlement"
	"github.com/marketsim/tradingcore/internal/store"
	"github.com/marketsim/tradingcore/internal/webhook"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()

	if err := run(logger); err != nil {
		logger.Fatal().Err(err).Msg("tradingcore exited with error")
	}
}

func run(logger zerolog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		zerolog.SetGlobalLevel(lvl)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	breakers := circuitbreaker.NewManager(logger)

	pool, err := store.Open(ctx, cfg.Database, breakers, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.InitSchema(ctx); err != nil {
		return err
	}

	m := metrics.NewTradingMetrics(prometheus.DefaultRegisterer)
	bus := events.NewEventBus(cfg.Market.WebhookQueueSize, logger)
	defer bus.Close()

	matchingRepo := matching.NewPostgresRepository(pool, logger)
	engine := matching.NewEngine(matchingRepo, bus, m, logger)
	defer engine.Stop()

	priceRepo := priceengine.NewPostgresRepository(pool, logger)
	priceEngine := priceengine.New(cfg.Market.PriceVolatility, priceRepo, bus, logger)
	for _, s := range cfg.Market.InitialStocks {
		if err := priceEngine.InitializeStock(ctx, s.Symbol, decimal.NewFromFloat(s.Price)); err != nil {
			logger.Warn().Err(err).Str("symbol", s.Symbol).Msg("initializing stock")
		}
	}
	// Hydrate any symbol the store already knows about from a prior run
	// that InitialStocks didn't re-list (InitializeStock above only seeds
	// symbols missing from the in-memory table, so this never clobbers
	// the quotes just seeded).
	if err := priceEngine.LoadFromStore(ctx); err != nil {
		logger.Warn().Err(err).Msg("hydrating price engine from store")
	}

	portfolioRepo := portfolio.NewPostgresRepository(pool, logger)
	portfolioStore := portfolio.New(portfolioRepo, bus, logger)

	analyticsRepo := analytics.NewPostgresRepository(pool, logger)
	analyticsRecorder := analytics.New(analyticsRepo, priceEngine, portfolioStore, bus, logger)

	settlementRepo := settlement.NewPostgresRepository(pool, logger)
	coordinator := settlement.New(portfolioStore, priceEngine, analyticsRecorder, settlementRepo, bus, m, logger)

	engine.SetSettler(coordinator)
	engine.SetPriceApplier(priceEngine)

	mkt := market.New(engine, portfolioStore, matchingRepo, priceEngine, bus, logger)

	webhookRepo := webhook.NewPostgresRepository(pool, logger)
	deliverer := webhook.NewDeliverer(16, m, breakers, logger)
	webhookMgr := webhook.NewManager(webhookRepo, deliverer, logger)

	httpServer := webhook.NewServer(cfg.Server.Addr(), webhookMgr, deliverer, mkt, priceEngine, bus, pool, m, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		webhookMgr.Run(gctx, bus)
		return nil
	})

	g.Go(func() error {
		return httpServer.Start()
	})

	var shutdownErr error
	g.Go(func() error {
		<-gctx.Done()
		shutdownErr = httpServer.Shutdown(context.Background())
		return nil
	})

	logger.Info().Str("addr", cfg.Server.Addr()).Msg("tradingcore started")

	runErr := g.Wait()
	return multierr.Combine(runErr, shutdownErr)
}
