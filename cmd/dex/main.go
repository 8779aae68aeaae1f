package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/efreitasn/dex/internal/cache/redis"
	"github.com/efreitasn/dex/internal/config"
	"github.com/efreitasn/dex/internal/domain"
	"github.com/efreitasn/dex/internal/events/kafka"
	"github.com/efreitasn/dex/internal/handler"
	"github.com/efreitasn/dex/internal/logging"
	"github.com/efreitasn/dex/internal/service"
	"github.com/efreitasn/dex/internal/storage"
	"github.com/efreitasn/dex/internal/store"
	"github.com/efreitasn/dex/internal/store/postgres"
	"github.com/efreitasn/dex/internal/token"
)

func main() {
	healthcheck := flag.Bool("healthcheck", false, "Run health check against running server")
	configPath := flag.String("config", os.Getenv("DEX_CONFIG"), "Path to a TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Handle -healthcheck flag: HTTP GET to localhost:port/healthz, exit 0/1.
	if *healthcheck {
		if err := checkHealth(http.DefaultClient, fmt.Sprintf("http://localhost:%d/healthz", cfg.Port)); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("exchange stopped", zap.Error(err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

// checkHealth GETs url and fails unless the server answers 200.
func checkHealth(client *http.Client, url string) error {
	resp, err := client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz returned %d", resp.StatusCode)
	}
	return nil
}

// run wires the exchange and serves HTTP until ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	quote, err := domain.ParseTicker(cfg.QuoteSymbol)
	if err != nil {
		return err
	}
	exCfg := service.ExchangeConfig{
		Quote:   quote,
		Owner:   cfg.OwnerAddress(),
		Custody: cfg.Custody(),
		Logger:  logger,
	}

	// The custody ledger is journaled next to the exchange state so
	// restored balances stay withdrawable.
	bank := token.NewBank()
	var journal *storage.PebbleStore
	if cfg.DataDir != "" {
		journal, err = storage.Open(cfg.DataDir, logger)
		if err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		closers = append(closers, func() {
			if err := journal.Close(); err != nil {
				logger.Error("journal close", zap.Error(err))
			}
		})
		bank = token.NewJournaledBank(journal)
		exCfg.Journal = journal
		exCfg.LedgerSync = bank
	}
	exCfg.Ledger = bank.Session(cfg.Custody())

	exchange := service.NewExchange(exCfg)
	if journal != nil {
		st, err := journal.Load()
		if err != nil {
			return fmt.Errorf("load journal: %w", err)
		}
		bank.Restore(st.Ledger)
		exchange.Restore(st)
	}

	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			return err
		}
		closers = append(closers, func() { _ = rc.Close() })
		exchange.AddBookSink(redis.NewBookCache(rc))
		logger.Info("book cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	if len(cfg.Kafka.Brokers) > 0 {
		pub := kafka.NewTradePublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		closers = append(closers, func() { _ = pub.Close() })
		exchange.AddTradeSink(pub)
		logger.Info("trade stream enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic),
		)
	}

	var history service.TradeHistory
	if cfg.Postgres.DSN != "" {
		pc, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			MaxConns: cfg.Postgres.MaxConns,
		})
		if err != nil {
			return err
		}
		closers = append(closers, pc.Close)
		if err := pc.RunMigrations(ctx); err != nil {
			return err
		}
		archive := postgres.NewTradeArchive(pc.Pool())
		exchange.AddTradeSink(archive)
		history = archive
		logger.Info("trade archive enabled")
	}

	webhookSvc := service.NewWebhookService(store.NewWebhookStore(), cfg.WebhookTimeout.Duration, logger)
	exchange.AddNotifier(webhookSvc)

	for _, bt := range cfg.BootstrapTokens {
		_, err := exchange.AddToken(ctx, cfg.OwnerAddress(), bt.Symbol, common.HexToAddress(bt.Handle))
		if err != nil && !errors.Is(err, domain.ErrTokenAlreadyExists) {
			return fmt.Errorf("bootstrap token %s: %w", bt.Symbol, err)
		}
	}

	market := service.NewMarketService(exchange, cfg.VWAPWindow.Duration)
	if history != nil {
		market.WithHistory(history)
	}

	svcs := handler.Services{
		Exchange: exchange,
		Market:   market,
		Trader:   service.NewTraderService(exchange),
		Webhook:  webhookSvc,
	}
	if cfg.DevFaucet {
		svcs.Bank = bank
		logger.Warn("dev faucet enabled")
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler.NewRouter(svcs, logger),
		ReadTimeout:  cfg.ReadTimeout.Duration,
		WriteTimeout: cfg.WriteTimeout.Duration,
		IdleTimeout:  cfg.IdleTimeout.Duration,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server starting", zap.String("addr", addr), zap.Stringer("quote", quote))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout.Duration)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
