package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"fundme/internal/config"
	"fundme/internal/db"
	"fundme/internal/escrow"
	"fundme/internal/fundme"
	"fundme/internal/idempotency"
	"fundme/internal/journal"
	"fundme/internal/oracle"
	"fundme/internal/server"

	"github.com/ethereum/go-ethereum/ethclient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	var logger *slog.Logger
	{
		opts := &slog.HandlerOptions{Level: cfg.Log.SlogLevel()}
		if cfg.Log.JSON() {
			logger = slog.New(slog.NewJSONHandler(os.Stdout, opts))
		} else {
			logger = slog.New(slog.NewTextHandler(os.Stdout, opts))
		}
		slog.SetDefault(logger)
	}

	if cfg.Service.InsecureDev {
		logger.Warn("API_INSECURE_DEV is set, requests without a configured secret are not authenticated",
			slog.Bool("caller_secret", cfg.Service.HMACSecret != ""),
			slog.Bool("integration_secret", cfg.Service.IntegrationSecret != ""),
		)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, jrnl, closeStores, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("store error", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStores()

	escClient, err := openEscrow(ctx, cfg, logger)
	if err != nil {
		logger.Error("escrow client error", slog.Any("error", err))
		os.Exit(1)
	}

	apiServer := server.NewServer(cfg, escClient, store, jrnl, logger)

	go func() {
		if err := apiServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server stopped", slog.Any("error", err))
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Service.ShutdownTimeout)
	defer stop()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
		return
	}
	logger.Info("server gracefully stopped")
}

// openStores picks Postgres when an address is configured, then a SQLite
// file, then memory.
func openStores(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (idempotency.Store, journal.Store, func(), error) {
	if cfg.Postgres.Addr != "" {
		if cfg.Postgres.RunMigrations {
			if err := db.Migrate(cfg.Postgres.Addr); err != nil {
				return nil, nil, nil, fmt.Errorf("migrate: %w", err)
			}
			logger.Info("migrations applied successfully")
		}
		pool, err := db.NewPostgresPool(ctx, cfg.Postgres.Addr, cfg.Postgres.MaxConns)
		if err != nil {
			return nil, nil, nil, err
		}
		store, err := idempotency.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		jrnl, err := journal.NewPostgresStore(pool)
		if err != nil {
			pool.Close()
			return nil, nil, nil, err
		}
		return store, jrnl, pool.Close, nil
	}

	if path := cfg.Service.IdempotencyStorePath; path != "" {
		store, err := idempotency.NewSQLiteStore(path)
		if err != nil {
			return nil, nil, nil, err
		}
		logger.Info("using sqlite idempotency store", slog.String("path", path))
		return store, journal.NewMemoryStore(), func() { _ = store.Close() }, nil
	}

	logger.Warn("no persistent store configured, idempotency keys live in memory")
	return idempotency.NewMemoryStore(), journal.NewMemoryStore(), func() {}, nil
}

// openEscrow hosts the ledger in process unless a signing key is set, in
// which case it drives the deployed contract.
func openEscrow(ctx context.Context, cfg *config.AppConfig, logger *slog.Logger) (escrow.Client, error) {
	rpcURL, err := cfg.RPCURL()
	if err != nil && (!cfg.Chain.Local() || cfg.Campaign.Oracle == "chainlink") {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, cfg.Chain.RPCTimeout)
	defer cancel()

	if !cfg.Chain.Local() {
		client, err := escrow.NewEthClient(dialCtx, escrow.EthClientConfig{
			RPCURL:        rpcURL,
			PrivateKeyHex: cfg.Chain.PrivateKey,
			FundMeAddress: cfg.Deployment.FundMe.Hex(),
			FeedDecimals:  cfg.Campaign.FeedDecimals,
			DeployedAt:    cfg.Deployment.DeployedAt,
		})
		if err != nil {
			return nil, err
		}
		logger.Info("driving deployed contract",
			slog.String("fundme", cfg.Deployment.FundMe.Hex()),
			slog.String("signer", client.Signer().Hex()),
		)
		return client, nil
	}

	var feed fundme.Oracle
	switch cfg.Campaign.Oracle {
	case "chainlink":
		address, err := cfg.Networks.DataFeed(cfg.Chain.ChainID)
		if err != nil {
			return nil, err
		}
		rpc, err := ethclient.DialContext(dialCtx, rpcURL)
		if err != nil {
			return nil, fmt.Errorf("dial rpc: %w", err)
		}
		chainlink, err := oracle.NewChainlink(dialCtx, address, rpc)
		if err != nil {
			return nil, err
		}
		feed = chainlink
	default:
		feed = oracle.NewStaticDollars(cfg.Campaign.MockDecimals, cfg.Campaign.MockPriceUSD)
	}

	ledger, err := fundme.New(fundme.Config{
		Owner:        cfg.Campaign.Owner,
		LockDuration: cfg.Campaign.LockDuration,
		Oracle:       feed,
		Payer:        escrow.NewPayouts(),
		MinimumUSD:   cfg.Campaign.MinimumUSD.USD,
		TargetUSD:    cfg.Campaign.TargetUSD.USD,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("hosting ledger in process",
		slog.String("owner", cfg.Campaign.Owner.Hex()),
		slog.String("oracle", cfg.Campaign.Oracle),
		slog.Time("window_close", ledger.WindowCloseTime()),
	)
	return escrow.NewLocalClient(ledger), nil
}
