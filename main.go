package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"market_sales/api"
	"market_sales/internal/config"
	"market_sales/internal/custody"
	"market_sales/internal/deposits"
	"market_sales/internal/events"
	"market_sales/internal/ledger"
	"market_sales/internal/metrics"
	"market_sales/internal/sales"
	"market_sales/internal/scheduler"
	"market_sales/internal/storage/badgerdb"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Errorf("error loading config: %v", err))
	}
	logger, err := cfg.Logger()
	if err != nil {
		panic(fmt.Errorf("error building logger: %v", err))
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var storage sales.Storage = sales.NewLocalStorage()
	if cfg.DataDir != "" {
		store, err := badgerdb.NewStorage(cfg.DataDir, logger)
		if err != nil {
			logger.Fatal("failed to open sales store", zap.Error(err))
		}
		defer store.Close()
		storage = store
	}

	registry := sales.NewRegistry(storage, logger.Named("registry"), nil)
	funds := ledger.New(logger.Named("ledger"))
	storageDeposits := deposits.New(sales.Amount(cfg.MinListingDeposit), registry)
	custodyClient := custody.NewClient(cfg.CustodyURL, cfg.CustodyTimeout, logger.Named("custody"))
	defer custodyClient.Close()

	reg := prometheus.NewRegistry()
	opts := []sales.Option{sales.WithMetrics(metrics.New(reg))}

	var bus *events.Bus
	if cfg.EventBus {
		bus = events.NewBus(logger.Named("events"))
		defer bus.Close()
		opts = append(opts, sales.WithNotifier(bus))
	}

	salesService := sales.NewService(
		registry, custodyClient, funds, storageDeposits, cfg.Settings(), logger, opts...,
	)

	if bus != nil {
		if err := bus.Subscribe(ctx, salesService.ResolvePurchase); err != nil {
			logger.Fatal("failed to subscribe to transfer outcomes", zap.Error(err))
		}
	}

	if cfg.AuctionSweepInterval > 0 {
		sweeper := scheduler.NewSweeper(salesService, cfg.AuctionSweepInterval, logger.Named("sweeper"))
		if err := sweeper.Start(ctx); err != nil {
			logger.Fatal("failed to start auction sweeper", zap.Error(err))
		}
		defer sweeper.Stop()
	}

	r := gin.Default()
	api.InitRoutes(r, api.Dependencies{
		Service:  salesService,
		Funds:    funds,
		Deposits: storageDeposits,
		Gatherer: reg,
		Logger:   logger,
	})

	logger.Info("starting market", zap.String("addr", cfg.ListenAddr))
	go func() {
		if err := r.Run(cfg.ListenAddr); err != nil {
			logger.Error("server stopped", zap.Error(err))
			stop()
		}
	}()
	<-ctx.Done()
	logger.Info("shutting down")
}
