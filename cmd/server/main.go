package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/planet42129/hdmp-redis/internal/adapter/storage"
	"github.com/planet42129/hdmp-redis/internal/cache"
	"github.com/planet42129/hdmp-redis/internal/config"
	"github.com/planet42129/hdmp-redis/internal/core/domain"
	"github.com/planet42129/hdmp-redis/internal/core/service"
	"github.com/planet42129/hdmp-redis/internal/metrics"
	"github.com/planet42129/hdmp-redis/internal/sequence"
)

func main() {
	var configPath string

	root := &cobra.Command{
		Use:          "hdmp-server",
		Short:        "Flash-sale admission and cache-consistency service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVar(&configPath, "config", "", "path to YAML config file")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(configPath string) error {
	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Sync()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := sql.Open("mysql", cfg.MySQL.DSN)
	if err != nil {
		return fmt.Errorf("open mysql: %w", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(cfg.MySQL.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MySQL.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.MySQL.ConnMaxLifetime.Std())
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping mysql: %w", err)
	}
	logger.Info("connected to mysql")

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	logger.Info("connected to redis")

	store := storage.NewRedisStore(rdb, cfg.Seckill.Stream)
	repo := storage.NewMySQLStore(db)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	pool := cache.NewRebuildPool(cfg.Cache.RebuildWorkers, cfg.Cache.RebuildQueue, logger)
	defer pool.Close()

	voucherCache, err := cache.NewClient(cache.Options[domain.Voucher]{
		Prefix:    "cache:voucher:",
		Store:     store,
		Pool:      pool,
		Logger:    logger,
		Metrics:   m,
		TTL:       cfg.Cache.VoucherTTL.Std(),
		AbsentTTL: cfg.Cache.AbsentTTL.Std(),
		LockLease: cfg.Cache.LockLease.Std(),
	})
	if err != nil {
		return fmt.Errorf("build voucher cache: %w", err)
	}

	seckill := service.NewSeckillService(store, voucherCache, repo, sequence.New(store), logger, m)
	for _, voucherID := range cfg.Seckill.WarmVouchers {
		if err := seckill.WarmStock(ctx, voucherID); err != nil {
			return fmt.Errorf("warm stock: %w", err)
		}
	}

	pipeline := service.NewOrderPipeline(store, repo, store,
		cfg.Seckill.Group, cfg.Seckill.Consumer, cfg.Seckill.BlockTimeout.Std(), logger, m)

	pipelineDone := make(chan error, 1)
	go func() {
		pipelineDone <- pipeline.Run(ctx)
	}()
	logger.Info("order pipeline started",
		zap.String("stream", cfg.Seckill.Stream),
		zap.String("group", cfg.Seckill.Group),
		zap.String("consumer", cfg.Seckill.Consumer))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	httpServer := &http.Server{Addr: cfg.HTTP.Addr, Handler: mux}
	go func() {
		logger.Info("metrics listening", zap.String("addr", cfg.HTTP.Addr))
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("metrics server", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	httpServer.Shutdown(shutdownCtx)

	if err := <-pipelineDone; err != nil && err != context.Canceled {
		logger.Error("pipeline stopped", zap.Error(err))
	}
	logger.Info("pipeline stopped")
	return nil
}
