package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"ordercore/internal/chaos"
	"ordercore/internal/config"
	"ordercore/internal/events"
	"ordercore/internal/grpcx"
	"ordercore/internal/httpx"
	"ordercore/internal/inventory"
	"ordercore/internal/inventorypb"
	kafkax "ordercore/internal/kafka"
	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/outbox"
	"ordercore/internal/postgres"
	"ordercore/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load("inventory-service")
	log, err := logger.New(cfg.ServiceName)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger:", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := postgres.Connect(ctx, cfg.DB.DSN())
	if err != nil {
		log.Fatalw("db connect", "error", err)
	}
	defer db.Close()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	pub := kafkax.NewPublisher(cfg.KafkaBrokers)
	defer pub.Close()

	m := metrics.New(cfg.ServiceName)
	injector := chaos.New(cfg.Chaos, log)

	store := inventory.NewPGStore(db)
	svc := inventory.NewService(store, rdb, m, log, cfg.ServiceName)

	// outbox pump: sole publisher of inventory events
	pump := outbox.NewPump(outbox.NewPGStore(db), pub, log, cfg.OutboxInterval)
	pump.Start(ctx)

	// verify-orders queue: one consumer group, redelivery on failure
	verify := kafkax.NewGroupConsumer(cfg.KafkaBrokers, cfg.VerifyQueueGroup, events.QueueVerifyOrders, log)
	verify.Start(ctx, svc.HandleVerifyOrder)

	reporter := metrics.NewReporter(m, pub, log, cfg.ServiceName, cfg.MetricsInterval)
	reporter.Start(ctx)

	grpcSrv := grpcx.NewServer(cfg.GRPCPort, log)
	inventorypb.RegisterInventoryServiceServer(grpcSrv.Registrar(),
		inventory.NewGRPCServer(svc, injector, pub, log))
	if err := grpcSrv.Start(ctx); err != nil {
		log.Fatalw("grpc listen", "error", err)
	}

	router := httpx.NewRouter(log, m, nil)
	handler := &httpx.InventoryHandler{
		Svc:     svc,
		Metrics: m,
		Log:     log,
		BusPing: pub.Ping,
	}
	handler.Register(router)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.HTTPPort), Handler: router}
	go func() {
		log.Infow("http listening", "port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("listen", "error", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Infow("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)

	cancel()
	grpcSrv.WaitClosed()
	pump.WaitClosed()
	verify.WaitClosed()
	reporter.WaitClosed()
}
