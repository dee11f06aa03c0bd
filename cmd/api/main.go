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
	"golang.org/x/time/rate"

	"ordercore/internal/config"
	"ordercore/internal/events"
	"ordercore/internal/httpx"
	"ordercore/internal/inventorypb"
	kafkax "ordercore/internal/kafka"
	"ordercore/internal/logger"
	"ordercore/internal/metrics"
	"ordercore/internal/orders"
	"ordercore/internal/outbox"
	"ordercore/internal/postgres"
	"ordercore/internal/redisx"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load("order-service")
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

	conn, err := orders.DialInventory(fmt.Sprintf("%s:%d", cfg.InventoryHost, cfg.GRPCPort))
	if err != nil {
		log.Fatalw("inventory dial", "error", err)
	}
	defer conn.Close()
	inv := orders.NewGRPCInventory(inventorypb.NewInventoryServiceClient(conn), cfg.ReserveTimeout, cfg.HealthTimeout)

	repo := orders.NewPGRepo(db)
	coordinator := orders.NewCoordinator(repo, inv, rdb, m, log, cfg.ServiceName)

	// outbox pump: the only publisher of order events and VerifyOrder
	pump := outbox.NewPump(outbox.NewPGStore(db), pub, log, cfg.OutboxInterval)
	pump.Start(ctx)

	// inventory-events subscription closes the async confirmation loop
	consumer := orders.NewConsumer(repo, rdb, m, log, cfg.ServiceName)
	inventoryEvents := kafkax.NewGroupConsumer(cfg.KafkaBrokers, cfg.OrderEventsGroup, events.TopicInventoryEvents, log)
	inventoryEvents.Start(ctx, consumer.Handle)

	reporter := metrics.NewReporter(m, pub, log, cfg.ServiceName, cfg.MetricsInterval)
	reporter.Start(ctx)

	limiter := rate.NewLimiter(rate.Limit(100), 200)
	router := httpx.NewRouter(log, m, limiter)
	handler := &httpx.OrdersHandler{
		Svc:     coordinator,
		Catalog: httpx.NewCatalogProxy(fmt.Sprintf("http://%s:%d", cfg.InventoryHost, cfg.InventoryHTTPPort)),
		Metrics: m,
		Log:     log,
		DBPing:  db.Ping,
		BusPing: pub.Ping,
		InventoryUp: func(ctx context.Context) bool {
			return inv.Healthy(ctx)
		},
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
	pump.WaitClosed()
	inventoryEvents.WaitClosed()
	reporter.WaitClosed()
}
