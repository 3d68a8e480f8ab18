// README: Entry point; loads config, wires services, starts the HTTP/WebSocket server and the decision-timeout monitor.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"quickcart/internal/config"
	httptransport "quickcart/internal/http"
	"quickcart/internal/infra"
	"quickcart/internal/modules/notify"
	"quickcart/internal/modules/order"
	"quickcart/internal/modules/pricing"
	"quickcart/internal/observability"
	"quickcart/internal/realtime"
)

const shutdownTimeout = 10 * time.Second

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}
	log := infra.NewLogger(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("quickcart-api stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg config.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := infra.InitTracing(cfg.Trace.Stdout)
	if err != nil {
		return err
	}
	defer shutdownTracing(context.Background())

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(reg)

	var (
		orderRepo order.Repository
		catalog   pricing.Catalog
	)
	switch cfg.Store.Backend {
	case config.StoreBackendPostgres:
		dbPool, err := infra.NewDB(ctx, cfg.DB.DSN, cfg.DB.MaxConns)
		if err != nil {
			return err
		}
		defer dbPool.Close()
		orderRepo = order.NewStore(dbPool)
		catalog = pricing.NewStore(dbPool)
	default:
		log.Warn("using in-memory order store; data is lost on restart")
		orderRepo = order.NewMemoryStore()
	}

	hub := notify.NewHub(log, metrics)
	notifiers := notify.Fanout{hub}
	opts := []order.Option{order.WithMetrics(metrics), order.WithLogger(log)}

	if cfg.Redis.Addr != "" {
		redisClient, err := infra.NewRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer redisClient.Close()
		cache := order.NewRedisCache(redisClient, cfg.Redis.StatusCacheTTL)
		opts = append(opts, order.WithCache(cache), order.WithIdempotency(cache))
	}

	// The publisher outlives ctx so changes committed while draining requests still go out.
	pubCtx, stopPublisher := context.WithCancel(context.Background())
	defer stopPublisher()
	var publisher *notify.KafkaPublisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = notify.NewKafkaPublisher(infra.NewKafkaWriter(cfg.Kafka.Brokers, cfg.Kafka.Topic), 0, log, metrics)
		go publisher.Run(pubCtx)
		notifiers = append(notifiers, publisher)
	}
	opts = append(opts, order.WithNotifier(notifiers))

	orderSvc := order.NewService(orderRepo, pricing.NewService(catalog), opts...)
	gateway := realtime.NewGateway(hub, orderSvc, cfg.Realtime, log, metrics)

	handler := httptransport.NewServer(httptransport.ServerDeps{
		Order:   orderSvc,
		Gateway: gateway,
		Metrics: metrics,
		Logger:  log,
	})
	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	if cfg.Monitor.DecisionTimeout > 0 {
		go orderSvc.RunDecisionTimeoutMonitor(ctx, cfg.Monitor.DecisionTimeout, cfg.Monitor.Tick)
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", cfg.HTTP.Addr, "store", cfg.Store.Backend)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	err = server.Shutdown(shutdownCtx)
	stopPublisher()
	if publisher != nil {
		publisher.Wait()
	}
	return err
}
