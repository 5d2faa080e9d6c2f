package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront-be/internal/auth"
	"storefront-be/internal/checkout"
	"storefront-be/internal/config"
	"storefront-be/internal/db"
	"storefront-be/internal/httpapi"
	"storefront-be/internal/logger"
	"storefront-be/internal/metrics"
	"storefront-be/internal/middleware"
	"storefront-be/internal/notify"
	"storefront-be/internal/order"
	"storefront-be/internal/payment"
	"storefront-be/internal/payment/webhook"
	"storefront-be/internal/store"
	"storefront-be/internal/store/memory"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

var (
	initDBFunc      = db.InitDB
	startServerFunc = serve
)

func main() {
	if err := run(); err != nil {
		logger.L().Fatal("server stopped", zap.Error(err))
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	var conn *sql.DB
	if cfg.Storage == config.StoragePostgres {
		conn = initDBFunc(cfg)
		defer conn.Close()
	}

	srv, err := newServer(cfg, conn)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.limiter.Run(ctx)

	logger.L().Info("server running",
		zap.String("port", cfg.AppPort),
		zap.String("storage", cfg.Storage),
	)
	return startServerFunc(":"+cfg.AppPort, srv.handler)
}

type server struct {
	handler    http.Handler
	limiter    *middleware.RateLimiter
	dispatcher *notify.Dispatcher
	redis      *redis.Client
}

// Close drains queued notifications and releases the Redis connection.
func (s *server) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.dispatcher.Close(ctx); err != nil {
		logger.L().Warn("notifications left undelivered", zap.Error(err))
	}
	if s.redis != nil {
		_ = s.redis.Close()
	}
}

// newServer wires the stores, services and handlers. conn may be nil when
// cfg selects in-memory storage.
func newServer(cfg *config.Config, conn *sql.DB) (*server, error) {
	var uow store.UnitOfWork
	if cfg.Storage == config.StorageMemory {
		uow = memory.New()
	} else {
		uow = store.NewPostgres(conn)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	srv := &server{limiter: middleware.NewRateLimiter(cfg.InternalServiceKey)}

	sinks := notify.MultiSink{notify.LogSink{}}
	if cfg.RedisURL != "" {
		client, err := notify.DialRedis(context.Background(), cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		srv.redis = client
		sinks = append(sinks, notify.NewRedisSink(client, cfg.NotifyQueue))
	}
	srv.dispatcher = notify.NewDispatcher(sinks, cfg.NotifyBuffer, m)

	tax := order.TaxPolicy{Percent: cfg.TaxPercent}
	svc := checkout.NewService(uow, srv.dispatcher, checkout.Config{
		Tax:         tax,
		LinePricing: cfg.LinePricing,
		Statuses:    payment.NewStatusMapper(cfg.GatewaySuccessCodes),
	}, m)

	api := httpapi.New(uow, svc, tax.Tax)
	hooks := webhook.NewWebhookHandler(svc, uow, cfg.PaymentCallbackToken)

	srv.handler = setupRouter(api, auth.NewTokens(cfg.JWTSecret), srv.limiter, cfg.TrustProxy,
		hooks.PaymentWebhookHandler, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return srv, nil
}

func setupRouter(api *httpapi.API, tokens *auth.Tokens, limiter *middleware.RateLimiter, trustProxy bool, webhookHandler http.HandlerFunc, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	// RealIP rewrites RemoteAddr from forwarding headers, so it only runs
	// behind a proxy that sets them.
	if trustProxy {
		r.Use(chimw.RealIP)
	}
	r.Use(logger.RequestIDMiddleware)
	r.Use(logger.LoggingMiddleware)
	r.Use(chimw.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metricsHandler)

	r.With(limiter.Middleware).Post(middleware.PaymentWebhookPath, webhookHandler)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Identity(tokens, api))
		r.Use(middleware.LogIdentity)
		r.Use(limiter.Middleware)
		api.Routes(r)
	})

	return r
}

// serve runs the HTTP server until SIGINT or SIGTERM, then shuts it down
// gracefully.
func serve(addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.L().Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
