package app

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/app"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/giftcard"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/order"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/payment"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/pricing"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/domain/settlement"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/handler"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/processor"
	"github.com/ponulis/Software-Design-POS-System-sub001/internal/storage/postgres"
	"github.com/ponulis/Software-Design-POS-System-sub001/pkg/health"
	"github.com/ponulis/Software-Design-POS-System-sub001/pkg/httpmiddleware"
)

// Run creates all dependencies, starts the HTTP server, and handles graceful
// shutdown. It is the single wiring point for the API server.
func Run(ctx context.Context, lg *zap.Logger, m *app.Telemetry, cfg *Config) error {
	lg.Info("Initializing", zap.String("addr", cfg.Addr))
	if cfg.APIKeyPepper == "" {
		return errors.New("api key pepper is required: set POS_API_KEY_PEPPER")
	}

	// PostgreSQL pool + migrations.
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return errors.Wrap(err, "create db pool")
	}
	defer pool.Close()

	if err := postgres.Migrate(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}
	store := postgres.NewStore(pool)

	// Health check service.
	healthSvc := health.New()
	healthSvc.AddReadinessCheck("postgres", 5*time.Second, health.PingCheck(store))
	healthSvc.AddReadinessCheck("outbox", 5*time.Second, health.BacklogCheck(store.Backlog, cfg.Outbox.BacklogThreshold))
	healthSvc.AddLivenessCheck("goroutines", time.Second, health.GoroutineCountCheck(10000))
	healthSvc.Start(ctx, 10*time.Second)
	healthSvc.SetReady(true)

	// Domain services.
	proc, err := newProcessor(ctx, cfg)
	if err != nil {
		return err
	}
	settle, err := settlement.NewService(store, proc, settlement.Config{
		Currency:         cfg.Currency,
		ProcessorTimeout: cfg.ProcessorTimeout,
		TracerProvider:   m.TracerProvider(),
		MeterProvider:    m.MeterProvider(),
	})
	if err != nil {
		return errors.Wrap(err, "create settlement service")
	}
	orderService := order.NewService(store, pricing.NewResolver(store), store.Orders())
	giftcards := giftcard.NewManager(store.GiftCards())

	// HTTP handlers.
	h := handler.NewHandler(handler.HandlerConfig{}, store, orderService, settle, giftcards)
	authn := handler.NewAuthenticator(store, []byte(cfg.APIKeyPepper))

	// Router: health endpoints + API routes on one server.
	r := chi.NewRouter()
	r.Use(
		httpmiddleware.RequestID(),
		httpmiddleware.InjectLogger(zctx.From(ctx)),
		httpmiddleware.LogRequests(),
	)
	r.Get("/livez", healthSvc.LiveEndpoint)
	r.Get("/readyz", healthSvc.ReadyEndpoint)
	h.Mount(r, authn, httpmiddleware.RateLimit(ctx, httpmiddleware.RateLimitConfig{
		Max:     cfg.RateLimit.Max,
		Window:  cfg.RateLimit.Window,
		KeyFunc: handler.RateLimitKey,
	}))

	server := &http.Server{
		ReadHeaderTimeout: time.Second,
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      cfg.ProcessorTimeout + 10*time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
		Addr:              cfg.Addr,
		Handler: httpmiddleware.Wrap(r,
			httpmiddleware.Recovery(),
			httpmiddleware.CORS(httpmiddleware.CORSConfig{
				AllowOrigins:     cfg.CORS.Origins,
				AllowHeaders:     []string{"Content-Type", "Authorization", "api_key", handler.HeaderActor, handler.HeaderIdempotencyKey},
				ExposeHeaders:    []string{httpmiddleware.RequestIDHeader, "Retry-After"},
				AllowCredentials: cfg.CORS.AllowCredentials,
				MaxAge:           86400,
			}),
			httpmiddleware.Instrument("pos-api", m),
		),
	}

	return serve(ctx, lg, server, healthSvc, cfg.Graceful)
}

// serve runs server until ctx is cancelled. Readiness is dropped first so
// load balancers stop routing before in-flight requests are drained.
func serve(ctx context.Context, lg *zap.Logger, server *http.Server, probes *health.Health, cfg GracefulConfig) error {
	errc := make(chan error, 1)
	go func() {
		lg.Info("Server listening", zap.String("addr", server.Addr))
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		probes.Stop()
		return errors.Wrap(err, "listen")
	case <-ctx.Done():
	}

	probes.SetReady(false)
	lg.Info("Draining", zap.Duration("readiness_delay", cfg.ReadinessDelay))
	select {
	case <-time.After(cfg.ReadinessDelay):
	case err := <-errc:
		probes.Stop()
		return errors.Wrap(err, "listen")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout)
	defer cancel()
	lg.Info("Shutting down server", zap.Duration("timeout", cfg.ShutdownTimeout))
	err := server.Shutdown(shutdownCtx)
	probes.Stop()
	if err != nil {
		return errors.Wrap(err, "shutdown")
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "listen")
	}
	return nil
}

// newProcessor returns Stripe when a secret key is configured and the
// offline processor otherwise.
func newProcessor(ctx context.Context, cfg *Config) (payment.Processor, error) {
	lg := zctx.From(ctx)
	if cfg.Stripe.APIKey == "" {
		lg.Warn("Stripe is not configured, card payments are settled offline")
		return processor.NewOffline(), nil
	}
	p, err := processor.NewStripe(processor.StripeConfig{
		APIKey:    cfg.Stripe.APIKey,
		AccountID: cfg.Stripe.AccountID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "create stripe processor")
	}
	return p, nil
}
