package app

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"orderflow/internal/config"
	"orderflow/internal/events"
	"orderflow/internal/order"
	"orderflow/internal/platform/database"
	"orderflow/internal/platform/dependency"
	"orderflow/internal/platform/httpserver"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
)

// OrderApplication runs the order service HTTP API.
type OrderApplication struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container *Container
	db        *sql.DB
	publisher events.Publisher
	handler   http.Handler
}

func NewOrderApplication(ctx context.Context) (*OrderApplication, error) {
	appCtx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)

	app := &OrderApplication{ctx: appCtx, cancel: cancel}

	container, err := NewContainer(appCtx, config.OrderServiceName)
	if err != nil {
		cancel()
		return nil, err
	}
	app.container = container

	if err := app.wire(); err != nil {
		app.Shutdown()
		return nil, err
	}

	container.Logger().Info("Order service initialized successfully")
	return app, nil
}

func (app *OrderApplication) wire() error {
	c := app.container
	cfg := c.config

	db, err := database.Open(app.ctx, cfg.Database.Driver, cfg.Database.URL)
	if err != nil {
		return err
	}
	app.db = db
	if err := database.Migrate(app.ctx, db, cfg.Database.Driver); err != nil {
		return err
	}

	publisher, err := c.NewPublisher()
	if err != nil {
		return err
	}
	app.publisher = publisher

	catalog := order.NewCatalogClient(c.DependencyClient(config.ProductDependency, cfg.Dependencies.ProductURL))
	payments := order.NewPaymentClient(c.DependencyClient(config.PaymentDependency, cfg.Dependencies.PaymentURL,
		dependency.WithStaticHeader(config.PaymentAPIKeyHeader, cfg.Dependencies.PaymentAPIKey),
		dependency.WithFailureStatus(dependency.NonSuccess),
	), c.logger)
	identity := order.NewIdentityClient(c.DependencyClient(config.UserDependency, cfg.Dependencies.UserURL))

	service, err := order.NewService(order.NewSQLRepository(db), catalog, payments, publisher, c.logger,
		order.WithTracer(c.tracer),
		order.WithMeter(otel.Meter(cfg.ServiceName)),
	)
	if err != nil {
		return fmt.Errorf("failed to create order service: %w", err)
	}

	var opts []order.HandlerOption
	if cfg.RateLimit.RPS > 0 {
		proxies, err := httpserver.ParseTrustedProxies(cfg.RateLimit.TrustedProxies)
		if err != nil {
			return fmt.Errorf("failed to parse RATE_LIMIT_TRUSTED_PROXIES: %w", err)
		}
		limiter := httpserver.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst, httpserver.WithTrustedProxies(proxies))
		opts = append(opts, order.WithRateLimiter(limiter))
	}
	handler := order.NewHandler(service, order.NewTokenVerifier(cfg.JWTSecret), identity, c.breakers, c.logger, opts...)
	app.handler = httpserver.Instrument(handler.Routes(), cfg.ServiceName)
	return nil
}

// Handler returns the instrumented HTTP handler.
func (app *OrderApplication) Handler() http.Handler { return app.handler }

// Run serves HTTP until the application context is cancelled.
func (app *OrderApplication) Run() error {
	return httpserver.Serve(app.ctx, app.container.config.HTTPAddr, app.handler, app.container.logger)
}

func (app *OrderApplication) Shutdown() {
	logger := app.container.Logger()
	logger.Info("Starting application shutdown...")

	app.cancel()

	if app.publisher != nil {
		if err := app.publisher.Close(); err != nil {
			logger.Error("Failed to close event publisher", zap.Error(err))
		}
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			logger.Error("Failed to close database", zap.Error(err))
		}
	}
	app.container.Shutdown(context.Background())
}
