package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/maplecart/api/internal/clients/cart"
	"github.com/maplecart/api/internal/clients/inventory"
	"github.com/maplecart/api/internal/delivery"
	"github.com/maplecart/api/internal/handlers"
	"github.com/maplecart/api/internal/payments"
	"github.com/maplecart/api/internal/platform/auth"
	"github.com/maplecart/api/internal/platform/config"
	pfirestore "github.com/maplecart/api/internal/platform/firestore"
	"github.com/maplecart/api/internal/platform/idempotency"
	"github.com/maplecart/api/internal/platform/jobs"
	"github.com/maplecart/api/internal/platform/observability"
	firestoreRepo "github.com/maplecart/api/internal/repositories/firestore"
	"github.com/maplecart/api/internal/services"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	methodRepo, err := firestoreRepo.NewMethodRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise method repository", zap.Error(err))
	}
	paymentRepo, err := firestoreRepo.NewPaymentRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise payment repository", zap.Error(err))
	}
	checkpointRepo, err := firestoreRepo.NewCheckpointRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise checkpoint repository", zap.Error(err))
	}

	inventoryClient, err := inventory.NewClient(inventory.ClientDeps{
		BaseURL: cfg.Collaborators.InventoryBaseURL,
		Timeout: cfg.Collaborators.InventoryTimeout,
	})
	if err != nil {
		logger.Fatal("failed to initialise inventory client", zap.Error(err))
	}

	var cartClient services.CartClient
	if cfg.Collaborators.CartBaseURL != "" {
		client, err := cart.NewClient(cart.ClientDeps{
			BaseURL: cfg.Collaborators.CartBaseURL,
			Timeout: cfg.Collaborators.CartTimeout,
		})
		if err != nil {
			logger.Fatal("failed to initialise cart client", zap.Error(err))
		}
		cartClient = client
	} else {
		logger.Warn("cart base url not configured; carts will not be cleared after checkout")
	}

	var events services.EventPublisher
	var pubsubClient *pubsub.Client
	if cfg.PubSub.ProjectID != "" {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		publisher, err := jobs.NewPublisher(jobs.PublisherDeps{
			Client:           pubsubClient,
			OrderConfirmID:   cfg.PubSub.OrderConfirmTopic,
			PaymentConfirmID: cfg.PubSub.PaymentConfirmTopic,
			PublishTimeout:   cfg.Collaborators.PublishTimeout,
		})
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		events = publisher
	} else {
		logger.Warn("pubsub project not configured; confirmation events will not be published")
	}
	defer func() {
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	eventLog := observability.EventLogger(logger)

	providers := []payments.Provider{payments.NewCODProvider(eventLog)}
	if cfg.Stripe.APIKey != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.Stripe.APIKey,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
			Logger:     eventLog,
		})
		if err != nil {
			logger.Fatal("failed to initialise stripe provider", zap.Error(err))
		}
		providers = append(providers, stripeProvider)
	} else {
		logger.Warn("stripe api key not configured; only pay-on-delivery will be accepted")
	}
	providerManager, err := payments.NewManager(providers...)
	if err != nil {
		logger.Fatal("failed to initialise payment providers", zap.Error(err))
	}

	couriers, err := delivery.NewRegistry(delivery.NewYamato(), delivery.NewSagawa())
	if err != nil {
		logger.Fatal("failed to initialise courier registry", zap.Error(err))
	}

	paymentService, err := services.NewPaymentService(services.PaymentServiceDeps{
		Payments:       paymentRepo,
		Methods:        methodRepo,
		Providers:      providerManager,
		Events:         events,
		GatewayTimeout: cfg.Collaborators.GatewayTimeout,
		Logger:         eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise payment service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:      orderRepo,
		Users:       userRepo,
		Methods:     methodRepo,
		Checkpoints: checkpointRepo,
		Inventory:   inventoryClient,
		Cart:        cartClient,
		Payments:    paymentService,
		Events:      events,
		Currency:    cfg.Currency,
		Logger:      eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	authenticator, err := auth.NewAuthenticator(cfg.Auth.SigningSecret, cfg.Auth.Issuer)
	if err != nil {
		logger.Fatal("failed to initialise authenticator", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)

	backgroundCtx, stopBackground := context.WithCancel(ctx)
	defer stopBackground()

	reconciler, err := services.NewReconciler(services.ReconcilerDeps{
		Orders:      orderService,
		Checkpoints: checkpointRepo,
		Interval:    cfg.Reconciler.Interval,
		BatchSize:   cfg.Reconciler.BatchSize,
		MinAge:      cfg.Reconciler.MinAge,
		Logger:      eventLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise reconciler", zap.Error(err))
	}
	go reconciler.Run(backgroundCtx)
	go runIdempotencyCleanup(backgroundCtx, logger, idempotencyStore, cfg.Idempotency)

	orderHandlers := handlers.NewOrderHandlers(handlers.OrderHandlersDeps{
		Authenticator: authenticator,
		Orders:        orderService,
		Payments:      paymentService,
		Couriers:      couriers,
		CreateGuard: idempotency.Middleware(idempotencyStore, idempotency.MiddlewareOptions{
			Header: cfg.Idempotency.Header,
			TTL:    cfg.Idempotency.TTL,
		}),
	})

	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(cfg.Firestore.ProjectID),
			observability.InjectLoggerMiddleware(logger),
			observability.RequestLoggerMiddleware(),
		),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(func(ctx context.Context) error {
			_, err := firestoreProvider.Client(ctx)
			return err
		})),
		handlers.WithOrderRoutes(orderHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
		}
	}

	stopBackground()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
}

// runIdempotencyCleanup periodically purges expired idempotency records.
func runIdempotencyCleanup(ctx context.Context, logger *zap.Logger, store idempotency.Store, cfg config.IdempotencyConfig) {
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := store.CleanupExpired(ctx, time.Now().UTC(), cfg.CleanupBatchSize)
			if err != nil {
				logger.Warn("idempotency cleanup failed", zap.Error(err))
				continue
			}
			if removed > 0 {
				logger.Info("idempotency records purged", zap.Int("removed", removed))
			}
		}
	}
}
