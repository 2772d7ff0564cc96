package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	cloudstorage "cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/stagelink/billing/internal/di"
	"github.com/stagelink/billing/internal/domain"
	"github.com/stagelink/billing/internal/gateway"
	"github.com/stagelink/billing/internal/handlers"
	"github.com/stagelink/billing/internal/platform/config"
	pfirestore "github.com/stagelink/billing/internal/platform/firestore"
	"github.com/stagelink/billing/internal/platform/idempotency"
	"github.com/stagelink/billing/internal/platform/jobs"
	"github.com/stagelink/billing/internal/platform/observability"
	"github.com/stagelink/billing/internal/platform/secrets"
	platformstorage "github.com/stagelink/billing/internal/platform/storage"
	firestoreRepo "github.com/stagelink/billing/internal/repositories/firestore"
	"github.com/stagelink/billing/internal/services"
)

func main() {
	ctx := context.Background()

	baseLogger, err := observability.NewLogger(os.Getenv("BILLING_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("billing")
	ctx = observability.WithLogger(ctx, logger)

	fetcher, err := newSecretFetcher(ctx, logger)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.ResolveSecret)),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistryWithProvider(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	storageClient, err := cloudstorage.NewClient(ctx)
	if err != nil {
		logger.Fatal("failed to initialise storage client", zap.Error(err))
	}
	defer func() {
		if err := storageClient.Close(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	if strings.TrimSpace(cfg.Invoices.DocumentBucket) == "" {
		logger.Fatal("invoice document bucket is required")
	}
	documentStore, err := platformstorage.NewDocumentStore(storageClient, cfg.Invoices.DocumentBucket)
	if err != nil {
		logger.Fatal("failed to initialise document store", zap.Error(err))
	}

	pubsubClient, err := pubsub.NewClient(ctx, cfg.Firestore.ProjectID)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	if strings.TrimSpace(cfg.Invoices.JobTopic) == "" {
		logger.Fatal("invoice job topic is required")
	}
	jobTopic := pubsubClient.Topic(cfg.Invoices.JobTopic)
	defer jobTopic.Stop()
	publisher, err := jobs.NewPubSubDocumentPublisher(jobTopic)
	if err != nil {
		logger.Fatal("failed to initialise document publisher", zap.Error(err))
	}

	paymentGateway, err := gateway.NewHTTPGateway(cfg.Gateway.BaseURL, cfg.Gateway.KeyID, cfg.Gateway.KeySecret)
	if err != nil {
		logger.Fatal("failed to initialise payment gateway", zap.Error(err))
	}

	checkoutVerifier, err := gateway.NewSignatureVerifier(cfg.Gateway.CheckoutSecret)
	if err != nil {
		logger.Fatal("failed to initialise checkout signature verifier", zap.Error(err))
	}
	webhookSecret := cfg.Gateway.WebhookSecret
	if strings.TrimSpace(webhookSecret) == "" {
		webhookSecret = cfg.Gateway.CheckoutSecret
	}
	webhookVerifier, err := gateway.NewSignatureVerifier(webhookSecret)
	if err != nil {
		logger.Fatal("failed to initialise webhook signature verifier", zap.Error(err))
	}

	container, err := di.NewContainer(cfg, registry, di.Collaborators{
		Gateway:       paymentGateway,
		Verifier:      checkoutVerifier,
		Publisher:     publisher,
		DocumentStore: documentStore,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
	}

	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	backgroundCtx, backgroundCancel := context.WithCancel(context.Background())
	var backgroundWG sync.WaitGroup

	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(backgroundCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-backgroundCtx.Done():
					return
				}
			}
		}()
	}

	if subName := strings.TrimSpace(cfg.Invoices.JobSubscription); subName != "" {
		subscription := pubsubClient.Subscription(subName)
		documentLogger := logger.Named("documents")
		backgroundWG.Add(1)
		go func() {
			defer backgroundWG.Done()
			err := subscription.Receive(backgroundCtx, func(ctx context.Context, msg *pubsub.Message) {
				var job domain.InvoiceDocumentJob
				if err := json.Unmarshal(msg.Data, &job); err != nil {
					documentLogger.Error("invalid document job payload", zap.Error(err))
					msg.Ack()
					return
				}
				if err := container.Services.Documents.ProcessDocumentJob(ctx, job); err != nil {
					documentLogger.Error("document job failed", zap.Error(err), zap.String("orderId", job.OrderID))
					msg.Nack()
					return
				}
				msg.Ack()
			})
			if err != nil && !errors.Is(err, context.Canceled) {
				documentLogger.Error("document subscription stopped", zap.Error(err))
			}
		}()
	}

	sweeperLogger := logger.Named("sweeper")
	sweeper, err := services.NewRunner(
		container.Services.Reconciliation,
		cfg.Sweeper.Interval,
		func(_ context.Context, event string, fields map[string]any) {
			zFields := make([]zap.Field, 0, len(fields)+1)
			zFields = append(zFields, zap.String("event", event))
			for k, v := range fields {
				zFields = append(zFields, zap.Any(k, v))
			}
			sweeperLogger.Info("sweeper event", zFields...)
		},
	)
	if err != nil {
		logger.Fatal("failed to initialise reconciliation sweeper", zap.Error(err))
	}
	backgroundWG.Add(1)
	go func() {
		defer backgroundWG.Done()
		sweeper.Run(backgroundCtx)
	}()

	orderHandlers := handlers.NewOrderHandlers(container.Services.Orders, container.Services.Settlement)
	webhookHandlers := handlers.NewWebhookHandlers(container.Services.Settlement, webhookVerifier)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthChecker(registry.Health().Check),
	)

	middlewares := []func(http.Handler) http.Handler{
		observability.TraceMiddleware(),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(logger.Named("http")),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("billing api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	backgroundCancel()
	backgroundWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger) (*secrets.Fetcher, error) {
	defaultProject := strings.TrimSpace(os.Getenv("BILLING_FIRESTORE_PROJECT_ID"))
	if defaultProject == "" {
		defaultProject = strings.TrimSpace(os.Getenv("GOOGLE_CLOUD_PROJECT"))
	}
	return secrets.NewFetcher(ctx, defaultProject,
		secrets.WithLogger(logger.Named("secrets")),
	)
}
