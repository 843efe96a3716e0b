package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/bazaarbd/storefront/internal/handlers"
	"github.com/bazaarbd/storefront/internal/platform/config"
	"github.com/bazaarbd/storefront/internal/platform/jobs"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/platform/observability"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
	"github.com/bazaarbd/storefront/internal/platform/secrets"
	"github.com/bazaarbd/storefront/internal/platform/sms"
)

const (
	maxOutstandingMessages = 10
	sendTimeout            = 20 * time.Second
)

// The notifier drains the SMS topic the storefront publishes to and hands each
// message to the gateway. Failures are logged and counted; only messages the
// open circuit breaker kept from the gateway are nacked for redelivery.
func main() {
	startedAt := time.Now().UTC()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()
	logger := baseLogger.Named("notifier")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}
	fetcherOpts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if project := strings.TrimSpace(envValues["STORE_FIREBASE_PROJECT_ID"]); project != "" {
		fetcherOpts = append(fetcherOpts, secrets.WithDefaultProject(project))
	}
	fetcher, err := secrets.NewFetcher(ctx, fetcherOpts...)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		_ = fetcher.Close()
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets("SMS.APIKey"),
	)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}
	subscriptionID := strings.TrimSpace(cfg.PubSub.Subscription)
	if subscriptionID == "" {
		logger.Fatal("STORE_PUBSUB_SMS_SUBSCRIPTION is required")
	}

	var clientOpts []option.ClientOption
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(file))
	}
	client, err := jobs.NewPubSubClient(ctx, cfg.PubSub, clientOpts...)
	if err != nil {
		logger.Fatal("failed to initialise pubsub client", zap.Error(err))
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn("pubsub close error", zap.Error(err))
		}
	}()

	m := metrics.New()
	smsClient := sms.NewClient(cfg.SMS)

	router := chi.NewRouter()
	router.Get("/healthz", handlers.NewHealthHandlers(handlers.WithHealthBuildInfo(handlers.BuildInfo{
		Version:     strings.TrimSpace(envValues["STORE_BUILD_VERSION"]),
		CommitSHA:   strings.TrimSpace(envValues["STORE_BUILD_COMMIT_SHA"]),
		Environment: cfg.Environment,
		StartedAt:   startedAt,
	})).Healthz)
	router.Method(http.MethodGet, "/metrics", m.Handler())
	server := &http.Server{Addr: ":" + cfg.Server.Port, Handler: router, ReadTimeout: cfg.Server.ReadTimeout}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("probe server error", zap.Error(err))
		}
	}()

	sub := client.Subscription(subscriptionID)
	sub.ReceiveSettings.MaxOutstandingMessages = maxOutstandingMessages

	logger.Info("notifier receiving", zap.String("subscription", subscriptionID))
	receiver := jobs.NewNotificationReceiver(smsClient,
		jobs.WithRetryable(sms.Retryable),
		jobs.WithReceiverLogger(logger),
		jobs.WithReceiverMetrics(m),
		jobs.WithSendTimeout(sendTimeout),
	)
	err = sub.Receive(ctx, receiver.Handle)
	if err != nil && ctx.Err() == nil {
		logger.Error("receive stopped", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
	logger.Info("notifier stopped")
}
