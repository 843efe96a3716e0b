package main

import (
	"context"
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
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/bazaarbd/storefront/internal/handlers"
	"github.com/bazaarbd/storefront/internal/platform/auth"
	"github.com/bazaarbd/storefront/internal/platform/config"
	pfirestore "github.com/bazaarbd/storefront/internal/platform/firestore"
	"github.com/bazaarbd/storefront/internal/platform/i18n"
	"github.com/bazaarbd/storefront/internal/platform/jobs"
	"github.com/bazaarbd/storefront/internal/platform/metrics"
	"github.com/bazaarbd/storefront/internal/platform/observability"
	"github.com/bazaarbd/storefront/internal/platform/requestctx"
	"github.com/bazaarbd/storefront/internal/platform/secrets"
	"github.com/bazaarbd/storefront/internal/platform/sms"
	platformstorage "github.com/bazaarbd/storefront/internal/platform/storage"
	"github.com/bazaarbd/storefront/internal/platform/translate"
	"github.com/bazaarbd/storefront/internal/repositories"
	firestoreRepo "github.com/bazaarbd/storefront/internal/repositories/firestore"
	redisRepo "github.com/bazaarbd/storefront/internal/repositories/redis"
	"github.com/bazaarbd/storefront/internal/services"
)

const (
	shutdownTimeout       = 10 * time.Second
	settingsRetryMin      = time.Second
	settingsRetryMax      = time.Minute
	notificationTaskLimit = 30 * time.Second
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("storefront")
	ctx = requestctx.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	m := metrics.New()
	bundle, err := i18n.Load()
	if err != nil {
		logger.Fatal("failed to load message catalogues", zap.Error(err))
	}

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, firestoreClientOptions(cfg)...)
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	defer func() {
		if err := firestoreProvider.Close(); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	productRepo, err := firestoreRepo.NewProductRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise product repository", zap.Error(err))
	}
	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	settingsRepo, err := firestoreRepo.NewSettingsRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise settings repository", zap.Error(err))
	}

	probes := []repositories.Probe{{
		Name:     "firestore",
		Critical: true,
		Timeout:  1500 * time.Millisecond,
		Check:    firestoreProvider.Ping,
	}}

	var cartRepo repositories.CartRepository
	switch cfg.Cart.Backend {
	case config.CartBackendRedis:
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Cart.RedisAddr,
			Password: cfg.Cart.RedisPassword,
			DB:       cfg.Cart.RedisDB,
		})
		defer func() {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close error", zap.Error(err))
			}
		}()
		repo, err := redisRepo.NewCartRepository(redisClient, cfg.Cart.RedisTTL)
		if err != nil {
			logger.Fatal("failed to initialise redis cart repository", zap.Error(err))
		}
		cartRepo = repo
		probes = append(probes, repositories.Probe{Name: "redis", Critical: true, Timeout: time.Second, Check: repo.Ping})
	default:
		repo, err := firestoreRepo.NewCartRepository(firestoreProvider)
		if err != nil {
			logger.Fatal("failed to initialise cart repository", zap.Error(err))
		}
		cartRepo = repo
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	smsClient := sms.NewClient(cfg.SMS)
	probes = append(probes, repositories.Probe{Name: "sms", Timeout: time.Second, Check: smsClient.Ping})

	var sink services.NotificationSink = smsClient
	var pubsubClient *pubsub.Client
	if topicID := strings.TrimSpace(cfg.PubSub.SMSTopic); topicID != "" {
		pubsubClient, err = jobs.NewPubSubClient(ctx, cfg.PubSub, credentialsOption(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		topic := pubsubClient.Topic(topicID)
		publisher, err := jobs.NewPubSubNotificationPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise notification publisher", zap.Error(err))
		}
		sink = publisher
		probes = append(probes, repositories.Probe{
			Name:    "pubsub",
			Timeout: 2 * time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s does not exist", topicID)
				}
				return nil
			},
		})
		defer func() {
			topic.Stop()
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	dispatcher := jobs.NewDispatcher(cfg.Notifications.Workers, cfg.Notifications.QueueSize,
		jobs.WithLogger(logger.Named("jobs")),
		jobs.WithMetrics(m),
		jobs.WithTaskTimeout(notificationTaskLimit),
	)

	var uploader handlers.ImageUploader
	if bucket := strings.TrimSpace(cfg.Storage.ImagesBucket); bucket != "" {
		storageClient, err := cloudstorage.NewClient(ctx, credentialsOption(cfg)...)
		if err != nil {
			logger.Fatal("failed to initialise storage client", zap.Error(err))
		}
		defer func() {
			if err := storageClient.Close(); err != nil {
				logger.Warn("storage close error", zap.Error(err))
			}
		}()
		imageUploader, err := platformstorage.NewUploader(storageClient, bucket)
		if err != nil {
			logger.Fatal("failed to initialise image uploader", zap.Error(err))
		}
		uploader = imageUploader
	} else {
		logger.Warn("image bucket not configured; admin uploads disabled")
	}

	serviceLog := observability.EventLogger(logger.Named("services"))

	seed, err := loadSettingsSeed(cfg.Settings.SeedFile)
	if err != nil {
		logger.Fatal("failed to load settings seed", zap.Error(err), zap.String("path", cfg.Settings.SeedFile))
	}
	settingsService, err := services.NewSettingsService(services.SettingsServiceDeps{
		Settings: settingsRepo,
		Seed:     seed,
		Logger:   serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise settings service", zap.Error(err))
	}
	settingsService.Refresh(ctx)

	var translator services.Translator
	if strings.TrimSpace(cfg.Translation.Endpoint) != "" {
		translator = translate.NewClient(cfg.Translation)
	}
	languageService, err := services.NewLanguageService(services.LanguageServiceDeps{
		Bundle:     bundle,
		Translator: translator,
		CacheSize:  cfg.Translation.CacheSize,
		Logger:     serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise language service", zap.Error(err))
	}

	notificationService, err := services.NewNotificationService(services.NotificationServiceDeps{
		Settings:    settingsService,
		Sink:        sink,
		Dispatcher:  dispatcher,
		BaseURL:     cfg.Server.PublicBaseURL,
		CountryCode: cfg.SMS.CountryCode,
		Metrics:     m,
		Logger:      serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise notification service", zap.Error(err))
	}

	cartService, err := services.NewCartService(services.CartServiceDeps{
		Carts:    cartRepo,
		Products: productRepo,
		Settings: settingsService,
		Logger:   serviceLog,
		Metrics:  m,
		IdleTTL:  cfg.Cart.IdleTTL,
	})
	if err != nil {
		logger.Fatal("failed to initialise cart service", zap.Error(err))
	}

	checkoutService, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:        orderRepo,
		Products:      productRepo,
		Carts:         cartService,
		Settings:      settingsService,
		Notifications: notificationService,
		Messages:      languageService,
		Metrics:       m,
		Logger:        serviceLog,
		CountryCode:   cfg.SMS.CountryCode,
	})
	if err != nil {
		logger.Fatal("failed to initialise checkout service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		Notifications: notificationService,
		Metrics:       m,
		Logger:        serviceLog,
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	healthRepo, err := repositories.NewProbeHealthRepository(probes)
	if err != nil {
		logger.Fatal("failed to initialise health probes", zap.Error(err))
	}
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfoFromEnv(envValues, cfg, startedAt)),
		handlers.WithHealthRepository(healthRepo),
	)

	background, stopBackground := context.WithCancel(requestctx.WithLogger(context.Background(), logger))
	var backgroundWG sync.WaitGroup
	backgroundWG.Add(2)
	go func() {
		defer backgroundWG.Done()
		watchSettings(background, settingsService, logger.Named("settings"))
	}()
	go func() {
		defer backgroundWG.Done()
		sweepCarts(background, cartService, cfg.Cart.SweepInterval, logger.Named("carts"))
	}()

	router := handlers.NewRouter(
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(m.Handler()),
		handlers.WithMiddlewares(
			observability.InjectLoggerMiddleware(logger),
			observability.TraceMiddleware(traceProjectID(cfg)),
			observability.RequestLoggerMiddleware(m),
			observability.RecoveryMiddleware(logger),
			bundle.Middleware,
		),
		handlers.WithPublicRoutes(handlers.NewPublicHandlers(settingsService, languageService).Routes),
		handlers.WithCartRoutes(handlers.NewCartHandlers(authenticator, cartService, languageService).Routes),
		handlers.WithCheckoutRoutes(handlers.NewCheckoutHandlers(authenticator, checkoutService, languageService).Routes),
		handlers.WithOrderRoutes(handlers.NewOrderHandlers(authenticator, orderService, languageService).Routes),
		handlers.WithAdminRoutes(handlers.NewAdminHandlers(authenticator, orderService, settingsService, uploader).Routes),
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
		serverLogger.Info("storefront listening", zap.String("environment", cfg.Environment), zap.String("cartBackend", cfg.Cart.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}

	stopBackground()
	backgroundWG.Wait()

	if err := cartService.Close(shutdownCtx); err != nil {
		logger.Warn("cart flush incomplete", zap.Error(err))
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		logger.Warn("notification queue not drained", zap.Error(err))
	}
}

// watchSettings keeps the settings cache live, reconnecting with capped
// exponential backoff when the listener fails.
func watchSettings(ctx context.Context, svc services.SettingsService, logger *zap.Logger) {
	delay := settingsRetryMin
	for {
		err := svc.Watch(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.Warn("settings listener stopped; retrying", zap.Error(err), zap.Duration("backoff", delay))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > settingsRetryMax {
			delay = settingsRetryMax
		}
	}
}

func sweepCarts(ctx context.Context, carts services.CartService, interval time.Duration, logger *zap.Logger) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := carts.Sweep(ctx); evicted > 0 {
				logger.Debug("idle carts evicted", zap.Int("count", evicted))
			}
		}
	}
}

func loadSettingsSeed(path string) (*services.StoreSettings, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, nil
	}
	seed, err := services.LoadSettingsSeed(path)
	if err != nil {
		return nil, err
	}
	return &seed, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["STORE_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["STORE_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: cfg.Environment,
		StartedAt:   started,
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func credentialsOption(cfg config.Config) []option.ClientOption {
	if file := strings.TrimSpace(cfg.Firebase.CredentialsFile); file != "" {
		return []option.ClientOption{option.WithCredentialsFile(file)}
	}
	return nil
}

func firestoreClientOptions(cfg config.Config) []pfirestore.ProviderOption {
	opts := credentialsOption(cfg)
	if len(opts) == 0 {
		return nil
	}
	return []pfirestore.ProviderOption{pfirestore.WithClientOptions(opts...)}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	opts := []secrets.Option{secrets.WithLogger(logger.Named("secrets"))}
	if path := lookup("STORE_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	project := lookup("STORE_SECRET_DEFAULT_PROJECT_ID")
	if project == "" {
		project = lookup("STORE_FIREBASE_PROJECT_ID")
	}
	if project != "" {
		opts = append(opts, secrets.WithDefaultProject(project))
	}
	if file := lookup("STORE_FIREBASE_CREDENTIALS_FILE"); file != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(file)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists secrets that must resolve to a value. The SMS key
// is only required once a gateway endpoint is configured.
func requiredSecretNames(env map[string]string) []string {
	var required []string
	if strings.TrimSpace(env["STORE_SMS_ENDPOINT"]) != "" {
		required = append(required, "SMS.APIKey")
	}
	if strings.TrimSpace(env["STORE_TRANSLATE_ENDPOINT"]) != "" {
		required = append(required, "Translation.APIKey")
	}
	return required
}
