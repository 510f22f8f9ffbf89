package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/tiendaplus/api/internal/di"
	"github.com/tiendaplus/api/internal/handlers"
	"github.com/tiendaplus/api/internal/payments"
	"github.com/tiendaplus/api/internal/platform/auth"
	"github.com/tiendaplus/api/internal/platform/config"
	"github.com/tiendaplus/api/internal/platform/database"
	pfirestore "github.com/tiendaplus/api/internal/platform/firestore"
	"github.com/tiendaplus/api/internal/platform/idempotency"
	"github.com/tiendaplus/api/internal/platform/jobs"
	"github.com/tiendaplus/api/internal/platform/metrics"
	"github.com/tiendaplus/api/internal/platform/observability"
	"github.com/tiendaplus/api/internal/platform/secrets"
	"github.com/tiendaplus/api/internal/repositories"
	firestoreRepo "github.com/tiendaplus/api/internal/repositories/firestore"
	"github.com/tiendaplus/api/internal/repositories/postgres"
	"github.com/tiendaplus/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger(os.Getenv("API_LOG_LEVEL"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

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
		config.WithRequiredSecrets("Database.DSN", "Stripe.APIKey"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	eventLogger := observability.NewEventLogger(logger.Named("events"))

	dbProvider := database.NewProvider(cfg.Database)
	if cfg.Database.AutoMigrate {
		if err := postgres.AutoMigrate(ctx, dbProvider); err != nil {
			logger.Fatal("failed to migrate database schema", zap.Error(err))
		}
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

	auditRepo, err := firestoreRepo.NewAuditLogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise audit log repository", zap.Error(err))
	}

	healthRepo, err := newHealthRepository(dbProvider, firestoreClient)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := postgres.NewRegistry(dbProvider,
		postgres.WithAuditLogs(auditRepo),
		postgres.WithHealth(healthRepo),
		postgres.WithCloser(dbProvider),
	)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	events, closeEvents, err := newOrderEventPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	defer func() {
		if err := closeEvents(); err != nil {
			logger.Warn("order event publisher close error", zap.Error(err))
		}
	}()

	appMetrics := metrics.New()

	stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
		APIKey:    cfg.Stripe.APIKey,
		AccountID: cfg.Stripe.AccountID,
		Logger:    payments.StripeLogger(observability.NewEventLogger(logger.Named("payments"))),
		Clock:     time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise stripe payment provider", zap.Error(err))
	}
	paymentManager, err := payments.NewManager(map[string]payments.Provider{
		"stripe": stripeProvider,
	}, payments.WithDefaultProvider("stripe"))
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Infrastructure{
		Gateway: paymentManager,
		Events:  events,
		Metrics: appMetrics,
		Build:   buildInfo,
		Clock:   time.Now,
		Logger:  eventLogger,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, auth.WithRevocationCheck(cfg.Firebase.CheckRevoked))
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	svc := container.Services
	checkoutHandlers := handlers.NewCheckoutHandlers(authenticator, svc.Checkout,
		handlers.WithCheckoutIdempotency(idempotencyMiddleware),
	)
	orderHandlers := handlers.NewOrderHandlers(authenticator, svc.Orders)
	adminHandlers := handlers.NewAdminOrderHandlers(authenticator, svc.Orders,
		handlers.WithStaffRoles(cfg.Security.StaffRoles...),
	)

	var webhookVerifier handlers.WebhookVerifier
	if secret := strings.TrimSpace(cfg.Stripe.WebhookSecret); secret != "" {
		verifier, err := payments.NewStripeWebhookVerifier(secret)
		if err != nil {
			logger.Fatal("failed to initialise stripe webhook verifier", zap.Error(err))
		}
		webhookVerifier = verifier
	} else {
		logger.Warn("stripe webhook secret not configured; webhook deliveries will be rejected")
	}
	webhookHandlers := handlers.NewStripeWebhookHandlers(webhookVerifier, svc.Checkout)

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
		appMetrics.Middleware,
	}

	router := handlers.NewRouter(
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithMetricsHandler(appMetrics.Handler()),
		handlers.WithCheckoutRoutes(checkoutHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
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
		serverLogger.Info("tiendaplus api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

// newHealthRepository reports Postgres as critical; Firestore only holds audit and idempotency
// records, so an outage there degrades readiness without failing it.
func newHealthRepository(db *database.Provider, client *firestore.Client) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{{
		Name:     "postgres",
		Critical: true,
		Timeout:  time.Second,
		Check:    db.Ping,
	}}
	if client != nil {
		c := client
		checks = append(checks, repositories.DependencyCheck{
			Name:    "firestore",
			Timeout: 1500 * time.Millisecond,
			Check: func(ctx context.Context) error {
				iter := c.Collections(ctx)
				_, err := iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks)
}

// newOrderEventPublisher selects the configured transport. The returned close func is never nil.
func newOrderEventPublisher(ctx context.Context, cfg config.Config) (services.OrderEventPublisher, func() error, error) {
	noop := func() error { return nil }
	switch cfg.Events.Transport {
	case config.EventsTransportPubSub:
		var opts []option.ClientOption
		if cfg.Firebase.CredentialsFile != "" {
			opts = append(opts, option.WithCredentialsFile(cfg.Firebase.CredentialsFile))
		}
		client, err := pubsub.NewClient(ctx, cfg.Events.ProjectID, opts...)
		if err != nil {
			return nil, noop, fmt.Errorf("pubsub client: %w", err)
		}
		publisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Events.Topic))
		if err != nil {
			_ = client.Close()
			return nil, noop, err
		}
		return publisher, closeAll(publisher, client), nil
	case config.EventsTransportAMQP:
		publisher, err := jobs.DialAMQPOrderEventPublisher(cfg.Events.AMQPURL, cfg.Events.AMQPExchange)
		if err != nil {
			return nil, noop, err
		}
		return publisher, publisher.Close, nil
	default:
		return nil, noop, nil
	}
}

func closeAll(closers ...io.Closer) func() error {
	return func() error {
		var errs []error
		for _, c := range closers {
			if err := c.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if projectMap := secretProjectMapFromEnv(lookup("API_SECRET_PROJECT_IDS")); len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// secretProjectMapFromEnv parses "env=project" pairs such as "prod=shop-prod,stg=shop-stg".
func secretProjectMapFromEnv(raw string) map[string]string {
	projects := make(map[string]string)
	for _, entry := range strings.Split(raw, ",") {
		envLabel, project, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			continue
		}
		envLabel = strings.ToLower(strings.TrimSpace(envLabel))
		project = strings.TrimSpace(project)
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}
