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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/retail-admin/fulfillment/internal/handlers"
	"github.com/retail-admin/fulfillment/internal/platform/auth"
	"github.com/retail-admin/fulfillment/internal/platform/config"
	"github.com/retail-admin/fulfillment/internal/platform/events"
	pfirestore "github.com/retail-admin/fulfillment/internal/platform/firestore"
	"github.com/retail-admin/fulfillment/internal/platform/idempotency"
	"github.com/retail-admin/fulfillment/internal/platform/observability"
	"github.com/retail-admin/fulfillment/internal/platform/requestctx"
	"github.com/retail-admin/fulfillment/internal/platform/secrets"
	"github.com/retail-admin/fulfillment/internal/repositories"
	firestoreRepo "github.com/retail-admin/fulfillment/internal/repositories/firestore"
	"github.com/retail-admin/fulfillment/internal/repositories/memory"
	"github.com/retail-admin/fulfillment/internal/services"
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

	logger := baseLogger.Named("api")
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

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var invalid *config.ValidationError
		if errors.As(err, &invalid) {
			logger.Fatal("invalid configuration", zap.Strings("fields", invalid.Fields()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	location, err := cfg.Fulfillment.Location()
	if err != nil {
		logger.Fatal("failed to load fulfillment timezone", zap.Error(err))
	}

	stack, err := openBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise store", zap.String("driver", cfg.Store.Driver), zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := stack.registry.Close(closeCtx); err != nil {
			logger.Warn("store close error", zap.Error(err))
		}
	}()

	deps := services.FulfillmentServiceDeps{
		Store:             stack.registry.Fulfillment(),
		Orders:            stack.registry.Orders(),
		SalesHistory:      stack.registry.SalesHistory(),
		Products:          stack.registry.Products(),
		Counters:          stack.registry.Counters(),
		Location:          location,
		OrderNumberPrefix: cfg.Fulfillment.OrderNumberPrefix,
		Logger:            observability.ServiceLogger(logger.Named("fulfillment")),
	}

	publisher, err := newOrderPublisher(ctx, cfg)
	if err != nil {
		logger.Fatal("failed to initialise order event publisher", zap.Error(err))
	}
	if publisher != nil {
		deps.Events = publisher
		defer publisher.close()
	} else {
		logger.Info("order event publishing disabled")
	}

	fulfillment, err := services.NewFulfillmentService(deps)
	if err != nil {
		logger.Fatal("failed to initialise fulfillment service", zap.Error(err))
	}

	guard, err := buildRoleGuard(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialise authentication", zap.Error(err))
	}

	if addr := strings.TrimSpace(cfg.Idempotency.RedisAddr); addr != "" {
		client, err := idempotency.NewRedisClient(ctx, addr, cfg.Idempotency.RedisPassword)
		if err != nil {
			logger.Fatal("failed to connect idempotency redis", zap.Error(err))
		}
		defer func() {
			_ = client.Close()
		}()
		keys, err := idempotency.NewRedisStore(client)
		if err != nil {
			logger.Fatal("failed to initialise idempotency store", zap.Error(err))
		}
		stack.idempotency = keys
		stack.readiness["redis"] = func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		}
	}

	idempotencyMiddleware := idempotency.Middleware(stack.idempotency, idempotency.Config{
		Header:   cfg.Idempotency.Header,
		TTL:      cfg.Idempotency.TTL,
		Required: cfg.Idempotency.Required,
	})

	healthOpts := []handlers.HealthOption{
		handlers.WithHealthBuildInfo(handlers.BuildInfo{
			Version:     buildVersion(envValues),
			Environment: cfg.Security.Environment,
			StartedAt:   startedAt,
		}),
	}
	for name, check := range stack.readiness {
		healthOpts = append(healthOpts, handlers.WithReadinessCheck(name, check))
	}

	orderHandlers := handlers.NewOrderHandlers(guard, fulfillment)
	reportHandlers := handlers.NewReportHandlers(guard, fulfillment)

	projectID := traceProjectID(cfg)
	router := handlers.NewRouter(
		handlers.WithMiddlewares(
			observability.TraceMiddleware(projectID),
			observability.InjectLoggerMiddleware(logger.Named("http")),
			observability.RequestLoggerMiddleware(),
			observability.RecoveryMiddleware(logger.Named("http")),
		),
		handlers.WithAPIMiddlewares(idempotencyMiddleware),
		handlers.WithHealthHandlers(handlers.NewHealthHandlers(healthOpts...)),
		handlers.WithRoutes(orderHandlers.Routes, reportHandlers.Routes),
		handlers.WithRequestTimeout(cfg.Server.WriteTimeout),
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

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr), zap.String("store", cfg.Store.Driver))
	go func() {
		serverLogger.Info("fulfillment api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

// backend bundles what the configured store driver provides to the rest of the process.
type backend struct {
	registry    repositories.Registry
	idempotency idempotency.Store
	readiness   map[string]handlers.ReadinessCheck
}

func openBackend(ctx context.Context, cfg config.Config, logger *zap.Logger) (backend, error) {
	switch cfg.Store.Driver {
	case config.StoreDriverMemory:
		store := memory.NewStore(memory.WithTxAttempts(cfg.Fulfillment.TxAttempts))
		if path := strings.TrimSpace(cfg.Store.SeedFile); path != "" {
			count, err := seedCatalog(ctx, store.Products(), path)
			if err != nil {
				return backend{}, err
			}
			logger.Info("seeded catalog", zap.String("file", path), zap.Int("products", count))
		}
		logger.Warn("using in-memory store; data is lost on restart")
		return backend{
			registry:    store,
			idempotency: idempotency.NewMemoryStore(),
			readiness:   map[string]handlers.ReadinessCheck{},
		}, nil
	case config.StoreDriverFirestore:
		provider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(cfg.Firestore.DialTimeout))
		if _, err := provider.Client(ctx); err != nil {
			return backend{}, err
		}
		registry, err := firestoreRepo.NewRegistry(provider, cfg.Fulfillment.TxAttempts, cfg.Fulfillment.TxTimeout)
		if err != nil {
			return backend{}, err
		}
		keys, err := idempotency.NewFirestoreStore(provider)
		if err != nil {
			return backend{}, err
		}
		return backend{
			registry:    registry,
			idempotency: keys,
			readiness: map[string]handlers.ReadinessCheck{
				"firestore": provider.Ping,
			},
		}, nil
	default:
		return backend{}, fmt.Errorf("unsupported store driver %q", cfg.Store.Driver)
	}
}

type orderPublisher struct {
	*events.PubSubOrderPublisher
	client *pubsub.Client
}

func (p *orderPublisher) close() {
	p.Stop()
	_ = p.client.Close()
}

// newOrderPublisher returns nil when no topic is configured.
func newOrderPublisher(ctx context.Context, cfg config.Config) (*orderPublisher, error) {
	topicID := strings.TrimSpace(cfg.PubSub.OrderEventsTopic)
	if topicID == "" {
		return nil, nil
	}
	if host := strings.TrimSpace(cfg.PubSub.EmulatorHost); host != "" && os.Getenv("PUBSUB_EMULATOR_HOST") == "" {
		_ = os.Setenv("PUBSUB_EMULATOR_HOST", host)
	}
	projectID := strings.TrimSpace(cfg.PubSub.ProjectID)
	if projectID == "" {
		return nil, errors.New("pubsub project id is required when an order events topic is set")
	}
	client, err := pubsub.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub: create client: %w", err)
	}
	publisher, err := events.NewPubSubOrderPublisher(client.Topic(topicID))
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	return &orderPublisher{PubSubOrderPublisher: publisher, client: client}, nil
}

func buildRoleGuard(ctx context.Context, cfg config.Config, logger *zap.Logger) (handlers.RoleGuard, error) {
	if cfg.Security.AuthDisabled {
		logger.Warn("authentication disabled; every request acts as the local admin")
		identity := auth.Identity{UID: "local-admin", Roles: []string{auth.RoleAdmin}}
		return func(roles ...string) func(http.Handler) http.Handler {
			return auth.RequireStaticIdentity(identity, roles...)
		}, nil
	}
	verifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase, 0)
	if err != nil {
		return nil, err
	}
	return auth.NewAuthenticator(verifier).Require, nil
}

func buildVersion(env map[string]string) string {
	if version := strings.TrimSpace(env["API_BUILD_VERSION"]); version != "" {
		return version
	}
	return "dev"
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

	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
