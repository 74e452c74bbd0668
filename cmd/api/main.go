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
	"go.uber.org/zap"
	"google.golang.org/api/iterator"

	"github.com/parcelhub/api/internal/handlers"
	"github.com/parcelhub/api/internal/platform/auth"
	"github.com/parcelhub/api/internal/platform/captcha"
	"github.com/parcelhub/api/internal/platform/config"
	pfirestore "github.com/parcelhub/api/internal/platform/firestore"
	"github.com/parcelhub/api/internal/platform/jobs"
	"github.com/parcelhub/api/internal/platform/observability"
	"github.com/parcelhub/api/internal/platform/secrets"
	firestoreRepo "github.com/parcelhub/api/internal/repositories/firestore"
	"github.com/parcelhub/api/internal/services"
)

const captchaCleanupBatchSize = 256

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
		config.WithRequiredSecrets("Auth.JWTSecret"),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
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

	orderRepo, err := firestoreRepo.NewOrderRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise order repository", zap.Error(err))
	}
	statusLogRepo, err := firestoreRepo.NewStatusLogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise status log repository", zap.Error(err))
	}
	operationLogRepo, err := firestoreRepo.NewOperationLogRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise operation log repository", zap.Error(err))
	}
	userRepo, err := firestoreRepo.NewUserRepository(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise user repository", zap.Error(err))
	}
	unitOfWork, err := firestoreRepo.NewUnitOfWork(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise unit of work", zap.Error(err))
	}

	tokenCodec, err := auth.NewTokenCodec(cfg.Auth.JWTSecret,
		auth.WithTokenTTL(cfg.Auth.TokenTTL),
		auth.WithTokenIssuer(cfg.Auth.Issuer),
	)
	if err != nil {
		logger.Fatal("failed to initialise token codec", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(tokenCodec)

	captchaStore := captcha.NewMemoryStore()
	captchaGenerator := captcha.NewGenerator(captcha.WithLength(cfg.Captcha.Length))

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	cleanupTicker := time.NewTicker(time.Minute)
	cleanupWG.Add(1)
	go func() {
		defer cleanupWG.Done()
		cleanupLogger := logger.Named("captcha")
		for {
			select {
			case <-cleanupTicker.C:
				runCtx, cancel := context.WithTimeout(cleanupCtx, 10*time.Second)
				removed, err := captchaStore.CleanupExpired(runCtx, time.Now().UTC(), captchaCleanupBatchSize)
				cancel()
				if err != nil {
					cleanupLogger.Error("captcha cleanup error", zap.Error(err))
					continue
				}
				if removed > 0 {
					cleanupLogger.Debug("captcha cleanup removed challenges", zap.Int("count", removed))
				}
			case <-cleanupCtx.Done():
				return
			}
		}
	}()

	var orderEvents services.OrderEventPublisher
	var pubsubClient *pubsub.Client
	var orderTopic *pubsub.Topic
	if !cfg.Events.Disabled {
		pubsubClient, err = pubsub.NewClient(ctx, cfg.Events.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		orderTopic = pubsubClient.Topic(cfg.Events.OrderTopic)
		orderEvents, err = jobs.NewPubSubOrderEventPublisher(orderTopic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	}
	defer func() {
		if orderTopic != nil {
			orderTopic.Stop()
		}
		if pubsubClient != nil {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}
	}()

	identityService, err := services.NewIdentityService(services.IdentityServiceDeps{
		Users: userRepo,
	})
	if err != nil {
		logger.Fatal("failed to initialise identity service", zap.Error(err))
	}

	trailService, err := services.NewOperationLogService(services.OperationLogServiceDeps{
		Repository: operationLogRepo,
		Clock:      time.Now,
		Logger:     logger.Named("audit").Sugar(),
	})
	if err != nil {
		logger.Fatal("failed to initialise operation log service", zap.Error(err))
	}

	orderService, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:        orderRepo,
		StatusLogs:    statusLogRepo,
		OperationLogs: operationLogRepo,
		Identity:      identityService,
		UnitOfWork:    unitOfWork,
		Clock:         time.Now,
		Events:        orderEvents,
		Logger:        zapEventLogger(logger.Named("orders")),
	})
	if err != nil {
		logger.Fatal("failed to initialise order service", zap.Error(err))
	}

	authService, err := services.NewAuthService(services.AuthServiceDeps{
		Users:      userRepo,
		Tokens:     tokenCodec,
		Captchas:   captchaStore,
		Generator:  captchaGenerator,
		CaptchaTTL: cfg.Captcha.TTL,
		Trail:      trailService,
		Clock:      time.Now,
		Logger:     zapEventLogger(logger.Named("auth")),
	})
	if err != nil {
		logger.Fatal("failed to initialise auth service", zap.Error(err))
	}

	userService, err := services.NewUserService(services.UserServiceDeps{
		Users:    userRepo,
		Identity: identityService,
		Trail:    trailService,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise user service", zap.Error(err))
	}

	loginLimiter := handlers.NewRateLimiter(cfg.RateLimits.LoginPerMinute, time.Minute, time.Now)

	authHandlers := handlers.NewAuthHandlers(authService, loginLimiter)
	orderHandlers := handlers.NewOrderHandlers(authenticator, orderService)
	userHandlers := handlers.NewUserHandlers(authenticator, userService)
	logHandlers := handlers.NewLogHandlers(authenticator, trailService)

	healthHandlers := handlers.NewHealthHandlers(func(ctx context.Context) error {
		iter := firestoreClient.Collections(ctx)
		_, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return nil
		}
		return err
	})

	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(cfg.Firestore.ProjectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(cfg.Firestore.ProjectID),
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithAuthRoutes(authHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithUserRoutes(userHandlers.Routes),
		handlers.WithLogRoutes(logHandlers.Routes),
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
		serverLogger.Info("parcelhub api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	cleanupTicker.Stop()
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func zapEventLogger(logger *zap.Logger) func(context.Context, string, map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zFields := make([]zap.Field, 0, len(fields)+1)
		zFields = append(zFields, zap.String("event", event))
		for k, v := range fields {
			zFields = append(zFields, zap.Any(k, v))
		}
		logger.Debug("service log", zFields...)
	}
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		if env == nil {
			return ""
		}
		return strings.TrimSpace(env[key])
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIRESTORE_PROJECT_ID")
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
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}

	return secrets.NewFetcher(ctx, opts...)
}
