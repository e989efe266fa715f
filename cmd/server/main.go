package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/UkralStul/fexora/graph"
	"github.com/UkralStul/fexora/internal/api"
	"github.com/UkralStul/fexora/internal/changefeed"
	"github.com/UkralStul/fexora/internal/config"
	"github.com/UkralStul/fexora/internal/directory"
	"github.com/UkralStul/fexora/internal/domain"
	"github.com/UkralStul/fexora/internal/feed"
	"github.com/UkralStul/fexora/internal/identity"
	"github.com/UkralStul/fexora/internal/metrics"
	"github.com/UkralStul/fexora/internal/posts"
	"github.com/UkralStul/fexora/internal/retry"
	"github.com/UkralStul/fexora/internal/session"
	"github.com/UkralStul/fexora/internal/storage"
	"github.com/UkralStul/fexora/internal/storage/inmemory"
	"github.com/UkralStul/fexora/internal/storage/postgres"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// appStore - хранилище профилей, постов и аккаунтов.
type appStore interface {
	storage.Storage
	storage.AccountStore
}

func main() {
	storageType := flag.String("storage", "", "Storage type (in-memory or postgres); overrides STORAGE")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *storageType != "" {
		cfg.Storage = *storageType
		if err := cfg.Validate(); err != nil {
			slog.Error("invalid config", "error", err)
			os.Exit(1)
		}
	}

	logger := initLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	recorder := metrics.NewCollector(registry)

	guard := storage.Guard{
		Timeout: cfg.StoreOpTimeout,
		Retry: retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    retry.DefaultPolicy.MaxDelay,
		},
		Metrics: recorder,
	}

	logger.Info("starting server", "storage", cfg.Storage, "broker", cfg.Broker, "env", cfg.AppEnv)
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	var redisClient *redis.Client
	if cfg.Broker == config.BrokerRedis || cfg.Revocation == config.RevocationRedis {
		redisClient, err = openRedis(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
	}

	broker, err := openBroker(ctx, cfg, redisClient, logger)
	if err != nil {
		return err
	}
	// брокер закрывает и общий клиент Redis
	defer broker.Close()
	if redisClient != nil && cfg.Broker != config.BrokerRedis {
		defer redisClient.Close()
	}

	var revoker identity.Revoker = identity.NewMemoryRevoker(nil)
	if cfg.Revocation == config.RevocationRedis {
		revoker = identity.NewRedisRevoker(redisClient)
	}

	var federated identity.FederatedProvider
	if cfg.OIDCIssuerURL != "" {
		federated, err = identity.NewOIDCProvider(ctx, identity.OIDCConfig{
			Name:         cfg.OIDCProviderName,
			IssuerURL:    cfg.OIDCIssuerURL,
			ClientID:     cfg.OIDCClientID,
			ClientSecret: cfg.OIDCClientSecret,
			RedirectURL:  cfg.OIDCRedirectURL,
		})
		if err != nil {
			return err
		}
	}

	dir := directory.New(store, directory.Config{Broker: broker, Guard: guard, Logger: logger})
	repo := posts.New(store, posts.Config{
		Broker:  broker,
		Authors: dir,
		Guard:   guard,
		Metrics: recorder,
		Logger:  logger,
	})
	assembler := feed.New(repo, dir, feed.Config{
		CacheSize: cfg.FeedProfileCacheSize,
		CacheTTL:  cfg.FeedProfileCacheTTL,
		Metrics:   recorder,
		Logger:    logger,
	})
	go func() {
		if err := assembler.EvictOnChanges(ctx, broker); err != nil {
			logger.Warn("profile cache invalidation stopped", "error", err)
		}
	}()

	provider := identity.NewLocalProvider(store, identity.LocalConfig{
		Tokens:   identity.NewTokenIssuer(cfg.TokenSecret, cfg.TokenIssuer, cfg.SessionTTL, nil),
		Revoker:  revoker,
		Mailer:   identity.LogMailer{Logger: logger},
		ResetTTL: cfg.ResetTokenTTL,
		ResetURL: cfg.ResetURL,
		Guard:    guard,
		Logger:   logger,
	})
	gateway := identity.NewGateway(identity.GatewayConfig{
		Provider:  provider,
		Federated: federated,
		Profiles:  dir,
		Metrics:   recorder,
		Logger:    logger,
	})

	if cfg.Storage == config.StorageInMemory && cfg.SeedDemoData {
		if err := fillWithMockData(ctx, gateway, repo, logger); err != nil {
			return err
		}
	}

	resolver := &graph.Resolver{
		Gateway:   gateway,
		Directory: dir,
		Posts:     repo,
		Feed:      assembler,
		Logger:    logger,
	}
	srv := api.New(api.Config{
		Gateway:             gateway,
		Directory:           dir,
		Posts:               repo,
		Feed:                assembler,
		Health:              store,
		GraphQL:             resolver,
		Metrics:             metrics.Handler(registry),
		Logger:              logger,
		AllowedOrigins:      cfg.AllowedOrigins(),
		AuthRateLimitPerMin: cfg.AuthRateLimitPerMin,
		WSPingInterval:      cfg.WSPingInterval,
	})

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Port),
		Handler:           srv.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed to start: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown: %w", err)
	}
	return nil
}

func openStore(cfg *config.Config) (appStore, error) {
	if cfg.Storage == config.StoragePostgres {
		store, err := postgres.New(cfg.DatabaseURL, cfg.GormLogLevel)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
		return store, nil
	}
	return inmemory.New(), nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func openBroker(ctx context.Context, cfg *config.Config, redisClient *redis.Client, logger *slog.Logger) (changefeed.Broker, error) {
	switch cfg.Broker {
	case config.BrokerRedis:
		return changefeed.NewRedisFromClient(redisClient, logger), nil
	case config.BrokerNATS:
		return changefeed.NewNATS(cfg.NATSURL, logger)
	case config.BrokerPostgres:
		return changefeed.NewPostgres(ctx, cfg.DatabaseURL, logger)
	default:
		return changefeed.NewMemory(), nil
	}
}

// initLogger настраивает slog по конфигурации и делает его логгером по умолчанию.
func initLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLogLevel(cfg.LogLevel)}

	var h slog.Handler
	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// fillWithMockData создает демо-пользователей и посты для in-memory режима.
func fillWithMockData(ctx context.Context, gateway *identity.Gateway, repo *posts.Repository, logger *slog.Logger) error {
	// отдельная сессия, чтобы демо-входы не попали в сессию шлюза по умолчанию
	seedCtx := session.WithContext(ctx, session.New())

	alice, err := gateway.Register(seedCtx, "alice@example.com", "password1", "Alice")
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to register alice: %w", err)
	}
	bob, err := gateway.Register(seedCtx, "bob@example.com", "password1", "")
	if err != nil {
		return fmt.Errorf("fillWithMockData: failed to register bob: %w", err)
	}

	seed := []struct {
		owner  string
		fields domain.PostFields
	}{
		{alice.Account.ID, domain.PostFields{
			Title:   "Живая лента на Go",
			Content: "<p>Подписки на выборки отдают полные снимки, а не дельты.</p>",
		}},
		{bob.Account.ID, domain.PostFields{
			Title:   "Пост без имени в профиле",
			Content: "Имя автора возьмется из снимка в посте или станет Anonymous.",
		}},
		{alice.Account.ID, domain.PostFields{
			Title:   "Второй пост Alice",
			Content: strings.Repeat("Длинный текст для оценки времени чтения. ", 20),
		}},
	}
	for _, s := range seed {
		if _, err := repo.Create(ctx, s.owner, s.fields); err != nil {
			return fmt.Errorf("fillWithMockData: failed to create post %q: %w", s.fields.Title, err)
		}
	}

	logger.Info("mock data filled", "users", 2, "posts", len(seed), "demo_login", "alice@example.com / password1")
	return nil
}
