package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/parlakisik/aex-negotiation/internal/config"
	"github.com/parlakisik/aex-negotiation/internal/counteroffer"
	"github.com/parlakisik/aex-negotiation/internal/events"
	"github.com/parlakisik/aex-negotiation/internal/httpapi"
	"github.com/parlakisik/aex-negotiation/internal/httpclient"
	"github.com/parlakisik/aex-negotiation/internal/license"
	"github.com/parlakisik/aex-negotiation/internal/llm"
	"github.com/parlakisik/aex-negotiation/internal/lock"
	"github.com/parlakisik/aex-negotiation/internal/negotiation"
	"github.com/parlakisik/aex-negotiation/internal/store"
	"github.com/parlakisik/aex-negotiation/internal/strategy"
)

const serviceName = "aex-negotiation"

func main() {
	cfg := config.Load()

	// Setup structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
	}))
	slog.SetDefault(logger)

	slog.Info("starting "+serviceName,
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store", cfg.StoreType,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	st, closeStore, err := openStore(ctx, cfg)
	cancel()
	if err != nil {
		slog.Error("failed to open store", "store", cfg.StoreType, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	if cfg.StrategiesFile != "" {
		if err := seedStrategies(cfg.StrategiesFile, st); err != nil {
			slog.Error("failed to seed strategies", "file", cfg.StrategiesFile, "error", err)
			os.Exit(1)
		}
	}

	locker, closeLocker := newLocker(cfg)
	defer closeLocker()

	generator, err := counteroffer.NewGenerator(newRegistry(cfg), counteroffer.WithDefaultProvider(cfg.DefaultLLMProvider))
	if err != nil {
		slog.Error("failed to build counter-offer generator", "error", err)
		os.Exit(1)
	}

	publisher := events.NewPublisher(serviceName)
	if cfg.NotifyWebhookURL != "" {
		for _, et := range events.AllEventTypes {
			publisher.RegisterEndpoint(et, cfg.NotifyWebhookURL)
		}
	}
	dispatcher := events.NewDispatcher(publisher, cfg.EventBuffer)

	engine := negotiation.NewEngine(st, strategy.NewMatcher(st), generator,
		negotiation.WithLocker(locker),
		negotiation.WithEvents(dispatcher),
	)

	var limiter *httpapi.RateLimiter
	if cfg.RateLimitPerMinute > 0 {
		limiter = httpapi.NewRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst)
	}
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      httpapi.NewRouter(httpapi.NewServer(engine, st, license.NewGenerator(license.WithValidity(cfg.LicenseValidity)), dispatcher), limiter),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down server...")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		slog.Warn("event queue not drained", "error", err)
	}
	slog.Info("server stopped")
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreType {
	case config.StoreMemory:
		slog.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil

	case config.StoreMongo:
		if cfg.MongoURI == "" {
			return nil, nil, fmt.Errorf("MONGO_URI is required for store %q", cfg.StoreType)
		}
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return nil, nil, fmt.Errorf("connect mongodb: %w", err)
		}
		if err := client.Ping(ctx, nil); err != nil {
			return nil, nil, fmt.Errorf("ping mongodb: %w", err)
		}
		ms := store.NewMongoStore(client, cfg.MongoDatabase)
		if err := ms.EnsureIndexes(ctx); err != nil {
			slog.Warn("failed to create indexes", "error", err)
		}
		slog.Info("using mongodb store", "db", cfg.MongoDatabase)
		return ms, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := client.Disconnect(ctx); err != nil {
				slog.Error("failed to disconnect mongodb", "error", err)
			}
		}, nil

	case config.StorePostgres:
		if cfg.PostgresDSN == "" {
			return nil, nil, fmt.Errorf("POSTGRES_DSN is required for store %q", cfg.StoreType)
		}
		db, err := sql.Open("postgres", cfg.PostgresDSN)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		ps := store.NewPostgresStore(db)
		if err := ps.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		slog.Info("using postgres store")
		return ps, func() { _ = db.Close() }, nil

	case config.StoreFirestore:
		if cfg.FirestoreProjectID == "" {
			return nil, nil, fmt.Errorf("FIRESTORE_PROJECT_ID is required for store %q", cfg.StoreType)
		}
		fs, err := store.NewFirestoreStore(ctx, cfg.FirestoreProjectID)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("using firestore store", "project_id", cfg.FirestoreProjectID)
		return fs, func() { _ = fs.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_TYPE %q", cfg.StoreType)
}

func seedStrategies(path string, st store.StrategyStore) error {
	strategies, err := config.LoadStrategies(path)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for _, s := range strategies {
		existing, err := st.GetStrategy(ctx, s.ID)
		if err != nil {
			return err
		}
		if existing != nil {
			s.CreatedAt = existing.CreatedAt
		}
		if err := st.SaveStrategy(ctx, s); err != nil {
			return fmt.Errorf("save strategy %s: %w", s.ID, err)
		}
	}
	slog.Info("strategies seeded", "file", path, "count", len(strategies))
	return nil
}

func newLocker(cfg config.Config) (lock.Locker, func()) {
	if cfg.RedisAddr == "" {
		return lock.NewMemoryLocker(), func() {}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	slog.Info("using redis negotiation lock", "addr", cfg.RedisAddr)
	return lock.NewRedisLocker(client, cfg.LockTTL), func() { _ = client.Close() }
}

func newRegistry(cfg config.Config) *llm.Registry {
	reg := llm.NewRegistry(
		llm.WithRateLimit(cfg.LLMRatePerSecond, cfg.LLMBurst),
		llm.WithTimeout(cfg.LLMTimeout),
	)
	retry := httpclient.DefaultRetryConfig()
	retry.MaxRetries = cfg.LLMMaxRetries

	if cfg.OpenAIAPIKey != "" {
		client := httpclient.NewClient("openai", cfg.LLMTimeout,
			httpclient.WithRetry(retry),
			httpclient.WithAuth(&httpclient.BearerTokenAuth{Token: cfg.OpenAIAPIKey}),
		)
		reg.Register(llm.ProviderOpenAI, cfg.OpenAIModel, func(model string) llm.Provider {
			return llm.NewOpenAIClient(client, cfg.OpenAIBaseURL, model)
		})
	}
	if cfg.AnthropicAPIKey != "" {
		client := httpclient.NewClient("anthropic", cfg.LLMTimeout,
			httpclient.WithRetry(retry),
			httpclient.WithAuth(&httpclient.APIKeyAuth{Header: "x-api-key", Key: cfg.AnthropicAPIKey}),
		)
		reg.Register(llm.ProviderAnthropic, cfg.AnthropicModel, func(model string) llm.Provider {
			return llm.NewAnthropicClient(client, cfg.AnthropicBaseURL, model)
		})
	}
	if cfg.OpenAIAPIKey == "" && cfg.AnthropicAPIKey == "" {
		slog.Warn("no LLM provider configured; counter-offers will fail")
	}
	return reg
}
