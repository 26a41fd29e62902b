package main

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redislib "github.com/redis/go-redis/v9"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/pprofhandler"
	"go.uber.org/zap"

	apiHandler "github.com/fastygo/tenantauth/api/handler"
	"github.com/fastygo/tenantauth/domain"
	"github.com/fastygo/tenantauth/internal/config"
	"github.com/fastygo/tenantauth/internal/infrastructure/buffer"
	"github.com/fastygo/tenantauth/internal/infrastructure/monitor"
	"github.com/fastygo/tenantauth/internal/infrastructure/oauth"
	pgInfra "github.com/fastygo/tenantauth/internal/infrastructure/postgres"
	redisInfra "github.com/fastygo/tenantauth/internal/infrastructure/redis"
	"github.com/fastygo/tenantauth/internal/middleware"
	"github.com/fastygo/tenantauth/internal/router"
	"github.com/fastygo/tenantauth/internal/services"
	"github.com/fastygo/tenantauth/internal/services/lifecycle"
	"github.com/fastygo/tenantauth/internal/tenancy"
	"github.com/fastygo/tenantauth/pkg/httpcontext"
	"github.com/fastygo/tenantauth/pkg/logger"
	"github.com/fastygo/tenantauth/repository"
	"github.com/fastygo/tenantauth/repository/memory"
	"github.com/fastygo/tenantauth/repository/postgres"
	redisRepo "github.com/fastygo/tenantauth/repository/redis"
	"github.com/fastygo/tenantauth/usecase"
	authUC "github.com/fastygo/tenantauth/usecase/auth"
	"github.com/fastygo/tenantauth/usecase/credential"
	entityUC "github.com/fastygo/tenantauth/usecase/entity"
	profileUC "github.com/fastygo/tenantauth/usecase/profile"
	"github.com/fastygo/tenantauth/usecase/ratelimit"
	roleUC "github.com/fastygo/tenantauth/usecase/role"
	"github.com/fastygo/tenantauth/usecase/token"
)

type repositories struct {
	tenants    repository.TenantRepository
	users      repository.UserRepository
	roles      repository.RoleRepository
	aggregates repository.AggregateRepository
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	zapLogger, err := logger.New(logger.Config{
		Level:    cfg.Logger.Level,
		Encoding: cfg.Logger.Encoding,
	})
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer zapLogger.Sync()

	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	manager := lifecycle.New(cfg.Context.ShutdownTimeout, zapLogger)
	manager.Listen(cancel)

	var (
		repos repositories
		pool  *pgxpool.Pool
	)
	switch cfg.Storage.Driver {
	case config.StorageMemory:
		repos = memoryRepositories(cfg.Storage.SeedTenants, zapLogger)
	default:
		if err := pgInfra.RunMigrations(cfg, zapLogger); err != nil {
			zapLogger.Fatal("migrations failed", zap.Error(err))
		}
		pool, err = pgInfra.NewPool(appCtx, cfg.Database, zapLogger)
		if err != nil {
			zapLogger.Fatal("postgres connection failed", zap.Error(err))
		}
		manager.Register("postgres", func(ctx context.Context) error {
			pgInfra.Close(pool, zapLogger)
			return nil
		})
		repos = repositories{
			tenants:    postgres.NewTenantRepository(pool),
			users:      postgres.NewUserRepository(pool),
			roles:      postgres.NewRoleRepository(pool),
			aggregates: postgres.NewAggregateRepository(pool),
		}
	}

	var (
		redisClient *redislib.Client
		counters    repository.CounterStore
	)
	if cfg.Redis.Enabled {
		redisClient, err = redisInfra.NewClient(appCtx, cfg.Redis, zapLogger)
		if err != nil {
			zapLogger.Fatal("redis connection failed", zap.Error(err))
		}
		manager.Register("redis", func(ctx context.Context) error {
			return redisClient.Close()
		})
		counters = redisRepo.NewCounterStore(redisClient, cfg.RateLimit.KeyPrefix)
	} else {
		counters = memory.NewCounterStore(memory.CounterStoreConfig{MaxKeys: cfg.RateLimit.MemoryLimit})
	}

	outboxStore, err := buffer.Open(cfg.Outbox.Path, "outbox", cfg.Outbox.MaxSize)
	if err != nil {
		zapLogger.Fatal("failed to open outbox", zap.Error(err))
	}
	manager.Register("outbox", func(ctx context.Context) error {
		return outboxStore.Close()
	})

	mon := monitor.New(monitor.Targets{Postgres: pool, Redis: redisClient, Outbox: outboxStore}, 10*time.Second, zapLogger)
	mon.Start()
	manager.Register("monitor", func(ctx context.Context) error {
		mon.Stop()
		return nil
	})

	dispatcher := usecase.NewDispatcher()
	services.RegisterEmailSender(dispatcher, services.LogSender{Logger: zapLogger.Named("mail")})
	outboxProcessor := services.NewOutboxProcessor(outboxStore, dispatcher, zapLogger, services.ProcessorConfig{
		Interval:   cfg.Outbox.SyncInterval,
		BatchSize:  cfg.Outbox.BatchSize,
		MaxRetries: cfg.Outbox.MaxRetry,
		MaxAge:     cfg.Outbox.MaxAge,
	})
	outboxProcessor.Start()
	manager.Register("outbox_processor", func(ctx context.Context) error {
		outboxProcessor.Stop(ctx)
		return nil
	})

	guard := tenancy.NewGuard(zapLogger)

	if cfg.Sweep.Enabled {
		sweeper, err := services.NewTokenSweeper(repos.users, guard, cfg.Sweep.Spec, zapLogger)
		if err != nil {
			zapLogger.Fatal("invalid sweep schedule", zap.Error(err))
		}
		sweeper.Start()
		manager.Register("token_sweeper", func(ctx context.Context) error {
			sweeper.Stop(ctx)
			return nil
		})
	}

	roleUseCase := roleUC.New(repos.roles, repos.users, guard, cfg.Auth.StoreTimeout, zapLogger)
	credentialStore := credential.New(repos.users, repos.tenants, guard, services.NewMailOutbox(outboxProcessor), roleUseCase, credential.Config{
		BcryptCost:      cfg.Auth.BcryptCost,
		ResetTTL:        cfg.Auth.ResetTTL,
		VerificationTTL: cfg.Auth.VerificationTTL,
		StoreTimeout:    cfg.Auth.StoreTimeout,
		LinkBaseURL:     cfg.Auth.LinkBaseURL,
	}, zapLogger)
	tokenService := token.New(repos.users, repos.tenants, guard, token.Config{
		Secret:           cfg.JWT.Secret,
		Issuer:           cfg.JWT.Issuer,
		AccessTTL:        cfg.JWT.AccessTTL,
		RefreshTTL:       cfg.JWT.RefreshTTL,
		MaxRefreshTokens: cfg.JWT.MaxRefreshTokens,
		StoreTimeout:     cfg.Auth.StoreTimeout,
	}, zapLogger)

	providers := make(map[string]authUC.IdentityProvider, len(cfg.OAuth.Providers))
	for name, endpoint := range cfg.OAuth.Providers {
		providers[name] = oauth.NewUserInfoProvider(endpoint, cfg.OAuth.Timeout)
	}

	authUseCase := authUC.New(credentialStore, tokenService, providers, zapLogger)
	profileUseCase := profileUC.New(repos.users, guard, cfg.Auth.StoreTimeout, zapLogger)
	entityUseCase := entityUC.New(repos.aggregates, guard, roleUseCase, cfg.Auth.StoreTimeout, zapLogger)

	opts := apiHandler.Options{
		Adapter:    httpcontext.NewAdapter(cfg.Context.RequestTimeout),
		Logger:     zapLogger,
		Production: cfg.IsProduction(),
	}
	handlers := router.Handlers{
		Auth:    apiHandler.NewAuthHandler(authUseCase, guard, opts),
		Profile: apiHandler.NewProfileHandler(profileUseCase, opts),
		Role:    apiHandler.NewRoleHandler(roleUseCase, opts),
		Entity:  apiHandler.NewEntityHandler(entityUseCase, opts),
		Health:  apiHandler.NewHealthHandler(mon, opts),
	}

	mw := router.Middlewares{
		Auth:   middleware.JWTAuth(tokenService, zapLogger),
		Tenant: middleware.Tenant(repos.tenants, cfg.Auth.StoreTimeout, zapLogger),
	}
	if cfg.RateLimit.Enabled {
		limiter := ratelimit.New(counters, ratelimit.Config{
			Policies: map[string]ratelimit.Policy{
				ratelimit.PolicyAuth: {Limit: cfg.RateLimit.AuthLimit, Window: cfg.RateLimit.AuthWindow},
				ratelimit.PolicyAPI:  {Limit: cfg.RateLimit.APILimit, Window: cfg.RateLimit.APIWindow},
			},
			StoreTimeout: cfg.Auth.StoreTimeout,
		}, zapLogger)
		limitOpts := middleware.RateLimitOptions{
			FailClosed: cfg.RateLimit.FailClosed,
			TrustProxy: cfg.HTTP.TrustProxy,
			Timeout:    cfg.Auth.StoreTimeout,
		}
		mw.AuthLimit = middleware.RateLimit(limiter, ratelimit.PolicyAuth, limitOpts, zapLogger)
		mw.APILimit = middleware.RateLimit(limiter, ratelimit.PolicyAPI, limitOpts, zapLogger)
	}

	r := router.New(handlers, mw)
	if cfg.HTTP.EnablePprof {
		r.GET("/debug/pprof/{profile:*}", pprofhandler.PprofHandler)
	}

	server := &fasthttp.Server{
		Handler:      r.Handler,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
		Concurrency:  cfg.HTTP.MaxConn,
		Name:         cfg.AppName,
	}

	go func() {
		zapLogger.Info("server started",
			zap.String("address", cfg.Address()),
			zap.String("storage", cfg.Storage.Driver),
			zap.Bool("redis", cfg.Redis.Enabled))
		if err := server.ListenAndServe(cfg.Address()); err != nil {
			zapLogger.Fatal("server crashed", zap.Error(err))
		}
	}()

	manager.Register("http_server", func(ctx context.Context) error {
		return server.ShutdownWithContext(ctx)
	})

	<-appCtx.Done()

	if err := manager.Shutdown(context.Background()); err != nil {
		zapLogger.Error("graceful shutdown error", zap.Error(err))
	}
}

// memoryRepositories builds the in-process store and seeds "id:slug" tenants.
func memoryRepositories(seeds []string, log *zap.Logger) repositories {
	store := memory.NewStore()
	for _, seed := range seeds {
		id, slug, ok := strings.Cut(seed, ":")
		id, slug = strings.TrimSpace(id), strings.TrimSpace(slug)
		if !ok || id == "" {
			log.Warn("ignoring malformed tenant seed", zap.String("seed", seed))
			continue
		}
		if slug == "" {
			slug = id
		}
		store.PutTenant(domain.Tenant{
			ID:                 id,
			Slug:               slug,
			Name:               slug,
			Status:             domain.TenantStatusActive,
			SubscriptionStatus: domain.SubscriptionActive,
		})
	}
	log.Warn("using in-memory storage; data is lost on restart", zap.Int("tenants", len(seeds)))
	return repositories{
		tenants:    store.Tenants(),
		users:      store.Users(),
		roles:      store.Roles(),
		aggregates: store.Aggregates(),
	}
}
