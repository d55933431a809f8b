package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/adapter/cache"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/bootstrap"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/config"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/credential"
	httptransport "github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/http"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/http/handler"
	httpmiddleware "github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/http/middleware"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/license"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/repository"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/scheduler"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/server"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/service"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/taxonomy"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/telemetry"
	"github.com/NewPath-Consulting/Wild-Apricot-Press-sub000/internal/wildapricot"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newRedisClient,
			newSettingsStore,
			newCredentialStore,
			newSnapshotStore,
			newLicenseStore,
			newSystemFlag,
			newRestrictionRepository,
			newVisitorRepository,
			newTokenCache,
			newSyncLock,
			newWildApricotClient,
			newCipher,
			newCredentialCache,
			newLicenseChecker,
			newIdentityProvider,
			newValidator,
			newSynchronizer,
			service.NewSystemService,
			newAccessService,
			newVisitorService,
			newScheduler,
			newRateLimiter,
			newGatewayHandler,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.EnsureSchema, registerJobs, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Environment == "development" {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	node, err := snowflake.NewNode(1)
	return node, err
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newSettingsStore(pool *pgxpool.Pool) repository.SettingsStore {
	return repository.NewPostgresSettingsStore(pool)
}

func newCredentialStore(settings repository.SettingsStore) *repository.CredentialStore {
	return repository.NewCredentialStore(settings)
}

func newSnapshotStore(settings repository.SettingsStore) repository.SnapshotStore {
	return repository.NewSettingsSnapshotStore(settings)
}

func newLicenseStore(settings repository.SettingsStore) repository.LicenseStore {
	return repository.NewSettingsLicenseStore(settings)
}

func newSystemFlag(settings repository.SettingsStore) *repository.SystemFlag {
	return repository.NewSystemFlag(settings)
}

func newRestrictionRepository(pool *pgxpool.Pool) repository.RestrictionRepository {
	return repository.NewPostgresRestrictionRepo(pool)
}

func newVisitorRepository(pool *pgxpool.Pool) repository.VisitorRepository {
	return repository.NewPostgresVisitorRepo(pool)
}

func newTokenCache(client redis.UniversalClient) repository.AccessTokenCache {
	return cacheadapter.NewRedisTokenCache(client)
}

func newSyncLock(client redis.UniversalClient) repository.SyncLock {
	return cacheadapter.NewRedisSyncLock(client)
}

func newWildApricotClient(cfg config.Config, logger *zap.Logger) *wildapricot.Client {
	return wildapricot.NewClient(wildapricot.Options{
		AuthBaseURL:       cfg.WAAuthBaseURL,
		APIBaseURL:        cfg.WAAPIBaseURL,
		ClientKey:         cfg.WAClientKey,
		ClientSecret:      cfg.WAClientSecret,
		RequestsPerSecond: cfg.WARequestsPerSecond,
		Logger:            logger,
	})
}

func newCipher(cfg config.Config) (*credential.Cipher, error) {
	return credential.NewCipher(cfg.EncryptionKey)
}

func newCredentialCache(
	client *wildapricot.Client,
	tokens repository.AccessTokenCache,
	store *repository.CredentialStore,
	cipher *credential.Cipher,
	logger *zap.Logger,
) *credential.Cache {
	return credential.NewCache(client, tokens, store, cipher, logger)
}

func newLicenseChecker(cfg config.Config) license.Checker {
	return license.NewHTTPChecker(cfg.LicenseEndpoint, nil)
}

func newIdentityProvider(cache *credential.Cache, client *wildapricot.Client, cfg config.Config) license.IdentityProvider {
	return license.NewCredentialIdentity(cache, client, cfg.SiteURL)
}

func newValidator(licenses repository.LicenseStore, checker license.Checker, identity license.IdentityProvider, logger *zap.Logger) *license.Validator {
	return license.NewValidator(licenses, checker, identity, logger)
}

func newSynchronizer(
	cache *credential.Cache,
	client *wildapricot.Client,
	validator *license.Validator,
	snapshots repository.SnapshotStore,
	restrictions repository.RestrictionRepository,
	visitors repository.VisitorRepository,
	lock repository.SyncLock,
	node *snowflake.Node,
	cfg config.Config,
	logger *zap.Logger,
) *taxonomy.Synchronizer {
	sync := taxonomy.NewSynchronizer(cache, client, validator, snapshots, restrictions, visitors, lock, node, logger)
	if cfg.SyncLockTTL > 0 {
		sync.LockTTL = cfg.SyncLockTTL
	}
	return sync
}

func newAccessService(
	restrictions repository.RestrictionRepository,
	visitors repository.VisitorRepository,
	system *service.SystemService,
	cfg config.Config,
	logger *zap.Logger,
) *service.AccessService {
	return service.NewAccessService(restrictions, visitors, system, cfg, logger)
}

func newVisitorService(cache *credential.Cache, client *wildapricot.Client, visitors repository.VisitorRepository, logger *zap.Logger) *service.VisitorService {
	return service.NewVisitorService(cache, client, visitors, logger)
}

func newScheduler(logger *zap.Logger) *scheduler.Scheduler {
	return scheduler.New(logger)
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newGatewayHandler(
	accessSvc *service.AccessService,
	system *service.SystemService,
	validator *license.Validator,
	cache *credential.Cache,
	sync *taxonomy.Synchronizer,
	visitors *service.VisitorService,
	snapshots repository.SnapshotStore,
	logger *zap.Logger,
) *handler.GatewayHandler {
	return handler.NewGatewayHandler(accessSvc, system, validator, cache, sync, visitors, snapshots, logger)
}

// registerJobs schedules the reconcile and license-recheck cycles. Failures
// feed the system flag so a broken credential disables the gateway instead
// of silently looping.
func registerJobs(
	lc fx.Lifecycle,
	sched *scheduler.Scheduler,
	sync *taxonomy.Synchronizer,
	validator *license.Validator,
	system *service.SystemService,
	cfg config.Config,
	logger *zap.Logger,
) error {
	err := sched.Register(scheduler.Job{
		Name:     "reconcile",
		Schedule: cfg.SyncSchedule,
		Run: func(ctx context.Context) error {
			err := sync.Reconcile(ctx)
			if err != nil {
				// Fetch-stage outages abort the cycle without touching the
				// disabled flag; only credential-path failures escalate.
				if !taxonomy.IsFetchError(err) {
					system.Observe(ctx, err)
				}
				return err
			}
			system.ObserveSuccess(ctx)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("register reconcile job: %w", err)
	}

	err = sched.Register(scheduler.Job{
		Name:     "license-recheck",
		Schedule: cfg.LicenseRecheckSchedule,
		Run: func(ctx context.Context) error {
			err := validator.RecheckAll(ctx)
			if err != nil {
				system.Observe(ctx, err)
				return err
			}
			system.ObserveSuccess(ctx)
			return nil
		},
	})
	if err != nil {
		return fmt.Errorf("register license recheck job: %w", err)
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			sched.Start()
			logger.Info("scheduler started",
				zap.String("sync_schedule", cfg.SyncSchedule),
				zap.String("license_recheck_schedule", cfg.LicenseRecheckSchedule),
			)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
	return nil
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(*telemetry.Provider) {}
