package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/inviteqr/internal/api"
	"github.com/charlesng35/inviteqr/internal/app"
	"github.com/charlesng35/inviteqr/internal/app/maintenance"
	"github.com/charlesng35/inviteqr/internal/cache"
	"github.com/charlesng35/inviteqr/internal/database"
	"github.com/charlesng35/inviteqr/internal/middleware"
	"github.com/charlesng35/inviteqr/internal/monitoring"
	"github.com/charlesng35/inviteqr/internal/monitoring/checks"
	"github.com/charlesng35/inviteqr/internal/qrcodec"
	"github.com/charlesng35/inviteqr/internal/services"
	"github.com/charlesng35/inviteqr/internal/telemetry"
	"github.com/charlesng35/inviteqr/pkg/logger"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB        *gorm.DB
	Redis     *redis.Client
	Invites   *services.InviteService
	Scans     *services.ScanLogService
	Cleaner   *maintenance.Cleaner
	Health    *monitoring.HealthManager
	RateStore middleware.RateStore
	Router    *gin.Engine

	shutdownTracing telemetry.ShutdownFunc
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(ctx context.Context, cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
	stack := &runtimeStack{}
	var err error
	success := false

	defer func() {
		if !success {
			stack.Shutdown(context.Background(), log)
		}
	}()

	// enable gin debug mod
	if debug, _ := os.LookupEnv("GIN_DEBUG"); debug != "true" {
		gin.SetMode(gin.ReleaseMode)
	}

	stack.shutdownTracing, err = telemetry.Setup(ctx, cfg.Monitoring.TelemetryConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise tracing: %w", err)
	}

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisClient(ctx, cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to in-process caches", zap.Error(err))
		} else {
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var (
		inviteCache *cache.InviteCache
		redisStore  *cache.RedisStore
	)
	if stack.Redis != nil {
		redisStore = cache.NewRedisStore(stack.Redis)
		inviteCache = cache.NewRedisInviteCache(stack.Redis, cfg.Cache.InviteTTL)
		stack.RateStore = middleware.NewRateStore(redisStore)
	} else {
		inviteCache = cache.NewMemoryInviteCache(cfg.Cache.InviteTTL)
		stack.RateStore = middleware.NewRateStore(cache.NewMemoryStore())
	}

	archive, err := initialiseArchive(ctx, cfg.Storage.Archive)
	if err != nil {
		return nil, err
	}

	stack.Scans, err = services.NewScanLogService(stack.DB)
	if err != nil {
		return nil, fmt.Errorf("initialise scan log service: %w", err)
	}

	codec := qrcodec.New(
		qrcodec.WithModuleSize(cfg.QRCode.ModuleSize),
		qrcodec.WithQuietZone(cfg.QRCode.QuietZone),
	)

	opts := []services.InviteOption{
		services.WithInviteCache(inviteCache),
		services.WithScanLog(stack.Scans),
	}
	if archive != nil {
		opts = append(opts, services.WithImageArchive(archive))
	}

	stack.Invites, err = services.NewInviteService(stack.DB, codec, opts...)
	if err != nil {
		return nil, fmt.Errorf("initialise invite service: %w", err)
	}

	stack.Cleaner = maintenance.NewCleaner(stack.Invites, stack.Scans,
		maintenance.WithScanRetentionDays(cfg.Maintenance.ScanRetentionDays),
		maintenance.WithScanSchedule(cfg.Maintenance.ScanCleanupSchedule),
		maintenance.WithStatsSchedule(cfg.Maintenance.StatsSchedule),
	)
	if err := stack.Cleaner.Start(); err != nil {
		return nil, fmt.Errorf("start maintenance jobs: %w", err)
	}

	stack.Health = monitoring.NewHealthManager()
	stack.Health.RegisterLiveness(checks.Maintenance(0))
	stack.Health.RegisterReadiness(checks.Database(stack.DB, 0))
	if redisStore != nil {
		stack.Health.RegisterReadiness(checks.Redis(redisStore, true, cfg.Cache.Redis.Timeout))
	} else {
		stack.Health.RegisterReadiness(checks.Redis(nil, cfg.Cache.Redis.Enabled, 0))
	}

	stack.Router, err = api.NewRouter(cfg, stack.Invites, stack.Health, stack.RateStore)
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	var errs error

	if s.Cleaner != nil {
		<-s.Cleaner.Stop().Done()
	}

	if s.shutdownTracing != nil {
		errs = multierr.Append(errs, s.shutdownTracing(ctx))
	}

	if s.Redis != nil {
		errs = multierr.Append(errs, s.Redis.Close())
	}

	if s.DB != nil {
		errs = multierr.Append(errs, database.Close(s.DB))
	}

	for _, err := range multierr.Errors(errs) {
		log.Warn("shutdown", zap.Error(err))
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := cfg.Database.ConnectionConfig()
	if dbCfg.Driver == "" || dbCfg.Driver == "sqlite" {
		if err := ensureParentDir(dbCfg.Path); err != nil {
			return nil, err
		}
	}

	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndSeed(db); err != nil {
		_ = database.Close(db)
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", dbCfg.Driver))

	return db, nil
}

func initialiseArchive(ctx context.Context, cfg app.ArchiveConfig) (services.ImageArchive, error) {
	switch driver := cfg.NormalizedDriver(); driver {
	case app.ArchiveDriverNone:
		return nil, nil
	case app.ArchiveDriverFilesystem:
		archive, err := services.NewFilesystemImageArchive(strings.TrimSpace(cfg.Path))
		if err != nil {
			return nil, fmt.Errorf("initialise filesystem archive: %w", err)
		}
		return archive, nil
	case app.ArchiveDriverS3:
		archive, err := services.NewS3ImageArchive(ctx, cfg.S3Config())
		if err != nil {
			return nil, fmt.Errorf("initialise s3 archive: %w", err)
		}
		return archive, nil
	default:
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}
}

func ensureParentDir(path string) error {
	path = strings.TrimSpace(path)
	if path == "" || path == ":memory:" || strings.HasPrefix(path, "file:") {
		return nil
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create database directory: %w", err)
	}
	return nil
}
