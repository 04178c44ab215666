package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/charlesng35/authguard/internal/api"
	"github.com/charlesng35/authguard/internal/app"
	"github.com/charlesng35/authguard/internal/app/maintenance"
	iauth "github.com/charlesng35/authguard/internal/auth"
	"github.com/charlesng35/authguard/internal/cache"
	"github.com/charlesng35/authguard/internal/database"
	"github.com/charlesng35/authguard/internal/geo"
	"github.com/charlesng35/authguard/internal/middleware"
	"github.com/charlesng35/authguard/internal/services"
	"github.com/charlesng35/authguard/pkg/logger"
	"github.com/charlesng35/authguard/pkg/mail"
)

// runtimeStack bundles long-lived services used by the HTTP server.
type runtimeStack struct {
	DB            *gorm.DB
	Redis         *cache.RedisStore
	DBStore       *cache.DatabaseStore
	Cache         cache.Store
	GeoIP         *geo.MaxMindResolver
	Auth          *app.AuthStack
	AuditSvc      *services.AuditService
	Notifications *services.NotificationService
	Cleaner       *maintenance.Cleaner
	RateStore     middleware.RateStore
	Router        *gin.Engine

	runCleanupOnShutdown bool
}

// bootstrapRuntime initialises databases, caches, services, and the HTTP router.
func bootstrapRuntime(cfg *app.Config, log *zap.Logger) (*runtimeStack, error) {
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

	stack.DB, err = initialiseDatabase(cfg)
	if err != nil {
		return nil, err
	}

	stack.DBStore = cache.NewDatabaseStore(stack.DB)
	stack.Cache = stack.DBStore

	if cfg.Cache.Redis.Enabled {
		if stack.Redis, err = cache.NewRedisStore(cfg.Cache.RedisClientConfig()); err != nil {
			log.Warn("redis unavailable; falling back to database-backed cache", zap.Error(err))
			stack.Redis = nil
		} else {
			stack.Cache = stack.Redis
			log.Info("redis connected", zap.String("addr", cfg.Cache.Redis.Address))
		}
	}

	var resolver geo.Resolver
	if cfg.GeoIP.Enabled {
		stack.GeoIP, err = geo.OpenMaxMind(strings.TrimSpace(cfg.GeoIP.DatabasePath), cfg.GeoIP.Language)
		if err != nil {
			return nil, fmt.Errorf("initialise geoip: %w", err)
		}
		resolver = stack.GeoIP
		log.Info("geoip database loaded", zap.String("path", cfg.GeoIP.DatabasePath))
	} else {
		log.Warn("geoip disabled; location risk signals are unavailable")
	}

	stack.AuditSvc, err = services.NewAuditService(stack.DB, cfg.Audit.AuditServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise audit service: %w", err)
	}

	mailer, err := initialiseMailer(cfg, log)
	if err != nil {
		return nil, err
	}

	stack.Notifications, err = services.NewNotificationService(mailer, cfg.NotificationServiceConfig())
	if err != nil {
		return nil, fmt.Errorf("initialise notification service: %w", err)
	}

	stack.Auth, err = app.NewAuthStack(cfg, stack.DB, stack.Cache, iauth.AdaptiveDeps{
		Geo:      resolver,
		Audit:    stack.AuditSvc,
		Notifier: stack.Notifications,
	})
	if err != nil {
		return nil, err
	}

	if cfg.Maintenance.Enabled {
		stack.Cleaner = newCleaner(cfg, stack)
		if err := stack.Cleaner.Start(); err != nil {
			return nil, fmt.Errorf("start maintenance jobs: %w", err)
		}
		stack.runCleanupOnShutdown = cfg.Maintenance.RunOnShutdown
	}

	stack.RateStore = middleware.NewCacheRateStore(stack.Cache)

	stack.Router, err = api.NewRouter(api.Deps{
		DB:        stack.DB,
		Config:    cfg,
		Adaptive:  stack.Auth.Adaptive,
		Audit:     stack.AuditSvc,
		RateStore: stack.RateStore,
		Cache:     stack.Cache,
	})
	if err != nil {
		return nil, fmt.Errorf("build api router: %w", err)
	}

	success = true
	return stack, nil
}

func newCleaner(cfg *app.Config, stack *runtimeStack) *maintenance.Cleaner {
	jobs := maintenance.Jobs{
		Tokens:  stack.Auth.Sessions,
		Devices: stack.Auth.Devices,
		Audit:   stack.AuditSvc,
	}
	// Redis expires keys itself; only the table-backed cache needs purging.
	if stack.Redis == nil && stack.DBStore != nil {
		jobs.Cache = stack.DBStore
	}

	return maintenance.NewCleaner(jobs,
		maintenance.WithAuditRetentionDays(cfg.Audit.RetentionDays),
		maintenance.WithTokenSchedule(cfg.Maintenance.TokenCleanup),
		maintenance.WithDeviceSchedule(cfg.Maintenance.DeviceExpiry),
		maintenance.WithAuditSchedule(cfg.Maintenance.AuditRetention),
		maintenance.WithCacheSchedule(cfg.Maintenance.CacheEntryPurge),
	)
}

func initialiseMailer(cfg *app.Config, log *zap.Logger) (mail.Mailer, error) {
	settings := cfg.Email.SMTPSettings()
	if !settings.Enabled {
		if cfg.Notifications.Enabled {
			log.Warn("smtp disabled; security notifications are recorded in memory only")
		}
		return mail.NewMemoryMailer(), nil
	}

	mailer, err := mail.NewSMTPMailer(settings)
	if err != nil {
		return nil, fmt.Errorf("initialise smtp mailer: %w", err)
	}
	return mailer, nil
}

// Shutdown gracefully stops background jobs and releases resources.
func (s *runtimeStack) Shutdown(ctx context.Context, log *zap.Logger) {
	if s == nil {
		return
	}

	if s.Cleaner != nil {
		stopCtx := s.Cleaner.Stop()
		if stopCtx != nil {
			<-stopCtx.Done()
		}
		if s.runCleanupOnShutdown {
			if err := s.Cleaner.RunOnce(ctx); err != nil {
				log.Warn("maintenance shutdown cleanup failed", zap.Error(err))
			}
		}
	}

	var closers []services.Closer
	if s.AuditSvc != nil {
		closers = append(closers, s.AuditSvc)
	}
	if s.Notifications != nil {
		closers = append(closers, s.Notifications)
	}
	if err := services.CloseAll(ctx, closers...); err != nil {
		log.Warn("dispatcher shutdown", zap.Error(err))
	}

	var err error
	if s.Redis != nil {
		err = multierr.Append(err, s.Redis.Close())
	}
	if s.GeoIP != nil {
		err = multierr.Append(err, s.GeoIP.Close())
	}
	if err != nil {
		log.Warn("resource shutdown", zap.Error(err))
	}

	if s.DB != nil {
		closeDatabase(s.DB, log)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrateAndVerify(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
