package maintenance

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/authguard/pkg/logger"
)

const (
	defaultAuditRetentionDays = 90
	defaultTokenSpec          = "@hourly"
	defaultDeviceSpec         = "@every 15m"
	defaultAuditSpec          = "@daily"
	defaultCacheSpec          = "@every 10m"
)

// TokenCleaner deletes refresh tokens past their expiry.
type TokenCleaner interface {
	CleanupExpired(ctx context.Context) (int64, error)
}

// DeviceExpirer revokes pending devices whose approval window has lapsed.
type DeviceExpirer interface {
	ExpireStale(ctx context.Context) (int64, error)
}

// AuditPruner enforces audit log retention.
type AuditPruner interface {
	CleanupOlderThan(ctx context.Context, retentionDays int) (int64, error)
}

// CachePurger removes expired rows from the database-backed cache.
type CachePurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Jobs lists the collaborators to maintain. Nil members are skipped.
type Jobs struct {
	Tokens  TokenCleaner
	Devices DeviceExpirer
	Audit   AuditPruner
	Cache   CachePurger
}

// Cleaner coordinates background maintenance: expired refresh tokens, stale pending
// devices, audit retention and the database cache.
type Cleaner struct {
	jobs      Jobs
	cron      *cron.Cron
	log       *zap.Logger
	retention int

	tokenSchedule  string
	deviceSchedule string
	auditSchedule  string
	cacheSchedule  string
}

// Option customises the Cleaner.
type Option func(*Cleaner)

// WithCron injects a preconfigured cron instance, primarily for testing.
func WithCron(c *cron.Cron) Option {
	return func(cleaner *Cleaner) {
		if c != nil {
			cleaner.cron = c
		}
	}
}

// WithAuditRetentionDays adjusts how long audit logs are retained before cleanup.
func WithAuditRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithTokenSchedule overrides the cron specification for refresh token cleanup.
func WithTokenSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.tokenSchedule = spec
		}
	}
}

// WithDeviceSchedule overrides the cron specification for pending device expiry.
func WithDeviceSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.deviceSchedule = spec
		}
	}
}

// WithAuditSchedule overrides the cron specification for audit retention enforcement.
func WithAuditSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.auditSchedule = spec
		}
	}
}

// WithCacheSchedule overrides the cron specification for the cache purge.
func WithCacheSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.cacheSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with default schedules.
func NewCleaner(jobs Jobs, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		jobs:           jobs,
		retention:      defaultAuditRetentionDays,
		tokenSchedule:  defaultTokenSpec,
		deviceSchedule: defaultDeviceSpec,
		auditSchedule:  defaultAuditSpec,
		cacheSchedule:  defaultCacheSpec,
		log:            logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	return cleaner
}

type task struct {
	name     string
	schedule string
	run      func(ctx context.Context) (int64, error)
}

func (c *Cleaner) tasks() []task {
	var tasks []task
	if c.jobs.Tokens != nil {
		tasks = append(tasks, task{"refresh_tokens", c.tokenSchedule, c.jobs.Tokens.CleanupExpired})
	}
	if c.jobs.Devices != nil {
		tasks = append(tasks, task{"pending_devices", c.deviceSchedule, c.jobs.Devices.ExpireStale})
	}
	if c.jobs.Audit != nil && c.retention > 0 {
		tasks = append(tasks, task{"audit_logs", c.auditSchedule, func(ctx context.Context) (int64, error) {
			return c.jobs.Audit.CleanupOlderThan(ctx, c.retention)
		}})
	}
	if c.jobs.Cache != nil {
		tasks = append(tasks, task{"cache_entries", c.cacheSchedule, c.jobs.Cache.PurgeExpired})
	}
	return tasks
}

// Start registers cleanup jobs with the cron scheduler and launches it if at least one job is configured.
func (c *Cleaner) Start() error {
	tasks := c.tasks()
	if len(tasks) == 0 {
		return nil
	}

	for _, t := range tasks {
		t := t
		if _, err := c.cron.AddFunc(t.schedule, func() {
			c.execute(context.Background(), t)
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", t.name, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler. The returned context is done once running jobs complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially and aggregates failures.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error
	for _, t := range c.tasks() {
		if _, err := c.execute(ctx, t); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("%s: %w", t.name, err))
		}
	}
	return errs
}

func (c *Cleaner) execute(ctx context.Context, t task) (int64, error) {
	removed, err := t.run(ctx)
	if err != nil {
		c.log.Warn("maintenance job failed", zap.String("job", t.name), zap.Error(err))
		return 0, err
	}
	if removed > 0 {
		c.log.Info("maintenance job completed", zap.String("job", t.name), zap.Int64("removed", removed))
	}
	return removed, nil
}
