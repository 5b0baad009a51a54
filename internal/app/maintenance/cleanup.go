package maintenance

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/charlesng35/inviteqr/internal/models"
	"github.com/charlesng35/inviteqr/internal/monitoring"
	"github.com/charlesng35/inviteqr/internal/services"
	"github.com/charlesng35/inviteqr/pkg/logger"
	"github.com/charlesng35/inviteqr/pkg/metrics"
)

const (
	defaultScanRetentionDays = 90
	defaultScanSpec          = "@daily"
	defaultStatsSpec         = "@every 1m"

	JobScanLogRetention = "scan_log_retention"
	JobInviteGauges     = "invite_gauges"
)

// Cleaner coordinates background maintenance: pruning old scan logs and
// refreshing invite gauges.
type Cleaner struct {
	invites   *services.InviteService
	scans     *services.ScanLogService
	cron      *cron.Cron
	log       *zap.Logger
	enabled   bool
	retention int

	scanSchedule  string
	statsSchedule string
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

// WithScanRetentionDays adjusts how long scan logs are retained before cleanup.
func WithScanRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithScanSchedule overrides the cron specification for scan log cleanup.
func WithScanSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.scanSchedule = spec
		}
	}
}

// WithStatsSchedule overrides the cron specification for gauge refreshes.
func WithStatsSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.statsSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency results in
// the corresponding job being skipped.
func NewCleaner(invites *services.InviteService, scans *services.ScanLogService, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		invites:       invites,
		scans:         scans,
		retention:     defaultScanRetentionDays,
		scanSchedule:  defaultScanSpec,
		statsSchedule: defaultStatsSpec,
		log:           logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.invites != nil || cleaner.scans != nil

	return cleaner
}

// Start registers jobs with the cron scheduler and launches it if at least one job is enabled.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.scans != nil {
		if _, err := c.cron.AddFunc(c.scanSchedule, func() {
			if err := c.pruneScans(context.Background()); err != nil {
				c.log.Warn("scan log cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", JobScanLogRetention, err)
		}
	}

	if c.invites != nil {
		if _, err := c.cron.AddFunc(c.statsSchedule, func() {
			if err := c.refreshGauges(context.Background()); err != nil {
				c.log.Warn("invite gauge refresh failed", zap.Error(err))
			}
		}); err != nil {
			return fmt.Errorf("maintenance: schedule %s: %w", JobInviteGauges, err)
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the underlying scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes every configured job sequentially.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.scans != nil {
		errs = multierr.Append(errs, c.pruneScans(ctx))
	}
	if c.invites != nil {
		errs = multierr.Append(errs, c.refreshGauges(ctx))
	}

	return errs
}

func (c *Cleaner) pruneScans(ctx context.Context) error {
	if c.retention <= 0 {
		return nil
	}

	started := time.Now()
	removed, err := c.scans.CleanupOlderThan(ctx, c.retention)
	monitoring.RecordMaintenanceRun(JobScanLogRetention, err, time.Since(started))
	if err != nil {
		return err
	}
	if removed > 0 {
		c.log.Info("pruned scan logs", zap.Int64("removed", removed), zap.Int("retention_days", c.retention))
	}
	return nil
}

func (c *Cleaner) refreshGauges(ctx context.Context) error {
	started := time.Now()
	counts, err := c.invites.CountByState(ctx)
	monitoring.RecordMaintenanceRun(JobInviteGauges, err, time.Since(started))
	if err != nil {
		return err
	}

	metrics.Invites.WithLabelValues(models.InviteStateCreated).Set(float64(counts.Created))
	metrics.Invites.WithLabelValues(models.InviteStateValidated).Set(float64(counts.Validated))
	return nil
}
