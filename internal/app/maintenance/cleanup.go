// Package maintenance runs the background housekeeping jobs: sweeping
// registered channels that drained while nobody was watching and pruning
// aged kick-log rows.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/arkadian/voicelounge/internal/models"
	"github.com/arkadian/voicelounge/internal/services"
	"github.com/arkadian/voicelounge/pkg/logger"
)

const (
	defaultKickLogRetentionDays = 30
	defaultSweepSpec            = "@hourly"
	defaultRetentionSpec        = "@daily"
)

// Cleaner coordinates the background maintenance jobs.
type Cleaner struct {
	db        *gorm.DB
	lifecycle *services.LifecycleManager
	registry  *services.ChannelRegistry
	cron      *cron.Cron
	now       func() time.Time
	log       *zap.Logger
	enabled   bool
	retention int

	sweepSchedule     string
	retentionSchedule string
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

// WithNow overrides the clock used for retention comparisons.
func WithNow(now func() time.Time) Option {
	return func(cleaner *Cleaner) {
		if now != nil {
			cleaner.now = now
		}
	}
}

// WithKickLogRetentionDays adjusts how long kick logs are retained.
func WithKickLogRetentionDays(days int) Option {
	return func(cleaner *Cleaner) {
		if days > 0 {
			cleaner.retention = days
		}
	}
}

// WithSweepSchedule overrides the cron specification for the channel sweep.
func WithSweepSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.sweepSchedule = spec
		}
	}
}

// WithRetentionSchedule overrides the cron specification for kick-log pruning.
func WithRetentionSchedule(spec string) Option {
	return func(cleaner *Cleaner) {
		if spec != "" {
			cleaner.retentionSchedule = spec
		}
	}
}

// NewCleaner constructs a Cleaner with sensible defaults. Any nil dependency
// results in the corresponding job being skipped.
func NewCleaner(db *gorm.DB, lifecycle *services.LifecycleManager, registry *services.ChannelRegistry, opts ...Option) *Cleaner {
	cleaner := &Cleaner{
		db:                db,
		lifecycle:         lifecycle,
		registry:          registry,
		now:               time.Now,
		retention:         defaultKickLogRetentionDays,
		sweepSchedule:     defaultSweepSpec,
		retentionSchedule: defaultRetentionSpec,
		log:               logger.WithModule("maintenance"),
	}

	for _, opt := range opts {
		opt(cleaner)
	}

	if cleaner.cron == nil {
		cleaner.cron = cron.New(cron.WithLogger(cron.DiscardLogger))
	}

	cleaner.enabled = cleaner.db != nil || (cleaner.lifecycle != nil && cleaner.registry != nil)

	return cleaner
}

// Start registers the jobs with the cron scheduler and launches it.
func (c *Cleaner) Start() error {
	if !c.enabled {
		return nil
	}

	if c.lifecycle != nil && c.registry != nil {
		if _, err := c.cron.AddFunc(c.sweepSchedule, func() {
			ctx := context.Background()
			if _, err := c.SweepChannels(ctx); err != nil {
				c.log.Warn("channel sweep failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := c.cron.AddFunc(c.retentionSchedule, func() {
			ctx := context.Background()
			if _, err := CleanupKickLogs(ctx, c.db, c.now().AddDate(0, 0, -c.retention)); err != nil {
				c.log.Warn("kick log cleanup failed", zap.Error(err))
			}
		}); err != nil {
			return err
		}
	}

	c.cron.Start()
	return nil
}

// Stop halts the scheduler, waiting for any running jobs to complete.
func (c *Cleaner) Stop() context.Context {
	if c.cron == nil {
		return context.Background()
	}
	return c.cron.Stop()
}

// RunOnce executes all configured jobs sequentially. Used in tests and
// during graceful shutdown.
func (c *Cleaner) RunOnce(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var errs error

	if c.lifecycle != nil && c.registry != nil {
		if _, err := c.SweepChannels(ctx); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	if c.db != nil && c.retention > 0 {
		if _, err := CleanupKickLogs(ctx, c.db, c.now().AddDate(0, 0, -c.retention)); err != nil {
			errs = multierr.Append(errs, err)
		}
	}

	return errs
}

// SweepChannels checks every registered channel and deletes the ones that
// drained or vanished. Individual failures do not stop the sweep.
func (c *Cleaner) SweepChannels(ctx context.Context) (int, error) {
	swept := 0
	var errs error

	for _, channelID := range c.registry.Snapshot() {
		if err := c.lifecycle.SweepChannel(ctx, channelID); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("sweep channel %d: %w", channelID, err))
			continue
		}
		if !c.registry.IsManaged(channelID) {
			swept++
		}
	}

	if swept > 0 {
		c.log.Info("sweep complete", zap.Int("channels_removed", swept))
	}
	return swept, errs
}

// CleanupKickLogs removes kick-log rows created before the cutoff.
func CleanupKickLogs(ctx context.Context, db *gorm.DB, cutoff time.Time) (int64, error) {
	if db == nil {
		return 0, errors.New("cleanup kick logs: db is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	result := db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.KickLog{})
	if result.Error != nil {
		return 0, fmt.Errorf("cleanup kick logs: %w", result.Error)
	}
	return result.RowsAffected, nil
}
