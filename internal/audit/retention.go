package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"
)

// Retention periodically prunes stored deliveries older than maxAge.
type Retention struct {
	store     *Store
	maxAge    time.Duration
	interval  time.Duration
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

// NewRetention creates a retention job for store. It does not run until
// Start is called.
func NewRetention(store *Store, retentionDays int, interval time.Duration, logger *slog.Logger) (*Retention, error) {
	if retentionDays <= 0 {
		return nil, fmt.Errorf("retention days must be positive, got %d", retentionDays)
	}
	if interval <= 0 {
		interval = time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}

	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}

	r := &Retention{
		store:     store,
		maxAge:    time.Duration(retentionDays) * 24 * time.Hour,
		interval:  interval,
		logger:    logger,
		scheduler: s,
	}

	_, err = s.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(r.run),
		gocron.WithName("audit-retention"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		_ = s.Shutdown()
		return nil, fmt.Errorf("failed to create retention job: %w", err)
	}

	return r, nil
}

// Start begins the schedule.
func (r *Retention) Start() {
	r.logger.Info("starting audit retention", "max_age", r.maxAge.String(), "interval", r.interval.String())
	r.scheduler.Start()
}

// Stop shuts the scheduler down and waits for a running prune.
func (r *Retention) Stop() error {
	return r.scheduler.Shutdown()
}

// PruneNow deletes every delivery older than the retention window.
func (r *Retention) PruneNow(ctx context.Context) (int64, error) {
	return r.store.PruneWebhooks(ctx, time.Now().Add(-r.maxAge))
}

func (r *Retention) run() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	n, err := r.PruneNow(ctx)
	if err != nil {
		r.logger.Error("audit retention failed", "error", err)
		return
	}
	if n > 0 {
		r.logger.Info("pruned stored webhooks", "deleted", n)
	}
}
