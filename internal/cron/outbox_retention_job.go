package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

const (
	defaultOutboxRetention  = 30 * 24 * time.Hour
	defaultPruneBatchSize   = 500
	outboxRetentionJobKey   = "outbox-retention"
	maxPruneBatchesPerCycle = 100
)

type publishedPruner interface {
	PrunePublished(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type OutboxRetentionJobParams struct {
	Logger    *logger.Logger
	Events    publishedPruner
	Retention time.Duration
	BatchSize int
}

// NewOutboxRetentionJob deletes published donation events older than
// Retention. Parked rows are kept for inspection.
func NewOutboxRetentionJob(params OutboxRetentionJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Events == nil {
		return nil, fmt.Errorf("outbox repository required")
	}
	job := &outboxRetentionJob{
		logg:      params.Logger,
		events:    params.Events,
		retention: params.Retention,
		batchSize: params.BatchSize,
		now:       time.Now,
	}
	if job.retention <= 0 {
		job.retention = defaultOutboxRetention
	}
	if job.batchSize <= 0 {
		job.batchSize = defaultPruneBatchSize
	}
	return job, nil
}

type outboxRetentionJob struct {
	logg      *logger.Logger
	events    publishedPruner
	retention time.Duration
	batchSize int
	now       func() time.Time
}

func (j *outboxRetentionJob) Name() string { return outboxRetentionJobKey }

// Run prunes in batches so no single DELETE holds locks on the whole backlog.
// A cycle stops after maxPruneBatchesPerCycle; the rest waits for the next run.
func (j *outboxRetentionJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	var total int64
	batches := 0
	for batches < maxPruneBatchesPerCycle {
		if err := ctx.Err(); err != nil {
			return err
		}
		deleted, err := j.events.PrunePublished(ctx, cutoff, j.batchSize)
		if err != nil {
			return fmt.Errorf("prune published outbox events: %w", err)
		}
		total += deleted
		batches++
		if deleted < int64(j.batchSize) {
			break
		}
	}
	if total > 0 {
		j.logg.Info(j.logg.WithFields(ctx, map[string]any{
			"cutoff":       cutoff,
			"rows_deleted": total,
			"batches":      batches,
		}), "published outbox events pruned")
	}
	return nil
}
