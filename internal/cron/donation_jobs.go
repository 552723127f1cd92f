package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/mostafizurRahaman/donation-app-server/internal/pipeline"
	"github.com/mostafizurRahaman/donation-app-server/internal/roundup"
	"github.com/mostafizurRahaman/donation-app-server/internal/scheduled"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

const (
	defaultPipelineGrace     = 15 * time.Minute
	defaultReentryBatchSize  = 100
	scheduledDonationsJobKey = "scheduled-donations"
	lockRecoveryJobKey       = "scheduled-lock-recovery"
	roundUpBatchesJobKey     = "round-up-batches"
	roundUpRecoveryJobKey    = "round-up-batch-recovery"
	pipelineReentryJobKey    = "donation-pipeline-reentry"
)

type dueExecutor interface {
	RunDue(ctx context.Context) (scheduled.RunSummary, error)
}

type lockSweeper interface {
	Sweep(ctx context.Context) (scheduled.RecoverySummary, error)
}

type batchRunner interface {
	RunDue(ctx context.Context) (roundup.BatchSummary, error)
}

type batchSweeper interface {
	Sweep(ctx context.Context) (roundup.RecoverySummary, error)
}

type receiptlessLister interface {
	ListCompletedWithoutReceipt(ctx context.Context, completedBefore time.Time, limit int) ([]models.Donation, error)
}

type pipelineRunner interface {
	Run(ctx context.Context, donation *models.Donation) pipeline.Result
}

// NewScheduledDonationsJob charges every due recurring template.
func NewScheduledDonationsJob(logg *logger.Logger, executor dueExecutor) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if executor == nil {
		return nil, fmt.Errorf("scheduled donation executor required")
	}
	return &scheduledDonationsJob{logg: logg, executor: executor}, nil
}

type scheduledDonationsJob struct {
	logg     *logger.Logger
	executor dueExecutor
}

func (j *scheduledDonationsJob) Name() string { return scheduledDonationsJobKey }

func (j *scheduledDonationsJob) Run(ctx context.Context) error {
	summary, err := j.executor.RunDue(ctx)
	if err != nil {
		return fmt.Errorf("run due scheduled donations: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"charged": summary.Charged,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}), "scheduled donations run complete")
	return nil
}

// NewLockRecoveryJob reconciles scheduled templates stuck in processing.
func NewLockRecoveryJob(logg *logger.Logger, sweeper lockSweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("lock recovery sweeper required")
	}
	return &lockRecoveryJob{logg: logg, sweeper: sweeper}, nil
}

type lockRecoveryJob struct {
	logg    *logger.Logger
	sweeper lockSweeper
}

func (j *lockRecoveryJob) Name() string { return lockRecoveryJobKey }

func (j *lockRecoveryJob) Run(ctx context.Context) error {
	summary, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep stale scheduled locks: %w", err)
	}
	if summary.Applied+summary.Released+summary.Pending == 0 {
		return nil
	}
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"applied":  summary.Applied,
		"released": summary.Released,
		"pending":  summary.Pending,
	}), "stale scheduled donation locks reconciled")
	return nil
}

// NewRoundUpBatchesJob charges every round-up configuration whose trigger fired.
func NewRoundUpBatchesJob(logg *logger.Logger, runner batchRunner) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if runner == nil {
		return nil, fmt.Errorf("round-up service required")
	}
	return &roundUpBatchesJob{logg: logg, runner: runner}, nil
}

type roundUpBatchesJob struct {
	logg   *logger.Logger
	runner batchRunner
}

func (j *roundUpBatchesJob) Name() string { return roundUpBatchesJobKey }

func (j *roundUpBatchesJob) Run(ctx context.Context) error {
	summary, err := j.runner.RunDue(ctx)
	if err != nil {
		return fmt.Errorf("run due round-up batches: %w", err)
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"charged": summary.Charged,
		"skipped": summary.Skipped,
		"failed":  summary.Failed,
	}), "round-up batches run complete")
	return nil
}

// NewRoundUpRecoveryJob reconciles round-up batches stuck in processing.
func NewRoundUpRecoveryJob(logg *logger.Logger, sweeper batchSweeper) (Job, error) {
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if sweeper == nil {
		return nil, fmt.Errorf("round-up recovery sweeper required")
	}
	return &roundUpRecoveryJob{logg: logg, sweeper: sweeper}, nil
}

type roundUpRecoveryJob struct {
	logg    *logger.Logger
	sweeper batchSweeper
}

func (j *roundUpRecoveryJob) Name() string { return roundUpRecoveryJobKey }

func (j *roundUpRecoveryJob) Run(ctx context.Context) error {
	summary, err := j.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("sweep stale round-up batches: %w", err)
	}
	if summary.Applied+summary.Released+summary.Pending == 0 {
		return nil
	}
	j.logg.Warn(j.logg.WithFields(ctx, map[string]any{
		"applied":  summary.Applied,
		"released": summary.Released,
		"pending":  summary.Pending,
	}), "stale round-up batches reconciled")
	return nil
}

// PipelineReentryJobParams configures the post-success re-entry sweep.
type PipelineReentryJobParams struct {
	Logger    *logger.Logger
	Donations receiptlessLister
	Pipeline  pipelineRunner
	Grace     time.Duration
	BatchSize int
}

// NewPipelineReentryJob re-runs the post-success pipeline for completed
// donations that never had a receipt issued.
func NewPipelineReentryJob(params PipelineReentryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Donations == nil {
		return nil, fmt.Errorf("donation service required")
	}
	if params.Pipeline == nil {
		return nil, fmt.Errorf("pipeline required")
	}
	grace := params.Grace
	if grace <= 0 {
		grace = defaultPipelineGrace
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = defaultReentryBatchSize
	}
	return &pipelineReentryJob{
		logg:      params.Logger,
		donations: params.Donations,
		pipeline:  params.Pipeline,
		grace:     grace,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type pipelineReentryJob struct {
	logg      *logger.Logger
	donations receiptlessLister
	pipeline  pipelineRunner
	grace     time.Duration
	batchSize int
	now       func() time.Time
}

func (j *pipelineReentryJob) Name() string { return pipelineReentryJobKey }

func (j *pipelineReentryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.grace)
	rows, err := j.donations.ListCompletedWithoutReceipt(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list completed donations without receipt: %w", err)
	}
	var errs error
	for i := range rows {
		if ctx.Err() != nil {
			return multierr.Append(errs, ctx.Err())
		}
		result := j.pipeline.Run(ctx, &rows[i])
		if !result.OK() {
			errs = multierr.Append(errs, fmt.Errorf("donation %s: %s failed", rows[i].ID, strings.Join(result.Failed, ",")))
		}
	}
	j.logg.Info(j.logg.WithFields(ctx, map[string]any{
		"cutoff":    cutoff,
		"reentered": len(rows),
		"failed":    len(multierr.Errors(errs)),
	}), "pipeline re-entry sweep complete")
	return errs
}
