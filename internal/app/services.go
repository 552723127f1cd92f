// Package app assembles the donation services shared by the api and
// cron-worker binaries.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/ledger"
	"github.com/mostafizurRahaman/donation-app-server/internal/organizations"
	"github.com/mostafizurRahaman/donation-app-server/internal/pipeline"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/internal/receipts"
	"github.com/mostafizurRahaman/donation-app-server/internal/rewards"
	"github.com/mostafizurRahaman/donation-app-server/internal/roundup"
	"github.com/mostafizurRahaman/donation-app-server/internal/scheduled"
	stripewebhook "github.com/mostafizurRahaman/donation-app-server/internal/webhooks/stripe"
	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox"
	"github.com/mostafizurRahaman/donation-app-server/pkg/redis"
	pkgstripe "github.com/mostafizurRahaman/donation-app-server/pkg/stripe"
)

// Params are the process-level resources the services are built on.
type Params struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         *db.Client
	Redis      *redis.Client
	Registerer prometheus.Registerer
	// Processor overrides the Stripe-backed client. When nil, a Stripe client
	// is built from Config.Stripe.
	Processor processor.Client
	Now       func() time.Time
}

// Services is the wired donation core.
type Services struct {
	Stripe          *pkgstripe.Client
	Processor       processor.Client
	Donations       donations.Service
	Scheduled       scheduled.Service
	Executor        *scheduled.Executor
	Recovery        *scheduled.Recovery
	RoundUps        *roundup.Service
	RoundUpRecovery *roundup.Recovery
	Pipeline        *pipeline.Pipeline
	Webhooks        *stripewebhook.Service
	Outbox          *outbox.Service
	OutboxRepo      *outbox.Repository
	Metrics         *metrics.DonationMetrics
}

// Build wires every donation service. It fails fast on the first
// misconfigured collaborator.
func Build(ctx context.Context, params Params) (*Services, error) {
	if params.Config == nil {
		return nil, fmt.Errorf("config required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("database client required")
	}
	cfg := params.Config
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	conn := params.DB.DB()
	out := &Services{Metrics: metrics.NewDonationMetrics(params.Registerer)}

	out.Processor = params.Processor
	if out.Processor == nil {
		client, err := pkgstripe.NewClient(ctx, cfg.Stripe, logg)
		if err != nil {
			return nil, fmt.Errorf("stripe client: %w", err)
		}
		out.Stripe = client
		if out.Processor, err = processor.NewStripeClient(client); err != nil {
			return nil, fmt.Errorf("stripe processor: %w", err)
		}
	}

	calculator := fees.NewCalculator(fees.RatesFromConfig(cfg.Fees))

	verifierParams := organizations.VerifierParams{
		Repo:      organizations.NewRepository(conn),
		Processor: out.Processor,
		Logger:    logg,
	}
	if params.Redis != nil {
		verifierParams.Cache = params.Redis
	}
	accounts, err := organizations.NewAccountVerifier(verifierParams)
	if err != nil {
		return nil, err
	}

	if out.Donations, err = donations.NewService(donations.ServiceParams{
		Repo:      donations.NewRepository(conn),
		Processor: out.Processor,
		Logger:    logg,
		Metrics:   out.Metrics,
		Now:       now,
	}); err != nil {
		return nil, err
	}

	scheduledRepo := scheduled.NewRepository(conn)
	retry := scheduled.RetryPolicy{
		BaseDelay:   cfg.Scheduler.RetryDelay,
		MaxFailures: cfg.Scheduler.MaxConsecutiveFailures,
	}
	if out.Scheduled, err = scheduled.NewService(scheduledRepo, out.Processor, logg, now, retry); err != nil {
		return nil, err
	}

	roundUpRepo := roundup.NewRepository(conn)
	if out.RoundUps, err = roundup.NewService(roundup.ServiceParams{
		Repo:             roundUpRepo,
		Tx:               params.DB,
		Donations:        out.Donations,
		Fees:             calculator,
		Accounts:         accounts,
		Processor:        out.Processor,
		Logger:           logg,
		Metrics:          out.Metrics,
		DefaultThreshold: cfg.RoundUp.Threshold,
		Cadence:          cfg.RoundUp.Cadence,
		BatchSize:        cfg.RoundUp.BatchSize,
		Now:              now,
	}); err != nil {
		return nil, err
	}

	ledgerSvc, err := ledger.NewService(ledger.NewRepository(conn), params.DB)
	if err != nil {
		return nil, err
	}
	receiptSvc, err := receipts.NewService(conn)
	if err != nil {
		return nil, err
	}
	points, err := rewards.NewPointsService(conn, cfg.Rewards.PointsPerUnit)
	if err != nil {
		return nil, err
	}

	out.OutboxRepo = outbox.NewRepository(conn)
	out.Outbox = outbox.NewService(out.OutboxRepo, logg)

	badges, err := rewards.NewBadgeEvaluator(conn, out.Donations, out.Outbox)
	if err != nil {
		return nil, err
	}

	if out.Pipeline, err = pipeline.New(pipeline.Params{
		Ledger:    ledgerSvc,
		Scheduler: out.Scheduled,
		RoundUps:  out.RoundUps,
		Receipts:  receiptSvc,
		Donations: out.Donations,
		Points:    points,
		Badges:    badges,
		Logger:    logg,
		Metrics:   out.Metrics,
	}); err != nil {
		return nil, err
	}

	if out.Webhooks, err = stripewebhook.NewService(stripewebhook.ServiceParams{
		DB:        conn,
		Donations: out.Donations,
		Pipeline:  out.Pipeline,
		Scheduler: out.Scheduled,
		RoundUps:  out.RoundUps,
		Ledger:    ledgerSvc,
		Outbox:    out.Outbox,
		Accounts:  accounts,
		Logger:    logg,
		Metrics:   out.Metrics,
		Now:       now,
	}); err != nil {
		return nil, err
	}

	if out.Executor, err = scheduled.NewExecutor(scheduled.ExecutorParams{
		Repo:        scheduledRepo,
		Templates:   out.Scheduled,
		Donations:   out.Donations,
		Fees:        calculator,
		Accounts:    accounts,
		Processor:   out.Processor,
		Logger:      logg,
		Metrics:     out.Metrics,
		BatchSize:   cfg.Scheduler.BatchSize,
		MaxAttempts: cfg.Scheduler.MaxAttempts,
		BackoffBase: cfg.Scheduler.BackoffBase,
		Now:         now,
	}); err != nil {
		return nil, err
	}

	if out.Recovery, err = scheduled.NewRecovery(scheduled.RecoveryParams{
		Repo:      scheduledRepo,
		Templates: out.Scheduled,
		Donations: out.Donations,
		Processor: out.Processor,
		Applier:   out.Webhooks,
		Logger:    logg,
		Window:    cfg.Scheduler.StaleLockWindow,
		BatchSize: cfg.Scheduler.BatchSize,
		Now:       now,
	}); err != nil {
		return nil, err
	}

	if out.RoundUpRecovery, err = roundup.NewRecovery(roundup.RecoveryParams{
		Repo:      roundUpRepo,
		Batches:   out.RoundUps,
		Donations: out.Donations,
		Processor: out.Processor,
		Applier:   out.Webhooks,
		Logger:    logg,
		Window:    cfg.RoundUp.StaleBatchWindow,
		BatchSize: cfg.RoundUp.BatchSize,
		Now:       now,
	}); err != nil {
		return nil, err
	}

	return out, nil
}
