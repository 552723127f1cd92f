package scheduled

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

// Execution outcomes, used in logs and metrics.
const (
	OutcomeCharged = "charged"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

const (
	defaultMaxAttempts = 3
	defaultBackoffBase = time.Second
	keySuffixAlphabet  = "abcdefghijklmnopqrstuvwxyz0123456789"
)

type donationRecorder interface {
	Create(ctx context.Context, input donations.CreateInput) (*models.Donation, error)
	MarkProcessing(ctx context.Context, ref donations.IntentRef) (*models.Donation, error)
	MarkFailed(ctx context.Context, ref donations.IntentRef, reason string) (*models.Donation, error)
}

type feeQuoter interface {
	Quote(baseAmount decimal.Decimal, coverFees bool) (fees.Breakdown, error)
}

type accountVerifier interface {
	VerifyPayoutAccount(ctx context.Context, organizationID uuid.UUID) (string, error)
}

// ExecutorParams wires the recurring donation executor.
type ExecutorParams struct {
	Repo        Repository
	Templates   Service
	Donations   donationRecorder
	Fees        feeQuoter
	Accounts    accountVerifier
	Processor   processor.Client
	Logger      *logger.Logger
	Metrics     *metrics.DonationMetrics
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	Now         func() time.Time
	// Sleep waits between charge attempts; it returns early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Executor charges due recurring templates under the execution lock.
type Executor struct {
	repo        Repository
	templates   Service
	donations   donationRecorder
	fees        feeQuoter
	accounts    accountVerifier
	processor   processor.Client
	logg        *logger.Logger
	metrics     *metrics.DonationMetrics
	batchSize   int
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error
	keySuffix   func() string
}

// RunSummary counts the outcomes of one RunDue pass.
type RunSummary struct {
	Charged int
	Skipped int
	Failed  int
}

func NewExecutor(params ExecutorParams) (*Executor, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("scheduled donation repository required")
	case params.Templates == nil:
		return nil, fmt.Errorf("scheduled donation service required")
	case params.Donations == nil:
		return nil, fmt.Errorf("donation service required")
	case params.Fees == nil:
		return nil, fmt.Errorf("fee calculator required")
	case params.Accounts == nil:
		return nil, fmt.Errorf("account verifier required")
	case params.Processor == nil:
		return nil, fmt.Errorf("processor client required")
	}
	suffix, err := nanoid.CustomASCII(keySuffixAlphabet, 8)
	if err != nil {
		return nil, fmt.Errorf("idempotency key generator: %w", err)
	}
	e := &Executor{
		repo:        params.Repo,
		templates:   params.Templates,
		donations:   params.Donations,
		fees:        params.Fees,
		accounts:    params.Accounts,
		processor:   params.Processor,
		logg:        params.Logger,
		metrics:     params.Metrics,
		batchSize:   params.BatchSize,
		maxAttempts: params.MaxAttempts,
		backoffBase: params.BackoffBase,
		now:         params.Now,
		sleep:       params.Sleep,
		keySuffix:   suffix,
	}
	if e.logg == nil {
		e.logg = logger.Nop()
	}
	if e.maxAttempts <= 0 {
		e.maxAttempts = defaultMaxAttempts
	}
	if e.backoffBase <= 0 {
		e.backoffBase = defaultBackoffBase
	}
	if e.now == nil {
		e.now = time.Now
	}
	if e.sleep == nil {
		e.sleep = sleepContext
	}
	return e, nil
}

// RunDue executes every due template, one at a time. Individual failures are
// logged and counted; only a failure to load the due set is returned.
func (e *Executor) RunDue(ctx context.Context) (RunSummary, error) {
	var summary RunSummary
	due, err := e.repo.ListDue(ctx, e.now().UTC(), e.batchSize)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due scheduled donations")
	}
	for i := range due {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome, err := e.Execute(ctx, &due[i])
		switch outcome {
		case OutcomeCharged:
			summary.Charged++
		case OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		if err != nil {
			e.logg.Error(e.logg.WithScheduledDonationID(ctx, due[i].ID.String()), "scheduled donation execution failed", err)
		}
	}
	return summary, nil
}

// Execute charges one template. It returns OutcomeSkipped when the lock is
// held elsewhere. The lock is taken for the donation this run creates. After a
// charge is accepted, or when its outcome is unknown, the lock stays in
// processing until the outcome is applied or the recovery sweep resolves it;
// on every other path it is released.
func (e *Executor) Execute(ctx context.Context, tmpl *models.ScheduledDonation) (outcome string, err error) {
	ctx = e.logg.WithScheduledDonationID(ctx, tmpl.ID.String())
	startedAt := e.now().UTC()
	donationID := uuid.New()

	acquired, err := e.repo.Acquire(ctx, tmpl.ID, donationID, startedAt)
	if err != nil {
		e.metrics.ScheduledExecution(OutcomeFailed)
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "acquire scheduled donation lock")
	}
	if !acquired {
		e.metrics.ScheduledExecution(OutcomeSkipped)
		return OutcomeSkipped, nil
	}

	holdLock := false
	skipPeriod := false
	failureReason := "execution aborted"
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduled execution panic: %v", r)
			outcome = OutcomeFailed
			holdLock = false
		}
		e.metrics.ScheduledExecution(outcome)
		if holdLock {
			return
		}
		releaseCtx := context.WithoutCancel(ctx)
		if releaseErr := e.templates.ReleaseFailed(releaseCtx, tmpl.ID, donationID, failureReason, skipPeriod); releaseErr != nil {
			e.logg.Error(releaseCtx, "failed to release scheduled donation lock", releaseErr)
		}
	}()

	breakdown, err := e.fees.Quote(tmpl.Amount, tmpl.CoverFees)
	if err != nil {
		failureReason, skipPeriod = err.Error(), true
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compute fees")
	}
	accountID, err := e.accounts.VerifyPayoutAccount(ctx, tmpl.OrganizationID)
	if err != nil {
		failureReason = err.Error()
		skipPeriod = pkgerrors.IsCode(err, pkgerrors.CodeStateConflict) || pkgerrors.IsCode(err, pkgerrors.CodeNotFound)
		return OutcomeFailed, err
	}

	donation, err := e.donations.Create(ctx, donations.CreateInput{
		ID:                  donationID,
		DonorID:             tmpl.UserID,
		OrganizationID:      tmpl.OrganizationID,
		CauseID:             tmpl.CauseID,
		Type:                enums.DonationTypeRecurring,
		Fees:                breakdown,
		Currency:            tmpl.Currency,
		IdempotencyKey:      e.idempotencyKey(tmpl.ID, startedAt),
		ScheduledDonationID: &tmpl.ID,
	})
	if err != nil {
		failureReason = "could not record donation"
		return OutcomeFailed, err
	}
	ctx = e.logg.WithDonationID(ctx, donation.ID.String())

	pi, err := e.charge(ctx, tmpl, donation, breakdown, accountID)
	if err != nil && processor.IsIndeterminate(err) {
		holdLock = true
		e.logg.Warn(ctx, "scheduled charge outcome unknown; lock kept for recovery")
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "charge scheduled donation")
	}
	if err != nil {
		failureReason = err.Error()
		skipPeriod = !processor.IsRetryable(err)
		if _, markErr := e.donations.MarkFailed(context.WithoutCancel(ctx), donations.IntentRef{DonationID: donation.ID}, failureReason); markErr != nil {
			e.logg.Error(ctx, "failed to record failed scheduled donation", markErr)
		}
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "charge scheduled donation")
	}

	holdLock = true
	if _, err := e.donations.MarkProcessing(ctx, donations.IntentRef{PaymentIntentID: pi.ID, DonationID: donation.ID}); err != nil {
		e.logg.Error(ctx, "failed to attach payment intent to scheduled donation", err)
	}
	e.logg.Info(ctx, "scheduled donation charged")
	return OutcomeCharged, nil
}

// charge retries transient processor errors with exponential backoff. The
// idempotency key is reused across the attempts of one run.
func (e *Executor) charge(ctx context.Context, tmpl *models.ScheduledDonation, donation *models.Donation, breakdown fees.Breakdown, accountID string) (*processor.PaymentIntent, error) {
	metadata := breakdown.Metadata()
	metadata[processor.MetadataDonationID] = donation.ID.String()
	metadata["scheduledDonationId"] = tmpl.ID.String()
	metadata["donationType"] = string(enums.DonationTypeRecurring)

	req := processor.ChargeRequest{
		AmountCents:          breakdown.TotalChargeCents(),
		ApplicationFeeCents:  breakdown.ApplicationFeeCents(),
		Currency:             tmpl.Currency,
		CustomerID:           tmpl.StripeCustomerID,
		PaymentMethodID:      tmpl.PaymentMethodID,
		DestinationAccountID: accountID,
		IdempotencyKey:       donation.IdempotencyKey,
		Description:          "Recurring donation",
		Metadata:             metadata,
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		pi, err := e.processor.CreatePaymentIntent(ctx, req)
		if err == nil {
			e.metrics.ChargeAttempt("succeeded")
			return pi, nil
		}
		lastErr = err
		if !processor.IsRetryable(err) {
			e.metrics.ChargeAttempt("declined")
			return nil, err
		}
		e.metrics.ChargeAttempt("retryable")
		if attempt == e.maxAttempts {
			break
		}
		if ctx.Err() != nil {
			return nil, errors.Join(lastErr, ctx.Err())
		}
		e.logg.Warn(e.logg.WithField(ctx, "attempt", attempt), "retrying scheduled charge after transient error")
		if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
			return nil, errors.Join(lastErr, err)
		}
	}
	return nil, lastErr
}

func (e *Executor) backoff(attempt int) time.Duration {
	return e.backoffBase * time.Duration(1<<(attempt-1))
}

func (e *Executor) idempotencyKey(templateID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("sched-%s-%d-%s", templateID, at.UnixMilli(), e.keySuffix())
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
