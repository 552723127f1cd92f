package roundup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

// Batch outcomes, used in logs and metrics.
const (
	OutcomeCharged = "charged"
	OutcomeSkipped = "skipped"
	OutcomeFailed  = "failed"
)

var (
	validate = validator.New()

	errBatchNotClaimed = errors.New("round-up batch held elsewhere")
	errEmptyBatch      = errors.New("round-up batch has nothing to donate")
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

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

// RecordInput is one spare-change amount from a card transaction.
type RecordInput struct {
	UserID    uuid.UUID `validate:"required"`
	SourceRef string    `validate:"required,max=128"`
	Amount    decimal.Decimal
}

// ServiceParams wires the round-up reconciler.
type ServiceParams struct {
	Repo             Repository
	Tx               txRunner
	Donations        donationRecorder
	Fees             feeQuoter
	Accounts         accountVerifier
	Processor        processor.Client
	Logger           *logger.Logger
	Metrics          *metrics.DonationMetrics
	DefaultThreshold decimal.Decimal
	Cadence          time.Duration
	BatchSize        int
	Now              func() time.Time
}

// Service accumulates round-up amounts and settles them in batches.
type Service struct {
	repo             Repository
	tx               txRunner
	donations        donationRecorder
	fees             feeQuoter
	accounts         accountVerifier
	processor        processor.Client
	logg             *logger.Logger
	metrics          *metrics.DonationMetrics
	defaultThreshold decimal.Decimal
	cadence          time.Duration
	batchSize        int
	now              func() time.Time
}

// BatchSummary counts the outcomes of one RunDue pass.
type BatchSummary struct {
	Charged int
	Skipped int
	Failed  int
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("round-up repository required")
	case params.Tx == nil:
		return nil, fmt.Errorf("transaction runner required")
	case params.Donations == nil:
		return nil, fmt.Errorf("donation service required")
	case params.Fees == nil:
		return nil, fmt.Errorf("fee calculator required")
	case params.Accounts == nil:
		return nil, fmt.Errorf("account verifier required")
	case params.Processor == nil:
		return nil, fmt.Errorf("processor client required")
	case !params.DefaultThreshold.IsPositive():
		return nil, fmt.Errorf("round-up threshold must be positive")
	}
	s := &Service{
		repo:             params.Repo,
		tx:               params.Tx,
		donations:        params.Donations,
		fees:             params.Fees,
		accounts:         params.Accounts,
		processor:        params.Processor,
		logg:             params.Logger,
		metrics:          params.Metrics,
		defaultThreshold: params.DefaultThreshold,
		cadence:          params.Cadence,
		batchSize:        params.BatchSize,
		now:              params.Now,
	}
	if s.logg == nil {
		s.logg = logger.Nop()
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s, nil
}

// RecordTransaction appends an accumulated amount and raises the running
// total in one transaction. A replayed SourceRef is ignored; the second
// return value reports whether anything was written.
func (s *Service) RecordTransaction(ctx context.Context, input RecordInput) (*models.RoundUpTransaction, bool, error) {
	if err := validate.Struct(input); err != nil {
		return nil, false, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid round-up transaction")
	}
	if !input.Amount.IsPositive() {
		return nil, false, pkgerrors.New(pkgerrors.CodeValidation, "round-up amount must be positive")
	}

	var (
		txn      *models.RoundUpTransaction
		inserted bool
	)
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		cfg, err := repo.FindConfigByUserID(ctx, input.UserID)
		if err != nil {
			if isNotFound(err) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "round-up is not configured")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load round-up config")
		}
		if !cfg.IsActive {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "round-up is paused")
		}

		txn = &models.RoundUpTransaction{
			ID:        uuid.New(),
			ConfigID:  cfg.ID,
			UserID:    input.UserID,
			SourceRef: strings.TrimSpace(input.SourceRef),
			Amount:    input.Amount.Round(2),
			Status:    enums.RoundUpAccumulated,
		}
		inserted, err = repo.InsertTransaction(ctx, txn)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert round-up transaction")
		}
		if !inserted {
			return nil
		}
		if err := repo.AddToTotal(ctx, cfg.ID, txn.Amount); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "increase round-up total")
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return txn, inserted, nil
}

// RunDue processes every configuration whose trigger fired.
func (s *Service) RunDue(ctx context.Context) (BatchSummary, error) {
	var summary BatchSummary
	now := s.now().UTC()
	due, err := s.repo.ListDueConfigs(ctx, DueQuery{
		DefaultThreshold: s.defaultThreshold,
		CadenceBefore:    now.Add(-s.cadence),
		Limit:            s.batchSize,
	})
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list due round-up configs")
	}
	for i := range due {
		if ctx.Err() != nil {
			return summary, ctx.Err()
		}
		outcome, err := s.ProcessConfig(ctx, &due[i])
		switch outcome {
		case OutcomeCharged:
			summary.Charged++
		case OutcomeSkipped:
			summary.Skipped++
		default:
			summary.Failed++
		}
		if err != nil {
			s.logg.Error(s.logg.WithField(ctx, "round_up_config_id", due[i].ID.String()), "round-up batch failed", err)
		}
	}
	return summary, nil
}

// ProcessConfig claims the configuration's accumulated transactions as one
// batch and charges their sum. The batch stays processing until the charge
// outcome is applied through SettleBatch or RollbackBatch, or the recovery
// sweep resolves it.
func (s *Service) ProcessConfig(ctx context.Context, cfg *models.RoundUpConfig) (outcome string, err error) {
	ctx = s.logg.WithField(ctx, "round_up_config_id", cfg.ID.String())
	defer func() { s.metrics.RoundUpBatch(outcome) }()

	donationID := uuid.New()
	now := s.now().UTC()
	var sum decimal.Decimal
	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		claimed, err := repo.ClaimBatch(ctx, cfg.ID, donationID, now)
		if err != nil {
			return err
		}
		if !claimed {
			return errBatchNotClaimed
		}
		if _, err := repo.AssignBatch(ctx, cfg.ID, donationID, now); err != nil {
			return err
		}
		amounts, err := repo.BatchAmounts(ctx, donationID, enums.RoundUpProcessed)
		if err != nil {
			return err
		}
		sum = total(amounts)
		if !sum.IsPositive() {
			return errEmptyBatch
		}
		return repo.AddToTotal(ctx, cfg.ID, sum.Neg())
	})
	switch {
	case errors.Is(err, errBatchNotClaimed), errors.Is(err, errEmptyBatch):
		s.logg.Debug(ctx, err.Error())
		return OutcomeSkipped, nil
	case err != nil:
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "claim round-up batch")
	}
	ctx = s.logg.WithDonationID(ctx, donationID.String())

	fail := func(reason string, cause error) (string, error) {
		if rbErr := s.RollbackBatch(context.WithoutCancel(ctx), donationID, reason); rbErr != nil {
			s.logg.Error(ctx, "failed to roll back round-up batch", rbErr)
		}
		return OutcomeFailed, cause
	}

	breakdown, err := s.fees.Quote(sum, cfg.CoverFees)
	if err != nil {
		return fail(err.Error(), pkgerrors.Wrap(pkgerrors.CodeValidation, err, "compute round-up fees"))
	}
	accountID, err := s.accounts.VerifyPayoutAccount(ctx, cfg.OrganizationID)
	if err != nil {
		return fail(err.Error(), err)
	}
	donation, err := s.donations.Create(ctx, donations.CreateInput{
		ID:              donationID,
		DonorID:         cfg.UserID,
		OrganizationID:  cfg.OrganizationID,
		CauseID:         cfg.CauseID,
		Type:            enums.DonationTypeRoundUp,
		Fees:            breakdown,
		Currency:        cfg.Currency,
		IdempotencyKey:  "roundup-" + donationID.String(),
		RoundUpConfigID: &cfg.ID,
	})
	if err != nil {
		return fail("could not record donation", err)
	}

	metadata := breakdown.Metadata()
	metadata[processor.MetadataDonationID] = donation.ID.String()
	metadata["roundUpConfigId"] = cfg.ID.String()
	metadata["donationType"] = string(enums.DonationTypeRoundUp)
	pi, err := s.processor.CreatePaymentIntent(ctx, processor.ChargeRequest{
		AmountCents:          breakdown.TotalChargeCents(),
		ApplicationFeeCents:  breakdown.ApplicationFeeCents(),
		Currency:             cfg.Currency,
		CustomerID:           cfg.StripeCustomerID,
		PaymentMethodID:      cfg.PaymentMethodID,
		DestinationAccountID: accountID,
		IdempotencyKey:       donation.IdempotencyKey,
		Description:          "Round-up donation",
		Metadata:             metadata,
	})
	if err != nil && processor.IsIndeterminate(err) {
		s.metrics.ChargeAttempt("retryable")
		s.logg.Warn(ctx, "round-up charge outcome unknown; batch kept for recovery")
		return OutcomeFailed, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "charge round-up batch")
	}
	if err != nil {
		s.metrics.ChargeAttempt("failed")
		if _, markErr := s.donations.MarkFailed(context.WithoutCancel(ctx), donations.IntentRef{DonationID: donation.ID}, err.Error()); markErr != nil {
			s.logg.Error(ctx, "failed to record failed round-up donation", markErr)
		}
		return fail(err.Error(), pkgerrors.Wrap(pkgerrors.CodeDependency, err, "charge round-up batch"))
	}
	s.metrics.ChargeAttempt("succeeded")

	if _, err := s.donations.MarkProcessing(ctx, donations.IntentRef{PaymentIntentID: pi.ID, DonationID: donation.ID}); err != nil {
		s.logg.Error(ctx, "failed to attach payment intent to round-up donation", err)
	}
	s.logg.Info(ctx, fmt.Sprintf("round-up batch of %s charged", sum.StringFixed(2)))
	return OutcomeCharged, nil
}

// SettleBatch marks the batch donated and releases the configuration. It is
// a no-op once the batch was settled.
func (s *Service) SettleBatch(ctx context.Context, donationID uuid.UUID, chargeID string) error {
	now := s.now().UTC()
	return s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		if _, err := repo.SettleTransactions(ctx, donationID, chargeID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "settle round-up transactions")
		}
		if _, err := repo.CompleteBatch(ctx, donationID, now); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release round-up batch")
		}
		return nil
	})
}

// RollbackBatch returns the batch to accumulated, restores the running total
// by the batch sum and leaves the configuration retryable. It is a no-op
// unless the configuration still holds the batch.
func (s *Service) RollbackBatch(ctx context.Context, donationID uuid.UUID, reason string) error {
	if reason = strings.TrimSpace(reason); reason == "" {
		reason = "round-up charge failed"
	}
	now := s.now().UTC()
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		amounts, err := repo.BatchAmounts(ctx, donationID, enums.RoundUpProcessed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load round-up batch")
		}
		released, err := repo.FailBatch(ctx, donationID, total(amounts), reason, now)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release failed round-up batch")
		}
		if !released {
			return nil
		}
		if _, err := repo.RevertTransactions(ctx, donationID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "revert round-up transactions")
		}
		return nil
	})
	if err == nil {
		s.logg.Warn(s.logg.WithDonationID(ctx, donationID.String()), "round-up batch rolled back: "+reason)
	}
	return err
}

func total(amounts []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range amounts {
		sum = sum.Add(a)
	}
	return sum.Round(2)
}
