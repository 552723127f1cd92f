package donations

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	dbpkg "github.com/mostafizurRahaman/donation-app-server/pkg/db"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

// IntentRef identifies the donation a processor event refers to: first by
// payment intent id, then by the donationId carried in the intent metadata.
type IntentRef struct {
	PaymentIntentID string
	DonationID      uuid.UUID
}

// RefFromIntent builds a ref from a processor payment intent.
func RefFromIntent(pi *processor.PaymentIntent) IntentRef {
	ref := IntentRef{}
	if pi == nil {
		return ref
	}
	ref.PaymentIntentID = pi.ID
	if id, err := uuid.Parse(strings.TrimSpace(pi.DonationID())); err == nil {
		ref.DonationID = id
	}
	return ref
}

// CreateInput captures the fields fixed when a charge is initiated.
type CreateInput struct {
	ID                  uuid.UUID
	DonorID             uuid.UUID
	OrganizationID      uuid.UUID
	CauseID             *uuid.UUID
	Type                enums.DonationType
	Fees                fees.Breakdown
	Currency            string
	IdempotencyKey      string
	ScheduledDonationID *uuid.UUID
	RoundUpConfigID     *uuid.UUID
}

// Service owns the donation state machine.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.Donation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	// MarkProcessing attaches the payment intent and moves pending to processing.
	MarkProcessing(ctx context.Context, ref IntentRef) (*models.Donation, error)
	MarkSucceeded(ctx context.Context, ref IntentRef, chargeID string) (*models.Donation, error)
	MarkFailed(ctx context.Context, ref IntentRef, reason string) (*models.Donation, error)
	MarkCanceled(ctx context.Context, ref IntentRef, reason string) (*models.Donation, error)
	MarkRefunded(ctx context.Context, ref IntentRef, reason string) (*models.Donation, error)
	RequestRefund(ctx context.Context, id uuid.UUID, reason string) (*models.Donation, error)
	FindInFlightBySchedule(ctx context.Context, scheduledDonationID uuid.UUID) (*models.Donation, error)
	FindByChargeID(ctx context.Context, chargeID string) (*models.Donation, error)
	ListCompletedWithoutReceipt(ctx context.Context, completedBefore time.Time, limit int) ([]models.Donation, error)
	MarkReceiptIssued(ctx context.Context, id, receiptID uuid.UUID) error
}

// ServiceParams wires the donation service.
type ServiceParams struct {
	Repo      Repository
	Processor processor.Client
	Logger    *logger.Logger
	Metrics   *metrics.DonationMetrics
	Now       func() time.Time
}

type service struct {
	repo      Repository
	processor processor.Client
	logg      *logger.Logger
	metrics   *metrics.DonationMetrics
	now       func() time.Time
}

// NewService validates dependencies and returns the donation service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("donation repository required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &service{
		repo:      params.Repo,
		processor: params.Processor,
		logg:      params.Logger,
		metrics:   params.Metrics,
		now:       params.Now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.Donation, error) {
	if input.DonorID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donor id required")
	}
	if input.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id required")
	}
	if !input.Type.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid donation type %q", input.Type))
	}
	if !input.Fees.BaseAmount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation amount must be positive")
	}
	if strings.TrimSpace(input.IdempotencyKey) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "idempotency key required")
	}
	if strings.TrimSpace(input.Currency) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "currency required")
	}

	donation := &models.Donation{
		ID:                  input.ID,
		DonorID:             input.DonorID,
		OrganizationID:      input.OrganizationID,
		CauseID:             input.CauseID,
		Type:                input.Type,
		BaseAmount:          input.Fees.BaseAmount,
		CoverFees:           input.Fees.CoverFees,
		PlatformFee:         input.Fees.PlatformFee,
		GSTOnFee:            input.Fees.GSTOnFee,
		ProcessorFee:        input.Fees.ProcessorFee,
		NetAmount:           input.Fees.NetToOrg,
		TotalAmount:         input.Fees.TotalCharge,
		Currency:            strings.ToLower(input.Currency),
		Status:              enums.DonationStatusPending,
		IdempotencyKey:      input.IdempotencyKey,
		ScheduledDonationID: input.ScheduledDonationID,
		RoundUpConfigID:     input.RoundUpConfigID,
	}
	if err := s.repo.Create(ctx, donation); err != nil {
		// A fresh row has no intent yet, so the only unique key it can collide on is (donor, idempotency key).
		if dbpkg.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "donation already exists for idempotency key")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create donation")
	}
	s.metrics.Transition(string(enums.DonationStatusPending))
	return donation, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	donation, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load donation")
	}
	return donation, nil
}

func (s *service) MarkProcessing(ctx context.Context, ref IntentRef) (*models.Donation, error) {
	if ref.PaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	return s.transition(ctx, ref, []enums.DonationStatus{enums.DonationStatusPending}, enums.DonationStatusProcessing, map[string]any{
		"status": enums.DonationStatusProcessing,
	})
}

func (s *service) MarkSucceeded(ctx context.Context, ref IntentRef, chargeID string) (*models.Donation, error) {
	if ref.PaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required to complete a donation")
	}
	now := s.now().UTC()
	updates := map[string]any{
		"status":               enums.DonationStatusCompleted,
		"completed_at":         now,
		"last_payment_attempt": now,
		"payment_attempts":     gorm.Expr("payment_attempts + 1"),
		"failure_reason":       nil,
	}
	if chargeID != "" {
		updates["charge_id"] = chargeID
	}
	return s.transition(ctx, ref, enums.InFlightDonationStatuses, enums.DonationStatusCompleted, updates)
}

func (s *service) MarkFailed(ctx context.Context, ref IntentRef, reason string) (*models.Donation, error) {
	updates := map[string]any{
		"status":               enums.DonationStatusFailed,
		"last_payment_attempt": s.now().UTC(),
		"payment_attempts":     gorm.Expr("payment_attempts + 1"),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["failure_reason"] = reason
	}
	return s.transition(ctx, ref, enums.InFlightDonationStatuses, enums.DonationStatusFailed, updates)
}

func (s *service) MarkCanceled(ctx context.Context, ref IntentRef, reason string) (*models.Donation, error) {
	updates := map[string]any{
		"status":               enums.DonationStatusCanceled,
		"last_payment_attempt": s.now().UTC(),
		"payment_attempts":     gorm.Expr("payment_attempts + 1"),
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["failure_reason"] = reason
	}
	return s.transition(ctx, ref, enums.InFlightDonationStatuses, enums.DonationStatusCanceled, updates)
}

func (s *service) MarkRefunded(ctx context.Context, ref IntentRef, reason string) (*models.Donation, error) {
	updates := map[string]any{"status": enums.DonationStatusRefunded}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["refund_reason"] = reason
	}
	return s.transition(ctx, ref, []enums.DonationStatus{
		enums.DonationStatusCompleted,
		enums.DonationStatusRefunding,
	}, enums.DonationStatusRefunded, updates)
}

// RequestRefund moves a completed donation to refunding and asks the processor
// for a full refund. The refunded state is reached only via the refund webhook.
func (s *service) RequestRefund(ctx context.Context, id uuid.UUID, reason string) (*models.Donation, error) {
	if s.processor == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processor client not configured")
	}
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id required")
	}
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.PaymentIntentID == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "donation has no payment to refund")
	}

	updates := map[string]any{"status": enums.DonationStatusRefunding}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["refund_reason"] = reason
	}
	donation, err := s.repo.UpdateByID(ctx, id, "", []enums.DonationStatus{enums.DonationStatusCompleted}, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark donation refunding")
	}
	if donation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only completed donations can be refunded")
	}
	s.metrics.Transition(string(enums.DonationStatusRefunding))

	ctx = s.logg.WithDonationID(ctx, id.String())
	_, err = s.processor.CreateRefund(ctx, processor.RefundRequest{
		PaymentIntentID: *donation.PaymentIntentID,
		IdempotencyKey:  "refund-" + id.String(),
		Metadata:        map[string]string{processor.MetadataDonationID: id.String()},
	})
	if err != nil {
		if _, revertErr := s.repo.UpdateByID(ctx, id, "", []enums.DonationStatus{enums.DonationStatusRefunding}, map[string]any{
			"status": enums.DonationStatusCompleted,
		}); revertErr != nil {
			s.logg.Error(ctx, "failed to revert refunding donation", revertErr)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create refund")
	}
	s.logg.Info(ctx, "refund requested")
	return donation, nil
}

func (s *service) FindInFlightBySchedule(ctx context.Context, scheduledDonationID uuid.UUID) (*models.Donation, error) {
	donation, err := s.repo.FindInFlightBySchedule(ctx, scheduledDonationID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find in-flight scheduled donation")
	}
	return donation, nil
}

func (s *service) FindByChargeID(ctx context.Context, chargeID string) (*models.Donation, error) {
	if chargeID = strings.TrimSpace(chargeID); chargeID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "charge id required")
	}
	donation, err := s.repo.FindByChargeID(ctx, chargeID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find donation by charge")
	}
	return donation, nil
}

func (s *service) ListCompletedWithoutReceipt(ctx context.Context, completedBefore time.Time, limit int) ([]models.Donation, error) {
	rows, err := s.repo.ListCompletedWithoutReceipt(ctx, completedBefore.UTC(), limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list donations without receipt")
	}
	return rows, nil
}

func (s *service) MarkReceiptIssued(ctx context.Context, id, receiptID uuid.UUID) error {
	if err := s.repo.MarkReceiptIssued(ctx, id, receiptID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "mark receipt issued")
	}
	return nil
}

// transition returns the updated row, or nil when the precondition no longer
// holds (replayed or out-of-order delivery) or no donation matches the ref.
func (s *service) transition(ctx context.Context, ref IntentRef, from []enums.DonationStatus, to enums.DonationStatus, updates map[string]any) (*models.Donation, error) {
	if ref.PaymentIntentID == "" && ref.DonationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id or donation id required")
	}

	if ref.PaymentIntentID != "" {
		donation, err := s.repo.UpdateByIntent(ctx, ref.PaymentIntentID, from, updates)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update donation by payment intent")
		}
		if donation != nil {
			s.metrics.Transition(string(to))
			return donation, nil
		}
	}

	if ref.DonationID == uuid.Nil {
		return nil, nil
	}
	donation, err := s.repo.UpdateByID(ctx, ref.DonationID, ref.PaymentIntentID, from, updates)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update donation by id")
	}
	if donation != nil {
		s.metrics.Transition(string(to))
		if ref.PaymentIntentID != "" {
			s.logg.Info(s.logg.WithDonationID(ctx, ref.DonationID.String()), "donation matched by metadata; payment intent backfilled")
		}
	}
	return donation, nil
}
