package scheduled

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

var validate = validator.New()

// CreateInput describes a new recurring donation template.
type CreateInput struct {
	UserID              uuid.UUID       `validate:"required"`
	OrganizationID      uuid.UUID       `validate:"required"`
	CauseID             *uuid.UUID
	Amount              decimal.Decimal
	CoverFees           bool
	Currency            string          `validate:"required,len=3"`
	Frequency           enums.Frequency `validate:"required"`
	CustomIntervalValue int             `validate:"gte=0,lte=365"`
	CustomIntervalUnit  enums.IntervalUnit
	StripeCustomerID    string `validate:"required"`
	PaymentMethodID     string `validate:"required"`
	StartDate           time.Time
	EndDate             *time.Time
}

// Service manages recurring templates and their execution lock.
type Service interface {
	Create(ctx context.Context, input CreateInput) (*models.ScheduledDonation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ScheduledDonation, error)
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
	// Reschedule releases the lock held for donationID after a confirmed charge
	// and advances next_run_at.
	Reschedule(ctx context.Context, id, donationID uuid.UUID) error
	// ReleaseFailed releases the lock held for donationID after a failed run.
	// When skip is set the failed period is skipped; otherwise the template is
	// due again after the retry delay.
	ReleaseFailed(ctx context.Context, id, donationID uuid.UUID, reason string, skip bool) error
}

// RetryPolicy paces templates whose runs keep failing. The delay doubles with
// every consecutive failure and never passes the next regular run; after
// MaxFailures consecutive failures the template is deactivated.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxFailures int
}

// DefaultRetryPolicy waits 15 minutes after the first failure.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{BaseDelay: 15 * time.Minute, MaxFailures: 6}
}

func (p RetryPolicy) delay(failures int) time.Duration {
	if failures < 1 {
		failures = 1
	}
	if failures > 16 {
		failures = 16
	}
	return p.BaseDelay * time.Duration(1<<(failures-1))
}

type paymentMethodAttacher interface {
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
}

type service struct {
	repo     Repository
	attacher paymentMethodAttacher
	logg     *logger.Logger
	now      func() time.Time
	retry    RetryPolicy
}

// NewService returns the template service. The attacher binds the stored
// payment method to the customer so it can be charged off-session.
func NewService(repo Repository, attacher paymentMethodAttacher, logg *logger.Logger, now func() time.Time, retry RetryPolicy) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("scheduled donation repository required")
	}
	if attacher == nil {
		return nil, fmt.Errorf("payment method attacher required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	if now == nil {
		now = time.Now
	}
	if retry.BaseDelay <= 0 {
		retry.BaseDelay = DefaultRetryPolicy().BaseDelay
	}
	return &service{repo: repo, attacher: attacher, logg: logg, now: now, retry: retry}, nil
}

func (s *service) Create(ctx context.Context, input CreateInput) (*models.ScheduledDonation, error) {
	if err := validate.Struct(input); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid scheduled donation")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	start := input.StartDate.UTC()
	if start.IsZero() {
		start = s.now().UTC()
	}
	if input.EndDate != nil && !input.EndDate.After(start) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "end date must be after start date")
	}

	tmpl := &models.ScheduledDonation{
		ID:               uuid.New(),
		UserID:           input.UserID,
		OrganizationID:   input.OrganizationID,
		CauseID:          input.CauseID,
		Amount:           input.Amount.Round(2),
		CoverFees:        input.CoverFees,
		Currency:         strings.ToLower(input.Currency),
		Frequency:        input.Frequency,
		StripeCustomerID: input.StripeCustomerID,
		PaymentMethodID:  input.PaymentMethodID,
		StartDate:        start,
		EndDate:          input.EndDate,
		NextRunAt:        start,
		IsActive:         true,
		ExecutionStatus:  enums.ExecutionStatusActive,
	}
	if input.Frequency == enums.FrequencyCustom {
		value, unit := input.CustomIntervalValue, input.CustomIntervalUnit
		tmpl.CustomIntervalValue = &value
		tmpl.CustomIntervalUnit = &unit
	}
	if err := IntervalOf(tmpl).Validate(); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid schedule")
	}

	if err := s.attacher.AttachPaymentMethod(ctx, tmpl.PaymentMethodID, tmpl.StripeCustomerID); err != nil {
		if processor.IsRetryable(err) {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "attach payment method")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "payment method cannot be used for recurring donations")
	}
	if err := s.repo.Create(ctx, tmpl); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create scheduled donation")
	}
	return tmpl, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.ScheduledDonation, error) {
	tmpl, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "scheduled donation not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load scheduled donation")
	}
	return tmpl, nil
}

func (s *service) Pause(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, enums.ExecutionStatusActive, enums.ExecutionStatusPaused)
}

func (s *service) Resume(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, enums.ExecutionStatusPaused, enums.ExecutionStatusActive)
}

func (s *service) setStatus(ctx context.Context, id uuid.UUID, from, to enums.ExecutionStatus) error {
	ok, err := s.repo.SetExecutionStatus(ctx, id, from, to)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update scheduled donation status")
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeStateConflict, fmt.Sprintf("scheduled donation is not %s", from))
	}
	return nil
}

func (s *service) Reschedule(ctx context.Context, id, donationID uuid.UUID) error {
	ctx = s.logg.WithScheduledDonationID(ctx, id.String())
	tmpl, held, err := s.heldBy(ctx, id, donationID)
	if err != nil || !held {
		return err
	}

	next, err := s.nextRun(tmpl)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute next run")
	}
	executedAt := s.now().UTC()
	if tmpl.LockedAt != nil {
		executedAt = tmpl.LockedAt.UTC()
	}
	updates := map[string]any{
		"execution_status":     enums.ExecutionStatusActive,
		"next_run_at":          next,
		"last_executed_at":     executedAt,
		"total_executions":     gorm.Expr("total_executions + 1"),
		"consecutive_failures": 0,
		"last_failure_reason":  nil,
		"locked_at":            nil,
		"current_donation_id":  nil,
	}
	if tmpl.EndDate != nil && next.After(*tmpl.EndDate) {
		updates["is_active"] = false
	}
	ok, err := s.repo.UpdateLocked(ctx, id, donationID, updates)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reschedule scheduled donation")
	}
	if ok {
		s.logg.Info(ctx, fmt.Sprintf("scheduled donation rescheduled for %s", next.Format(time.RFC3339)))
	}
	return nil
}

func (s *service) ReleaseFailed(ctx context.Context, id, donationID uuid.UUID, reason string, skip bool) error {
	ctx = s.logg.WithScheduledDonationID(ctx, id.String())
	tmpl, held, err := s.heldBy(ctx, id, donationID)
	if err != nil || !held {
		return err
	}

	failures := tmpl.ConsecutiveFailures + 1
	updates := map[string]any{
		"execution_status":     enums.ExecutionStatusActive,
		"consecutive_failures": gorm.Expr("consecutive_failures + 1"),
		"locked_at":            nil,
		"current_donation_id":  nil,
	}
	if reason = strings.TrimSpace(reason); reason != "" {
		updates["last_failure_reason"] = reason
	}

	regular, err := s.nextRun(tmpl)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "compute next run")
	}
	next := regular
	if !skip {
		if retryAt := s.now().UTC().Add(s.retry.delay(failures)); retryAt.Before(regular) {
			next = retryAt
		}
	}
	updates["next_run_at"] = next
	switch {
	case tmpl.EndDate != nil && next.After(*tmpl.EndDate):
		updates["is_active"] = false
	case s.retry.MaxFailures > 0 && failures >= s.retry.MaxFailures:
		updates["is_active"] = false
		s.logg.Warn(ctx, fmt.Sprintf("scheduled donation deactivated after %d consecutive failures", failures))
	}

	if _, err := s.repo.UpdateLocked(ctx, id, donationID, updates); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "release scheduled donation lock")
	}
	return nil
}

// heldBy loads the template and reports whether its lock is held for
// donationID. Outcomes of earlier runs never touch a newer lock.
func (s *service) heldBy(ctx context.Context, id, donationID uuid.UUID) (*models.ScheduledDonation, bool, error) {
	tmpl, err := s.Get(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if tmpl.ExecutionStatus != enums.ExecutionStatusProcessing {
		s.logg.Debug(ctx, "scheduled donation not locked; release skipped")
		return tmpl, false, nil
	}
	owner := uuid.Nil
	if tmpl.CurrentDonationID != nil {
		owner = *tmpl.CurrentDonationID
	}
	if owner != donationID {
		s.logg.Warn(s.logg.WithDonationID(ctx, donationID.String()), "scheduled donation locked by another run; release skipped")
		return tmpl, false, nil
	}
	return tmpl, true, nil
}

// nextRun anchors on the time the current run took the lock, falling back to
// the slot that was due.
func (s *service) nextRun(tmpl *models.ScheduledDonation) (time.Time, error) {
	anchor := tmpl.NextRunAt
	if tmpl.LockedAt != nil {
		anchor = *tmpl.LockedAt
	}
	return IntervalOf(tmpl).Next(anchor.UTC())
}
