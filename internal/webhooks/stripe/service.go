package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/ledger"
	"github.com/mostafizurRahaman/donation-app-server/internal/pipeline"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox/payloads"
)

// Webhook outcomes, used in metrics.
const (
	outcomeApplied = "applied"
	outcomeNoop    = "noop"
	outcomeIgnored = "ignored"
	outcomeError   = "error"
)

type donationStore interface {
	MarkProcessing(ctx context.Context, ref donations.IntentRef) (*models.Donation, error)
	MarkSucceeded(ctx context.Context, ref donations.IntentRef, chargeID string) (*models.Donation, error)
	MarkFailed(ctx context.Context, ref donations.IntentRef, reason string) (*models.Donation, error)
	MarkCanceled(ctx context.Context, ref donations.IntentRef, reason string) (*models.Donation, error)
	MarkRefunded(ctx context.Context, ref donations.IntentRef, reason string) (*models.Donation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	FindByChargeID(ctx context.Context, chargeID string) (*models.Donation, error)
}

type pipelineRunner interface {
	Run(ctx context.Context, donation *models.Donation) pipeline.Result
}

type scheduleReleaser interface {
	ReleaseFailed(ctx context.Context, id, donationID uuid.UUID, reason string, skip bool) error
}

type batchRollbacker interface {
	RollbackBatch(ctx context.Context, donationID uuid.UUID, reason string) error
}

type ledgerWriter interface {
	AppendDebit(ctx context.Context, input ledger.EntryInput) (*models.LedgerEntry, error)
	Reverse(ctx context.Context, donationID uuid.UUID, reason string) (*models.LedgerEntry, error)
}

type accountRecorder interface {
	RecordAccountStatus(ctx context.Context, accountID string, chargesEnabled bool) (bool, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type ServiceParams struct {
	DB        *gorm.DB
	Donations donationStore
	Pipeline  pipelineRunner
	Scheduler scheduleReleaser
	RoundUps  batchRollbacker
	Ledger    ledgerWriter
	Outbox    outboxEmitter
	// Accounts is optional; without it account.updated events are ignored.
	Accounts accountRecorder
	Logger   *logger.Logger
	Metrics  *metrics.DonationMetrics
	Now      func() time.Time
}

// Service applies processor events to donations. Every transition is gated
// on the donation's current status, so a replayed or out-of-order event finds
// no matching row and produces no side effects.
type Service struct {
	db        *gorm.DB
	donations donationStore
	pipeline  pipelineRunner
	scheduler scheduleReleaser
	roundUps  batchRollbacker
	ledger    ledgerWriter
	outbox    outboxEmitter
	accounts  accountRecorder
	logg      *logger.Logger
	metrics   *metrics.DonationMetrics
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.DB == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "database required")
	}
	if params.Donations == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "donation store required")
	}
	if params.Pipeline == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "post-success pipeline required")
	}
	if params.Scheduler == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "scheduled donation service required")
	}
	if params.RoundUps == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "round-up service required")
	}
	if params.Ledger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "ledger required")
	}
	if params.Outbox == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "outbox required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		db:        params.DB,
		donations: params.Donations,
		pipeline:  params.Pipeline,
		scheduler: params.Scheduler,
		roundUps:  params.RoundUps,
		ledger:    params.Ledger,
		outbox:    params.Outbox,
		accounts:  params.Accounts,
		logg:      logg,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})

	applied, err := s.dispatch(ctx, event)
	switch {
	case err != nil:
		s.metrics.WebhookEvent(string(event.Type), outcomeError)
	case applied == nil:
		s.metrics.WebhookEvent(string(event.Type), outcomeIgnored)
	case *applied:
		s.metrics.WebhookEvent(string(event.Type), outcomeApplied)
	default:
		s.metrics.WebhookEvent(string(event.Type), outcomeNoop)
	}
	return err
}

// dispatch reports nil for event types that are not handled, otherwise
// whether a donation changed state.
func (s *Service) dispatch(ctx context.Context, event *stripe.Event) (*bool, error) {
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentProcessing,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled:
		var raw stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &raw); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode payment intent event")
		}
		pi := processor.FromStripe(&raw)
		var (
			applied bool
			err     error
		)
		switch event.Type {
		case stripe.EventTypePaymentIntentSucceeded:
			applied, err = s.succeeded(ctx, pi)
		case stripe.EventTypePaymentIntentProcessing:
			applied, err = s.processing(ctx, pi)
		case stripe.EventTypePaymentIntentPaymentFailed:
			applied, err = s.failed(ctx, pi)
		default:
			applied, err = s.canceled(ctx, pi)
		}
		return &applied, err
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode checkout session event")
		}
		applied, err := s.checkoutCompleted(ctx, &session)
		return &applied, err
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &charge); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
		}
		applied, err := s.refunded(ctx, &charge)
		return &applied, err
	case stripe.EventTypeTransferReversed:
		var transfer stripe.Transfer
		if err := json.Unmarshal(event.Data.Raw, &transfer); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode transfer event")
		}
		applied, err := s.transferReversed(ctx, &transfer)
		return &applied, err
	case stripe.EventTypeAccountUpdated:
		if s.accounts == nil {
			return nil, nil
		}
		var account stripe.Account
		if err := json.Unmarshal(event.Data.Raw, &account); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode account event")
		}
		if account.ID == "" {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id missing")
		}
		applied, err := s.accounts.RecordAccountStatus(ctx, account.ID, account.ChargesEnabled)
		return &applied, err
	default:
		return nil, nil
	}
}

// ApplyPaymentIntent applies pi according to its current status. It is used
// when reconciling without a webhook delivery.
func (s *Service) ApplyPaymentIntent(ctx context.Context, pi *processor.PaymentIntent) error {
	if pi == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "payment intent required")
	}
	var err error
	switch pi.Status {
	case processor.IntentSucceeded:
		_, err = s.succeeded(ctx, pi)
	case processor.IntentProcessing:
		_, err = s.processing(ctx, pi)
	case processor.IntentRequiresPaymentMethod:
		if pi.FailureMessage != "" {
			_, err = s.failed(ctx, pi)
		}
	case processor.IntentCanceled:
		_, err = s.canceled(ctx, pi)
	}
	return err
}

func (s *Service) processing(ctx context.Context, pi *processor.PaymentIntent) (bool, error) {
	if pi.ID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	donation, err := s.donations.MarkProcessing(ctx, donations.RefFromIntent(pi))
	if err != nil {
		return false, err
	}
	return donation != nil, nil
}

func (s *Service) succeeded(ctx context.Context, pi *processor.PaymentIntent) (bool, error) {
	if pi.ID == "" {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id missing")
	}
	donation, err := s.donations.MarkSucceeded(ctx, donations.RefFromIntent(pi), pi.LatestChargeID)
	if err != nil {
		return false, err
	}
	if donation == nil {
		s.logg.Info(ctx, "payment intent "+pi.ID+" already applied or unknown")
		return false, nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())
	result := s.pipeline.Run(ctx, donation)
	if !result.OK() {
		s.logg.Warn(ctx, "post-success steps failed: "+strings.Join(result.Failed, ","))
	}
	return true, nil
}

func (s *Service) failed(ctx context.Context, pi *processor.PaymentIntent) (bool, error) {
	reason := pi.FailureMessage
	if reason == "" {
		reason = "payment failed"
	}
	donation, err := s.donations.MarkFailed(ctx, donations.RefFromIntent(pi), reason)
	if err != nil {
		return false, err
	}
	if donation == nil {
		return false, nil
	}
	s.afterFailure(s.logg.WithDonationID(ctx, donation.ID.String()), donation, reason)
	return true, nil
}

func (s *Service) canceled(ctx context.Context, pi *processor.PaymentIntent) (bool, error) {
	reason := "payment canceled"
	donation, err := s.donations.MarkCanceled(ctx, donations.RefFromIntent(pi), reason)
	if err != nil {
		return false, err
	}
	if donation == nil {
		return false, nil
	}
	s.afterFailure(s.logg.WithDonationID(ctx, donation.ID.String()), donation, reason)
	return true, nil
}

// afterFailure releases whatever the charge held. Errors are logged; the
// donation has already reached its terminal state.
func (s *Service) afterFailure(ctx context.Context, donation *models.Donation, reason string) {
	if donation.Type == enums.DonationTypeRecurring && donation.ScheduledDonationID != nil {
		if err := s.scheduler.ReleaseFailed(ctx, *donation.ScheduledDonationID, donation.ID, reason, true); err != nil {
			s.logg.Error(ctx, "failed to release scheduled donation lock", err)
		}
	}
	if donation.Type == enums.DonationTypeRoundUp {
		if err := s.roundUps.RollbackBatch(ctx, donation.ID, reason); err != nil {
			s.logg.Error(ctx, "failed to roll back round-up batch", err)
		}
	}
	s.emit(ctx, outbox.DomainEvent{
		EventType:     enums.EventDonationFailed,
		AggregateType: enums.AggregateDonation,
		AggregateID:   donation.ID,
		Data: payloads.DonationFailedEvent{
			DonationID:     donation.ID,
			DonorID:        donation.DonorID,
			OrganizationID: donation.OrganizationID,
			DonationType:   string(donation.Type),
			Reason:         reason,
			FailedAt:       s.now().UTC(),
		},
	})
}

func (s *Service) checkoutCompleted(ctx context.Context, session *stripe.CheckoutSession) (bool, error) {
	if session.PaymentIntent == nil || session.PaymentIntent.ID == "" {
		s.logg.Info(ctx, "checkout session without payment intent ignored")
		return false, nil
	}
	ref := donations.IntentRef{PaymentIntentID: session.PaymentIntent.ID}
	ref.DonationID = parseDonationID(session.Metadata[processor.MetadataDonationID])
	if ref.DonationID == uuid.Nil {
		ref.DonationID = parseDonationID(session.ClientReferenceID)
	}
	donation, err := s.donations.MarkProcessing(ctx, ref)
	if err != nil {
		return false, err
	}
	return donation != nil, nil
}

func (s *Service) refunded(ctx context.Context, charge *stripe.Charge) (bool, error) {
	ref := donations.IntentRef{DonationID: parseDonationID(charge.Metadata[processor.MetadataDonationID])}
	if charge.PaymentIntent != nil {
		ref.PaymentIntentID = charge.PaymentIntent.ID
		if ref.DonationID == uuid.Nil {
			ref.DonationID = parseDonationID(charge.PaymentIntent.Metadata[processor.MetadataDonationID])
		}
	}
	if ref.PaymentIntentID == "" && ref.DonationID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "refunded charge carries no donation reference")
	}
	if !charge.Refunded {
		s.logg.Info(ctx, "partial refund ignored")
		return false, nil
	}

	reason := "refunded"
	if charge.Refunds != nil && len(charge.Refunds.Data) > 0 && charge.Refunds.Data[0].Reason != "" {
		reason = string(charge.Refunds.Data[0].Reason)
	}
	donation, err := s.donations.MarkRefunded(ctx, ref, reason)
	if err != nil {
		return false, err
	}
	if donation == nil {
		return false, nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())

	if _, err := s.ledger.AppendDebit(ctx, ledger.EntryInput{
		OrganizationID: donation.OrganizationID,
		DonationID:     donation.ID,
		Amount:         donation.NetAmount,
		Currency:       donation.Currency,
		Reason:         "refund: " + reason,
	}); err != nil {
		s.metrics.PipelineStepFailed("ledger_debit")
		s.logg.Error(ctx, "failed to debit ledger for refund", err)
	}
	s.emit(ctx, outbox.DomainEvent{
		EventType:     enums.EventDonationRefunded,
		AggregateType: enums.AggregateDonation,
		AggregateID:   donation.ID,
		Data: payloads.DonationRefundedEvent{
			DonationID:     donation.ID,
			DonorID:        donation.DonorID,
			OrganizationID: donation.OrganizationID,
			Amount:         donation.TotalAmount.StringFixed(2),
			Currency:       donation.Currency,
			Reason:         reason,
			RefundedAt:     s.now().UTC(),
		},
	})
	return true, nil
}

// transferReversed offsets the credit of a completed donation whose payout to
// the organization was fully reversed. Refunded donations were already debited.
func (s *Service) transferReversed(ctx context.Context, transfer *stripe.Transfer) (bool, error) {
	if !transfer.Reversed {
		s.logg.Info(ctx, "partial transfer reversal ignored")
		return false, nil
	}
	donation, err := s.transferDonation(ctx, transfer)
	if err != nil {
		return false, err
	}
	if donation == nil {
		s.logg.Info(ctx, "reversed transfer "+transfer.ID+" matches no donation")
		return false, nil
	}
	ctx = s.logg.WithDonationID(ctx, donation.ID.String())
	if donation.Status != enums.DonationStatusCompleted {
		s.logg.Info(ctx, fmt.Sprintf("transfer reversal for %s donation ignored", donation.Status))
		return false, nil
	}

	entry, err := s.ledger.Reverse(ctx, donation.ID, "payout reversed: "+transfer.ID)
	if err != nil {
		s.metrics.PipelineStepFailed("ledger_reversal")
		return false, err
	}
	s.logg.Warn(ctx, "organization payout reversed; ledger credit offset")
	return entry != nil, nil
}

// transferDonation resolves the donation a transfer paid out, first from the
// donationId metadata, then from the charge that funded it.
func (s *Service) transferDonation(ctx context.Context, transfer *stripe.Transfer) (*models.Donation, error) {
	id := parseDonationID(transfer.Metadata[processor.MetadataDonationID])
	if id == uuid.Nil && transfer.SourceTransaction != nil {
		id = parseDonationID(transfer.SourceTransaction.Metadata[processor.MetadataDonationID])
	}
	if id != uuid.Nil {
		donation, err := s.donations.Get(ctx, id)
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, nil
		}
		return donation, err
	}
	if transfer.SourceTransaction == nil || transfer.SourceTransaction.ID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reversed transfer carries no donation reference")
	}
	return s.donations.FindByChargeID(ctx, transfer.SourceTransaction.ID)
}

func (s *Service) emit(ctx context.Context, event outbox.DomainEvent) {
	if err := s.outbox.EmitIfNotExists(ctx, s.db.WithContext(ctx), event); err != nil {
		s.logg.Error(ctx, fmt.Sprintf("failed to emit %s event", event.EventType), err)
	}
}

func parseDonationID(raw string) uuid.UUID {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil
	}
	return id
}
