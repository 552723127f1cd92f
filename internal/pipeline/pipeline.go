package pipeline

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/ledger"
	"github.com/mostafizurRahaman/donation-app-server/internal/receipts"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/metrics"
)

// Step names, used in logs and metrics.
const (
	StepLedgerCredit  = "ledger_credit"
	StepReschedule    = "reschedule"
	StepRoundUpSettle = "round_up_settle"
	StepReceipt       = "receipt"
	StepPoints        = "points"
	StepBadges        = "badges"
)

type ledgerCreditor interface {
	AppendCredit(ctx context.Context, input ledger.EntryInput) (*models.LedgerEntry, error)
}

type rescheduler interface {
	Reschedule(ctx context.Context, scheduledDonationID, donationID uuid.UUID) error
}

type roundUpSettler interface {
	SettleBatch(ctx context.Context, donationID uuid.UUID, chargeID string) error
}

type receiptGenerator interface {
	Generate(ctx context.Context, input receipts.GenerateInput) (*models.Receipt, error)
}

type receiptMarker interface {
	MarkReceiptIssued(ctx context.Context, id, receiptID uuid.UUID) error
}

type pointsAwarder interface {
	Award(ctx context.Context, donorID, donationID uuid.UUID, baseAmount decimal.Decimal) (*models.PointsTransaction, error)
}

type badgeEvaluator interface {
	Evaluate(ctx context.Context, donorID, donationID uuid.UUID) error
}

// Params wires the post-success side effects.
type Params struct {
	Ledger    ledgerCreditor
	Scheduler rescheduler
	RoundUps  roundUpSettler
	Receipts  receiptGenerator
	Donations receiptMarker
	Points    pointsAwarder
	Badges    badgeEvaluator
	Logger    *logger.Logger
	Metrics   *metrics.DonationMetrics
}

// Pipeline runs the side effects of a completed donation. Each step is
// idempotent and isolated: a failing step is logged and the next one runs.
type Pipeline struct {
	params Params
	logg   *logger.Logger
}

// Result lists the steps that failed during a run.
type Result struct {
	Failed []string
}

// OK reports whether every step succeeded or was skipped.
func (r Result) OK() bool {
	return len(r.Failed) == 0
}

func New(params Params) (*Pipeline, error) {
	switch {
	case params.Ledger == nil:
		return nil, fmt.Errorf("ledger collaborator required")
	case params.Scheduler == nil:
		return nil, fmt.Errorf("scheduler collaborator required")
	case params.RoundUps == nil:
		return nil, fmt.Errorf("round-up collaborator required")
	case params.Receipts == nil || params.Donations == nil:
		return nil, fmt.Errorf("receipt collaborators required")
	case params.Points == nil:
		return nil, fmt.Errorf("points collaborator required")
	case params.Badges == nil:
		return nil, fmt.Errorf("badge collaborator required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Pipeline{params: params, logg: logg}, nil
}

// Run executes every step for donation, which must already be completed.
func (p *Pipeline) Run(ctx context.Context, donation *models.Donation) Result {
	var result Result
	if donation == nil {
		return result
	}
	ctx = p.logg.WithDonationID(ctx, donation.ID.String())
	if donation.Status != enums.DonationStatusCompleted {
		p.logg.Warn(ctx, "pipeline skipped for donation that is not completed")
		return result
	}

	p.step(ctx, &result, StepLedgerCredit, func(ctx context.Context) error {
		_, err := p.params.Ledger.AppendCredit(ctx, ledger.EntryInput{
			OrganizationID: donation.OrganizationID,
			DonationID:     donation.ID,
			Amount:         donation.NetAmount,
			Currency:       donation.Currency,
			Reason:         "donation completed",
		})
		return err
	})

	if donation.Type == enums.DonationTypeRecurring && donation.ScheduledDonationID != nil {
		p.step(ctx, &result, StepReschedule, func(ctx context.Context) error {
			return p.params.Scheduler.Reschedule(p.logg.WithScheduledDonationID(ctx, donation.ScheduledDonationID.String()), *donation.ScheduledDonationID, donation.ID)
		})
	}

	if donation.Type == enums.DonationTypeRoundUp {
		p.step(ctx, &result, StepRoundUpSettle, func(ctx context.Context) error {
			chargeID := ""
			if donation.ChargeID != nil {
				chargeID = *donation.ChargeID
			}
			return p.params.RoundUps.SettleBatch(ctx, donation.ID, chargeID)
		})
	}

	if !donation.ReceiptGenerated {
		p.step(ctx, &result, StepReceipt, func(ctx context.Context) error {
			receipt, err := p.params.Receipts.Generate(ctx, receipts.GenerateInput{
				DonationID:     donation.ID,
				DonorID:        donation.DonorID,
				OrganizationID: donation.OrganizationID,
				Fees:           BreakdownOf(donation),
				Currency:       donation.Currency,
			})
			if err != nil {
				return err
			}
			return p.params.Donations.MarkReceiptIssued(ctx, donation.ID, receipt.ID)
		})
	}

	p.step(ctx, &result, StepPoints, func(ctx context.Context) error {
		_, err := p.params.Points.Award(ctx, donation.DonorID, donation.ID, donation.BaseAmount)
		return err
	})

	p.step(ctx, &result, StepBadges, func(ctx context.Context) error {
		return p.params.Badges.Evaluate(ctx, donation.DonorID, donation.ID)
	})

	if result.OK() {
		p.logg.Info(ctx, "post-success pipeline completed")
	}
	return result
}

func (p *Pipeline) step(ctx context.Context, result *Result, name string, fn func(context.Context) error) {
	stepCtx := p.logg.WithField(ctx, "pipeline_step", name)
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		return fn(stepCtx)
	}()
	if err == nil {
		return
	}
	result.Failed = append(result.Failed, name)
	p.params.Metrics.PipelineStepFailed(name)
	p.logg.Error(stepCtx, "pipeline step failed", err)
}

// BreakdownOf rebuilds the fee breakdown persisted on a donation.
func BreakdownOf(donation *models.Donation) fees.Breakdown {
	return fees.Breakdown{
		BaseAmount:     donation.BaseAmount,
		CoverFees:      donation.CoverFees,
		PlatformFee:    donation.PlatformFee,
		GSTOnFee:       donation.GSTOnFee,
		ApplicationFee: donation.PlatformFee.Add(donation.GSTOnFee),
		ProcessorFee:   donation.ProcessorFee,
		TotalCharge:    donation.TotalAmount,
		NetToOrg:       donation.NetAmount,
	}
}
