package roundup

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

type batchDonations interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	MarkFailed(ctx context.Context, ref donations.IntentRef, reason string) (*models.Donation, error)
}

type batchReleaser interface {
	SettleBatch(ctx context.Context, donationID uuid.UUID, chargeID string) error
	RollbackBatch(ctx context.Context, donationID uuid.UUID, reason string) error
}

type intentRetriever interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*processor.PaymentIntent, error)
}

// IntentApplier applies a processor payment intent to its donation the same
// way the webhook for its current status would.
type IntentApplier interface {
	ApplyPaymentIntent(ctx context.Context, pi *processor.PaymentIntent) error
}

// RecoveryParams wires the stale batch sweep.
type RecoveryParams struct {
	Repo      Repository
	Batches   batchReleaser
	Donations batchDonations
	Processor intentRetriever
	Applier   IntentApplier
	Logger    *logger.Logger
	Window    time.Duration
	BatchSize int
	Now       func() time.Time
}

// Recovery releases round-up batches left processing by a lost webhook or an
// interrupted run.
type Recovery struct {
	params RecoveryParams
	logg   *logger.Logger
}

// RecoverySummary counts what one sweep did.
type RecoverySummary struct {
	Applied  int
	Released int
	Pending  int
}

func NewRecovery(params RecoveryParams) (*Recovery, error) {
	switch {
	case params.Repo == nil:
		return nil, fmt.Errorf("round-up repository required")
	case params.Batches == nil:
		return nil, fmt.Errorf("round-up service required")
	case params.Donations == nil:
		return nil, fmt.Errorf("donation service required")
	case params.Processor == nil:
		return nil, fmt.Errorf("processor client required")
	case params.Applier == nil:
		return nil, fmt.Errorf("intent applier required")
	case params.Window <= 0:
		return nil, fmt.Errorf("stale batch window must be positive")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	return &Recovery{params: params, logg: logg}, nil
}

// Sweep reconciles batches claimed longer than the window ago. A batch whose
// charge reached the processor gets the intent's outcome; any other batch is
// rolled back so its amounts accumulate again.
func (r *Recovery) Sweep(ctx context.Context) (RecoverySummary, error) {
	var summary RecoverySummary
	cutoff := r.params.Now().UTC().Add(-r.params.Window)
	stale, err := r.params.Repo.ListStaleBatches(ctx, cutoff, r.params.BatchSize)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale round-up batches")
	}
	for i := range stale {
		cfgCtx := r.logg.WithField(ctx, "round_up_config_id", stale[i].ID.String())
		result, err := r.recover(cfgCtx, &stale[i])
		if err != nil {
			r.logg.Error(cfgCtx, "stale round-up batch recovery failed", err)
			continue
		}
		switch result {
		case batchApplied:
			summary.Applied++
		case batchReleased:
			summary.Released++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

type batchResult int

const (
	batchPending batchResult = iota
	batchApplied
	batchReleased
)

func (r *Recovery) recover(ctx context.Context, cfg *models.RoundUpConfig) (batchResult, error) {
	if cfg.CurrentDonationID == nil {
		r.logg.Warn(ctx, "processing round-up batch has no donation; left for manual review")
		return batchPending, nil
	}
	donationID := *cfg.CurrentDonationID
	ctx = r.logg.WithDonationID(ctx, donationID.String())

	donation, err := r.params.Donations.Get(ctx, donationID)
	switch {
	case pkgerrors.IsCode(err, pkgerrors.CodeNotFound):
		return r.release(ctx, donationID, "round-up batch interrupted before charge")
	case err != nil:
		return batchPending, err
	}

	if donation.PaymentIntentID == nil {
		if _, err := r.params.Donations.MarkFailed(ctx, donations.IntentRef{DonationID: donationID}, "execution interrupted"); err != nil {
			return batchPending, err
		}
		return r.release(ctx, donationID, "round-up charge interrupted")
	}

	pi, err := r.params.Processor.RetrievePaymentIntent(ctx, *donation.PaymentIntentID)
	if err != nil {
		return batchPending, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	if pi.Metadata == nil {
		pi.Metadata = map[string]string{}
	}
	if pi.DonationID() == "" {
		pi.Metadata[processor.MetadataDonationID] = donationID.String()
	}
	if err := r.params.Applier.ApplyPaymentIntent(ctx, pi); err != nil {
		return batchPending, err
	}

	current, err := r.params.Donations.Get(ctx, donationID)
	if err != nil {
		return batchPending, err
	}
	switch current.Status {
	case enums.DonationStatusCompleted, enums.DonationStatusRefunding, enums.DonationStatusRefunded:
		chargeID := pi.LatestChargeID
		if current.ChargeID != nil {
			chargeID = *current.ChargeID
		}
		if err := r.params.Batches.SettleBatch(ctx, donationID, chargeID); err != nil {
			return batchPending, err
		}
		return batchApplied, nil
	case enums.DonationStatusFailed, enums.DonationStatusCanceled:
		reason := "payment " + string(current.Status)
		if current.FailureReason != nil {
			reason = *current.FailureReason
		}
		if err := r.params.Batches.RollbackBatch(ctx, donationID, reason); err != nil {
			return batchPending, err
		}
		return batchApplied, nil
	}
	r.logg.Warn(ctx, fmt.Sprintf("round-up charge still awaiting processor (%s); batch kept", pi.Status))
	return batchPending, nil
}

func (r *Recovery) release(ctx context.Context, donationID uuid.UUID, reason string) (batchResult, error) {
	if err := r.params.Batches.RollbackBatch(ctx, donationID, reason); err != nil {
		return batchPending, err
	}
	r.logg.Warn(ctx, "stale round-up batch force-released")
	return batchReleased, nil
}
