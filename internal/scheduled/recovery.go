package scheduled

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

type inFlightFinder interface {
	FindInFlightBySchedule(ctx context.Context, scheduledDonationID uuid.UUID) (*models.Donation, error)
	MarkFailed(ctx context.Context, ref donations.IntentRef, reason string) (*models.Donation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Donation, error)
}

type intentRetriever interface {
	RetrievePaymentIntent(ctx context.Context, id string) (*processor.PaymentIntent, error)
}

// IntentApplier applies a processor payment intent to its donation the same
// way the webhook for its current status would.
type IntentApplier interface {
	ApplyPaymentIntent(ctx context.Context, pi *processor.PaymentIntent) error
}

// RecoveryParams wires the stale-lock sweep.
type RecoveryParams struct {
	Repo      Repository
	Templates Service
	Donations inFlightFinder
	Processor intentRetriever
	Applier   IntentApplier
	Logger    *logger.Logger
	Window    time.Duration
	BatchSize int
	Now       func() time.Time
}

// Recovery releases execution locks left behind by crashed or stuck runs.
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
		return nil, fmt.Errorf("scheduled donation repository required")
	case params.Templates == nil:
		return nil, fmt.Errorf("scheduled donation service required")
	case params.Donations == nil:
		return nil, fmt.Errorf("donation service required")
	case params.Processor == nil:
		return nil, fmt.Errorf("processor client required")
	case params.Applier == nil:
		return nil, fmt.Errorf("intent applier required")
	case params.Window <= 0:
		return nil, fmt.Errorf("stale lock window must be positive")
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

// Sweep reconciles templates locked for longer than the window. When the run
// reached the processor, the intent is fetched and its outcome applied;
// otherwise the lock is released so the template runs again.
func (r *Recovery) Sweep(ctx context.Context) (RecoverySummary, error) {
	var summary RecoverySummary
	cutoff := r.params.Now().UTC().Add(-r.params.Window)
	stale, err := r.params.Repo.ListStaleLocks(ctx, cutoff, r.params.BatchSize)
	if err != nil {
		return summary, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stale scheduled donation locks")
	}
	for i := range stale {
		tmplCtx := r.logg.WithScheduledDonationID(ctx, stale[i].ID.String())
		result, err := r.recover(tmplCtx, &stale[i])
		if err != nil {
			r.logg.Error(tmplCtx, "stale lock recovery failed", err)
			continue
		}
		switch result {
		case recoveryApplied:
			summary.Applied++
		case recoveryReleased:
			summary.Released++
		default:
			summary.Pending++
		}
	}
	return summary, nil
}

type recoveryResult int

const (
	recoveryPending recoveryResult = iota
	recoveryApplied
	recoveryReleased
)

func (r *Recovery) recover(ctx context.Context, tmpl *models.ScheduledDonation) (recoveryResult, error) {
	owner := uuid.Nil
	if tmpl.CurrentDonationID != nil {
		owner = *tmpl.CurrentDonationID
	}
	donation, err := r.runDonation(ctx, tmpl.ID, owner)
	if err != nil {
		return recoveryPending, err
	}

	if donation == nil || donation.PaymentIntentID == nil {
		if donation != nil {
			ctx = r.logg.WithDonationID(ctx, donation.ID.String())
			if _, err := r.params.Donations.MarkFailed(ctx, donations.IntentRef{DonationID: donation.ID}, "execution interrupted"); err != nil {
				return recoveryPending, err
			}
		}
		if err := r.params.Templates.ReleaseFailed(ctx, tmpl.ID, owner, "stale execution lock released", false); err != nil {
			return recoveryPending, err
		}
		r.logg.Warn(ctx, "stale scheduled donation lock force-released")
		return recoveryReleased, nil
	}

	ctx = r.logg.WithDonationID(ctx, donation.ID.String())
	pi, err := r.params.Processor.RetrievePaymentIntent(ctx, *donation.PaymentIntentID)
	if err != nil {
		return recoveryPending, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payment intent")
	}
	if pi.Metadata == nil {
		pi.Metadata = map[string]string{}
	}
	if pi.DonationID() == "" {
		pi.Metadata[processor.MetadataDonationID] = donation.ID.String()
	}
	if err := r.params.Applier.ApplyPaymentIntent(ctx, pi); err != nil {
		return recoveryPending, err
	}

	current, err := r.params.Donations.Get(ctx, donation.ID)
	if err != nil {
		return recoveryPending, err
	}
	switch current.Status {
	case enums.DonationStatusCompleted, enums.DonationStatusRefunding, enums.DonationStatusRefunded:
		// The pipeline may have failed before rescheduling; Reschedule is a no-op otherwise.
		if err := r.params.Templates.Reschedule(ctx, tmpl.ID, owner); err != nil {
			return recoveryPending, err
		}
		return recoveryApplied, nil
	case enums.DonationStatusFailed, enums.DonationStatusCanceled:
		reason := "payment " + string(current.Status)
		if current.FailureReason != nil {
			reason = *current.FailureReason
		}
		if err := r.params.Templates.ReleaseFailed(ctx, tmpl.ID, owner, reason, true); err != nil {
			return recoveryPending, err
		}
		return recoveryApplied, nil
	}
	r.logg.Warn(ctx, fmt.Sprintf("scheduled donation still awaiting processor (%s); lock kept", pi.Status))
	return recoveryPending, nil
}

// runDonation returns the donation that holds the lock, or nil when the run
// never recorded one. Locks without an owner fall back to the in-flight
// donation of the template.
func (r *Recovery) runDonation(ctx context.Context, templateID, owner uuid.UUID) (*models.Donation, error) {
	if owner == uuid.Nil {
		return r.params.Donations.FindInFlightBySchedule(ctx, templateID)
	}
	donation, err := r.params.Donations.Get(ctx, owner)
	if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
		return nil, nil
	}
	return donation, err
}
