package rewards

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox/payloads"
)

type donationLoader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Donation, error)
}

type outboxEmitter interface {
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

// BadgeEvaluator hands badge and tier progress to the badge engine by queuing
// a donation_completed event for it.
type BadgeEvaluator interface {
	Evaluate(ctx context.Context, donorID, donationID uuid.UUID) error
}

type badgeEvaluator struct {
	db        *gorm.DB
	donations donationLoader
	outbox    outboxEmitter
}

func NewBadgeEvaluator(db *gorm.DB, donations donationLoader, emitter outboxEmitter) (BadgeEvaluator, error) {
	if db == nil {
		return nil, fmt.Errorf("badge database required")
	}
	if donations == nil {
		return nil, fmt.Errorf("donation loader required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	return &badgeEvaluator{db: db, donations: donations, outbox: emitter}, nil
}

func (b *badgeEvaluator) Evaluate(ctx context.Context, donorID, donationID uuid.UUID) error {
	donation, err := b.donations.Get(ctx, donationID)
	if err != nil {
		return err
	}
	if donation.DonorID != donorID {
		return pkgerrors.New(pkgerrors.CodeValidation, "donation does not belong to donor")
	}
	if donation.Status != enums.DonationStatusCompleted {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "badge progress only counts completed donations")
	}

	payload := payloads.DonationCompletedEvent{
		DonationID:          donation.ID,
		DonorID:             donation.DonorID,
		OrganizationID:      donation.OrganizationID,
		CauseID:             donation.CauseID,
		DonationType:        string(donation.Type),
		BaseAmount:          donation.BaseAmount.StringFixed(2),
		TotalAmount:         donation.TotalAmount.StringFixed(2),
		NetAmount:           donation.NetAmount.StringFixed(2),
		Currency:            donation.Currency,
		ScheduledDonationID: donation.ScheduledDonationID,
	}
	if donation.PaymentIntentID != nil {
		payload.PaymentIntentID = *donation.PaymentIntentID
	}
	if donation.CompletedAt != nil {
		payload.CompletedAt = donation.CompletedAt.UTC()
	}

	return b.outbox.EmitIfNotExists(ctx, b.db, outbox.DomainEvent{
		EventType:     enums.EventDonationCompleted,
		AggregateType: enums.AggregateDonation,
		AggregateID:   donation.ID,
		Source:        "donation-pipeline",
		DonorID:       &donation.DonorID,
		Data:          payload,
	})
}
