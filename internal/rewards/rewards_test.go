package rewards

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/dbtest"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox/payloads"
)

type stubDonations struct {
	donation *models.Donation
}

func (s stubDonations) Get(context.Context, uuid.UUID) (*models.Donation, error) {
	if s.donation == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "donation not found")
	}
	return s.donation, nil
}

type recordingEmitter struct {
	events []outbox.DomainEvent
}

func (r *recordingEmitter) EmitIfNotExists(_ context.Context, _ *gorm.DB, event outbox.DomainEvent) error {
	r.events = append(r.events, event)
	return nil
}

func TestAwardIsProportionalAndIdempotent(t *testing.T) {
	conn := dbtest.Open(t)
	svc, err := NewPointsService(conn, 100)
	require.NoError(t, err)

	donor, donation := uuid.New(), uuid.New()
	first, err := svc.Award(context.Background(), donor, donation, decimal.RequireFromString("25.507"))
	require.NoError(t, err)
	require.Equal(t, 2550, first.Points)

	second, err := svc.Award(context.Background(), donor, donation, decimal.RequireFromString("25.50"))
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	var count int64
	require.NoError(t, conn.Model(&models.PointsTransaction{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAwardValidation(t *testing.T) {
	svc, err := NewPointsService(dbtest.Open(t), 1)
	require.NoError(t, err)

	_, err = svc.Award(context.Background(), uuid.Nil, uuid.New(), decimal.NewFromInt(1))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = svc.Award(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString("0.50"))
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	_, err = NewPointsService(dbtest.Open(t), 0)
	require.Error(t, err)
}

func TestEvaluateQueuesCompletedEvent(t *testing.T) {
	completedAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	pi := "pi_badge"
	donation := &models.Donation{
		ID:              uuid.New(),
		DonorID:         uuid.New(),
		OrganizationID:  uuid.New(),
		Type:            enums.DonationTypeRecurring,
		BaseAmount:      decimal.RequireFromString("20"),
		TotalAmount:     decimal.RequireFromString("20"),
		NetAmount:       decimal.RequireFromString("17.55"),
		Currency:        "aud",
		Status:          enums.DonationStatusCompleted,
		PaymentIntentID: &pi,
		CompletedAt:     &completedAt,
	}
	emitter := &recordingEmitter{}
	eval, err := NewBadgeEvaluator(dbtest.Open(t), stubDonations{donation: donation}, emitter)
	require.NoError(t, err)

	require.NoError(t, eval.Evaluate(context.Background(), donation.DonorID, donation.ID))
	require.Len(t, emitter.events, 1)
	event := emitter.events[0]
	require.Equal(t, enums.EventDonationCompleted, event.EventType)
	require.Equal(t, donation.ID, event.AggregateID)
	payload := event.Data.(payloads.DonationCompletedEvent)
	require.Equal(t, "20.00", payload.BaseAmount)
	require.Equal(t, "pi_badge", payload.PaymentIntentID)
	require.Equal(t, completedAt, payload.CompletedAt)
}

func TestEvaluateRejectsForeignOrIncompleteDonation(t *testing.T) {
	donation := &models.Donation{ID: uuid.New(), DonorID: uuid.New(), Status: enums.DonationStatusPending}
	emitter := &recordingEmitter{}
	eval, err := NewBadgeEvaluator(dbtest.Open(t), stubDonations{donation: donation}, emitter)
	require.NoError(t, err)

	err = eval.Evaluate(context.Background(), uuid.New(), donation.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	err = eval.Evaluate(context.Background(), donation.DonorID, donation.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	require.Empty(t, emitter.events)
}
