package donations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/dbtest"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

type fixture struct {
	svc  Service
	repo Repository
	proc *processor.Memory
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	proc := processor.NewMemory()
	svc, err := NewService(ServiceParams{Repo: repo, Processor: proc})
	require.NoError(t, err)
	return fixture{svc: svc, repo: repo, proc: proc}
}

func (f fixture) createDonation(t *testing.T, amount string) *models.Donation {
	t.Helper()
	breakdown := fees.NewCalculator(fees.DefaultRates()).Compute(decimal.RequireFromString(amount), false)
	donation, err := f.svc.Create(context.Background(), CreateInput{
		DonorID:        uuid.New(),
		OrganizationID: uuid.New(),
		Type:           enums.DonationTypeOneTime,
		Fees:           breakdown,
		Currency:       "AUD",
		IdempotencyKey: uuid.NewString(),
	})
	require.NoError(t, err)
	return donation
}

func TestCreatePersistsBreakdown(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "100.00")

	stored, err := f.svc.Get(context.Background(), donation.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DonationStatusPending, stored.Status)
	assert.Equal(t, "aud", stored.Currency)
	assert.Equal(t, "100.00", stored.TotalAmount.StringFixed(2))
	assert.Equal(t, "91.30", stored.NetAmount.StringFixed(2))
	assert.Equal(t, "5.00", stored.PlatformFee.StringFixed(2))
	assert.Nil(t, stored.PaymentIntentID)
}

func TestCreateRejectsNonPositiveAmount(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Create(context.Background(), CreateInput{
		DonorID:        uuid.New(),
		OrganizationID: uuid.New(),
		Type:           enums.DonationTypeOneTime,
		Fees:           fees.Breakdown{BaseAmount: decimal.Zero},
		Currency:       "aud",
		IdempotencyKey: "k",
	})
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestCreateDuplicateIdempotencyKeyConflicts(t *testing.T) {
	f := newFixture(t)
	breakdown := fees.NewCalculator(fees.DefaultRates()).Compute(decimal.RequireFromString("10.00"), false)
	input := CreateInput{
		DonorID:        uuid.New(),
		OrganizationID: uuid.New(),
		Type:           enums.DonationTypeRecurring,
		Fees:           breakdown,
		Currency:       "aud",
		IdempotencyKey: "sched-1-1700000000000-abcd1234",
	}
	_, err := f.svc.Create(context.Background(), input)
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), input)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeConflict), "got %v", err)
}

func TestGetMissingDonation(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Get(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestMarkProcessingBackfillsIntent(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "25.00")

	updated, err := f.svc.MarkProcessing(context.Background(), IntentRef{PaymentIntentID: "pi_1", DonationID: donation.ID})
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.DonationStatusProcessing, updated.Status)
	require.NotNil(t, updated.PaymentIntentID)
	assert.Equal(t, "pi_1", *updated.PaymentIntentID)

	again, err := f.svc.MarkProcessing(context.Background(), IntentRef{PaymentIntentID: "pi_1", DonationID: donation.ID})
	require.NoError(t, err)
	assert.Nil(t, again, "processing precondition no longer holds")
}

func TestMarkSucceededUnknownIntentFallsBackToMetadata(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "50.00")

	updated, err := f.svc.MarkSucceeded(context.Background(), IntentRef{PaymentIntentID: "pi_late", DonationID: donation.ID}, "ch_1")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.DonationStatusCompleted, updated.Status)
	assert.Equal(t, "pi_late", *updated.PaymentIntentID)
	assert.Equal(t, "ch_1", *updated.ChargeID)
	assert.NotNil(t, updated.CompletedAt)
	assert.Equal(t, 1, updated.PaymentAttempts)
}

func TestMarkSucceededReplayIsNoop(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "50.00")
	ref := IntentRef{PaymentIntentID: "pi_2", DonationID: donation.ID}

	first, err := f.svc.MarkSucceeded(context.Background(), ref, "ch_2")
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := f.svc.MarkSucceeded(context.Background(), ref, "ch_2")
	require.NoError(t, err)
	assert.Nil(t, second)

	stored, err := f.svc.Get(context.Background(), donation.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, stored.PaymentAttempts)
}

func TestMarkSucceededRequiresIntent(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "10.00")

	_, err := f.svc.MarkSucceeded(context.Background(), IntentRef{DonationID: donation.ID}, "ch")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))

	stored, err := f.svc.Get(context.Background(), donation.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DonationStatusPending, stored.Status)
}

func TestIntentIsImmutableOnceSet(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "10.00")

	_, err := f.svc.MarkProcessing(context.Background(), IntentRef{PaymentIntentID: "pi_a", DonationID: donation.ID})
	require.NoError(t, err)

	updated, err := f.svc.MarkSucceeded(context.Background(), IntentRef{PaymentIntentID: "pi_b", DonationID: donation.ID}, "ch")
	require.NoError(t, err)
	assert.Nil(t, updated)

	stored, err := f.svc.Get(context.Background(), donation.ID)
	require.NoError(t, err)
	assert.Equal(t, "pi_a", *stored.PaymentIntentID)
	assert.Equal(t, enums.DonationStatusProcessing, stored.Status)
}

func TestCompletedIgnoresLateProcessing(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "10.00")
	ref := IntentRef{PaymentIntentID: "pi_c", DonationID: donation.ID}

	_, err := f.svc.MarkSucceeded(context.Background(), ref, "ch")
	require.NoError(t, err)
	late, err := f.svc.MarkProcessing(context.Background(), ref)
	require.NoError(t, err)
	assert.Nil(t, late)

	failed, err := f.svc.MarkFailed(context.Background(), ref, "declined")
	require.NoError(t, err)
	assert.Nil(t, failed)
}

func TestMarkFailedRecordsAttempt(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "10.00")

	updated, err := f.svc.MarkFailed(context.Background(), IntentRef{DonationID: donation.ID}, "card_declined")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.DonationStatusFailed, updated.Status)
	assert.Equal(t, 1, updated.PaymentAttempts)
	assert.NotNil(t, updated.LastPaymentAttempt)
	assert.Equal(t, "card_declined", *updated.FailureReason)
}

func TestMarkCanceled(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "10.00")

	updated, err := f.svc.MarkCanceled(context.Background(), IntentRef{PaymentIntentID: "pi_x", DonationID: donation.ID}, "")
	require.NoError(t, err)
	require.NotNil(t, updated)
	assert.Equal(t, enums.DonationStatusCanceled, updated.Status)
	assert.Equal(t, 1, updated.PaymentAttempts)
}

func TestUnknownDonationIsNoop(t *testing.T) {
	f := newFixture(t)
	updated, err := f.svc.MarkFailed(context.Background(), IntentRef{PaymentIntentID: "pi_none", DonationID: uuid.New()}, "x")
	require.NoError(t, err)
	assert.Nil(t, updated)

	_, err = f.svc.MarkFailed(context.Background(), IntentRef{}, "x")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestRequestRefundAndConfirm(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "40.00")
	ref := IntentRef{PaymentIntentID: "pi_r", DonationID: donation.ID}
	_, err := f.svc.MarkSucceeded(context.Background(), ref, "ch_r")
	require.NoError(t, err)

	refunding, err := f.svc.RequestRefund(context.Background(), donation.ID, "duplicate gift")
	require.NoError(t, err)
	assert.Equal(t, enums.DonationStatusRefunding, refunding.Status)
	require.Len(t, f.proc.Refunds, 1)
	assert.Equal(t, "refund-"+donation.ID.String(), f.proc.Refunds[0].IdempotencyKey)
	assert.Equal(t, "pi_r", f.proc.Refunds[0].PaymentIntentID)

	refunded, err := f.svc.MarkRefunded(context.Background(), IntentRef{PaymentIntentID: "pi_r"}, "")
	require.NoError(t, err)
	require.NotNil(t, refunded)
	assert.Equal(t, enums.DonationStatusRefunded, refunded.Status)

	replay, err := f.svc.MarkRefunded(context.Background(), IntentRef{PaymentIntentID: "pi_r"}, "")
	require.NoError(t, err)
	assert.Nil(t, replay)
}

func TestRequestRefundRevertsOnProcessorFailure(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "40.00")
	_, err := f.svc.MarkSucceeded(context.Background(), IntentRef{PaymentIntentID: "pi_f", DonationID: donation.ID}, "ch_f")
	require.NoError(t, err)

	f.proc.RefundErr = errors.New("connection reset")
	_, err = f.svc.RequestRefund(context.Background(), donation.ID, "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))

	stored, err := f.svc.Get(context.Background(), donation.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.DonationStatusCompleted, stored.Status)
}

func TestRequestRefundRejectsPending(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "40.00")
	_, err := f.svc.RequestRefund(context.Background(), donation.ID, "")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestListCompletedWithoutReceipt(t *testing.T) {
	f := newFixture(t)
	withReceipt := f.createDonation(t, "10.00")
	without := f.createDonation(t, "20.00")
	pending := f.createDonation(t, "30.00")

	for i, d := range []*models.Donation{withReceipt, without} {
		_, err := f.svc.MarkSucceeded(context.Background(), IntentRef{PaymentIntentID: "pi_list_" + string(rune('a'+i)), DonationID: d.ID}, "")
		require.NoError(t, err)
	}
	require.NoError(t, f.svc.MarkReceiptIssued(context.Background(), withReceipt.ID, uuid.New()))

	rows, err := f.svc.ListCompletedWithoutReceipt(context.Background(), time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, without.ID, rows[0].ID)
	assert.NotEqual(t, pending.ID, rows[0].ID)
}

func TestRefFromIntent(t *testing.T) {
	id := uuid.New()
	ref := RefFromIntent(&processor.PaymentIntent{ID: "pi", Metadata: map[string]string{processor.MetadataDonationID: id.String()}})
	assert.Equal(t, "pi", ref.PaymentIntentID)
	assert.Equal(t, id, ref.DonationID)

	bad := RefFromIntent(&processor.PaymentIntent{ID: "pi", Metadata: map[string]string{processor.MetadataDonationID: "nope"}})
	assert.Equal(t, uuid.Nil, bad.DonationID)
	assert.Equal(t, IntentRef{}, RefFromIntent(nil))
}

func TestFindInFlightBySchedule(t *testing.T) {
	f := newFixture(t)
	scheduledID := uuid.New()
	breakdown := fees.NewCalculator(fees.DefaultRates()).Compute(decimal.RequireFromString("15.00"), false)

	none, err := f.svc.FindInFlightBySchedule(context.Background(), scheduledID)
	require.NoError(t, err)
	assert.Nil(t, none)

	donation, err := f.svc.Create(context.Background(), CreateInput{
		DonorID:             uuid.New(),
		OrganizationID:      uuid.New(),
		Type:                enums.DonationTypeRecurring,
		Fees:                breakdown,
		Currency:            "aud",
		IdempotencyKey:      "sched-key",
		ScheduledDonationID: &scheduledID,
	})
	require.NoError(t, err)

	found, err := f.svc.FindInFlightBySchedule(context.Background(), scheduledID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, donation.ID, found.ID)

	_, err = f.svc.MarkFailed(context.Background(), IntentRef{DonationID: donation.ID}, "card_declined")
	require.NoError(t, err)

	gone, err := f.svc.FindInFlightBySchedule(context.Background(), scheduledID)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestFindByChargeID(t *testing.T) {
	f := newFixture(t)
	donation := f.createDonation(t, "30.00")
	_, err := f.svc.MarkSucceeded(context.Background(), IntentRef{PaymentIntentID: "pi_c", DonationID: donation.ID}, "ch_settled")
	require.NoError(t, err)

	found, err := f.svc.FindByChargeID(context.Background(), "ch_settled")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, donation.ID, found.ID)

	missing, err := f.svc.FindByChargeID(context.Background(), "ch_other")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = f.svc.FindByChargeID(context.Background(), " ")
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
