package roundup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// intentApplier mirrors the webhook transitions without the pipeline.
type intentApplier struct {
	svc     donations.Service
	applied []string
}

func (a *intentApplier) ApplyPaymentIntent(ctx context.Context, pi *processor.PaymentIntent) error {
	a.applied = append(a.applied, pi.ID)
	ref := donations.RefFromIntent(pi)
	var err error
	switch pi.Status {
	case processor.IntentSucceeded:
		_, err = a.svc.MarkSucceeded(ctx, ref, pi.LatestChargeID)
	case processor.IntentCanceled:
		_, err = a.svc.MarkCanceled(ctx, ref, "canceled")
	case processor.IntentRequiresPaymentMethod:
		_, err = a.svc.MarkFailed(ctx, ref, pi.FailureMessage)
	}
	return err
}

func newRecovery(t *testing.T, f *fixture, applier IntentApplier, at time.Time) *Recovery {
	t.Helper()
	r, err := NewRecovery(RecoveryParams{
		Repo:      f.repo,
		Batches:   f.svc,
		Donations: f.donations,
		Processor: f.proc,
		Applier:   applier,
		Window:    time.Hour,
		Now:       func() time.Time { return at },
	})
	require.NoError(t, err)
	return r
}

func TestRecoverySettlesChargedBatch(t *testing.T) {
	f := newFixture(t)
	cfg := f.seedConfig(t, nil)
	f.record(t, cfg, "a", "12.00")
	_, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)

	applier := &intentApplier{svc: f.donations}
	summary, err := newRecovery(t, f, applier, fixedNow.Add(2*time.Hour)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{Applied: 1}, summary)
	require.Len(t, applier.applied, 1)

	assert.Equal(t, enums.DonationStatusCompleted, f.roundUpDonation(t, cfg).Status)
	stored := f.config(t, cfg.ID)
	assert.Equal(t, enums.RoundUpBatchIdle, stored.BatchStatus)
	assert.Nil(t, stored.CurrentDonationID)
	assert.Nil(t, stored.BatchClaimedAt)
	for _, txn := range f.transactions(t, cfg) {
		assert.Equal(t, enums.RoundUpDonated, txn.Status)
	}
}

func TestRecoveryRollsBackCanceledIntent(t *testing.T) {
	f := newFixture(t)
	f.proc.CreateStatus = processor.IntentProcessing
	cfg := f.seedConfig(t, nil)
	f.record(t, cfg, "a", "6.00")
	f.record(t, cfg, "b", "4.50")
	_, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)

	donation := f.roundUpDonation(t, cfg)
	require.NotNil(t, donation.PaymentIntentID)
	f.proc.Intents[*donation.PaymentIntentID].Status = processor.IntentCanceled

	summary, err := newRecovery(t, f, &intentApplier{svc: f.donations}, fixedNow.Add(2*time.Hour)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{Applied: 1}, summary)

	assert.Equal(t, enums.DonationStatusCanceled, f.roundUpDonation(t, cfg).Status)
	stored := f.config(t, cfg.ID)
	assert.Equal(t, enums.RoundUpBatchFailed, stored.BatchStatus)
	assert.Equal(t, "10.50", stored.AccumulatedTotal.StringFixed(2))
	assert.Nil(t, stored.CurrentDonationID)
	for _, txn := range f.transactions(t, cfg) {
		assert.Equal(t, enums.RoundUpAccumulated, txn.Status)
		assert.Nil(t, txn.DonationID)
	}

	summary2, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Charged: 1}, summary2, "rolled back batches are charged again")
}

func TestRecoveryReleasesChargeWithUnknownOutcome(t *testing.T) {
	f := newFixture(t)
	f.proc.CreateErrs = []error{context.DeadlineExceeded}
	cfg := f.seedConfig(t, nil)
	f.record(t, cfg, "a", "10.50")

	summary, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, BatchSummary{Failed: 1}, summary)

	held := f.config(t, cfg.ID)
	assert.Equal(t, enums.RoundUpBatchProcessing, held.BatchStatus, "unknown outcome keeps the batch")
	require.NotNil(t, held.BatchClaimedAt)
	assert.Equal(t, enums.DonationStatusPending, f.roundUpDonation(t, cfg).Status)

	swept, err := newRecovery(t, f, &intentApplier{svc: f.donations}, fixedNow.Add(2*time.Hour)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{Released: 1}, swept)

	donation := f.roundUpDonation(t, cfg)
	assert.Equal(t, enums.DonationStatusFailed, donation.Status)
	require.NotNil(t, donation.FailureReason)
	assert.Equal(t, "execution interrupted", *donation.FailureReason)
	stored := f.config(t, cfg.ID)
	assert.Equal(t, enums.RoundUpBatchFailed, stored.BatchStatus)
	assert.Equal(t, "10.50", stored.AccumulatedTotal.StringFixed(2))
	assert.Nil(t, stored.BatchClaimedAt)
}

func TestRecoveryKeepsBatchWhileIntentPending(t *testing.T) {
	f := newFixture(t)
	f.proc.CreateStatus = processor.IntentProcessing
	cfg := f.seedConfig(t, nil)
	f.record(t, cfg, "a", "10.00")
	_, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)

	summary, err := newRecovery(t, f, &intentApplier{svc: f.donations}, fixedNow.Add(2*time.Hour)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{Pending: 1}, summary)
	assert.Equal(t, enums.RoundUpBatchProcessing, f.config(t, cfg.ID).BatchStatus)
}

func TestRecoveryIgnoresFreshBatches(t *testing.T) {
	f := newFixture(t)
	cfg := f.seedConfig(t, nil)
	f.record(t, cfg, "a", "10.00")
	_, err := f.svc.RunDue(context.Background())
	require.NoError(t, err)

	summary, err := newRecovery(t, f, &intentApplier{svc: f.donations}, fixedNow.Add(30*time.Minute)).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RecoverySummary{}, summary)
	assert.Equal(t, enums.RoundUpBatchProcessing, f.config(t, cfg.ID).BatchStatus)
}
