package scheduled

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

func validInput() CreateInput {
	return CreateInput{
		UserID:           uuid.New(),
		OrganizationID:   uuid.New(),
		Amount:           decimal.RequireFromString("20"),
		Currency:         "AUD",
		Frequency:        enums.FrequencyWeekly,
		StripeCustomerID: "cus_1",
		PaymentMethodID:  "pm_1",
		StartDate:        fixedNow.Add(24 * time.Hour),
	}
}

func TestCreateTemplate(t *testing.T) {
	f := newFixture(t)
	tmpl, err := f.templates.Create(context.Background(), validInput())
	require.NoError(t, err)

	stored := f.reload(t, tmpl.ID)
	assert.Equal(t, "aud", stored.Currency)
	assert.Equal(t, enums.ExecutionStatusActive, stored.ExecutionStatus)
	assert.True(t, stored.IsActive)
	assert.True(t, stored.NextRunAt.Equal(fixedNow.Add(24*time.Hour)))
}

func TestCreateTemplateValidation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]func(*CreateInput){
		"missing user":        func(in *CreateInput) { in.UserID = uuid.Nil },
		"zero amount":         func(in *CreateInput) { in.Amount = decimal.Zero },
		"bad currency":        func(in *CreateInput) { in.Currency = "dollars" },
		"missing method":      func(in *CreateInput) { in.PaymentMethodID = "" },
		"custom without unit": func(in *CreateInput) { in.Frequency = enums.FrequencyCustom; in.CustomIntervalValue = 2 },
		"end before start": func(in *CreateInput) {
			end := in.StartDate.Add(-time.Hour)
			in.EndDate = &end
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			input := validInput()
			mutate(&input)
			_, err := f.templates.Create(context.Background(), input)
			require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
		})
	}
}

func TestCreateTemplateRejectsUnusablePaymentMethod(t *testing.T) {
	f := newFixture(t)
	f.proc.AttachErr = &processor.Error{Code: "payment_method_unactivated", Message: "payment method cannot be attached"}

	_, err := f.templates.Create(context.Background(), validInput())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation), "got %v", err)
}

func TestPauseResumeNeverTouchesProcessing(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, nil)

	require.NoError(t, f.templates.Pause(context.Background(), tmpl.ID))
	assert.Equal(t, enums.ExecutionStatusPaused, f.reload(t, tmpl.ID).ExecutionStatus)
	require.NoError(t, f.templates.Resume(context.Background(), tmpl.ID))
	assert.Equal(t, enums.ExecutionStatusActive, f.reload(t, tmpl.ID).ExecutionStatus)

	f.acquire(t, tmpl.ID, fixedNow)

	err := f.templates.Pause(context.Background(), tmpl.ID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
	assert.Equal(t, enums.ExecutionStatusProcessing, f.reload(t, tmpl.ID).ExecutionStatus)
}

func TestRescheduleAnchorsOnLockTime(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, nil)

	ok, err := f.repo.Acquire(context.Background(), tmpl.ID, uuid.New(), fixedNow.Add(-2*time.Hour))
	require.NoError(t, err)
	require.False(t, ok, "template is not yet due two hours ago")

	run := f.acquire(t, tmpl.ID, fixedNow)
	locked := f.reload(t, tmpl.ID)
	require.NotNil(t, locked.CurrentDonationID)
	assert.Equal(t, run, *locked.CurrentDonationID)
	assert.Nil(t, locked.LastExecutedAt, "the run is not confirmed yet")

	require.NoError(t, f.templates.Reschedule(context.Background(), tmpl.ID, run))

	stored := f.reload(t, tmpl.ID)
	assert.Equal(t, enums.ExecutionStatusActive, stored.ExecutionStatus)
	assert.Equal(t, 1, stored.TotalExecutions)
	assert.Nil(t, stored.LockedAt)
	assert.Nil(t, stored.CurrentDonationID)
	require.NotNil(t, stored.LastExecutedAt)
	assert.True(t, stored.LastExecutedAt.Equal(fixedNow), "got %s", stored.LastExecutedAt)
	assert.True(t, time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC).Equal(stored.NextRunAt), "got %s", stored.NextRunAt)

	require.NoError(t, f.templates.Reschedule(context.Background(), tmpl.ID, run))
	assert.Equal(t, 1, f.reload(t, tmpl.ID).TotalExecutions, "reschedule of an unlocked template is a no-op")
}

func TestRescheduleDeactivatesAfterEndDate(t *testing.T) {
	f := newFixture(t)
	end := fixedNow.Add(7 * 24 * time.Hour)
	tmpl := f.seedTemplate(t, func(s *models.ScheduledDonation) { s.EndDate = &end })

	run := f.acquire(t, tmpl.ID, fixedNow)
	require.NoError(t, f.templates.Reschedule(context.Background(), tmpl.ID, run))

	stored := f.reload(t, tmpl.ID)
	assert.False(t, stored.IsActive)
	assert.Equal(t, enums.ExecutionStatusActive, stored.ExecutionStatus)
}

func TestEarlierRunOutcomeLeavesCurrentLock(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, nil)
	earlier := uuid.New()
	current := f.acquire(t, tmpl.ID, fixedNow)

	require.NoError(t, f.templates.Reschedule(context.Background(), tmpl.ID, earlier))
	require.NoError(t, f.templates.ReleaseFailed(context.Background(), tmpl.ID, earlier, "payment canceled", true))

	stored := f.reload(t, tmpl.ID)
	assert.Equal(t, enums.ExecutionStatusProcessing, stored.ExecutionStatus)
	assert.Zero(t, stored.TotalExecutions)
	assert.Zero(t, stored.ConsecutiveFailures)
	assert.True(t, stored.NextRunAt.Equal(tmpl.NextRunAt))
	require.NotNil(t, stored.CurrentDonationID)
	assert.Equal(t, current, *stored.CurrentDonationID)

	require.NoError(t, f.templates.Reschedule(context.Background(), tmpl.ID, current))
	stored = f.reload(t, tmpl.ID)
	assert.Equal(t, enums.ExecutionStatusActive, stored.ExecutionStatus)
	assert.Equal(t, 1, stored.TotalExecutions)
}

func TestReleaseFailed(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, nil)

	run := f.acquire(t, tmpl.ID, fixedNow)
	require.NoError(t, f.templates.ReleaseFailed(context.Background(), tmpl.ID, run, "network", false))

	stored := f.reload(t, tmpl.ID)
	assert.Equal(t, enums.ExecutionStatusActive, stored.ExecutionStatus)
	assert.Equal(t, 1, stored.ConsecutiveFailures)
	assert.Nil(t, stored.CurrentDonationID)
	assert.Nil(t, stored.LastExecutedAt, "failed runs do not move the schedule anchor")
	assert.True(t, stored.NextRunAt.Equal(fixedNow.Add(15*time.Minute)), "transient failure retries after the delay, got %s", stored.NextRunAt)
	require.NotNil(t, stored.LastFailureReason)
	assert.Equal(t, "network", *stored.LastFailureReason)

	retryAt := fixedNow.Add(15 * time.Minute)
	run = f.acquire(t, tmpl.ID, retryAt)
	require.NoError(t, f.templates.ReleaseFailed(context.Background(), tmpl.ID, run, "card_declined", true))

	stored = f.reload(t, tmpl.ID)
	assert.Equal(t, 2, stored.ConsecutiveFailures)
	assert.True(t, stored.IsActive)
	assert.True(t, time.Date(2026, 4, 10, 9, 15, 0, 0, time.UTC).Equal(stored.NextRunAt), "got %s", stored.NextRunAt)
}

func TestReleaseFailedBacksOffThenDeactivates(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, nil)

	for i, wantDelay := range []time.Duration{15 * time.Minute, 30 * time.Minute} {
		at := f.reload(t, tmpl.ID).NextRunAt
		run := f.acquire(t, tmpl.ID, at)
		require.NoError(t, f.templates.ReleaseFailed(context.Background(), tmpl.ID, run, "timeout", false))

		stored := f.reload(t, tmpl.ID)
		assert.Equal(t, i+1, stored.ConsecutiveFailures)
		assert.True(t, stored.IsActive)
		assert.True(t, stored.NextRunAt.Equal(fixedNow.Add(wantDelay)), "failure %d: got %s", i+1, stored.NextRunAt)

		ok, err := f.repo.Acquire(context.Background(), tmpl.ID, uuid.New(), fixedNow)
		require.NoError(t, err)
		assert.False(t, ok, "not due again before the retry delay")
	}

	run := f.acquire(t, tmpl.ID, fixedNow.Add(30*time.Minute))
	require.NoError(t, f.templates.ReleaseFailed(context.Background(), tmpl.ID, run, "timeout", false))

	stored := f.reload(t, tmpl.ID)
	assert.Equal(t, 3, stored.ConsecutiveFailures)
	assert.False(t, stored.IsActive, "template is deactivated after the failure limit")
	assert.Equal(t, enums.ExecutionStatusActive, stored.ExecutionStatus)
}

func TestRetryDelayNeverPassesNextRegularRun(t *testing.T) {
	f := newFixture(t)
	tmpl := f.seedTemplate(t, func(s *models.ScheduledDonation) {
		s.Frequency = enums.FrequencyDaily
		s.ConsecutiveFailures = 1
	})
	svc, err := NewService(f.repo, f.proc, nil, func() time.Time { return fixedNow }, RetryPolicy{BaseDelay: 20 * time.Hour})
	require.NoError(t, err)

	run := f.acquire(t, tmpl.ID, fixedNow)
	require.NoError(t, svc.ReleaseFailed(context.Background(), tmpl.ID, run, "timeout", false))

	assert.True(t, fixedNow.Add(24*time.Hour).Equal(f.reload(t, tmpl.ID).NextRunAt))
}
