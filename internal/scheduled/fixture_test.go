package scheduled

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/internal/donations"
	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/dbtest"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

var fixedNow = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type stubVerifier struct {
	account string
	err     error
	calls   int
}

func (s *stubVerifier) VerifyPayoutAccount(context.Context, uuid.UUID) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.account, nil
}

type fixture struct {
	conn      *gorm.DB
	repo      Repository
	templates Service
	donations donations.Service
	proc      *processor.Memory
	verifier  *stubVerifier
	exec      *Executor

	mu     sync.Mutex
	sleeps []time.Duration
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		conn:     dbtest.Open(t),
		proc:     processor.NewMemory(),
		verifier: &stubVerifier{account: "acct_org"},
	}
	now := func() time.Time { return fixedNow }
	f.repo = NewRepository(f.conn)

	var err error
	f.templates, err = NewService(f.repo, f.proc, nil, now, RetryPolicy{BaseDelay: 15 * time.Minute, MaxFailures: 3})
	require.NoError(t, err)
	f.donations, err = donations.NewService(donations.ServiceParams{
		Repo:      donations.NewRepository(f.conn),
		Processor: f.proc,
		Now:       now,
	})
	require.NoError(t, err)
	f.exec, err = NewExecutor(ExecutorParams{
		Repo:        f.repo,
		Templates:   f.templates,
		Donations:   f.donations,
		Fees:        fees.NewCalculator(fees.DefaultRates()),
		Accounts:    f.verifier,
		Processor:   f.proc,
		MaxAttempts: 3,
		BackoffBase: time.Second,
		Now:         now,
		Sleep: func(_ context.Context, d time.Duration) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.sleeps = append(f.sleeps, d)
			return nil
		},
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) seedTemplate(t *testing.T, mutate func(*models.ScheduledDonation)) *models.ScheduledDonation {
	t.Helper()
	tmpl := &models.ScheduledDonation{
		ID:               uuid.New(),
		UserID:           uuid.New(),
		OrganizationID:   uuid.New(),
		Amount:           decimal.RequireFromString("25.00"),
		Currency:         "aud",
		Frequency:        enums.FrequencyMonthly,
		StripeCustomerID: "cus_1",
		PaymentMethodID:  "pm_1",
		StartDate:        time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC),
		NextRunAt:        fixedNow.Add(-time.Hour),
		IsActive:         true,
		ExecutionStatus:  enums.ExecutionStatusActive,
	}
	if mutate != nil {
		mutate(tmpl)
	}
	require.NoError(t, f.repo.Create(context.Background(), tmpl))
	return tmpl
}

// acquire takes the lock for a fresh run and returns the run's donation id.
func (f *fixture) acquire(t *testing.T, id uuid.UUID, at time.Time) uuid.UUID {
	t.Helper()
	donationID := uuid.New()
	ok, err := f.repo.Acquire(context.Background(), id, donationID, at)
	require.NoError(t, err)
	require.True(t, ok)
	return donationID
}

func (f *fixture) reload(t *testing.T, id uuid.UUID) *models.ScheduledDonation {
	t.Helper()
	tmpl, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return tmpl
}

func (f *fixture) donationsFor(t *testing.T, id uuid.UUID) []models.Donation {
	t.Helper()
	var rows []models.Donation
	require.NoError(t, f.conn.Where("scheduled_donation_id = ?", id).Find(&rows).Error)
	return rows
}
