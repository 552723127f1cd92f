package organizations

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/dbtest"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

type fakeCache struct {
	values      map[uuid.UUID]string
	getErr      error
	setErr      error
	sets        int
	invalidated int
}

func (f *fakeCache) AccountStatus(_ context.Context, id uuid.UUID) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[id]
	return v, ok, nil
}

func (f *fakeCache) SetAccountStatus(_ context.Context, id uuid.UUID, status string, _ time.Duration) error {
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.values[id] = status
	return nil
}

func (f *fakeCache) InvalidateAccountStatus(_ context.Context, id uuid.UUID) error {
	f.invalidated++
	delete(f.values, id)
	return nil
}

func seedOrg(t *testing.T, repo Repository, active bool, account string) uuid.UUID {
	t.Helper()
	conn := repo.(*repository).db
	org := &models.Organization{ID: uuid.New(), Name: "Food Bank", IsActive: true}
	if account != "" {
		org.ProcessorAccountID = &account
	}
	require.NoError(t, conn.Create(org).Error)
	if !active {
		require.NoError(t, conn.Model(org).Update("is_active", false).Error)
	}
	return org.ID
}

func TestVerifyPayoutAccountCachesProcessorAnswer(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	proc := processor.NewMemory()
	proc.Accounts["acct_1"] = &processor.Account{ID: "acct_1", ChargesEnabled: true}
	cache := &fakeCache{values: map[uuid.UUID]string{}}

	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: proc, Cache: cache})
	require.NoError(t, err)
	orgID := seedOrg(t, repo, true, "acct_1")

	acct, err := v.VerifyPayoutAccount(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, "acct_1", acct)
	require.Equal(t, 1, cache.sets)

	delete(proc.Accounts, "acct_1")
	acct, err = v.VerifyPayoutAccount(context.Background(), orgID)
	require.NoError(t, err, "second lookup must be served from cache")
	require.Equal(t, "acct_1", acct)
}

func TestVerifyPayoutAccountRejectsDisabledAccount(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	proc := processor.NewMemory()
	proc.Accounts["acct_2"] = &processor.Account{ID: "acct_2", ChargesEnabled: false}

	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: proc})
	require.NoError(t, err)
	orgID := seedOrg(t, repo, true, "acct_2")

	_, err = v.VerifyPayoutAccount(context.Background(), orgID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))
}

func TestVerifyPayoutAccountInactiveOrganization(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: processor.NewMemory()})
	require.NoError(t, err)

	inactive := seedOrg(t, repo, false, "acct_3")
	_, err = v.VerifyPayoutAccount(context.Background(), inactive)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	noAccount := seedOrg(t, repo, true, "")
	_, err = v.VerifyPayoutAccount(context.Background(), noAccount)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeStateConflict))

	_, err = v.VerifyPayoutAccount(context.Background(), uuid.New())
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeNotFound))
}

func TestVerifyPayoutAccountCacheErrorFallsThrough(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	proc := processor.NewMemory()
	proc.Accounts["acct_4"] = &processor.Account{ID: "acct_4", ChargesEnabled: true}
	cache := &fakeCache{values: map[uuid.UUID]string{}, getErr: errors.New("redis down")}

	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: proc, Cache: cache})
	require.NoError(t, err)
	orgID := seedOrg(t, repo, true, "acct_4")

	acct, err := v.VerifyPayoutAccount(context.Background(), orgID)
	require.NoError(t, err)
	require.Equal(t, "acct_4", acct)
}

func TestVerifyPayoutAccountProcessorError(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: processor.NewMemory()})
	require.NoError(t, err)
	orgID := seedOrg(t, repo, true, "acct_missing")

	_, err = v.VerifyPayoutAccount(context.Background(), orgID)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestRecordAccountStatusRefreshesCache(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	proc := processor.NewMemory()
	proc.Accounts["acct_5"] = &processor.Account{ID: "acct_5", ChargesEnabled: true}
	cache := &fakeCache{values: map[uuid.UUID]string{}}

	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: proc, Cache: cache})
	require.NoError(t, err)
	orgID := seedOrg(t, repo, true, "acct_5")

	_, err = v.VerifyPayoutAccount(context.Background(), orgID)
	require.NoError(t, err)

	recorded, err := v.RecordAccountStatus(context.Background(), "acct_5", false)
	require.NoError(t, err)
	require.True(t, recorded)
	require.Equal(t, statusDisabled, cache.values[orgID])

	_, err = v.VerifyPayoutAccount(context.Background(), orgID)
	require.ErrorIs(t, err, ErrAccountInactive)

	recorded, err = v.RecordAccountStatus(context.Background(), "acct_unknown", true)
	require.NoError(t, err)
	require.False(t, recorded)
}

func TestRecordAccountStatusInvalidatesOnCacheWriteFailure(t *testing.T) {
	repo := NewRepository(dbtest.Open(t))
	orgID := seedOrg(t, repo, true, "acct_6")
	cache := &fakeCache{values: map[uuid.UUID]string{orgID: statusEnabled}, setErr: errors.New("redis: READONLY")}

	v, err := NewAccountVerifier(VerifierParams{Repo: repo, Processor: processor.NewMemory(), Cache: cache})
	require.NoError(t, err)

	recorded, err := v.RecordAccountStatus(context.Background(), "acct_6", false)
	require.NoError(t, err)
	require.True(t, recorded)
	require.Equal(t, 1, cache.invalidated)
	require.NotContains(t, cache.values, orgID)
}
