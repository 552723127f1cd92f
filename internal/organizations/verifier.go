package organizations

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/internal/processor"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

const (
	defaultStatusTTL = 10 * time.Minute
	statusEnabled    = "enabled"
	statusDisabled   = "disabled"
)

var ErrAccountInactive = pkgerrors.New(pkgerrors.CodeStateConflict, "organization cannot receive donations")

type statusCache interface {
	AccountStatus(ctx context.Context, organizationID uuid.UUID) (string, bool, error)
	SetAccountStatus(ctx context.Context, organizationID uuid.UUID, status string, ttl time.Duration) error
	InvalidateAccountStatus(ctx context.Context, organizationID uuid.UUID) error
}

// AccountVerifier confirms an organization can still receive destination charges.
type AccountVerifier interface {
	// VerifyPayoutAccount returns the connected account id to route funds to.
	VerifyPayoutAccount(ctx context.Context, organizationID uuid.UUID) (string, error)
	// RecordAccountStatus refreshes the cached status from a processor account update.
	// It reports false when no organization owns accountID.
	RecordAccountStatus(ctx context.Context, accountID string, chargesEnabled bool) (bool, error)
}

type VerifierParams struct {
	Repo      Repository
	Processor processor.Client
	Cache     statusCache
	Logger    *logger.Logger
	TTL       time.Duration
}

type verifier struct {
	repo      Repository
	processor processor.Client
	cache     statusCache
	logg      *logger.Logger
	ttl       time.Duration
}

// NewAccountVerifier wires the verifier. Cache is optional.
func NewAccountVerifier(params VerifierParams) (AccountVerifier, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("organization repository required")
	}
	if params.Processor == nil {
		return nil, fmt.Errorf("processor client required")
	}
	if params.Logger == nil {
		params.Logger = logger.Nop()
	}
	if params.TTL <= 0 {
		params.TTL = defaultStatusTTL
	}
	return &verifier{
		repo:      params.Repo,
		processor: params.Processor,
		cache:     params.Cache,
		logg:      params.Logger,
		ttl:       params.TTL,
	}, nil
}

func (v *verifier) VerifyPayoutAccount(ctx context.Context, organizationID uuid.UUID) (string, error) {
	org, err := v.repo.FindByID(ctx, organizationID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", pkgerrors.New(pkgerrors.CodeNotFound, "organization not found")
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organization")
	}
	if !org.IsActive || org.ProcessorAccountID == nil || *org.ProcessorAccountID == "" {
		return "", ErrAccountInactive
	}
	accountID := *org.ProcessorAccountID

	if v.cache != nil {
		cached, found, err := v.cache.AccountStatus(ctx, organizationID)
		switch {
		case err != nil:
			v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "account status cache read failed")
		case found && cached == statusEnabled:
			return accountID, nil
		case found && cached == statusDisabled:
			return "", ErrAccountInactive
		}
	}

	account, err := v.processor.GetAccount(ctx, accountID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "retrieve payout account")
	}
	status := v.remember(ctx, organizationID, account.ChargesEnabled)
	if status == statusDisabled {
		return "", ErrAccountInactive
	}
	return accountID, nil
}

func (v *verifier) RecordAccountStatus(ctx context.Context, accountID string, chargesEnabled bool) (bool, error) {
	org, err := v.repo.FindByProcessorAccountID(ctx, accountID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load organization by account")
	}
	ctx = v.logg.WithFields(ctx, map[string]any{"organization_id": org.ID.String(), "charges_enabled": chargesEnabled})
	v.remember(ctx, org.ID, chargesEnabled)
	v.logg.Info(ctx, "payout account status recorded")
	return true, nil
}

func (v *verifier) remember(ctx context.Context, organizationID uuid.UUID, chargesEnabled bool) string {
	status := statusDisabled
	if chargesEnabled {
		status = statusEnabled
	}
	if v.cache == nil {
		return status
	}
	if err := v.cache.SetAccountStatus(ctx, organizationID, status, v.ttl); err != nil {
		v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "account status cache write failed")
		// A stale "enabled" entry must not outlive a failed overwrite.
		if err := v.cache.InvalidateAccountStatus(ctx, organizationID); err != nil {
			v.logg.Warn(v.logg.WithField(ctx, "error", err.Error()), "account status cache invalidation failed")
		}
	}
	return status
}
