package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service appends money movements to an organization's balance. Each entry
// type is written at most once per donation.
type Service interface {
	AppendCredit(ctx context.Context, input EntryInput) (*models.LedgerEntry, error)
	AppendDebit(ctx context.Context, input EntryInput) (*models.LedgerEntry, error)
	// Reverse offsets the donation's credit with an equal reversal entry.
	Reverse(ctx context.Context, donationID uuid.UUID, reason string) (*models.LedgerEntry, error)
	HasEntry(ctx context.Context, donationID uuid.UUID, entryType enums.LedgerEntryType) (bool, error)
}

// EntryInput captures the immutable data an entry requires.
type EntryInput struct {
	OrganizationID uuid.UUID
	DonationID     uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	Reason         string
}

type service struct {
	repo Repository
	tx   txRunner
}

// NewService wires a ledger service with the provided repository.
func NewService(repo Repository, tx txRunner) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{repo: repo, tx: tx}, nil
}

func (s *service) AppendCredit(ctx context.Context, input EntryInput) (*models.LedgerEntry, error) {
	return s.append(ctx, s.repo, input, enums.LedgerEntryCredit)
}

func (s *service) AppendDebit(ctx context.Context, input EntryInput) (*models.LedgerEntry, error) {
	return s.append(ctx, s.repo, input, enums.LedgerEntryDebit)
}

func (s *service) Reverse(ctx context.Context, donationID uuid.UUID, reason string) (*models.LedgerEntry, error) {
	if donationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id is required")
	}

	var reversal *models.LedgerEntry
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		credit, err := repo.FindByDonation(ctx, donationID, enums.LedgerEntryCredit)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "no credit to reverse")
			}
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger credit")
		}
		reversal, err = s.append(ctx, repo, EntryInput{
			OrganizationID: credit.OrganizationID,
			DonationID:     donationID,
			Amount:         credit.Amount,
			Currency:       credit.Currency,
			Reason:         reason,
		}, enums.LedgerEntryReversal)
		return err
	})
	if err != nil {
		return nil, err
	}
	return reversal, nil
}

func (s *service) HasEntry(ctx context.Context, donationID uuid.UUID, entryType enums.LedgerEntryType) (bool, error) {
	if donationID == uuid.Nil {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "donation id is required")
	}
	if !entryType.IsValid() {
		return false, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid ledger entry type %q", entryType))
	}
	_, err := s.repo.FindByDonation(ctx, donationID, entryType)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load ledger entry")
	}
	return true, nil
}

func (s *service) append(ctx context.Context, repo Repository, input EntryInput, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	if input.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "organization id is required")
	}
	if input.DonationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id is required")
	}
	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "ledger amount must be positive")
	}

	entry := &models.LedgerEntry{
		OrganizationID: input.OrganizationID,
		DonationID:     input.DonationID,
		Type:           entryType,
		Amount:         input.Amount.Round(2),
		Currency:       strings.ToLower(input.Currency),
	}
	if reason := strings.TrimSpace(input.Reason); reason != "" {
		entry.Reason = &reason
	}

	inserted, err := repo.Insert(ctx, entry)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append ledger entry")
	}
	if inserted {
		return entry, nil
	}
	existing, err := repo.FindByDonation(ctx, input.DonationID, entryType)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load existing ledger entry")
	}
	return existing, nil
}
