package receipts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jaevor/go-nanoid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mostafizurRahaman/donation-app-server/internal/fees"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

const receiptAlphabet = "0123456789ABCDEFGHJKLMNPQRSTUVWXYZ"

// GenerateInput is everything printed on a receipt.
type GenerateInput struct {
	DonationID     uuid.UUID
	DonorID        uuid.UUID
	OrganizationID uuid.UUID
	Fees           fees.Breakdown
	Currency       string
}

// Service issues at most one receipt per donation.
type Service interface {
	Generate(ctx context.Context, input GenerateInput) (*models.Receipt, error)
	FindByDonation(ctx context.Context, donationID uuid.UUID) (*models.Receipt, error)
}

type service struct {
	db     *gorm.DB
	number func() string
	now    func() time.Time
}

// NewService returns a receipt service persisting to db.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("receipt database required")
	}
	gen, err := nanoid.CustomASCII(receiptAlphabet, 10)
	if err != nil {
		return nil, fmt.Errorf("receipt number generator: %w", err)
	}
	return &service{db: db, number: gen, now: time.Now}, nil
}

func (s *service) Generate(ctx context.Context, input GenerateInput) (*models.Receipt, error) {
	if input.DonationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation id required")
	}
	if input.DonorID == uuid.Nil || input.OrganizationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donor and organization required")
	}

	existing, err := s.FindByDonation(ctx, input.DonationID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	issued := s.now().UTC()
	receipt := &models.Receipt{
		ID:             uuid.New(),
		DonationID:     input.DonationID,
		DonorID:        input.DonorID,
		OrganizationID: input.OrganizationID,
		ReceiptNumber:  fmt.Sprintf("RCPT-%d-%s", issued.Year(), s.number()),
		BaseAmount:     input.Fees.BaseAmount,
		PlatformFee:    input.Fees.PlatformFee,
		GSTOnFee:       input.Fees.GSTOnFee,
		ProcessorFee:   input.Fees.ProcessorFee,
		TotalAmount:    input.Fees.TotalCharge,
		NetAmount:      input.Fees.NetToOrg,
		Currency:       strings.ToLower(input.Currency),
		IssuedAt:       issued,
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "donation_id"}}, DoNothing: true}).
		Create(receipt)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "create receipt")
	}
	if res.RowsAffected == 0 {
		// Lost a race with a concurrent pipeline run.
		return s.FindByDonation(ctx, input.DonationID)
	}
	return receipt, nil
}

// FindByDonation returns nil when no receipt exists yet.
func (s *service) FindByDonation(ctx context.Context, donationID uuid.UUID) (*models.Receipt, error) {
	var receipt models.Receipt
	err := s.db.WithContext(ctx).Where("donation_id = ?", donationID).First(&receipt).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load receipt")
	}
	return &receipt, nil
}
