package rewards

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

const donationReason = "donation"

// PointsService awards loyalty points once per donation.
type PointsService interface {
	Award(ctx context.Context, donorID, donationID uuid.UUID, baseAmount decimal.Decimal) (*models.PointsTransaction, error)
}

type pointsService struct {
	db            *gorm.DB
	pointsPerUnit decimal.Decimal
}

// NewPointsService awards pointsPerUnit points per whole currency unit donated.
func NewPointsService(db *gorm.DB, pointsPerUnit int) (PointsService, error) {
	if db == nil {
		return nil, fmt.Errorf("points database required")
	}
	if pointsPerUnit <= 0 {
		return nil, fmt.Errorf("points per unit must be positive")
	}
	return &pointsService{db: db, pointsPerUnit: decimal.NewFromInt(int64(pointsPerUnit))}, nil
}

// PointsFor converts a base amount into points, dropping fractions of a point.
func (s *pointsService) PointsFor(baseAmount decimal.Decimal) int {
	return int(baseAmount.Mul(s.pointsPerUnit).Floor().IntPart())
}

func (s *pointsService) Award(ctx context.Context, donorID, donationID uuid.UUID, baseAmount decimal.Decimal) (*models.PointsTransaction, error) {
	if donorID == uuid.Nil || donationID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donor and donation required")
	}
	points := s.PointsFor(baseAmount)
	if points <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "donation too small to earn points")
	}

	txn := &models.PointsTransaction{
		ID:         uuid.New(),
		UserID:     donorID,
		DonationID: donationID,
		Points:     points,
		Reason:     donationReason,
	}
	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "donation_id"}}, DoNothing: true}).
		Create(txn)
	if res.Error != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "award points")
	}
	if res.RowsAffected > 0 {
		return txn, nil
	}

	var existing models.PointsTransaction
	if err := s.db.WithContext(ctx).Where("donation_id = ?", donationID).First(&existing).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeInternal, "points conflict without existing row")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load awarded points")
	}
	return &existing, nil
}
