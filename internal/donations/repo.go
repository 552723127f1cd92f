package donations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// Repository persists donation rows. Every status mutation is a single
// conditional UPDATE; callers inspect the returned row to learn whether it applied.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, donation *models.Donation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error)
	FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Donation, error)
	FindByChargeID(ctx context.Context, chargeID string) (*models.Donation, error)
	UpdateByIntent(ctx context.Context, paymentIntentID string, from []enums.DonationStatus, updates map[string]any) (*models.Donation, error)
	UpdateByID(ctx context.Context, id uuid.UUID, paymentIntentID string, from []enums.DonationStatus, updates map[string]any) (*models.Donation, error)
	FindInFlightBySchedule(ctx context.Context, scheduledDonationID uuid.UUID) (*models.Donation, error)
	ListCompletedWithoutReceipt(ctx context.Context, completedBefore time.Time, limit int) ([]models.Donation, error)
	MarkReceiptIssued(ctx context.Context, id, receiptID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a donation repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Create(ctx context.Context, donation *models.Donation) error {
	if donation.ID == uuid.Nil {
		donation.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(donation).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&donation).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

func (r *repository) FindByPaymentIntentID(ctx context.Context, paymentIntentID string) (*models.Donation, error) {
	var donation models.Donation
	if err := r.db.WithContext(ctx).Where("payment_intent_id = ?", paymentIntentID).First(&donation).Error; err != nil {
		return nil, err
	}
	return &donation, nil
}

// FindByChargeID returns the donation settled by chargeID, or nil when none is.
func (r *repository) FindByChargeID(ctx context.Context, chargeID string) (*models.Donation, error) {
	var rows []models.Donation
	if err := r.db.WithContext(ctx).Where("charge_id = ?", chargeID).Limit(1).Find(&rows).Error; err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// UpdateByIntent applies updates to the row holding paymentIntentID when its
// status is one of from. It returns nil when nothing matched.
func (r *repository) UpdateByIntent(ctx context.Context, paymentIntentID string, from []enums.DonationStatus, updates map[string]any) (*models.Donation, error) {
	res := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("payment_intent_id = ? AND status IN ?", paymentIntentID, from).
		Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByPaymentIntentID(ctx, paymentIntentID)
}

// UpdateByID is the correlation-id fallback. When paymentIntentID is set it is
// backfilled, but only onto a row that has no intent yet or already holds the same one.
func (r *repository) UpdateByID(ctx context.Context, id uuid.UUID, paymentIntentID string, from []enums.DonationStatus, updates map[string]any) (*models.Donation, error) {
	query := r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ? AND status IN ?", id, from)

	if paymentIntentID != "" {
		query = query.Where("(payment_intent_id IS NULL OR payment_intent_id = ?)", paymentIntentID)
		merged := make(map[string]any, len(updates)+1)
		for k, v := range updates {
			merged[k] = v
		}
		merged["payment_intent_id"] = paymentIntentID
		updates = merged
	}

	res := query.Updates(updates)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, nil
	}
	return r.FindByID(ctx, id)
}

// FindInFlightBySchedule returns the newest pending or processing donation
// created for a recurring template, or nil when there is none.
func (r *repository) FindInFlightBySchedule(ctx context.Context, scheduledDonationID uuid.UUID) (*models.Donation, error) {
	var rows []models.Donation
	err := r.db.WithContext(ctx).
		Where("scheduled_donation_id = ? AND status IN ?", scheduledDonationID, enums.InFlightDonationStatuses).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

func (r *repository) ListCompletedWithoutReceipt(ctx context.Context, completedBefore time.Time, limit int) ([]models.Donation, error) {
	var rows []models.Donation
	query := r.db.WithContext(ctx).
		Where("status = ? AND receipt_generated = ? AND completed_at <= ?", enums.DonationStatusCompleted, false, completedBefore).
		Order("completed_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) MarkReceiptIssued(ctx context.Context, id, receiptID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.Donation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"receipt_generated": true,
			"receipt_id":        receiptID,
		}).Error
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
