package scheduled

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// Repository persists recurring templates. ExecutionStatus is the
// cross-instance lock; every lock change is one conditional UPDATE.
type Repository interface {
	Create(ctx context.Context, tmpl *models.ScheduledDonation) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduledDonation, error)
	ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledDonation, error)
	ListStaleLocks(ctx context.Context, lockedBefore time.Time, limit int) ([]models.ScheduledDonation, error)
	Acquire(ctx context.Context, id, donationID uuid.UUID, now time.Time) (bool, error)
	UpdateLocked(ctx context.Context, id, donationID uuid.UUID, updates map[string]any) (bool, error)
	SetExecutionStatus(ctx context.Context, id uuid.UUID, from, to enums.ExecutionStatus) (bool, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a template repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) Create(ctx context.Context, tmpl *models.ScheduledDonation) error {
	if tmpl.ID == uuid.Nil {
		tmpl.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(tmpl).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.ScheduledDonation, error) {
	var tmpl models.ScheduledDonation
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&tmpl).Error; err != nil {
		return nil, err
	}
	return &tmpl, nil
}

// ListDue returns active, unlocked templates whose next run has passed.
func (r *repository) ListDue(ctx context.Context, now time.Time, limit int) ([]models.ScheduledDonation, error) {
	var rows []models.ScheduledDonation
	query := r.db.WithContext(ctx).
		Where("is_active = ? AND execution_status = ? AND next_run_at <= ?", true, enums.ExecutionStatusActive, now).
		Order("next_run_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repository) ListStaleLocks(ctx context.Context, lockedBefore time.Time, limit int) ([]models.ScheduledDonation, error) {
	var rows []models.ScheduledDonation
	query := r.db.WithContext(ctx).
		Where("execution_status = ? AND locked_at <= ?", enums.ExecutionStatusProcessing, lockedBefore).
		Order("locked_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// Acquire moves an active, due template to processing on behalf of the
// donation donationID. It reports false when another executor holds the lock,
// the template was deactivated, or it was already rescheduled past now.
func (r *repository) Acquire(ctx context.Context, id, donationID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledDonation{}).
		Where("id = ? AND is_active = ? AND execution_status = ? AND next_run_at <= ?", id, true, enums.ExecutionStatusActive, now).
		Updates(map[string]any{
			"execution_status":    enums.ExecutionStatusProcessing,
			"locked_at":           now,
			"current_donation_id": donationID,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// UpdateLocked applies updates only while the template is processing for
// donationID. uuid.Nil matches a lock taken before runs were recorded.
func (r *repository) UpdateLocked(ctx context.Context, id, donationID uuid.UUID, updates map[string]any) (bool, error) {
	query := r.db.WithContext(ctx).
		Model(&models.ScheduledDonation{}).
		Where("id = ? AND execution_status = ?", id, enums.ExecutionStatusProcessing)
	if donationID == uuid.Nil {
		query = query.Where("current_donation_id IS NULL")
	} else {
		query = query.Where("current_donation_id = ?", donationID)
	}
	res := query.Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) SetExecutionStatus(ctx context.Context, id uuid.UUID, from, to enums.ExecutionStatus) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.ScheduledDonation{}).
		Where("id = ? AND execution_status = ?", id, from).
		Update("execution_status", to)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
