package roundup

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// DueQuery selects configurations whose batch trigger fired.
type DueQuery struct {
	DefaultThreshold decimal.Decimal
	CadenceBefore    time.Time
	Limit            int
}

// Repository persists round-up configurations and transactions. The batch
// lock lives on the configuration (batch_status + current_donation_id); the
// batch membership lives on the transactions (donation_id).
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateConfig(ctx context.Context, cfg *models.RoundUpConfig) error
	FindConfigByID(ctx context.Context, id uuid.UUID) (*models.RoundUpConfig, error)
	FindConfigByUserID(ctx context.Context, userID uuid.UUID) (*models.RoundUpConfig, error)
	ListDueConfigs(ctx context.Context, query DueQuery) ([]models.RoundUpConfig, error)
	ListStaleBatches(ctx context.Context, claimedBefore time.Time, limit int) ([]models.RoundUpConfig, error)
	InsertTransaction(ctx context.Context, txn *models.RoundUpTransaction) (bool, error)
	AddToTotal(ctx context.Context, configID uuid.UUID, delta decimal.Decimal) error
	ClaimBatch(ctx context.Context, configID, donationID uuid.UUID, now time.Time) (bool, error)
	AssignBatch(ctx context.Context, configID, donationID uuid.UUID, now time.Time) (int64, error)
	BatchAmounts(ctx context.Context, donationID uuid.UUID, status enums.RoundUpTransactionStatus) ([]decimal.Decimal, error)
	SettleTransactions(ctx context.Context, donationID uuid.UUID, chargeID string, now time.Time) (int64, error)
	CompleteBatch(ctx context.Context, donationID uuid.UUID, now time.Time) (bool, error)
	RevertTransactions(ctx context.Context, donationID uuid.UUID) (int64, error)
	FailBatch(ctx context.Context, donationID uuid.UUID, restore decimal.Decimal, reason string, now time.Time) (bool, error)
	ListByDonation(ctx context.Context, donationID uuid.UUID) ([]models.RoundUpTransaction, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a round-up repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateConfig(ctx context.Context, cfg *models.RoundUpConfig) error {
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}
	return r.db.WithContext(ctx).Create(cfg).Error
}

func (r *repository) FindConfigByID(ctx context.Context, id uuid.UUID) (*models.RoundUpConfig, error) {
	var cfg models.RoundUpConfig
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (r *repository) FindConfigByUserID(ctx context.Context, userID uuid.UUID) (*models.RoundUpConfig, error) {
	var cfg models.RoundUpConfig
	if err := r.db.WithContext(ctx).Where("user_id = ?", userID).First(&cfg).Error; err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ListDueConfigs returns idle or retryable configurations holding a positive
// total that reached their threshold or have not donated within the cadence.
func (r *repository) ListDueConfigs(ctx context.Context, query DueQuery) ([]models.RoundUpConfig, error) {
	var rows []models.RoundUpConfig
	q := r.db.WithContext(ctx).
		Where("is_active = ? AND batch_status IN ? AND accumulated_total > 0", true, enums.RetryableRoundUpBatchStatuses).
		Where("(accumulated_total >= COALESCE(threshold, ?) OR COALESCE(last_donation_at, created_at) <= ?)", query.DefaultThreshold, query.CadenceBefore).
		Order("updated_at ASC")
	if query.Limit > 0 {
		q = q.Limit(query.Limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListStaleBatches returns configurations whose batch has been processing
// since before claimedBefore.
func (r *repository) ListStaleBatches(ctx context.Context, claimedBefore time.Time, limit int) ([]models.RoundUpConfig, error) {
	var rows []models.RoundUpConfig
	q := r.db.WithContext(ctx).
		Where("batch_status = ?", enums.RoundUpBatchProcessing).
		Where("(batch_claimed_at <= ? OR (batch_claimed_at IS NULL AND updated_at <= ?))", claimedBefore, claimedBefore).
		Order("batch_claimed_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// InsertTransaction ignores a replayed (user_id, source_ref) pair and reports
// whether a row was written.
func (r *repository) InsertTransaction(ctx context.Context, txn *models.RoundUpTransaction) (bool, error) {
	if txn.ID == uuid.Nil {
		txn.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}, {Name: "source_ref"}},
			DoNothing: true,
		}).
		Create(txn)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) AddToTotal(ctx context.Context, configID uuid.UUID, delta decimal.Decimal) error {
	return r.db.WithContext(ctx).
		Model(&models.RoundUpConfig{}).
		Where("id = ?", configID).
		Update("accumulated_total", gorm.Expr("ROUND(accumulated_total + ?, 2)", delta)).Error
}

// ClaimBatch takes the batch lock for donationID.
func (r *repository) ClaimBatch(ctx context.Context, configID, donationID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RoundUpConfig{}).
		Where("id = ? AND is_active = ? AND batch_status IN ?", configID, true, enums.RetryableRoundUpBatchStatuses).
		Updates(map[string]any{
			"batch_status":        enums.RoundUpBatchProcessing,
			"current_donation_id": donationID,
			"batch_claimed_at":    now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AssignBatch moves every accumulated transaction of the configuration into
// the batch, stamping donation_id in the same statement.
func (r *repository) AssignBatch(ctx context.Context, configID, donationID uuid.UUID, now time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RoundUpTransaction{}).
		Where("config_id = ? AND status = ? AND donation_id IS NULL", configID, enums.RoundUpAccumulated).
		Updates(map[string]any{
			"status":       enums.RoundUpProcessed,
			"donation_id":  donationID,
			"processed_at": now,
		})
	return res.RowsAffected, res.Error
}

func (r *repository) BatchAmounts(ctx context.Context, donationID uuid.UUID, status enums.RoundUpTransactionStatus) ([]decimal.Decimal, error) {
	var amounts []decimal.Decimal
	err := r.db.WithContext(ctx).
		Model(&models.RoundUpTransaction{}).
		Where("donation_id = ? AND status = ?", donationID, status).
		Pluck("amount", &amounts).Error
	return amounts, err
}

func (r *repository) SettleTransactions(ctx context.Context, donationID uuid.UUID, chargeID string, now time.Time) (int64, error) {
	updates := map[string]any{
		"status":     enums.RoundUpDonated,
		"donated_at": now,
	}
	if chargeID != "" {
		updates["charge_id"] = chargeID
	}
	res := r.db.WithContext(ctx).
		Model(&models.RoundUpTransaction{}).
		Where("donation_id = ? AND status = ?", donationID, enums.RoundUpProcessed).
		Updates(updates)
	return res.RowsAffected, res.Error
}

// CompleteBatch releases the batch lock held for donationID.
func (r *repository) CompleteBatch(ctx context.Context, donationID uuid.UUID, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RoundUpConfig{}).
		Where("current_donation_id = ? AND batch_status = ?", donationID, enums.RoundUpBatchProcessing).
		Updates(map[string]any{
			"batch_status":        enums.RoundUpBatchIdle,
			"current_donation_id": nil,
			"batch_claimed_at":    nil,
			"last_donation_at":    now,
			"last_failure_reason": nil,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) RevertTransactions(ctx context.Context, donationID uuid.UUID) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RoundUpTransaction{}).
		Where("donation_id = ? AND status = ?", donationID, enums.RoundUpProcessed).
		Updates(map[string]any{
			"status":       enums.RoundUpAccumulated,
			"donation_id":  nil,
			"processed_at": nil,
		})
	return res.RowsAffected, res.Error
}

// FailBatch releases the batch lock held for donationID into the retryable
// failed state and adds restore back onto the accumulated total.
func (r *repository) FailBatch(ctx context.Context, donationID uuid.UUID, restore decimal.Decimal, reason string, now time.Time) (bool, error) {
	res := r.db.WithContext(ctx).
		Model(&models.RoundUpConfig{}).
		Where("current_donation_id = ? AND batch_status = ?", donationID, enums.RoundUpBatchProcessing).
		Updates(map[string]any{
			"batch_status":        enums.RoundUpBatchFailed,
			"current_donation_id": nil,
			"batch_claimed_at":    nil,
			"accumulated_total":   gorm.Expr("ROUND(accumulated_total + ?, 2)", restore),
			"last_failure_reason": reason,
			"last_failed_at":      now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) ListByDonation(ctx context.Context, donationID uuid.UUID) ([]models.RoundUpTransaction, error) {
	var rows []models.RoundUpTransaction
	err := r.db.WithContext(ctx).
		Where("donation_id = ?", donationID).
		Order("created_at ASC").
		Find(&rows).Error
	return rows, err
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}
