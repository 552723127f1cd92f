package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// Repository manages persistence for ledger entries.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	// Insert appends entry unless one of the same type already exists for the
	// donation; it reports whether a row was written.
	Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error)
	FindByDonation(ctx context.Context, donationID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error)
	ListByDonationID(ctx context.Context, donationID uuid.UUID) ([]models.LedgerEntry, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) Insert(ctx context.Context, entry *models.LedgerEntry) (bool, error) {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "donation_id"}, {Name: "type"}},
			DoNothing: true,
		}).
		Create(entry)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repository) FindByDonation(ctx context.Context, donationID uuid.UUID, entryType enums.LedgerEntryType) (*models.LedgerEntry, error) {
	var entry models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("donation_id = ? AND type = ?", donationID, entryType).
		First(&entry).Error; err != nil {
		return nil, err
	}
	return &entry, nil
}

func (r *repository) ListByDonationID(ctx context.Context, donationID uuid.UUID) ([]models.LedgerEntry, error) {
	var entries []models.LedgerEntry
	if err := r.db.WithContext(ctx).
		Where("donation_id = ?", donationID).
		Order("created_at ASC").
		Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}
