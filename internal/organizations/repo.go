package organizations

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
)

// Repository reads organizations.
type Repository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error)
	FindByProcessorAccountID(ctx context.Context, accountID string) (*models.Organization, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns an organization repository bound to db.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}

func (r *repository) FindByProcessorAccountID(ctx context.Context, accountID string) (*models.Organization, error) {
	var org models.Organization
	if err := r.db.WithContext(ctx).Where("processor_account_id = ?", accountID).First(&org).Error; err != nil {
		return nil, err
	}
	return &org, nil
}
