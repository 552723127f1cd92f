package models

import (
	"time"

	"github.com/google/uuid"
)

// Organization is a donation recipient with a connected payout account.
type Organization struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Name               string    `gorm:"column:name;not null"`
	ProcessorAccountID *string   `gorm:"column:processor_account_id"`
	IsActive           bool      `gorm:"column:is_active;not null;default:true"`
	CreatedAt          time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (Organization) TableName() string { return "organizations" }
