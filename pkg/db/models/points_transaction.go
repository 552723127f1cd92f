package models

import (
	"time"

	"github.com/google/uuid"
)

// PointsTransaction records loyalty points awarded for a donation.
type PointsTransaction struct {
	ID         uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID     uuid.UUID `gorm:"column:user_id;type:uuid;not null"`
	DonationID uuid.UUID `gorm:"column:donation_id;type:uuid;not null;uniqueIndex"`
	Points     int       `gorm:"column:points;not null"`
	Reason     string    `gorm:"column:reason;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PointsTransaction) TableName() string { return "points_transactions" }
