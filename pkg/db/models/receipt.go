package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Receipt is the tax receipt issued once per completed donation.
type Receipt struct {
	ID             uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DonationID     uuid.UUID       `gorm:"column:donation_id;type:uuid;not null;uniqueIndex"`
	DonorID        uuid.UUID       `gorm:"column:donor_id;type:uuid;not null"`
	OrganizationID uuid.UUID       `gorm:"column:organization_id;type:uuid;not null"`
	ReceiptNumber  string          `gorm:"column:receipt_number;not null;uniqueIndex"`
	BaseAmount     decimal.Decimal `gorm:"column:base_amount;type:numeric(12,2);not null"`
	PlatformFee    decimal.Decimal `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	GSTOnFee       decimal.Decimal `gorm:"column:gst_on_fee;type:numeric(12,2);not null"`
	ProcessorFee   decimal.Decimal `gorm:"column:processor_fee;type:numeric(12,2);not null"`
	TotalAmount    decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	NetAmount      decimal.Decimal `gorm:"column:net_amount;type:numeric(12,2);not null"`
	Currency       string          `gorm:"column:currency;type:varchar(3);not null"`
	IssuedAt       time.Time       `gorm:"column:issued_at;not null"`
	CreatedAt      time.Time       `gorm:"column:created_at;autoCreateTime"`
}

func (Receipt) TableName() string { return "receipts" }
