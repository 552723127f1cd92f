package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// Donation is one payment attempt and its lifecycle state.
type Donation struct {
	ID                  uuid.UUID            `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	DonorID             uuid.UUID            `gorm:"column:donor_id;type:uuid;not null"`
	OrganizationID      uuid.UUID            `gorm:"column:organization_id;type:uuid;not null"`
	CauseID             *uuid.UUID           `gorm:"column:cause_id;type:uuid"`
	Type                enums.DonationType   `gorm:"column:donation_type;type:varchar(16);not null"`
	BaseAmount          decimal.Decimal      `gorm:"column:base_amount;type:numeric(12,2);not null"`
	CoverFees           bool                 `gorm:"column:cover_fees;not null;default:false"`
	PlatformFee         decimal.Decimal      `gorm:"column:platform_fee;type:numeric(12,2);not null"`
	GSTOnFee            decimal.Decimal      `gorm:"column:gst_on_fee;type:numeric(12,2);not null"`
	ProcessorFee        decimal.Decimal      `gorm:"column:processor_fee;type:numeric(12,2);not null"`
	NetAmount           decimal.Decimal      `gorm:"column:net_amount;type:numeric(12,2);not null"`
	TotalAmount         decimal.Decimal      `gorm:"column:total_amount;type:numeric(12,2);not null"`
	Currency            string               `gorm:"column:currency;type:varchar(3);not null"`
	Status              enums.DonationStatus `gorm:"column:status;type:varchar(16);not null;default:'pending'"`
	PaymentIntentID     *string              `gorm:"column:payment_intent_id"`
	ChargeID            *string              `gorm:"column:charge_id"`
	IdempotencyKey      string               `gorm:"column:idempotency_key;not null"`
	PaymentAttempts     int                  `gorm:"column:payment_attempts;not null;default:0"`
	LastPaymentAttempt  *time.Time           `gorm:"column:last_payment_attempt"`
	FailureReason       *string              `gorm:"column:failure_reason"`
	ScheduledDonationID *uuid.UUID           `gorm:"column:scheduled_donation_id;type:uuid"`
	RoundUpConfigID     *uuid.UUID           `gorm:"column:round_up_config_id;type:uuid"`
	ReceiptGenerated    bool                 `gorm:"column:receipt_generated;not null;default:false"`
	ReceiptID           *uuid.UUID           `gorm:"column:receipt_id;type:uuid"`
	RefundReason        *string              `gorm:"column:refund_reason"`
	CompletedAt         *time.Time           `gorm:"column:completed_at"`
	CreatedAt           time.Time            `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time            `gorm:"column:updated_at;autoUpdateTime"`
}

func (Donation) TableName() string { return "donations" }
