package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// RoundUpConfig holds a user's round-up preferences and running total.
type RoundUpConfig struct {
	ID                uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID            uuid.UUID                `gorm:"column:user_id;type:uuid;not null;uniqueIndex"`
	OrganizationID    uuid.UUID                `gorm:"column:organization_id;type:uuid;not null"`
	CauseID           *uuid.UUID               `gorm:"column:cause_id;type:uuid"`
	StripeCustomerID  string                   `gorm:"column:stripe_customer_id;not null"`
	PaymentMethodID   string                   `gorm:"column:payment_method_id;not null"`
	Currency          string                   `gorm:"column:currency;type:varchar(3);not null"`
	CoverFees         bool                     `gorm:"column:cover_fees;not null;default:false"`
	Threshold         *decimal.Decimal         `gorm:"column:threshold;type:numeric(12,2)"`
	AccumulatedTotal  decimal.Decimal          `gorm:"column:accumulated_total;type:numeric(12,2);not null;default:0"`
	BatchStatus       enums.RoundUpBatchStatus `gorm:"column:batch_status;type:varchar(16);not null;default:'idle'"`
	CurrentDonationID *uuid.UUID               `gorm:"column:current_donation_id;type:uuid"`
	BatchClaimedAt    *time.Time               `gorm:"column:batch_claimed_at"`
	LastDonationAt    *time.Time               `gorm:"column:last_donation_at"`
	LastFailureReason *string                  `gorm:"column:last_failure_reason"`
	LastFailedAt      *time.Time               `gorm:"column:last_failed_at"`
	IsActive          bool                     `gorm:"column:is_active;not null;default:true"`
	CreatedAt         time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}

func (RoundUpConfig) TableName() string { return "round_up_configs" }

// RoundUpTransaction is one spare-change amount. DonationID is the batch key:
// it is set in the same statement that moves the row to processed.
type RoundUpTransaction struct {
	ID          uuid.UUID                      `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ConfigID    uuid.UUID                      `gorm:"column:config_id;type:uuid;not null"`
	UserID      uuid.UUID                      `gorm:"column:user_id;type:uuid;not null"`
	SourceRef   string                         `gorm:"column:source_ref;not null"`
	Amount      decimal.Decimal                `gorm:"column:amount;type:numeric(12,2);not null"`
	Status      enums.RoundUpTransactionStatus `gorm:"column:status;type:varchar(16);not null;default:'accumulated'"`
	DonationID  *uuid.UUID                     `gorm:"column:donation_id;type:uuid"`
	ChargeID    *string                        `gorm:"column:charge_id"`
	ProcessedAt *time.Time                     `gorm:"column:processed_at"`
	DonatedAt   *time.Time                     `gorm:"column:donated_at"`
	CreatedAt   time.Time                      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time                      `gorm:"column:updated_at;autoUpdateTime"`
}

func (RoundUpTransaction) TableName() string { return "round_up_transactions" }
