package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// ScheduledDonation is a recurring donation template. ExecutionStatus doubles
// as the cross-instance execution lock; CurrentDonationID names the run that
// holds it.
type ScheduledDonation struct {
	ID                  uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	UserID              uuid.UUID             `gorm:"column:user_id;type:uuid;not null"`
	OrganizationID      uuid.UUID             `gorm:"column:organization_id;type:uuid;not null"`
	CauseID             *uuid.UUID            `gorm:"column:cause_id;type:uuid"`
	Amount              decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	CoverFees           bool                  `gorm:"column:cover_fees;not null;default:false"`
	Currency            string                `gorm:"column:currency;type:varchar(3);not null"`
	Frequency           enums.Frequency       `gorm:"column:frequency;type:varchar(16);not null"`
	CustomIntervalValue *int                  `gorm:"column:custom_interval_value"`
	CustomIntervalUnit  *enums.IntervalUnit   `gorm:"column:custom_interval_unit;type:varchar(8)"`
	StripeCustomerID    string                `gorm:"column:stripe_customer_id;not null"`
	PaymentMethodID     string                `gorm:"column:payment_method_id;not null"`
	StartDate           time.Time             `gorm:"column:start_date;not null"`
	EndDate             *time.Time            `gorm:"column:end_date"`
	NextRunAt           time.Time             `gorm:"column:next_run_at;not null"`
	LastExecutedAt      *time.Time            `gorm:"column:last_executed_at"`
	TotalExecutions     int                   `gorm:"column:total_executions;not null;default:0"`
	IsActive            bool                  `gorm:"column:is_active;not null;default:true"`
	ExecutionStatus     enums.ExecutionStatus `gorm:"column:execution_status;type:varchar(16);not null;default:'active'"`
	LockedAt            *time.Time            `gorm:"column:locked_at"`
	LastFailureReason   *string               `gorm:"column:last_failure_reason"`
	ConsecutiveFailures int                   `gorm:"column:consecutive_failures;not null;default:0"`
	CurrentDonationID   *uuid.UUID            `gorm:"column:current_donation_id;type:uuid"`
	CreatedAt           time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt           time.Time             `gorm:"column:updated_at;autoUpdateTime"`
}

func (ScheduledDonation) TableName() string { return "scheduled_donations" }
