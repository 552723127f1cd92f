package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// LedgerEntry is an append-only money movement on an organization's balance.
type LedgerEntry struct {
	ID             uuid.UUID             `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrganizationID uuid.UUID             `gorm:"column:organization_id;type:uuid;not null"`
	DonationID     uuid.UUID             `gorm:"column:donation_id;type:uuid;not null"`
	Type           enums.LedgerEntryType `gorm:"column:type;type:varchar(16);not null"`
	Amount         decimal.Decimal       `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency       string                `gorm:"column:currency;type:varchar(3);not null"`
	Reason         *string               `gorm:"column:reason"`
	CreatedAt      time.Time             `gorm:"column:created_at;autoCreateTime"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }
