package payloads

import (
	"time"

	"github.com/google/uuid"
)

// DonationCompletedEvent is consumed by the badge engine and donor notifications.
type DonationCompletedEvent struct {
	DonationID          uuid.UUID  `json:"donation_id"`
	DonorID             uuid.UUID  `json:"donor_id"`
	OrganizationID      uuid.UUID  `json:"organization_id"`
	CauseID             *uuid.UUID `json:"cause_id,omitempty"`
	DonationType        string     `json:"donation_type"`
	BaseAmount          string     `json:"base_amount"`
	TotalAmount         string     `json:"total_amount"`
	NetAmount           string     `json:"net_amount"`
	Currency            string     `json:"currency"`
	PaymentIntentID     string     `json:"payment_intent_id"`
	ScheduledDonationID *uuid.UUID `json:"scheduled_donation_id,omitempty"`
	CompletedAt         time.Time  `json:"completed_at"`
}

// DonationFailedEvent signals a terminal charge failure.
type DonationFailedEvent struct {
	DonationID     uuid.UUID `json:"donation_id"`
	DonorID        uuid.UUID `json:"donor_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	DonationType   string    `json:"donation_type"`
	Reason         string    `json:"reason,omitempty"`
	FailedAt       time.Time `json:"failed_at"`
}

// DonationRefundedEvent is emitted once the processor confirms a refund.
type DonationRefundedEvent struct {
	DonationID     uuid.UUID `json:"donation_id"`
	DonorID        uuid.UUID `json:"donor_id"`
	OrganizationID uuid.UUID `json:"organization_id"`
	Amount         string    `json:"amount"`
	Currency       string    `json:"currency"`
	Reason         string    `json:"reason,omitempty"`
	RefundedAt     time.Time `json:"refunded_at"`
}
