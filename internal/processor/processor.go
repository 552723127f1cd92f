package processor

import (
	"context"
)

// MetadataDonationID is the correlation key carried on every payment intent.
const MetadataDonationID = "donationId"

// IntentStatus mirrors the processor's payment intent states the core cares about.
type IntentStatus string

const (
	IntentRequiresPaymentMethod IntentStatus = "requires_payment_method"
	IntentRequiresAction        IntentStatus = "requires_action"
	IntentProcessing            IntentStatus = "processing"
	IntentSucceeded             IntentStatus = "succeeded"
	IntentCanceled              IntentStatus = "canceled"
)

// ChargeRequest describes an off-session destination charge.
type ChargeRequest struct {
	AmountCents          int64
	ApplicationFeeCents  int64
	Currency             string
	CustomerID           string
	PaymentMethodID      string
	DestinationAccountID string
	IdempotencyKey       string
	Description          string
	Metadata             map[string]string
}

// PaymentIntent is the processor view of a charge attempt.
type PaymentIntent struct {
	ID             string
	Status         IntentStatus
	LatestChargeID string
	FailureMessage string
	Metadata       map[string]string
}

// DonationID returns the correlation id carried in metadata, if any.
func (p *PaymentIntent) DonationID() string {
	if p == nil || p.Metadata == nil {
		return ""
	}
	return p.Metadata[MetadataDonationID]
}

// RefundRequest refunds a settled payment intent in full.
type RefundRequest struct {
	PaymentIntentID string
	IdempotencyKey  string
	Reason          string
	Metadata        map[string]string
}

// Refund is the processor view of a refund.
type Refund struct {
	ID     string
	Status string
}

// Account is the payout-account view used before charging on behalf of an organization.
type Account struct {
	ID             string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// Client is the narrow processor surface the donation core depends on.
type Client interface {
	CreatePaymentIntent(ctx context.Context, req ChargeRequest) (*PaymentIntent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error)
	CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error)
	AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error
	GetAccount(ctx context.Context, accountID string) (*Account, error)
}
