package processor

import (
	"context"
	"errors"
	"strings"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/account"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/paymentmethod"
	"github.com/stripe/stripe-go/v84/refund"

	pkgstripe "github.com/mostafizurRahaman/donation-app-server/pkg/stripe"
)

const defaultRefundReason = "requested_by_customer"

var errStripeClientRequired = errors.New("stripe client is required")

type stripeClient struct {
	currency string
}

// NewStripeClient adapts the configured Stripe client to the processor surface.
func NewStripeClient(api *pkgstripe.Client) (Client, error) {
	if api == nil {
		return nil, errStripeClientRequired
	}
	return &stripeClient{currency: api.Currency()}, nil
}

func (c *stripeClient) CreatePaymentIntent(ctx context.Context, req ChargeRequest) (*PaymentIntent, error) {
	if req.Currency == "" {
		req.Currency = c.currency
	}
	params := paymentIntentParams(req)
	params.Context = ctx
	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, Classify(err)
	}
	return fromStripeIntent(pi), nil
}

func (c *stripeClient) RetrievePaymentIntent(ctx context.Context, id string) (*PaymentIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := paymentintent.Get(id, params)
	if err != nil {
		return nil, Classify(err)
	}
	return fromStripeIntent(pi), nil
}

func (c *stripeClient) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := refundParams(req)
	params.Context = ctx
	r, err := refund.New(params)
	if err != nil {
		return nil, Classify(err)
	}
	return &Refund{ID: r.ID, Status: string(r.Status)}, nil
}

func (c *stripeClient) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := &stripe.PaymentMethodAttachParams{Customer: stripe.String(customerID)}
	params.Context = ctx
	if _, err := paymentmethod.Attach(paymentMethodID, params); err != nil {
		return Classify(err)
	}
	return nil
}

func (c *stripeClient) GetAccount(ctx context.Context, accountID string) (*Account, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx
	acct, err := account.GetByID(accountID, params)
	if err != nil {
		return nil, Classify(err)
	}
	return &Account{ID: acct.ID, ChargesEnabled: acct.ChargesEnabled, PayoutsEnabled: acct.PayoutsEnabled}, nil
}

func paymentIntentParams(req ChargeRequest) *stripe.PaymentIntentParams {
	params := &stripe.PaymentIntentParams{
		Amount:        stripe.Int64(req.AmountCents),
		Currency:      stripe.String(strings.ToLower(req.Currency)),
		Customer:      stripe.String(req.CustomerID),
		PaymentMethod: stripe.String(req.PaymentMethodID),
		Confirm:       stripe.Bool(true),
		OffSession:    stripe.Bool(true),
	}
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.DestinationAccountID != "" {
		params.TransferData = &stripe.PaymentIntentTransferDataParams{
			Destination: stripe.String(req.DestinationAccountID),
		}
		if req.ApplicationFeeCents > 0 {
			params.ApplicationFeeAmount = stripe.Int64(req.ApplicationFeeCents)
		}
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func refundParams(req RefundRequest) *stripe.RefundParams {
	reason := req.Reason
	if reason == "" {
		reason = defaultRefundReason
	}
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.PaymentIntentID),
		Reason:        stripe.String(reason),
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	return params
}

func fromStripeIntent(pi *stripe.PaymentIntent) *PaymentIntent {
	if pi == nil {
		return nil
	}
	out := &PaymentIntent{
		ID:       pi.ID,
		Status:   IntentStatus(pi.Status),
		Metadata: pi.Metadata,
	}
	if pi.LatestCharge != nil {
		out.LatestChargeID = pi.LatestCharge.ID
	}
	if pi.LastPaymentError != nil {
		out.FailureMessage = pi.LastPaymentError.Msg
	}
	return out
}

// FromStripe converts a webhook-delivered payment intent.
func FromStripe(pi *stripe.PaymentIntent) *PaymentIntent {
	return fromStripeIntent(pi)
}
