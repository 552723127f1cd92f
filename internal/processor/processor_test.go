package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"
)

func TestClassifyStripeErrors(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		retryable bool
	}{
		{"api error", &stripe.Error{Type: stripe.ErrorTypeAPI, Msg: "upstream"}, true},
		{"rate limited", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusTooManyRequests}, true},
		{"server error", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadGateway}, true},
		{"soft decline", &stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "try_again_later"}, true},
		{"hard decline", &stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "stolen_card"}, false},
		{"insufficient funds", &stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "insufficient_funds"}, false},
		{"invalid request", &stripe.Error{Type: stripe.ErrorTypeInvalidRequest, HTTPStatusCode: http.StatusBadRequest}, false},
		{"network", errors.New("connection reset by peer"), true},
		{"canceled", context.Canceled, true},
		{"wrapped canceled", fmt.Errorf("charge: %w", context.DeadlineExceeded), true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.retryable, IsRetryable(tc.err))
		})
	}
}

func TestIsIndeterminate(t *testing.T) {
	assert.True(t, IsIndeterminate(context.Canceled))
	assert.True(t, IsIndeterminate(Classify(fmt.Errorf("charge: %w", context.DeadlineExceeded))))
	assert.False(t, IsIndeterminate(errors.New("connection reset by peer")))
	assert.False(t, IsIndeterminate(&stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "stolen_card"}))
}

func TestClassifyKeepsExistingClassification(t *testing.T) {
	orig := &Error{Retryable: true, Code: "x", Message: "y"}
	require.Same(t, orig, Classify(orig))
	require.Nil(t, Classify(nil))
	require.False(t, IsRetryable(nil))
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := &stripe.Error{Type: stripe.ErrorTypeCard, DeclineCode: "expired_card", Msg: "expired"}
	err := Classify(cause)

	var stripeErr *stripe.Error
	require.True(t, errors.As(err, &stripeErr))
	require.Contains(t, err.Error(), "terminal")
	require.Contains(t, err.Error(), "expired_card")
}

func TestPaymentIntentParams(t *testing.T) {
	params := paymentIntentParams(ChargeRequest{
		AmountCents:          10000,
		ApplicationFeeCents:  550,
		Currency:             "AUD",
		CustomerID:           "cus_1",
		PaymentMethodID:      "pm_1",
		DestinationAccountID: "acct_1",
		IdempotencyKey:       "sched-abc",
		Metadata:             map[string]string{MetadataDonationID: "don-1"},
	})

	require.Equal(t, int64(10000), *params.Amount)
	require.Equal(t, "aud", *params.Currency)
	require.True(t, *params.Confirm)
	require.True(t, *params.OffSession)
	require.Equal(t, "acct_1", *params.TransferData.Destination)
	require.Equal(t, int64(550), *params.ApplicationFeeAmount)
	require.Equal(t, "sched-abc", *params.IdempotencyKey)
	require.Equal(t, "don-1", params.Metadata[MetadataDonationID])
}

func TestPaymentIntentParamsWithoutDestination(t *testing.T) {
	params := paymentIntentParams(ChargeRequest{AmountCents: 500, Currency: "aud", ApplicationFeeCents: 50})
	require.Nil(t, params.TransferData)
	require.Nil(t, params.ApplicationFeeAmount)
	require.Nil(t, params.IdempotencyKey)
}

func TestRefundParamsDefaultsReason(t *testing.T) {
	params := refundParams(RefundRequest{PaymentIntentID: "pi_1", IdempotencyKey: "refund-1"})
	require.Equal(t, "pi_1", *params.PaymentIntent)
	require.Equal(t, defaultRefundReason, *params.Reason)
	require.Equal(t, "refund-1", *params.IdempotencyKey)
}

func TestFromStripeIntent(t *testing.T) {
	pi := FromStripe(&stripe.PaymentIntent{
		ID:               "pi_1",
		Status:           stripe.PaymentIntentStatusSucceeded,
		LatestCharge:     &stripe.Charge{ID: "ch_1"},
		Metadata:         map[string]string{MetadataDonationID: "don-1"},
		LastPaymentError: &stripe.Error{Msg: "declined"},
	})
	require.Equal(t, IntentSucceeded, pi.Status)
	require.Equal(t, "ch_1", pi.LatestChargeID)
	require.Equal(t, "don-1", pi.DonationID())
	require.Equal(t, "declined", pi.FailureMessage)
	require.Nil(t, FromStripe(nil))
}

func TestMemoryScriptedFailures(t *testing.T) {
	mem := NewMemory()
	mem.CreateErrs = []error{&stripe.Error{Type: stripe.ErrorTypeAPI}}

	_, err := mem.CreatePaymentIntent(context.Background(), ChargeRequest{AmountCents: 100})
	require.Error(t, err)
	require.True(t, IsRetryable(err))

	pi, err := mem.CreatePaymentIntent(context.Background(), ChargeRequest{AmountCents: 100, Metadata: map[string]string{MetadataDonationID: "d"}})
	require.NoError(t, err)
	require.Equal(t, IntentSucceeded, pi.Status)
	require.Equal(t, "d", pi.DonationID())
	require.Equal(t, 2, mem.ChargeCount())

	got, err := mem.RetrievePaymentIntent(context.Background(), pi.ID)
	require.NoError(t, err)
	require.Equal(t, pi.ID, got.ID)

	_, err = mem.GetAccount(context.Background(), "acct_missing")
	require.Error(t, err)
	require.False(t, IsRetryable(err))
}
