package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"

	"github.com/mostafizurRahaman/donation-app-server/api/responses"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	pkgstripe "github.com/mostafizurRahaman/donation-app-server/pkg/stripe"
)

const maxWebhookBodyBytes = 1 << 20

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) error
}

type SigningSecretProvider interface {
	SigningSecret() string
}

// StripeWebhook verifies and applies processor events. Only an unverifiable
// request is rejected. A verified event is acknowledged with 200 even when
// applying it fails; transitions are conditional and the reconciliation
// sweeps pick up what was left behind.
func StripeWebhook(svc StripeWebhookService, secrets SigningSecretProvider, logg *logger.Logger) http.HandlerFunc {
	if logg == nil {
		logg = logger.Nop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil || secrets == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhook not configured"))
			return
		}

		event, err := verifiedEvent(r, secrets.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		ctx = logg.WithFields(ctx, map[string]any{
			"stripe_event_id":   event.ID,
			"stripe_event_type": string(event.Type),
		})
		if err := svc.HandleEvent(ctx, &event); err != nil {
			logg.Error(ctx, "stripe event not applied", err)
		} else {
			logg.Info(ctx, "stripe event processed")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}

func verifiedEvent(r *http.Request, secret string) (stripe.Event, error) {
	sigHeader := r.Header.Get(pkgstripe.SignatureHeader)
	if sigHeader == "" {
		return stripe.Event{}, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing")
	}
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body")
	}
	event, err := pkgstripe.VerifyEvent(payload, sigHeader, secret)
	if err != nil {
		return stripe.Event{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid stripe signature")
	}
	return event, nil
}
