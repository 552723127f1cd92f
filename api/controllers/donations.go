package controllers

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mostafizurRahaman/donation-app-server/api/responses"
	"github.com/mostafizurRahaman/donation-app-server/api/validators"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

type DonationRefunder interface {
	RequestRefund(ctx context.Context, id uuid.UUID, reason string) (*models.Donation, error)
}

type refundRequest struct {
	Reason string `json:"reason" validate:"max=256"`
}

// DonationView is the public shape of a donation.
type DonationView struct {
	ID              uuid.UUID  `json:"id"`
	Status          string     `json:"status"`
	Type            string     `json:"donationType"`
	BaseAmount      string     `json:"baseAmount"`
	TotalAmount     string     `json:"totalAmount"`
	NetAmount       string     `json:"netAmount"`
	Currency        string     `json:"currency"`
	PaymentIntentID *string    `json:"paymentIntentId,omitempty"`
	RefundReason    *string    `json:"refundReason,omitempty"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
}

func toDonationView(d *models.Donation) DonationView {
	return DonationView{
		ID:              d.ID,
		Status:          string(d.Status),
		Type:            string(d.Type),
		BaseAmount:      d.BaseAmount.StringFixed(2),
		TotalAmount:     d.TotalAmount.StringFixed(2),
		NetAmount:       d.NetAmount.StringFixed(2),
		Currency:        d.Currency,
		PaymentIntentID: d.PaymentIntentID,
		RefundReason:    d.RefundReason,
		CompletedAt:     d.CompletedAt,
	}
}

// DonationRefund starts a full refund. The donation reaches refunded once the
// processor confirms it, so the response is 202.
func DonationRefund(svc DonationRefunder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "donation service unavailable"))
			return
		}
		id, err := pathUUID(r, "donationId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		var req refundRequest
		if r.ContentLength != 0 {
			if err := validators.DecodeJSONBody(r, &req); err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
		}
		if logg != nil {
			ctx = logg.WithDonationID(ctx, id.String())
		}
		donation, err := svc.RequestRefund(ctx, id, strings.TrimSpace(req.Reason))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteAccepted(w, toDonationView(donation))
	}
}

func pathUUID(r *http.Request, param string) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, param))
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid "+param).WithDetails(map[string]any{"field": param})
	}
	return id, nil
}
