package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/api/responses"
	"github.com/mostafizurRahaman/donation-app-server/api/validators"
	"github.com/mostafizurRahaman/donation-app-server/internal/scheduled"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

type ScheduledDonationService interface {
	Create(ctx context.Context, input scheduled.CreateInput) (*models.ScheduledDonation, error)
	Get(ctx context.Context, id uuid.UUID) (*models.ScheduledDonation, error)
	Pause(ctx context.Context, id uuid.UUID) error
	Resume(ctx context.Context, id uuid.UUID) error
}

var errScheduledUnavailable = pkgerrors.New(pkgerrors.CodeInternal, "scheduled donation service unavailable")

type createScheduledRequest struct {
	UserID              uuid.UUID       `json:"userId" validate:"required"`
	OrganizationID      uuid.UUID       `json:"organizationId" validate:"required"`
	CauseID             *uuid.UUID      `json:"causeId"`
	Amount              decimal.Decimal `json:"amount" validate:"gt=0"`
	CoverFees           bool            `json:"coverFees"`
	Currency            string          `json:"currency" validate:"required,len=3"`
	Frequency           string          `json:"frequency" validate:"required,oneof=daily weekly fortnightly monthly quarterly yearly custom"`
	CustomIntervalValue int             `json:"customIntervalValue" validate:"gte=0,lte=365"`
	CustomIntervalUnit  string          `json:"customIntervalUnit" validate:"omitempty,oneof=days weeks months"`
	StripeCustomerID    string          `json:"stripeCustomerId" validate:"required"`
	PaymentMethodID     string          `json:"paymentMethodId" validate:"required"`
	StartDate           time.Time       `json:"startDate" validate:"required"`
	EndDate             *time.Time      `json:"endDate"`
}

type scheduledView struct {
	ID                  uuid.UUID  `json:"id"`
	Amount              string     `json:"amount"`
	Currency            string     `json:"currency"`
	Frequency           string     `json:"frequency"`
	IsActive            bool       `json:"isActive"`
	ExecutionStatus     string     `json:"executionStatus"`
	NextRunAt           time.Time  `json:"nextRunAt"`
	LastExecutedAt      *time.Time `json:"lastExecutedAt,omitempty"`
	TotalExecutions     int        `json:"totalExecutions"`
	ConsecutiveFailures int        `json:"consecutiveFailures"`
}

func toScheduledView(t *models.ScheduledDonation) scheduledView {
	return scheduledView{
		ID:                  t.ID,
		Amount:              t.Amount.StringFixed(2),
		Currency:            t.Currency,
		Frequency:           string(t.Frequency),
		IsActive:            t.IsActive,
		ExecutionStatus:     string(t.ExecutionStatus),
		NextRunAt:           t.NextRunAt,
		LastExecutedAt:      t.LastExecutedAt,
		TotalExecutions:     t.TotalExecutions,
		ConsecutiveFailures: t.ConsecutiveFailures,
	}
}

func ScheduledDonationCreate(svc ScheduledDonationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, errScheduledUnavailable)
			return
		}
		var req createScheduledRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tmpl, err := svc.Create(ctx, scheduled.CreateInput{
			UserID:              req.UserID,
			OrganizationID:      req.OrganizationID,
			CauseID:             req.CauseID,
			Amount:              req.Amount,
			CoverFees:           req.CoverFees,
			Currency:            req.Currency,
			Frequency:           enums.Frequency(req.Frequency),
			CustomIntervalValue: req.CustomIntervalValue,
			CustomIntervalUnit:  enums.IntervalUnit(req.CustomIntervalUnit),
			StripeCustomerID:    req.StripeCustomerID,
			PaymentMethodID:     req.PaymentMethodID,
			StartDate:           req.StartDate,
			EndDate:             req.EndDate,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, toScheduledView(tmpl))
	}
}

func ScheduledDonationGet(svc ScheduledDonationService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, errScheduledUnavailable)
			return
		}
		id, err := pathUUID(r, "scheduledDonationId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tmpl, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toScheduledView(tmpl))
	}
}

func ScheduledDonationPause(svc ScheduledDonationService, logg *logger.Logger) http.HandlerFunc {
	return scheduledToggle(svc, logg, ScheduledDonationService.Pause)
}

func ScheduledDonationResume(svc ScheduledDonationService, logg *logger.Logger) http.HandlerFunc {
	return scheduledToggle(svc, logg, ScheduledDonationService.Resume)
}

func scheduledToggle(svc ScheduledDonationService, logg *logger.Logger, apply func(ScheduledDonationService, context.Context, uuid.UUID) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, errScheduledUnavailable)
			return
		}
		id, err := pathUUID(r, "scheduledDonationId")
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if logg != nil {
			ctx = logg.WithScheduledDonationID(ctx, id.String())
		}
		if err := apply(svc, ctx, id); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		tmpl, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toScheduledView(tmpl))
	}
}
