package controllers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/mostafizurRahaman/donation-app-server/api/responses"
	"github.com/mostafizurRahaman/donation-app-server/api/validators"
	"github.com/mostafizurRahaman/donation-app-server/internal/roundup"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

type RoundUpRecorder interface {
	RecordTransaction(ctx context.Context, input roundup.RecordInput) (*models.RoundUpTransaction, bool, error)
}

type recordRoundUpRequest struct {
	UserID    uuid.UUID       `json:"userId" validate:"required"`
	SourceRef string          `json:"sourceRef" validate:"required,max=128"`
	Amount    decimal.Decimal `json:"amount" validate:"gt=0"`
}

// RoundUpRecord appends a spare-change amount to the user's accumulation.
// Replaying the same sourceRef returns 200 without adding it twice.
func RoundUpRecord(svc RoundUpRecorder, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "round-up service unavailable"))
			return
		}
		var req recordRoundUpRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		txn, created, err := svc.RecordTransaction(ctx, roundup.RecordInput{
			UserID:    req.UserID,
			SourceRef: req.SourceRef,
			Amount:    req.Amount,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		status := http.StatusOK
		if created {
			status = http.StatusCreated
		}
		payload := map[string]any{"sourceRef": req.SourceRef, "recorded": created}
		if txn != nil && created {
			payload["id"] = txn.ID
			payload["amount"] = txn.Amount.StringFixed(2)
			payload["status"] = string(txn.Status)
		}
		responses.WriteSuccessStatus(w, status, payload)
	}
}
