package validators

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/mostafizurRahaman/donation-app-server/pkg/errors"
)

type refundBody struct {
	Reason string `json:"reason" validate:"required,max=32"`
}

func TestDecodeJSONBodyValidates(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":""}`))
	var body refundBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details, ok := pkgerrors.As(err).Details().(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "is required", details["reason"])
}

func TestDecodeJSONBodyRejectsUnknownFields(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"dup","amount":5}`))
	var body refundBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyAcceptsValidInput(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"duplicate"}`))
	var body refundBody
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.Equal(t, "duplicate", body.Reason)
}

type amountBody struct {
	Amount decimal.Decimal `json:"amount" validate:"gt=0"`
}

func TestDecodeJSONBodyValidatesDecimalAmounts(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"0"}`))
	var body amountBody
	err := DecodeJSONBody(req, &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	details := pkgerrors.As(err).Details().(map[string]string)
	assert.Equal(t, "must be greater than 0", details["amount"])

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"amount":"0.35"}`))
	require.NoError(t, DecodeJSONBody(req, &body))
	assert.True(t, body.Amount.Equal(decimal.RequireFromString("0.35")))
}

func TestDecodeJSONBodyRejectsEmptyAndTrailingInput(t *testing.T) {
	var body refundBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader("")), &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Equal(t, "request body is empty", pkgerrors.As(err).Message())

	err = DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"reason":"a"}{"reason":"b"}`)), &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}

func TestDecodeJSONBodyLimitsSize(t *testing.T) {
	payload := `{"reason":"` + strings.Repeat("x", maxBodyBytes) + `"}`
	var body refundBody
	err := DecodeJSONBody(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(payload)), &body)
	require.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	assert.Contains(t, pkgerrors.As(err).Message(), "exceeds")
}
