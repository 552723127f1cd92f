package processor

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v84"
)

// Declines the issuer marks as worth retrying.
var softDeclineCodes = map[string]struct{}{
	"try_again_later":      {},
	"processing_error":     {},
	"issuer_not_available": {},
	"reenter_transaction":  {},
	"approve_with_id":      {},
}

// Error is a classified processor failure.
type Error struct {
	Retryable   bool
	Code        string
	DeclineCode string
	Message     string
	Err         error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	kind := "terminal"
	if e.Retryable {
		kind = "retryable"
	}
	if e.DeclineCode != "" {
		return fmt.Sprintf("processor %s error (%s/%s): %s", kind, e.Code, e.DeclineCode, e.Message)
	}
	if e.Code != "" {
		return fmt.Sprintf("processor %s error (%s): %s", kind, e.Code, e.Message)
	}
	return fmt.Sprintf("processor %s error: %s", kind, e.Message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Classify wraps err into an *Error deciding whether another attempt may succeed.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var classified *Error
	if errors.As(err, &classified) {
		return err
	}
	if IsIndeterminate(err) {
		return &Error{Retryable: true, Code: "canceled", Message: err.Error(), Err: err}
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return &Error{Retryable: true, Code: "network", Message: err.Error(), Err: err}
	}

	out := &Error{
		Code:        string(stripeErr.Code),
		DeclineCode: string(stripeErr.DeclineCode),
		Message:     stripeErr.Msg,
		Err:         err,
	}
	switch {
	case stripeErr.Type == stripe.ErrorTypeAPI:
		out.Retryable = true
	case stripeErr.HTTPStatusCode == http.StatusTooManyRequests || out.Code == "rate_limit":
		out.Retryable = true
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		out.Retryable = true
	case stripeErr.Type == stripe.ErrorTypeCard:
		out.Retryable = isSoftDecline(out.DeclineCode)
	}
	return out
}

// IsRetryable reports whether err is a transient processor failure.
func IsRetryable(err error) bool {
	var classified *Error
	if errors.As(Classify(err), &classified) {
		return classified.Retryable
	}
	return false
}

// IsIndeterminate reports whether the call was abandoned by the caller. The
// request may still have reached the processor, so its outcome is unknown.
func IsIndeterminate(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func isSoftDecline(code string) bool {
	_, soft := softDeclineCodes[code]
	return soft
}
