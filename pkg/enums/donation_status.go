package enums

import "fmt"

// DonationStatus tracks the lifecycle of a single payment attempt.
type DonationStatus string

const (
	DonationStatusPending    DonationStatus = "pending"
	DonationStatusProcessing DonationStatus = "processing"
	DonationStatusCompleted  DonationStatus = "completed"
	DonationStatusFailed     DonationStatus = "failed"
	DonationStatusCanceled   DonationStatus = "canceled"
	DonationStatusRefunding  DonationStatus = "refunding"
	DonationStatusRefunded   DonationStatus = "refunded"
)

var validDonationStatuses = []DonationStatus{
	DonationStatusPending,
	DonationStatusProcessing,
	DonationStatusCompleted,
	DonationStatusFailed,
	DonationStatusCanceled,
	DonationStatusRefunding,
	DonationStatusRefunded,
}

// InFlightDonationStatuses are the states a charge outcome may still be applied to.
var InFlightDonationStatuses = []DonationStatus{
	DonationStatusPending,
	DonationStatusProcessing,
}

// String implements fmt.Stringer.
func (s DonationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known DonationStatus.
func (s DonationStatus) IsValid() bool {
	for _, candidate := range validDonationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition can leave this state.
func (s DonationStatus) IsTerminal() bool {
	switch s {
	case DonationStatusFailed, DonationStatusCanceled, DonationStatusRefunded:
		return true
	}
	return false
}

// ParseDonationStatus converts raw input into a DonationStatus.
func ParseDonationStatus(value string) (DonationStatus, error) {
	for _, candidate := range validDonationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid donation status %q", value)
}
