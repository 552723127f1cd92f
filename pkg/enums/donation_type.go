package enums

import "fmt"

// DonationType identifies what originated a donation.
type DonationType string

const (
	DonationTypeOneTime   DonationType = "one-time"
	DonationTypeRecurring DonationType = "recurring"
	DonationTypeRoundUp   DonationType = "round-up"
)

var validDonationTypes = []DonationType{
	DonationTypeOneTime,
	DonationTypeRecurring,
	DonationTypeRoundUp,
}

// String implements fmt.Stringer.
func (t DonationType) String() string {
	return string(t)
}

// IsValid reports whether the value is a known DonationType.
func (t DonationType) IsValid() bool {
	for _, candidate := range validDonationTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseDonationType converts raw input into a DonationType.
func ParseDonationType(value string) (DonationType, error) {
	for _, candidate := range validDonationTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid donation type %q", value)
}
