package enums

import "fmt"

// LedgerEntryType distinguishes credits from debits on an organization ledger.
type LedgerEntryType string

const (
	LedgerEntryCredit   LedgerEntryType = "credit"
	LedgerEntryDebit    LedgerEntryType = "debit"
	LedgerEntryReversal LedgerEntryType = "reversal"
)

var validLedgerEntryTypes = []LedgerEntryType{
	LedgerEntryCredit,
	LedgerEntryDebit,
	LedgerEntryReversal,
}

// IsValid reports whether the value is a known LedgerEntryType.
func (t LedgerEntryType) IsValid() bool {
	for _, candidate := range validLedgerEntryTypes {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseLedgerEntryType converts raw input into a LedgerEntryType.
func ParseLedgerEntryType(value string) (LedgerEntryType, error) {
	for _, candidate := range validLedgerEntryTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid ledger entry type %q", value)
}
