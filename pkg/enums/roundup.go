package enums

import "fmt"

// RoundUpTransactionStatus tracks a spare-change amount through batching.
type RoundUpTransactionStatus string

const (
	RoundUpAccumulated RoundUpTransactionStatus = "accumulated"
	RoundUpProcessed   RoundUpTransactionStatus = "processed"
	RoundUpDonated     RoundUpTransactionStatus = "donated"
)

var validRoundUpTransactionStatuses = []RoundUpTransactionStatus{
	RoundUpAccumulated,
	RoundUpProcessed,
	RoundUpDonated,
}

// IsValid reports whether the value is a known RoundUpTransactionStatus.
func (s RoundUpTransactionStatus) IsValid() bool {
	for _, candidate := range validRoundUpTransactionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseRoundUpTransactionStatus converts raw input into a RoundUpTransactionStatus.
func ParseRoundUpTransactionStatus(value string) (RoundUpTransactionStatus, error) {
	for _, candidate := range validRoundUpTransactionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid round-up transaction status %q", value)
}

// RoundUpBatchStatus is the batch lock on a user's round-up configuration.
type RoundUpBatchStatus string

const (
	RoundUpBatchIdle       RoundUpBatchStatus = "idle"
	RoundUpBatchProcessing RoundUpBatchStatus = "processing"
	RoundUpBatchFailed     RoundUpBatchStatus = "failed"
)

// RetryableRoundUpBatchStatuses may be claimed by the next batch run.
var RetryableRoundUpBatchStatuses = []RoundUpBatchStatus{
	RoundUpBatchIdle,
	RoundUpBatchFailed,
}

// IsValid reports whether the value is a known RoundUpBatchStatus.
func (s RoundUpBatchStatus) IsValid() bool {
	switch s {
	case RoundUpBatchIdle, RoundUpBatchProcessing, RoundUpBatchFailed:
		return true
	}
	return false
}
