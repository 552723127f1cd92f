package enums

import "fmt"

// ExecutionStatus is the database-level execution lock on a recurring template.
type ExecutionStatus string

const (
	ExecutionStatusActive     ExecutionStatus = "active"
	ExecutionStatusProcessing ExecutionStatus = "processing"
	ExecutionStatusPaused     ExecutionStatus = "paused"
)

var validExecutionStatuses = []ExecutionStatus{
	ExecutionStatusActive,
	ExecutionStatusProcessing,
	ExecutionStatusPaused,
}

// IsValid reports whether the value is a known ExecutionStatus.
func (s ExecutionStatus) IsValid() bool {
	for _, candidate := range validExecutionStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseExecutionStatus converts raw input into an ExecutionStatus.
func ParseExecutionStatus(value string) (ExecutionStatus, error) {
	for _, candidate := range validExecutionStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid execution status %q", value)
}

// Frequency controls how the next run of a recurring donation is derived.
type Frequency string

const (
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
	FrequencyFortnight Frequency = "fortnightly"
	FrequencyMonthly   Frequency = "monthly"
	FrequencyQuarterly Frequency = "quarterly"
	FrequencyYearly    Frequency = "yearly"
	FrequencyCustom    Frequency = "custom"
)

var validFrequencies = []Frequency{
	FrequencyDaily,
	FrequencyWeekly,
	FrequencyFortnight,
	FrequencyMonthly,
	FrequencyQuarterly,
	FrequencyYearly,
	FrequencyCustom,
}

// IsValid reports whether the value is a known Frequency.
func (f Frequency) IsValid() bool {
	for _, candidate := range validFrequencies {
		if candidate == f {
			return true
		}
	}
	return false
}

// ParseFrequency converts raw input into a Frequency.
func ParseFrequency(value string) (Frequency, error) {
	for _, candidate := range validFrequencies {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid frequency %q", value)
}

// IntervalUnit is the unit of a custom recurring interval.
type IntervalUnit string

const (
	IntervalUnitDays   IntervalUnit = "days"
	IntervalUnitWeeks  IntervalUnit = "weeks"
	IntervalUnitMonths IntervalUnit = "months"
)

// IsValid reports whether the value is a known IntervalUnit.
func (u IntervalUnit) IsValid() bool {
	switch u {
	case IntervalUnitDays, IntervalUnitWeeks, IntervalUnitMonths:
		return true
	}
	return false
}
