package scheduled

import (
	"fmt"
	"time"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
)

// Interval is the recurrence rule of a template.
type Interval struct {
	Frequency enums.Frequency
	Value     int
	Unit      enums.IntervalUnit
	// AnchorDay is the preferred day of month for month-based rules.
	AnchorDay int
}

// IntervalOf extracts the recurrence rule from a template.
func IntervalOf(tmpl *models.ScheduledDonation) Interval {
	interval := Interval{
		Frequency: tmpl.Frequency,
		AnchorDay: tmpl.StartDate.Day(),
	}
	if tmpl.CustomIntervalValue != nil {
		interval.Value = *tmpl.CustomIntervalValue
	}
	if tmpl.CustomIntervalUnit != nil {
		interval.Unit = *tmpl.CustomIntervalUnit
	}
	return interval
}

// Validate reports whether the rule can produce a next run.
func (i Interval) Validate() error {
	if !i.Frequency.IsValid() {
		return fmt.Errorf("invalid frequency %q", i.Frequency)
	}
	if i.Frequency != enums.FrequencyCustom {
		return nil
	}
	if i.Value <= 0 {
		return fmt.Errorf("custom interval value must be positive")
	}
	if !i.Unit.IsValid() {
		return fmt.Errorf("invalid custom interval unit %q", i.Unit)
	}
	return nil
}

// Next returns the run that follows anchor. Month-based rules keep the
// anchor day and clamp it to the last day of shorter months.
func (i Interval) Next(anchor time.Time) (time.Time, error) {
	if err := i.Validate(); err != nil {
		return time.Time{}, err
	}
	switch i.Frequency {
	case enums.FrequencyDaily:
		return anchor.AddDate(0, 0, 1), nil
	case enums.FrequencyWeekly:
		return anchor.AddDate(0, 0, 7), nil
	case enums.FrequencyFortnight:
		return anchor.AddDate(0, 0, 14), nil
	case enums.FrequencyMonthly:
		return addMonths(anchor, 1, i.anchorDay(anchor)), nil
	case enums.FrequencyQuarterly:
		return addMonths(anchor, 3, i.anchorDay(anchor)), nil
	case enums.FrequencyYearly:
		return addMonths(anchor, 12, i.anchorDay(anchor)), nil
	}

	switch i.Unit {
	case enums.IntervalUnitDays:
		return anchor.AddDate(0, 0, i.Value), nil
	case enums.IntervalUnitWeeks:
		return anchor.AddDate(0, 0, 7*i.Value), nil
	default:
		return addMonths(anchor, i.Value, i.anchorDay(anchor)), nil
	}
}

func (i Interval) anchorDay(anchor time.Time) int {
	if i.AnchorDay > 0 {
		return i.AnchorDay
	}
	return anchor.Day()
}

func addMonths(anchor time.Time, months, day int) time.Time {
	first := time.Date(anchor.Year(), anchor.Month()+time.Month(months), 1,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
	if last := daysIn(first); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day,
		anchor.Hour(), anchor.Minute(), anchor.Second(), anchor.Nanosecond(), anchor.Location())
}

func daysIn(t time.Time) int {
	return time.Date(t.Year(), t.Month()+1, 0, 0, 0, 0, 0, t.Location()).Day()
}
