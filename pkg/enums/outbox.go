package enums

// OutboxAggregateType is the aggregate_type column of outbox_events. Every
// event published today hangs off a donation row.
type OutboxAggregateType string

const AggregateDonation OutboxAggregateType = "donation"

// OutboxEventType is the event_type column of outbox_events.
type OutboxEventType string

const (
	EventDonationCompleted OutboxEventType = "donation_completed"
	EventDonationFailed    OutboxEventType = "donation_failed"
	EventDonationRefunded  OutboxEventType = "donation_refunded"
)

// IsValid reports whether the value names a published lifecycle event.
func (e OutboxEventType) IsValid() bool {
	switch e {
	case EventDonationCompleted, EventDonationFailed, EventDonationRefunded:
		return true
	}
	return false
}
