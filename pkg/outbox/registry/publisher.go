package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox/payloads"
)

// Descriptor says where an event type is published and how its data decodes.
type Descriptor struct {
	Topic     string
	Aggregate enums.OutboxAggregateType
	decode    func(json.RawMessage) (any, error)
}

// ResolvedEvent is an outbox row that passed validation and is ready to publish.
type ResolvedEvent struct {
	Descriptor Descriptor
	Envelope   outbox.PayloadEnvelope
	Payload    any
}

// NonRetryableError marks rows that will never publish, whatever the attempt count.
type NonRetryableError struct {
	Err error
}

func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable outbox event"
	}
	return e.Err.Error()
}

func (e NonRetryableError) Unwrap() error { return e.Err }

func reject(format string, args ...any) error {
	return NonRetryableError{Err: fmt.Errorf(format, args...)}
}

// EventRegistry knows every donation lifecycle event the publisher may emit.
type EventRegistry struct {
	byType map[enums.OutboxEventType]Descriptor
}

// NewEventRegistry routes all donation events to the configured topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	topic := strings.TrimSpace(cfg.DonationsTopic)
	if topic == "" {
		return nil, errors.New("pubsub donations topic is required")
	}

	donation := func(decode func(json.RawMessage) (any, error)) Descriptor {
		return Descriptor{Topic: topic, Aggregate: enums.AggregateDonation, decode: decode}
	}
	return &EventRegistry{byType: map[enums.OutboxEventType]Descriptor{
		enums.EventDonationCompleted: donation(decodeInto[payloads.DonationCompletedEvent]),
		enums.EventDonationFailed:    donation(decodeInto[payloads.DonationFailedEvent]),
		enums.EventDonationRefunded:  donation(decodeInto[payloads.DonationRefundedEvent]),
	}}, nil
}

// Resolve checks the row against its descriptor and decodes the typed payload.
// Every failure is a NonRetryableError.
func (r *EventRegistry) Resolve(row models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.byType[row.EventType]
	if !ok {
		return nil, reject("unsupported event type %s", row.EventType)
	}
	if row.AggregateType != desc.Aggregate {
		return nil, reject("%s expects aggregate %s, row has %s", row.EventType, desc.Aggregate, row.AggregateType)
	}
	if row.AggregateID == uuid.Nil {
		return nil, reject("%s row has no aggregate id", row.EventType)
	}

	envelope, err := outbox.DecodeEnvelope(row.Payload)
	if err != nil {
		return nil, NonRetryableError{Err: err}
	}
	if !envelope.HasData() {
		return nil, reject("%s envelope has no data", row.EventType)
	}
	payload, err := desc.decode(envelope.Data)
	if err != nil {
		return nil, reject("decode %s data: %w", row.EventType, err)
	}
	return &ResolvedEvent{Descriptor: desc, Envelope: envelope, Payload: payload}, nil
}

func decodeInto[T any](data json.RawMessage) (any, error) {
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		return nil, err
	}
	return out, nil
}
