package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

const envelopeVersion = 1

// DomainEvent is a donation lifecycle fact waiting to be published.
type DomainEvent struct {
	EventType     enums.OutboxEventType
	AggregateType enums.OutboxAggregateType
	AggregateID   uuid.UUID

	// Source names the producing component, e.g. "donation-pipeline".
	Source     string
	DonorID    *uuid.UUID
	Data       any
	OccurredAt time.Time
}

type Service struct {
	repo *Repository
	logg *logger.Logger
	now  func() time.Time
}

func NewService(repo *Repository, logg *logger.Logger) *Service {
	if logg == nil {
		logg = logger.Nop()
	}
	return &Service{repo: repo, logg: logg, now: time.Now}
}

// Emit queues event on tx. Pass the base connection when no transaction is open.
// Every (event type, aggregate) pair is queued at most once.
func (s *Service) Emit(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	_, err := s.queue(ctx, tx, event)
	return err
}

// EmitIfNotExists queues event once per (event type, aggregate) and is silent on replays.
func (s *Service) EmitIfNotExists(ctx context.Context, tx *gorm.DB, event DomainEvent) error {
	queued, err := s.queue(ctx, tx, event)
	if err != nil {
		return err
	}
	if !queued {
		s.logg.Debug(s.eventContext(ctx, event), "outbox event already queued")
	}
	return nil
}

func (s *Service) queue(ctx context.Context, tx *gorm.DB, event DomainEvent) (bool, error) {
	if tx == nil {
		return false, errTxRequired
	}
	if !event.EventType.IsValid() {
		return false, fmt.Errorf("unknown outbox event type %q", event.EventType)
	}

	row, envelope, err := s.buildRow(event)
	if err != nil {
		return false, err
	}
	queued, err := s.repo.InsertOnce(ctx, tx, row)
	if err != nil {
		return false, fmt.Errorf("queue %s: %w", event.EventType, err)
	}
	if queued {
		s.logg.Info(s.logg.WithField(s.eventContext(ctx, event), "event_id", envelope.EventID), "outbox event queued")
	}
	return queued, nil
}

func (s *Service) buildRow(event DomainEvent) (*models.OutboxEvent, PayloadEnvelope, error) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return nil, PayloadEnvelope{}, fmt.Errorf("encode %s data: %w", event.EventType, err)
	}
	occurredAt := event.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = s.now()
	}
	envelope := PayloadEnvelope{
		Version:    envelopeVersion,
		EventID:    uuid.NewString(),
		Source:     event.Source,
		DonorID:    event.DonorID,
		OccurredAt: occurredAt.UTC(),
		Data:       data,
	}
	payload, err := json.Marshal(envelope)
	if err != nil {
		return nil, PayloadEnvelope{}, fmt.Errorf("encode %s envelope: %w", event.EventType, err)
	}
	return &models.OutboxEvent{
		ID:            uuid.New(),
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       json.RawMessage(payload),
	}, envelope, nil
}

func (s *Service) eventContext(ctx context.Context, event DomainEvent) context.Context {
	return s.logg.WithFields(ctx, map[string]any{
		"event_type":     event.EventType,
		"aggregate_type": event.AggregateType,
		"aggregate_id":   event.AggregateID.String(),
	})
}
