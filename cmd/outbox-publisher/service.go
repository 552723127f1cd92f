package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mostafizurRahaman/donation-app-server/pkg/config"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
	"github.com/mostafizurRahaman/donation-app-server/pkg/outbox/registry"
	"github.com/mostafizurRahaman/donation-app-server/pkg/pubsub"
)

const (
	defaultBatchSize   = 50
	defaultPoll        = 500 * time.Millisecond
	defaultMaxAttempts = 10
	publishTimeout     = 15 * time.Second
	maxBackoff         = 10 * time.Second
	jitterWindow       = 250 * time.Millisecond
)

type dbClient interface {
	Ping(context.Context) error
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

// bus is the Pub/Sub side. Publish blocks until the message is acknowledged.
type bus interface {
	Ping(context.Context) error
	Publish(ctx context.Context, topic string, msg *gcppubsub.Message) (string, error)
}

type outboxRepository interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type eventResolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

type ServiceParams struct {
	Config     *config.Config
	Logger     *logger.Logger
	DB         dbClient
	Bus        bus
	Repository outboxRepository
	Registry   eventResolver
}

// Service drains donation events from outbox_events to Pub/Sub. Each batch
// is claimed with SKIP LOCKED inside one transaction, so replicas can run
// side by side.
type Service struct {
	logg        *logger.Logger
	db          dbClient
	bus         bus
	repo        outboxRepository
	events      eventResolver
	batchSize   int
	maxAttempts int
	poll        time.Duration
	jitter      func(time.Duration) time.Duration
}

func NewService(params ServiceParams) (*Service, error) {
	switch {
	case params.Config == nil:
		return nil, errors.New("config is required")
	case params.Logger == nil:
		return nil, errors.New("logger is required")
	case params.DB == nil:
		return nil, errors.New("database client is required")
	case params.Bus == nil:
		return nil, errors.New("pubsub client is required")
	case params.Repository == nil:
		return nil, errors.New("outbox repository is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	}

	cfg := params.Config.Outbox
	s := &Service{
		logg:        params.Logger,
		db:          params.DB,
		bus:         params.Bus,
		repo:        params.Repository,
		events:      params.Registry,
		batchSize:   positiveOr(cfg.BatchSize, defaultBatchSize),
		maxAttempts: positiveOr(cfg.MaxAttempts, defaultMaxAttempts),
		poll:        defaultPoll,
		jitter:      withJitter,
	}
	if cfg.PollIntervalMS > 0 {
		s.poll = time.Duration(cfg.PollIntervalMS) * time.Millisecond
	}
	return s, nil
}

// Run publishes until ctx ends. It waits one poll interval after an empty
// batch and backs off exponentially, capped at maxBackoff, after a failed one.
func (s *Service) Run(ctx context.Context) error {
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("database not ready: %w", err)
	}
	if err := s.bus.Ping(ctx); err != nil {
		return fmt.Errorf("pubsub not ready: %w", err)
	}

	wait := time.Duration(0)
	for {
		if err := sleepContext(ctx, wait); err != nil {
			s.logg.Info(ctx, "outbox publisher stopping")
			return err
		}

		busy, err := s.processBatch(ctx)
		switch {
		case err != nil:
			s.logg.Error(ctx, "outbox batch failed", err)
			wait = s.jitter(nextBackoff(wait, s.poll, maxBackoff))
		case busy:
			wait = 0
		default:
			wait = s.jitter(s.poll)
		}
	}
}

// processBatch reports whether any row was claimed.
func (s *Service) processBatch(ctx context.Context) (bool, error) {
	claimed := 0
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := s.repo.FetchUnpublishedForPublish(tx, s.batchSize, s.maxAttempts)
		if err != nil {
			return err
		}
		claimed = len(rows)
		for _, row := range rows {
			if err := s.settle(ctx, tx, row); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed > 0, err
}

// settle publishes one row and stores the outcome. Only a failed write of
// the outcome aborts the batch.
func (s *Service) settle(ctx context.Context, tx *gorm.DB, row models.OutboxEvent) error {
	ctx = s.logg.WithFields(ctx, rowFields(row))

	publishErr := s.publish(ctx, row)
	if publishErr == nil {
		if err := s.repo.MarkPublishedTx(tx, row.ID); err != nil {
			return fmt.Errorf("mark %s published: %w", row.ID, err)
		}
		s.logg.Info(ctx, "outbox event published")
		return nil
	}

	attempt := row.AttemptCount + 1
	if reason := s.terminalReason(publishErr, attempt); reason != "" {
		s.logg.Error(s.logg.WithField(ctx, "terminal_reason", reason), "outbox event parked", publishErr)
		if err := s.repo.MarkTerminalTx(tx, row.ID, publishErr, s.maxAttempts); err != nil {
			return fmt.Errorf("park %s: %w", row.ID, err)
		}
		return nil
	}

	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{"error": publishErr.Error(), "attempt": attempt}), "outbox publish failed, will retry")
	if err := s.repo.MarkFailedTx(tx, row.ID, publishErr); err != nil {
		return fmt.Errorf("mark %s failed: %w", row.ID, err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, row models.OutboxEvent) error {
	resolved, err := s.events.Resolve(row)
	if err != nil {
		return err
	}

	publishCtx, cancel := context.WithTimeout(ctx, publishTimeout)
	defer cancel()
	_, err = s.bus.Publish(publishCtx, resolved.Descriptor.Topic, &gcppubsub.Message{
		Data:       row.Payload,
		Attributes: messageAttributes(row, resolved.Envelope.EventID),
	})
	return err
}

// terminalReason is empty while the row should be retried.
func (s *Service) terminalReason(err error, attempt int) string {
	var rejected registry.NonRetryableError
	switch {
	case errors.As(err, &rejected):
		return "unpublishable"
	case pubsub.IsPermanent(err):
		return "rejected_by_pubsub"
	case attempt >= s.maxAttempts:
		return "max_attempts"
	}
	return ""
}

func messageAttributes(row models.OutboxEvent, eventID string) map[string]string {
	return map[string]string{
		"event_id":       eventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func rowFields(row models.OutboxEvent) map[string]any {
	fields := map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate_id":  row.AggregateID.String(),
		"attempt_count": row.AttemptCount,
	}
	if row.LastError != nil {
		fields["last_error"] = *row.LastError
	}
	return fields
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, ceiling time.Duration) time.Duration {
	if current < base {
		current = base
	}
	if next := current * 2; next < ceiling {
		return next
	}
	return ceiling
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}
