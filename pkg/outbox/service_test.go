package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mostafizurRahaman/donation-app-server/pkg/db/dbtest"
	"github.com/mostafizurRahaman/donation-app-server/pkg/db/models"
	"github.com/mostafizurRahaman/donation-app-server/pkg/enums"
	"github.com/mostafizurRahaman/donation-app-server/pkg/logger"
)

func TestEmitIfNotExistsQueuesOnce(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, logger.Nop())

	donationID := uuid.New()
	donorID := uuid.New()
	event := DomainEvent{
		EventType:     enums.EventDonationCompleted,
		AggregateType: enums.AggregateDonation,
		AggregateID:   donationID,
		Source:        "donation-pipeline",
		DonorID:       &donorID,
		Data:          map[string]string{"donation_id": donationID.String()},
	}
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))
	require.NoError(t, svc.EmitIfNotExists(context.Background(), conn, event))

	var rows []models.OutboxEvent
	require.NoError(t, conn.Find(&rows).Error)
	require.Len(t, rows, 1)

	envelope, err := DecodeEnvelope(rows[0].Payload)
	require.NoError(t, err)
	require.Equal(t, 1, envelope.Version)
	require.Equal(t, "donation-pipeline", envelope.Source)
	require.Equal(t, donorID, *envelope.DonorID)
	require.JSONEq(t, `{"donation_id":"`+donationID.String()+`"}`, string(envelope.Data))
}

func TestEmitRequiresTx(t *testing.T) {
	svc := NewService(NewRepository(nil), nil)
	require.Error(t, svc.Emit(context.Background(), nil, DomainEvent{}))
	require.Error(t, svc.EmitIfNotExists(context.Background(), nil, DomainEvent{}))
}

func TestEmitRejectsUnknownEventType(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)

	err := svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.OutboxEventType("donation_teleported"),
		AggregateType: enums.AggregateDonation,
		AggregateID:   uuid.New(),
	})
	require.Error(t, err)

	var count int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestEmitStampsOccurredAtFromClock(t *testing.T) {
	conn := dbtest.Open(t)
	svc := NewService(NewRepository(conn), nil)
	fixed := time.Date(2026, 5, 1, 9, 30, 0, 0, time.FixedZone("AEST", 10*3600))
	svc.now = func() time.Time { return fixed }

	require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
		EventType:     enums.EventDonationFailed,
		AggregateType: enums.AggregateDonation,
		AggregateID:   uuid.New(),
		Data:          map[string]string{"reason": "card_declined"},
	}))

	var row models.OutboxEvent
	require.NoError(t, conn.First(&row).Error)
	var envelope PayloadEnvelope
	require.NoError(t, json.Unmarshal(row.Payload, &envelope))
	require.True(t, envelope.OccurredAt.Equal(fixed))
	require.Equal(t, time.UTC, envelope.OccurredAt.Location())
}

func TestRepositoryPublishLifecycle(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	for i := 0; i < 2; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventDonationRefunded,
			AggregateType: enums.AggregateDonation,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}))
	}

	rows, err := repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.NoError(t, repo.MarkPublishedTx(conn, rows[0].ID))
	require.NoError(t, repo.MarkTerminalTx(conn, rows[1].ID, errors.New("bad payload"), 3))

	rows, err = repo.FetchUnpublishedForPublish(conn, 10, 3)
	require.NoError(t, err)
	require.Empty(t, rows)

	deleted, err := repo.PrunePublished(context.Background(), time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	require.Zero(t, deleted, "recently published rows are kept")

	deleted, err = repo.PrunePublished(context.Background(), time.Now().Add(time.Hour), 10)
	require.NoError(t, err)
	require.EqualValues(t, 1, deleted, "parked rows are never pruned")
}

func TestPrunePublishedHonoursLimit(t *testing.T) {
	conn := dbtest.Open(t)
	repo := NewRepository(conn)
	svc := NewService(repo, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, svc.Emit(context.Background(), conn, DomainEvent{
			EventType:     enums.EventDonationCompleted,
			AggregateType: enums.AggregateDonation,
			AggregateID:   uuid.New(),
			Data:          struct{}{},
		}))
	}
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Where("1 = 1").Update("published_at", time.Now().UTC().Add(-48*time.Hour)).Error)

	deleted, err := repo.PrunePublished(context.Background(), time.Now(), 2)
	require.NoError(t, err)
	require.EqualValues(t, 2, deleted)

	var remaining int64
	require.NoError(t, conn.Model(&models.OutboxEvent{}).Count(&remaining).Error)
	require.EqualValues(t, 1, remaining)
}
