package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// PayloadEnvelope is the JSON document stored in outbox_events.payload.
// Consumers check Version before reading Data.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	Source     string          `json:"source,omitempty"`
	DonorID    *uuid.UUID      `json:"donorId,omitempty"`
	OccurredAt time.Time       `json:"occurredAt"`
	Data       json.RawMessage `json:"data"`
}

// HasData is false for an absent or JSON null payload.
func (e PayloadEnvelope) HasData() bool {
	trimmed := bytes.TrimSpace(e.Data)
	return len(trimmed) > 0 && !bytes.Equal(trimmed, []byte("null"))
}

// DecodeEnvelope parses a stored payload column.
func DecodeEnvelope(raw json.RawMessage) (PayloadEnvelope, error) {
	var envelope PayloadEnvelope
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return PayloadEnvelope{}, fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.EventID == "" {
		return PayloadEnvelope{}, fmt.Errorf("envelope has no event id")
	}
	return envelope, nil
}
