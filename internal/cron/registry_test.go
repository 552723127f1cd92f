package cron

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubJob struct {
	name string
}

func (s *stubJob) Name() string              { return s.name }
func (s *stubJob) Run(context.Context) error { return nil }

func TestRegistryKeepsRegistrationOrder(t *testing.T) {
	registry := NewRegistry(&stubJob{name: scheduledDonationsJobKey})
	assert.True(t, registry.Register(&stubJob{name: outboxRetentionJobKey}, 24*time.Hour))
	assert.False(t, registry.Register(nil, time.Hour))

	assert.Equal(t, []string{scheduledDonationsJobKey, outboxRetentionJobKey}, registry.Names())

	jobs := registry.Jobs()
	require.Len(t, jobs, 2)
	jobs[0] = nil
	assert.NotNil(t, registry.Jobs()[0], "Jobs must return a copy")
}

func TestRegistryRejectsDuplicateNames(t *testing.T) {
	first := &stubJob{name: roundUpBatchesJobKey}
	registry := NewRegistry(first)

	assert.False(t, registry.Register(&stubJob{name: roundUpBatchesJobKey}, time.Hour))
	require.Len(t, registry.Jobs(), 1)
	assert.Same(t, first, registry.Jobs()[0])
}

func TestRegistryClampsNegativeSpacing(t *testing.T) {
	registry := NewRegistry()
	registry.Register(&stubJob{name: lockRecoveryJobKey}, -time.Minute)
	assert.Equal(t, time.Duration(0), registry.slots[0].every)
}
