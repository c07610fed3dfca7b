package entities

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRequestSnapshot(t *testing.T) {
	start := time.UnixMilli(1_760_000_000_000)
	snap := RequestSnapshot{
		RequestID:   "req-1",
		UserID:      "user-1",
		Venue:       "Gosman",
		StartTime:   start,
		EndTime:     start.Add(90 * time.Minute),
		PartySize:   2,
		Rating:      1500,
		CreditScore: 100,
		Avatar:      "pic2",
		DisplayName: "alice",
		EnqueuedAt:  start.Add(-time.Hour),
	}

	fields := map[string]string{}
	for k, v := range snap.Hash() {
		fields[k] = v.(string)
	}

	parsed, err := ParseRequestSnapshot(fields)
	require.NoError(t, err)
	assert.Equal(t, snap, parsed)

	t.Run("missing id", func(t *testing.T) {
		delete(fields, "matchRequestId")
		_, err := ParseRequestSnapshot(fields)
		assert.Error(t, err)
	})

	t.Run("corrupt number", func(t *testing.T) {
		fields["matchRequestId"] = "req-1"
		fields["rating"] = "abc"
		_, err := ParseRequestSnapshot(fields)
		assert.Error(t, err)
	})
}

func TestSearchStatusTerminal(t *testing.T) {
	assert.True(t, SearchStatus_Matched.Terminal())
	assert.True(t, SearchStatus_Expired.Terminal())
	assert.True(t, SearchStatus_Cancelled.Terminal())
	assert.False(t, SearchStatus_Searching.Terminal())
	assert.False(t, SearchStatus_PendingConfirmation.Terminal())
	assert.False(t, SearchStatus_Waitlisted.Terminal())
}
