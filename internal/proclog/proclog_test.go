package proclog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stokedbloke/gigglepipe/internal/dedup"
)

func TestAccountingIdentityHoldsAfterMixedEvents(t *testing.T) {
	a := New("u1", "2026-07-30")
	a.RecordEvent(dedup.Decision{Kind: dedup.DecisionInsert})
	a.RecordEvent(dedup.Decision{Kind: dedup.DecisionUpdate})
	a.RecordEvent(dedup.Decision{Kind: dedup.DecisionSkipTimeWindow})
	a.RecordEvent(dedup.Decision{Kind: dedup.DecisionSkipClipPath})
	a.RecordEvent(dedup.Decision{Kind: dedup.DecisionSkipMissingFile})
	require.NoError(t, a.Verify())
	assert.Equal(t, 5, a.eventsFound)
	assert.Equal(t, 3, a.duplicatesSkipped())
}

func TestVerifyCatchesMissingIncrement(t *testing.T) {
	a := New("u1", "2026-07-30")
	a.eventsFound = 3 // simulate a bug: counted without RecordEvent
	assert.Error(t, a.Verify())
}

func TestMarkFailedForcesFailedStatus(t *testing.T) {
	a := New("u1", "2026-07-30")
	a.MarkFailed(assert.AnError)
	assert.True(t, a.failed)
	assert.Equal(t, assert.AnError.Error(), a.lastError)
}
