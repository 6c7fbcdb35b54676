package chunker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return ts
}

func TestChunksEvenDivision(t *testing.T) {
	start := mustParse(t, "2026-07-30T00:00:00Z")
	end := mustParse(t, "2026-07-30T01:00:00Z")
	windows := Chunks(start, end, 30*time.Minute)
	require.Len(t, windows, 2)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, start.Add(30*time.Minute), windows[0].End)
	assert.Equal(t, windows[0].End, windows[1].Start)
	assert.Equal(t, end, windows[1].End)
}

func TestChunksShortFinalWindow(t *testing.T) {
	start := mustParse(t, "2026-07-30T00:00:00Z")
	end := start.Add(45 * time.Minute)
	windows := Chunks(start, end, 30*time.Minute)
	require.Len(t, windows, 2)
	assert.Equal(t, 30*time.Minute, windows[0].End.Sub(windows[0].Start))
	assert.Equal(t, 15*time.Minute, windows[1].End.Sub(windows[1].Start))
}

func TestChunksZeroWidthRange(t *testing.T) {
	ts := mustParse(t, "2026-07-30T00:00:00Z")
	assert.Nil(t, Chunks(ts, ts, 30*time.Minute))
}

func TestChunksEndBeforeStart(t *testing.T) {
	start := mustParse(t, "2026-07-30T01:00:00Z")
	end := mustParse(t, "2026-07-30T00:00:00Z")
	assert.Nil(t, Chunks(start, end, 30*time.Minute))
}

func TestChunksNonPositiveSize(t *testing.T) {
	start := mustParse(t, "2026-07-30T00:00:00Z")
	end := start.Add(time.Hour)
	assert.Nil(t, Chunks(start, end, 0))
	assert.Nil(t, Chunks(start, end, -time.Minute))
}

func TestChunksSingleWindowWhenRangeSmallerThanSize(t *testing.T) {
	start := mustParse(t, "2026-07-30T00:00:00Z")
	end := start.Add(5 * time.Minute)
	windows := Chunks(start, end, 30*time.Minute)
	require.Len(t, windows, 1)
	assert.Equal(t, start, windows[0].Start)
	assert.Equal(t, end, windows[0].End)
}
