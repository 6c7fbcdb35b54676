package clipwriter

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sineSamples(n int) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = 0.1
	}
	return s
}

func TestCutWritesValidWAV(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip.wav")
	samples := sineSamples(16000 * 4)

	err := Cut(samples, 16000, 2*time.Second, 1*time.Second, 1*time.Second, out)
	require.NoError(t, err)

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	assert.True(t, dec.IsValidFile())
}

func TestCutClampsAtSegmentStart(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip.wav")
	samples := sineSamples(16000 * 4)

	err := Cut(samples, 16000, 500*time.Millisecond, 2*time.Second, 2*time.Second, out)
	require.NoError(t, err)
	_, statErr := os.Stat(out)
	assert.NoError(t, statErr)
}

func TestCutLeavesNoPartialFileOnFailure(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "clip.wav")

	err := Cut(nil, 16000, time.Second, time.Second, time.Second, out)
	assert.Error(t, err)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
	_, tmpErr := os.Stat(out + ".tmp")
	assert.True(t, os.IsNotExist(tmpErr))
}

func TestFileNameFormat(t *testing.T) {
	name := FileName("20260730_090000-20260730_093000", 2708.64, 13)
	assert.Equal(t, "20260730_090000-20260730_093000_laughter_2708-64_13.wav", name)
}

func TestFileNameDistinguishesClassIDAtSameOffset(t *testing.T) {
	a := FileName("stem", 5.00, 13)
	b := FileName("stem", 5.00, 15)
	assert.NotEqual(t, a, b)
	assert.Contains(t, a, "_5-00_13.wav")
	assert.Contains(t, b, "_5-00_15.wav")
}
