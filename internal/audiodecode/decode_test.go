package audiodecode

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecodeRejectsEmptyBlob(t *testing.T) {
	_, err := Decode(nil)
	assert.Error(t, err)
}

func TestDecodeRejectsGarbageBlob(t *testing.T) {
	_, err := Decode([]byte("not an ogg container"))
	assert.Error(t, err)
}

func TestDownmixToMonoSingleChannel(t *testing.T) {
	pcm := []int16{0, 16384, -16384}
	out := downmixToMono(pcm, 1)
	assert.Len(t, out, 3)
	assert.InDelta(t, 0.5, out[1], 0.001)
}

func TestDownmixToMonoStereoAverages(t *testing.T) {
	pcm := []int16{0, 32767, 16384, -16384}
	out := downmixToMono(pcm, 2)
	assert.Len(t, out, 2)
	assert.InDelta(t, float64(32767)/2/32768.0, float64(out[0]), 0.001)
	assert.InDelta(t, 0, out[1], 0.001)
}
