// Package audiodecode turns the Ogg/Opus blobs the upstream service
// returns into mono 16kHz PCM float32 samples, the format the
// classifier's acoustic patches are computed over.
package audiodecode

import (
	"bytes"
	"errors"
	"io"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	ownerrors "github.com/stokedbloke/gigglepipe/internal/errors"
)

// ClassifierSampleRate is the sample rate the classifier's acoustic
// front end expects; Opus streams are resampled to this rate by the
// decoder itself (libopus supports arbitrary output rates).
const ClassifierSampleRate = 16000

// maxPCMFrameSamples covers the largest Opus frame (120ms) at 48kHz
// stereo, the widest source stream this decoder is expected to see.
const maxPCMFrameSamples = 48000 / 1000 * 120 * 2

// Decode reads an Ogg container carrying an Opus stream and returns
// mono float32 PCM at ClassifierSampleRate. Returns an error wrapping
// CategoryAudioDecode if the blob has no Opus stream or is truncated.
func Decode(blob []byte) ([]float32, error) {
	r, err := oggreader.NewWithOptions(bytes.NewReader(blob), oggreader.WithDoChecksum(false))
	if err != nil {
		return nil, ownerrors.New(err).Component("audiodecode").
			Category(ownerrors.CategoryAudioDecode).Build()
	}

	var sourceChannels int
	var dec *opus.Decoder
	pcmInt := make([]int16, maxPCMFrameSamples)
	var samples []float32

	for {
		payload, header, err := r.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, ownerrors.New(err).Component("audiodecode").
				Category(ownerrors.CategoryAudioDecode).Build()
		}
		if header == nil || len(payload) < 8 {
			continue
		}

		if ht, ok := header.HeaderType(payload); ok {
			switch ht {
			case oggreader.HeaderOpusID:
				head, err := oggreader.ParseOpusHead(payload)
				if err != nil {
					return nil, ownerrors.New(err).Component("audiodecode").
						Category(ownerrors.CategoryAudioDecode).Build()
				}
				sourceChannels = int(head.ChannelCount)
				if sourceChannels == 0 {
					sourceChannels = 1
				}
				dec, err = opus.NewDecoder(ClassifierSampleRate, sourceChannels)
				if err != nil {
					return nil, ownerrors.New(err).Component("audiodecode").
						Category(ownerrors.CategoryAudioDecode).Build()
				}
				continue
			case oggreader.HeaderOpusTags:
				continue
			}
		}

		if dec == nil {
			// Payload arrived before the Opus identification header; the
			// blob is malformed.
			return nil, ownerrors.Newf("ogg page before opus header").
				Component("audiodecode").Category(ownerrors.CategoryAudioDecode).Build()
		}

		n, err := dec.Decode(payload, pcmInt)
		if err != nil {
			return nil, ownerrors.New(err).Component("audiodecode").
				Category(ownerrors.CategoryAudioDecode).Build()
		}
		samples = append(samples, downmixToMono(pcmInt[:n*sourceChannels], sourceChannels)...)
	}

	if dec == nil {
		return nil, ownerrors.Newf("no opus stream found in blob").
			Component("audiodecode").Category(ownerrors.CategoryAudioDecode).Build()
	}
	return samples, nil
}

// downmixToMono averages interleaved channel samples into a single
// float32 stream normalized to [-1, 1].
func downmixToMono(pcm []int16, channels int) []float32 {
	if channels <= 1 {
		out := make([]float32, len(pcm))
		for i, s := range pcm {
			out[i] = float32(s) / 32768.0
		}
		return out
	}
	frames := len(pcm) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int32
		for c := 0; c < channels; c++ {
			sum += int32(pcm[i*channels+c])
		}
		out[i] = float32(sum) / float32(channels) / 32768.0
	}
	return out
}
